package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitNoopWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), "feerelay-test", "", true)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	_, span := Tracer("test").Start(context.Background(), "noop")
	require.False(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, shutdown(context.Background()))
}
