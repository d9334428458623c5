package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Env struct {
	DevLogging    bool
	NoResultsFile bool
}

type Config struct {
	ConfigPath  string
	ResultsFile string
}

const (
	// EnvDevLogging enabled verbose & console logging
	EnvDevLogging = "DEV_LOGGING"

	// EnvNoResultsFile skips writing the flow result JSON file
	EnvNoResultsFile = "FEERELAY_NO_RESULTS_FILE"
)

type envContextKey struct{}

func ParseEnv() Env {
	return Env{
		DevLogging:    boolEnv(EnvDevLogging),
		NoResultsFile: boolEnv(EnvNoResultsFile),
	}
}

func WithEnv(ctx context.Context, env Env) context.Context {
	return context.WithValue(ctx, envContextKey{}, env)
}

func EnvFromContext(ctx context.Context) Env {
	if env, ok := ctx.Value(envContextKey{}).(Env); ok {
		return env
	}

	return Env{}
}

// Secret returns the trimmed value of the named environment variable.
// The value is never included in the returned error.
func Secret(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("secret variable name is empty")
	}
	v, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("environment variable %s is not set", name)
	}
	return strings.TrimSpace(v), nil
}

func boolEnv(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}
