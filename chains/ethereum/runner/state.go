package runner

import (
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/skip-mev/feerelay/chains/ethereum/metrics"
	ethtypes "github.com/skip-mev/feerelay/chains/ethereum/types"
	relaytypes "github.com/skip-mev/feerelay/chains/types"
)

// Stages name the step a flow was executing when it failed.
const (
	StageMint        = "mint"
	StageSponsorship = "sponsorship"
	StageBuild       = "build"
	StageSign        = "sign"
	StageBroadcast   = "broadcast"
	StageConfirm     = "confirm"
)

// FlowError is returned by Run when the flow ends in the Failed state, or in
// Unconfirmed with reason ConfirmationTimeout.
type FlowError struct {
	Stage  string
	Reason ethtypes.Reason
	Err    error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Reason, e.Stage, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// transitions lists the legal successors of every non-terminal state.
// Signed may fall back to TransactionBuilt when a stale nonce forces a rebuild.
var transitions = map[ethtypes.State][]ethtypes.State{
	ethtypes.StateInit:                 {ethtypes.StateTokenMinted, ethtypes.StateSponsorshipRequested},
	ethtypes.StateTokenMinted:          {ethtypes.StateSponsorshipRequested},
	ethtypes.StateSponsorshipRequested: {ethtypes.StateTransactionBuilt},
	ethtypes.StateTransactionBuilt:     {ethtypes.StateSigned},
	ethtypes.StateSigned:               {ethtypes.StateBroadcast, ethtypes.StateTransactionBuilt},
	ethtypes.StateBroadcast:            {ethtypes.StateConfirmed, ethtypes.StateUnconfirmed},
}

func terminal(s ethtypes.State) bool {
	return s == ethtypes.StateConfirmed || s == ethtypes.StateUnconfirmed || s == ethtypes.StateFailed
}

func canTransition(from, to ethtypes.State) bool {
	if to == ethtypes.StateFailed {
		return !terminal(from)
	}
	return slices.Contains(transitions[from], to)
}

type flow struct {
	logger  *zap.Logger
	metrics *metrics.Metrics

	state   ethtypes.State
	history []relaytypes.Transition
}

func newFlow(logger *zap.Logger, m *metrics.Metrics) *flow {
	f := &flow{logger: logger, metrics: m, state: ethtypes.StateInit}
	f.history = append(f.history, relaytypes.Transition{State: ethtypes.StateInit, At: time.Now()})
	return f
}

// advance moves the flow to the next state. An illegal transition is a bug
// in the runner and panics.
func (f *flow) advance(to ethtypes.State, fields ...zap.Field) {
	if !canTransition(f.state, to) {
		panic(fmt.Sprintf("illegal flow transition %s -> %s", f.state, to))
	}
	f.logger.Info("flow transition",
		append([]zap.Field{zap.String("from", string(f.state)), zap.String("to", string(to))}, fields...)...)
	f.state = to
	f.history = append(f.history, relaytypes.Transition{State: to, At: time.Now()})
	f.metrics.Transitions.WithLabelValues(string(to)).Inc()
}

// fail moves the flow to Failed and returns the matching FlowError.
func (f *flow) fail(stage string, reason ethtypes.Reason, err error) *FlowError {
	f.logger.Error("flow failed",
		zap.String("stage", stage),
		zap.String("state", string(f.state)),
		zap.String("reason", string(reason)),
		zap.Error(err))
	f.advance(ethtypes.StateFailed)
	f.metrics.FlowFailure.WithLabelValues(string(reason)).Inc()
	return &FlowError{Stage: stage, Reason: reason, Err: err}
}

// unconfirmed ends a broadcast flow whose receipt never showed up. The
// outcome is unknown rather than failed.
func (f *flow) unconfirmed(err error) *FlowError {
	f.logger.Warn("transaction not confirmed, outcome unknown",
		zap.String("stage", StageConfirm),
		zap.Error(err))
	f.advance(ethtypes.StateUnconfirmed)
	f.metrics.FlowUnconfirmed.Inc()
	return &FlowError{Stage: StageConfirm, Reason: ethtypes.ReasonConfirmationTimeout, Err: err}
}
