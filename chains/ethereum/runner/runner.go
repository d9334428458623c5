package runner

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/skip-mev/feerelay/chains/ethereum/contracts/token"
	"github.com/skip-mev/feerelay/chains/ethereum/metrics"
	"github.com/skip-mev/feerelay/chains/ethereum/relay"
	"github.com/skip-mev/feerelay/chains/ethereum/txfactory"
	ethtypes "github.com/skip-mev/feerelay/chains/ethereum/types"
	"github.com/skip-mev/feerelay/chains/ethereum/wallet"
	"github.com/skip-mev/feerelay/chains/ethereum/zksync"
	logging "github.com/skip-mev/feerelay/chains/log"
	relaytypes "github.com/skip-mev/feerelay/chains/types"
	"github.com/skip-mev/feerelay/internal/tracing"
)

// mintPriorityFee is the tip used for the unsponsored mint, capped at the gas price.
var mintPriorityFee = big.NewInt(1_000_000)

// Relayer proposes fee sponsorship for a call.
type Relayer interface {
	RequestSponsorship(ctx context.Context, req relay.SponsorshipRequest) (*relay.SponsorshipResponse, error)
}

type Runner struct {
	logger *zap.Logger
	flowID string

	spec    relaytypes.RelaySpec
	chainID *big.Int

	chain   *wallet.ChainClient
	wallet  *wallet.InteractingWallet
	relayer Relayer
	builder *txfactory.Builder
	token   *token.Token

	nonces  *NonceLocker
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Runner)

// WithNonceLocker shares nonce discipline with other runners using the same account.
func WithNonceLocker(l *NonceLocker) Option {
	return func(r *Runner) { r.nonces = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

func WithFlowID(id string) Option {
	return func(r *Runner) { r.flowID = id }
}

// NewRunner wires one sponsored transaction flow. The signer must be bound to
// the chain id the node reports.
func NewRunner(ctx context.Context, logger *zap.Logger, spec relaytypes.RelaySpec, signer *wallet.Signer,
	chain *wallet.ChainClient, relayer Relayer, opts ...Option,
) (*Runner, error) {
	spec.ApplyDefaults()
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid spec: %w", err)
	}

	chainID, err := chain.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	if signer.ChainID().Cmp(chainID) != 0 {
		return nil, fmt.Errorf("signer is bound to chain %s, node reports %s", signer.ChainID(), chainID)
	}

	builder, err := txfactory.NewBuilder(spec.Limits)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		flowID:  uuid.NewString(),
		spec:    spec,
		chainID: chainID,
		chain:   chain,
		wallet:  wallet.NewInteractingWallet(signer, chain.Client()),
		relayer: relayer,
		builder: builder,
		token:   token.New(common.HexToAddress(spec.TokenAddress), chain.Client()),
		tracer:  tracing.Tracer("feerelay/runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.nonces == nil {
		r.nonces = NewNonceLocker()
	}
	if r.metrics == nil {
		r.metrics = metrics.NewMetrics(nil)
	}
	r.logger = logger.With(
		zap.String("module", "runner"),
		zap.String("flow_id", r.flowID),
		zap.String("account", signer.FormattedAddress()),
	)

	return r, nil
}

func (r *Runner) FlowID() string {
	return r.flowID
}

func (r *Runner) PrintResults(result relaytypes.FlowResult) {
	metrics.PrintResults(result)
}

func (r *Runner) account() common.Address {
	return r.wallet.Address()
}

// Run executes the flow once: optional mint, sponsorship request, build,
// sign, broadcast and confirmation. The returned result is always filled in,
// also when err is non-nil. A failed flow returns a *FlowError.
func (r *Runner) Run(ctx context.Context) (relaytypes.FlowResult, error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "sponsored_flow", trace.WithAttributes(
		attribute.String("flow_id", r.flowID),
		attribute.String("account", r.account().Hex()),
		attribute.String("token", r.token.Address().Hex()),
	))
	defer span.End()

	f := newFlow(r.logger, r.metrics)
	result := relaytypes.FlowResult{
		FlowID:    r.flowID,
		Name:      r.spec.Name,
		ChainID:   r.chainID.String(),
		Account:   r.account().Hex(),
		StartTime: start,
	}
	r.logger.Info("starting sponsored transaction flow",
		zap.Bool("mint", r.spec.Mint.IsEnabled()),
		zap.String("token", r.token.Address().Hex()))

	var before, after *big.Int
	err := r.run(ctx, f, &result, &before, &after)

	result.State = f.state
	result.Transitions = f.history
	if err != nil {
		result.Error = err.Error()
		var flowErr *FlowError
		if errors.As(err, &flowErr) {
			result.Reason = flowErr.Reason
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(result.Reason))
	}
	span.SetAttributes(
		attribute.String("state", string(result.State)),
		attribute.String("outcome", string(result.Outcome)),
	)

	var paymaster common.Address
	if result.Sponsorship != nil {
		paymaster = common.HexToAddress(result.Sponsorship.Paymaster)
	}
	report, balErr := metrics.CollectBalances(ctx, r.logger, r.chain, r.token, r.account(), paymaster)
	if balErr != nil {
		r.logger.Warn("balance report is incomplete", zap.Error(balErr))
	}
	report.TokenBeforeMint = before
	report.TokenAfterMint = after
	result.Balances = report

	result.EndTime = time.Now()
	result.Runtime = result.EndTime.Sub(start)
	r.logger.Info("flow finished",
		zap.String("state", string(result.State)),
		zap.String("outcome", string(result.Outcome)),
		zap.String("reason", string(result.Reason)),
		zap.Duration("runtime", result.Runtime))

	return result, err
}

func (r *Runner) run(ctx context.Context, f *flow, result *relaytypes.FlowResult, before, after **big.Int) error {
	if r.spec.Mint.IsEnabled() {
		var mintTx *relaytypes.TxRecord
		err := r.traced(ctx, StageMint, func(ctx context.Context) error {
			var err error
			mintTx, *before, *after, err = r.mint(ctx)
			return err
		})
		result.MintTx = mintTx
		if err != nil {
			return f.fail(StageMint, ethtypes.ReasonMintFailed, err)
		}
		f.advance(ethtypes.StateTokenMinted, zap.String("tx_hash", mintTx.Hash))
	}

	callData, err := token.PackMint(r.account(), big.NewInt(r.spec.SponsoredMintAmount))
	if err != nil {
		return f.fail(StageSponsorship, ethtypes.ReasonRelayError, err)
	}

	var resp *relay.SponsorshipResponse
	err = r.traced(ctx, StageSponsorship, func(ctx context.Context) error {
		var err error
		resp, err = r.requestSponsorship(ctx, callData)
		return err
	})
	if err != nil {
		return f.fail(StageSponsorship, ethtypes.ReasonRelayError, err)
	}
	result.Sponsorship = sponsorshipRecord(resp)
	f.advance(ethtypes.StateSponsorshipRequested,
		zap.String("paymaster", resp.PaymasterParams.Paymaster.Hex()),
		zap.String("gas_limit", resp.GasLimit.String()),
		zap.String("max_fee_per_gas", resp.MaxFeePerGas.String()))

	expect := txfactory.Expectation{
		ChainID:  r.chainID,
		From:     r.account(),
		To:       r.token.Address(),
		Data:     callData,
		FeeToken: r.token.Address(),
	}
	signed, hash, broadcastAt, err := r.submitSponsored(ctx, f, resp, expect)
	if err != nil {
		return err
	}
	result.SponsoredTx = metrics.RecordTx(hash, signed.Tx.Nonce, nil, 0)

	var receipt *gethtypes.Receipt
	err = r.traced(ctx, StageConfirm, func(ctx context.Context) error {
		var err error
		receipt, err = r.chain.WaitForReceipt(ctx, hash, r.spec.TxTimeout, r.spec.PollInterval)
		return err
	})
	switch {
	case errors.Is(err, wallet.ErrTimeout), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		result.Outcome = ethtypes.OutcomeUnknown
		return f.unconfirmed(err)
	case err != nil:
		return f.fail(StageConfirm, ethtypes.ReasonBroadcastError, err)
	}

	inclusion := time.Since(broadcastAt)
	r.metrics.TxInclusion.Observe(float64(inclusion.Milliseconds()))
	result.SponsoredTx = metrics.RecordTx(hash, signed.Tx.Nonce, receipt, inclusion)

	result.Outcome = ethtypes.OutcomeSuccess
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		result.Outcome = ethtypes.OutcomeReverted
	}
	f.advance(ethtypes.StateConfirmed,
		zap.String("tx_hash", hash.Hex()),
		zap.String("outcome", string(result.Outcome)),
		zap.Uint64("block", result.SponsoredTx.BlockNumber))
	r.metrics.FlowSuccess.WithLabelValues(string(result.Outcome)).Inc()
	return nil
}

// mint sends the unsponsored mint that funds the account with fee tokens and
// waits for it. Token balances around the mint are best effort.
func (r *Runner) mint(ctx context.Context) (*relaytypes.TxRecord, *big.Int, *big.Int, error) {
	before, err := r.token.BalanceOf(ctx, r.account())
	if err != nil {
		r.logger.Warn("failed to read token balance before mint", zap.Error(err))
		before = nil
	}

	data, err := token.PackMint(r.account(), big.NewInt(r.spec.Mint.Amount))
	if err != nil {
		return nil, before, nil, err
	}
	gasPrice, err := r.chain.GasPrice(ctx)
	if err != nil {
		return nil, before, nil, err
	}
	tip := new(big.Int).Set(mintPriorityFee)
	if tip.Cmp(gasPrice) > 0 {
		tip.Set(gasPrice)
	}

	to := r.token.Address()
	hash, nonce, err := func() (common.Hash, uint64, error) {
		unlock := r.nonces.Lock(r.account())
		defer unlock()

		nonce, err := r.chain.Nonce(ctx, r.account(), nil)
		if err != nil {
			return common.Hash{}, 0, err
		}
		tx, err := r.wallet.CreateSignedDynamicFeeTx(ctx, &to, big.NewInt(0), 0, gasPrice, tip, data, nonce)
		if err != nil {
			return common.Hash{}, nonce, err
		}
		raw, err := tx.MarshalBinary()
		if err != nil {
			return common.Hash{}, nonce, err
		}
		hash, err := r.chain.SendRawTransaction(ctx, raw, tx.Hash())
		return hash, nonce, err
	}()
	if err != nil {
		return nil, before, nil, fmt.Errorf("failed to send mint transaction: %w", err)
	}
	r.logger.Info("mint transaction sent", zap.String("tx_hash", hash.Hex()), zap.Uint64("nonce", nonce))

	sentAt := time.Now()
	receipt, err := r.chain.WaitForReceipt(ctx, hash, r.spec.TxTimeout, r.spec.PollInterval)
	if err != nil {
		return metrics.RecordTx(hash, nonce, nil, 0), before, nil, fmt.Errorf("waiting for mint receipt: %w", err)
	}
	rec := metrics.RecordTx(hash, nonce, receipt, time.Since(sentAt))
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return rec, before, nil, fmt.Errorf("mint transaction %s reverted", hash.Hex())
	}

	after, err := r.token.BalanceOf(ctx, r.account())
	if err != nil {
		r.logger.Warn("failed to read token balance after mint", zap.Error(err))
		after = nil
	}
	return rec, before, after, nil
}

func (r *Runner) requestSponsorship(ctx context.Context, callData []byte) (*relay.SponsorshipResponse, error) {
	start := time.Now()
	resp, err := r.relayer.RequestSponsorship(ctx, relay.SponsorshipRequest{
		FeeToken:  r.token.Address(),
		IsTestnet: r.spec.Relay.IsTestnet,
		From:      r.account(),
		To:        r.token.Address(),
		Data:      callData,
	})
	label := "ok"
	if err != nil {
		label = "error"
	}
	r.metrics.RelayLatency.WithLabelValues(label).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		return nil, err
	}

	extra := make(map[string]string, len(resp.Extra))
	for k, v := range resp.Extra {
		extra[k] = string(v)
	}
	r.logger.Info("relayer quote",
		zap.String("paymaster", resp.PaymasterParams.Paymaster.Hex()),
		zap.Stringer("gas_limit", resp.GasLimit),
		zap.Stringer("max_fee_per_gas", resp.MaxFeePerGas),
		logging.FieldOnLevel(ctx, zap.DebugLevel, zap.Any("extra", extra)))
	return resp, nil
}

// submitSponsored builds, signs and broadcasts the sponsored transaction while
// holding the account's nonce lock. A broadcast rejected for a stale nonce is
// rebuilt once with a fresh nonce.
func (r *Runner) submitSponsored(ctx context.Context, f *flow, resp *relay.SponsorshipResponse, expect txfactory.Expectation,
) (*zksync.SignedTransaction, common.Hash, time.Time, error) {
	unlock := r.nonces.Lock(expect.From)
	defer unlock()

	for attempt := 0; ; attempt++ {
		nonce, err := r.chain.Nonce(ctx, expect.From, nil)
		if err != nil {
			return nil, common.Hash{}, time.Time{}, f.fail(StageBuild, ethtypes.ReasonBroadcastError, err)
		}

		var tx *zksync.Transaction
		err = r.traced(ctx, StageBuild, func(context.Context) error {
			var err error
			tx, err = r.builder.Build(resp, expect, nonce)
			return err
		})
		if err != nil {
			return nil, common.Hash{}, time.Time{}, f.fail(StageBuild, ethtypes.ReasonValidationError, err)
		}
		f.advance(ethtypes.StateTransactionBuilt, zap.Uint64("nonce", nonce))

		var (
			signed *zksync.SignedTransaction
			raw    []byte
		)
		err = r.traced(ctx, StageSign, func(context.Context) error {
			var err error
			if signed, err = zksync.Sign(tx, r.wallet.Signer()); err != nil {
				return err
			}
			raw, err = signed.RawBytes()
			return err
		})
		if err != nil {
			return nil, common.Hash{}, time.Time{}, f.fail(StageSign, ethtypes.ReasonSigningError, err)
		}
		f.advance(ethtypes.StateSigned, zap.String("tx_hash", signed.Hash().Hex()))

		var hash common.Hash
		err = r.traced(ctx, StageBroadcast, func(ctx context.Context) error {
			var err error
			hash, err = r.chain.SendRawTransaction(ctx, raw, signed.Hash())
			return err
		})
		if err != nil {
			r.metrics.BroadcastFailure.Inc()
			if attempt == 0 && wallet.IsNonceError(err) {
				r.metrics.NonceRefresh.Inc()
				r.logger.Warn("node rejected nonce, rebuilding with a fresh one",
					zap.Uint64("nonce", nonce), zap.Error(err))
				continue
			}
			return nil, common.Hash{}, time.Time{}, f.fail(StageBroadcast, ethtypes.ReasonBroadcastError, err)
		}
		r.metrics.BroadcastSuccess.Inc()
		broadcastAt := time.Now()
		f.advance(ethtypes.StateBroadcast, zap.String("tx_hash", hash.Hex()), zap.Uint64("nonce", nonce))
		return signed, hash, broadcastAt, nil
	}
}

// traced runs fn inside a span named after the stage.
func (r *Runner) traced(ctx context.Context, stage string, fn func(context.Context) error) error {
	ctx, span := r.tracer.Start(ctx, stage, trace.WithAttributes(attribute.String("flow_id", r.flowID)))
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func sponsorshipRecord(resp *relay.SponsorshipResponse) *relaytypes.Sponsorship {
	rec := &relaytypes.Sponsorship{
		Paymaster:    resp.PaymasterParams.Paymaster.Hex(),
		GasLimit:     resp.GasLimit,
		MaxFeePerGas: resp.MaxFeePerGas,
	}
	if input, err := zksync.DecodePaymasterInput(resp.PaymasterParams.PaymasterInput); err == nil {
		rec.Flow = string(input.Flow)
	}
	return rec
}
