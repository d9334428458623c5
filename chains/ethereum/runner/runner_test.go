package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/skip-mev/feerelay/chains/ethereum/contracts/token"
	"github.com/skip-mev/feerelay/chains/ethereum/metrics"
	"github.com/skip-mev/feerelay/chains/ethereum/relay"
	"github.com/skip-mev/feerelay/chains/ethereum/txfactory"
	ethtypes "github.com/skip-mev/feerelay/chains/ethereum/types"
	"github.com/skip-mev/feerelay/chains/ethereum/wallet"
	"github.com/skip-mev/feerelay/chains/ethereum/zksync"
	relaytypes "github.com/skip-mev/feerelay/chains/types"
	"github.com/skip-mev/feerelay/internal/fakenode"
	"github.com/skip-mev/feerelay/internal/retry"
)

const (
	testChainID = 300
	testKey     = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
)

var (
	account   = common.HexToAddress("0x71562b71999873DB5b286dF957af199Ec94617F7")
	tokenAddr = common.HexToAddress("0x927488F48ffbc32112F1fF721759649A89721F8F")
	paymaster = common.HexToAddress("0x17c4D2F1a1e2B3bF2cA5a1C8E0dD74bC1a59d5B8")
)

type relayCall struct {
	FeeTokenAddress string `json:"feeTokenAddress"`
	IsTestnet       bool   `json:"isTestnet"`
	TxData          struct {
		From string `json:"from"`
		To   string `json:"to"`
		Data string `json:"data"`
	} `json:"txData"`
}

func sponsorJSON(t *testing.T, call relayCall, gasLimit int64) string {
	t.Helper()
	input, err := zksync.ApprovalBasedPaymasterInput(tokenAddr, big.NewInt(1_000), nil)
	require.NoError(t, err)
	return fmt.Sprintf(`{
  "txData": {
    "chainId": %d,
    "from": %q,
    "to": %q,
    "data": %q,
    "value": "0",
    "gasLimit": %d,
    "maxFeePerGas": "2000000000",
    "maxPriorityFeePerGas": "500000000",
    "customData": {
      "paymasterParams": {"paymaster": %q, "paymasterInput": %q},
      "gasPerPubdata": 50000
    }
  },
  "feeTokenAmount": "12",
  "expirationTime": "1729000000"
}`, testChainID, call.TxData.From, call.TxData.To, call.TxData.Data, gasLimit, paymaster.Hex(), hexutil.Encode(input))
}

// sponsoring answers every relay call with a proposal echoing the request.
func sponsoring(t *testing.T, gasLimit int64) func(http.ResponseWriter, relayCall) {
	return func(w http.ResponseWriter, call relayCall) {
		_, _ = w.Write([]byte(sponsorJSON(t, call, gasLimit)))
	}
}

type harness struct {
	node       *fakenode.Node
	metrics    *metrics.Metrics
	relayCalls atomic.Int32
	lastCall   atomic.Pointer[relayCall]
	spec       relaytypes.RelaySpec

	chain  *wallet.ChainClient
	signer *wallet.Signer
	relay  *relay.Client
}

func newHarness(t *testing.T, mint bool, handler func(http.ResponseWriter, relayCall)) *harness {
	t.Helper()
	h := &harness{
		node:    fakenode.New(testChainID),
		metrics: metrics.NewMetrics(prometheus.NewRegistry()),
	}
	t.Cleanup(h.node.Close)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.relayCalls.Add(1)
		var call relayCall
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		h.lastCall.Store(&call)
		handler(w, call)
	}))
	t.Cleanup(srv.Close)

	logger := zaptest.NewLogger(t)
	client, rpcClient := h.node.Dial()
	t.Cleanup(client.Close)
	h.chain = wallet.NewChainClient(logger, client, rpcClient, wallet.WithReadPolicy(retry.NoRetry))

	signer, err := wallet.NewSignerFromHex(testKey, big.NewInt(testChainID))
	require.NoError(t, err)
	h.signer = signer

	h.relay, err = relay.NewClient(logger, relay.Config{BaseURL: srv.URL})
	require.NoError(t, err)

	h.spec = relaytypes.RelaySpec{
		Name:         "test-flow",
		RPCURL:       "inproc://fakenode",
		TokenAddress: tokenAddr.Hex(),
		TxTimeout:    2 * time.Second,
		PollInterval: 20 * time.Millisecond,
		Mint:         relaytypes.MintConfig{Enabled: &mint},
		Relay:        relaytypes.RelayConfig{BaseURL: srv.URL, IsTestnet: true},
	}
	return h
}

func (h *harness) runner(t *testing.T) *Runner {
	t.Helper()
	r, err := NewRunner(context.Background(), zaptest.NewLogger(t), h.spec, h.signer, h.chain, h.relay,
		WithMetrics(h.metrics), WithFlowID("flow-under-test"))
	require.NoError(t, err)
	return r
}

func states(result relaytypes.FlowResult) []ethtypes.State {
	out := make([]ethtypes.State, 0, len(result.Transitions))
	for _, tr := range result.Transitions {
		out = append(out, tr.State)
	}
	return out
}

func TestRunSuccess(t *testing.T) {
	h := newHarness(t, true, sponsoring(t, 100_000))

	result, err := h.runner(t).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, "flow-under-test", result.FlowID)
	require.Equal(t, ethtypes.StateConfirmed, result.State)
	require.Equal(t, ethtypes.OutcomeSuccess, result.Outcome)
	require.Equal(t, ethtypes.ReasonNone, result.Reason)
	require.Equal(t, relaytypes.ExitSuccess, result.ExitCode())
	require.Equal(t, []ethtypes.State{
		ethtypes.StateInit,
		ethtypes.StateTokenMinted,
		ethtypes.StateSponsorshipRequested,
		ethtypes.StateTransactionBuilt,
		ethtypes.StateSigned,
		ethtypes.StateBroadcast,
		ethtypes.StateConfirmed,
	}, states(result))

	sent := h.node.Sent()
	require.Len(t, sent, 2)

	mint := sent[0]
	require.Equal(t, byte(gethtypes.DynamicFeeTxType), mint.Type)
	require.Equal(t, tokenAddr, mint.To)
	to, amount, err := token.UnpackMint(mint.Data)
	require.NoError(t, err)
	require.Equal(t, account, to)
	require.Equal(t, int64(relaytypes.DefaultMintAmount), amount.Int64())

	sponsored := sent[1]
	require.Equal(t, byte(zksync.TxType), sponsored.Type)
	require.Equal(t, account, sponsored.From)
	require.Equal(t, uint64(1), sponsored.Nonce)
	tx := sponsored.ZkSync.Tx
	require.Equal(t, uint64(100_000), tx.GasLimit.Uint64())
	require.Equal(t, uint64(2_000_000_000), tx.MaxFeePerGas.Uint64())
	require.True(t, tx.MaxPriorityFeePerGas.IsZero())
	require.Equal(t, paymaster, tx.PaymasterParams.Paymaster)

	call := h.lastCall.Load()
	require.NotNil(t, call)
	require.True(t, call.IsTestnet)
	require.Equal(t, tokenAddr.Hex(), call.FeeTokenAddress)
	wantData, err := token.PackMint(account, big.NewInt(relaytypes.DefaultSponsoredMintAmount))
	require.NoError(t, err)
	require.Equal(t, hexutil.Encode(wantData), call.TxData.Data)
	require.Equal(t, hexutil.Encode(wantData), hexutil.Encode(tx.Data))

	require.NotNil(t, result.MintTx)
	require.NotNil(t, result.SponsoredTx)
	require.Equal(t, sponsored.Hash.Hex(), result.SponsoredTx.Hash)
	require.NotNil(t, result.SponsoredTx.Status)
	require.Equal(t, gethtypes.ReceiptStatusSuccessful, *result.SponsoredTx.Status)
	require.Equal(t, "approvalBased", result.Sponsorship.Flow)

	require.NotNil(t, result.Balances)
	require.Equal(t, paymaster.Hex(), result.Balances.Paymaster)
	require.NotNil(t, result.Balances.AccountNative)
	require.NotNil(t, result.Balances.TokenBeforeMint)

	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.FlowSuccess.WithLabelValues(string(ethtypes.OutcomeSuccess))))
	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.BroadcastSuccess))
	require.Equal(t, 0.0, testutil.ToFloat64(h.metrics.NonceRefresh))
}

func TestRunGasCeilingRejectedWithoutBroadcast(t *testing.T) {
	h := newHarness(t, true, sponsoring(t, 10_000_000))

	result, err := h.runner(t).Run(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, txfactory.ErrValidation)

	var flowErr *FlowError
	require.True(t, errors.As(err, &flowErr))
	require.Equal(t, StageBuild, flowErr.Stage)
	require.Equal(t, ethtypes.ReasonValidationError, flowErr.Reason)

	require.Equal(t, ethtypes.StateFailed, result.State)
	require.Equal(t, ethtypes.ReasonValidationError, result.Reason)
	require.Equal(t, relaytypes.ExitFailed, result.ExitCode())

	// only the mint reached the node
	require.Equal(t, 1, h.node.SendAttempts())
	require.Len(t, h.node.Sent(), 1)
	require.Nil(t, result.SponsoredTx)
	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.FlowFailure.WithLabelValues(string(ethtypes.ReasonValidationError))))
}

func TestRunRebuildsOnStaleNonce(t *testing.T) {
	h := newHarness(t, false, sponsoring(t, 100_000))
	h.node.SetNonce(account, 4)
	h.node.RejectNextSend(errors.New("nonce too low: next nonce 5, tx nonce 4"))

	result, err := h.runner(t).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ethtypes.OutcomeSuccess, result.Outcome)

	require.Equal(t, 2, h.node.SendAttempts())
	sent := h.node.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, uint64(4), sent[0].Nonce)

	require.Equal(t, []ethtypes.State{
		ethtypes.StateInit,
		ethtypes.StateSponsorshipRequested,
		ethtypes.StateTransactionBuilt,
		ethtypes.StateSigned,
		ethtypes.StateTransactionBuilt,
		ethtypes.StateSigned,
		ethtypes.StateBroadcast,
		ethtypes.StateConfirmed,
	}, states(result))
	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.NonceRefresh))
	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.BroadcastFailure))
}

func TestRunGivesUpAfterOneNonceRefresh(t *testing.T) {
	h := newHarness(t, false, sponsoring(t, 100_000))
	h.node.RejectNextSend(errors.New("nonce too low"), errors.New("nonce too low"))

	result, err := h.runner(t).Run(context.Background())
	require.Error(t, err)
	require.Equal(t, ethtypes.ReasonBroadcastError, result.Reason)
	require.Equal(t, 2, h.node.SendAttempts())
	require.Empty(t, h.node.Sent())
}

func TestRunReverted(t *testing.T) {
	h := newHarness(t, false, sponsoring(t, 100_000))
	h.node.RevertWhen(func(s fakenode.Sent) bool { return s.Type == zksync.TxType })

	result, err := h.runner(t).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ethtypes.StateConfirmed, result.State)
	require.Equal(t, ethtypes.OutcomeReverted, result.Outcome)
	require.Equal(t, relaytypes.ExitReverted, result.ExitCode())
	require.Equal(t, gethtypes.ReceiptStatusFailed, *result.SponsoredTx.Status)
}

func TestRunConfirmationTimeoutIsUnknown(t *testing.T) {
	h := newHarness(t, false, sponsoring(t, 100_000))
	h.node.WithholdReceipts()
	h.spec.TxTimeout = 200 * time.Millisecond

	start := time.Now()
	result, err := h.runner(t).Run(context.Background())
	require.ErrorIs(t, err, wallet.ErrTimeout)
	require.Less(t, time.Since(start), 2*time.Second)

	require.Equal(t, ethtypes.StateUnconfirmed, result.State)
	require.Equal(t, ethtypes.StateBroadcast, states(result)[len(states(result))-2])
	require.NotContains(t, states(result), ethtypes.StateFailed)
	require.Equal(t, ethtypes.ReasonConfirmationTimeout, result.Reason)
	require.Equal(t, ethtypes.OutcomeUnknown, result.Outcome)
	require.Equal(t, relaytypes.ExitUnknown, result.ExitCode())
	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.FlowUnconfirmed))
	require.Zero(t, testutil.ToFloat64(h.metrics.FlowFailure.WithLabelValues(string(ethtypes.ReasonConfirmationTimeout))))
	require.NotNil(t, result.SponsoredTx)
	require.Nil(t, result.SponsoredTx.Status)
	require.Len(t, h.node.Sent(), 1)
}

func TestRunRelayErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler func(http.ResponseWriter, relayCall)
		want    error
	}{
		{
			name: "rejected",
			handler: func(w http.ResponseWriter, _ relayCall) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"token not supported"}`))
			},
			want: relay.ErrRelayRejected,
		},
		{
			name: "malformed",
			handler: func(w http.ResponseWriter, _ relayCall) {
				_, _ = w.Write([]byte(`{"txData":{"chainId":300}}`))
			},
			want: relay.ErrMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, false, tt.handler)

			result, err := h.runner(t).Run(context.Background())
			require.ErrorIs(t, err, tt.want)
			require.Equal(t, ethtypes.StateFailed, result.State)
			require.Equal(t, ethtypes.ReasonRelayError, result.Reason)
			require.Equal(t, relaytypes.ExitFailed, result.ExitCode())
			require.Equal(t, 0, h.node.SendAttempts())
			require.Nil(t, result.Sponsorship)
			require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.FlowFailure.WithLabelValues(string(ethtypes.ReasonRelayError))))
		})
	}
}

func TestRunMintFailed(t *testing.T) {
	h := newHarness(t, true, sponsoring(t, 100_000))
	h.node.RevertWhen(func(s fakenode.Sent) bool { return s.Type == gethtypes.DynamicFeeTxType })

	result, err := h.runner(t).Run(context.Background())
	require.Error(t, err)
	require.Equal(t, ethtypes.ReasonMintFailed, result.Reason)
	require.Equal(t, []ethtypes.State{ethtypes.StateInit, ethtypes.StateFailed}, states(result))
	require.Equal(t, int32(0), h.relayCalls.Load())
	require.NotNil(t, result.MintTx)
	require.Equal(t, gethtypes.ReceiptStatusFailed, *result.MintTx.Status)
}

func TestRunCanceledAfterBroadcast(t *testing.T) {
	h := newHarness(t, false, sponsoring(t, 100_000))
	h.node.WithholdReceipts()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(150*time.Millisecond, cancel)

	result, err := h.runner(t).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, ethtypes.StateUnconfirmed, result.State)
	require.Equal(t, ethtypes.OutcomeUnknown, result.Outcome)
	require.Equal(t, relaytypes.ExitUnknown, result.ExitCode())
}

func TestNewRunnerRejectsChainMismatch(t *testing.T) {
	h := newHarness(t, false, sponsoring(t, 100_000))
	signer, err := wallet.NewSignerFromHex(testKey, big.NewInt(324))
	require.NoError(t, err)

	_, err = NewRunner(context.Background(), zaptest.NewLogger(t), h.spec, signer, h.chain, h.relay)
	require.Error(t, err)
}

func TestRunnersShareAccountNonces(t *testing.T) {
	h := newHarness(t, false, sponsoring(t, 100_000))
	locker := NewNonceLocker()

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		r, err := NewRunner(context.Background(), zaptest.NewLogger(t), h.spec, h.signer, h.chain, h.relay,
			WithNonceLocker(locker))
		require.NoError(t, err)
		go func() {
			_, err := r.Run(context.Background())
			errs <- err
		}()
	}
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	sent := h.node.Sent()
	require.Len(t, sent, 2)
	require.ElementsMatch(t, []uint64{0, 1}, []uint64{sent[0].Nonce, sent[1].Nonce})
}
