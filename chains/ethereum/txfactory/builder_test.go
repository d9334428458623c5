package txfactory

import (
	"bytes"
	"math/big"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/skip-mev/feerelay/chains/ethereum/relay"
	ethtypes "github.com/skip-mev/feerelay/chains/ethereum/types"
	"github.com/skip-mev/feerelay/chains/ethereum/zksync"
)

var (
	account   = common.HexToAddress("0x71562b71999873DB5b286dF957af199Ec94617F7")
	feeToken  = common.HexToAddress("0x927488F48ffbc32112F1fF721759649A89721F8F")
	paymaster = common.HexToAddress("0x17c4D2F1a1e2B3bF2cA5a1C8E0dD74bC1a59d5B8")
	calldata  = common.FromHex("0x40c10f1900000000000000000000000071562b71999873db5b286df957af199ec94617f70000000000000000000000000000000000000000000000000000000000000007")
)

func expectation() Expectation {
	return Expectation{
		ChainID:  big.NewInt(300),
		From:     account,
		To:       feeToken,
		Data:     calldata,
		FeeToken: feeToken,
	}
}

func approvalInput(t *testing.T, token common.Address, allowance int64) []byte {
	t.Helper()
	input, err := zksync.ApprovalBasedPaymasterInput(token, big.NewInt(allowance), nil)
	require.NoError(t, err)
	return input
}

func response(t *testing.T) *relay.SponsorshipResponse {
	t.Helper()
	return &relay.SponsorshipResponse{
		ChainID:      big.NewInt(300),
		From:         account,
		To:           feeToken,
		Data:         bytes.Clone(calldata),
		GasLimit:     big.NewInt(100_000),
		MaxFeePerGas: big.NewInt(2_000_000_000),
		PaymasterParams: zksync.PaymasterParams{
			Paymaster:      paymaster,
			PaymasterInput: approvalInput(t, feeToken, 1_000),
		},
	}
}

func newBuilder(t *testing.T, limits ethtypes.Limits) *Builder {
	t.Helper()
	b, err := NewBuilder(limits)
	require.NoError(t, err)
	return b
}

func TestBuild(t *testing.T) {
	b := newBuilder(t, ethtypes.Limits{})
	resp := response(t)

	tx, err := b.Build(resp, expectation(), 11)
	require.NoError(t, err)
	require.Equal(t, uint64(11), tx.Nonce)
	require.Equal(t, int64(300), tx.ChainID.Int64())
	require.Equal(t, account, tx.From)
	require.Equal(t, feeToken, tx.To)
	require.Equal(t, calldata, tx.Data)
	require.Equal(t, uint64(100_000), tx.GasLimit.Uint64())
	require.Equal(t, uint64(2_000_000_000), tx.MaxFeePerGas.Uint64())
	require.True(t, tx.MaxPriorityFeePerGas.IsZero())
	require.Equal(t, uint64(ethtypes.DefaultGasPerPubdata), tx.GasPerPubdata.Uint64())
	require.Equal(t, paymaster, tx.PaymasterParams.Paymaster)
	require.Equal(t, resp.PaymasterParams.PaymasterInput, tx.PaymasterParams.PaymasterInput)

	// the transaction does not alias the response
	resp.Data[0] = 0xff
	require.Equal(t, byte(0x40), tx.Data[0])
}

func TestBuildForcesPriorityFee(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for _, policy := range []int64{0, 1_000_000} {
		b := newBuilder(t, ethtypes.Limits{PriorityFeePerGas: big.NewInt(policy)})
		for i := 0; i < 200; i++ {
			resp := response(t)
			resp.GasLimit = big.NewInt(1 + r.Int63n(ethtypes.DefaultMaxGasLimit))
			resp.MaxFeePerGas = big.NewInt(policy + 1 + r.Int63n(ethtypes.DefaultMaxFeePerGas.Int64()-policy))
			resp.Extra = nil

			tx, err := b.Build(resp, expectation(), uint64(i))
			require.NoError(t, err)
			require.Equal(t, uint64(policy), tx.MaxPriorityFeePerGas.Uint64())
		}
	}
}

func TestBuildValidation(t *testing.T) {
	tests := []struct {
		name   string
		limits ethtypes.Limits
		mutate func(r *relay.SponsorshipResponse, e *Expectation)
	}{
		{
			name:   "gas_limit_above_ceiling",
			limits: ethtypes.Limits{MaxGasLimit: 50_000},
			mutate: func(*relay.SponsorshipResponse, *Expectation) {},
		},
		{
			name: "gas_limit_zero",
			mutate: func(r *relay.SponsorshipResponse, _ *Expectation) {
				r.GasLimit = big.NewInt(0)
			},
		},
		{
			name: "gas_limit_negative",
			mutate: func(r *relay.SponsorshipResponse, _ *Expectation) {
				r.GasLimit = big.NewInt(-1)
			},
		},
		{
			name: "gas_limit_beyond_uint64",
			mutate: func(r *relay.SponsorshipResponse, _ *Expectation) {
				r.GasLimit = new(big.Int).Lsh(big.NewInt(1), 70)
			},
		},
		{
			name:   "max_fee_above_ceiling",
			limits: ethtypes.Limits{MaxFeePerGas: big.NewInt(1_000_000_000)},
			mutate: func(*relay.SponsorshipResponse, *Expectation) {},
		},
		{
			name: "max_fee_zero",
			mutate: func(r *relay.SponsorshipResponse, _ *Expectation) {
				r.MaxFeePerGas = big.NewInt(0)
			},
		},
		{
			name:   "total_fee_above_ceiling",
			limits: ethtypes.Limits{MaxTotalFeeWei: big.NewInt(100_000 * 1_000_000_000)},
			mutate: func(*relay.SponsorshipResponse, *Expectation) {},
		},
		{
			name:   "max_fee_below_priority_policy",
			limits: ethtypes.Limits{PriorityFeePerGas: big.NewInt(3_000_000_000)},
			mutate: func(*relay.SponsorshipResponse, *Expectation) {},
		},
		{
			name: "chain_id_mismatch",
			mutate: func(r *relay.SponsorshipResponse, _ *Expectation) {
				r.ChainID = big.NewInt(324)
			},
		},
		{
			name: "from_mismatch",
			mutate: func(r *relay.SponsorshipResponse, _ *Expectation) {
				r.From = paymaster
			},
		},
		{
			name: "to_zero",
			mutate: func(r *relay.SponsorshipResponse, _ *Expectation) {
				r.To = common.Address{}
			},
		},
		{
			name: "to_mismatch",
			mutate: func(r *relay.SponsorshipResponse, _ *Expectation) {
				r.To = paymaster
			},
		},
		{
			name: "data_mismatch",
			mutate: func(r *relay.SponsorshipResponse, _ *Expectation) {
				r.Data = common.FromHex("0xa9059cbb")
			},
		},
		{
			name: "paymaster_zero",
			mutate: func(r *relay.SponsorshipResponse, _ *Expectation) {
				r.PaymasterParams.Paymaster = common.Address{}
			},
		},
		{
			name: "paymaster_input_unknown_flow",
			mutate: func(r *relay.SponsorshipResponse, _ *Expectation) {
				r.PaymasterParams.PaymasterInput = common.FromHex("0xdeadbeef")
			},
		},
		{
			name: "paymaster_input_empty",
			mutate: func(r *relay.SponsorshipResponse, _ *Expectation) {
				r.PaymasterParams.PaymasterInput = nil
			},
		},
		{
			name: "paymaster_wrong_token",
			mutate: func(r *relay.SponsorshipResponse, _ *Expectation) {
				input, err := zksync.ApprovalBasedPaymasterInput(paymaster, big.NewInt(1), nil)
				if err != nil {
					panic(err)
				}
				r.PaymasterParams.PaymasterInput = input
			},
		},
		{
			name:   "paymaster_allowance_above_ceiling",
			limits: ethtypes.Limits{MaxFeeTokenAllowance: big.NewInt(999)},
			mutate: func(*relay.SponsorshipResponse, *Expectation) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBuilder(t, tt.limits)
			resp, expect := response(t), expectation()
			tt.mutate(resp, &expect)

			tx, err := b.Build(resp, expect, 0)
			require.ErrorIs(t, err, ErrValidation)
			require.Nil(t, tx)
		})
	}
}

func TestBuildGeneralFlow(t *testing.T) {
	b := newBuilder(t, ethtypes.Limits{MaxFeeTokenAllowance: big.NewInt(1)})
	resp := response(t)
	input, err := zksync.GeneralPaymasterInput(nil)
	require.NoError(t, err)
	resp.PaymasterParams.PaymasterInput = input

	tx, err := b.Build(resp, expectation(), 0)
	require.NoError(t, err)
	require.Equal(t, input, tx.PaymasterParams.PaymasterInput)
}

func TestNewBuilderRejectsBadLimits(t *testing.T) {
	_, err := NewBuilder(ethtypes.Limits{PriorityFeePerGas: big.NewInt(-1)})
	require.Error(t, err)

	_, err = NewBuilder(ethtypes.Limits{MaxTotalFeeWei: big.NewInt(0)})
	require.Error(t, err)
}

func TestBuildIsDeterministic(t *testing.T) {
	b := newBuilder(t, ethtypes.Limits{})
	first, err := b.Build(response(t), expectation(), 3)
	require.NoError(t, err)
	second, err := b.Build(response(t), expectation(), 3)
	require.NoError(t, err)

	firstDigest, err := zksync.Digest(first)
	require.NoError(t, err)
	secondDigest, err := zksync.Digest(second)
	require.NoError(t, err)
	require.Equal(t, firstDigest, secondDigest)
}
