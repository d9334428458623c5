package txfactory

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/skip-mev/feerelay/chains/ethereum/relay"
	ethtypes "github.com/skip-mev/feerelay/chains/ethereum/types"
	"github.com/skip-mev/feerelay/chains/ethereum/zksync"
)

// ErrValidation is wrapped by every rejection of a relayer proposal.
var ErrValidation = errors.New("sponsorship failed validation")

// Expectation is what the flow asked the relayer to sponsor, plus chain facts
// the answer must agree with.
type Expectation struct {
	ChainID  *big.Int
	From     common.Address
	To       common.Address
	Data     []byte
	FeeToken common.Address
}

// Builder turns a relayer proposal into an unsigned transaction. It holds no
// state besides its limits, so Build is safe for concurrent use.
type Builder struct {
	limits ethtypes.Limits
}

func NewBuilder(limits ethtypes.Limits) (*Builder, error) {
	limits = limits.WithDefaults()
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("invalid limits: %w", err)
	}
	return &Builder{limits: limits}, nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Build validates resp against expect and the configured ceilings and
// assembles the transaction for nonce. The priority fee always comes from
// policy, never from the relayer.
func (b *Builder) Build(resp *relay.SponsorshipResponse, expect Expectation, nonce uint64) (*zksync.Transaction, error) {
	if resp == nil {
		return nil, invalid("no sponsorship response")
	}

	gasLimit, err := b.checkGasLimit(resp.GasLimit)
	if err != nil {
		return nil, err
	}
	maxFee, err := b.checkMaxFee(resp.MaxFeePerGas)
	if err != nil {
		return nil, err
	}
	if b.limits.MaxTotalFeeWei != nil {
		total := new(big.Int).Mul(resp.GasLimit, resp.MaxFeePerGas)
		if total.Cmp(b.limits.MaxTotalFeeWei) > 0 {
			return nil, invalid("total fee %s exceeds ceiling %s", total, b.limits.MaxTotalFeeWei)
		}
	}

	if err := b.checkCall(resp, expect); err != nil {
		return nil, err
	}
	if err := b.checkPaymaster(resp.PaymasterParams, expect.FeeToken); err != nil {
		return nil, err
	}

	priority, _ := uint256.FromBig(b.limits.PriorityFeePerGas)
	if priority.Cmp(maxFee) > 0 {
		return nil, invalid("max fee per gas %s is below the priority fee %s", maxFee, priority)
	}

	return &zksync.Transaction{
		ChainID:              new(big.Int).Set(expect.ChainID),
		Nonce:                nonce,
		From:                 expect.From,
		To:                   resp.To,
		Data:                 bytes.Clone(resp.Data),
		Value:                new(uint256.Int),
		GasLimit:             gasLimit,
		GasPerPubdata:        uint256.NewInt(b.limits.GasPerPubdata),
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: priority,
		PaymasterParams: &zksync.PaymasterParams{
			Paymaster:      resp.PaymasterParams.Paymaster,
			PaymasterInput: bytes.Clone(resp.PaymasterParams.PaymasterInput),
		},
	}, nil
}

func (b *Builder) checkGasLimit(v *big.Int) (*uint256.Int, error) {
	if v == nil || v.Sign() <= 0 {
		return nil, invalid("gas limit must be positive, got %v", v)
	}
	if !v.IsUint64() || v.Uint64() > b.limits.MaxGasLimit {
		return nil, invalid("gas limit %s exceeds ceiling %d", v, b.limits.MaxGasLimit)
	}
	return uint256.NewInt(v.Uint64()), nil
}

func (b *Builder) checkMaxFee(v *big.Int) (*uint256.Int, error) {
	if v == nil || v.Sign() <= 0 {
		return nil, invalid("max fee per gas must be positive, got %v", v)
	}
	if v.Cmp(b.limits.MaxFeePerGas) > 0 {
		return nil, invalid("max fee per gas %s exceeds ceiling %s", v, b.limits.MaxFeePerGas)
	}
	fee, _ := uint256.FromBig(v)
	return fee, nil
}

func (b *Builder) checkCall(resp *relay.SponsorshipResponse, expect Expectation) error {
	if expect.ChainID == nil || resp.ChainID == nil || resp.ChainID.Cmp(expect.ChainID) != 0 {
		return invalid("chain id %v does not match node chain id %v", resp.ChainID, expect.ChainID)
	}
	if resp.From != expect.From {
		return invalid("from %s is not the account %s", resp.From.Hex(), expect.From.Hex())
	}
	if resp.To == (common.Address{}) {
		return invalid("to is the zero address")
	}
	if resp.To != expect.To {
		return invalid("to %s is not the requested target %s", resp.To.Hex(), expect.To.Hex())
	}
	if !bytes.Equal(resp.Data, expect.Data) {
		return invalid("calldata differs from the requested call")
	}
	return nil
}

func (b *Builder) checkPaymaster(pm zksync.PaymasterParams, feeToken common.Address) error {
	if pm.Paymaster == (common.Address{}) {
		return invalid("paymaster is the zero address")
	}
	input, err := zksync.DecodePaymasterInput(pm.PaymasterInput)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if input.Flow != zksync.FlowApprovalBased {
		return nil
	}
	if input.Token != feeToken {
		return invalid("paymaster wants token %s, requested fee token %s", input.Token.Hex(), feeToken.Hex())
	}
	if ceiling := b.limits.MaxFeeTokenAllowance; ceiling != nil && input.MinAllowance.Cmp(ceiling) > 0 {
		return invalid("paymaster allowance %s exceeds ceiling %s", input.MinAllowance, ceiling)
	}
	return nil
}
