package zksync

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrUnknownPaymasterFlow = errors.New("unknown paymaster flow")

// PaymasterFlow names the IPaymasterFlow function encoded in paymaster input.
type PaymasterFlow string

const (
	FlowGeneral       PaymasterFlow = "general"
	FlowApprovalBased PaymasterFlow = "approvalBased"
)

var (
	generalSelector       = crypto.Keccak256([]byte("general(bytes)"))[:4]
	approvalBasedSelector = crypto.Keccak256([]byte("approvalBased(address,uint256,bytes)"))[:4]

	generalArgs       abi.Arguments
	approvalBasedArgs abi.Arguments
)

func init() {
	addressT, _ := abi.NewType("address", "", nil)
	uint256T, _ := abi.NewType("uint256", "", nil)
	bytesT, _ := abi.NewType("bytes", "", nil)

	generalArgs = abi.Arguments{{Name: "input", Type: bytesT}}
	approvalBasedArgs = abi.Arguments{
		{Name: "token", Type: addressT},
		{Name: "minAllowance", Type: uint256T},
		{Name: "innerInput", Type: bytesT},
	}
}

// PaymasterInput is decoded paymaster input.
type PaymasterInput struct {
	Flow PaymasterFlow
	// Token and MinAllowance are only set for the approval-based flow.
	Token        common.Address
	MinAllowance *big.Int
	Inner        []byte
}

// GeneralPaymasterInput encodes general(bytes).
func GeneralPaymasterInput(inner []byte) ([]byte, error) {
	if inner == nil {
		inner = []byte{}
	}
	packed, err := generalArgs.Pack(inner)
	if err != nil {
		return nil, fmt.Errorf("packing general flow: %w", err)
	}
	return append(bytes.Clone(generalSelector), packed...), nil
}

// ApprovalBasedPaymasterInput encodes approvalBased(address,uint256,bytes).
func ApprovalBasedPaymasterInput(token common.Address, minAllowance *big.Int, inner []byte) ([]byte, error) {
	if inner == nil {
		inner = []byte{}
	}
	packed, err := approvalBasedArgs.Pack(token, minAllowance, inner)
	if err != nil {
		return nil, fmt.Errorf("packing approval based flow: %w", err)
	}
	return append(bytes.Clone(approvalBasedSelector), packed...), nil
}

// DecodePaymasterInput parses input produced by one of the known flows.
func DecodePaymasterInput(input []byte) (*PaymasterInput, error) {
	if len(input) < 4 {
		return nil, fmt.Errorf("%w: input has %d bytes", ErrUnknownPaymasterFlow, len(input))
	}
	selector, body := input[:4], input[4:]

	switch {
	case bytes.Equal(selector, generalSelector):
		values, err := generalArgs.Unpack(body)
		if err != nil {
			return nil, fmt.Errorf("decoding general flow: %w", err)
		}
		return &PaymasterInput{Flow: FlowGeneral, Inner: values[0].([]byte)}, nil
	case bytes.Equal(selector, approvalBasedSelector):
		values, err := approvalBasedArgs.Unpack(body)
		if err != nil {
			return nil, fmt.Errorf("decoding approval based flow: %w", err)
		}
		return &PaymasterInput{
			Flow:         FlowApprovalBased,
			Token:        values[0].(common.Address),
			MinAllowance: values[1].(*big.Int),
			Inner:        values[2].([]byte),
		}, nil
	}
	return nil, fmt.Errorf("%w: selector 0x%x", ErrUnknownPaymasterFlow, selector)
}
