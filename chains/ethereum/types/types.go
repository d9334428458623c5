package types

import (
	"fmt"
	"math/big"
)

// State is a step of the sponsored transaction flow.
type State string

const (
	StateInit                 State = "Init"
	StateTokenMinted          State = "TokenMinted"
	StateSponsorshipRequested State = "SponsorshipRequested"
	StateTransactionBuilt     State = "TransactionBuilt"
	StateSigned               State = "Signed"
	StateBroadcast            State = "Broadcast"
	StateConfirmed            State = "Confirmed"
	// StateUnconfirmed ends a flow whose transaction was broadcast but never
	// seen in a receipt. It is not a failure: the transaction may still land.
	StateUnconfirmed State = "Unconfirmed"
	StateFailed      State = "Failed"
)

// Reason names the stage a failed flow stopped at.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonMintFailed          Reason = "MintFailed"
	ReasonRelayError          Reason = "RelayError"
	ReasonValidationError     Reason = "ValidationError"
	ReasonSigningError        Reason = "SigningError"
	ReasonBroadcastError      Reason = "BroadcastError"
	ReasonConfirmationTimeout Reason = "ConfirmationTimeout"
)

// Outcome is what is known about the sponsored transaction once the flow ends.
type Outcome string

const (
	OutcomeNone     Outcome = ""
	OutcomeSuccess  Outcome = "Success"
	OutcomeReverted Outcome = "Reverted"
	// OutcomeUnknown means the transaction was broadcast but no receipt was
	// seen in time. It may still be included.
	OutcomeUnknown Outcome = "Unknown"
)

// Limits are sanity ceilings applied to relayer proposals before signing.
type Limits struct {
	MaxGasLimit  uint64   `yaml:"max_gas_limit" json:"max_gas_limit"`
	MaxFeePerGas *big.Int `yaml:"max_fee_per_gas" json:"max_fee_per_gas"`
	// PriorityFeePerGas is the priority fee every sponsored transaction is
	// built with, whatever the relayer suggests.
	PriorityFeePerGas *big.Int `yaml:"priority_fee_per_gas" json:"priority_fee_per_gas"`
	// MaxTotalFeeWei caps gasLimit * maxFeePerGas when set.
	MaxTotalFeeWei *big.Int `yaml:"max_total_fee_wei,omitempty" json:"max_total_fee_wei,omitempty"`
	// MaxFeeTokenAllowance caps the allowance an approval-based paymaster may ask for.
	MaxFeeTokenAllowance *big.Int `yaml:"max_fee_token_allowance,omitempty" json:"max_fee_token_allowance,omitempty"`
	GasPerPubdata        uint64   `yaml:"gas_per_pubdata" json:"gas_per_pubdata"`
}

const (
	DefaultMaxGasLimit   = 5_000_000
	DefaultGasPerPubdata = 50_000
)

// DefaultMaxFeePerGas is 100 gwei.
var DefaultMaxFeePerGas = big.NewInt(100_000_000_000)

// WithDefaults fills unset ceilings.
func (l Limits) WithDefaults() Limits {
	if l.MaxGasLimit == 0 {
		l.MaxGasLimit = DefaultMaxGasLimit
	}
	if l.MaxFeePerGas == nil {
		l.MaxFeePerGas = new(big.Int).Set(DefaultMaxFeePerGas)
	}
	if l.PriorityFeePerGas == nil {
		l.PriorityFeePerGas = new(big.Int)
	}
	if l.GasPerPubdata == 0 {
		l.GasPerPubdata = DefaultGasPerPubdata
	}
	return l
}

func (l Limits) Validate() error {
	if l.MaxGasLimit == 0 {
		return fmt.Errorf("max_gas_limit must be greater than zero")
	}
	if l.MaxFeePerGas == nil || l.MaxFeePerGas.Sign() <= 0 {
		return fmt.Errorf("max_fee_per_gas must be greater than zero")
	}
	if l.PriorityFeePerGas == nil || l.PriorityFeePerGas.Sign() < 0 {
		return fmt.Errorf("priority_fee_per_gas must not be negative")
	}
	if l.PriorityFeePerGas.Cmp(l.MaxFeePerGas) > 0 {
		return fmt.Errorf("priority_fee_per_gas %s exceeds max_fee_per_gas %s", l.PriorityFeePerGas, l.MaxFeePerGas)
	}
	if l.MaxTotalFeeWei != nil && l.MaxTotalFeeWei.Sign() <= 0 {
		return fmt.Errorf("max_total_fee_wei must be greater than zero when set")
	}
	if l.MaxFeeTokenAllowance != nil && l.MaxFeeTokenAllowance.Sign() < 0 {
		return fmt.Errorf("max_fee_token_allowance must not be negative")
	}
	return nil
}
