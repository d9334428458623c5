package types

import (
	"math/big"
	"time"

	ethtypes "github.com/skip-mev/feerelay/chains/ethereum/types"
)

// Process exit codes reported by the CLI.
const (
	ExitSuccess  = 0
	ExitSetup    = 1
	ExitFailed   = 2
	ExitReverted = 3
	ExitUnknown  = 4
)

// FlowResult represents the results of a single sponsored transaction flow
type FlowResult struct {
	FlowID      string           `json:"flow_id"`
	Name        string           `json:"name,omitempty"`
	ChainID     string           `json:"chain_id,omitempty"`
	Account     string           `json:"account,omitempty"`
	State       ethtypes.State   `json:"state"`
	Outcome     ethtypes.Outcome `json:"outcome,omitempty"`
	Reason      ethtypes.Reason  `json:"reason,omitempty"`
	Transitions []Transition     `json:"transitions,omitempty"`
	MintTx      *TxRecord        `json:"mint_tx,omitempty"`
	SponsoredTx *TxRecord        `json:"sponsored_tx,omitempty"`
	Sponsorship *Sponsorship     `json:"sponsorship,omitempty"`
	Balances    *BalanceReport   `json:"balances,omitempty"`
	StartTime   time.Time        `json:"start_time"`
	EndTime     time.Time        `json:"end_time"`
	Runtime     time.Duration    `json:"runtime"`
	Error       string           `json:"error,omitempty"`
}

// Transition is one state change of the flow
type Transition struct {
	State ethtypes.State `json:"state"`
	At    time.Time      `json:"at"`
}

// TxRecord describes a transaction the flow broadcast
type TxRecord struct {
	Hash        string  `json:"hash"`
	Nonce       uint64  `json:"nonce"`
	Status      *uint64 `json:"status,omitempty"`
	BlockNumber uint64  `json:"block_number,omitempty"`
	GasUsed     uint64  `json:"gas_used,omitempty"`
	// Inclusion is the time between broadcast and the receipt being seen.
	Inclusion time.Duration `json:"inclusion,omitempty"`
}

// Sponsorship is what the relayer proposed and the flow accepted
type Sponsorship struct {
	Paymaster    string   `json:"paymaster"`
	GasLimit     *big.Int `json:"gas_limit"`
	MaxFeePerGas *big.Int `json:"max_fee_per_gas"`
	Flow         string   `json:"flow"`
}

// BalanceReport holds the balances read around the flow. Any field may be nil
// when the read failed.
type BalanceReport struct {
	Token           string   `json:"token"`
	Account         string   `json:"account"`
	Paymaster       string   `json:"paymaster,omitempty"`
	TokenBeforeMint *big.Int `json:"token_before_mint,omitempty"`
	TokenAfterMint  *big.Int `json:"token_after_mint,omitempty"`
	AccountNative   *big.Int `json:"account_native,omitempty"`
	AccountToken    *big.Int `json:"account_token,omitempty"`
	PaymasterNative *big.Int `json:"paymaster_native,omitempty"`
	PaymasterToken  *big.Int `json:"paymaster_token,omitempty"`
}

// ExitCode maps the terminal state of the flow to the process exit code.
func (r FlowResult) ExitCode() int {
	switch r.State {
	case ethtypes.StateConfirmed:
		switch r.Outcome {
		case ethtypes.OutcomeSuccess:
			return ExitSuccess
		case ethtypes.OutcomeReverted:
			return ExitReverted
		default:
			return ExitUnknown
		}
	case ethtypes.StateUnconfirmed:
		return ExitUnknown
	case ethtypes.StateFailed:
		return ExitFailed
	default:
		return ExitSetup
	}
}
