package wallet

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// InteractingWallet represents a wallet that can interact with the Ethereum chain
// using plain EIP-1559 transactions. The sponsored path goes through
// ChainClient.SendRawTransaction instead.
type InteractingWallet struct {
	signer *Signer
	client Client
}

// NewInteractingWallet creates a new Ethereum wallet
func NewInteractingWallet(signer *Signer, client Client) *InteractingWallet {
	return &InteractingWallet{
		signer: signer,
		client: client,
	}
}

// estimateGasWithBuffer estimates gas for a transaction and adds a 20% buffer
func (w *InteractingWallet) estimateGasWithBuffer(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	gasLimit, err := w.client.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("failed to estimate gas: %w", err)
	}

	buffer := gasLimit / 5
	return gasLimit + buffer, nil
}

// CreateSignedDynamicFeeTx creates and signs an EIP-1559 transaction. The
// caller owns the nonce and the fee caps; a zero gasLimit is estimated.
func (w *InteractingWallet) CreateSignedDynamicFeeTx(ctx context.Context, to *common.Address, value *big.Int,
	gasLimit uint64, gasFeeCap, gasTipCap *big.Int, data []byte, nonce uint64,
) (*types.Transaction, error) {
	if gasFeeCap == nil || gasTipCap == nil {
		return nil, fmt.Errorf("gas fee cap and tip cap are required")
	}
	if gasTipCap.Cmp(gasFeeCap) > 0 {
		return nil, fmt.Errorf("gas tip cap %s exceeds fee cap %s", gasTipCap, gasFeeCap)
	}

	if gasLimit == 0 {
		msg := ethereum.CallMsg{
			From:      w.signer.Address(),
			To:        to,
			Value:     value,
			Data:      data,
			GasFeeCap: gasFeeCap,
			GasTipCap: gasTipCap,
		}
		var err error
		gasLimit, err = w.estimateGasWithBuffer(ctx, msg)
		if err != nil {
			return nil, err
		}
	}

	tx := w.signer.CreateDynamicFeeTransaction(to, value, gasLimit, gasFeeCap, gasTipCap, data, nonce)
	return w.signer.SignDynamicFeeTx(tx)
}

// Address returns the Ethereum address
func (w *InteractingWallet) Address() common.Address {
	return w.signer.Address()
}

func (w *InteractingWallet) Signer() *Signer {
	return w.signer
}
