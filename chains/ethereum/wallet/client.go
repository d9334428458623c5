package wallet

import (
	"context"

	"github.com/ethereum/go-ethereum"
)

// Client is the subset of a go-ethereum client the relay flow needs.
// *ethclient.Client and simulated.Client both satisfy it.
type Client interface {
	ethereum.ChainStateReader
	ethereum.ContractCaller
	ethereum.GasEstimator
	ethereum.GasPricer
	ethereum.TransactionReader
	ethereum.TransactionSender
	ethereum.ChainIDReader
}

// RawCaller issues JSON-RPC calls that the typed client cannot express, such
// as submitting transaction types go-ethereum does not know how to decode.
// *rpc.Client satisfies it.
type RawCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}
