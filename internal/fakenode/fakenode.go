// Package fakenode serves an in-process JSON-RPC node for tests. It accepts
// EIP-1559 and zkSync EIP-712 transactions, enforces nonces and produces
// receipts without executing anything.
package fakenode

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/skip-mev/feerelay/chains/ethereum/zksync"
)

// Sent records one accepted transaction.
type Sent struct {
	Hash  common.Hash
	Type  byte
	From  common.Address
	To    common.Address
	Nonce uint64
	Data  []byte
	// ZkSync is set for 0x71 transactions.
	ZkSync *zksync.SignedTransaction
}

// Node is the state behind the fake RPC endpoint.
type Node struct {
	mu sync.Mutex

	chainID  *big.Int
	gasPrice *big.Int
	block    uint64

	nonces   map[common.Address]uint64
	balances map[common.Address]*big.Int
	receipts map[common.Hash]*types.Receipt
	pending  map[common.Hash]bool
	sent     []Sent
	attempts int

	rejectNext []error
	revert     func(Sent) bool
	withhold   bool
	forget     bool
	call       func(to common.Address, data []byte) ([]byte, error)

	server *rpc.Server
}

func New(chainID int64) *Node {
	n := &Node{
		chainID:  big.NewInt(chainID),
		gasPrice: big.NewInt(250_000_000),
		nonces:   make(map[common.Address]uint64),
		balances: make(map[common.Address]*big.Int),
		receipts: make(map[common.Hash]*types.Receipt),
		pending:  make(map[common.Hash]bool),
	}
	n.server = rpc.NewServer()
	if err := n.server.RegisterName("eth", &ethAPI{n: n}); err != nil {
		panic(err)
	}
	return n
}

// Dial returns a typed client and the raw rpc handle, both in-process.
func (n *Node) Dial() (*ethclient.Client, *rpc.Client) {
	rc := rpc.DialInProc(n.server)
	return ethclient.NewClient(rc), rc
}

// ServeHTTP exposes the node over JSON-RPC on HTTP, e.g. behind httptest.NewServer.
func (n *Node) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n.server.ServeHTTP(w, r)
}

func (n *Node) Close() {
	n.server.Stop()
}

func (n *Node) SetNonce(addr common.Address, nonce uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nonces[addr] = nonce
}

func (n *Node) SetBalance(addr common.Address, wei *big.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.balances[addr] = new(big.Int).Set(wei)
}

func (n *Node) SetGasPrice(wei *big.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gasPrice = new(big.Int).Set(wei)
}

// RejectNextSend makes the next submissions fail with errs, one each.
func (n *Node) RejectNextSend(errs ...error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejectNext = append(n.rejectNext, errs...)
}

// RevertWhen marks matching transactions as reverted in their receipt.
func (n *Node) RevertWhen(fn func(Sent) bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.revert = fn
}

// WithholdReceipts keeps accepted transactions pending forever.
func (n *Node) WithholdReceipts() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.withhold = true
}

// ForgetTransactions drops accepted transactions so lookups by hash return null.
func (n *Node) ForgetTransactions() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.forget = true
}

// HandleCall answers eth_call. Without a handler every call returns 32 zero bytes.
func (n *Node) HandleCall(fn func(to common.Address, data []byte) ([]byte, error)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.call = fn
}

// Sent returns the accepted transactions in order.
func (n *Node) Sent() []Sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Sent(nil), n.sent...)
}

// SendAttempts counts eth_sendRawTransaction calls, accepted or not.
func (n *Node) SendAttempts() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.attempts
}

func (n *Node) decode(raw []byte) (Sent, error) {
	if len(raw) == 0 {
		return Sent{}, errors.New("empty transaction")
	}
	if raw[0] == zksync.TxType {
		signed, err := zksync.DecodeSigned(raw)
		if err != nil {
			return Sent{}, err
		}
		from, err := zksync.RecoverSender(signed)
		if err != nil {
			return Sent{}, err
		}
		if from != signed.Tx.From {
			return Sent{}, fmt.Errorf("invalid signature: recovered %s, from %s", from.Hex(), signed.Tx.From.Hex())
		}
		return Sent{
			Hash:   signed.Hash(),
			Type:   zksync.TxType,
			From:   from,
			To:     signed.Tx.To,
			Nonce:  signed.Tx.Nonce,
			Data:   signed.Tx.Data,
			ZkSync: signed,
		}, nil
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return Sent{}, err
	}
	from, err := types.Sender(types.LatestSignerForChainID(n.chainID), tx)
	if err != nil {
		return Sent{}, err
	}
	s := Sent{Hash: tx.Hash(), Type: tx.Type(), From: from, Nonce: tx.Nonce(), Data: tx.Data()}
	if tx.To() != nil {
		s.To = *tx.To()
	}
	return s, nil
}

func (n *Node) submit(raw []byte) (common.Hash, error) {
	s, err := n.decode(raw)
	if err != nil {
		return common.Hash{}, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.attempts++

	if len(n.rejectNext) > 0 {
		err := n.rejectNext[0]
		n.rejectNext = n.rejectNext[1:]
		return common.Hash{}, err
	}
	if _, ok := n.receipts[s.Hash]; ok || n.pending[s.Hash] {
		return common.Hash{}, errors.New("already known")
	}
	expected := n.nonces[s.From]
	switch {
	case s.Nonce < expected:
		return common.Hash{}, fmt.Errorf("nonce too low: next nonce %d, tx nonce %d", expected, s.Nonce)
	case s.Nonce > expected:
		return common.Hash{}, fmt.Errorf("nonce too high: next nonce %d, tx nonce %d", expected, s.Nonce)
	}

	n.nonces[s.From] = expected + 1
	n.sent = append(n.sent, s)
	if n.withhold {
		n.pending[s.Hash] = true
		return s.Hash, nil
	}

	n.block++
	status := types.ReceiptStatusSuccessful
	if n.revert != nil && n.revert(s) {
		status = types.ReceiptStatusFailed
	}
	n.receipts[s.Hash] = &types.Receipt{
		Type:              s.Type,
		Status:            status,
		CumulativeGasUsed: 21000,
		Logs:              []*types.Log{},
		TxHash:            s.Hash,
		GasUsed:           21000,
		EffectiveGasPrice: new(big.Int).Set(n.gasPrice),
		BlockHash:         common.BigToHash(new(big.Int).SetUint64(n.block)),
		BlockNumber:       new(big.Int).SetUint64(n.block),
	}
	return s.Hash, nil
}

// ethAPI is registered under the "eth" namespace.
type ethAPI struct {
	n *Node
}

func (api *ethAPI) ChainId() *hexutil.Big {
	return (*hexutil.Big)(new(big.Int).Set(api.n.chainID))
}

func (api *ethAPI) BlockNumber() hexutil.Uint64 {
	api.n.mu.Lock()
	defer api.n.mu.Unlock()
	return hexutil.Uint64(api.n.block)
}

func (api *ethAPI) GasPrice() *hexutil.Big {
	api.n.mu.Lock()
	defer api.n.mu.Unlock()
	return (*hexutil.Big)(new(big.Int).Set(api.n.gasPrice))
}

func (api *ethAPI) GetTransactionCount(addr common.Address, _ string) hexutil.Uint64 {
	api.n.mu.Lock()
	defer api.n.mu.Unlock()
	return hexutil.Uint64(api.n.nonces[addr])
}

func (api *ethAPI) GetBalance(addr common.Address, _ string) *hexutil.Big {
	api.n.mu.Lock()
	defer api.n.mu.Unlock()
	if b, ok := api.n.balances[addr]; ok {
		return (*hexutil.Big)(new(big.Int).Set(b))
	}
	return (*hexutil.Big)(new(big.Int))
}

func (api *ethAPI) EstimateGas(_ map[string]interface{}) hexutil.Uint64 {
	return hexutil.Uint64(60_000)
}

func (api *ethAPI) Call(args map[string]interface{}, _ string) (hexutil.Bytes, error) {
	api.n.mu.Lock()
	call := api.n.call
	api.n.mu.Unlock()

	if call == nil {
		return make([]byte, 32), nil
	}
	var to common.Address
	if s, ok := args["to"].(string); ok {
		to = common.HexToAddress(s)
	}
	var data []byte
	for _, key := range []string{"input", "data"} {
		if s, ok := args[key].(string); ok {
			data = common.FromHex(s)
			break
		}
	}
	return call(to, data)
}

func (api *ethAPI) SendRawTransaction(_ context.Context, raw hexutil.Bytes) (common.Hash, error) {
	return api.n.submit(raw)
}

func (api *ethAPI) GetTransactionReceipt(hash common.Hash) *types.Receipt {
	api.n.mu.Lock()
	defer api.n.mu.Unlock()
	return api.n.receipts[hash]
}

func (api *ethAPI) GetTransactionByHash(hash common.Hash) map[string]interface{} {
	api.n.mu.Lock()
	defer api.n.mu.Unlock()
	if api.n.forget {
		return nil
	}
	for _, s := range api.n.sent {
		if s.Hash == hash {
			return map[string]interface{}{
				"hash":  s.Hash,
				"from":  s.From,
				"to":    s.To,
				"nonce": hexutil.Uint64(s.Nonce),
				"input": hexutil.Bytes(s.Data),
				"type":  hexutil.Uint64(s.Type),
			}
		}
	}
	return nil
}
