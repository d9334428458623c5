package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/skip-mev/feerelay/internal/retry"
)

const (
	DefaultReceiptTimeout = 240 * time.Second
	DefaultPollInterval   = 500 * time.Millisecond

	// unknownPollLimit is how many consecutive polls must see the hash missing
	// from the node before WaitForReceipt gives up with ErrTxNotFound.
	unknownPollLimit = 3
)

var (
	// ErrTimeout means no receipt was observed in time. The transaction may
	// still be included later.
	ErrTimeout = errors.New("timed out waiting for receipt")
	// ErrTxNotFound means the node does not know the transaction hash.
	ErrTxNotFound = errors.New("transaction not known to node")
)

// ChainClient wraps a node connection with bounded retries on reads,
// idempotent raw submission and receipt polling.
type ChainClient struct {
	logger *zap.Logger
	client Client
	raw    RawCaller

	reads retry.Policy
	sends retry.Policy
}

type ChainClientOption func(*ChainClient)

// WithReadPolicy overrides the retry policy for idempotent reads.
func WithReadPolicy(p retry.Policy) ChainClientOption {
	return func(c *ChainClient) { c.reads = p }
}

// WithSendPolicy overrides the retry policy for raw submissions. Resending the
// same bytes is safe, a repeated submission is answered with the known hash.
func WithSendPolicy(p retry.Policy) ChainClientOption {
	return func(c *ChainClient) { c.sends = p }
}

// NewChainClient builds a ChainClient. raw may be nil, in which case only
// transaction types go-ethereum can decode are submittable and unknown-hash
// detection in WaitForReceipt is disabled.
func NewChainClient(logger *zap.Logger, client Client, raw RawCaller, opts ...ChainClientOption) *ChainClient {
	c := &ChainClient{
		logger: logger.With(zap.String("module", "chain_client")),
		client: client,
		raw:    raw,
		reads:  retry.DefaultPolicy,
		sends:  retry.Policy{MaxAttempts: 2, BaseDelay: retry.DefaultPolicy.BaseDelay},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial connects to a JSON-RPC endpoint.
func Dial(ctx context.Context, logger *zap.Logger, url string, opts ...ChainClientOption) (*ChainClient, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return NewChainClient(logger, ethclient.NewClient(rc), rc, opts...), nil
}

// Close releases the underlying connection when the client supports it.
func (c *ChainClient) Close() {
	if closer, ok := c.client.(interface{ Close() }); ok {
		closer.Close()
	}
}

// Client exposes the typed client for contract bindings.
func (c *ChainClient) Client() Client {
	return c.client
}

func (c *ChainClient) ChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := retry.Do(ctx, c.reads, func(ctx context.Context) error {
		var err error
		id, err = c.client.ChainID(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	return id, nil
}

// Nonce returns the account nonce at block, or at the latest block when block is nil.
func (c *ChainClient) Nonce(ctx context.Context, addr common.Address, block *big.Int) (uint64, error) {
	var nonce uint64
	err := retry.Do(ctx, c.reads, func(ctx context.Context) error {
		var err error
		nonce, err = c.client.NonceAt(ctx, addr, block)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get nonce for %s: %w", addr.Hex(), err)
	}
	return nonce, nil
}

func (c *ChainClient) GasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := retry.Do(ctx, c.reads, func(ctx context.Context) error {
		var err error
		price, err = c.client.SuggestGasPrice(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	return price, nil
}

// Balance returns the native balance of addr at block, or at the latest block when block is nil.
func (c *ChainClient) Balance(ctx context.Context, addr common.Address, block *big.Int) (*big.Int, error) {
	var balance *big.Int
	err := retry.Do(ctx, c.reads, func(ctx context.Context) error {
		var err error
		balance, err = c.client.BalanceAt(ctx, addr, block)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get balance for %s: %w", addr.Hex(), err)
	}
	return balance, nil
}

// SendRawTransaction submits signed transaction bytes. knownHash is the
// locally computed hash; when it is set and the node answers that the
// transaction is already known, the submission counts as successful.
func (c *ChainClient) SendRawTransaction(ctx context.Context, raw []byte, knownHash common.Hash) (common.Hash, error) {
	if len(raw) == 0 {
		return common.Hash{}, errors.New("empty raw transaction")
	}

	var hash common.Hash
	err := retry.Do(ctx, c.sends, func(ctx context.Context) error {
		h, err := c.sendRaw(ctx, raw)
		if err != nil && IsAlreadyKnown(err) && knownHash != (common.Hash{}) {
			c.logger.Info("node already knows transaction", zap.String("tx_hash", knownHash.Hex()))
			hash = knownHash
			return nil
		}
		if err != nil {
			return err
		}
		hash = h
		return nil
	})
	if err != nil {
		return common.Hash{}, err
	}

	if knownHash != (common.Hash{}) && hash != knownHash {
		c.logger.Warn("node returned a different transaction hash",
			zap.String("local_hash", knownHash.Hex()),
			zap.String("node_hash", hash.Hex()))
	}
	return hash, nil
}

func (c *ChainClient) sendRaw(ctx context.Context, raw []byte) (common.Hash, error) {
	if c.raw != nil {
		var hash common.Hash
		if err := c.raw.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Encode(raw)); err != nil {
			return common.Hash{}, err
		}
		return hash, nil
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, fmt.Errorf("client cannot submit transaction type 0x%x without a raw rpc handle: %w", raw[0], err)
	}
	if err := c.client.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

// WaitForReceipt polls for the receipt of hash every pollInterval. It returns
// ErrTimeout once timeout elapses, the parent context's error if ctx ends
// first, and ErrTxNotFound when the node reports the hash unknown for several
// consecutive polls. It returns no later than timeout plus one poll interval.
func (c *ChainClient) WaitForReceipt(ctx context.Context, hash common.Hash, timeout, pollInterval time.Duration) (*types.Receipt, error) {
	if timeout <= 0 {
		timeout = DefaultReceiptTimeout
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	unknown := 0
	for {
		receipt, err := c.client.TransactionReceipt(waitCtx, hash)
		switch {
		case err == nil && receipt != nil:
			return receipt, nil
		case errors.Is(err, ethereum.NotFound):
			known, kerr := c.isKnown(waitCtx, hash)
			switch {
			case kerr != nil:
				c.logger.Debug("transaction lookup failed", zap.String("tx_hash", hash.Hex()), zap.Error(kerr))
			case known:
				unknown = 0
			default:
				unknown++
				if unknown >= unknownPollLimit {
					return nil, fmt.Errorf("%w: %s", ErrTxNotFound, hash.Hex())
				}
			}
		case err != nil && waitCtx.Err() == nil:
			c.logger.Debug("receipt poll failed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, hash.Hex(), timeout)
		case <-ticker.C:
		}
	}
}

// isKnown reports whether the node has the transaction in its pool or chain.
// Without a raw handle every hash is assumed known.
func (c *ChainClient) isKnown(ctx context.Context, hash common.Hash) (bool, error) {
	if c.raw == nil {
		return true, nil
	}
	var result json.RawMessage
	if err := c.raw.CallContext(ctx, &result, "eth_getTransactionByHash", hash); err != nil {
		return false, err
	}
	return len(result) != 0 && string(result) != "null", nil
}

// IsAlreadyKnown reports whether err is a node saying it already has the transaction.
func IsAlreadyKnown(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

// IsNonceError reports whether err looks like a node rejecting a stale or
// out-of-order nonce.
func IsNonceError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, token := range []string{"nonce too low", "nonce too high", "invalid nonce", "incorrect nonce", "nonce mismatch"} {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}
