package metrics

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	relaytypes "github.com/skip-mev/feerelay/chains/types"
)

// BalanceReader reads native balances at the latest block.
type BalanceReader interface {
	Balance(ctx context.Context, addr common.Address, block *big.Int) (*big.Int, error)
}

// TokenBalanceReader reads balances of one ERC-20 token.
type TokenBalanceReader interface {
	Address() common.Address
	BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error)
}

// CollectBalances reads the native and token balances of account and, when
// set, paymaster. Reads run concurrently and do not cancel each other: the
// report holds every balance that could be read and the first error is
// returned alongside it.
func CollectBalances(ctx context.Context, logger *zap.Logger, chain BalanceReader, token TokenBalanceReader,
	account, paymaster common.Address,
) (*relaytypes.BalanceReport, error) {
	report := &relaytypes.BalanceReport{
		Token:   token.Address().Hex(),
		Account: account.Hex(),
	}

	var g errgroup.Group
	read := func(dst **big.Int, what string, fn func() (*big.Int, error)) {
		g.Go(func() error {
			v, err := fn()
			if err != nil {
				logger.Warn("balance read failed", zap.String("balance", what), zap.Error(err))
				return fmt.Errorf("reading %s: %w", what, err)
			}
			*dst = v
			return nil
		})
	}

	read(&report.AccountNative, "account native balance", func() (*big.Int, error) {
		return chain.Balance(ctx, account, nil)
	})
	read(&report.AccountToken, "account token balance", func() (*big.Int, error) {
		return token.BalanceOf(ctx, account)
	})
	if paymaster != (common.Address{}) {
		report.Paymaster = paymaster.Hex()
		read(&report.PaymasterNative, "paymaster native balance", func() (*big.Int, error) {
			return chain.Balance(ctx, paymaster, nil)
		})
		read(&report.PaymasterToken, "paymaster token balance", func() (*big.Int, error) {
			return token.BalanceOf(ctx, paymaster)
		})
	}

	return report, g.Wait()
}

// RecordTx summarises a broadcast transaction. receipt may be nil when the
// transaction was never seen included.
func RecordTx(hash common.Hash, nonce uint64, receipt *gethtypes.Receipt, inclusion time.Duration) *relaytypes.TxRecord {
	rec := &relaytypes.TxRecord{
		Hash:  hash.Hex(),
		Nonce: nonce,
	}
	if receipt == nil {
		return rec
	}
	status := receipt.Status
	rec.Status = &status
	rec.GasUsed = receipt.GasUsed
	if receipt.BlockNumber != nil {
		rec.BlockNumber = receipt.BlockNumber.Uint64()
	}
	rec.Inclusion = inclusion
	return rec
}
