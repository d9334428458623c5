package token

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/skip-mev/feerelay/internal/fakenode"
)

var (
	tokenAddr = common.HexToAddress("0x927488F48ffbc32112F1fF721759649A89721F8F")
	holder    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

func TestPackMint(t *testing.T) {
	data, err := PackMint(holder, big.NewInt(7))
	require.NoError(t, err)
	require.Equal(t, common.FromHex("0x40c10f19"), data[:4])

	to, amount, err := UnpackMint(data)
	require.NoError(t, err)
	require.Equal(t, holder, to)
	require.Equal(t, int64(7), amount.Int64())

	_, err = PackMint(holder, big.NewInt(-1))
	require.Error(t, err)
}

func TestBalanceOf(t *testing.T) {
	node := fakenode.New(300)
	defer node.Close()
	node.HandleCall(func(to common.Address, data []byte) ([]byte, error) {
		require.Equal(t, tokenAddr, to)
		who, ok := IsBalanceOfCall(data)
		require.True(t, ok)
		require.Equal(t, holder, who)
		return PackBalanceResult(big.NewInt(57))
	})
	client, _ := node.Dial()
	defer client.Close()

	tok := New(tokenAddr, client)
	balance, err := tok.BalanceOf(context.Background(), holder)
	require.NoError(t, err)
	require.Equal(t, int64(57), balance.Int64())
}
