package token

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	alice   = common.HexToAddress("0x0a")
	bob     = common.HexToAddress("0x0b")
	spender = common.HexToAddress("0x0c")
)

func TestTransfer(t *testing.T) {
	require := require.New(t)
	tok := New("USDT", 18)
	require.NoError(tok.Mint(alice, big.NewInt(100)))
	require.Equal(int64(100), tok.TotalSupply().Int64())

	require.NoError(tok.Transfer(alice, bob, big.NewInt(40)))
	require.Equal(int64(60), tok.BalanceOf(alice).Int64())
	require.Equal(int64(40), tok.BalanceOf(bob).Int64())

	require.ErrorIs(tok.Transfer(alice, bob, big.NewInt(61)), ErrInsufficientBalance)
	require.ErrorIs(tok.Transfer(alice, bob, big.NewInt(-1)), ErrInvalidAmount)
	require.ErrorIs(tok.Mint(alice, nil), ErrInvalidAmount)
	require.Equal(int64(60), tok.BalanceOf(alice).Int64())
}

func TestTransferFrom(t *testing.T) {
	require := require.New(t)
	tok := New("USDT", 18)
	require.NoError(tok.Mint(alice, big.NewInt(100)))

	require.ErrorIs(tok.TransferFrom(spender, alice, bob, big.NewInt(10)), ErrInsufficientAllowance)

	require.NoError(tok.Approve(alice, spender, big.NewInt(150)))
	require.ErrorIs(tok.TransferFrom(spender, alice, bob, big.NewInt(120)), ErrInsufficientBalance)
	require.Equal(int64(150), tok.Allowance(alice, spender).Int64())

	require.NoError(tok.TransferFrom(spender, alice, bob, big.NewInt(100)))
	require.Equal(int64(50), tok.Allowance(alice, spender).Int64())
	require.Zero(tok.BalanceOf(alice).Sign())
	require.Equal(int64(100), tok.BalanceOf(bob).Int64())

	// Approve replaces the allowance.
	require.NoError(tok.Approve(alice, spender, big.NewInt(5)))
	require.Equal(int64(5), tok.Allowance(alice, spender).Int64())
}

func TestGateway(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	tok := New("USDT", 18)
	gw := NewGateway(tok, spender)
	require.NoError(tok.Mint(alice, big.NewInt(100)))
	require.NoError(tok.Approve(alice, spender, big.NewInt(100)))

	allowance, err := gw.Allowance(ctx, alice, spender)
	require.NoError(err)
	require.Equal(int64(100), allowance.Int64())

	require.NoError(gw.TransferFrom(ctx, alice, spender, big.NewInt(70)))
	bal, err := gw.BalanceOf(ctx, spender)
	require.NoError(err)
	require.Equal(int64(70), bal.Int64())

	require.NoError(gw.Transfer(ctx, alice, big.NewInt(20)))
	bal, err = gw.BalanceOf(ctx, alice)
	require.NoError(err)
	require.Equal(int64(50), bal.Int64())
}
