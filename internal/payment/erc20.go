// Package payment talks to the ERC-20 payment token on an EVM chain. The
// custody key signs every transfer the ledger makes.
package payment

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"solidgrowth/internal/ledger"
)

var (
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrReverted              = errors.New("transaction reverted")
	ErrInvalidKey            = errors.New("invalid custody key")
)

var _ ledger.PaymentGateway = (*ERC20Gateway)(nil)

const defaultMineTimeout = 2 * time.Minute

// Backend is what the gateway needs from a chain client; *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

type ERC20Gateway struct {
	backend  Backend
	token    common.Address
	contract *bind.BoundContract
	key      *ecdsa.PrivateKey
	chainID  *big.Int
	custody  common.Address
	log      *zap.Logger

	// mineTimeout bounds the wait for a receipt once a transaction is sent.
	mineTimeout time.Duration
}

func NewERC20Gateway(backend Backend, token common.Address, keyHex string, chainID int64, log *zap.Logger) (*ERC20Gateway, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return &ERC20Gateway{
		backend:  backend,
		token:    token,
		contract: bind.NewBoundContract(token, erc20ABI, backend, backend, backend),
		key:      key,
		chainID:  big.NewInt(chainID),
		custody:  crypto.PubkeyToAddress(key.PublicKey),
		log:      log,

		mineTimeout: defaultMineTimeout,
	}, nil
}

// Dial connects to rpcURL and binds the gateway to token.
func Dial(ctx context.Context, rpcURL string, token common.Address, keyHex string, chainID int64, log *zap.Logger) (*ERC20Gateway, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	gw, err := NewERC20Gateway(client, token, keyHex, chainID, log)
	if err != nil {
		client.Close()
		return nil, err
	}
	log.Info("connected to payment token", zap.String("token", token.Hex()), zap.String("custody", gw.custody.Hex()))
	return gw, nil
}

// Custody is the address investors approve and the ledger's funds sit on.
func (g *ERC20Gateway) Custody() common.Address {
	return g.custody
}

func (g *ERC20Gateway) call(ctx context.Context, method string, args ...any) (*big.Int, error) {
	var out []any
	if err := g.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s returned %d values", method, len(out))
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

func (g *ERC20Gateway) Decimals(ctx context.Context) (uint8, error) {
	var out []any
	if err := g.contract.Call(&bind.CallOpts{Context: ctx}, &out, "decimals"); err != nil {
		return 0, fmt.Errorf("decimals call failed: %w", err)
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("decimals returned %d values", len(out))
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}

func (g *ERC20Gateway) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return g.call(ctx, "allowance", owner, spender)
}

func (g *ERC20Gateway) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return g.call(ctx, "balanceOf", account)
}

// TransferFrom pulls amount from from into to. The allowance towards the
// custody account and from's balance are checked before anything is sent.
func (g *ERC20Gateway) TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) error {
	allowance, err := g.Allowance(ctx, from, g.custody)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s approved %s, need %s", ErrInsufficientAllowance, from.Hex(), allowance, amount)
	}
	balance, err := g.BalanceOf(ctx, from)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, need %s", ErrInsufficientBalance, from.Hex(), balance, amount)
	}
	return g.transact(ctx, "transferFrom", from, to, amount)
}

func (g *ERC20Gateway) Transfer(ctx context.Context, to common.Address, amount *big.Int) error {
	return g.transact(ctx, "transfer", to, amount)
}

func (g *ERC20Gateway) transact(ctx context.Context, method string, args ...any) error {
	opts, err := bind.NewKeyedTransactorWithChainID(g.key, g.chainID)
	if err != nil {
		return fmt.Errorf("failed to create transactor: %w", err)
	}
	opts.Context = ctx

	tx, err := g.contract.Transact(opts, method, args...)
	if err != nil {
		return fmt.Errorf("%s failed: %w", method, err)
	}

	// Once sent, the transaction settles whether or not the caller is still
	// waiting, so the receipt wait is detached from ctx.
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.mineTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, g.backend, tx)
	if err != nil {
		g.log.Error("token transaction outcome unknown",
			zap.String("method", method),
			zap.String("tx", tx.Hash().Hex()),
			zap.Error(err))
		return fmt.Errorf("%w: %s %s: %w", ledger.ErrTransferPending, method, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s %s", ErrReverted, method, tx.Hash().Hex())
	}
	g.log.Debug("token transaction mined",
		zap.String("method", method),
		zap.String("tx", tx.Hash().Hex()),
		zap.Uint64("block", receipt.BlockNumber.Uint64()))
	return nil
}
