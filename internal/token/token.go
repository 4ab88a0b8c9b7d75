// Package token is an in-process fungible token with ERC-20 semantics. It
// backs local deployments and tests in place of the on-chain payment token.
package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"solidgrowth/internal/ledger"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidAmount         = errors.New("invalid amount")
)

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

type Token struct {
	mu         sync.Mutex
	Symbol     string
	Decimals   uint8
	supply     *big.Int
	balances   map[common.Address]*big.Int
	allowances map[allowanceKey]*big.Int
}

func New(symbol string, decimals uint8) *Token {
	return &Token{
		Symbol:     symbol,
		Decimals:   decimals,
		supply:     new(big.Int),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	return nil
}

func (t *Token) balance(addr common.Address) *big.Int {
	b, ok := t.balances[addr]
	if !ok {
		b = new(big.Int)
		t.balances[addr] = b
	}
	return b
}

func (t *Token) Mint(to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balance(to).Add(t.balance(to), amount)
	t.supply.Add(t.supply, amount)
	return nil
}

func (t *Token) TotalSupply() *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.supply)
}

func (t *Token) BalanceOf(addr common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.balance(addr))
}

func (t *Token) Allowance(owner, spender common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.allowances[allowanceKey{owner, spender}]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// Approve sets the allowance of spender over owner's tokens, replacing any
// previous value.
func (t *Token) Approve(owner, spender common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allowances[allowanceKey{owner, spender}] = new(big.Int).Set(amount)
	return nil
}

func (t *Token) Transfer(from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

// TransferFrom moves amount from from to to on behalf of spender and spends
// the allowance. Nothing changes on failure.
func (t *Token) TransferFrom(spender, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	key := allowanceKey{from, spender}
	allowed, ok := t.allowances[key]
	if !ok || allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s approved %v to %s, need %s", ErrInsufficientAllowance, from.Hex(), allowed, spender.Hex(), amount)
	}
	if err := t.move(from, to, amount); err != nil {
		return err
	}
	allowed.Sub(allowed, amount)
	return nil
}

func (t *Token) move(from, to common.Address, amount *big.Int) error {
	src := t.balance(from)
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, need %s", ErrInsufficientBalance, from.Hex(), src, amount)
	}
	src.Sub(src, amount)
	dst := t.balance(to)
	dst.Add(dst, amount)
	return nil
}

var _ ledger.PaymentGateway = (*Gateway)(nil)

// Gateway exposes a Token to the ledger with Custody acting as spender.
type Gateway struct {
	Token   *Token
	Custody common.Address
}

func NewGateway(t *Token, custody common.Address) *Gateway {
	return &Gateway{Token: t, Custody: custody}
}

func (g *Gateway) Allowance(_ context.Context, owner, spender common.Address) (*big.Int, error) {
	return g.Token.Allowance(owner, spender), nil
}

func (g *Gateway) BalanceOf(_ context.Context, account common.Address) (*big.Int, error) {
	return g.Token.BalanceOf(account), nil
}

func (g *Gateway) TransferFrom(_ context.Context, from, to common.Address, amount *big.Int) error {
	return g.Token.TransferFrom(g.Custody, from, to, amount)
}

func (g *Gateway) Transfer(_ context.Context, to common.Address, amount *big.Int) error {
	return g.Token.Transfer(g.Custody, to, amount)
}
