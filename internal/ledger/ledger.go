// Package ledger implements the referral-gated investment ledger: it pulls
// approved token funds from investors, keeps the referral forest rooted at
// the owner and mints one position token per investment.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

type Config struct {
	// Owner is the root of the referral forest and the only account allowed
	// to change the base pointer.
	Owner common.Address
	// Custody is the account that receives investments on the payment token.
	Custody common.Address

	MinInvestment *big.Int
	MaxInvestment *big.Int
}

func (c Config) validate() error {
	if c.MinInvestment == nil || c.MaxInvestment == nil {
		return fmt.Errorf("%w: investment bounds are required", ErrInvalidConfig)
	}
	if c.MinInvestment.Sign() < 0 {
		return fmt.Errorf("%w: negative minimum investment", ErrInvalidConfig)
	}
	if c.MinInvestment.Cmp(c.MaxInvestment) > 0 {
		return fmt.Errorf("%w: minimum investment above maximum", ErrInvalidConfig)
	}
	return nil
}

type Option func(*Ledger)

func WithStore(s Store) Option {
	return func(l *Ledger) { l.store = s }
}

func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

func WithSubscribers(subs ...Subscriber) Option {
	return func(l *Ledger) { l.subs = append(l.subs, subs...) }
}

func WithRecorder(r Recorder) Option {
	return func(l *Ledger) { l.rec = r }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Ledger serializes every operation behind one lock. An operation either
// commits all of its effects or none.
//
// Invest holds the write lock across the payment gateway calls, so with an
// on-chain token every reader waits for the fund pull to be mined.
type Ledger struct {
	mu sync.RWMutex

	cfg     Config
	gateway PaymentGateway
	store   Store
	log     *zap.Logger
	rec     Recorder
	subs    []Subscriber
	now     func() time.Time

	owner     common.Address
	counter   uint64
	graph     *referralGraph
	registry  *positionRegistry
	positions []Position
	total     *big.Int
}

// New builds a ledger bound to gateway. State is restored from the store
// when one was persisted before, otherwise the owner is registered as the
// referral root.
func New(ctx context.Context, cfg Config, gateway PaymentGateway, opts ...Option) (*Ledger, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if gateway == nil {
		return nil, fmt.Errorf("%w: payment gateway is required", ErrInvalidConfig)
	}
	l := &Ledger{
		cfg:      cfg,
		gateway:  gateway,
		store:    nopStore{},
		log:      zap.NewNop(),
		rec:      nopRecorder{},
		now:      time.Now,
		graph:    newReferralGraph(),
		registry: newPositionRegistry(),
		total:    new(big.Int),
	}
	for _, opt := range opts {
		opt(l)
	}

	snap, err := l.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger state: %w", err)
	}
	if snap != nil {
		if snap.Owner != cfg.Owner {
			return nil, fmt.Errorf("%w: %s != %s", ErrOwnerMismatch, snap.Owner.Hex(), cfg.Owner.Hex())
		}
		if err := l.restore(snap); err != nil {
			return nil, err
		}
		l.log.Info("ledger state restored",
			zap.Uint64("positions", l.counter),
			zap.Int("accounts", len(snap.Accounts)))
		return l, nil
	}

	owner := cfg.Owner
	empty := ""
	var zero uint64
	genesis := &Batch{
		Owner:       &owner,
		BasePointer: &empty,
		Counter:     &zero,
		Account:     &Account{Address: owner, Root: true, RegisteredAt: l.now()},
	}
	if err := l.store.Commit(ctx, genesis); err != nil {
		return nil, fmt.Errorf("%w: genesis: %w", ErrCommitFailed, err)
	}
	l.apply(genesis)
	l.log.Info("ledger initialized", zap.String("owner", owner.Hex()))
	return l, nil
}

func (l *Ledger) restore(snap *Snapshot) error {
	l.owner = snap.Owner
	l.registry.basePointer = snap.BasePointer
	for _, a := range snap.Accounts {
		if err := l.graph.add(a); err != nil {
			return fmt.Errorf("failed to restore account %s: %w", a.Address.Hex(), err)
		}
	}
	if !l.graph.registered(snap.Owner) {
		return fmt.Errorf("failed to restore ledger: owner %s is not registered", snap.Owner.Hex())
	}
	for _, p := range snap.Positions {
		if p.ID != uint64(len(l.positions))+1 {
			return fmt.Errorf("failed to restore ledger: position %d out of sequence", p.ID)
		}
		if err := l.registry.mint(p.Investor, p.ID); err != nil {
			return err
		}
		l.positions = append(l.positions, p)
		l.total.Add(l.total, p.Amount)
	}
	if snap.Counter != uint64(len(l.positions)) {
		return fmt.Errorf("failed to restore ledger: counter %d with %d positions", snap.Counter, len(l.positions))
	}
	l.counter = snap.Counter
	return nil
}

// apply makes a committed batch visible. Batches are checked before they
// are committed, so nothing here can fail.
func (l *Ledger) apply(b *Batch) {
	if b.Owner != nil {
		l.owner = *b.Owner
	}
	if b.BasePointer != nil {
		l.registry.basePointer = *b.BasePointer
	}
	if b.Account != nil {
		_ = l.graph.add(*b.Account)
	}
	if b.Position != nil {
		_ = l.registry.mint(b.Position.Investor, b.Position.ID)
		l.positions = append(l.positions, *b.Position)
		l.total.Add(l.total, b.Position.Amount)
	}
	if b.Counter != nil {
		l.counter = *b.Counter
	}
}

func (l *Ledger) inRange(amount *big.Int) bool {
	return amount != nil &&
		amount.Cmp(l.cfg.MinInvestment) >= 0 &&
		amount.Cmp(l.cfg.MaxInvestment) <= 0
}

// Invest pulls amount from caller and records a new position referred by
// referrer. Checks run in a fixed order: referrer, amount bounds, then the
// fund pull. It returns the id of the new position.
func (l *Ledger) Invest(
	ctx context.Context,
	caller common.Address,
	beneficiaryTag common.Address,
	referrer common.Address,
	amount *big.Int,
) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.graph.require(referrer); err != nil {
		l.rec.Failed("referrer_not_found")
		return 0, err
	}
	if !l.inRange(amount) {
		l.rec.Failed("amount_out_of_range")
		return 0, fmt.Errorf("%w: %s not in [%s, %s]", ErrAmountOutOfRange, amount, l.cfg.MinInvestment, l.cfg.MaxInvestment)
	}
	amount = new(big.Int).Set(amount)

	if err := l.gateway.TransferFrom(ctx, caller, l.cfg.Custody, amount); err != nil {
		if errors.Is(err, ErrTransferPending) {
			l.rec.Failed("transfer_pending")
			l.log.Error("investment transfer unconfirmed, no position recorded",
				zap.String("investor", caller.Hex()),
				zap.String("amount", amount.String()),
				zap.Error(err))
			return 0, err
		}
		l.rec.Failed("transfer_failed")
		return 0, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	// Funds have moved; the rest of the call must not depend on the caller.
	ctx = context.WithoutCancel(ctx)

	now := l.now()
	id := l.counter + 1
	b := &Batch{
		Counter: &id,
		Position: &Position{
			ID:             id,
			Investor:       caller,
			Referrer:       referrer,
			BeneficiaryTag: beneficiaryTag,
			Amount:         amount,
			CreatedAt:      now,
		},
		Event: &Invested{
			BeneficiaryTag: beneficiaryTag,
			Referrer:       referrer,
			Investor:       caller,
			Amount:         new(big.Int).Set(amount),
		},
	}
	if !l.graph.registered(caller) {
		b.Account = &Account{Address: caller, Referrer: referrer, RegisteredAt: now}
	}

	if err := l.store.Commit(ctx, b); err != nil {
		l.rec.Failed("commit_failed")
		l.refund(ctx, caller, amount)
		return 0, fmt.Errorf("%w: position %d: %w", ErrCommitFailed, id, err)
	}
	l.apply(b)
	l.rec.Invested(amount)
	l.log.Info("investment committed",
		zap.Uint64("position", id),
		zap.String("investor", caller.Hex()),
		zap.String("referrer", referrer.Hex()),
		zap.String("amount", amount.String()))

	if err := notifyAll(ctx, *b.Event, l.subs...); err != nil {
		l.log.Warn("audit subscriber failed", zap.Uint64("position", id), zap.Error(err))
	}
	return id, nil
}

// refund returns pulled funds when the batch could not be persisted.
func (l *Ledger) refund(ctx context.Context, to common.Address, amount *big.Int) {
	if err := l.gateway.Transfer(ctx, to, amount); err != nil {
		l.log.Error("failed to refund investment",
			zap.String("investor", to.Hex()),
			zap.String("amount", amount.String()),
			zap.Error(err))
		return
	}
	l.log.Warn("investment refunded", zap.String("investor", to.Hex()), zap.String("amount", amount.String()))
}

// UpdateBasePointer replaces the metadata pointer for every position.
func (l *Ledger) UpdateBasePointer(ctx context.Context, caller common.Address, value string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		l.rec.Failed("unauthorized")
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller.Hex())
	}
	b := &Batch{BasePointer: &value}
	if err := l.store.Commit(ctx, b); err != nil {
		l.rec.Failed("commit_failed")
		return fmt.Errorf("%w: base pointer: %w", ErrCommitFailed, err)
	}
	l.apply(b)
	l.rec.BasePointerUpdated()
	l.log.Info("base pointer updated", zap.String("value", value))
	return nil
}

func (l *Ledger) TokenURI(id uint64) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.registry.tokenURI(id)
}

func (l *Ledger) OwnerOf(id uint64) (common.Address, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.registry.ownerOf(id)
}

// BalanceOf returns the number of position tokens held by addr.
func (l *Ledger) BalanceOf(addr common.Address) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.registry.balanceOf(addr)
}

func (l *Ledger) PositionsOf(addr common.Address) []uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.registry.tokensOf(addr)
}

func (l *Ledger) Position(id uint64) (Position, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if id == 0 || id > uint64(len(l.positions)) {
		return Position{}, fmt.Errorf("%w: %d", ErrPositionNotFound, id)
	}
	p := l.positions[id-1]
	p.Amount = new(big.Int).Set(p.Amount)
	return p, nil
}

func (l *Ledger) PositionCount() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.counter
}

func (l *Ledger) Owner() common.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.owner
}

func (l *Ledger) Custody() common.Address {
	return l.cfg.Custody
}

func (l *Ledger) BasePointer() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.registry.basePointer
}

func (l *Ledger) IsRegistered(addr common.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.graph.registered(addr)
}

func (l *Ledger) Account(addr common.Address) (Account, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.graph.get(addr)
}

func (l *Ledger) Accounts() []Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.graph.accounts()
}

// ReferralCount returns the number of accounts addr referred directly.
func (l *Ledger) ReferralCount(addr common.Address) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.graph.referrals(addr)
}

// Upline returns the referrers of addr from its direct referrer towards the
// root, at most depth entries (all of them when depth <= 0).
func (l *Ledger) Upline(addr common.Address, depth int) []common.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.graph.upline(addr, depth)
}

// TotalInvested is the sum of all position amounts, i.e. what custody must hold.
func (l *Ledger) TotalInvested() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.total)
}

func (l *Ledger) Bounds() (lo, hi *big.Int) {
	return new(big.Int).Set(l.cfg.MinInvestment), new(big.Int).Set(l.cfg.MaxInvestment)
}
