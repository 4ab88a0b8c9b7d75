package worker

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	shortfallKey = "reconcile:shortfall_warned"
	lastRunKey   = "reconcile:last"
	warnEvery    = 24 * time.Hour
)

// Ledger is the part of the ledger the reconciler reads.
type Ledger interface {
	Custody() common.Address
	TotalInvested() *big.Int
}

// Balances reports token balances; ledger.PaymentGateway satisfies it.
type Balances interface {
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
}

// Reconciler periodically checks that the custody account still holds at
// least the sum of all committed investments.
type Reconciler struct {
	Ledger   Ledger
	Balances Balances
	Redis    *redis.Client // optional
	Log      *zap.Logger
	Interval time.Duration
}

func NewReconciler(l Ledger, b Balances, rdb *redis.Client, log *zap.Logger, interval time.Duration) *Reconciler {
	return &Reconciler{
		Ledger:   l,
		Balances: b,
		Redis:    rdb,
		Log:      log,
		Interval: interval,
	}
}

// Result of one reconciliation pass.
type Result struct {
	Invested  *big.Int
	Held      *big.Int
	Shortfall *big.Int // zero when custody is covered
}

// Start runs a pass immediately and then on every tick until ctx is done.
func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	r.Log.Info("custody reconciler started", zap.Duration("interval", r.Interval))

	r.run(ctx)
	for {
		select {
		case <-ctx.Done():
			r.Log.Info("custody reconciler stopped")
			return
		case <-ticker.C:
			r.run(ctx)
		}
	}
}

func (r *Reconciler) run(ctx context.Context) {
	if _, err := r.Check(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.Log.Error("custody reconciliation failed", zap.Error(err))
	}
}

func (r *Reconciler) Check(ctx context.Context) (Result, error) {
	invested := r.Ledger.TotalInvested()
	held, err := r.Balances.BalanceOf(ctx, r.Ledger.Custody())
	if err != nil {
		return Result{}, err
	}
	res := Result{Invested: invested, Held: held, Shortfall: new(big.Int)}
	if held.Cmp(invested) < 0 {
		res.Shortfall.Sub(invested, held)
		if r.shouldWarn(ctx) {
			r.Log.Warn("custody balance below invested total",
				zap.String("custody", r.Ledger.Custody().Hex()),
				zap.String("invested", invested.String()),
				zap.String("held", held.String()),
				zap.String("shortfall", res.Shortfall.String()))
		}
	} else {
		r.Log.Debug("custody covered", zap.String("invested", invested.String()), zap.String("held", held.String()))
	}
	if r.Redis != nil {
		if err := r.Redis.Set(ctx, lastRunKey, time.Now().Unix(), 0).Err(); err != nil {
			r.Log.Warn("failed to record reconciliation", zap.Error(err))
		}
	}
	return res, nil
}

// shouldWarn limits shortfall warnings to one per warnEvery when redis is
// configured.
func (r *Reconciler) shouldWarn(ctx context.Context) bool {
	if r.Redis == nil {
		return true
	}
	ok, err := r.Redis.SetNX(ctx, shortfallKey, "true", warnEvery).Result()
	if err != nil {
		return true
	}
	return ok
}
