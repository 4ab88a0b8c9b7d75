package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PaymentGateway is the fungible token the ledger pulls investments from.
// Transfer and TransferFrom are executed by the ledger's custody account.
type PaymentGateway interface {
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) error
	Transfer(ctx context.Context, to common.Address, amount *big.Int) error
}

// Store persists committed batches. Load returns a nil snapshot for a
// ledger that was never initialized.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Commit(ctx context.Context, b *Batch) error
}

type nopStore struct{}

func (nopStore) Load(context.Context) (*Snapshot, error) { return nil, nil }

func (nopStore) Commit(context.Context, *Batch) error { return nil }

// Recorder receives operation outcomes for instrumentation.
type Recorder interface {
	Invested(amount *big.Int)
	Failed(reason string)
	BasePointerUpdated()
}

type nopRecorder struct{}

func (nopRecorder) Invested(*big.Int)   {}
func (nopRecorder) Failed(string)       {}
func (nopRecorder) BasePointerUpdated() {}
