package ledger

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Account is a registered participant of the referral forest. Root accounts
// have no referrer.
type Account struct {
	Address      common.Address
	Referrer     common.Address
	Root         bool
	RegisteredAt time.Time
}

// Position is the immutable record of one successful investment.
type Position struct {
	ID             uint64
	Investor       common.Address
	Referrer       common.Address
	BeneficiaryTag common.Address
	Amount         *big.Int
	CreatedAt      time.Time
}

// Invested is emitted once per committed investment.
type Invested struct {
	BeneficiaryTag common.Address
	Referrer       common.Address
	Investor       common.Address
	Amount         *big.Int
}

// Snapshot is the full persisted state of a ledger.
type Snapshot struct {
	Owner       common.Address
	BasePointer string
	Counter     uint64
	Accounts    []Account
	Positions   []Position
}

// Batch is the set of mutations produced by one operation. It is applied
// to the store and to memory only after every check has passed.
type Batch struct {
	// Owner is only set by the genesis batch.
	Owner       *common.Address
	BasePointer *string
	Counter     *uint64
	Account     *Account
	Position    *Position
	Event       *Invested
}
