package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// positionRegistry records ownership of position tokens. Every position is
// minted exactly once to its investor and the metadata pointer is shared by
// the whole collection.
type positionRegistry struct {
	owners      map[uint64]common.Address
	held        map[common.Address][]uint64
	basePointer string
}

func newPositionRegistry() *positionRegistry {
	return &positionRegistry{
		owners: make(map[uint64]common.Address),
		held:   make(map[common.Address][]uint64),
	}
}

func (r *positionRegistry) mint(to common.Address, id uint64) error {
	if _, ok := r.owners[id]; ok {
		return fmt.Errorf("position %d already minted", id)
	}
	r.owners[id] = to
	r.held[to] = append(r.held[to], id)
	return nil
}

// tokenURI returns the base pointer verbatim; it is not joined with the id.
func (r *positionRegistry) tokenURI(id uint64) (string, error) {
	if _, ok := r.owners[id]; !ok {
		return "", fmt.Errorf("%w: %d", ErrPositionNotFound, id)
	}
	return r.basePointer, nil
}

func (r *positionRegistry) ownerOf(id uint64) (common.Address, error) {
	owner, ok := r.owners[id]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %d", ErrPositionNotFound, id)
	}
	return owner, nil
}

func (r *positionRegistry) balanceOf(addr common.Address) int {
	return len(r.held[addr])
}

func (r *positionRegistry) tokensOf(addr common.Address) []uint64 {
	return append([]uint64(nil), r.held[addr]...)
}
