package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

const noParent = -1

type referralNode struct {
	account Account
	parent  int
	invited int
}

// referralGraph is the referral forest stored as an arena: each node keeps
// the index of its referrer, and a node may only be linked to a referrer
// that is already present, so the graph can never contain a cycle.
type referralGraph struct {
	nodes []referralNode
	index map[common.Address]int
}

func newReferralGraph() *referralGraph {
	return &referralGraph{index: make(map[common.Address]int)}
}

// require fails unless addr resolves to a registered account. The zero
// address gets no special treatment.
func (g *referralGraph) require(addr common.Address) error {
	if !g.registered(addr) {
		return fmt.Errorf("%w: %s", ErrReferrerNotFound, addr.Hex())
	}
	return nil
}

func (g *referralGraph) registered(addr common.Address) bool {
	_, ok := g.index[addr]
	return ok
}

// add links a into the forest. Registering an address twice is a no-op and
// never re-links it.
func (g *referralGraph) add(a Account) error {
	if g.registered(a.Address) {
		return nil
	}
	parent := noParent
	if !a.Root {
		i, ok := g.index[a.Referrer]
		if !ok {
			return fmt.Errorf("%w: %s", ErrReferrerNotFound, a.Referrer.Hex())
		}
		parent = i
		g.nodes[i].invited++
	}
	g.index[a.Address] = len(g.nodes)
	g.nodes = append(g.nodes, referralNode{account: a, parent: parent})
	return nil
}

func (g *referralGraph) get(addr common.Address) (Account, bool) {
	i, ok := g.index[addr]
	if !ok {
		return Account{}, false
	}
	return g.nodes[i].account, true
}

func (g *referralGraph) referrals(addr common.Address) int {
	i, ok := g.index[addr]
	if !ok {
		return 0
	}
	return g.nodes[i].invited
}

// upline walks up to depth referrers starting from addr's direct referrer.
// A depth of zero or less walks up to the root.
func (g *referralGraph) upline(addr common.Address, depth int) []common.Address {
	i, ok := g.index[addr]
	if !ok {
		return nil
	}
	var out []common.Address
	for p := g.nodes[i].parent; p != noParent; p = g.nodes[p].parent {
		if depth > 0 && len(out) == depth {
			break
		}
		out = append(out, g.nodes[p].account.Address)
	}
	return out
}

func (g *referralGraph) accounts() []Account {
	out := make([]Account, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.account
	}
	return out
}
