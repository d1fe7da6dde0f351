package core

import (
	"context"
	"sync"

	"github.com/google/btree"
	lru "github.com/hashicorp/golang-lru/v2"
)

// delegateEntry is the btree item ordering delegates by descending
// voteWeight with ascending-address tie-break (spec.md §4.1).
type delegateEntry struct {
	addr   Address
	weight *BigInt
}

// Less orders by descending weight, then ascending address — mirroring
// the teacher's AuthoritySet.ListAuthorities active-set ordering in
// authority_nodes.go, generalized from insertion order to a real
// weighted ranking via google/btree.
func (e delegateEntry) Less(than btree.Item) bool {
	o := than.(delegateEntry)
	if c := e.weight.Cmp(o.weight); c != 0 {
		return c > 0
	}
	return e.addr < o.addr
}

// DelegateCache maintains the top-N active-delegate ranking used by the
// Time/Slot Clock (spec.md §4.1) and is refreshed once per forged block
// (§4.6). A bounded LRU sits in front of point lookups by address so
// repeated ForgerForSlot/membership checks within a slot avoid walking
// the tree.
type DelegateCache struct {
	mu        sync.RWMutex
	tree      *btree.BTree
	byAddr    map[Address]*BigInt
	topN      int
	lookupLRU *lru.Cache[Address, bool]
}

// NewDelegateCache builds an empty cache retaining the top topN
// delegates by vote weight (forgerCount, spec.md §6).
func NewDelegateCache(topN int) (*DelegateCache, error) {
	lookup, err := lru.New[Address, bool](topN * 4)
	if err != nil {
		return nil, err
	}
	return &DelegateCache{
		tree:      btree.New(32),
		byAddr:    make(map[Address]*BigInt),
		topN:      topN,
		lookupLRU: lookup,
	}, nil
}

// Refresh rebuilds the cache from the top-N delegates by vote weight,
// as returned by the DAL (spec.md §4.1/§4.6). Called once per processed
// block.
func (c *DelegateCache) Refresh(ctx context.Context, dal DAL) error {
	delegates, err := dal.GetDelegatesByVoteWeight(ctx, 0, c.topN, SortDescending)
	if err != nil {
		return err
	}

	newTree := btree.New(32)
	newByAddr := make(map[Address]*BigInt, len(delegates))
	for _, d := range delegates {
		newTree.ReplaceOrInsert(delegateEntry{addr: d.Address, weight: d.VoteWeight})
		newByAddr[d.Address] = d.VoteWeight
	}

	c.mu.Lock()
	c.tree = newTree
	c.byAddr = newByAddr
	c.lookupLRU.Purge()
	c.mu.Unlock()
	return nil
}

// ActiveDelegates returns the current top-N ordering, descending weight
// then ascending address, for use with ForgerForSlot.
func (c *DelegateCache) ActiveDelegates() []Address {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Address, 0, c.tree.Len())
	c.tree.Ascend(func(item btree.Item) bool {
		out = append(out, item.(delegateEntry).addr)
		return len(out) < c.topN
	})
	return out
}

// IsActive reports whether addr is currently in the top-N set, serving
// repeated lookups (e.g. gossip-signature eligibility checks) from the
// bounded LRU before falling back to the tree.
func (c *DelegateCache) IsActive(addr Address) bool {
	if v, ok := c.lookupLRU.Get(addr); ok {
		return v
	}
	c.mu.RLock()
	_, ok := c.byAddr[addr]
	c.mu.RUnlock()
	c.lookupLRU.Add(addr, ok)
	return ok
}

// Len returns the number of delegates currently cached.
func (c *DelegateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tree.Len()
}
