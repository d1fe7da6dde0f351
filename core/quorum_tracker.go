package core

import "sync"

// QuorumTracker counts distinct delegate co-signers against a required
// threshold. Used by the Catch-Up Engine (spec.md §4.9) to verify a
// caught-up block carries the minimum forger signature quorum, one
// tracker per in-flight block rather than the single global instance
// the opcode-dispatcher version of this type once exposed.
type QuorumTracker struct {
	mu        sync.Mutex
	threshold int
	votes     map[Address]struct{}
	total     int
}

// NewQuorumTracker returns a tracker requiring threshold distinct votes
// out of total possible signers. threshold is clamped to total if it
// falls outside (0, total].
func NewQuorumTracker(total, threshold int) *QuorumTracker {
	if threshold <= 0 || threshold > total {
		threshold = total
	}
	return &QuorumTracker{
		threshold: threshold,
		votes:     make(map[Address]struct{}),
		total:     total,
	}
}

// AddVote records a vote from addr, ignoring duplicates, and returns
// the current number of distinct votes.
func (qt *QuorumTracker) AddVote(addr Address) int {
	qt.mu.Lock()
	qt.votes[addr] = struct{}{}
	n := len(qt.votes)
	qt.mu.Unlock()
	return n
}

// HasQuorum reports whether the distinct vote count has reached threshold.
func (qt *QuorumTracker) HasQuorum() bool {
	qt.mu.Lock()
	n := len(qt.votes)
	qt.mu.Unlock()
	return n >= qt.threshold
}

// Count returns the current number of distinct votes.
func (qt *QuorumTracker) Count() int {
	qt.mu.Lock()
	defer qt.mu.Unlock()
	return len(qt.votes)
}
