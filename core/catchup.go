package core

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sacOO7/ldpos-chain/pkg/config"
)

// getBlocksFromHeightRequest is the wire payload for the
// "getBlocksFromHeight" peer procedure (spec.md §4.9 step 1).
type getBlocksFromHeightRequest struct {
	Height        uint64 `json:"height"`
	Limit         int    `json:"limit"`
	CorrelationId string `json:"correlationId"`
}

// CatchUpEngine implements spec.md §4.9: pulls signed blocks from peers
// in fetchBlockLimit-sized batches, verifies batch linkage and sampled
// peer consensus before trusting a batch, then fully verifies and
// processes each block in order. Grounded on blockchain_synchronization.go's
// SyncManager loop shape, generalized from the teacher's PoW
// longest-chain fetch to DPoS's append-only, quorum-gated catch-up.
type CatchUpEngine struct {
	cfg         *config.Config
	verifier    *BlockVerifier
	sigVerifier *BlockSigVerifier
	processor   *BlockProcessor
	cache       *DelegateCache
	network     NetworkChannel
	logger      *logrus.Logger
	metrics     *Metrics
}

// SetMetrics attaches an optional Metrics collector (ops surface only;
// Run behaves identically without one).
func (c *CatchUpEngine) SetMetrics(m *Metrics) { c.metrics = m }

// NewCatchUpEngine builds a CatchUpEngine bound to its collaborators.
func NewCatchUpEngine(cfg *config.Config, verifier *BlockVerifier, sigVerifier *BlockSigVerifier, processor *BlockProcessor, cache *DelegateCache, network NetworkChannel, logger *logrus.Logger) *CatchUpEngine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CatchUpEngine{cfg: cfg, verifier: verifier, sigVerifier: sigVerifier, processor: processor, cache: cache, network: network, logger: logger}
}

// Run catches up from last until no further blocks are available or a
// fatal condition is hit, returning the new tip and how many blocks
// were added (spec.md §4.9).
func (c *CatchUpEngine) Run(ctx context.Context, last *Block) (*Block, int, error) {
	added := 0
	failures := 0
	recordFailure := func() {
		failures++
		if c.metrics != nil {
			c.metrics.ObserveCatchUpFailure()
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return last, added, err
		}

		batch, err := c.requestBatch(ctx, last.Height+1)
		if err != nil {
			recordFailure()
			c.logger.WithError(err).Warn("catch-up: block fetch failed")
			if failures > c.cfg.MaxConsecutiveBlockFetchFailures {
				return last, added, orderingErr("catch-up aborted: exceeded maxConsecutiveBlockFetchFailures")
			}
			continue
		}
		if len(batch) == 0 {
			return last, added, nil
		}

		if !c.batchLinks(last, batch) {
			recordFailure()
			c.logger.Warn("catch-up: discarding batch with broken linkage")
			if failures > c.cfg.MaxConsecutiveBlockFetchFailures {
				return last, added, orderingErr("catch-up aborted: exceeded maxConsecutiveBlockFetchFailures")
			}
			continue
		}

		if !c.sampledConsensusConfirms(ctx, batch[len(batch)-1].Id) {
			recordFailure()
			c.logger.Warn("catch-up: discarding batch lacking peer consensus")
			if failures > c.cfg.MaxConsecutiveBlockFetchFailures {
				return last, added, orderingErr("catch-up aborted: exceeded maxConsecutiveBlockFetchFailures")
			}
			continue
		}
		failures = 0

		for _, b := range batch {
			activeDelegates := c.cache.ActiveDelegates()
			vb, err := c.verifier.Verify(ctx, b, last, activeDelegates)
			if err != nil {
				return last, added, err
			}
			if err := c.verifyEnclosedQuorum(ctx, vb, activeDelegates); err != nil {
				return last, added, err
			}
			if !MeetsMinimumTransactionsPolicy(c.cfg, len(b.Transactions), vb.DelegateChangedKeys) {
				return last, added, validationErr("caught-up block fails minimum-transactions policy")
			}
			if err := c.processor.Process(ctx, vb); err != nil {
				return last, added, err
			}
			last = b
			added++
		}
		if c.metrics != nil {
			c.metrics.ObserveCatchUpBlocks(len(batch))
		}

		if len(batch) < c.cfg.FetchBlockLimit {
			return last, added, nil
		}
	}
}

// requestBatch fetches up to fetchBlockLimit signed blocks starting at
// fromHeight from a peer advertising blockSignaturesToFetch signatures
// per block (spec.md §4.9 step 1-2).
func (c *CatchUpEngine) requestBatch(ctx context.Context, fromHeight uint64) ([]*Block, error) {
	correlationId := uuid.NewString()
	reqCap := func(pc PeerCapabilities) bool {
		return pc.BlockSignaturesIndicator >= c.cfg.BlockSignaturesToFetch
	}
	c.logger.WithFields(logrus.Fields{"correlationId": correlationId, "fromHeight": fromHeight}).Debug("catch-up: requesting block batch")
	raw, err := c.network.Request(ctx, "getBlocksFromHeight", getBlocksFromHeightRequest{
		Height:        fromHeight,
		Limit:         c.cfg.FetchBlockLimit,
		CorrelationId: correlationId,
	}, reqCap)
	if err != nil {
		return nil, err
	}
	var batch []*Block
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, validationErr("malformed getBlocksFromHeight response: %v", err)
	}
	if len(batch) > c.cfg.FetchBlockLimit {
		return nil, validationErr("batch exceeds fetchBlockLimit")
	}
	return batch, nil
}

// batchLinks checks the batch's first previousBlockId against last and
// every subsequent block's linkage to its predecessor (spec.md §4.9
// step 3).
func (c *CatchUpEngine) batchLinks(last *Block, batch []*Block) bool {
	if batch[0].PreviousBlockId != last.Id || batch[0].Height != last.Height+1 {
		return false
	}
	for i := 1; i < len(batch); i++ {
		if batch[i].PreviousBlockId != batch[i-1].Id || batch[i].Height != batch[i-1].Height+1 {
			return false
		}
	}
	return true
}

// sampledConsensusConfirms polls catchUpConsensusPollCount peers for
// hasBlock(lastBlockInBatch.id), fanning out concurrently (spec.md §5's
// "catch-up's peer sampling"), and requires at least
// catchUpConsensusMinRatio of them to confirm (spec.md §4.9 step 4).
func (c *CatchUpEngine) sampledConsensusConfirms(ctx context.Context, blockId string) bool {
	peers := c.network.ListPeers()
	if len(peers) == 0 {
		return true // no peers to sample against; trust the fetched batch
	}
	n := c.cfg.CatchUpConsensusPollCount
	if n > len(peers) {
		n = len(peers)
	}
	sample := append([]Peer(nil), peers...)
	rand.Shuffle(len(sample), func(i, j int) { sample[i], sample[j] = sample[j], sample[i] })
	sample = sample[:n]

	var (
		mu         sync.Mutex
		confirmed  int
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range sample {
		p := p
		g.Go(func() error {
			ok, err := c.network.HasBlock(gctx, p.ID, blockId)
			if err != nil {
				return nil // a failed poll simply doesn't count as a confirmation
			}
			if ok {
				mu.Lock()
				confirmed++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	ratio := float64(confirmed) / float64(n)
	return ratio >= c.cfg.CatchUpConsensusMinRatio
}

// verifyEnclosedQuorum checks that a caught-up block carries at least
// ⌊activeDelegateCount · minForgerBlockSignatureRatio⌋ valid,
// distinct-signer co-signatures (spec.md §4.9 step 5's "full forged-block
// verification (including quorum of enclosed signatures)").
func (c *CatchUpEngine) verifyEnclosedQuorum(ctx context.Context, vb *VerifiedBlock, activeDelegates []Address) error {
	required := int(float64(len(activeDelegates)) * c.cfg.MinForgerBlockSignatureRatio)
	tracker := NewQuorumTracker(len(activeDelegates), required)
	for _, sig := range vb.Block.Signatures {
		sig := sig
		if err := c.sigVerifier.Verify(ctx, vb.Block, &sig, c.cache); err != nil {
			continue
		}
		tracker.AddVote(sig.SignerAddress)
	}
	if !tracker.HasQuorum() {
		return orderingErr("caught-up block lacks signature quorum: have %d, need %d", tracker.Count(), required)
	}
	return nil
}
