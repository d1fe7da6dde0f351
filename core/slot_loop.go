package core

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sacOO7/ldpos-chain/pkg/config"
)

// LocalForgingIdentity pairs a wallet address the node forges/co-signs
// on behalf of with the already-Connect'd Crypto Client owning its
// stateful keys (spec.md §6 forgingCredentials, one CryptoClient
// connection per credential).
type LocalForgingIdentity struct {
	WalletAddress Address
	Crypto        CryptoClient
}

// SlotLoop drives the single logical thread of control described in
// spec.md §4.8/§5: CATCH_UP → WAIT_SLOT → FORGE_OR_RECEIVE →
// COLLECT_SIGS → PROCESS, repeating every slot until stopped. Grounded
// on consensus.go's blockLoop/subBlockLoop ticking shape, generalized
// from two independent PoH/PoW tickers into a single cooperative state
// machine, and on chain_fork_manager.go's fork bookkeeping, narrowed
// from longest-fork reorg (dropped: DPoS blocks are final once
// processed) to a per-timestamp first-seen-id double-forge guard.
type SlotLoop struct {
	cfg         *config.Config
	clock       *SlotClock
	cache       *DelegateCache
	verifier    *BlockVerifier
	sigVerifier *BlockSigVerifier
	processor   *BlockProcessor
	forger      *Forger
	catchUp     *CatchUpEngine
	network     NetworkChannel
	events      *EventBus
	identities  []LocalForgingIdentity
	logger      *logrus.Logger

	blockStream *broadcastStream[*VerifiedBlock]
	sigStream   *broadcastStream[*BlockSignature]

	mu              sync.Mutex
	active          bool
	doubleForgeSeen map[int64]string
	doubleForgeSent map[int64]bool
	currentBlock    *Block
	metrics         *Metrics
}

// SetMetrics attaches an optional Metrics collector (ops surface only;
// Run behaves identically without one).
func (l *SlotLoop) SetMetrics(m *Metrics) { l.metrics = m }

// NewSlotLoop builds a SlotLoop bound to its collaborators.
func NewSlotLoop(
	cfg *config.Config,
	clock *SlotClock,
	cache *DelegateCache,
	verifier *BlockVerifier,
	sigVerifier *BlockSigVerifier,
	processor *BlockProcessor,
	forger *Forger,
	catchUp *CatchUpEngine,
	network NetworkChannel,
	events *EventBus,
	identities []LocalForgingIdentity,
	logger *logrus.Logger,
) *SlotLoop {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SlotLoop{
		cfg:             cfg,
		clock:           clock,
		cache:           cache,
		verifier:        verifier,
		sigVerifier:     sigVerifier,
		processor:       processor,
		forger:          forger,
		catchUp:         catchUp,
		network:         network,
		events:          events,
		identities:      identities,
		logger:          logger,
		blockStream:     newBroadcastStream[*VerifiedBlock](),
		sigStream:       newBroadcastStream[*BlockSignature](),
		doubleForgeSeen: make(map[int64]string),
		doubleForgeSent: make(map[int64]bool),
	}
}

// PublishVerifiedBlock feeds a gossip-received, already-verified block
// into the loop's verifiedBlockInfoStream (spec.md §4.10).
func (l *SlotLoop) PublishVerifiedBlock(vb *VerifiedBlock) { l.blockStream.Publish(vb) }

// PublishSignature feeds a gossip-received block signature into the
// loop's verifiedBlockSignatureStream (spec.md §4.10).
func (l *SlotLoop) PublishSignature(sig *BlockSignature) { l.sigStream.Publish(sig) }

// ObserveBlockTimestamp records the first block id seen for a given
// slot timestamp and reports whether this is a double-forge (a second,
// different id for a timestamp already claimed). Callers — the loop
// itself and the Block gossip handler — share this single tracker so a
// double-forge detected by either path refuses local co-signing for
// that timestamp (spec.md §4.8 double-forging defence).
func (l *SlotLoop) ObserveBlockTimestamp(timestamp int64, id string) (isDoubleForge, shouldPropagateOnce bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	first, ok := l.doubleForgeSeen[timestamp]
	if !ok {
		l.doubleForgeSeen[timestamp] = id
		return false, false
	}
	if first == id {
		return false, false
	}
	already := l.doubleForgeSent[timestamp]
	l.doubleForgeSent[timestamp] = true
	if !already && l.metrics != nil {
		l.metrics.ObserveDoubleForge()
	}
	return true, !already
}

func (l *SlotLoop) refusesSigningFor(timestamp int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, doubleForged := l.doubleForgeSent[timestamp]
	return doubleForged
}

// Stop cooperatively ends the loop after its current slot completes.
func (l *SlotLoop) Stop() {
	l.mu.Lock()
	l.active = false
	l.mu.Unlock()
}

func (l *SlotLoop) isActive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// CurrentBlock returns the block currently in FORGE_OR_RECEIVE/COLLECT_SIGS
// for this slot, or nil between slots. The Gossip Block Signature handler
// (spec.md §4.10) uses this to resolve an incoming signature's BlockId
// against the block it actually co-signs.
func (l *SlotLoop) CurrentBlock() *Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentBlock
}

func (l *SlotLoop) setCurrentBlock(b *Block) {
	l.mu.Lock()
	l.currentBlock = b
	l.mu.Unlock()
}

// Run executes the block-slot loop until ctx is cancelled or Stop is
// called. It is the sole caller of the Block Processor (spec.md §5:
// "only one Block Processor execution is active at a time").
func (l *SlotLoop) Run(ctx context.Context, last *Block) error {
	l.mu.Lock()
	l.active = true
	l.mu.Unlock()

	for l.isActive() {
		if err := ctx.Err(); err != nil {
			return err
		}

		newLast, _, err := l.catchUp.Run(ctx, last)
		if err != nil {
			l.logger.WithError(err).Warn("catch-up failed; retrying next iteration")
		} else {
			last = newLast
		}
		if l.cfg.AutoSyncForgingKeyIndex {
			l.syncForgingKeyIndices(ctx)
		}

		fromSlot := l.clock.SlotIndex(time.UnixMilli(last.Timestamp))
		slot, err := l.clock.WaitUntilNextBlockTimeSlot(ctx, fromSlot)
		if err != nil {
			return err
		}

		activeDelegates := l.cache.ActiveDelegates()
		vb, err := l.forgeOrReceive(ctx, slot, last, activeDelegates)
		if err != nil {
			l.logger.WithError(err).Info("slot skipped: no block to process")
			l.events.Publish(EventChainChanges, ChainChangePayload{Type: ChainChangeSkipBlock})
			continue
		}
		l.setCurrentBlock(vb.Block)

		sigErr := l.collectSigs(ctx, vb, activeDelegates)
		l.setCurrentBlock(nil)
		if sigErr != nil {
			l.logger.WithError(sigErr).Info("slot skipped: signature quorum not reached")
			l.events.Publish(EventChainChanges, ChainChangePayload{Type: ChainChangeSkipBlock, Block: vb.Block})
			continue
		}

		if !MeetsMinimumTransactionsPolicy(l.cfg, len(vb.Block.Transactions), vb.DelegateChangedKeys) {
			l.events.Publish(EventChainChanges, ChainChangePayload{Type: ChainChangeSkipBlock, Block: vb.Block})
			continue
		}

		if err := l.processor.Process(ctx, vb); err == nil {
			last = vb.Block
		} else {
			l.logger.WithError(err).Error("block processing failed")
		}
	}
	return nil
}

func (l *SlotLoop) syncForgingKeyIndices(ctx context.Context) {
	for _, id := range l.identities {
		if _, err := id.Crypto.SyncKeyIndex(ctx, SchemeForging); err != nil {
			l.logger.WithError(err).WithField("wallet", id.WalletAddress).Warn("forging key index sync failed")
		}
	}
}

func (l *SlotLoop) localIdentity(addr Address) (LocalForgingIdentity, bool) {
	for _, id := range l.identities {
		if id.WalletAddress == addr {
			return id, true
		}
	}
	return LocalForgingIdentity{}, false
}

// forgeOrReceive implements spec.md §4.8's FORGE_OR_RECEIVE stage.
func (l *SlotLoop) forgeOrReceive(ctx context.Context, slot int64, last *Block, activeDelegates []Address) (*VerifiedBlock, error) {
	timestamp := l.clock.SlotTimestamp(slot)
	forgerAddr, ok := ForgerForSlot(slot, activeDelegates)
	if !ok {
		return nil, validationErr("no active delegates to assign a forger for slot %d", slot)
	}

	if identity, isLocal := l.localIdentity(forgerAddr); isLocal {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.cfg.ForgingBlockBroadcastDelay):
		}
		if l.refusesSigningFor(timestamp) {
			return nil, orderingErr("refusing to forge: timestamp %d already double-forged", timestamp)
		}

		block, err := l.forger.Forge(ctx, timestamp, last, forgerAddr, identity.Crypto)
		if err != nil {
			return nil, err
		}
		if isDouble, _ := l.ObserveBlockTimestamp(timestamp, block.Id); isDouble {
			return nil, orderingErr("self-forged block collided with an already-observed timestamp")
		}

		vb, err := l.verifier.Verify(ctx, block, last, activeDelegates)
		if err != nil {
			return nil, err
		}
		l.blockStream.Publish(vb)
		if l.network != nil {
			_ = l.network.Emit(ctx, string(GossipBlock), block, 0)
		}
		return vb, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, l.cfg.ForgingBlockBroadcastDelay+l.cfg.PropagationTimeout)
	defer cancel()
	vb, err := l.blockStream.AwaitOne(waitCtx, func(vb *VerifiedBlock) bool {
		return vb.Block.Timestamp == timestamp
	})
	if err != nil {
		return nil, orderingErr("timed out awaiting a verified block for slot %d", slot)
	}
	return vb, nil
}

// collectSigs implements spec.md §4.8's COLLECT_SIGS stage: local
// non-forger identities self-sign, and the loop concurrently awaits
// gossip-relayed signatures until quorum or timeout.
func (l *SlotLoop) collectSigs(ctx context.Context, vb *VerifiedBlock, activeDelegates []Address) error {
	required := int(math.Floor(float64(len(activeDelegates)) * l.cfg.MinForgerBlockSignatureRatio))
	collected := make(map[Address]bool)

	for _, identity := range l.identities {
		if identity.WalletAddress == vb.Block.ForgerAddress {
			continue
		}
		sig, err := identity.Crypto.SignBlockSignature(ctx, vb.Block)
		if err != nil {
			l.logger.WithError(err).WithField("wallet", identity.WalletAddress).Warn("co-signature failed")
			continue
		}
		if err := l.sigVerifier.Verify(ctx, vb.Block, sig, l.cache); err != nil {
			l.logger.WithError(err).Warn("local co-signature failed self-verification")
			continue
		}
		collected[sig.SignerAddress] = true
		vb.Block.Signatures = append(vb.Block.Signatures, *sig)
		if l.network != nil {
			_ = l.network.Emit(ctx, string(GossipBlockSignature), sig, 0)
		}
	}

	if len(collected) >= required {
		return nil
	}

	deadline := time.Now().Add(l.cfg.ForgingSignatureBroadcastDelay + l.cfg.PropagationTimeout)
	for len(collected) < required {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return orderingErr("signature quorum timed out: have %d, need %d", len(collected), required)
		}
		waitCtx, cancel := context.WithTimeout(ctx, remaining)
		sig, err := l.sigStream.AwaitOne(waitCtx, func(sig *BlockSignature) bool {
			return sig.BlockId == vb.Block.Id && !collected[sig.SignerAddress]
		})
		cancel()
		if err != nil {
			return orderingErr("signature quorum timed out: have %d, need %d", len(collected), required)
		}
		if err := l.sigVerifier.Verify(ctx, vb.Block, sig, l.cache); err != nil {
			continue
		}
		collected[sig.SignerAddress] = true
		vb.Block.Signatures = append(vb.Block.Signatures, *sig)
	}
	return nil
}
