package core

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/sacOO7/ldpos-chain/pkg/config"
)

// getTransactionRequest is the wire payload for the "getTransaction"
// peer procedure used to backfill a block's referenced pending
// transactions (spec.md §4.10). CorrelationId lets a peer's logs be
// joined against this node's own retry attempts for the same fetch.
type getTransactionRequest struct {
	Id            string `json:"id"`
	CorrelationId string `json:"correlationId"`
}

// GossipHandlers implements spec.md §4.10: the three inbound gossip
// event handlers. Grounded on replication.go's inbound-message dispatch
// shape — a small per-event-type handler set reading off a pub/sub
// subscription and re-broadcasting after local validation. Handlers
// never invoke the Block Processor themselves (spec.md §5); they only
// enqueue mempool work and publish to the Block-Slot Loop's streams.
type GossipHandlers struct {
	cfg         *config.Config
	mempool     *Mempool
	dal         DAL
	verifier    *BlockVerifier
	sigVerifier *BlockSigVerifier
	cache       *DelegateCache
	slotLoop    *SlotLoop
	network     NetworkChannel
	logger      *logrus.Logger

	mu                     sync.Mutex
	receivedSignersByBlock map[string]map[Address]bool
	seenBlockIds           *lru.Cache[string, bool]
	metrics                *Metrics
}

// SetMetrics attaches an optional Metrics collector (ops surface only;
// handlers behave identically without one).
func (g *GossipHandlers) SetMetrics(m *Metrics) { g.metrics = m }

// NewGossipHandlers builds a GossipHandlers bound to its collaborators.
func NewGossipHandlers(cfg *config.Config, mempool *Mempool, dal DAL, verifier *BlockVerifier, sigVerifier *BlockSigVerifier, cache *DelegateCache, slotLoop *SlotLoop, network NetworkChannel, logger *logrus.Logger) (*GossipHandlers, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	h := &GossipHandlers{
		cfg:                    cfg,
		mempool:                mempool,
		dal:                    dal,
		verifier:               verifier,
		sigVerifier:            sigVerifier,
		cache:                  cache,
		slotLoop:               slotLoop,
		network:                network,
		logger:                 logger,
		receivedSignersByBlock: make(map[string]map[Address]bool),
	}
	// The eviction callback only ever fires synchronously from within
	// Add, which markReceived already calls under g.mu — no separate
	// locking here, it would deadlock against the caller's own lock.
	seen, err := lru.NewWithEvict[string, bool](4096, func(blockId string, _ bool) {
		delete(h.receivedSignersByBlock, blockId)
	})
	if err != nil {
		return nil, err
	}
	h.seenBlockIds = seen
	return h, nil
}

// HandleTransaction implements spec.md §4.10's Transaction handler:
// parse, authenticate, enqueue, propagate. Per the propagation policy
// (spec.md §6), errors are logged and swallowed to preserve liveness.
func (g *GossipHandlers) HandleTransaction(ctx context.Context, raw []byte) {
	var tx Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		g.logger.WithError(err).Debug("gossip: malformed transaction payload")
		return
	}

	var members map[Address]*Account
	if tx.IsMultisigSender() {
		wallet, err := g.dal.GetAccount(ctx, tx.SenderAddress)
		if err != nil {
			g.logger.WithError(err).Debug("gossip: could not load multisig wallet for incoming transaction")
			return
		}
		members = make(map[Address]*Account, len(wallet.MultisigMembers))
		for _, addr := range wallet.MultisigMembers {
			macc, err := g.dal.GetAccount(ctx, addr)
			if err != nil {
				g.logger.WithError(err).Debug("gossip: could not load multisig member account")
				return
			}
			members[addr] = macc
		}
	}

	if err := g.mempool.Submit(ctx, &tx, members); err != nil {
		g.logger.WithError(err).Debug("gossip: transaction rejected")
		if g.metrics != nil {
			g.metrics.ObserveGossipRejection("transaction")
		}
	}
}

// HandleBlock implements spec.md §4.10's Block handler.
func (g *GossipHandlers) HandleBlock(ctx context.Context, raw []byte, last *Block) {
	var b Block
	if err := json.Unmarshal(raw, &b); err != nil {
		g.logger.WithError(err).Debug("gossip: malformed block payload")
		return
	}

	activeDelegates := g.cache.ActiveDelegates()
	vb, err := g.verifier.Verify(ctx, &b, last, activeDelegates)
	if err != nil {
		g.logger.WithError(err).Debug("gossip: block failed verification")
		if g.metrics != nil {
			g.metrics.ObserveGossipRejection("block")
		}
		return
	}

	isDouble, propagateOnce := g.slotLoop.ObserveBlockTimestamp(b.Timestamp, b.Id)
	if propagateOnce && g.network != nil {
		_ = g.network.Emit(ctx, string(GossipBlock), &b, 0)
	}
	if isDouble {
		g.logger.WithField("blockId", b.Id).Warn("gossip: double-forged block observed, refusing to sign")
		return
	}

	if err := g.fetchMissingTransactions(ctx, &b); err != nil {
		g.logger.WithError(err).Debug("gossip: could not backfill referenced transactions")
		return
	}
	if err := g.checkTransactionHashesMatchPending(&b); err != nil {
		g.logger.WithError(err).Debug("gossip: block transaction hash mismatch against known pending")
		return
	}

	g.slotLoop.PublishVerifiedBlock(vb)
	if g.network != nil {
		_ = g.network.Emit(ctx, string(GossipBlock), &b, 0)
	}
}

// fetchMissingTransactions requests, from a peer, the full body of any
// transaction referenced by b that this node doesn't already hold
// pending or committed, retrying up to
// maxConsecutiveTransactionFetchFailures times per transaction (spec.md
// §4.10).
func (g *GossipHandlers) fetchMissingTransactions(ctx context.Context, b *Block) error {
	for _, tx := range b.Transactions {
		if g.mempool.HasPending(tx.Id) {
			continue
		}
		if has, err := g.dal.HasTransaction(ctx, tx.Id); err == nil && has {
			continue
		}

		correlationId := uuid.NewString()
		var (
			full *Transaction
			err  error
		)
		for attempt := 0; attempt < g.cfg.MaxConsecutiveTransactionFetchFailures; attempt++ {
			var raw []byte
			raw, err = g.network.Request(ctx, "getTransaction", getTransactionRequest{Id: tx.Id, CorrelationId: correlationId}, nil)
			if err != nil {
				g.logger.WithFields(logrus.Fields{"correlationId": correlationId, "txId": tx.Id, "attempt": attempt}).Debug("gossip: transaction fetch attempt failed")
				continue
			}
			var fetched Transaction
			if err = json.Unmarshal(raw, &fetched); err != nil {
				continue
			}
			full = &fetched
			break
		}
		if full == nil {
			return orderingErr("could not fetch referenced transaction %s after %d attempts: %v", tx.Id, g.cfg.MaxConsecutiveTransactionFetchFailures, err)
		}

		var members map[Address]*Account
		if full.IsMultisigSender() {
			wallet, werr := g.dal.GetAccount(ctx, full.SenderAddress)
			if werr != nil {
				return werr
			}
			members = make(map[Address]*Account, len(wallet.MultisigMembers))
			for _, addr := range wallet.MultisigMembers {
				macc, merr := g.dal.GetAccount(ctx, addr)
				if merr != nil {
					return merr
				}
				members[addr] = macc
			}
		}
		if err := g.mempool.Submit(ctx, full, members); err != nil {
			return err
		}
	}
	return nil
}

// checkTransactionHashesMatchPending implements spec.md §4.10's final
// Block-handler check: each included (simplified) transaction's
// signatureHash, or each multisig packet's signatureHash, must match
// the hash recorded on the pending copy this node already authenticated.
func (g *GossipHandlers) checkTransactionHashesMatchPending(b *Block) error {
	for _, tx := range b.Transactions {
		pending := g.mempool.LookupPending(tx.Id)
		if pending == nil {
			return validationErr("transaction %s is not a known pending transaction", tx.Id)
		}
		if tx.IsMultisigSender() {
			if len(tx.Signatures) != len(pending.Signatures) {
				return validationErr("multisig signature packet count mismatch for transaction %s", tx.Id)
			}
			bySigner := make(map[Address]string, len(pending.Signatures))
			for _, sp := range pending.Signatures {
				bySigner[sp.SignerAddress] = sha256Hex(sp.Signature)
			}
			for _, sp := range tx.Signatures {
				if bySigner[sp.SignerAddress] != sp.SignatureHash {
					return validationErr("signatureHash mismatch for member %s on transaction %s", sp.SignerAddress, tx.Id)
				}
			}
		} else if sha256Hex(pending.SenderSignature) != tx.SenderSignature {
			return validationErr("signatureHash mismatch for transaction %s", tx.Id)
		}
	}
	return nil
}

// HandleBlockSignature implements spec.md §4.10's Block Signature
// handler: verify, dedupe against the per-block receivedSignerAddressSet,
// publish, propagate.
func (g *GossipHandlers) HandleBlockSignature(ctx context.Context, raw []byte, activeBlock *Block) {
	var sig BlockSignature
	if err := json.Unmarshal(raw, &sig); err != nil {
		g.logger.WithError(err).Debug("gossip: malformed block signature payload")
		return
	}

	if g.alreadyReceived(sig.BlockId, sig.SignerAddress) {
		return
	}
	if err := g.sigVerifier.Verify(ctx, activeBlock, &sig, g.cache); err != nil {
		g.logger.WithError(err).Debug("gossip: block signature failed verification")
		if g.metrics != nil {
			g.metrics.ObserveGossipRejection("blockSignature")
		}
		return
	}
	g.markReceived(sig.BlockId, sig.SignerAddress)

	g.slotLoop.PublishSignature(&sig)
	if g.network != nil {
		_ = g.network.Emit(ctx, string(GossipBlockSignature), &sig, 0)
	}
}

func (g *GossipHandlers) alreadyReceived(blockId string, signer Address) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.receivedSignersByBlock[blockId]
	return ok && set[signer]
}

func (g *GossipHandlers) markReceived(blockId string, signer Address) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seenBlockIds.Add(blockId, true)
	set, ok := g.receivedSignersByBlock[blockId]
	if !ok {
		set = make(map[Address]bool)
		g.receivedSignersByBlock[blockId] = set
	}
	set[signer] = true
}
