package core

import (
	"context"
	"math/rand"

	"github.com/sacOO7/ldpos-chain/pkg/config"
)

// accountPatch accumulates the pending mutation for one account across
// a block's transactions, applied as a single upsert/patch at the end
// (spec.md §4.6 steps 1-5).
type accountPatch struct {
	acc     *Account
	touched bool
}

// voteWeightDelta accumulates a delegate's voteWeight adjustment across
// a block (spec.md §4.6 step 6): the sum of voter balance deltas plus
// the sign of any explicit vote/unvote.
type voteWeightDelta struct {
	delegate *Delegate
	delta    *BigInt
}

// BlockProcessor implements spec.md §4.6: deterministic, idempotent
// application of a verified block. Grounded on account_and_balance_operations.go's
// read-mutate-write shape and authority_nodes.go's vote-weight
// bookkeeping, generalized to the full per-transaction-type mutation
// table below. The updateHeight guard (step 5) is the sole replay
// defense; re-processing an already-applied block is a deliberate
// no-op.
type BlockProcessor struct {
	cfg     *config.Config
	dal     DAL
	mempool *Mempool
	cache   *DelegateCache
	events  *EventBus
}

// NewBlockProcessor builds a BlockProcessor bound to its collaborators.
func NewBlockProcessor(cfg *config.Config, dal DAL, mempool *Mempool, cache *DelegateCache, events *EventBus) *BlockProcessor {
	return &BlockProcessor{cfg: cfg, dal: dal, mempool: mempool, cache: cache, events: events}
}

// Process applies vb (a block already passed through the Block
// Verifier) at height h. It is idempotent: any account already written
// at updateHeight >= h is left untouched (spec.md §4.6 step 5, §8
// round-trip property).
func (p *BlockProcessor) Process(ctx context.Context, vb *VerifiedBlock) error {
	b := vb.Block
	h := b.Height

	patches := make(map[Address]*accountPatch)
	ensure := func(addr Address) (*accountPatch, error) {
		if pt, ok := patches[addr]; ok {
			return pt, nil
		}
		acc, ok := vb.SenderSnapshots[addr]
		if !ok {
			var err error
			acc, err = p.dal.GetAccount(ctx, addr)
			if err != nil {
				if err != ErrAccountDidNotExist {
					return nil, err
				}
				acc = DefaultAccount(addr)
			}
		}
		pt := &accountPatch{acc: acc.Clone()}
		patches[addr] = pt
		return pt, nil
	}

	forgerPatch, err := ensure(b.ForgerAddress)
	if err != nil {
		return err
	}
	forgerPatch.acc.ForgingPublicKey = b.ForgingPublicKey
	forgerPatch.acc.NextForgingPublicKey = b.NextForgingPublicKey
	forgerPatch.acc.NextForgingKeyIndex = b.NextForgingKeyIndex
	forgerPatch.touched = true

	for _, sig := range b.Signatures {
		signerPatch, err := ensure(sig.SignerAddress)
		if err != nil {
			return err
		}
		signerPatch.acc.ForgingPublicKey = sig.ForgingPublicKey
		signerPatch.acc.NextForgingPublicKey = sig.NextForgingPublicKey
		signerPatch.acc.NextForgingKeyIndex = sig.NextForgingKeyIndex
		signerPatch.touched = true
	}

	totalFees := NewBigInt(0)
	voteDeltas := make(map[Address]*voteWeightDelta)

	for _, tx := range b.Transactions {
		sender, err := ensure(tx.SenderAddress)
		if err != nil {
			return err
		}
		balanceBefore := sender.acc.Balance.Clone()

		sender.acc.Balance = sender.acc.Balance.Sub(tx.Fee)
		totalFees = totalFees.Add(tx.Fee)
		sender.touched = true

		if tx.IsMultisigSender() {
			// A member who signed with their committed-next key advances to
			// it; a member who signed with their current key is unchanged
			// (spec.md §8 scenario 6).
			for _, sp := range tx.Signatures {
				memberPatch, err := ensure(sp.SignerAddress)
				if err != nil {
					return err
				}
				if sp.MultisigPublicKey == memberPatch.acc.NextMultisigPublicKey && memberPatch.acc.NextMultisigPublicKey != "" {
					memberPatch.acc.MultisigPublicKey = sp.MultisigPublicKey
					memberPatch.acc.NextMultisigPublicKey = sp.NextMultisigPublicKey
					memberPatch.acc.NextMultisigKeyIndex = sp.NextMultisigKeyIndex
					memberPatch.touched = true
				}
			}
		}

		var voteWeightAdjusted Address // delegate already fully accounted for below, skip in the fee-delta fanout

		switch tx.Type {
		case TxTransfer:
			sender.acc.Balance = sender.acc.Balance.Sub(tx.Amount)
			recipient, err := ensure(tx.RecipientAddress)
			if err != nil {
				return err
			}
			recipient.acc.Balance = recipient.acc.Balance.Add(tx.Amount)
			recipient.touched = true

		case TxVote:
			ok, err := p.dal.HasDelegate(ctx, tx.DelegateAddress)
			if err != nil {
				return err
			}
			existingVotes, err := p.dal.GetAccountVotes(ctx, tx.SenderAddress)
			if err != nil {
				return err
			}
			if ok && len(existingVotes) < p.cfg.MaxVotesPerAccount {
				if err := p.dal.Vote(ctx, tx.SenderAddress, tx.DelegateAddress); err != nil {
					return err
				}
				// A freshly cast vote contributes the voter's entire
				// current balance to the delegate's weight, not just
				// this transaction's fee-sized delta.
				p.queueVoteDelta(ctx, voteDeltas, tx.DelegateAddress, sender.acc.Balance.Clone())
				voteWeightAdjusted = tx.DelegateAddress
			}
			// invalid vote (unknown delegate or over the per-account vote
			// cap): fee already charged above, silently no-ops otherwise.

		case TxUnvote:
			if hasVote, err := p.dal.HasVoteForDelegate(ctx, tx.SenderAddress, tx.DelegateAddress); err != nil {
				return err
			} else if hasVote {
				if err := p.dal.Unvote(ctx, tx.SenderAddress, tx.DelegateAddress); err != nil {
					return err
				}
				// Withdraw the voter's entire balance contribution, not
				// just this transaction's fee-sized delta.
				p.queueVoteDelta(ctx, voteDeltas, tx.DelegateAddress, NewBigInt(0).Sub(sender.acc.Balance))
				voteWeightAdjusted = tx.DelegateAddress
			}

		case TxRegisterSigDetails:
			sender.acc.SigPublicKey = tx.NewSigPublicKey
			sender.acc.NextSigPublicKey = tx.NewNextSigPublicKey
			sender.acc.NextSigKeyIndex = tx.NewNextSigKeyIndex

		case TxRegisterMultisigDetails:
			sender.acc.MultisigPublicKey = tx.NewMultisigPublicKey
			sender.acc.NextMultisigPublicKey = tx.NewNextMultisigPublicKey
			sender.acc.NextMultisigKeyIndex = tx.NewNextMultisigKeyIndex

		case TxRegisterForgingDetails:
			sender.acc.ForgingPublicKey = tx.NewForgingPublicKey
			sender.acc.NextForgingPublicKey = tx.NewNextForgingPublicKey
			sender.acc.NextForgingKeyIndex = tx.NewNextForgingKeyIndex

		case TxRegisterMultisigWallet:
			valid := true
			for _, member := range tx.MemberAddresses {
				memberPatch, err := ensure(member)
				if err != nil {
					return err
				}
				if memberPatch.acc.MultisigPublicKey == "" || memberPatch.acc.Type == AccountTypeMultisig {
					valid = false
					break
				}
			}
			if valid {
				if err := p.dal.RegisterMultisigWallet(ctx, tx.SenderAddress, tx.MemberAddresses, tx.RequiredSignatureCount); err != nil {
					return err
				}
				sender.acc.Type = AccountTypeMultisig
				sender.acc.RequiredSignatureCount = tx.RequiredSignatureCount
				sender.acc.MultisigMembers = append([]Address(nil), tx.MemberAddresses...)
			}
		}

		// Adjust any delegate this sender has voted for by its balance delta.
		balanceDelta := sender.acc.Balance.Sub(balanceBefore)
		if balanceDelta.Sign() != 0 {
			votes, err := p.dal.GetAccountVotes(ctx, tx.SenderAddress)
			if err != nil {
				return err
			}
			for _, vote := range votes {
				if vote.DelegateAddress == voteWeightAdjusted {
					continue // already given the voter's full balance above
				}
				p.queueVoteDelta(ctx, voteDeltas, vote.DelegateAddress, balanceDelta)
			}
		}
	}

	forgerPatch.acc.Balance = forgerPatch.acc.Balance.Add(totalFees)

	for _, pt := range patches {
		if !pt.touched {
			continue
		}
		if pt.acc.UpdateHeight != 0 && pt.acc.UpdateHeight >= h {
			continue // replay guard: already written at or after this height
		}
		pt.acc.UpdateHeight = h
		if err := p.dal.UpsertAccount(ctx, pt.acc); err != nil {
			return err
		}
	}

	for _, vd := range voteDeltas {
		vd.delegate.VoteWeight = vd.delegate.VoteWeight.Add(vd.delta)
		if vd.delegate.UpdateHeight != 0 && vd.delegate.UpdateHeight >= h {
			continue
		}
		vd.delegate.UpdateHeight = h
		if err := p.dal.UpsertDelegate(ctx, vd.delegate); err != nil {
			return err
		}
	}

	if len(b.Signatures) > p.cfg.BlockSignaturesToProvide {
		b.Signatures = subsampleSignatures(b.Signatures, p.cfg.BlockSignaturesToProvide)
	}
	if err := p.dal.UpsertBlock(ctx, b, true); err != nil {
		return err
	}

	for _, tx := range b.Transactions {
		p.mempool.RemoveByID(tx.SenderAddress, tx.Id)
	}
	p.purgeUnverifiable(patches)

	if err := p.cache.Refresh(ctx, p.dal); err != nil {
		return err
	}

	if p.events != nil {
		p.events.Publish(EventChainChanges, ChainChangePayload{Type: ChainChangeAddBlock, Block: b})
	}
	return nil
}

// queueVoteDelta loads (once per block) and accumulates a delegate's
// pending voteWeight adjustment.
func (p *BlockProcessor) queueVoteDelta(ctx context.Context, deltas map[Address]*voteWeightDelta, delegateAddr Address, amount *BigInt) {
	vd, ok := deltas[delegateAddr]
	if !ok {
		d, err := p.dal.GetDelegate(ctx, delegateAddr)
		if err != nil || d == nil {
			return
		}
		vd = &voteWeightDelta{delegate: d, delta: NewBigInt(0)}
		deltas[delegateAddr] = vd
	}
	vd.delta = vd.delta.Add(amount)
}

// purgeUnverifiable drops any still-pending transaction whose
// signing keys no longer match the sender's (or, for multisig, a
// member's) post-update keys — it has become unverifiable (spec.md
// §4.6 step 8).
func (p *BlockProcessor) purgeUnverifiable(patches map[Address]*accountPatch) {
	for _, addr := range p.mempool.Senders() {
		for _, tx := range p.mempool.PendingForSender(addr) {
			if tx.IsMultisigSender() {
				for _, sp := range tx.Signatures {
					if mp, ok := patches[sp.SignerAddress]; ok && mp.touched && sp.MultisigPublicKey != mp.acc.MultisigPublicKey && sp.MultisigPublicKey != mp.acc.NextMultisigPublicKey {
						p.mempool.RemoveByID(addr, tx.Id)
						break
					}
				}
				continue
			}
			if pt, ok := patches[addr]; ok && pt.touched && tx.SigPublicKey != pt.acc.SigPublicKey && tx.SigPublicKey != pt.acc.NextSigPublicKey {
				p.mempool.RemoveByID(addr, tx.Id)
			}
		}
	}
}

// subsampleSignatures randomly keeps n of sigs (spec.md §4.6 step 7).
func subsampleSignatures(sigs []BlockSignature, n int) []BlockSignature {
	if n >= len(sigs) {
		return sigs
	}
	shuffled := append([]BlockSignature(nil), sigs...)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[:n]
}

// MeetsMinimumTransactionsPolicy reports whether a candidate block's
// transaction count or forger key change satisfies spec.md §4.6's
// minimum-transactions policy, gating whether Process should run at
// all.
func MeetsMinimumTransactionsPolicy(cfg *config.Config, txCount int, delegateChangedKeys bool) bool {
	return txCount >= cfg.MinTransactionsPerBlock || delegateChangedKeys
}
