package core

import (
	"context"
	"math/big"
	"sort"

	"github.com/sacOO7/ldpos-chain/pkg/config"
)

// Forger implements spec.md §4.7: gathers authorized pending
// transactions across senders, re-verifies each against the current
// DAL snapshot, sorts them with sortPendingTransactions, and hands the
// top maxTransactionsPerBlock to the Crypto Client to produce a signed
// block. Grounded on the same per-sender decrement discipline as
// Mempool.admit, reused here against a fresh snapshot rather than the
// mempool's own in-memory one (the pending stream may have admitted
// transactions against a since-superseded balance).
type Forger struct {
	cfg     *config.Config
	auth    *Authenticator
	dal     DAL
	mempool *Mempool
}

// NewForger builds a Forger bound to its collaborators. The Crypto
// Client is supplied per call to Forge, since the active forger among a
// node's locally-held identities varies slot to slot.
func NewForger(cfg *config.Config, auth *Authenticator, dal DAL, mempool *Mempool) *Forger {
	return &Forger{cfg: cfg, auth: auth, dal: dal, mempool: mempool}
}

// sortableGroup is one sender's surviving transactions plus the
// aggregate stats sortPendingTransactions ranks groups by.
type sortableGroup struct {
	sender Address
	txs    []*Transaction
	fees   *BigInt
}

// Forge assembles and signs a block for the given slot timestamp via
// crypto, the forging delegate's own Crypto Client (spec.md §4.7).
func (f *Forger) Forge(ctx context.Context, timestamp int64, last *Block, forgerAddr Address, crypto CryptoClient) (*Block, error) {
	groups, err := f.gatherAuthorized(ctx)
	if err != nil {
		return nil, err
	}
	ordered := sortPendingTransactions(groups)

	total := 0
	selected := make([]*Transaction, 0, f.cfg.MaxTransactionsPerBlock)
	for _, tx := range ordered {
		if total >= f.cfg.MaxTransactionsPerBlock {
			break
		}
		selected = append(selected, tx.Simplify())
		total++
	}

	block := &Block{
		Height:          last.Height + 1,
		Timestamp:       timestamp,
		PreviousBlockId: last.Id,
		ForgerAddress:   forgerAddr,
		Transactions:    selected,
	}

	prepared, err := crypto.PrepareBlock(ctx, block)
	if err != nil {
		return nil, err
	}
	signed, err := crypto.SignBlock(ctx, prepared)
	if err != nil {
		return nil, err
	}
	return signed, nil
}

// gatherAuthorized re-verifies every pending sender's transactions
// against the current on-DAL account snapshot, dropping any that no
// longer authorize (spec.md §4.7).
func (f *Forger) gatherAuthorized(ctx context.Context) ([]sortableGroup, error) {
	groups := make([]sortableGroup, 0)
	for _, addr := range f.mempool.Senders() {
		pending := f.mempool.PendingForSender(addr)
		if len(pending) == 0 {
			continue
		}
		acc, err := f.dal.GetAccount(ctx, addr)
		if err != nil {
			if err != ErrAccountDidNotExist {
				return nil, err
			}
			acc = DefaultAccount(addr)
		}
		snapshot := acc.Clone()

		surviving := make([]*Transaction, 0, len(pending))
		fees := NewBigInt(0)
		for _, tx := range pending {
			if err := f.reverify(ctx, tx, snapshot); err != nil {
				continue
			}
			snapshot.Balance = snapshot.Balance.Sub(tx.Fee)
			if tx.Amount != nil {
				snapshot.Balance = snapshot.Balance.Sub(tx.Amount)
			}
			surviving = append(surviving, tx)
			fees = fees.Add(tx.Fee)
		}
		if len(surviving) > 0 {
			groups = append(groups, sortableGroup{sender: addr, txs: surviving, fees: fees})
		}
	}
	return groups, nil
}

func (f *Forger) reverify(ctx context.Context, tx *Transaction, snapshot *Account) error {
	if tx.IsMultisigSender() {
		members := make(map[Address]*Account, len(snapshot.MultisigMembers))
		for _, m := range snapshot.MultisigMembers {
			macc, err := f.dal.GetAccount(ctx, m)
			if err != nil {
				return err
			}
			members[m] = macc
		}
		if err := f.auth.CheckMultisigAuthentication(ctx, tx, members, snapshot.RequiredSignatureCount, VerifyFull); err != nil {
			return err
		}
	} else if err := f.auth.CheckSigAuthentication(ctx, tx, snapshot, VerifyFull); err != nil {
		return err
	}
	return f.auth.CheckBalance(tx, snapshot.Balance)
}

// sortPendingTransactions implements spec.md §4.7's ordering: within a
// sig group, ascending by nextSigKeyIndex; within a multisig group,
// ascending by the average over signature packets of
// (nextMultisigKeyIndex - min(nextMultisigKeyIndex)-per-member);
// between groups, descending by totalFees/|transactions|.
func sortPendingTransactions(groups []sortableGroup) []*Transaction {
	sort.Slice(groups, func(i, j int) bool {
		return averageFee(groups[i]) > averageFee(groups[j])
	})

	out := make([]*Transaction, 0)
	for _, g := range groups {
		txs := append([]*Transaction(nil), g.txs...)
		if len(txs) > 0 && txs[0].IsMultisigSender() {
			mins := make(map[Address]uint64)
			for _, tx := range txs {
				for _, sp := range tx.Signatures {
					if v, ok := mins[sp.SignerAddress]; !ok || sp.NextMultisigKeyIndex < v {
						mins[sp.SignerAddress] = sp.NextMultisigKeyIndex
					}
				}
			}
			sort.Slice(txs, func(i, j int) bool {
				return multisigOrderingScore(txs[i], mins) < multisigOrderingScore(txs[j], mins)
			})
		} else {
			sort.Slice(txs, func(i, j int) bool { return txs[i].NextSigKeyIndex < txs[j].NextSigKeyIndex })
		}
		out = append(out, txs...)
	}
	return out
}

func multisigOrderingScore(tx *Transaction, mins map[Address]uint64) float64 {
	if len(tx.Signatures) == 0 {
		return 0
	}
	var sum float64
	for _, sp := range tx.Signatures {
		sum += float64(sp.NextMultisigKeyIndex - mins[sp.SignerAddress])
	}
	return sum / float64(len(tx.Signatures))
}

// averageFee returns totalFees/|transactions| as a float64 for ranking
// purposes only (spec.md §4.7's between-group ordering); the division
// never needs arbitrary-precision exactness since it only feeds a sort.
func averageFee(g sortableGroup) float64 {
	if len(g.txs) == 0 {
		return 0
	}
	f := new(big.Float).SetInt(g.fees.Int())
	f.Quo(f, new(big.Float).SetInt64(int64(len(g.txs))))
	v, _ := f.Float64()
	return v
}
