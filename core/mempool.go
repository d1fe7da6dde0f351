package core

import (
	"context"
	"math/rand"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/sacOO7/ldpos-chain/pkg/config"
)

// pendingEntry pairs a queued transaction with its arrival time, the
// unit the per-sender stream and expiry sweep both operate on.
type pendingEntry struct {
	tx                *Transaction
	receivedTimestamp int64
}

// keyWindow tracks the per-signer ordering bounds of spec.md §4.3 rule
// 4: the lowest nextSigKeyIndex seen among transactions signed with the
// *next* key, and the highest seen among those signed with the
// *current* key. A new transaction is rejected if admitting it would
// invert this window.
type keyWindow struct {
	lowestNextIndex  uint64
	hasLowestNext    bool
	highestCurrIndex uint64
	hasHighestCurr   bool
}

// senderStream is the single-consumer-per-sender verification pipeline
// of spec.md §4.3, grounded on the teacher's per-key single-consumer
// shape in txpool_addtx.go/txpool_snapshot.go, generalized from one
// global pool to one goroutine per sender address.
type senderStream struct {
	mu sync.Mutex

	addr     Address
	inbox    chan *pendingEntry
	pending  []*pendingEntry
	byID     map[string]*pendingEntry
	inflight int

	sigWindow      keyWindow
	multisigWindow map[Address]*keyWindow // per member, for multisig senders

	snapshotAccount *Account // balance + current/next keys, advanced as register* txs admit

	done chan struct{}
}

// Mempool implements spec.md §4.3 in full: admission caps, per-sender
// serial authorization, key-index ordering windows, and
// registerSigDetails/registerMultisigDetails exclusivity rules.
type Mempool struct {
	cfg    *config.Config
	auth   *Authenticator
	dal    DAL
	events *EventBus

	mu      sync.Mutex
	streams map[Address]*senderStream

	pendingByID *lru.Cache[string, *pendingEntry]
	sf          singleflight.Group

	network NetworkChannel
}

// NewMempool builds an empty Mempool bound to cfg, auth, dal, and an
// EventBus used to publish the `transaction` module event on admission.
func NewMempool(cfg *config.Config, auth *Authenticator, dal DAL, events *EventBus) (*Mempool, error) {
	idCache, err := lru.New[string, *pendingEntry](cfg.MaxPendingTransactionsPerAccount * 256)
	if err != nil {
		return nil, err
	}
	return &Mempool{
		cfg:         cfg,
		auth:        auth,
		dal:         dal,
		events:      events,
		streams:     make(map[Address]*senderStream),
		pendingByID: idCache,
	}, nil
}

// streamFor returns the sender's stream, creating it via a singleflight
// call so concurrent first-arrivals for the same address collapse into
// one construction instead of racing.
func (m *Mempool) streamFor(ctx context.Context, addr Address) (*senderStream, error) {
	m.mu.Lock()
	if s, ok := m.streams[addr]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	v, err, _ := m.sf.Do(string(addr), func() (interface{}, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if s, ok := m.streams[addr]; ok {
			return s, nil
		}
		acc, err := m.dal.GetAccount(ctx, addr)
		if err != nil {
			if err != ErrAccountDidNotExist {
				return nil, err
			}
			acc = DefaultAccount(addr)
		}
		s := &senderStream{
			addr:            addr,
			inbox:           make(chan *pendingEntry, m.cfg.MaxPendingTransactionsPerAccount),
			byID:            make(map[string]*pendingEntry),
			multisigWindow:  make(map[Address]*keyWindow),
			snapshotAccount: acc.Clone(),
			done:            make(chan struct{}),
		}
		m.streams[addr] = s
		go m.consume(s)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*senderStream), nil
}

// Submit admits tx into the mempool (spec.md §4.3 steps 1-6). It
// authenticates synchronously on the caller's context in full mode,
// then hands the transaction to the sender's serial stream.
func (m *Mempool) Submit(ctx context.Context, tx *Transaction, members map[Address]*Account) error {
	s, err := m.streamFor(ctx, tx.SenderAddress)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.inflight >= m.cfg.MaxTransactionBackpressurePerAccount {
		s.mu.Unlock()
		return categorize(CategoryAuthorization, ErrInvalidTransaction("transaction backpressure limit exceeded"))
	}
	if len(s.pending)+s.inflight >= m.cfg.MaxPendingTransactionsPerAccount {
		s.mu.Unlock()
		return categorize(CategoryAuthorization, ErrInvalidTransaction("maxPendingTransactionsPerAccount exceeded"))
	}
	s.inflight++
	s.mu.Unlock()

	if err := m.auth.CheckSchema(tx); err != nil {
		m.decInflight(s)
		return err
	}
	if err := m.auth.CheckTimestamp(tx, time.Now().UnixMilli()); err != nil {
		m.decInflight(s)
		return err
	}
	memberCount := len(members)
	if err := m.auth.CheckMinFee(tx, memberCount); err != nil {
		m.decInflight(s)
		return err
	}

	if tx.IsMultisigSender() {
		wallet, err := m.dal.GetAccount(ctx, tx.SenderAddress)
		if err != nil {
			m.decInflight(s)
			return err
		}
		if err := m.auth.CheckMultisigAuthentication(ctx, tx, members, wallet.RequiredSignatureCount, VerifyFull); err != nil {
			m.decInflight(s)
			return err
		}
	} else {
		acc, err := m.dal.GetAccount(ctx, tx.SenderAddress)
		if err != nil && err != ErrAccountDidNotExist {
			m.decInflight(s)
			return err
		}
		if acc == nil {
			acc = DefaultAccount(tx.SenderAddress)
		}
		if err := m.auth.CheckSigAuthentication(ctx, tx, acc, VerifyFull); err != nil {
			m.decInflight(s)
			return err
		}
	}

	entry := &pendingEntry{tx: tx, receivedTimestamp: time.Now().UnixMilli()}
	select {
	case s.inbox <- entry:
	case <-ctx.Done():
		m.decInflight(s)
		return ctx.Err()
	}
	return nil
}

func (m *Mempool) decInflight(s *senderStream) {
	s.mu.Lock()
	s.inflight--
	idle := s.inflight == 0 && len(s.pending) == 0
	s.mu.Unlock()
	if idle {
		m.retire(s)
	}
}

// consume is the single consumer per sender stream (spec.md §4.3 step
// 3): it drains the inbox, applies the key-index ordering rule and the
// registerSigDetails/registerMultisigDetails exclusivity rules, and on
// success records the entry and decrements the balance snapshot.
func (m *Mempool) consume(s *senderStream) {
	for {
		select {
		case entry, ok := <-s.inbox:
			if !ok {
				return
			}
			m.admit(s, entry)
		case <-s.done:
			return
		}
	}
}

func (m *Mempool) admit(s *senderStream, entry *pendingEntry) {
	tx := entry.tx

	s.mu.Lock()
	defer func() {
		s.inflight--
		idle := s.inflight == 0 && len(s.pending) == 0
		s.mu.Unlock()
		if idle {
			m.retire(s)
		}
	}()

	if err := m.checkOrderingWindow(s, tx); err != nil {
		return
	}
	if err := m.checkExclusivity(s, tx); err != nil {
		return
	}
	if err := m.auth.CheckBalance(tx, s.snapshotAccount.Balance); err != nil {
		return
	}

	s.snapshotAccount.Balance = s.snapshotAccount.Balance.Sub(tx.Fee)
	if tx.Amount != nil {
		s.snapshotAccount.Balance = s.snapshotAccount.Balance.Sub(tx.Amount)
	}
	m.applyKeyAdvancement(s, tx)
	s.pending = append(s.pending, entry)
	s.byID[tx.Id] = entry

	m.pendingByID.Add(tx.Id, entry)
	if m.events != nil {
		m.events.Publish(EventTransaction, tx)
	}
	m.propagateWithDelay(tx)
}

// applyKeyAdvancement mirrors onto the in-memory snapshot the key
// fields a register* transaction would advance once processed, so
// later pending transactions from the same sender are checked against
// the post-registration keys (spec.md §4.3's "in-memory senderAccount
// snapshot" discipline).
func (m *Mempool) applyKeyAdvancement(s *senderStream, tx *Transaction) {
	switch tx.Type {
	case TxRegisterSigDetails:
		s.snapshotAccount.SigPublicKey = tx.NewSigPublicKey
		s.snapshotAccount.NextSigPublicKey = tx.NewNextSigPublicKey
		s.snapshotAccount.NextSigKeyIndex = tx.NewNextSigKeyIndex
	case TxRegisterMultisigWallet:
		s.snapshotAccount.Type = AccountTypeMultisig
		s.snapshotAccount.RequiredSignatureCount = tx.RequiredSignatureCount
		s.snapshotAccount.MultisigMembers = append([]Address(nil), tx.MemberAddresses...)
	}
}

// checkOrderingWindow enforces spec.md §4.3 rule 4 for sig senders and,
// per signature packet, for multisig senders. The discriminant (signed
// with current vs. committed-next key) is determined from the sender's
// in-memory snapshot, not from the transaction alone, since both key
// fields are wire data the sender controls.
func (m *Mempool) checkOrderingWindow(s *senderStream, tx *Transaction) error {
	if tx.IsMultisigSender() {
		for _, sp := range tx.Signatures {
			member := s.snapshotAccount // fallback when no per-member snapshot is tracked
			w := s.multisigWindow[sp.SignerAddress]
			if w == nil {
				w = &keyWindow{}
				s.multisigWindow[sp.SignerAddress] = w
			}
			signedWithNext := sp.MultisigPublicKey == member.NextMultisigPublicKey && member.NextMultisigPublicKey != ""
			if err := checkWindow(w, sp.NextMultisigKeyIndex, signedWithNext); err != nil {
				return err
			}
		}
		return nil
	}
	signedWithNext := tx.SigPublicKey == s.snapshotAccount.NextSigPublicKey && s.snapshotAccount.NextSigPublicKey != ""
	return checkWindow(&s.sigWindow, tx.NextSigKeyIndex, signedWithNext)
}

// checkWindow implements the lowestNextIndex/highestCurrIndex ordering
// rule shared by sig and per-member multisig checks (spec.md §4.3 rule
// 4): a transaction signed with the *next* key must have a key index
// greater than every pending transaction's *current*-key index; one
// signed with the *current* key must have an index less than every
// pending transaction's *next*-key index.
func checkWindow(w *keyWindow, index uint64, signedWithNext bool) error {
	if signedWithNext {
		if w.hasHighestCurr && index <= w.highestCurrIndex {
			return categorize(CategoryOrdering, ErrInvalidTransaction("nextSigKeyIndex would invert pending current-key ordering"))
		}
		if !w.hasLowestNext || index < w.lowestNextIndex {
			w.lowestNextIndex = index
			w.hasLowestNext = true
		}
		return nil
	}
	if w.hasLowestNext && index >= w.lowestNextIndex {
		return categorize(CategoryOrdering, ErrInvalidTransaction("nextSigKeyIndex would invert pending next-key ordering"))
	}
	if !w.hasHighestCurr || index > w.highestCurrIndex {
		w.highestCurrIndex = index
		w.hasHighestCurr = true
	}
	return nil
}

// checkExclusivity enforces spec.md §4.3 rule 5: registerSigDetails
// and registerMultisigWallet only admitted into an empty stream;
// registerMultisigDetails rejected while its sender currently signs any
// pending multisig transaction, in any sender's stream.
func (m *Mempool) checkExclusivity(s *senderStream, tx *Transaction) error {
	switch tx.Type {
	case TxRegisterSigDetails:
		if len(s.pending) > 0 {
			return categorize(CategoryOrdering, ErrInvalidTransaction("registerSigDetails requires an empty pending stream"))
		}
	case TxRegisterMultisigWallet:
		if len(s.pending) > 0 {
			return categorize(CategoryOrdering, ErrInvalidTransaction("registerMultisigWallet requires an empty pending stream"))
		}
	case TxRegisterMultisigDetails:
		for _, id := range m.pendingByID.Keys() {
			if e, ok := m.pendingByID.Peek(id); ok && e.tx.IsMultisigSender() {
				for _, sp := range e.tx.Signatures {
					if sp.SignerAddress == tx.SenderAddress {
						return categorize(CategoryOrdering, ErrInvalidTransaction("sender currently signs a pending multisig transaction"))
					}
				}
			}
		}
	}
	return nil
}

// propagateWithDelay re-broadcasts the admitted transaction to peers
// after a random delay in [0, propagationRandomness), per spec.md §4.3
// step 6. The actual network send is performed by the caller-supplied
// NetworkChannel via SetNetwork; Mempool itself only schedules it.
func (m *Mempool) propagateWithDelay(tx *Transaction) {
	if m.network == nil || m.cfg.PropagationRandomness <= 0 {
		return
	}
	delay := time.Duration(rand.Int63n(int64(m.cfg.PropagationRandomness)))
	go func() {
		time.Sleep(delay)
		_ = m.network.Emit(context.Background(), "transaction", tx, 0)
	}()
}

// SetNetwork wires the NetworkChannel used for post-admission gossip.
func (m *Mempool) SetNetwork(n NetworkChannel) { m.network = n }

// retire drops an idle stream (spec.md §4.3: "retired when it has no
// in-flight verifications and no pending entries").
func (m *Mempool) retire(s *senderStream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.mu.Lock()
	idle := s.inflight == 0 && len(s.pending) == 0
	s.mu.Unlock()
	if !idle {
		return
	}
	if cur, ok := m.streams[s.addr]; ok && cur == s {
		close(s.done)
		delete(m.streams, s.addr)
	}
}

// ExpireOlderThan evicts pending transactions whose receivedTimestamp
// predates the cutoff, retiring any stream left empty (spec.md §5
// periodic expiry task).
func (m *Mempool) ExpireOlderThan(cutoff int64) {
	m.mu.Lock()
	streams := make([]*senderStream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.mu.Unlock()

	for _, s := range streams {
		s.mu.Lock()
		kept := s.pending[:0]
		for _, e := range s.pending {
			if e.receivedTimestamp > cutoff {
				kept = append(kept, e)
			} else {
				delete(s.byID, e.tx.Id)
				m.pendingByID.Remove(e.tx.Id)
			}
		}
		s.pending = kept
		idle := s.inflight == 0 && len(s.pending) == 0
		s.mu.Unlock()
		if idle {
			m.retire(s)
		}
	}
}

// PendingForSender returns a snapshot of the sender's currently pending
// transactions, used by the Forger (§4.7) and the public RPC surface.
func (m *Mempool) PendingForSender(addr Address) []*Transaction {
	m.mu.Lock()
	s, ok := m.streams[addr]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Transaction, 0, len(s.pending))
	for _, e := range s.pending {
		out = append(out, e.tx)
	}
	return out
}

// Senders returns the addresses with a currently active stream.
func (m *Mempool) Senders() []Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Address, 0, len(m.streams))
	for addr := range m.streams {
		out = append(out, addr)
	}
	return out
}

// HasPending reports whether id is currently a known pending id.
func (m *Mempool) HasPending(id string) bool {
	_, ok := m.pendingByID.Get(id)
	return ok
}

// LookupPending returns the full (unsimplified) pending transaction for
// id, if this node admitted one, used by the gossip Block handler to
// check a forged block's simplified transactions against the
// signatures it already authenticated (spec.md §4.10).
func (m *Mempool) LookupPending(id string) *Transaction {
	entry, ok := m.pendingByID.Get(id)
	if !ok {
		return nil
	}
	return entry.tx
}

// RemoveByID purges a single pending transaction by id, used by the
// Block Processor after inclusion (spec.md §4.6 step 8).
func (m *Mempool) RemoveByID(addr Address, id string) {
	m.mu.Lock()
	s, ok := m.streams[addr]
	m.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	if _, exists := s.byID[id]; exists {
		delete(s.byID, id)
		filtered := s.pending[:0]
		for _, e := range s.pending {
			if e.tx.Id != id {
				filtered = append(filtered, e)
			}
		}
		s.pending = filtered
	}
	idle := s.inflight == 0 && len(s.pending) == 0
	s.mu.Unlock()
	m.pendingByID.Remove(id)
	if idle {
		m.retire(s)
	}
}
