package core

import (
	"context"
	"testing"
	"time"

	"github.com/sacOO7/ldpos-chain/pkg/config"
)

// fakeCrypto is a core.CryptoClient stand-in that accepts anything;
// mempool/authenticator behavior is exercised at the business-rule
// layer here, not signature cryptography (covered separately by
// internal/memchain's own tests against a real signer).
type fakeCrypto struct{}

func (fakeCrypto) Connect(ctx context.Context, opts ConnectOptions) error     { return nil }
func (fakeCrypto) PrepareBlock(ctx context.Context, b *Block) (*Block, error) { return b, nil }
func (fakeCrypto) SignBlock(ctx context.Context, b *Block) (*Block, error)    { return b, nil }
func (fakeCrypto) VerifyBlock(ctx context.Context, b *Block) (bool, error)    { return true, nil }
func (fakeCrypto) SignBlockSignature(ctx context.Context, b *Block) (*BlockSignature, error) {
	return &BlockSignature{BlockId: b.Id}, nil
}
func (fakeCrypto) VerifyBlockSignature(ctx context.Context, b *Block, s *BlockSignature) (bool, error) {
	return true, nil
}
func (fakeCrypto) VerifyTransaction(ctx context.Context, tx *Transaction) (bool, error) {
	return true, nil
}
func (fakeCrypto) VerifyTransactionId(ctx context.Context, tx *Transaction) (bool, error) {
	return true, nil
}
func (fakeCrypto) VerifyMultisigTransactionSignature(ctx context.Context, tx *Transaction, sp *SignaturePacket) (bool, error) {
	return true, nil
}
func (fakeCrypto) SyncKeyIndex(ctx context.Context, scheme KeyScheme) (bool, error) { return false, nil }
func (fakeCrypto) ForgingKeyIndex(ctx context.Context) (uint64, error)              { return 0, nil }

// fakeMempoolDAL serves accounts out of an in-memory map; every other
// DAL method is unreachable from Mempool.Submit and left to the
// embedded nil DAL to panic on, should that assumption ever change.
type fakeMempoolDAL struct {
	DAL
	accounts map[Address]*Account
}

func (f *fakeMempoolDAL) GetAccount(ctx context.Context, addr Address) (*Account, error) {
	acc, ok := f.accounts[addr]
	if !ok {
		return nil, ErrAccountDidNotExist
	}
	return acc.Clone(), nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("nonexistent-config-name", t.TempDir())
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

func newTestMempool(t *testing.T, dal *fakeMempoolDAL) *Mempool {
	t.Helper()
	cfg := testConfig(t)
	auth := NewAuthenticator(cfg, fakeCrypto{})
	mp, err := NewMempool(cfg, auth, dal, nil)
	if err != nil {
		t.Fatalf("NewMempool: %v", err)
	}
	return mp
}

const (
	testSigKey     = "currentkeycurrentkeycurrentkeycurrentkey"
	testNextSigKey = "nextkeynextkeynextkeynextkeynextkeynextk"
)

func sigTx(id string, sender Address, signedWithKey string, nextIndex uint64) *Transaction {
	return &Transaction{
		Id:               id,
		Type:             TxTransfer,
		SenderAddress:    sender,
		Fee:              NewBigInt(10_000_000),
		Timestamp:        0,
		Amount:           NewBigInt(1),
		RecipientAddress: "ldposRecipient00000000000000000000000",
		SigPublicKey:     signedWithKey,
		NextSigKeyIndex:  nextIndex,
		SenderSignature:  "stub",
	}
}

func accountWithKeys(addr Address, balance int64) *Account {
	return &Account{
		Address: addr, Type: AccountTypeSig, Balance: NewBigInt(balance),
		SigPublicKey: testSigKey, NextSigPublicKey: testNextSigKey,
	}
}

func TestMempoolAdmitsWellFormedTransaction(t *testing.T) {
	sender := Address("ldposSender000000000000000000000000000000")
	dal := &fakeMempoolDAL{accounts: map[Address]*Account{sender: accountWithKeys(sender, 1_000_000_000)}}
	mp := newTestMempool(t, dal)

	tx := sigTx("tx1", sender, testSigKey, 1)
	if err := mp.Submit(context.Background(), tx, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	requirePendingCount(t, mp, sender, 1)
	if !mp.HasPending("tx1") {
		t.Fatal("expected tx1 to be pending")
	}
}

func TestMempoolRejectsInsufficientBalance(t *testing.T) {
	sender := Address("ldposSender000000000000000000000000000000")
	dal := &fakeMempoolDAL{accounts: map[Address]*Account{sender: accountWithKeys(sender, 1)}}
	mp := newTestMempool(t, dal)

	tx := sigTx("tx1", sender, testSigKey, 1)
	if err := mp.Submit(context.Background(), tx, nil); err != nil {
		t.Fatalf("Submit (admission is async past schema checks): %v", err)
	}
	requirePendingCount(t, mp, sender, 0)
	if mp.HasPending("tx1") {
		t.Fatal("expected tx1 to be rejected for insufficient balance")
	}
}

func TestMempoolRejectsMalformedSchemaSynchronously(t *testing.T) {
	sender := Address("ldposSender000000000000000000000000000000")
	dal := &fakeMempoolDAL{accounts: map[Address]*Account{sender: accountWithKeys(sender, 1_000_000_000)}}
	mp := newTestMempool(t, dal)

	tx := sigTx("", sender, testSigKey, 1) // missing id
	if err := mp.Submit(context.Background(), tx, nil); err == nil {
		t.Fatal("expected a synchronous schema error for a missing id")
	}
}

func TestMempoolOrderingWindowRejectsInversion(t *testing.T) {
	sender := Address("ldposSender000000000000000000000000000000")
	dal := &fakeMempoolDAL{accounts: map[Address]*Account{sender: accountWithKeys(sender, 1_000_000_000)}}
	mp := newTestMempool(t, dal)

	first := sigTx("tx1", sender, testSigKey, 10) // signed with the current key, declares nextSigKeyIndex=10
	if err := mp.Submit(context.Background(), first, nil); err != nil {
		t.Fatalf("Submit tx1: %v", err)
	}
	requirePendingCount(t, mp, sender, 1)

	second := sigTx("tx2", sender, testNextSigKey, 5) // signed with the next key at a lower index: inverts the window
	if err := mp.Submit(context.Background(), second, nil); err != nil {
		t.Fatalf("Submit tx2: %v", err)
	}
	requirePendingCount(t, mp, sender, 1)
	if mp.HasPending("tx2") {
		t.Fatal("expected tx2 to be rejected for inverting the key ordering window")
	}
}

func TestMempoolRejectsOverBackpressureLimitDistinctFromPendingCap(t *testing.T) {
	sender := Address("ldposSender000000000000000000000000000000")
	dal := &fakeMempoolDAL{accounts: map[Address]*Account{sender: accountWithKeys(sender, 1_000_000_000)}}
	mp := newTestMempool(t, dal)

	s, err := mp.streamFor(context.Background(), sender)
	if err != nil {
		t.Fatalf("streamFor: %v", err)
	}
	s.mu.Lock()
	s.inflight = mp.cfg.MaxTransactionBackpressurePerAccount
	s.mu.Unlock()

	tx := sigTx("tx1", sender, testSigKey, 1)
	err = mp.Submit(context.Background(), tx, nil)
	if err == nil {
		t.Fatal("expected the backpressure admission gate to reject the submission")
	}
	if CategoryOf(err) != CategoryAuthorization {
		t.Fatalf("unexpected error category: %v", err)
	}
	if mp.HasPending("tx1") {
		t.Fatal("expected tx1 to never be admitted")
	}
}

// TestMempoolRejectsOverPendingCapWithInflightBelowBackpressure confirms
// the pending cap (admitted + in-flight) and the backpressure cap
// (in-flight alone) are two distinct gates: saturating the pending cap
// while in-flight is still well under the backpressure limit must still
// reject.
func TestMempoolRejectsOverPendingCapWithInflightBelowBackpressure(t *testing.T) {
	sender := Address("ldposSender000000000000000000000000000000")
	dal := &fakeMempoolDAL{accounts: map[Address]*Account{sender: accountWithKeys(sender, 1_000_000_000)}}
	mp := newTestMempool(t, dal)

	s, err := mp.streamFor(context.Background(), sender)
	if err != nil {
		t.Fatalf("streamFor: %v", err)
	}
	s.mu.Lock()
	s.pending = make([]*pendingEntry, mp.cfg.MaxPendingTransactionsPerAccount)
	s.mu.Unlock()

	tx := sigTx("tx1", sender, testSigKey, 1)
	if err := mp.Submit(context.Background(), tx, nil); err == nil {
		t.Fatal("expected the pending cap to reject the submission")
	} else if CategoryOf(err) != CategoryAuthorization {
		t.Fatalf("unexpected error category: %v", err)
	}
	if mp.HasPending("tx1") {
		t.Fatal("expected tx1 to never be admitted")
	}
}

// requirePendingCount polls PendingForSender until it reaches want or a
// deadline elapses, since admission past the schema checks happens on
// the sender's own consumer goroutine.
func requirePendingCount(t *testing.T, mp *Mempool, addr Address, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(mp.PendingForSender(addr)) == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if got := len(mp.PendingForSender(addr)); got != want {
		t.Fatalf("pending count = %d, want %d", got, want)
	}
}
