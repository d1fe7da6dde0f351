package core

import (
	"context"
	"testing"

	"github.com/sacOO7/ldpos-chain/pkg/config"
)

type fakeVerifierDAL struct {
	DAL
	accounts map[Address]*Account
}

func (f *fakeVerifierDAL) GetAccount(ctx context.Context, addr Address) (*Account, error) {
	acc, ok := f.accounts[addr]
	if !ok {
		return nil, ErrAccountDidNotExist
	}
	return acc.Clone(), nil
}

func (f *fakeVerifierDAL) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	return nil, nil
}

func newTestVerifier(t *testing.T, dal *fakeVerifierDAL) (*BlockVerifier, *config.Config, *SlotClock) {
	t.Helper()
	cfg := testConfig(t)
	clock := NewSlotClock(cfg.ForgingInterval, cfg.TimePollInterval)
	auth := NewAuthenticator(cfg, fakeCrypto{})
	return NewBlockVerifier(cfg, auth, dal, fakeCrypto{}, clock), cfg, clock
}

func lastBlockAt(height uint64, slot int64, interval int64) *Block {
	return &Block{Id: "last", Height: height, Timestamp: slot * interval}
}

func TestBlockVerifierAcceptsWellFormedBlock(t *testing.T) {
	dal := &fakeVerifierDAL{accounts: map[Address]*Account{
		"ldposForger": {Address: "ldposForger", ForgingPublicKey: "fpk"},
	}}
	verifier, cfg, _ := newTestVerifier(t, dal)
	interval := cfg.ForgingInterval.Milliseconds()

	last := lastBlockAt(5, 10, interval)
	candidate := &Block{
		Id: "b6", Height: 6, Timestamp: (10 + 1) * interval, PreviousBlockId: last.Id,
		ForgerAddress: "ldposForger", ForgingPublicKey: "fpk",
	}
	active := []Address{"ldposForger"}

	vb, err := verifier.Verify(context.Background(), candidate, last, active)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if vb.Block != candidate {
		t.Fatal("expected the verified block to be the candidate")
	}
}

func TestBlockVerifierRejectsWrongHeight(t *testing.T) {
	dal := &fakeVerifierDAL{accounts: map[Address]*Account{"ldposForger": {Address: "ldposForger"}}}
	verifier, cfg, _ := newTestVerifier(t, dal)
	interval := cfg.ForgingInterval.Milliseconds()
	last := lastBlockAt(5, 10, interval)

	candidate := &Block{Id: "b7", Height: 7, Timestamp: 11 * interval, PreviousBlockId: last.Id, ForgerAddress: "ldposForger"}
	if _, err := verifier.Verify(context.Background(), candidate, last, []Address{"ldposForger"}); err == nil {
		t.Fatal("expected rejection of a block whose height skips ahead")
	}
}

func TestBlockVerifierRejectsWrongForger(t *testing.T) {
	dal := &fakeVerifierDAL{accounts: map[Address]*Account{"ldposOther": {Address: "ldposOther"}}}
	verifier, cfg, _ := newTestVerifier(t, dal)
	interval := cfg.ForgingInterval.Milliseconds()
	last := lastBlockAt(5, 10, interval)

	candidate := &Block{Id: "b6", Height: 6, Timestamp: 11 * interval, PreviousBlockId: last.Id, ForgerAddress: "ldposWrong"}
	if _, err := verifier.Verify(context.Background(), candidate, last, []Address{"ldposOther"}); err == nil {
		t.Fatal("expected rejection: forgerAddress does not match the slot-assigned delegate")
	}
}

func TestBlockVerifierRejectsMismatchedPreviousBlockId(t *testing.T) {
	dal := &fakeVerifierDAL{accounts: map[Address]*Account{"ldposForger": {Address: "ldposForger"}}}
	verifier, cfg, _ := newTestVerifier(t, dal)
	interval := cfg.ForgingInterval.Milliseconds()
	last := lastBlockAt(5, 10, interval)

	candidate := &Block{Id: "b6", Height: 6, Timestamp: 11 * interval, PreviousBlockId: "not-last", ForgerAddress: "ldposForger"}
	if _, err := verifier.Verify(context.Background(), candidate, last, []Address{"ldposForger"}); err == nil {
		t.Fatal("expected rejection of a mismatched previousBlockId")
	}
}

func TestBlockVerifierRejectsNonSlotAlignedTimestamp(t *testing.T) {
	dal := &fakeVerifierDAL{accounts: map[Address]*Account{"ldposForger": {Address: "ldposForger"}}}
	verifier, cfg, _ := newTestVerifier(t, dal)
	interval := cfg.ForgingInterval.Milliseconds()
	last := lastBlockAt(5, 10, interval)

	candidate := &Block{Id: "b6", Height: 6, Timestamp: 11*interval + 1, PreviousBlockId: last.Id, ForgerAddress: "ldposForger"}
	if _, err := verifier.Verify(context.Background(), candidate, last, []Address{"ldposForger"}); err == nil {
		t.Fatal("expected rejection of a non-slot-aligned timestamp")
	}
}

func TestBlockVerifierVerifiesSenderBalances(t *testing.T) {
	sender := Address("ldposSender000000000000000000000000000000")
	dal := &fakeVerifierDAL{accounts: map[Address]*Account{
		"ldposForger": {Address: "ldposForger"},
		sender:        accountWithKeys(sender, 100),
	}}
	verifier, cfg, _ := newTestVerifier(t, dal)
	interval := cfg.ForgingInterval.Milliseconds()
	last := lastBlockAt(5, 10, interval)

	tx := sigTx("tx1", sender, testSigKey, 1)
	tx.Fee = NewBigInt(1000)
	tx.Amount = NewBigInt(1000)
	candidate := &Block{
		Id: "b6", Height: 6, Timestamp: 11 * interval, PreviousBlockId: last.Id,
		ForgerAddress: "ldposForger", Transactions: []*Transaction{tx},
	}

	if _, err := verifier.Verify(context.Background(), candidate, last, []Address{"ldposForger"}); err == nil {
		t.Fatal("expected rejection: sender balance is far below the transaction's amount+fee")
	}
}
