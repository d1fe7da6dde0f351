package core

import (
	"context"
	"testing"
)

type fakeSigVerifierDAL struct {
	DAL
	accounts map[Address]*Account
}

func (f *fakeSigVerifierDAL) GetAccount(ctx context.Context, addr Address) (*Account, error) {
	acc, ok := f.accounts[addr]
	if !ok {
		return nil, ErrAccountDidNotExist
	}
	return acc.Clone(), nil
}

func activeCache(t *testing.T, addrs ...Address) *DelegateCache {
	t.Helper()
	delegates := make([]*Delegate, len(addrs))
	for i, a := range addrs {
		delegates[i] = &Delegate{Address: a, VoteWeight: NewBigInt(int64(len(addrs) - i))}
	}
	cache, err := NewDelegateCache(len(addrs))
	if err != nil {
		t.Fatalf("NewDelegateCache: %v", err)
	}
	if err := cache.Refresh(context.Background(), &stubDelegateDAL{delegates: delegates}); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	return cache
}

func TestBlockSigVerifierAcceptsValidCoSignature(t *testing.T) {
	dal := &fakeSigVerifierDAL{accounts: map[Address]*Account{
		"ldposSigner": {Address: "ldposSigner", ForgingPublicKey: "fpk"},
	}}
	v := NewBlockSigVerifier(dal, fakeCrypto{})
	block := &Block{Id: "b1", ForgerAddress: "ldposForger"}
	sig := &BlockSignature{BlockId: "b1", SignerAddress: "ldposSigner", ForgingPublicKey: "fpk"}

	if err := v.Verify(context.Background(), block, sig, activeCache(t, "ldposSigner")); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestBlockSigVerifierRejectsForgerCoSigningOwnBlock(t *testing.T) {
	dal := &fakeSigVerifierDAL{accounts: map[Address]*Account{"ldposForger": {Address: "ldposForger"}}}
	v := NewBlockSigVerifier(dal, fakeCrypto{})
	block := &Block{Id: "b1", ForgerAddress: "ldposForger"}
	sig := &BlockSignature{BlockId: "b1", SignerAddress: "ldposForger"}

	if err := v.Verify(context.Background(), block, sig, activeCache(t, "ldposForger")); err == nil {
		t.Fatal("expected rejection of a forger co-signing its own block")
	}
}

func TestBlockSigVerifierRejectsInactiveSigner(t *testing.T) {
	dal := &fakeSigVerifierDAL{accounts: map[Address]*Account{"ldposOutsider": {Address: "ldposOutsider"}}}
	v := NewBlockSigVerifier(dal, fakeCrypto{})
	block := &Block{Id: "b1", ForgerAddress: "ldposForger"}
	sig := &BlockSignature{BlockId: "b1", SignerAddress: "ldposOutsider"}

	if err := v.Verify(context.Background(), block, sig, activeCache(t, "ldposSigner")); err == nil {
		t.Fatal("expected rejection: signer is not in the active delegate set")
	}
}

func TestBlockSigVerifierRejectsMismatchedBlockId(t *testing.T) {
	dal := &fakeSigVerifierDAL{accounts: map[Address]*Account{"ldposSigner": {Address: "ldposSigner"}}}
	v := NewBlockSigVerifier(dal, fakeCrypto{})
	block := &Block{Id: "b1", ForgerAddress: "ldposForger"}
	sig := &BlockSignature{BlockId: "other", SignerAddress: "ldposSigner"}

	if err := v.Verify(context.Background(), block, sig, activeCache(t, "ldposSigner")); err == nil {
		t.Fatal("expected rejection of a signature over a different blockId")
	}
}

func TestBlockSigVerifierRejectsKeyMismatch(t *testing.T) {
	dal := &fakeSigVerifierDAL{accounts: map[Address]*Account{
		"ldposSigner": {Address: "ldposSigner", ForgingPublicKey: "fpk", NextForgingPublicKey: "next"},
	}}
	v := NewBlockSigVerifier(dal, fakeCrypto{})
	block := &Block{Id: "b1", ForgerAddress: "ldposForger"}
	sig := &BlockSignature{BlockId: "b1", SignerAddress: "ldposSigner", ForgingPublicKey: "unrelated"}

	if err := v.Verify(context.Background(), block, sig, activeCache(t, "ldposSigner")); err == nil {
		t.Fatal("expected rejection: signature forgingPublicKey matches neither current nor next key")
	}
}
