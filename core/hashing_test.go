package core

import "testing"

func TestComputeTransactionIdIsDeterministic(t *testing.T) {
	tx := &Transaction{
		Type:          TxTransfer,
		SenderAddress: "ldposSender",
		Fee:           NewBigInt(10_000_000),
		Timestamp:     1000,
		Amount:        NewBigInt(5),
		RecipientAddress: "ldposRecipient",
		SigPublicKey:     "sigkey",
		NextSigPublicKey: "nextkey",
	}

	id1, err := ComputeTransactionId(tx)
	if err != nil {
		t.Fatalf("ComputeTransactionId: %v", err)
	}
	id2, err := ComputeTransactionId(tx)
	if err != nil {
		t.Fatalf("ComputeTransactionId: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected the same transaction fields to hash identically, got %q and %q", id1, id2)
	}
	if len(id1) != 64 {
		t.Fatalf("expected a 64-char hex sha256 digest, got %d chars", len(id1))
	}
}

func TestComputeTransactionIdIgnoresSignatureMaterial(t *testing.T) {
	base := &Transaction{
		Type:             TxTransfer,
		SenderAddress:    "ldposSender",
		Fee:              NewBigInt(10_000_000),
		Timestamp:        1000,
		Amount:           NewBigInt(5),
		RecipientAddress: "ldposRecipient",
		SigPublicKey:     "sigkey",
		SenderSignature:  "sig-a",
	}
	resigned := *base
	resigned.SenderSignature = "sig-b"

	id1, _ := ComputeTransactionId(base)
	id2, _ := ComputeTransactionId(&resigned)
	if id1 != id2 {
		t.Fatal("expected the transaction id to be stable across different signature bytes over the same fields")
	}
}

func TestComputeTransactionIdChangesWithSenderOrAmount(t *testing.T) {
	base := &Transaction{
		Type: TxTransfer, SenderAddress: "ldposA", Fee: NewBigInt(1), Timestamp: 1,
		Amount: NewBigInt(5), RecipientAddress: "ldposB", SigPublicKey: "k",
	}
	other := *base
	other.Amount = NewBigInt(6)

	id1, _ := ComputeTransactionId(base)
	id2, _ := ComputeTransactionId(&other)
	if id1 == id2 {
		t.Fatal("expected a changed amount to change the transaction id")
	}
}

func TestComputeTransactionIdSortsMemberAddresses(t *testing.T) {
	a := &Transaction{
		Type: TxRegisterMultisigWallet, SenderAddress: "ldposMultisig", Fee: NewBigInt(1), Timestamp: 1,
		MemberAddresses:        []Address{"ldposC", "ldposA", "ldposB"},
		RequiredSignatureCount: 2,
	}
	b := &Transaction{
		Type: TxRegisterMultisigWallet, SenderAddress: "ldposMultisig", Fee: NewBigInt(1), Timestamp: 1,
		MemberAddresses:        []Address{"ldposA", "ldposB", "ldposC"},
		RequiredSignatureCount: 2,
	}

	idA, err := ComputeTransactionId(a)
	if err != nil {
		t.Fatalf("ComputeTransactionId: %v", err)
	}
	idB, err := ComputeTransactionId(b)
	if err != nil {
		t.Fatalf("ComputeTransactionId: %v", err)
	}
	if idA != idB {
		t.Fatal("expected member address order to be normalized before hashing")
	}
}
