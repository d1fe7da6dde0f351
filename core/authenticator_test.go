package core

import (
	"context"
	"strings"
	"testing"

	"github.com/sacOO7/ldpos-chain/pkg/config"
)

func newTestAuthenticator(t *testing.T) (*Authenticator, *config.Config) {
	t.Helper()
	cfg := testConfig(t)
	return NewAuthenticator(cfg, fakeCrypto{}), cfg
}

func baseTransferTx() *Transaction {
	return &Transaction{
		Id:               "tx1",
		Type:             TxTransfer,
		SenderAddress:    "ldposSender000000000000000000000000000000",
		Fee:              NewBigInt(10_000_000),
		Amount:           NewBigInt(1),
		RecipientAddress: "ldposRecipient0000000000000000000000000000",
	}
}

func TestCheckSchemaRejectsMissingFields(t *testing.T) {
	auth, _ := newTestAuthenticator(t)
	tx := baseTransferTx()
	tx.Id = ""
	if err := auth.CheckSchema(tx); err == nil {
		t.Fatal("expected rejection of a transaction with no id")
	}
}

func TestCheckSchemaRejectsNetworkSymbolMismatch(t *testing.T) {
	auth, _ := newTestAuthenticator(t)
	tx := baseTransferTx()
	tx.SenderAddress = "btcSender0000000000000000000000000000000"
	if err := auth.CheckSchema(tx); err == nil {
		t.Fatal("expected rejection of a sender address with the wrong network symbol")
	}
}

func TestCheckSchemaRejectsOversizedMessage(t *testing.T) {
	auth, cfg := newTestAuthenticator(t)
	tx := baseTransferTx()
	tx.Message = strings.Repeat("x", cfg.MaxTransactionMessageLength+1)
	if err := auth.CheckSchema(tx); err == nil {
		t.Fatal("expected rejection of an oversized message")
	}
}

func TestCheckSchemaRejectsTransferMissingRecipient(t *testing.T) {
	auth, _ := newTestAuthenticator(t)
	tx := baseTransferTx()
	tx.RecipientAddress = ""
	if err := auth.CheckSchema(tx); err == nil {
		t.Fatal("expected rejection of a transfer with no recipientAddress")
	}
}

func TestCheckSchemaAcceptsWellFormedTransfer(t *testing.T) {
	auth, _ := newTestAuthenticator(t)
	if err := auth.CheckSchema(baseTransferTx()); err != nil {
		t.Fatalf("CheckSchema: %v", err)
	}
}

func TestCheckSchemaValidatesMultisigMemberBounds(t *testing.T) {
	auth, cfg := newTestAuthenticator(t)
	cfg.MinMultisigMembers = 2
	cfg.MaxMultisigMembers = 3

	tx := &Transaction{
		Id: "tx1", Type: TxRegisterMultisigWallet, SenderAddress: "ldposSender000000000000000000000000000000",
		Fee: NewBigInt(1), MemberAddresses: []Address{"ldposA"}, RequiredSignatureCount: 1,
	}
	if err := auth.CheckSchema(tx); err == nil {
		t.Fatal("expected rejection: one member is below MinMultisigMembers")
	}

	tx.MemberAddresses = []Address{"ldposA", "ldposB"}
	tx.RequiredSignatureCount = 0
	if err := auth.CheckSchema(tx); err == nil {
		t.Fatal("expected rejection: requiredSignatureCount of 0 is invalid")
	}

	tx.RequiredSignatureCount = 2
	if err := auth.CheckSchema(tx); err != nil {
		t.Fatalf("CheckSchema: %v", err)
	}
}

func TestCheckTimestampRejectsFutureDated(t *testing.T) {
	auth, _ := newTestAuthenticator(t)
	tx := baseTransferTx()
	tx.Timestamp = 2000
	if err := auth.CheckTimestamp(tx, 1000); err == nil {
		t.Fatal("expected rejection of a future-dated transaction")
	}
	if err := auth.CheckTimestamp(tx, 2000); err != nil {
		t.Fatalf("CheckTimestamp at exactly now: %v", err)
	}
}

func TestCheckMinFeeEnforcesConfiguredFloor(t *testing.T) {
	auth, cfg := newTestAuthenticator(t)
	cfg.MinTransactionFees = config.MinTransactionFees{string(TxTransfer): "1000000"}

	tx := baseTransferTx()
	tx.Fee = NewBigInt(999)
	if err := auth.CheckMinFee(tx, 0); err == nil {
		t.Fatal("expected rejection of a fee below the configured minimum")
	}

	tx.Fee = NewBigInt(1_000_000)
	if err := auth.CheckMinFee(tx, 0); err != nil {
		t.Fatalf("CheckMinFee at exactly the floor: %v", err)
	}
}

func TestCheckBalanceRejectsInsufficientFunds(t *testing.T) {
	auth, _ := newTestAuthenticator(t)
	tx := baseTransferTx()
	tx.Amount = NewBigInt(100)
	tx.Fee = NewBigInt(10)

	if err := auth.CheckBalance(tx, NewBigInt(50)); err == nil {
		t.Fatal("expected rejection: balance 50 is below amount+fee 110")
	}
	if err := auth.CheckBalance(tx, NewBigInt(110)); err != nil {
		t.Fatalf("CheckBalance with exactly enough funds: %v", err)
	}
}

func TestCheckSigAuthenticationFirstUseBootstrap(t *testing.T) {
	auth, cfg := newTestAuthenticator(t)
	sender := &Account{Address: "ldposa1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6"}

	tx := baseTransferTx()
	tx.SenderAddress = sender.Address
	tx.SigPublicKey = sender.Address.Body(cfg.NetworkSymbol)[:40] + "tail"
	if err := auth.CheckSigAuthentication(context.Background(), tx, sender, VerifyFull); err != nil {
		t.Fatalf("expected first-use bootstrap to accept a key matching the address body: %v", err)
	}

	tx.SigPublicKey = "0000000000000000000000000000000000000000"
	if err := auth.CheckSigAuthentication(context.Background(), tx, sender, VerifyFull); err == nil {
		t.Fatal("expected first-use bootstrap to reject a key not matching the address body")
	}
}

func TestCheckSigAuthenticationAgainstRegisteredKey(t *testing.T) {
	auth, _ := newTestAuthenticator(t)
	sender := &Account{
		Address: "ldposSender000000000000000000000000000000",
		SigPublicKey: "currentkeycurrentkeycurrentkeycurrentkey",
		NextSigPublicKey: "nextkeynextkeynextkeynextkeynextkeynextk",
	}

	tx := baseTransferTx()
	tx.SigPublicKey = sender.NextSigPublicKey
	if err := auth.CheckSigAuthentication(context.Background(), tx, sender, VerifyFull); err != nil {
		t.Fatalf("expected the registered next key to be accepted: %v", err)
	}

	tx.SigPublicKey = "someunrelatedkeythatmatchesneithercurrentnornext"
	if err := auth.CheckSigAuthentication(context.Background(), tx, sender, VerifyFull); err == nil {
		t.Fatal("expected an unrelated sigPublicKey to be rejected")
	}
}

func TestCheckMultisigAuthenticationRejectsDuplicateSigner(t *testing.T) {
	auth, _ := newTestAuthenticator(t)
	tx := baseTransferTx()
	tx.Signatures = []SignaturePacket{
		{SignerAddress: "ldposMember1", MultisigPublicKey: "key1"},
		{SignerAddress: "ldposMember1", MultisigPublicKey: "key1"},
	}
	members := map[Address]*Account{
		"ldposMember1": {Address: "ldposMember1", MultisigPublicKey: "key1"},
	}
	if err := auth.CheckMultisigAuthentication(context.Background(), tx, members, 1, VerifyFull); err == nil {
		t.Fatal("expected rejection of a duplicate signerAddress")
	}
}

func TestCheckMultisigAuthenticationRejectsNonMember(t *testing.T) {
	auth, _ := newTestAuthenticator(t)
	tx := baseTransferTx()
	tx.Signatures = []SignaturePacket{{SignerAddress: "ldposStranger", MultisigPublicKey: "key1"}}
	if err := auth.CheckMultisigAuthentication(context.Background(), tx, map[Address]*Account{}, 1, VerifyFull); err == nil {
		t.Fatal("expected rejection of a signer who is not a registered member")
	}
}

func TestCheckMultisigAuthenticationAcceptsValidQuorum(t *testing.T) {
	auth, _ := newTestAuthenticator(t)
	tx := baseTransferTx()
	tx.Signatures = []SignaturePacket{
		{SignerAddress: "ldposMember1", MultisigPublicKey: "key1"},
		{SignerAddress: "ldposMember2", MultisigPublicKey: "key2"},
	}
	members := map[Address]*Account{
		"ldposMember1": {Address: "ldposMember1", MultisigPublicKey: "key1"},
		"ldposMember2": {Address: "ldposMember2", MultisigPublicKey: "key2"},
	}
	if err := auth.CheckMultisigAuthentication(context.Background(), tx, members, 2, VerifyFull); err != nil {
		t.Fatalf("expected a valid quorum to be accepted: %v", err)
	}
}
