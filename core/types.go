package core

import (
	"fmt"
	"strings"
)

// Address is a network-symbol-prefixed, hex-bodied account identifier,
// e.g. "ldpos6f2e1a...". Unlike a fixed-size EVM-style address it carries
// its network symbol inline, so equality and map keys work directly on
// the string form.
type Address string

// Symbol returns the leading network-symbol prefix of the address.
func (a Address) Symbol(networkSymbol string) string {
	if strings.HasPrefix(string(a), networkSymbol) {
		return networkSymbol
	}
	return ""
}

// Body returns the hex portion of the address following the network
// symbol prefix.
func (a Address) Body(networkSymbol string) string {
	return strings.TrimPrefix(string(a), networkSymbol)
}

// Short renders a truncated form suitable for log lines.
func (a Address) Short() string {
	s := string(a)
	if len(s) <= 12 {
		return s
	}
	return fmt.Sprintf("%s..%s", s[:8], s[len(s)-4:])
}

// AccountType distinguishes single-signature from multisig accounts.
type AccountType string

const (
	AccountTypeSig      AccountType = "sig"
	AccountTypeMultisig AccountType = "multisig"
)

// Account is the core balance/key-state record for an address. Sig
// fields are meaningful only when Type == AccountTypeSig; multisig
// fields only when Type == AccountTypeMultisig.
type Account struct {
	Address Address `json:"address"`
	Type    AccountType `json:"type"`
	Balance *BigInt `json:"balance"`

	UpdateHeight uint64 `json:"updateHeight"`

	SigPublicKey      string `json:"sigPublicKey,omitempty"`
	NextSigPublicKey  string `json:"nextSigPublicKey,omitempty"`
	NextSigKeyIndex   uint64 `json:"nextSigKeyIndex,omitempty"`

	MultisigPublicKey     string `json:"multisigPublicKey,omitempty"`
	NextMultisigPublicKey string `json:"nextMultisigPublicKey,omitempty"`
	NextMultisigKeyIndex  uint64 `json:"nextMultisigKeyIndex,omitempty"`

	ForgingPublicKey     string `json:"forgingPublicKey,omitempty"`
	NextForgingPublicKey string `json:"nextForgingPublicKey,omitempty"`
	NextForgingKeyIndex  uint64 `json:"nextForgingKeyIndex,omitempty"`

	RequiredSignatureCount int        `json:"requiredSignatureCount,omitempty"`
	MultisigMembers        []Address  `json:"multisigMembers,omitempty"`
}

// DefaultAccount returns a freshly-created, never-before-seen account for
// addr, per the lazy-creation lifecycle rule in spec.md §3.
func DefaultAccount(addr Address) *Account {
	return &Account{
		Address: addr,
		Type:    AccountTypeSig,
		Balance: NewBigInt(0),
	}
}

// Clone returns a deep-enough copy suitable for arena'd per-pass
// snapshots (spec.md §9): the Balance pointer is copied, never shared,
// so concurrent passes never observe each other's in-flight mutations.
func (a *Account) Clone() *Account {
	cp := *a
	cp.Balance = a.Balance.Clone()
	if a.MultisigMembers != nil {
		cp.MultisigMembers = append([]Address(nil), a.MultisigMembers...)
	}
	return &cp
}

// Delegate tracks a forging-eligible account's aggregate vote weight.
type Delegate struct {
	Address      Address `json:"address"`
	VoteWeight   *BigInt `json:"voteWeight"`
	UpdateHeight uint64  `json:"updateHeight"`
}

// Vote is a unique (voter, delegate) pairing.
type Vote struct {
	VoterAddress    Address `json:"voterAddress"`
	DelegateAddress Address `json:"delegateAddress"`
}

// TransactionType enumerates the kinds of mutation a transaction may
// carry out.
type TransactionType string

const (
	TxTransfer                 TransactionType = "transfer"
	TxVote                     TransactionType = "vote"
	TxUnvote                   TransactionType = "unvote"
	TxRegisterSigDetails       TransactionType = "registerSigDetails"
	TxRegisterMultisigDetails  TransactionType = "registerMultisigDetails"
	TxRegisterForgingDetails   TransactionType = "registerForgingDetails"
	TxRegisterMultisigWallet   TransactionType = "registerMultisigWallet"
)

// SignaturePacket is one multisig member's signature over a transaction.
type SignaturePacket struct {
	SignerAddress         Address `json:"signerAddress"`
	MultisigPublicKey     string  `json:"multisigPublicKey"`
	NextMultisigPublicKey string  `json:"nextMultisigPublicKey"`
	NextMultisigKeyIndex  uint64  `json:"nextMultisigKeyIndex"`
	Signature             string  `json:"signature,omitempty"`
	SignatureHash          string `json:"signatureHash,omitempty"`
}

// BlockSignature is a delegate co-signature on an active block.
type BlockSignature struct {
	SignerAddress        Address `json:"signerAddress"`
	ForgingPublicKey     string  `json:"forgingPublicKey"`
	NextForgingPublicKey string  `json:"nextForgingPublicKey"`
	NextForgingKeyIndex  uint64  `json:"nextForgingKeyIndex"`
	BlockId              string  `json:"blockId"`
	Signature            string  `json:"signature"`
}

// Transaction is the full, wire-level transaction record. For sig
// senders, SenderSignature/SigPublicKey/etc. are populated and
// Signatures is empty; for multisig senders, Signatures carries one
// packet per co-signer and the top-level sig fields are empty.
type Transaction struct {
	Id            string          `json:"id"`
	Type          TransactionType `json:"type"`
	SenderAddress Address         `json:"senderAddress"`
	Fee           *BigInt         `json:"fee"`
	Timestamp     int64           `json:"timestamp"`
	Message       string          `json:"message,omitempty"`

	Amount          *BigInt `json:"amount,omitempty"`
	RecipientAddress Address `json:"recipientAddress,omitempty"`

	DelegateAddress Address `json:"delegateAddress,omitempty"`

	MemberAddresses        []Address `json:"memberAddresses,omitempty"`
	RequiredSignatureCount int       `json:"requiredSignatureCount,omitempty"`

	NewSigPublicKey           string `json:"newSigPublicKey,omitempty"`
	NewNextSigPublicKey       string `json:"newNextSigPublicKey,omitempty"`
	NewNextSigKeyIndex        uint64 `json:"newNextSigKeyIndex,omitempty"`
	NewMultisigPublicKey      string `json:"newMultisigPublicKey,omitempty"`
	NewNextMultisigPublicKey  string `json:"newNextMultisigPublicKey,omitempty"`
	NewNextMultisigKeyIndex   uint64 `json:"newNextMultisigKeyIndex,omitempty"`
	NewForgingPublicKey       string `json:"newForgingPublicKey,omitempty"`
	NewNextForgingPublicKey   string `json:"newNextForgingPublicKey,omitempty"`
	NewNextForgingKeyIndex    uint64 `json:"newNextForgingKeyIndex,omitempty"`

	// Sig-sender authentication.
	SigPublicKey     string `json:"sigPublicKey,omitempty"`
	NextSigPublicKey string `json:"nextSigPublicKey,omitempty"`
	NextSigKeyIndex  uint64 `json:"nextSigKeyIndex,omitempty"`
	SenderSignature  string `json:"senderSignature,omitempty"`

	// Multisig-sender authentication.
	Signatures []SignaturePacket `json:"signatures,omitempty"`
}

// IsMultisigSender reports whether the transaction carries multisig
// signature packets rather than a single sender signature.
func (tx *Transaction) IsMultisigSender() bool {
	return len(tx.Signatures) > 0
}

// Simplify replaces full signatures with their sha256 hashes for block
// inclusion, per spec.md §3 ("simplified transaction").
func (tx *Transaction) Simplify() *Transaction {
	cp := *tx
	if tx.IsMultisigSender() {
		cp.Signatures = make([]SignaturePacket, len(tx.Signatures))
		for i, sp := range tx.Signatures {
			cp.Signatures[i] = sp
			cp.Signatures[i].SignatureHash = sha256Hex(sp.Signature)
			cp.Signatures[i].Signature = ""
		}
	} else {
		cp.SenderSignature = sha256Hex(tx.SenderSignature)
	}
	return &cp
}

// Block is the persisted unit of the hash-chained ledger.
type Block struct {
	Id               string `json:"id"`
	Height           uint64 `json:"height"`
	Timestamp        int64  `json:"timestamp"`
	PreviousBlockId  string `json:"previousBlockId"`

	ForgerAddress        Address `json:"forgerAddress"`
	ForgingPublicKey     string  `json:"forgingPublicKey"`
	NextForgingPublicKey string  `json:"nextForgingPublicKey"`
	NextForgingKeyIndex  uint64  `json:"nextForgingKeyIndex"`

	Transactions []*Transaction `json:"transactions"`

	ForgerSignature string           `json:"forgerSignature"`
	Signatures      []BlockSignature `json:"signatures"`
}

// GenesisBlock returns the canonical genesis tip per spec.md §9 (iii):
// height 0, so the first forged block is height 1.
func GenesisBlock(id string, timestamp int64) *Block {
	return &Block{Id: id, Height: 0, Timestamp: timestamp}
}
