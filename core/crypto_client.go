package core

import "context"

// KeyScheme names which of a delegate/sender's three independent
// stateful-signature chains an operation addresses (spec.md GLOSSARY).
type KeyScheme string

const (
	SchemeForging  KeyScheme = "forging"
	SchemeSig      KeyScheme = "sig"
	SchemeMultisig KeyScheme = "multisig"
)

// ConnectOptions configures a CryptoClient connection to a specific
// forging identity (spec.md §6).
type ConnectOptions struct {
	Passphrase      string
	WalletAddress   Address
	ForgingKeyIndex uint64
}

// CryptoClient is the external key-derivation/signing/verification
// collaborator (spec.md §1/§6). It owns the stateful, forward-secure
// signature scheme; the core only calls through this interface and
// never implements a primitive itself.
type CryptoClient interface {
	Connect(ctx context.Context, opts ConnectOptions) error

	PrepareBlock(ctx context.Context, blockData *Block) (*Block, error)
	SignBlock(ctx context.Context, block *Block) (*Block, error)
	VerifyBlock(ctx context.Context, block *Block) (bool, error)

	// SignBlockSignature produces this node's co-signature over a block
	// it did not forge (spec.md §4.8 COLLECT_SIGS: "each local forging
	// delegate that is not the current forger produces its own
	// signature").
	SignBlockSignature(ctx context.Context, block *Block) (*BlockSignature, error)
	VerifyBlockSignature(ctx context.Context, block *Block, sig *BlockSignature) (bool, error)

	VerifyTransaction(ctx context.Context, tx *Transaction) (bool, error)
	VerifyTransactionId(ctx context.Context, tx *Transaction) (bool, error)
	VerifyMultisigTransactionSignature(ctx context.Context, tx *Transaction, sp *SignaturePacket) (bool, error)

	// SyncKeyIndex advances the local key index for the given scheme if
	// the network has moved ahead, reporting whether it advanced.
	SyncKeyIndex(ctx context.Context, scheme KeyScheme) (bool, error)
	ForgingKeyIndex(ctx context.Context) (uint64, error)
}
