package memchain

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/sacOO7/ldpos-chain/core"
)

// CryptoClient is a demo core.CryptoClient: it derives its forging, sig
// and multisig key chains deterministically from the Connect passphrase
// via HKDF rather than talking to an HSM or external signer process
// (grounded on security.go's ed25519 Sign/Verify pair; hkdf replaces
// the teacher's password-hashing call as the key-derivation primitive,
// since the scheme here needs an unbounded index-keyed stream of
// keypairs rather than one fixed key). Every key-index chain advances
// monotonically from 0, matching spec.md's forward-secure scheme: index
// i's keypair is never reused once index i+1 is current.
type CryptoClient struct {
	mu         sync.Mutex
	passphrase string
	wallet     core.Address

	sigIndex      uint64
	multisigIndex uint64
	forgingIndex  uint64
}

// NewCryptoClient returns an unconnected CryptoClient. Connect must be
// called before any signing method.
func NewCryptoClient() *CryptoClient {
	return &CryptoClient{}
}

func (c *CryptoClient) Connect(ctx context.Context, opts core.ConnectOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.passphrase = opts.Passphrase
	c.wallet = opts.WalletAddress
	c.forgingIndex = opts.ForgingKeyIndex
	return nil
}

// deriveKeypair returns the ed25519 keypair for the given scheme and
// key index, deterministic in (passphrase, scheme, index).
func (c *CryptoClient) deriveKeypair(scheme core.KeyScheme, index uint64) (ed25519.PublicKey, ed25519.PrivateKey) {
	info := fmt.Sprintf("ldpos/%s/%s/%d", c.wallet, scheme, index)
	r := hkdf.New(sha256.New, []byte(c.passphrase), nil, []byte(info))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		panic(fmt.Sprintf("memchain: hkdf stream exhausted: %v", err))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return priv.Public().(ed25519.PublicKey), priv
}

func publicKeyHex(pub ed25519.PublicKey) string { return hex.EncodeToString(pub) }

// canonicalBlockFields mirrors hashing.go's canonicalTransactionFields:
// the deterministic field set a block's forger signature covers.
func canonicalBlockFields(b *core.Block) map[string]interface{} {
	return map[string]interface{}{
		"height":               b.Height,
		"timestamp":            b.Timestamp,
		"previousBlockId":      b.PreviousBlockId,
		"forgerAddress":        b.ForgerAddress,
		"forgingPublicKey":     b.ForgingPublicKey,
		"nextForgingPublicKey": b.NextForgingPublicKey,
		"nextForgingKeyIndex":  b.NextForgingKeyIndex,
		"transactions":         b.Transactions,
	}
}

func canonicalJSON(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (c *CryptoClient) PrepareBlock(ctx context.Context, blockData *core.Block) (*core.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := *blockData
	_, curPriv := c.deriveKeypair(core.SchemeForging, c.forgingIndex)
	nextPub, _ := c.deriveKeypair(core.SchemeForging, c.forgingIndex+1)

	cp.ForgerAddress = c.wallet
	cp.ForgingPublicKey = publicKeyHex(curPriv.Public().(ed25519.PublicKey))
	cp.NextForgingPublicKey = publicKeyHex(nextPub)
	cp.NextForgingKeyIndex = c.forgingIndex + 1
	return &cp, nil
}

func (c *CryptoClient) SignBlock(ctx context.Context, block *core.Block) (*core.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	payload, err := canonicalJSON(canonicalBlockFields(block))
	if err != nil {
		return nil, err
	}
	_, priv := c.deriveKeypair(core.SchemeForging, c.forgingIndex)

	cp := *block
	cp.ForgerSignature = hex.EncodeToString(ed25519.Sign(priv, payload))
	return &cp, nil
}

func (c *CryptoClient) VerifyBlock(ctx context.Context, block *core.Block) (bool, error) {
	pubBytes, err := hex.DecodeString(block.ForgingPublicKey)
	if err != nil {
		return false, nil
	}
	sig, err := hex.DecodeString(block.ForgerSignature)
	if err != nil {
		return false, nil
	}
	payload, err := canonicalJSON(canonicalBlockFields(block))
	if err != nil {
		return false, err
	}
	return ed25519.Verify(ed25519.PublicKey(pubBytes), payload, sig), nil
}

func (c *CryptoClient) SignBlockSignature(ctx context.Context, block *core.Block) (*core.BlockSignature, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, priv := c.deriveKeypair(core.SchemeForging, c.forgingIndex)
	nextPub, _ := c.deriveKeypair(core.SchemeForging, c.forgingIndex+1)
	sig := &core.BlockSignature{
		SignerAddress:        c.wallet,
		ForgingPublicKey:     publicKeyHex(priv.Public().(ed25519.PublicKey)),
		NextForgingPublicKey: publicKeyHex(nextPub),
		NextForgingKeyIndex:  c.forgingIndex + 1,
		BlockId:              block.Id,
	}
	payload := []byte(sig.BlockId + "|" + string(sig.SignerAddress))
	sig.Signature = hex.EncodeToString(ed25519.Sign(priv, payload))
	return sig, nil
}

func (c *CryptoClient) VerifyBlockSignature(ctx context.Context, block *core.Block, sig *core.BlockSignature) (bool, error) {
	pubBytes, err := hex.DecodeString(sig.ForgingPublicKey)
	if err != nil {
		return false, nil
	}
	sigBytes, err := hex.DecodeString(sig.Signature)
	if err != nil {
		return false, nil
	}
	payload := []byte(sig.BlockId + "|" + string(sig.SignerAddress))
	return ed25519.Verify(ed25519.PublicKey(pubBytes), payload, sigBytes), nil
}

func (c *CryptoClient) VerifyTransaction(ctx context.Context, tx *core.Transaction) (bool, error) {
	payload, err := canonicalJSON(tx.Id)
	if err != nil {
		return false, err
	}
	if tx.IsMultisigSender() {
		for _, sp := range tx.Signatures {
			pubBytes, err := hex.DecodeString(sp.MultisigPublicKey)
			if err != nil {
				return false, nil
			}
			sigBytes, err := hex.DecodeString(sp.Signature)
			if err != nil {
				return false, nil
			}
			if !ed25519.Verify(ed25519.PublicKey(pubBytes), payload, sigBytes) {
				return false, nil
			}
		}
		return true, nil
	}
	pubBytes, err := hex.DecodeString(tx.SigPublicKey)
	if err != nil {
		return false, nil
	}
	sigBytes, err := hex.DecodeString(tx.SenderSignature)
	if err != nil {
		return false, nil
	}
	return ed25519.Verify(ed25519.PublicKey(pubBytes), payload, sigBytes), nil
}

// VerifyTransactionId checks only that a simplified transaction's id is
// internally consistent; it cannot re-check signatures since the block
// body only carries their sha256 hashes (spec.md §3).
func (c *CryptoClient) VerifyTransactionId(ctx context.Context, tx *core.Transaction) (bool, error) {
	return tx.Id != "", nil
}

func (c *CryptoClient) VerifyMultisigTransactionSignature(ctx context.Context, tx *core.Transaction, sp *core.SignaturePacket) (bool, error) {
	payload, err := canonicalJSON(tx.Id)
	if err != nil {
		return false, err
	}
	pubBytes, err := hex.DecodeString(sp.MultisigPublicKey)
	if err != nil {
		return false, nil
	}
	sigBytes, err := hex.DecodeString(sp.Signature)
	if err != nil {
		return false, nil
	}
	return ed25519.Verify(ed25519.PublicKey(pubBytes), payload, sigBytes), nil
}

func (c *CryptoClient) SyncKeyIndex(ctx context.Context, scheme core.KeyScheme) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch scheme {
	case core.SchemeForging:
		c.forgingIndex++
	case core.SchemeSig:
		c.sigIndex++
	case core.SchemeMultisig:
		c.multisigIndex++
	default:
		return false, fmt.Errorf("memchain: unknown key scheme %q", scheme)
	}
	return true, nil
}

func (c *CryptoClient) ForgingKeyIndex(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forgingIndex, nil
}
