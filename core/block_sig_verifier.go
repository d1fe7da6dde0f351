package core

import "context"

// BlockSigVerifier implements spec.md §4.5: authenticates a single
// delegate co-signature against the active block. Grounded on
// quorum_tracker.go's vote-identity bookkeeping, narrowed here to one
// signature check (the quorum count itself lives in the Block-Slot
// Loop's COLLECT_SIGS stage, slot_loop.go).
type BlockSigVerifier struct {
	dal    DAL
	crypto CryptoClient
}

// NewBlockSigVerifier builds a BlockSigVerifier bound to its collaborators.
func NewBlockSigVerifier(dal DAL, crypto CryptoClient) *BlockSigVerifier {
	return &BlockSigVerifier{dal: dal, crypto: crypto}
}

// Verify checks S against the active block B per spec.md §4.5: the
// signer must not be the forger, must use a forging key it actually
// holds (current or next), must belong to the current top-active
// delegate set, and the signature itself must cryptographically verify.
func (v *BlockSigVerifier) Verify(ctx context.Context, b *Block, s *BlockSignature, activeDelegates *DelegateCache) error {
	if s.BlockId != b.Id {
		return validationErr("signature blockId does not match the active block")
	}
	if s.SignerAddress == b.ForgerAddress {
		return validationErr("forger may not co-sign its own block")
	}
	if !activeDelegates.IsActive(s.SignerAddress) {
		return categorize(CategoryAuthorization, ErrInvalidTransaction("signer is not in the top active delegate set"))
	}

	signerAcc, err := v.dal.GetAccount(ctx, s.SignerAddress)
	if err != nil {
		return err
	}
	if s.ForgingPublicKey != signerAcc.ForgingPublicKey && s.ForgingPublicKey != signerAcc.NextForgingPublicKey {
		return categorize(CategoryAuthentication, ErrInvalidTransaction("signature forgingPublicKey does not match signer's current or next key"))
	}

	ok, err := v.crypto.VerifyBlockSignature(ctx, b, s)
	if err != nil {
		return err
	}
	if !ok {
		return categorize(CategoryAuthentication, ErrInvalidTransaction("block signature did not verify"))
	}
	return nil
}
