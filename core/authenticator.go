package core

import (
	"context"
	"strings"

	"github.com/sacOO7/ldpos-chain/pkg/config"
)

// VerifyMode distinguishes full authentication (signature bytes present,
// mempool admission) from id-only authentication (block replay, where
// only the transaction id hash needs to check out against the sender's
// recorded keys; spec.md §4.2/§4.4).
type VerifyMode int

const (
	VerifyFull VerifyMode = iota
	VerifyIDOnly
)

// Authenticator implements spec.md §4.2: pure, I/O-free schema and
// signature/key-correspondence checks given an account snapshot. All
// cryptographic verification itself is delegated to the CryptoClient;
// this type only encodes the surrounding business rules (schema limits,
// key-correspondence, fee floors, balance checks).
type Authenticator struct {
	cfg    *config.Config
	crypto CryptoClient
}

// NewAuthenticator builds an Authenticator bound to cfg and crypto.
func NewAuthenticator(cfg *config.Config, crypto CryptoClient) *Authenticator {
	return &Authenticator{cfg: cfg, crypto: crypto}
}

// CheckSchema rejects malformed transactions per spec.md §4.2: missing
// required fields, oversized message, oversized numeric fields, or a
// sender address whose network-symbol prefix doesn't match cfg.
func (a *Authenticator) CheckSchema(tx *Transaction) error {
	if tx.Id == "" || tx.SenderAddress == "" || tx.Fee == nil {
		return categorize(CategoryValidation, ErrInvalidTransaction("missing required field"))
	}
	if len(tx.Message) > a.cfg.MaxTransactionMessageLength {
		return categorize(CategoryValidation, ErrInvalidTransaction("message exceeds maxTransactionMessageLength"))
	}
	if tx.SenderAddress.Symbol(a.cfg.NetworkSymbol) != a.cfg.NetworkSymbol {
		return categorize(CategoryValidation, ErrInvalidTransaction("sender address network symbol mismatch"))
	}
	if tx.Amount != nil && len(tx.Amount.String()) > a.cfg.MaxSpendableDigits {
		return categorize(CategoryValidation, ErrInvalidTransaction("amount exceeds maxSpendableDigits"))
	}
	if len(tx.Fee.String()) > a.cfg.MaxSpendableDigits {
		return categorize(CategoryValidation, ErrInvalidTransaction("fee exceeds maxSpendableDigits"))
	}
	switch tx.Type {
	case TxTransfer:
		if tx.RecipientAddress == "" || tx.Amount == nil {
			return categorize(CategoryValidation, ErrInvalidTransaction("transfer requires recipientAddress and amount"))
		}
	case TxVote, TxUnvote:
		if tx.DelegateAddress == "" {
			return categorize(CategoryValidation, ErrInvalidTransaction("vote/unvote requires delegateAddress"))
		}
	case TxRegisterMultisigWallet:
		if len(tx.MemberAddresses) < a.cfg.MinMultisigMembers || len(tx.MemberAddresses) > a.cfg.MaxMultisigMembers {
			return categorize(CategoryValidation, ErrInvalidTransaction("memberAddresses count out of bounds"))
		}
		if tx.RequiredSignatureCount < 1 || tx.RequiredSignatureCount > len(tx.MemberAddresses) {
			return categorize(CategoryValidation, ErrInvalidTransaction("invalid requiredSignatureCount"))
		}
	}
	return nil
}

// CheckTimestamp rejects future-dated transactions (spec.md §4.2).
func (a *Authenticator) CheckTimestamp(tx *Transaction, now int64) error {
	if tx.Timestamp > now {
		return categorize(CategoryValidation, ErrInvalidTransaction("timestamp is in the future"))
	}
	return nil
}

// CheckMinFee enforces the fee floor for full-mode admission (spec.md
// §4.2): base minTransactionFees[type] plus multisig surcharges.
func (a *Authenticator) CheckMinFee(tx *Transaction, memberAccountCount int) error {
	min, ok := a.cfg.MinTransactionFees[string(tx.Type)]
	if !ok {
		return nil
	}
	floor := MustParseBigInt(min)

	if tx.Type == TxRegisterMultisigWallet {
		perMember := MustParseBigInt(a.cfg.MinMultisigRegistrationFeePerMember)
		floor = floor.Add(perMember.Mul(len(tx.MemberAddresses)))
	}
	if tx.IsMultisigSender() {
		perMember := MustParseBigInt(a.cfg.MinMultisigTransactionFeePerMember)
		floor = floor.Add(perMember.Mul(memberAccountCount))
	}

	if tx.Fee.Cmp(floor) < 0 {
		return categorize(CategoryAuthorization, ErrInvalidTransaction("fee below configured minimum"))
	}
	return nil
}

// CheckBalance enforces amount+fee ≤ balance (spec.md §4.2).
func (a *Authenticator) CheckBalance(tx *Transaction, senderBalance *BigInt) error {
	spend := tx.Fee.Clone()
	if tx.Amount != nil {
		spend = spend.Add(tx.Amount)
	}
	if spend.Cmp(senderBalance) > 0 {
		return categorize(CategoryAuthorization, ErrInvalidTransaction("insufficient balance"))
	}
	return nil
}

// CheckSigAuthentication verifies a sig-sender transaction against the
// sender account snapshot (spec.md §4.2). If the account has never
// recorded a sigPublicKey, the first 40 hex chars of tx.SigPublicKey
// must equal the address body (address-derived first-use auth).
func (a *Authenticator) CheckSigAuthentication(ctx context.Context, tx *Transaction, sender *Account, mode VerifyMode) error {
	if sender.SigPublicKey == "" {
		body := sender.Address.Body(a.cfg.NetworkSymbol)
		if len(tx.SigPublicKey) < 40 || len(body) < 40 || tx.SigPublicKey[:40] != body[:40] {
			return categorize(CategoryAuthentication, ErrInvalidTransaction("sigPublicKey does not match address body on first use"))
		}
	} else if tx.SigPublicKey != sender.SigPublicKey && tx.SigPublicKey != sender.NextSigPublicKey {
		return categorize(CategoryAuthentication, ErrInvalidTransaction("sigPublicKey does not match current or next account key"))
	}

	var (
		ok  bool
		err error
	)
	switch mode {
	case VerifyFull:
		ok, err = a.crypto.VerifyTransaction(ctx, tx)
	case VerifyIDOnly:
		ok, err = a.crypto.VerifyTransactionId(ctx, tx)
	}
	if err != nil {
		return err
	}
	if !ok {
		return categorize(CategoryAuthentication, ErrInvalidTransaction("senderSignature did not verify"))
	}
	return nil
}

// CheckMultisigAuthentication verifies every signature packet against
// its member account snapshot (spec.md §4.2): distinct signers, each a
// registered member with a matching current/next multisigPublicKey, no
// duplicates, and at least requiredSignatureCount packets. In VerifyFull
// mode (mempool admission) each packet's actual signature bytes are
// cryptographically verified; in VerifyIDOnly mode (a block's simplified
// transactions, which carry only signatureHash per packet, spec.md §4.4)
// structural/key-correspondence checks still run but per-packet
// signature bytes are not re-verified — instead the overall transaction
// id is checked once via VerifyTransactionId.
func (a *Authenticator) CheckMultisigAuthentication(ctx context.Context, tx *Transaction, members map[Address]*Account, requiredSignatureCount int, mode VerifyMode) error {
	if len(tx.Signatures) < requiredSignatureCount {
		return categorize(CategoryAuthorization, ErrInvalidTransaction("insufficient signature packets for multisig wallet"))
	}

	seen := make(map[Address]bool, len(tx.Signatures))
	for _, sp := range tx.Signatures {
		if seen[sp.SignerAddress] {
			return categorize(CategoryValidation, ErrInvalidTransaction("duplicate signerAddress in multisig signatures"))
		}
		seen[sp.SignerAddress] = true

		member, ok := members[sp.SignerAddress]
		if !ok {
			return categorize(CategoryAuthorization, ErrInvalidTransaction("signer is not a registered multisig member"))
		}
		if sp.MultisigPublicKey != member.MultisigPublicKey && sp.MultisigPublicKey != member.NextMultisigPublicKey {
			return categorize(CategoryAuthentication, ErrInvalidTransaction("multisigPublicKey does not match member's current or next key"))
		}

		if mode == VerifyFull {
			ok, err := a.crypto.VerifyMultisigTransactionSignature(ctx, tx, &sp)
			if err != nil {
				return err
			}
			if !ok {
				return categorize(CategoryAuthentication, ErrInvalidTransaction("multisig signature did not verify"))
			}
		}
	}

	if mode == VerifyIDOnly {
		ok, err := a.crypto.VerifyTransactionId(ctx, tx)
		if err != nil {
			return err
		}
		if !ok {
			return categorize(CategoryAuthentication, ErrInvalidTransaction("transaction id did not verify"))
		}
	}
	return nil
}

// AddressNetworkSymbol returns the network symbol portion of addr; a
// thin wrapper kept alongside the authenticator so callers needn't
// import strings just to slice an Address.
func AddressNetworkSymbol(addr Address, configured string) string {
	return strings.TrimSpace(addr.Symbol(configured))
}
