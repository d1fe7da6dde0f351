package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// sha256Hex returns the lowercase-hex sha256 digest of s, used both for
// simplified-signature hashes (spec.md §3) and transaction id derivation
// in id-only authentication mode (spec.md §4.2).
func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// canonicalTransactionFields returns the deterministic field set a
// transaction id is hashed over: every field except Id itself and the
// signature material, so the id is stable regardless of which
// authentication mode produced it.
func canonicalTransactionFields(tx *Transaction) map[string]interface{} {
	m := map[string]interface{}{
		"type":          tx.Type,
		"senderAddress": tx.SenderAddress,
		"fee":           tx.Fee.String(),
		"timestamp":     tx.Timestamp,
		"message":       tx.Message,
	}
	if tx.Amount != nil {
		m["amount"] = tx.Amount.String()
	}
	if tx.RecipientAddress != "" {
		m["recipientAddress"] = tx.RecipientAddress
	}
	if tx.DelegateAddress != "" {
		m["delegateAddress"] = tx.DelegateAddress
	}
	if len(tx.MemberAddresses) > 0 {
		addrs := append([]Address(nil), tx.MemberAddresses...)
		sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
		m["memberAddresses"] = addrs
		m["requiredSignatureCount"] = tx.RequiredSignatureCount
	}
	if tx.NewSigPublicKey != "" {
		m["newSigPublicKey"] = tx.NewSigPublicKey
		m["newNextSigPublicKey"] = tx.NewNextSigPublicKey
		m["newNextSigKeyIndex"] = tx.NewNextSigKeyIndex
	}
	if tx.NewMultisigPublicKey != "" {
		m["newMultisigPublicKey"] = tx.NewMultisigPublicKey
		m["newNextMultisigPublicKey"] = tx.NewNextMultisigPublicKey
		m["newNextMultisigKeyIndex"] = tx.NewNextMultisigKeyIndex
	}
	if tx.NewForgingPublicKey != "" {
		m["newForgingPublicKey"] = tx.NewForgingPublicKey
		m["newNextForgingPublicKey"] = tx.NewNextForgingPublicKey
		m["newNextForgingKeyIndex"] = tx.NewNextForgingKeyIndex
	}
	if !tx.IsMultisigSender() {
		m["sigPublicKey"] = tx.SigPublicKey
		m["nextSigPublicKey"] = tx.NextSigPublicKey
		m["nextSigKeyIndex"] = tx.NextSigKeyIndex
	}
	return m
}

// ComputeTransactionId hashes the canonical fields (marshaled with sorted
// keys, via encoding/json's deterministic map ordering) into the
// transaction's deterministic id, per spec.md §3.
func ComputeTransactionId(tx *Transaction) (string, error) {
	data, err := json.Marshal(canonicalTransactionFields(tx))
	if err != nil {
		return "", err
	}
	return sha256Hex(string(data)), nil
}
