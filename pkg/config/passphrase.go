package config

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/scrypt"
)

// Fixed per spec.md §6: the passphrase-decryption scheme derives an
// AES-192 key from LDPOS_PASSWORD via scrypt and decrypts with a fixed
// (all-zero) IV. This is config-time plumbing for forgingCredentials'
// encryptedForgingPassphrase field, not part of the stateful signature
// scheme the external Crypto Client owns.
const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	aes192KeyLen = 24
)

var fixedIV = make([]byte, aes.BlockSize)

var errCiphertextLen = errors.New("ciphertext is not a multiple of the AES block size")

// deriveKey stretches password into an AES-192 key using scrypt with a
// fixed, constant salt so the same password always yields the
// same key (required for a deterministic decrypt, since no salt is
// stored alongside the ciphertext in this scheme).
func deriveKey(password string) ([]byte, error) {
	salt := []byte("ldpos-chain-forging-passphrase")
	return scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, aes192KeyLen)
}

// DecryptPassphrase decrypts a hex-encoded AES-192-CBC ciphertext
// (PKCS#7 padded) produced with the LDPOS_PASSWORD-derived key, per
// spec.md §6's Environment section.
func DecryptPassphrase(encryptedHex, password string) (string, error) {
	ciphertext, err := hex.DecodeString(encryptedHex)
	if err != nil {
		return "", err
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", errCiphertextLen
	}

	key, err := deriveKey(password)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, fixedIV).CryptBlocks(plaintext, ciphertext)
	return string(pkcs7Unpad(plaintext)), nil
}

// EncryptPassphrase is the inverse of DecryptPassphrase, used by
// operator tooling to produce encryptedForgingPassphrase values.
func EncryptPassphrase(plaintext, password string) (string, error) {
	key, err := deriveKey(password)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, fixedIV).CryptBlocks(out, padded)
	return hex.EncodeToString(out), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := make([]byte, padLen)
	for i := range padding {
		padding[i] = byte(padLen)
	}
	return append(data, padding...)
}

func pkcs7Unpad(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return data
	}
	return data[:len(data)-padLen]
}
