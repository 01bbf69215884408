// Package vault encrypts user-supplied provider API keys before they are
// persisted and decides, per request, whether a user's own key applies.
//
// Stored credentials have the form <hex(iv)>:<hex(ciphertext||tag)>. The
// ciphertext is AES-256-CBC with PKCS#7 padding; the tag is an HMAC-SHA256
// over iv||ciphertext. Both keys come from a single scrypt derivation of the
// process-wide master secret with a fixed application salt.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/crypto/scrypt"
)

const (
	// MinMasterSecretLength is the AES-256 key size; shorter master secrets
	// are rejected instead of silently producing weak keys.
	MinMasterSecretLength = 32

	delimiter = ":"
	keySize   = 32
	ivSize    = aes.BlockSize
	tagSize   = sha256.Size

	scryptN = 1 << 14
	scryptR = 8
	scryptP = 1
)

// kdfSalt is shared by every record. Changing it makes every stored
// credential undecryptable, so it stays fixed until a re-encryption
// migration exists.
var kdfSalt = []byte("hostingspace/credential-vault")

var (
	// ErrWeakMasterSecret is returned when the master secret is shorter than MinMasterSecretLength.
	ErrWeakMasterSecret = eris.New("master secret is too short")
	// ErrEmptyPlaintext is returned when asked to encrypt an empty value.
	ErrEmptyPlaintext = eris.New("plaintext is required")
)

// DecryptionError reports a stored credential that cannot be decrypted: it is
// malformed, was tampered with, or was encrypted under another master secret.
// The message never contains key material.
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	return "decrypting credential: " + e.Reason
}

func (e *DecryptionError) Unwrap() error {
	return e.Err
}

func decryptionError(reason string, err error) error {
	return &DecryptionError{Reason: reason, Err: err}
}

type derivedKeys struct {
	cipher []byte
	mac    []byte
}

// ValidateMasterSecret reports whether secret carries at least as much key
// material as the cipher requires before derivation.
func ValidateMasterSecret(secret string) bool {
	return len(secret) >= MinMasterSecretLength
}

// GenerateMasterSecret returns 32 random bytes, hex encoded, suitable for ENCRYPTION_KEY.
func GenerateMasterSecret() (string, error) {
	buf := make([]byte, keySize)
	if _, err := rand.Read(buf); err != nil {
		return "", eris.Wrap(err, "reading random bytes")
	}
	return hex.EncodeToString(buf), nil
}

// Encrypt derives the keys from masterSecret and encrypts plaintext under a
// fresh IV. Identical inputs never yield identical outputs.
func Encrypt(plaintext, masterSecret string) (string, error) {
	keys, err := deriveKeys(masterSecret)
	if err != nil {
		return "", err
	}
	return encrypt(keys, plaintext)
}

// Decrypt reverses Encrypt. Any failure is a *DecryptionError and no
// plaintext is returned.
func Decrypt(stored, masterSecret string) (string, error) {
	keys, err := deriveKeys(masterSecret)
	if err != nil {
		return "", err
	}
	return decrypt(keys, stored)
}

func deriveKeys(masterSecret string) (derivedKeys, error) {
	if !ValidateMasterSecret(masterSecret) {
		return derivedKeys{}, ErrWeakMasterSecret
	}

	material, err := scrypt.Key([]byte(masterSecret), kdfSalt, scryptN, scryptR, scryptP, 2*keySize)
	if err != nil {
		return derivedKeys{}, eris.Wrap(err, "deriving credential keys")
	}

	return derivedKeys{cipher: material[:keySize], mac: material[keySize:]}, nil
}

func encrypt(keys derivedKeys, plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPlaintext
	}

	block, err := aes.NewCipher(keys.cipher)
	if err != nil {
		return "", eris.Wrap(err, "creating block cipher")
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", eris.Wrap(err, "generating iv")
	}

	padded := pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	body := append(ciphertext, sign(keys.mac, iv, ciphertext)...)

	return hex.EncodeToString(iv) + delimiter + hex.EncodeToString(body), nil
}

func decrypt(keys derivedKeys, stored string) (string, error) {
	ivHex, bodyHex, found := strings.Cut(stored, delimiter)
	if !found {
		return "", decryptionError("missing delimiter", nil)
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return "", decryptionError("iv is not valid hex", err)
	}
	if len(iv) != ivSize {
		return "", decryptionError("iv has wrong length", nil)
	}

	body, err := hex.DecodeString(bodyHex)
	if err != nil {
		return "", decryptionError("ciphertext is not valid hex", err)
	}

	ctLen := len(body) - tagSize
	if ctLen < aes.BlockSize || ctLen%aes.BlockSize != 0 {
		return "", decryptionError("ciphertext has wrong length", nil)
	}
	ciphertext, tag := body[:ctLen], body[ctLen:]

	if !hmac.Equal(tag, sign(keys.mac, iv, ciphertext)) {
		return "", decryptionError("integrity check failed", nil)
	}

	block, err := aes.NewCipher(keys.cipher)
	if err != nil {
		return "", decryptionError("creating block cipher", err)
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := unpad(padded, aes.BlockSize)
	if err != nil {
		return "", decryptionError("invalid padding", err)
	}

	return string(plaintext), nil
}

func sign(key, iv, ciphertext []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(iv)
	mac.Write(ciphertext)
	return mac.Sum(nil)
}

func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+n)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, eris.New("padded data has wrong length")
	}

	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, eris.New("padding length out of range")
	}

	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, eris.New("padding bytes mismatch")
		}
	}

	return data[:len(data)-n], nil
}
