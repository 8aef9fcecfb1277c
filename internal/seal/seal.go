// Package seal provides password-based authenticated encryption for export
// containers: PBKDF2-HMAC-SHA256 key derivation in front of AES-256-GCM.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/pbkdf2"
)

// ErrAuthentication is returned for every decryption failure, whether the
// password is wrong or the ciphertext was tampered with. Callers get no
// distinction between the two.
var ErrAuthentication = errors.New("decryption failed: wrong password or corrupted data")

const (
	keyLen   = 32
	saltLen  = 32
	nonceLen = 12

	// MinIterations is the floor for the PBKDF2 cost. Configuration may raise
	// it, never lower it.
	MinIterations = 100_000

	passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"
)

// Sealer derives keys and seals/opens payloads with a fixed KDF cost.
type Sealer struct {
	iterations        int
	generatedPassword int
}

// New creates a Sealer. Iteration counts below MinIterations are raised to
// it, and non-positive password lengths fall back to 24.
func New(iterations, generatedPasswordLength int) *Sealer {
	if iterations < MinIterations {
		iterations = MinIterations
	}
	if generatedPasswordLength <= 0 {
		generatedPasswordLength = 24
	}
	return &Sealer{iterations: iterations, generatedPassword: generatedPasswordLength}
}

// DeriveKey stretches a password into a 32-byte AES key. Deterministic for
// identical inputs.
func (s *Sealer) DeriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, s.iterations, keyLen, sha256.New)
}

// Encrypt seals plaintext under the password with a fresh random salt and
// nonce. The returned ciphertext carries the GCM authentication tag.
func (s *Sealer) Encrypt(plaintext []byte, password string) (salt, nonce, ciphertext []byte, err error) {
	salt = make([]byte, saltLen)
	if _, err = rand.Read(salt); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	nonce = make([]byte, nonceLen)
	if _, err = rand.Read(nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	aead, err := newAEAD(s.DeriveKey(password, salt))
	if err != nil {
		return nil, nil, nil, err
	}
	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return salt, nonce, ciphertext, nil
}

// Decrypt opens a sealed payload. Every failure path returns
// ErrAuthentication; partial plaintext is never returned.
func (s *Sealer) Decrypt(ciphertext []byte, password string, salt, nonce []byte) ([]byte, error) {
	if len(nonce) != nonceLen {
		return nil, ErrAuthentication
	}
	aead, err := newAEAD(s.DeriveKey(password, salt))
	if err != nil {
		return nil, ErrAuthentication
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// GeneratePassword returns a fresh high-entropy password suitable for the
// generated-encryption export path. Never log the result.
func (s *Sealer) GeneratePassword() (string, error) {
	out := make([]byte, s.generatedPassword)
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
