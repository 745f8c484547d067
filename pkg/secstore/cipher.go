package secstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	keyLen  = 32
	saltLen = 16
)

// KDFParams tunes argon2id key derivation.
type KDFParams struct {
	Time    uint32 `json:"time"`
	Memory  uint32 `json:"memory"`
	Threads uint8  `json:"threads"`
}

// DefaultKDF follows the argon2id recommendation for interactive logins.
var DefaultKDF = KDFParams{Time: 1, Memory: 64 * 1024, Threads: 4}

// Upper bounds for parameters read from a vault file.
const (
	maxKDFTime    = 64
	maxKDFMemory  = 1 << 20 // KiB
	maxKDFThreads = 64
)

// Validate checks that p is usable by argon2 and bounded in cost.
func (p KDFParams) Validate() error {
	switch {
	case p.Time < 1 || p.Time > maxKDFTime:
		return fmt.Errorf("%w: time %d outside 1..%d", ErrInvalidKDF, p.Time, maxKDFTime)
	case p.Threads < 1 || p.Threads > maxKDFThreads:
		return fmt.Errorf("%w: threads %d outside 1..%d", ErrInvalidKDF, p.Threads, maxKDFThreads)
	case p.Memory < 8*uint32(p.Threads) || p.Memory > maxKDFMemory:
		return fmt.Errorf("%w: memory %d KiB outside %d..%d", ErrInvalidKDF, p.Memory, 8*uint32(p.Threads), maxKDFMemory)
	}

	return nil
}

func newSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("secstore: salt: %w", err)
	}

	return salt, nil
}

// deriveAEAD derives an AES-256-GCM cipher from password and salt.
func deriveAEAD(password string, salt []byte, p KDFParams) (cipher.AEAD, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	key := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, keyLen)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secstore: cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secstore: gcm: %w", err)
	}

	return aead, nil
}

// seal encrypts plaintext and prefixes the random nonce.
func seal(aead cipher.AEAD, plaintext, additional []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("secstore: nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, additional), nil
}

// unseal reverses seal. Authentication failures mean the password was wrong
// or the data was tampered with; both report ErrWrongCredential.
func unseal(aead cipher.AEAD, sealed, additional []byte) ([]byte, error) {
	if len(sealed) < aead.NonceSize() {
		return nil, ErrWrongCredential
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, additional)
	if err != nil {
		return nil, ErrWrongCredential
	}

	return plaintext, nil
}
