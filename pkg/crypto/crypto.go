// Package crypto provides the cryptographic primitives used by devlock.
//
// The stored secret is protected with AES-256-GCM authenticated encryption.
// The installation key on disk is never used directly as the cipher key:
// a purpose-bound subkey is derived from it with HKDF-SHA256.
//
// # Security Features
//
//   - AES-256-GCM authenticated encryption
//   - HKDF-SHA256 subkey derivation with a per-purpose info string
//   - Cryptographically secure random key and nonce generation
//   - Secure memory wiping for sensitive data
//
// # Example Usage
//
//	// Create an installation key and derive the cipher key
//	master, err := crypto.GenerateKey()
//	key, err := crypto.DeriveSubkey(master, crypto.SecretKeyInfo)
//
//	// Seal a password into a self-contained text blob
//	blob, err := crypto.SealString(key, "SAM")
//
//	// Open it again
//	plaintext, err := crypto.OpenString(key, blob)
//
//	// Securely wipe sensitive data
//	crypto.SecureWipe(plaintext)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = 32

	// NonceLength is the length of GCM nonces in bytes (96 bits).
	NonceLength = 12

	// TagLength is the length of the GCM authentication tag in bytes.
	TagLength = 16

	// SecretKeyInfo binds derived keys to the stored-secret use.
	SecretKeyInfo = "devlock-secret-v1"
)

// Sentinel errors returned by crypto functions.
var (
	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

	// ErrInvalidNonceLength indicates the nonce is not 12 bytes.
	ErrInvalidNonceLength = errors.New("crypto: invalid nonce length, must be 12 bytes")

	// ErrDecryptionFailed indicates decryption or authentication tag verification failed.
	ErrDecryptionFailed = errors.New("crypto: decryption failed, authentication tag verification failed")

	// ErrCiphertextTooShort indicates the ciphertext is shorter than the GCM tag.
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")

	// ErrMalformedBlob indicates a sealed blob is not valid base64.
	ErrMalformedBlob = errors.New("crypto: malformed encrypted blob")
)

var blobEncoding = base64.RawURLEncoding

// GenerateKey returns a new random 32-byte key read from crypto/rand.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeyLength)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate key: %w", err)
	}
	return key, nil
}

// DeriveSubkey derives a 256-bit key for a single purpose from the master
// key using HKDF-SHA256. Different info strings yield independent keys.
func DeriveSubkey(master []byte, info string) ([]byte, error) {
	if len(master) != KeyLength {
		return nil, ErrInvalidKeyLength
	}

	reader := hkdf.New(sha256.New, master, nil, []byte(info))
	key := make([]byte, KeyLength)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("crypto: failed to derive subkey: %w", err)
	}
	return key, nil
}

// Encrypt encrypts plaintext using AES-256-GCM authenticated encryption.
//
// The function generates a cryptographically secure random 12-byte nonce
// using crypto/rand. The authentication tag is appended to the ciphertext.
//
// Returns:
//   - ciphertext: encrypted data with authentication tag
//   - nonce: 12-byte nonce (must be stored with ciphertext for decryption)
//   - err: ErrInvalidKeyLength if key is not 32 bytes
func Encrypt(key, plaintext []byte) (ciphertext []byte, nonce []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)

	return ciphertext, nonce, nil
}

// Decrypt decrypts ciphertext using AES-256-GCM authenticated encryption.
//
// The authentication tag is verified before any plaintext is returned.
// A wrong key, wrong nonce or modified ciphertext all yield
// ErrDecryptionFailed.
func Decrypt(key, ciphertext, nonce []byte) (plaintext []byte, err error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}

	if len(nonce) != NonceLength {
		return nil, ErrInvalidNonceLength
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.Overhead() {
		return nil, ErrCiphertextTooShort
	}

	plaintext, err = gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// SealString encrypts a UTF-8 string and returns a text blob of
// base64url(nonce || ciphertext || tag), suitable for a JSON field.
func SealString(key []byte, plaintext string) (string, error) {
	ciphertext, nonce, err := Encrypt(key, []byte(plaintext))
	if err != nil {
		return "", err
	}

	blob := make([]byte, 0, len(nonce)+len(ciphertext))
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)
	return blobEncoding.EncodeToString(blob), nil
}

// OpenString reverses SealString. The caller owns the returned plaintext
// and should SecureWipe it when done.
func OpenString(key []byte, blob string) ([]byte, error) {
	raw, err := blobEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBlob, err)
	}
	if len(raw) < NonceLength+TagLength {
		return nil, ErrCiphertextTooShort
	}

	return Decrypt(key, raw[NonceLength:], raw[:NonceLength])
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return gcm, nil
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// runtime.KeepAlive ensures the write operations are not optimized away
	// by the compiler since b is still "in use" after the loop.
	runtime.KeepAlive(b)
}
