package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

// TestGenerateKey tests random key generation
func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if len(key) != KeyLength {
		t.Errorf("GenerateKey() length = %d, want %d", len(key), KeyLength)
	}

	other, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if bytes.Equal(key, other) {
		t.Error("GenerateKey() returned the same key twice")
	}
}

// TestDeriveSubkey tests HKDF subkey derivation
func TestDeriveSubkey(t *testing.T) {
	master := testKey(t)

	key, err := DeriveSubkey(master, SecretKeyInfo)
	if err != nil {
		t.Fatalf("DeriveSubkey() error = %v", err)
	}
	if len(key) != KeyLength {
		t.Errorf("DeriveSubkey() length = %d, want %d", len(key), KeyLength)
	}
	if bytes.Equal(key, master) {
		t.Error("DeriveSubkey() should not return the master key")
	}

	// Deterministic for the same inputs
	again, err := DeriveSubkey(master, SecretKeyInfo)
	if err != nil {
		t.Fatalf("DeriveSubkey() error = %v", err)
	}
	if !bytes.Equal(key, again) {
		t.Error("DeriveSubkey() with same inputs should produce identical keys")
	}

	// Different info yields an independent key
	other, err := DeriveSubkey(master, "some-other-purpose")
	if err != nil {
		t.Fatalf("DeriveSubkey() error = %v", err)
	}
	if bytes.Equal(key, other) {
		t.Error("DeriveSubkey() with different info should produce different keys")
	}
}

func TestDeriveSubkeyInvalidMaster(t *testing.T) {
	for _, n := range []int{0, 16, 31, 33, 64} {
		if _, err := DeriveSubkey(make([]byte, n), SecretKeyInfo); err != ErrInvalidKeyLength {
			t.Errorf("DeriveSubkey(len=%d) error = %v, want %v", n, err, ErrInvalidKeyLength)
		}
	}
}

// TestEncrypt tests the AES-256-GCM encryption function
func TestEncrypt(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("secret data to encrypt")

	ciphertext, nonce, err := Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if len(nonce) != NonceLength {
		t.Errorf("Encrypt() nonce length = %d, want %d", len(nonce), NonceLength)
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Error("Encrypt() ciphertext should not equal plaintext")
	}
	if len(ciphertext) != len(plaintext)+TagLength {
		t.Errorf("Encrypt() ciphertext length = %d, want %d", len(ciphertext), len(plaintext)+TagLength)
	}
}

// TestEncryptInvalidKeyLength tests that Encrypt rejects invalid key lengths
func TestEncryptInvalidKeyLength(t *testing.T) {
	tests := []struct {
		name    string
		keyLen  int
		wantErr error
	}{
		{"too short (16 bytes)", 16, ErrInvalidKeyLength},
		{"too short (24 bytes)", 24, ErrInvalidKeyLength},
		{"too long (48 bytes)", 48, ErrInvalidKeyLength},
		{"empty key", 0, ErrInvalidKeyLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Encrypt(make([]byte, tt.keyLen), []byte("test data"))
			if err != tt.wantErr {
				t.Errorf("Encrypt() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestDecryptInvalidKey tests that decryption fails with wrong key
func TestDecryptInvalidKey(t *testing.T) {
	key := testKey(t)
	wrongKey := testKey(t)

	ciphertext, nonce, err := Encrypt(key, []byte("secret data"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if _, err := Decrypt(wrongKey, ciphertext, nonce); err != ErrDecryptionFailed {
		t.Errorf("Decrypt() with wrong key error = %v, want %v", err, ErrDecryptionFailed)
	}
}

// TestDecryptInvalidNonceLength tests that Decrypt rejects invalid nonce lengths
func TestDecryptInvalidNonceLength(t *testing.T) {
	key := make([]byte, KeyLength)
	ciphertext := make([]byte, 32)

	for _, n := range []int{0, 8, 16} {
		if _, err := Decrypt(key, ciphertext, make([]byte, n)); err != ErrInvalidNonceLength {
			t.Errorf("Decrypt(nonce len=%d) error = %v, want %v", n, err, ErrInvalidNonceLength)
		}
	}
}

// TestDecryptCiphertextTooShort tests that Decrypt handles short ciphertext
func TestDecryptCiphertextTooShort(t *testing.T) {
	_, err := Decrypt(make([]byte, KeyLength), make([]byte, 10), make([]byte, NonceLength))
	if err != ErrCiphertextTooShort {
		t.Errorf("Decrypt() error = %v, want %v", err, ErrCiphertextTooShort)
	}
}

// TestSealOpenRoundTrip checks decrypt(encrypt(P)) == P for a spread of passwords
func TestSealOpenRoundTrip(t *testing.T) {
	key := testKey(t)

	testCases := []struct {
		name     string
		password string
	}{
		{"default", "SAM"},
		{"empty", ""},
		{"spaces", "  leading and trailing  "},
		{"unicode", "pässwörd-密码-🔒"},
		{"long", strings.Repeat("x", 4096)},
		{"control chars", "tab\tnewline\nnull\x00"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			blob, err := SealString(key, tc.password)
			if err != nil {
				t.Fatalf("SealString() error = %v", err)
			}

			plaintext, err := OpenString(key, blob)
			if err != nil {
				t.Fatalf("OpenString() error = %v", err)
			}
			if string(plaintext) != tc.password {
				t.Errorf("round trip = %q, want %q", plaintext, tc.password)
			}
		})
	}
}

// TestSealStringIsTextSafe checks the blob can live in a JSON string untouched
func TestSealStringIsTextSafe(t *testing.T) {
	blob, err := SealString(testKey(t), "SAM")
	if err != nil {
		t.Fatalf("SealString() error = %v", err)
	}
	if strings.ContainsAny(blob, "+/=\"\\\n") {
		t.Errorf("SealString() blob %q contains characters outside base64url", blob)
	}
}

func TestSealStringUniquePerCall(t *testing.T) {
	key := testKey(t)
	a, err := SealString(key, "SAM")
	if err != nil {
		t.Fatalf("SealString() error = %v", err)
	}
	b, err := SealString(key, "SAM")
	if err != nil {
		t.Fatalf("SealString() error = %v", err)
	}
	if a == b {
		t.Error("SealString() should use a fresh nonce per call")
	}
}

// TestOpenStringWrongKey checks a different key never yields plaintext
func TestOpenStringWrongKey(t *testing.T) {
	blob, err := SealString(testKey(t), "SAM")
	if err != nil {
		t.Fatalf("SealString() error = %v", err)
	}

	plaintext, err := OpenString(testKey(t), blob)
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("OpenString() with wrong key error = %v, want %v", err, ErrDecryptionFailed)
	}
	if plaintext != nil {
		t.Errorf("OpenString() with wrong key returned plaintext %q", plaintext)
	}
}

// TestOpenStringTampered checks that flipping any byte is detected
func TestOpenStringTampered(t *testing.T) {
	key := testKey(t)
	blob, err := SealString(key, "secret data that should be protected")
	if err != nil {
		t.Fatalf("SealString() error = %v", err)
	}

	raw, err := blobEncoding.DecodeString(blob)
	if err != nil {
		t.Fatalf("decode blob: %v", err)
	}

	for _, idx := range []int{0, NonceLength, len(raw) - 1} {
		tampered := append([]byte(nil), raw...)
		tampered[idx] ^= 0x01
		_, err := OpenString(key, blobEncoding.EncodeToString(tampered))
		if !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("OpenString() with byte %d flipped error = %v, want %v", idx, err, ErrDecryptionFailed)
		}
	}
}

func TestOpenStringMalformed(t *testing.T) {
	key := testKey(t)

	tests := []struct {
		name    string
		blob    string
		wantErr error
	}{
		{"not base64", "!!!not-base64!!!", ErrMalformedBlob},
		{"empty", "", ErrCiphertextTooShort},
		{"too short", blobEncoding.EncodeToString(make([]byte, NonceLength+TagLength-1)), ErrCiphertextTooShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := OpenString(key, tt.blob)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("OpenString() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestSecureWipe tests that SecureWipe zeros out memory
func TestSecureWipe(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

	SecureWipe(data)

	for i, b := range data {
		if b != 0 {
			t.Errorf("SecureWipe() byte[%d] = %d, want 0", i, b)
		}
	}

	// Should not panic on empty or nil slices
	SecureWipe([]byte{})
	SecureWipe(nil)
}
