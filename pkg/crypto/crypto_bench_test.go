package crypto_test

import (
	"testing"

	"github.com/forest6511/devlock/pkg/crypto"
)

func benchmarkKey(b *testing.B) []byte {
	b.Helper()
	master, err := crypto.GenerateKey()
	if err != nil {
		b.Fatal(err)
	}
	key, err := crypto.DeriveSubkey(master, crypto.SecretKeyInfo)
	if err != nil {
		b.Fatal(err)
	}
	return key
}

// BenchmarkSealString measures sealing a typical password.
func BenchmarkSealString(b *testing.B) {
	key := benchmarkKey(b)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := crypto.SealString(key, "correct horse battery staple"); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkOpenString measures the decrypt half of every verification.
func BenchmarkOpenString(b *testing.B) {
	key := benchmarkKey(b)
	blob, err := crypto.SealString(key, "correct horse battery staple")
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		plaintext, err := crypto.OpenString(key, blob)
		if err != nil {
			b.Fatal(err)
		}
		crypto.SecureWipe(plaintext)
	}
}

// BenchmarkDeriveSubkey measures the HKDF step run before each decrypt.
func BenchmarkDeriveSubkey(b *testing.B) {
	master, err := crypto.GenerateKey()
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := crypto.DeriveSubkey(master, crypto.SecretKeyInfo); err != nil {
			b.Fatal(err)
		}
	}
}
