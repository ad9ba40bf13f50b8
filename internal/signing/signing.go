package signing

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// Verifier checks a detached signature over data
type Verifier interface {
	Verify(data, signature, publicKey []byte) bool
}

// Ed25519Verifier verifies raw 64-byte ed25519 signatures
type Ed25519Verifier struct{}

// Verify implements Verifier
func (Ed25519Verifier) Verify(data, signature, publicKey []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), data, signature)
}

// DecodeSignature decodes a base64 signature as carried in package metadata
func DecodeSignature(s string) ([]byte, error) {
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	return sig, nil
}

// ParsePublicKey accepts a base64 or hex encoded ed25519 public key
func ParsePublicKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty public key")
	}
	if key, err := base64.StdEncoding.DecodeString(s); err == nil && len(key) == ed25519.PublicKeySize {
		return key, nil
	}
	if key, err := hex.DecodeString(s); err == nil && len(key) == ed25519.PublicKeySize {
		return key, nil
	}
	return nil, fmt.Errorf("public key must be %d bytes, base64 or hex encoded", ed25519.PublicKeySize)
}

// LoadPublicKey reads a key file written in either ParsePublicKey encoding
func LoadPublicKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return ParsePublicKey(string(data))
}

// MockVerifier is a mock implementation of Verifier for testing
type MockVerifier struct {
	VerifyFunc func(data, signature, publicKey []byte) bool
}

// Verify implements Verifier.Verify
func (m *MockVerifier) Verify(data, signature, publicKey []byte) bool {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(data, signature, publicKey)
	}
	return true
}
