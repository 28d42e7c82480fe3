// Package ecc holds the secp256k1 identities used by peers and the server:
// ECDSA signatures for access control and ECIES for authorization blobs.
package ecc

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/taurusgroup/multi-party-rsa/internal/hash"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
)

const kdfContext = "multi-party-rsa 2023 ecies xchacha20poly1305 key"

var (
	ErrPublicKey  = errors.New("ecc: invalid public key")
	ErrSignature  = errors.New("ecc: invalid signature encoding")
	ErrCiphertext = errors.New("ecc: invalid ciphertext")
)

// GenerateKey returns a fresh private key.
func GenerateKey() (*secp256k1.PrivateKey, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("ecc: generate key: %w", err)
	}
	return priv, nil
}

// EncodePublicKey returns the base64 compressed form of pub.
func EncodePublicKey(pub *secp256k1.PublicKey) string {
	return base64.StdEncoding.EncodeToString(pub.SerializeCompressed())
}

// ParsePublicKey is the inverse of EncodePublicKey.
func ParsePublicKey(s string) (*secp256k1.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPublicKey, err)
	}
	pub, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPublicKey, err)
	}
	return pub, nil
}

func digest(msg string) []byte {
	h := hash.New()
	_ = h.WriteAny([]byte(msg))
	return h.Sum()
}

// Sign returns the base64 DER signature of msg.
func Sign(priv *secp256k1.PrivateKey, msg string) string {
	sig := ecdsa.Sign(priv, digest(msg))
	return base64.StdEncoding.EncodeToString(sig.Serialize())
}

// Verify checks a signature produced by Sign. Malformed input reads as invalid.
func Verify(pub *secp256k1.PublicKey, msg, sig string) bool {
	if pub == nil {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	s, err := ecdsa.ParseDERSignature(raw)
	if err != nil {
		return false
	}
	return s.Verify(digest(msg), pub)
}

func deriveKey(shared []byte, ephemeral []byte) []byte {
	material := make([]byte, 0, len(shared)+len(ephemeral))
	material = append(material, shared...)
	material = append(material, ephemeral...)
	key := make([]byte, chacha20poly1305.KeySize)
	blake3.DeriveKey(kdfContext, material, key)
	return key
}

// Encrypt seals plaintext to pub. The output is base64 of
// ephemeral public key (33 bytes) || nonce || ciphertext.
func Encrypt(pub *secp256k1.PublicKey, plaintext []byte) (string, error) {
	eph, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return "", fmt.Errorf("ecc: ephemeral key: %w", err)
	}
	ephPub := eph.PubKey().SerializeCompressed()
	aead, err := chacha20poly1305.NewX(deriveKey(secp256k1.GenerateSharedSecret(eph, pub), ephPub))
	if err != nil {
		return "", fmt.Errorf("ecc: %w", err)
	}

	out := make([]byte, 0, len(ephPub)+aead.NonceSize()+len(plaintext)+aead.Overhead())
	out = append(out, ephPub...)
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("ecc: nonce: %w", err)
	}
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, ephPub)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a value produced by Encrypt.
func Decrypt(priv *secp256k1.PrivateKey, ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	const pubLen = secp256k1.PubKeyBytesLenCompressed
	if len(raw) < pubLen+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("%w: too short", ErrCiphertext)
	}
	ephPub := raw[:pubLen]
	eph, err := secp256k1.ParsePubKey(ephPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	aead, err := chacha20poly1305.NewX(deriveKey(secp256k1.GenerateSharedSecret(priv, eph), ephPub))
	if err != nil {
		return nil, fmt.Errorf("ecc: %w", err)
	}
	nonce := raw[pubLen : pubLen+aead.NonceSize()]
	plaintext, err := aead.Open(nil, nonce, raw[pubLen+aead.NonceSize():], ephPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	return plaintext, nil
}
