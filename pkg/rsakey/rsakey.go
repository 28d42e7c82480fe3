// Package rsakey builds the group RSA key from the two combined sums, and
// signs and verifies with it.
package rsakey

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/taurusgroup/multi-party-rsa/pkg/math/arith"
	"github.com/taurusgroup/multi-party-rsa/pkg/math/sample"
	"github.com/taurusgroup/multi-party-rsa/pkg/pool"
)

const (
	// PrimeBits is the size every combined sum is scaled to before probing.
	PrimeBits = 1024
	// Exponent is the public exponent.
	Exponent = 65537
	// Chunks is the number of private exponent fragments.
	Chunks = 2
)

var (
	ErrCandidate = errors.New("rsakey: prime candidate must be positive")
	ErrEncoding  = errors.New("rsakey: invalid hex encoding")
	ErrKeyCheck  = errors.New("rsakey: generated key does not verify its own signature")
)

// PublicKey is (n, e).
type PublicKey struct {
	N *big.Int
	E *big.Int
}

// Key is a full RSA key. P and Q are nil for keys reassembled from fragments.
type Key struct {
	PublicKey
	D    *big.Int
	P, Q *big.Int
}

// Generate derives the key for the two combined sums.
//
// Each sum is scaled to PrimeBits bits and advanced to the next probable prime.
// q keeps advancing while it equals p or e is not invertible mod φ(n).
func Generate(pl *pool.Pool, a, b *big.Int) (*Key, error) {
	if a.Sign() <= 0 || b.Sign() <= 0 {
		return nil, ErrCandidate
	}
	p := sample.NextPrime(pl, sample.ShiftToBits(a, PrimeBits))
	q := sample.NextPrime(pl, sample.ShiftToBits(b, PrimeBits))

	e := big.NewInt(Exponent)
	one := big.NewInt(1)
	var phi big.Int
	for {
		phi.Mul(new(big.Int).Sub(p, one), new(big.Int).Sub(q, one))
		if p.Cmp(q) != 0 && arith.IsCoprime(e, &phi) {
			break
		}
		q = sample.NextPrime(pl, new(big.Int).Add(q, one))
	}

	d := new(big.Int).ModInverse(e, &phi)
	k := &Key{
		PublicKey: PublicKey{N: new(big.Int).Mul(p, q), E: e},
		D:         d,
		P:         p,
		Q:         q,
	}
	// Signing goes through p and q; verifying only through n.
	if !k.Verify(keyCheck, k.Sign(keyCheck)) {
		return nil, ErrKeyCheck
	}
	return k, nil
}

var keyCheck = []byte("rsakey")

// PublicKeyFromHex parses a hex modulus.
func PublicKeyFromHex(nHex string) (*PublicKey, error) {
	n, ok := new(big.Int).SetString(nHex, 16)
	if !ok || n.Sign() <= 0 || n.Bit(0) == 0 {
		return nil, fmt.Errorf("%w: modulus", ErrEncoding)
	}
	return &PublicKey{N: n, E: big.NewInt(Exponent)}, nil
}

// FromHex reassembles a key from the hex modulus and the concatenated hex
// private exponent.
func FromHex(nHex, dHex string) (*Key, error) {
	pub, err := PublicKeyFromHex(nHex)
	if err != nil {
		return nil, err
	}
	d, ok := new(big.Int).SetString(dHex, 16)
	if !ok || d.Sign() <= 0 {
		return nil, fmt.Errorf("%w: private exponent", ErrEncoding)
	}
	return &Key{PublicKey: *pub, D: d}, nil
}

func (k *Key) modulus() *arith.Modulus {
	if k.P != nil && k.Q != nil {
		return arith.ModulusFromPrimes(k.P, k.Q)
	}
	return arith.ModulusFromBig(k.N)
}

// Sign returns mᵈ (mod n) where m is msg read as a big-endian integer.
func (k *Key) Sign(msg []byte) *big.Int {
	m := new(big.Int).SetBytes(msg)
	return k.modulus().ExpBig(m, k.D)
}

// Verify reports whether sigᵉ ≡ m (mod n).
func (pk *PublicKey) Verify(msg []byte, sig *big.Int) bool {
	if sig == nil || sig.Sign() < 0 {
		return false
	}
	n := arith.ModulusFromBig(pk.N)
	m := new(big.Int).SetBytes(msg)
	return n.ExpBig(sig, pk.E).Cmp(n.ReduceBig(m)) == 0
}

// NHex returns n as lowercase hex.
func (pk *PublicKey) NHex() string {
	return pk.N.Text(16)
}

// DChunks returns the lowercase hex private exponent split into Chunks pieces.
func (k *Key) DChunks() []string {
	return Split(k.D.Text(16), Chunks)
}

// Split cuts s into parts pieces of width ⌈len(s)/parts⌉; trailing pieces may
// be shorter or empty.
func Split(s string, parts int) []string {
	width := (len(s) + parts - 1) / parts
	out := make([]string, parts)
	for i := range out {
		start := min(i*width, len(s))
		end := min(start+width, len(s))
		out[i] = s[start:end]
	}
	return out
}

// Join concatenates chunks in order.
func Join(chunks []string) string {
	return strings.Join(chunks, "")
}
