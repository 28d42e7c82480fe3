// Package share implements the additive masking exchange two peers use to let
// the server learn dA + dB without learning dA or dB.
//
// Each peer draws one random mask per secret. A peer sends its masked secrets
// d - r to the other peer and its masks r to the other peer as well; each side
// then reports exactly one sum to the server: one peer the sum of the masked
// secrets, the other the sum of the masks. The server adds both and the masks
// cancel.
package share

import (
	"io"

	"github.com/taurusgroup/multi-party-rsa/pkg/derive"
	"github.com/taurusgroup/multi-party-rsa/pkg/math/sample"
)

// MaskBits is the size of every mask.
const MaskBits = 128

// Share is one peer's view of the exchange.
type Share struct {
	secret Pair
	masks  Pair
}

// NewShare draws fresh masks from rand.
func NewShare(rand io.Reader) *Share {
	return &Share{
		masks: Pair{sample.Bits(rand, MaskBits), sample.Bits(rand, MaskBits)},
	}
}

// SetSecret installs the derived pair. The masks are kept.
func (s *Share) SetSecret(secret derive.Secret) {
	s.secret = PairFromInt64(secret.D1, secret.D2)
}

// Secret returns the installed secret pair.
func (s *Share) Secret() Pair {
	return s.secret
}

// Masks returns (r1, r2).
func (s *Share) Masks() Pair {
	return s.masks
}

// Diffs returns (d1 - r1, d2 - r2).
func (s *Share) Diffs() Pair {
	return s.secret.Sub(s.masks)
}

// DiffSum adds the peer's diffs to our own.
func (s *Share) DiffSum(peer Pair) Pair {
	return s.Diffs().Add(peer)
}

// MaskSum adds the peer's masks to our own.
func (s *Share) MaskSum(peer Pair) Pair {
	return s.masks.Add(peer)
}
