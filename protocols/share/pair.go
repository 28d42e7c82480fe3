package share

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ErrMalformedPair is returned by ParsePair for text not of the form "[a, b]".
var ErrMalformedPair = errors.New("share: malformed pair")

// Pair holds two arbitrary precision integers. A nil component reads as zero.
type Pair [2]*big.Int

// NewPair returns a Pair holding copies of a and b.
func NewPair(a, b *big.Int) Pair {
	return Pair{new(big.Int).Set(a), new(big.Int).Set(b)}
}

// PairFromInt64 returns the Pair (a, b).
func PairFromInt64(a, b int64) Pair {
	return Pair{big.NewInt(a), big.NewInt(b)}
}

func (p Pair) get(i int) *big.Int {
	if p[i] == nil {
		return new(big.Int)
	}
	return p[i]
}

// Add returns the component-wise sum p + q.
func (p Pair) Add(q Pair) Pair {
	return Pair{
		new(big.Int).Add(p.get(0), q.get(0)),
		new(big.Int).Add(p.get(1), q.get(1)),
	}
}

// Sub returns the component-wise difference p - q.
func (p Pair) Sub(q Pair) Pair {
	return Pair{
		new(big.Int).Sub(p.get(0), q.get(0)),
		new(big.Int).Sub(p.get(1), q.get(1)),
	}
}

// Equal reports whether both components match.
func (p Pair) Equal(q Pair) bool {
	return p.get(0).Cmp(q.get(0)) == 0 && p.get(1).Cmp(q.get(1)) == 0
}

// String renders p as "[a, b]" in decimal.
func (p Pair) String() string {
	return fmt.Sprintf("[%s, %s]", p.get(0).String(), p.get(1).String())
}

// ParsePair is the inverse of Pair.String.
func ParsePair(s string) (Pair, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return Pair{}, fmt.Errorf("%w: %q", ErrMalformedPair, s)
	}
	parts := strings.Split(s[1:len(s)-1], ",")
	if len(parts) != 2 {
		return Pair{}, fmt.Errorf("%w: %q", ErrMalformedPair, s)
	}
	var p Pair
	for i, part := range parts {
		v, ok := new(big.Int).SetString(strings.TrimSpace(part), 10)
		if !ok {
			return Pair{}, fmt.Errorf("%w: component %d of %q", ErrMalformedPair, i, s)
		}
		p[i] = v
	}
	return p, nil
}
