package sample

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taurusgroup/multi-party-rsa/pkg/pool"
)

func TestPrimes(t *testing.T) {
	assert.Equal(t, []uint32{3, 5, 7, 11, 13, 17, 19, 23, 29}, primes(30))
}

func TestBits(t *testing.T) {
	for i := 0; i < 20; i++ {
		assert.LessOrEqual(t, Bits(rand.Reader, 128).BitLen(), 128)
	}
}

func TestShiftToBits(t *testing.T) {
	assert.Equal(t, 1024, ShiftToBits(big.NewInt(12345), 1024).BitLen())
	long := new(big.Int).Lsh(big.NewInt(3), 2000)
	assert.Equal(t, 1024, ShiftToBits(long, 1024).BitLen())
	assert.Equal(t, 0, ShiftToBits(long, 1024).Cmp(new(big.Int).Lsh(big.NewInt(3), 1022)))
}

func TestNextPrimeSmall(t *testing.T) {
	cases := map[int64]int64{0: 2, 2: 2, 3: 3, 4: 5, 14: 17, 90: 97, 65520: 65521}
	for in, want := range cases {
		assert.Equal(t, want, NextPrime(nil, big.NewInt(in)).Int64(), in)
	}
}

func nextPrimeNaive(x *big.Int) *big.Int {
	c := new(big.Int).Set(x)
	if c.Bit(0) == 0 {
		c.Add(c, big.NewInt(1))
	}
	for !c.ProbablyPrime(primalityIterations) {
		c.Add(c, big.NewInt(2))
	}
	return c
}

func TestNextPrimeLarge(t *testing.T) {
	pl := pool.NewPool(0)
	defer pl.TearDown()

	for i := 0; i < 3; i++ {
		x, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 512))
		require.NoError(t, err)
		x.SetBit(x, 511, 1)

		got := NextPrime(pl, x)
		assert.True(t, got.ProbablyPrime(primalityIterations))
		assert.Equal(t, 0, nextPrimeNaive(x).Cmp(got))
		assert.Equal(t, 0, NextPrime(nil, x).Cmp(got))
	}
}

func BenchmarkNextPrime1024(b *testing.B) {
	pl := pool.NewPool(0)
	defer pl.TearDown()
	x := ShiftToBits(big.NewInt(0x7172737475767778), 1024)
	for i := 0; i < b.N; i++ {
		NextPrime(pl, x)
	}
}
