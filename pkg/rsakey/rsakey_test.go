package rsakey_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taurusgroup/multi-party-rsa/pkg/derive"
	"github.com/taurusgroup/multi-party-rsa/pkg/pool"
	"github.com/taurusgroup/multi-party-rsa/pkg/rsakey"
)

func TestScenario(t *testing.T) {
	a, err := derive.NewEngine().Derive("qqqqwwww", [3]uint32{3, 4, 5})
	require.NoError(t, err)
	b, err := derive.NewEngine().Derive("xxxxyyyy", [3]uint32{7, 8, 9})
	require.NoError(t, err)

	sum1 := new(big.Int).Add(big.NewInt(a.D1), big.NewInt(b.D1))
	sum2 := new(big.Int).Add(big.NewInt(a.D2), big.NewInt(b.D2))

	pl := pool.NewPool(0)
	defer pl.TearDown()
	key, err := rsakey.Generate(pl, sum1, sum2)
	require.NoError(t, err)

	assert.True(t, key.P.ProbablyPrime(20))
	assert.True(t, key.Q.ProbablyPrime(20))
	assert.Equal(t, rsakey.PrimeBits, key.P.BitLen())
	assert.Equal(t, 0, new(big.Int).Mul(key.P, key.Q).Cmp(key.N))

	msg := []byte("hello")
	sig := key.Sign(msg)
	assert.True(t, key.PublicKey.Verify(msg, sig))
	assert.False(t, key.PublicKey.Verify([]byte("hellp"), sig))

	// Same sums give the same key.
	again, err := rsakey.Generate(nil, sum1, sum2)
	require.NoError(t, err)
	assert.Equal(t, 0, again.N.Cmp(key.N))

	// Reassembled from hex fragments.
	chunks := key.DChunks()
	require.Len(t, chunks, rsakey.Chunks)
	rebuilt, err := rsakey.FromHex(key.NHex(), rsakey.Join(chunks))
	require.NoError(t, err)
	assert.Equal(t, 0, rebuilt.D.Cmp(key.D))
	assert.Equal(t, 0, sig.Cmp(rebuilt.Sign(msg)))
}

func TestEqualSums(t *testing.T) {
	key, err := rsakey.Generate(nil, big.NewInt(1234567), big.NewInt(1234567))
	require.NoError(t, err)
	assert.NotEqual(t, 0, key.P.Cmp(key.Q))
	assert.True(t, key.Verify([]byte("x"), key.Sign([]byte("x"))))
}

func TestInvalid(t *testing.T) {
	_, err := rsakey.Generate(nil, big.NewInt(0), big.NewInt(5))
	assert.ErrorIs(t, err, rsakey.ErrCandidate)
	_, err = rsakey.FromHex("zz", "01")
	assert.ErrorIs(t, err, rsakey.ErrEncoding)
}

func TestSplit(t *testing.T) {
	assert.Equal(t, []string{"abc", "de"}, rsakey.Split("abcde", 2))
	assert.Equal(t, []string{"ab", "cd"}, rsakey.Split("abcd", 2))
	assert.Equal(t, []string{"a", ""}, rsakey.Split("a", 2))
	assert.Equal(t, "abcde", rsakey.Join(rsakey.Split("abcde", 2)))
}
