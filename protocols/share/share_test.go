package share_test

import (
	"crypto/rand"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taurusgroup/multi-party-rsa/pkg/derive"
	"github.com/taurusgroup/multi-party-rsa/protocols/share"
)

func newShare(t *testing.T, key string, positions [3]uint32) *share.Share {
	t.Helper()
	secret, err := derive.NewEngine().Derive(key, positions)
	require.NoError(t, err)
	s := share.NewShare(rand.Reader)
	s.SetSecret(secret)
	return s
}

func TestMasksCancel(t *testing.T) {
	a := newShare(t, "qqqqwwww", [3]uint32{3, 4, 5})
	b := newShare(t, "xxxxyyyy", [3]uint32{7, 8, 9})

	// a sends its diffs to b, b sends its masks to a.
	diffSum := b.DiffSum(a.Diffs())
	maskSum := a.MaskSum(b.Masks())

	acc := share.NewAccumulator()
	_, done, err := acc.Contribute(share.Generate, "g", share.DiffSum, diffSum)
	require.NoError(t, err)
	require.False(t, done)
	assert.Equal(t, share.OneContribution, acc.State(share.Generate, "g"))

	total, done, err := acc.Contribute(share.Generate, "g", share.MaskSum, maskSum)
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, share.Empty, acc.State(share.Generate, "g"))

	want := a.Secret().Add(b.Secret())
	assert.True(t, want.Equal(total), "got %s want %s", total, want)
}

func TestOrderDoesNotMatter(t *testing.T) {
	acc := share.NewAccumulator()
	_, _, err := acc.Contribute(share.Recover, "g", share.MaskSum, share.PairFromInt64(5, 6))
	require.NoError(t, err)
	total, done, err := acc.Contribute(share.Recover, "g", share.DiffSum, share.PairFromInt64(-2, 4))
	require.NoError(t, err)
	require.True(t, done)
	assert.True(t, share.PairFromInt64(3, 10).Equal(total))
}

func TestDesync(t *testing.T) {
	acc := share.NewAccumulator()
	_, _, err := acc.Contribute(share.Generate, "g", share.MaskSum, share.PairFromInt64(1, 1))
	require.NoError(t, err)

	_, done, err := acc.Contribute(share.Generate, "g", share.MaskSum, share.PairFromInt64(9, 9))
	require.ErrorIs(t, err, share.ErrProtocolDesync)
	assert.False(t, done)

	total, done, err := acc.Contribute(share.Generate, "g", share.DiffSum, share.PairFromInt64(2, 2))
	require.NoError(t, err)
	require.True(t, done)
	assert.True(t, share.PairFromInt64(3, 3).Equal(total))
}

func TestPipelinesAreIndependent(t *testing.T) {
	acc := share.NewAccumulator()
	_, _, err := acc.Contribute(share.Generate, "g", share.MaskSum, share.PairFromInt64(1, 1))
	require.NoError(t, err)
	_, done, err := acc.Contribute(share.Recover, "g", share.DiffSum, share.PairFromInt64(1, 1))
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 2, acc.Open())
}

func TestEvictIdle(t *testing.T) {
	now := time.Unix(1000, 0)
	acc := share.NewAccumulator(
		share.WithIdleTimeout(time.Minute),
		share.WithClock(func() time.Time { return now }),
	)
	_, _, err := acc.Contribute(share.Generate, "old", share.MaskSum, share.PairFromInt64(1, 1))
	require.NoError(t, err)

	now = now.Add(45 * time.Second)
	_, _, err = acc.Contribute(share.Generate, "new", share.MaskSum, share.PairFromInt64(1, 1))
	require.NoError(t, err)

	evicted := acc.EvictIdle(now.Add(30 * time.Second))
	require.Len(t, evicted, 1)
	assert.Equal(t, share.PhaseKey{Pipeline: share.Generate, Group: "old"}, evicted[0])
	assert.Equal(t, share.Empty, acc.State(share.Generate, "old"))
	assert.Equal(t, share.OneContribution, acc.State(share.Generate, "new"))
}

func TestPairString(t *testing.T) {
	p := share.Pair{big.NewInt(-12), new(big.Int).Lsh(big.NewInt(1), 130)}
	s := p.String()
	assert.Equal(t, "[-12, 1361129467683753853853498429727072845824]", s)

	q, err := share.ParsePair(s)
	require.NoError(t, err)
	assert.True(t, p.Equal(q))

	for _, bad := range []string{"", "[1]", "1, 2", "[a, 2]", "[1, 2, 3]"} {
		_, err := share.ParsePair(bad)
		assert.ErrorIs(t, err, share.ErrMalformedPair, bad)
	}
}
