package fragment

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/taurusgroup/multi-party-rsa/pkg/ecc"
)

func newLevelBackend(t *testing.T) *LevelBackend {
	t.Helper()
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	require.NoError(t, err)
	b := NewLevelBackend(db)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func stores(t *testing.T) map[string]*Store {
	t.Helper()
	level, err := NewStore([Shards]Backend{newLevelBackend(t), newLevelBackend(t), newLevelBackend(t)})
	require.NoError(t, err)
	mixed, err := NewStore([Shards]Backend{NewMemBackend(), newLevelBackend(t), NewMemBackend()})
	require.NoError(t, err)
	return map[string]*Store{
		"memory": NewMemStore(),
		"level":  level,
		"mixed":  mixed,
	}
}

func credential(t *testing.T, name, group string) *Credential {
	t.Helper()
	priv, err := ecc.GenerateKey()
	require.NoError(t, err)
	return &Credential{Name: name, Signature: ecc.Sign(priv, name+group), PubKey: priv.PubKey()}
}

func TestPutGetAnySingleLoss(t *testing.T) {
	payloads := []string{"", "a", "ab", "abc", strings.Repeat("0123456789abcdef", 32) + "f"}
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, p := range payloads {
				for drop := -1; drop < Shards; drop++ {
					require.NoError(t, s.Put([]byte(p), "g", TypeN))
					if drop >= 0 {
						require.NoError(t, s.DropShard(drop))
					}
					got, err := s.Get("g", TypeN, nil)
					require.NoError(t, err, "payload %q drop %d", p, drop)
					assert.Equal(t, p, string(got))
				}
			}
		})
	}
}

func TestInsufficientShards(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.Put([]byte("deadbeef"), "g", TypeN))
	require.NoError(t, s.DropShard(0))
	require.NoError(t, s.DropShard(2))
	_, err := s.Get("g", TypeN, nil)
	assert.ErrorIs(t, err, ErrInsufficientShards)

	_, err = s.Get("missing", TypeN, nil)
	assert.ErrorIs(t, err, ErrInsufficientShards)
}

func TestPrivateNeedsCredential(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.Put([]byte("abcd"), "g", TypeD0))

	_, err := s.Get("g", TypeD0, nil)
	assert.ErrorIs(t, err, ErrAuthFailed)

	bad := credential(t, "alice", "other")
	_, err = s.Get("g", TypeD0, bad)
	assert.ErrorIs(t, err, ErrAuthFailed)

	good := credential(t, "alice", "g")
	got, err := s.Get("g", TypeD0, good)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(got))
}

func TestRecover(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			payload := []byte("0123456789abcdef0123")
			require.NoError(t, s.Put(payload, "g", TypeD1))
			require.NoError(t, s.DropShard(0))
			require.NoError(t, s.DropShard(1))

			err := s.Recover([]byte("0123456789abcdef0124"), "g", TypeD1)
			require.ErrorIs(t, err, ErrRecoveryMismatch)
			_, err = s.Get("g", TypeD1, credential(t, "bob", "g"))
			require.ErrorIs(t, err, ErrInsufficientShards)

			require.NoError(t, s.Recover(payload, "g", TypeD1))
			got, err := s.Get("g", TypeD1, credential(t, "bob", "g"))
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestRecoverChecksEverySurvivor(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.Put([]byte("aaaa0000"), "g", TypeN))
	require.NoError(t, s.DropShard(1))

	// The first data shard is identical; only the parity shard disagrees.
	err := s.Recover([]byte("aaaa1111"), "g", TypeN)
	require.ErrorIs(t, err, ErrRecoveryMismatch)

	got, err := s.Get("g", TypeN, nil)
	require.NoError(t, err)
	assert.Equal(t, "aaaa0000", string(got))
}

func TestRecoverNothingLeft(t *testing.T) {
	s := NewMemStore()
	err := s.Recover([]byte("x"), "g", TypeN)
	assert.ErrorIs(t, err, ErrInsufficientShards)
}

func TestDeleteOneShard(t *testing.T) {
	s := NewMemStore(WithRand(rand.New(rand.NewSource(7))))
	require.NoError(t, s.Put([]byte("abc"), "g", TypeN))

	first, err := s.DeleteOneShard()
	require.NoError(t, err)
	second, err := s.DeleteOneShard()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	listing, err := s.Snapshot()
	require.NoError(t, err)
	nonEmpty := 0
	for _, l := range listing {
		if len(l.Groups) > 0 {
			nonEmpty++
			assert.Equal(t, []Type{TypeN}, l.Groups["g"])
		}
	}
	assert.Equal(t, 1, nonEmpty)
}

func TestTypes(t *testing.T) {
	assert.Equal(t, TypeD0, PrivateType(0))
	assert.Equal(t, TypeD1, PrivateType(1))
	assert.True(t, TypeD1.IsPrivate())
	assert.False(t, TypeN.IsPrivate())
	assert.Equal(t, 1, TypeD1.Order())
	_, err := ParseType("d2")
	assert.Error(t, err)
	typ, err := ParseType("n")
	require.NoError(t, err)
	assert.Equal(t, TypeN, typ)
}
