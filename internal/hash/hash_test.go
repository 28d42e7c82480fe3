package hash

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_WriteAny(t *testing.T) {
	testFunc := func(vs ...interface{}) error {
		h := New()
		for _, v := range vs {
			if err := h.WriteAny(v); err != nil {
				return err
			}
		}
		return nil
	}

	assert.NoError(t, testFunc([]byte{1, 4, 6}))
	assert.NoError(t, testFunc("group", int64(-7)))

	assert.Error(t, testFunc(3.5))
	assert.Error(t, testFunc(7))
}

func TestHash_DomainSeparation(t *testing.T) {
	a, b := New(), New()
	require.NoError(t, a.WriteAny("ab"))
	require.NoError(t, b.WriteAny([]byte("ab")))
	assert.False(t, bytes.Equal(a.Sum(), b.Sum()))

	c, d := New(), New()
	require.NoError(t, c.WriteAny("a", "b"))
	require.NoError(t, d.WriteAny("ab"))
	assert.False(t, bytes.Equal(c.Sum(), d.Sum()))
}

func TestHash_Sum(t *testing.T) {
	h := New()
	require.NoError(t, h.WriteAny("prefix", int64(1)))
	assert.Len(t, h.Sum(), DigestLengthBytes)
	assert.Equal(t, h.Sum(), h.Sum())
}

type named string

func (n named) WriteTo(w io.Writer) (int64, error) {
	k, err := io.WriteString(w, string(n))
	return int64(k), err
}

func (named) Domain() string { return "named" }

func TestHash_WriterToWithDomain(t *testing.T) {
	a, b := New(), New()
	require.NoError(t, a.WriteAny(named("x")))
	require.NoError(t, b.WriteAny("x"))
	assert.NotEqual(t, a.Sum(), b.Sum())
}
