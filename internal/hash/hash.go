package hash

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// DigestLengthBytes is the length of Sum's output.
const DigestLengthBytes = 32

// Hash is the hash function used to chain ledger entries.
//
// Internally, this is a wrapper around blake3 with domain separation for every
// value written.
type Hash struct {
	h *blake3.Hasher
}

// New creates a Hash struct with an empty state.
func New() *Hash {
	return &Hash{h: blake3.New()}
}

// Digest returns a reader for the current output of the function.
//
// This finalizes the current state of the hash, and returns what's
// essentially a stream of random bytes.
func (hash *Hash) Digest() io.Reader {
	return hash.h.Digest()
}

// Sum returns a slice of length DigestLengthBytes resulting from the current hash state.
func (hash *Hash) Sum() []byte {
	out := make([]byte, DigestLengthBytes)
	if _, err := io.ReadFull(hash.Digest(), out); err != nil {
		panic(fmt.Sprintf("hash.ReadBytes: internal hash failure: %v", err))
	}
	return out
}

// WriteAny takes many different data types and writes them to the hash state.
//
// Currently supported types:
//
//   - []byte
//   - string
//   - int64
//   - hash.WriterToWithDomain
//
// This function will apply its own domain separation for the first three types.
// The last type already suggests which domain to use, and this function respects it.
func (hash *Hash) WriteAny(data ...interface{}) error {
	var err error
	for _, d := range data {
		switch t := d.(type) {
		case []byte:
			err = writeWithDomain(hash.h, tagged{domain: "[]byte", data: t})
		case string:
			err = writeWithDomain(hash.h, tagged{domain: "string", data: []byte(t)})
		case int64:
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], uint64(t))
			err = writeWithDomain(hash.h, tagged{domain: "int64", data: b[:]})
		case WriterToWithDomain:
			err = writeWithDomain(hash.h, t)
		default:
			return fmt.Errorf("hash.Hash: unsupported type %T", d)
		}
		if err != nil {
			return fmt.Errorf("hash.Hash: write %T: %w", d, err)
		}
	}
	return nil
}
