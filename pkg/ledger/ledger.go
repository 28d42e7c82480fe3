// Package ledger is the append-only record of group signatures that verified
// against the group's stored public modulus.
package ledger

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/taurusgroup/multi-party-rsa/internal/hash"
	"github.com/taurusgroup/multi-party-rsa/pkg/fragment"
	"github.com/taurusgroup/multi-party-rsa/pkg/rsakey"
)

// ErrBrokenChain is returned by Audit when an entry does not link to its predecessor.
var ErrBrokenChain = errors.New("ledger: broken chain")

// FragmentReader reads fragments from the key store.
type FragmentReader interface {
	Get(group string, t fragment.Type, cred *fragment.Credential) ([]byte, error)
}

// Ledger is what the coordinator hands signatures to.
type Ledger interface {
	VerifyAndAppend(group string, msg []byte, sig *big.Int) (bool, error)
}

// Entry is one accepted signature.
type Entry struct {
	// Height is the position in the chain, starting at 0.
	Height    int64
	Group     string
	Message   string
	Signature string // lowercase hex
	Prev      []byte
	Hash      []byte
}

// Domain separates entries from other hashed values.
func (Entry) Domain() string {
	return "ledger.Entry"
}

// WriteTo writes every field but Hash, each prefixed by its length.
func (e Entry) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, field := range [][]byte{e.Prev, []byte(e.Group), []byte(e.Message), []byte(e.Signature)} {
		var size [4]byte
		binary.BigEndian.PutUint32(size[:], uint32(len(field)))
		n, err := w.Write(append(size[:], field...))
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (e Entry) digest() []byte {
	h := hash.New()
	// int64 and WriterToWithDomain are always accepted.
	_ = h.WriteAny(e.Height, e)
	return h.Sum()
}

// Chain is an in-memory Ledger. Each entry commits to the previous one.
type Chain struct {
	mtx     sync.Mutex
	store   FragmentReader
	entries []Entry
	log     zerolog.Logger
}

// New returns an empty Chain verifying against moduli read from store.
func New(store FragmentReader, log zerolog.Logger) *Chain {
	return &Chain{store: store, log: log.With().Str("component", "ledger").Logger()}
}

// VerifyAndAppend checks sig against the group's public key and appends it on success.
// The error is non-nil only when the public key could not be read.
func (c *Chain) VerifyAndAppend(group string, msg []byte, sig *big.Int) (bool, error) {
	nHex, err := c.store.Get(group, fragment.TypeN, nil)
	if err != nil {
		return false, fmt.Errorf("ledger: public key of %s: %w", group, err)
	}
	pub, err := rsakey.PublicKeyFromHex(string(nHex))
	if err != nil {
		return false, fmt.Errorf("ledger: public key of %s: %w", group, err)
	}
	if !pub.Verify(msg, sig) {
		c.log.Info().Str("group", group).Msg("signature verification failed")
		return false, nil
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()
	var prev []byte
	if n := len(c.entries); n > 0 {
		prev = c.entries[n-1].Hash
	}
	e := Entry{
		Height:    int64(len(c.entries)),
		Group:     group,
		Message:   string(msg),
		Signature: sig.Text(16),
		Prev:      prev,
	}
	e.Hash = e.digest()
	c.entries = append(c.entries, e)
	c.log.Info().Str("group", group).Int("height", len(c.entries)).Msg("signature appended")
	return true, nil
}

// Entries returns a copy of all entries in order.
func (c *Chain) Entries() []Entry {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Audit recomputes every link.
func (c *Chain) Audit() error {
	var prev []byte
	for i, e := range c.Entries() {
		if e.Height != int64(i) || !bytes.Equal(e.Prev, prev) || !bytes.Equal(e.Hash, e.digest()) {
			return fmt.Errorf("%w at entry %d", ErrBrokenChain, i)
		}
		prev = e.Hash
	}
	return nil
}

const listingHeader = "Data that is now on-chain:\n"

// String renders the chain for display.
func (c *Chain) String() string {
	var b strings.Builder
	b.WriteString(listingHeader)
	for _, e := range c.Entries() {
		b.WriteString(e.line())
	}
	return b.String()
}

func (e Entry) line() string {
	return fmt.Sprintf("- %s %s\n", e.Message, e.Signature)
}

// Pages renders the chain like String, split into pages of at most limit
// bytes. Entries never straddle pages; an entry longer than limit is cut.
func (c *Chain) Pages(limit int) []string {
	var (
		pages []string
		b     strings.Builder
	)
	b.WriteString(listingHeader)
	for _, e := range c.Entries() {
		line := e.line()
		if len(line) > limit {
			line = line[:limit]
		}
		if b.Len()+len(line) > limit {
			pages = append(pages, b.String())
			b.Reset()
		}
		b.WriteString(line)
	}
	return append(pages, b.String())
}
