// Package fragment stores key fragments as Reed-Solomon shards spread over
// three independent backends.
//
// Every payload is prefixed with its 4 byte big-endian length, zero padded to a
// multiple of DataShards, split into DataShards data shards and extended with
// ParityShards parity shards. Shard i lives in backend i. Any DataShards
// surviving shards are enough to read the payload back.
package fragment

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/klauspost/reedsolomon"
	"github.com/rs/zerolog"
	"github.com/taurusgroup/multi-party-rsa/pkg/ecc"
)

const (
	DataShards   = 2
	ParityShards = 1
	Shards       = DataShards + ParityShards

	lengthPrefix = 4
)

var (
	ErrAuthFailed         = errors.New("fragment: authentication failed")
	ErrInsufficientShards = errors.New("fragment: insufficient shards")
	ErrRecoveryMismatch   = errors.New("fragment: recovery candidate does not match stored shard")
	ErrCorrupt            = errors.New("fragment: corrupt shards")
)

type config struct {
	log  zerolog.Logger
	rand *rand.Rand
}

// Option configures a Store.
type Option func(*config)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *config) {
		c.log = log
	}
}

// WithRand sets the source DeleteOneShard picks backends from.
func WithRand(r *rand.Rand) Option {
	return func(c *config) {
		c.rand = r
	}
}

// Store is the erasure coded fragment store. Operations on a Store are
// serialized, so a reader never observes a partially written shard triple.
type Store struct {
	mtx      sync.Mutex
	backends [Shards]Backend
	enc      reedsolomon.Encoder
	cfg      config
}

// NewStore returns a Store over the given backends.
func NewStore(backends [Shards]Backend, opts ...Option) (*Store, error) {
	cfg := config{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.rand == nil {
		cfg.rand = rand.New(rand.NewSource(rand.Int63()))
	}
	for i, b := range backends {
		if b == nil {
			return nil, fmt.Errorf("fragment: backend %d is nil", i)
		}
	}
	enc, err := reedsolomon.New(DataShards, ParityShards)
	if err != nil {
		return nil, fmt.Errorf("fragment: %w", err)
	}
	return &Store{
		backends: backends,
		enc:      enc,
		cfg:      cfg,
	}, nil
}

// NewMemStore returns a Store over three in-memory backends.
func NewMemStore(opts ...Option) *Store {
	s, err := NewStore([Shards]Backend{NewMemBackend(), NewMemBackend(), NewMemBackend()}, opts...)
	if err != nil {
		// Only fails on nil backends or invalid shard counts.
		panic(err)
	}
	return s
}

// encode returns the Shards shards of payload.
func (s *Store) encode(payload []byte) ([][]byte, error) {
	stored := lengthPrefix + len(payload)
	shardSize := (stored + DataShards - 1) / DataShards
	buf := make([]byte, shardSize*Shards)
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[lengthPrefix:], payload)

	shards := make([][]byte, Shards)
	for i := range shards {
		shards[i] = buf[i*shardSize : (i+1)*shardSize : (i+1)*shardSize]
	}
	if err := s.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("fragment: encode: %w", err)
	}
	return shards, nil
}

func (s *Store) write(group string, t Type, shards [][]byte) error {
	for i, b := range s.backends {
		if err := b.Put(group, t, shards[i]); err != nil {
			return fmt.Errorf("fragment: backend %d: %w", i, err)
		}
	}
	return nil
}

// Put stores payload as the fragment (group, t), replacing any previous value.
func (s *Store) Put(payload []byte, group string, t Type) error {
	shards, err := s.encode(payload)
	if err != nil {
		return err
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()
	if err := s.write(group, t, shards); err != nil {
		return err
	}
	s.cfg.log.Debug().Str("group", group).Str("type", string(t)).Int("size", len(payload)).Msg("fragment stored")
	return nil
}

// read returns the stored shards and how many are present.
func (s *Store) read(group string, t Type) ([][]byte, int, error) {
	shards := make([][]byte, Shards)
	present := 0
	for i, b := range s.backends {
		shard, ok, err := b.Get(group, t)
		if err != nil {
			return nil, 0, fmt.Errorf("fragment: backend %d: %w", i, err)
		}
		if ok {
			shards[i] = shard
			present++
		}
	}
	return shards, present, nil
}

func (s *Store) authorize(group string, t Type, cred *Credential) error {
	if !t.IsPrivate() {
		return nil
	}
	if cred == nil || !ecc.Verify(cred.PubKey, cred.Name+group, cred.Signature) {
		return ErrAuthFailed
	}
	return nil
}

// Get returns the fragment (group, t). Private types require cred to carry a
// valid signature over name+group.
func (s *Store) Get(group string, t Type, cred *Credential) ([]byte, error) {
	log := s.cfg.log.With().Str("group", group).Str("type", string(t)).Logger()
	if err := s.authorize(group, t, cred); err != nil {
		log.Info().Msg("fragment read refused")
		return nil, err
	}

	s.mtx.Lock()
	shards, present, err := s.read(group, t)
	s.mtx.Unlock()
	if err != nil {
		return nil, err
	}
	if present < DataShards {
		log.Info().Int("present", present).Msg("not enough shards")
		return nil, fmt.Errorf("%w: %d of %d present", ErrInsufficientShards, present, Shards)
	}
	if err := s.enc.ReconstructData(shards); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	data := bytes.Join(shards[:DataShards], nil)
	size := int(binary.BigEndian.Uint32(data))
	if size > len(data)-lengthPrefix {
		return nil, fmt.Errorf("%w: length prefix %d exceeds %d", ErrCorrupt, size, len(data)-lengthPrefix)
	}
	return data[lengthPrefix : lengthPrefix+size], nil
}

// Recover re-encodes candidate and compares it against every surviving shard
// of (group, t). When all of them match, all shards are rewritten; otherwise
// storage is left untouched and ErrRecoveryMismatch is returned.
func (s *Store) Recover(candidate []byte, group string, t Type) error {
	log := s.cfg.log.With().Str("group", group).Str("type", string(t)).Logger()
	fresh, err := s.encode(candidate)
	if err != nil {
		return err
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()
	stored, present, err := s.read(group, t)
	if err != nil {
		return err
	}
	if present == 0 {
		log.Info().Msg("nothing left to validate recovery against")
		return fmt.Errorf("%w: no shard survives", ErrInsufficientShards)
	}
	for i, shard := range stored {
		if shard == nil {
			continue
		}
		if !bytes.Equal(shard, fresh[i]) {
			log.Info().Int("shard", i).Msg("recovery candidate rejected")
			return ErrRecoveryMismatch
		}
	}
	if err := s.write(group, t, fresh); err != nil {
		return err
	}
	log.Info().Msg("fragment recovered")
	return nil
}

// DropShard clears backend i.
func (s *Store) DropShard(i int) error {
	if i < 0 || i >= Shards {
		return fmt.Errorf("fragment: shard index %d out of range", i)
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.drop(i)
}

func (s *Store) drop(i int) error {
	if err := s.backends[i].Clear(); err != nil {
		return fmt.Errorf("fragment: backend %d: %w", i, err)
	}
	s.cfg.log.Warn().Int("shard", i).Msg("backend cleared")
	return nil
}

// DeleteOneShard clears one backend, chosen at random among the non-empty ones,
// and returns its index. When all backends are empty any index may be returned.
func (s *Store) DeleteOneShard() (int, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	var candidates []int
	for i, b := range s.backends {
		listing, err := b.List()
		if err != nil {
			return -1, fmt.Errorf("fragment: backend %d: %w", i, err)
		}
		if len(listing) > 0 {
			candidates = append(candidates, i)
		}
	}
	i := s.cfg.rand.Intn(Shards)
	if len(candidates) > 0 {
		i = candidates[s.cfg.rand.Intn(len(candidates))]
	}
	return i, s.drop(i)
}

// Listing is the content of one backend.
type Listing struct {
	Backend int
	Groups  map[string][]Type
}

// Snapshot lists every backend's content.
func (s *Store) Snapshot() ([]Listing, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	out := make([]Listing, 0, Shards)
	for i, b := range s.backends {
		groups, err := b.List()
		if err != nil {
			return nil, fmt.Errorf("fragment: backend %d: %w", i, err)
		}
		out = append(out, Listing{Backend: i, Groups: groups})
	}
	return out, nil
}

// Close closes every backend.
func (s *Store) Close() error {
	var errs []error
	for _, b := range s.backends {
		errs = append(errs, b.Close())
	}
	return errors.Join(errs...)
}
