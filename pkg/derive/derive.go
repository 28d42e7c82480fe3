// Package derive turns a short alphabetic key into a pair of integer secrets and
// can later recover the key from either secret.
package derive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/taurusgroup/multi-party-rsa/pkg/rotor"
)

// KeyLength is the exact number of symbols a key must have.
const KeyLength = 8

var (
	ErrKeyLength        = errors.New("derive: key must have exactly 8 symbols")
	ErrRecoveryNotFound = errors.New("derive: no state recorded for value")
)

// Secret is the pair derived from a key, with D1 >= D2.
type Secret struct {
	D1, D2 int64
}

// Engine owns a rotor machine and the log of machine states that produced every
// derived value. The log is never pruned.
type Engine struct {
	mtx     sync.Mutex
	machine *rotor.Machine
	log     map[int64]rotor.State
}

// NewEngine returns an Engine with all rotors at position zero.
func NewEngine() *Engine {
	return &Engine{
		machine: rotor.New(0, 0, 0),
		log:     make(map[int64]rotor.State),
	}
}

// Derive sets the rotor positions and encodes key twice in a row, returning
// both encodings packed as big-endian integers.
func (e *Engine) Derive(key string, positions [3]uint32) (Secret, error) {
	if len(key) != KeyLength {
		return Secret{}, fmt.Errorf("%w: got %d", ErrKeyLength, len(key))
	}
	for i := 0; i < len(key); i++ {
		if _, ok := rotor.Index(key[i]); !ok {
			return Secret{}, fmt.Errorf("derive: key: %w", rotor.ErrAlphabet)
		}
	}

	e.mtx.Lock()
	defer e.mtx.Unlock()

	e.machine.SetPositions(int(positions[0]%rotor.Size), int(positions[1]%rotor.Size), int(positions[2]%rotor.Size))
	first, err := e.encode(key)
	if err != nil {
		return Secret{}, err
	}
	second, err := e.encode(key)
	if err != nil {
		return Secret{}, err
	}
	if first < second {
		first, second = second, first
	}
	return Secret{D1: first, D2: second}, nil
}

func (e *Engine) encode(key string) (int64, error) {
	state := e.machine.State()
	out, err := e.machine.Encode(key)
	if err != nil {
		return 0, fmt.Errorf("derive: %w", err)
	}
	v := Pack(out)
	e.log[v] = state
	return v, nil
}

// Recover returns the key that produced v in an earlier call to Derive.
func (e *Engine) Recover(v int64) (string, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	state, ok := e.log[v]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrRecoveryNotFound, v)
	}
	e.machine.Restore(state)
	key, err := e.machine.Encode(Unpack(v))
	if err != nil {
		return "", fmt.Errorf("derive: recover %d: %w", v, err)
	}
	return key, nil
}

// Pack interprets the first 8 bytes of s as a big-endian integer, zero filling
// missing bytes.
func Pack(s string) int64 {
	var b [8]byte
	copy(b[:], s)
	return int64(binary.BigEndian.Uint64(b[:]))
}

// Unpack is the inverse of Pack.
func Unpack(v int64) string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return string(b[:])
}
