package rotor

import (
	"errors"
	"fmt"
)

// Size is the number of symbols the machine operates on.
const Size = 26 + 26 + 10

// Alphabet lists the symbols in index order.
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ErrAlphabet is returned when the input contains a symbol outside Alphabet.
var ErrAlphabet = errors.New("rotor: character outside alphabet")

// wiring is shared by all three rotors.
var wiring = [Size]int{
	19, 50, 6, 31, 53, 41, 54, 1, 56, 8,
	7, 12, 44, 29, 32, 60, 57, 52, 55, 47,
	30, 24, 16, 21, 3, 17, 34, 40, 58, 33,
	25, 4, 9, 22, 36, 2, 23, 43, 0, 37,
	27, 15, 11, 35, 46, 10, 20, 49, 48, 13,
	59, 26, 51, 18, 45, 39, 38, 14, 61, 28,
	5, 42,
}

// periods holds, per rotor, how many traversals it takes before the rotor steps.
// A symbol traverses every rotor twice, so the fastest rotor steps once per symbol.
var periods = [3]int{2, Size, Size * Size}

// State is a snapshot of the rotor positions and traversal counters.
//
// Restoring a State and encoding the output of an encoding done from that same
// State yields the original input.
type State struct {
	Positions [3]int
	Counters  [3]int
}

type rotor struct {
	forward, backward [Size]int
	position          int
	count             int
	period            int
}

func newRotor(position, period int) *rotor {
	r := &rotor{
		forward:  wiring,
		position: normalize(position),
		period:   period,
	}
	for i, w := range r.forward {
		r.backward[w] = i
	}
	return r
}

func (r *rotor) in(x int) int {
	r.count++
	seq := (x + r.position) % Size
	return (r.forward[seq] - r.position + Size) % Size
}

func (r *rotor) out(x int) int {
	r.count++
	seq := (x + r.position) % Size
	y := (r.backward[seq] - r.position + Size) % Size
	if r.count == r.period {
		r.position = (r.position + 1) % Size
		r.count = 0
	}
	return y
}

// reflect pairs every even symbol index with the following odd one.
func reflect(x int) int {
	return x ^ 1
}

// Machine is a three rotor substitution cipher with a fixed reflector.
//
// A Machine is not safe for concurrent use.
type Machine struct {
	rotors [3]*rotor
}

// New returns a Machine with the given initial positions, each reduced mod Size.
func New(p1, p2, p3 int) *Machine {
	return &Machine{
		rotors: [3]*rotor{
			newRotor(p1, periods[0]),
			newRotor(p2, periods[1]),
			newRotor(p3, periods[2]),
		},
	}
}

// SetPositions moves the rotors to the given positions and clears their counters.
func (m *Machine) SetPositions(p1, p2, p3 int) {
	for i, p := range [3]int{p1, p2, p3} {
		m.rotors[i].position = normalize(p)
		m.rotors[i].count = 0
	}
}

// State returns the current positions and counters.
func (m *Machine) State() State {
	var s State
	for i, r := range m.rotors {
		s.Positions[i] = r.position
		s.Counters[i] = r.count
	}
	return s
}

// Restore puts the machine back into s.
func (m *Machine) Restore(s State) {
	for i, r := range m.rotors {
		r.position = normalize(s.Positions[i])
		r.count = s.Counters[i]
		if r.count < 0 || r.count >= r.period {
			r.count = 0
		}
	}
}

// Encode passes every symbol of text through the machine, advancing the rotors.
//
// The whole input is validated first, so a failed call leaves the machine untouched.
func (m *Machine) Encode(text string) (string, error) {
	idx := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		x, ok := Index(text[i])
		if !ok {
			return "", fmt.Errorf("%w: %q at offset %d", ErrAlphabet, text[i], i)
		}
		idx[i] = x
	}

	out := make([]byte, len(idx))
	for i, x := range idx {
		out[i] = Alphabet[m.encodeOne(x)]
	}
	return string(out), nil
}

func (m *Machine) encodeOne(x int) int {
	r1, r2, r3 := m.rotors[0], m.rotors[1], m.rotors[2]
	x = reflect(r3.in(r2.in(r1.in(x))))
	return r1.out(r2.out(r3.out(x)))
}

// Index returns the position of c in Alphabet.
func Index(c byte) (int, bool) {
	switch {
	case 'a' <= c && c <= 'z':
		return int(c - 'a'), true
	case 'A' <= c && c <= 'Z':
		return int(c-'A') + 26, true
	case '0' <= c && c <= '9':
		return int(c-'0') + 52, true
	}
	return 0, false
}

func normalize(p int) int {
	p %= Size
	if p < 0 {
		p += Size
	}
	return p
}
