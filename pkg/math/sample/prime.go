package sample

import (
	"math"
	"math/big"
	"sync"

	"github.com/taurusgroup/multi-party-rsa/pkg/pool"
)

// primes generates an array containing all the odd prime numbers < below
func primes(below uint32) []uint32 {
	sieve := make([]bool, below)
	// Initially, all numbers starting from 2 are considered prime
	for i := 2; i < len(sieve); i++ {
		sieve[i] = true
	}
	// Now, we remove the multiples of every prime number we encounter
	for p := 2; p*p < len(sieve); p++ {
		if !sieve[p] {
			continue
		}
		for i := p << 1; i < len(sieve); i += p {
			sieve[i] = false
		}
	}
	nF := float64(below)
	out := make([]uint32, 0, int(nF/math.Log(nF)))
	for p := uint32(3); p < below; p++ {
		if sieve[p] {
			out = append(out, p)
		}
	}
	return out
}

// The number of odd candidates sieved at once.
const sieveSize = 1 << 12

// The upper bound on the prime numbers used for sieving.
const primeBound = 1 << 16

// The number of Miller-Rabin rounds, the same number Go uses internally.
const primalityIterations = 20

var thePrimes []uint32
var initPrimes sync.Once

func smallPrimes() []uint32 {
	initPrimes.Do(func() {
		thePrimes = primes(primeBound)
	})
	return thePrimes
}

// ShiftToBits scales x by a power of two so that its bit length is exactly bits.
// Values longer than bits are shifted right. x must be positive.
func ShiftToBits(x *big.Int, bits int) *big.Int {
	l := x.BitLen()
	if l <= bits {
		return new(big.Int).Lsh(x, uint(bits-l))
	}
	return new(big.Int).Rsh(x, uint(l-bits))
}

// NextPrime returns the smallest probable prime >= x.
//
// Candidates are sieved by small primes in windows of sieveSize odd numbers, and
// the survivors of each window are tested on the pool's workers.
func NextPrime(pl *pool.Pool, x *big.Int) *big.Int {
	two := big.NewInt(2)
	if x.Cmp(two) <= 0 {
		return two
	}
	base := new(big.Int).Set(x)
	if base.Bit(0) == 0 {
		base.Add(base, big.NewInt(1))
	}

	// Small values could be sieved out by themselves.
	if base.Cmp(big.NewInt(primeBound)) < 0 {
		for c := base; ; c.Add(c, two) {
			if c.ProbablyPrime(primalityIterations) {
				return c
			}
		}
	}

	for {
		survivors := sieveWindow(base)
		type result struct {
			p         *big.Int
			exhausted bool
		}
		r := pool.SearchFirst(pl, func(attempt int) (result, bool) {
			if attempt >= len(survivors) {
				return result{exhausted: true}, true
			}
			c := new(big.Int).Add(base, big.NewInt(int64(2*survivors[attempt])))
			if c.ProbablyPrime(primalityIterations) {
				return result{p: c}, true
			}
			return result{}, false
		})
		if !r.exhausted {
			return r.p
		}
		base.Add(base, big.NewInt(2*sieveSize))
	}
}

// sieveWindow returns the offsets i in [0, sieveSize) for which base + 2i has no
// factor below primeBound. base must be odd and at least primeBound.
func sieveWindow(base *big.Int) []int {
	composite := make([]bool, sieveSize)
	var rem big.Int
	for _, p := range smallPrimes() {
		bp := int64(p)
		r := rem.Mod(base, big.NewInt(bp)).Int64()
		// base + 2i ≡ 0 (mod p)  ⇔  i ≡ -r⋅2⁻¹ (mod p)
		inv2 := (bp + 1) / 2
		start := ((bp - r) % bp) * inv2 % bp
		for i := start; i < sieveSize; i += bp {
			composite[i] = true
		}
	}
	out := make([]int, 0, sieveSize/8)
	for i, c := range composite {
		if !c {
			out = append(out, i)
		}
	}
	return out
}
