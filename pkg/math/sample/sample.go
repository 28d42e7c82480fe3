package sample

import (
	"fmt"
	"io"
	"math/big"
)

const maxIterations = 255

var ErrMaxIterations = fmt.Errorf("sample: failed to generate after %d iterations", maxIterations)

func mustReadBits(rand io.Reader, buf []byte) {
	for i := 0; i < maxIterations; i++ {
		if _, err := io.ReadFull(rand, buf); err == nil {
			return
		}
	}
	panic(ErrMaxIterations)
}

// Bits returns a uniform integer in [0, 2^bits). bits must be a multiple of 8.
func Bits(rand io.Reader, bits int) *big.Int {
	buf := make([]byte, bits/8)
	mustReadBits(rand, buf)
	return new(big.Int).SetBytes(buf)
}
