package arith

import "math/big"

var one = big.NewInt(1)

// IsCoprime returns true if gcd(a,b) = 1.
func IsCoprime(a, b *big.Int) bool {
	var gcd big.Int
	return gcd.GCD(nil, nil, a, b).Cmp(one) == 0
}

// natBits returns the announced size for a Nat built from x.
func natBits(x *big.Int) int {
	if x.BitLen() == 0 {
		return 1
	}
	return x.BitLen()
}
