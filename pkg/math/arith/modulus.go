package arith

import (
	"math/big"

	"github.com/cronokirby/saferith"
)

// Modulus wraps a saferith.Modulus and enables faster modular exponentiation when
// the factorization is known.
// When n = p⋅q, xᵉ (mod n) can be computed with only two exponentiations
// with p and q respectively.
type Modulus struct {
	// represents modulus n
	*saferith.Modulus
	// n = p⋅q
	p, q *saferith.Modulus
	// pInv = p⁻¹ (mod q)
	pNat, pInv *saferith.Nat
}

// ModulusFromN creates a simple wrapper around a given modulus n.
// The modulus is not copied.
func ModulusFromN(n *saferith.Modulus) *Modulus {
	return &Modulus{
		Modulus: n,
	}
}

// ModulusFromBig returns a Modulus for n, which must be odd and positive.
func ModulusFromBig(n *big.Int) *Modulus {
	return ModulusFromN(saferith.ModulusFromNat(new(saferith.Nat).SetBig(n, natBits(n))))
}

// ModulusFromFactors creates the necessary cached values to accelerate
// exponentiation mod n.
func ModulusFromFactors(p, q *saferith.Nat) *Modulus {
	nNat := new(saferith.Nat).Mul(p, q, -1)
	nMod := saferith.ModulusFromNat(nNat)
	pMod := saferith.ModulusFromNat(p)
	qMod := saferith.ModulusFromNat(q)
	pInvQ := new(saferith.Nat).ModInverse(p, qMod)
	pNat := new(saferith.Nat).SetNat(p)
	return &Modulus{
		Modulus: nMod,
		p:       pMod,
		q:       qMod,
		pNat:    pNat,
		pInv:    pInvQ,
	}
}

// ModulusFromPrimes is ModulusFromFactors for big.Int factors.
func ModulusFromPrimes(p, q *big.Int) *Modulus {
	return ModulusFromFactors(
		new(saferith.Nat).SetBig(p, natBits(p)),
		new(saferith.Nat).SetBig(q, natBits(q)),
	)
}

// Exp is equivalent to (saferith.Nat).Exp(x, e, n.Modulus).
// It returns xᵉ (mod n).
func (n *Modulus) Exp(x, e *saferith.Nat) *saferith.Nat {
	if n.hasFactorization() {
		var xp, xq saferith.Nat
		xp.Exp(x, e, n.p) // x₁ = xᵉ (mod p)
		xq.Exp(x, e, n.q) // x₂ = xᵉ (mod q)
		// r = x₁ + p ⋅ [p⁻¹ (mod q)] ⋅ [x₂ - x₁] (mod n)
		r := xq.ModSub(&xq, &xp, n.Modulus)
		r.ModMul(r, n.pInv, n.Modulus)
		r.ModMul(r, n.pNat, n.Modulus)
		r.ModAdd(r, &xp, n.Modulus)
		return r
	}
	return new(saferith.Nat).Exp(x, e, n.Modulus)
}

// ExpBig returns xᵉ (mod n) for big.Int operands. x is reduced mod n first.
func (n *Modulus) ExpBig(x, e *big.Int) *big.Int {
	xNat := new(saferith.Nat).Mod(new(saferith.Nat).SetBig(x, natBits(x)), n.Modulus)
	eNat := new(saferith.Nat).SetBig(e, natBits(e))
	return n.Exp(xNat, eNat).Big()
}

// ReduceBig returns x (mod n).
func (n *Modulus) ReduceBig(x *big.Int) *big.Int {
	xNat := new(saferith.Nat).SetBig(x, natBits(x))
	return new(saferith.Nat).Mod(xNat, n.Modulus).Big()
}

func (n Modulus) hasFactorization() bool {
	return n.p != nil && n.q != nil && n.pNat != nil && n.pInv != nil
}
