package fragment

import (
	"fmt"
	"strconv"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Type names a stored fragment: the public modulus or one private exponent half.
type Type string

const (
	TypeN  Type = "n"
	TypeD0 Type = "d0"
	TypeD1 Type = "d1"
)

// PrivateType returns the private fragment type owned by the member with the
// given join order.
func PrivateType(order int) Type {
	return Type("d" + strconv.Itoa(order))
}

// ParseType validates s.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeN, TypeD0, TypeD1:
		return t, nil
	}
	return "", fmt.Errorf("fragment: unknown type %q", s)
}

// IsPrivate reports whether reading t requires a Credential.
func (t Type) IsPrivate() bool {
	return t == TypeD0 || t == TypeD1
}

// Order returns the member index of a private type, -1 for TypeN.
func (t Type) Order() int {
	switch t {
	case TypeD0:
		return 0
	case TypeD1:
		return 1
	}
	return -1
}

// Credential proves the requester signed name+group with PubKey.
type Credential struct {
	Name      string
	Signature string
	PubKey    *secp256k1.PublicKey
}
