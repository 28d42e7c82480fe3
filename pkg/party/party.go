// Package party describes the members of a signing group and the server-side
// roster of who joined which group in which order.
package party

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/taurusgroup/multi-party-rsa/internal/hash"
)

// MaxMembers is the size of every group.
const MaxMembers = 2

var (
	ErrGroupFull = errors.New("party: group is full")
	ErrIdentity  = errors.New("party: malformed identity")
)

// fieldSeparators are the characters frames and authorization blobs split on.
const fieldSeparators = "@\n"

// GroupID returns the identifier peers use on the wire for a human readable
// group name.
func GroupID(name string) string {
	h := hash.New()
	// strings are always accepted.
	_ = h.WriteAny(name)
	return hex.EncodeToString(h.Sum())
}

// Identity is what a peer announces about itself.
type Identity struct {
	Name string `json:"name"`
	// Addr is the transport address the peer receives on.
	Addr string `json:"addr"`
	// GroupOrder maps a group to this peer's join order in it.
	GroupOrder map[string]int `json:"groupOrder,omitempty"`
}

// Order returns the join order of the identity in group.
func (id Identity) Order(group string) (int, bool) {
	o, ok := id.GroupOrder[group]
	return o, ok
}

// WithOrder returns a copy of id that records order for group.
func (id Identity) WithOrder(group string, order int) Identity {
	orders := make(map[string]int, len(id.GroupOrder)+1)
	for g, o := range id.GroupOrder {
		orders[g] = o
	}
	orders[group] = order
	id.GroupOrder = orders
	return id
}

// JSON returns the wire form of id.
func (id Identity) JSON() string {
	b, err := json.Marshal(id)
	if err != nil {
		// Only strings and ints.
		panic(err)
	}
	return string(b)
}

func (id Identity) String() string {
	return id.Name + " " + id.Addr
}

// ParseIdentity is the inverse of Identity.JSON.
func ParseIdentity(s string) (Identity, error) {
	var id Identity
	if err := json.Unmarshal([]byte(s), &id); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrIdentity, err)
	}
	if id.Name == "" || id.Addr == "" {
		return Identity{}, fmt.Errorf("%w: missing name or address", ErrIdentity)
	}
	if err := CheckName(id.Name); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// CheckName rejects names that cannot travel inside a frame field.
func CheckName(name string) error {
	if name == "" || strings.ContainsAny(name, fieldSeparators) {
		return fmt.Errorf("%w: invalid name %q", ErrIdentity, name)
	}
	return nil
}
