// Package wire defines the '@' delimited text frames exchanged over UDP and
// parses them once into typed messages.
package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/taurusgroup/multi-party-rsa/pkg/fragment"
	"github.com/taurusgroup/multi-party-rsa/pkg/party"
	"github.com/taurusgroup/multi-party-rsa/protocols/share"
)

// Separator delimits frame fields.
const Separator = "@"

// placeholder fills the argument slot of frames that carry none.
const placeholder = "_"

var (
	ErrMalformed   = errors.New("wire: malformed frame")
	ErrUnknownKind = errors.New("wire: unknown kind")
)

// Message is implemented by every frame type in this package.
type Message interface {
	Kind() Kind
	fields() []string
}

// Pub announces the sender's public key, base64 encoded.
type Pub struct {
	Name string
	Key  string
}

// Join asks the server to add Identity to Group.
type Join struct {
	Group    string
	Identity party.Identity
}

// List asks the server for the members of Group.
type List struct {
	Group    string
	Identity party.Identity
}

// Query asks the server for the ledger contents.
type Query struct{}

// Delete asks the server to drop one shard backend.
type Delete struct{}

// Diff carries masked secrets d - r to the other peer (DIFF, RE_DIFF).
type Diff struct {
	Pipeline share.Pipeline
	Group    string
	Pair     share.Pair
}

// Masks carries raw masks r to the other peer (RS, RE_RS).
type Masks struct {
	Pipeline share.Pipeline
	Group    string
	Pair     share.Pair
}

// Sum carries one combined sum to the server: a mask sum (SUM, RE_SUM) or a
// diff sum (DSUM, RE_DSUM).
type Sum struct {
	Pipeline share.Pipeline
	Sum      share.Kind
	Group    string
	Pair     share.Pair
}

// Get asks for a fragment. Signature is required for private types.
type Get struct {
	Name      string
	Group     string
	Type      fragment.Type
	Signature string
}

// Auth carries an encrypted authorization blob.
type Auth struct {
	Name string
	Blob string
}

// Msg is free text for display.
type Msg struct {
	Text string
}

// Order tells a peer its join order in Group.
type Order struct {
	Group string
	Order int
}

// Friend introduces the other member of Group.
type Friend struct {
	Group    string
	Identity party.Identity
}

func (Pub) Kind() Kind    { return KindPub }
func (Join) Kind() Kind   { return KindJoin }
func (List) Kind() Kind   { return KindList }
func (Query) Kind() Kind  { return KindQuery }
func (Delete) Kind() Kind { return KindDelete }
func (Auth) Kind() Kind   { return KindAuth }
func (Msg) Kind() Kind    { return KindMsg }
func (Order) Kind() Kind  { return KindOrder }
func (Friend) Kind() Kind { return KindFriend }
func (Get) Kind() Kind    { return KindGet }

func (m Diff) Kind() Kind {
	if m.Pipeline == share.Recover {
		return KindReDiff
	}
	return KindDiff
}

func (m Masks) Kind() Kind {
	if m.Pipeline == share.Recover {
		return KindReRS
	}
	return KindRS
}

func (m Sum) Kind() Kind {
	switch {
	case m.Sum == share.DiffSum && m.Pipeline == share.Recover:
		return KindReDSum
	case m.Sum == share.DiffSum:
		return KindDSum
	case m.Pipeline == share.Recover:
		return KindReSum
	}
	return KindSum
}

func (m Pub) fields() []string    { return []string{m.Name, m.Key} }
func (m Join) fields() []string   { return []string{m.Group, m.Identity.JSON()} }
func (m List) fields() []string   { return []string{m.Group, m.Identity.JSON()} }
func (Query) fields() []string    { return []string{placeholder} }
func (Delete) fields() []string   { return []string{placeholder} }
func (m Diff) fields() []string   { return []string{m.Group, m.Pair.String()} }
func (m Masks) fields() []string  { return []string{m.Group, m.Pair.String()} }
func (m Sum) fields() []string    { return []string{m.Group, m.Pair.String()} }
func (m Auth) fields() []string   { return []string{m.Name, m.Blob} }
func (m Msg) fields() []string    { return []string{m.Text} }
func (m Order) fields() []string  { return []string{m.Group, strconv.Itoa(m.Order)} }
func (m Friend) fields() []string { return []string{m.Group, m.Identity.JSON()} }

func (m Get) fields() []string {
	f := []string{m.Name, m.Group, string(m.Type)}
	if m.Signature != "" {
		f = append(f, m.Signature)
	}
	return f
}

// Encode renders m as a frame.
func Encode(m Message) string {
	return string(m.Kind()) + Separator + strings.Join(m.fields(), Separator)
}

// Parse reads one frame. Tags are case insensitive; surrounding whitespace is
// ignored.
func Parse(frame string) (Message, error) {
	frame = strings.TrimSpace(frame)
	tag, rest, ok := strings.Cut(frame, Separator)
	if !ok {
		return nil, fmt.Errorf("%w: no separator", ErrMalformed)
	}
	kind := Kind(strings.ToUpper(tag))
	n, known := fields[kind]
	if !known {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, tag)
	}
	f := strings.SplitN(rest, Separator, n)
	if kind == KindGet && len(f) == 3 {
		f = append(f, "")
	}
	if len(f) != n {
		return nil, fmt.Errorf("%w: %s wants %d fields, got %d", ErrMalformed, kind, n, len(f))
	}

	switch kind {
	case KindPub:
		return Pub{Name: f[0], Key: f[1]}, nil
	case KindJoin, KindList, KindFriend:
		id, err := party.ParseIdentity(f[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, kind, err)
		}
		switch kind {
		case KindJoin:
			return Join{Group: f[0], Identity: id}, nil
		case KindList:
			return List{Group: f[0], Identity: id}, nil
		}
		return Friend{Group: f[0], Identity: id}, nil
	case KindQuery:
		return Query{}, nil
	case KindDelete:
		return Delete{}, nil
	case KindDiff, KindReDiff, KindRS, KindReRS, KindSum, KindReSum, KindDSum, KindReDSum:
		pair, err := share.ParsePair(f[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, kind, err)
		}
		pipeline := share.Generate
		if strings.HasPrefix(string(kind), "RE_") {
			pipeline = share.Recover
		}
		switch kind {
		case KindDiff, KindReDiff:
			return Diff{Pipeline: pipeline, Group: f[0], Pair: pair}, nil
		case KindRS, KindReRS:
			return Masks{Pipeline: pipeline, Group: f[0], Pair: pair}, nil
		case KindDSum, KindReDSum:
			return Sum{Pipeline: pipeline, Sum: share.DiffSum, Group: f[0], Pair: pair}, nil
		}
		return Sum{Pipeline: pipeline, Sum: share.MaskSum, Group: f[0], Pair: pair}, nil
	case KindGet:
		t, err := fragment.ParseType(f[2])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, kind, err)
		}
		return Get{Name: f[0], Group: f[1], Type: t, Signature: f[3]}, nil
	case KindAuth:
		return Auth{Name: f[0], Blob: f[1]}, nil
	case KindMsg:
		return Msg{Text: f[0]}, nil
	case KindOrder:
		o, err := strconv.Atoi(f[1])
		if err != nil || o < 0 || o >= party.MaxMembers {
			return nil, fmt.Errorf("%w: order %q", ErrMalformed, f[1])
		}
		return Order{Group: f[0], Order: o}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, tag)
}
