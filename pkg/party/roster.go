package party

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

// Roster records group membership in join order.
type Roster struct {
	groups *xsync.MapOf[string, []Identity]
}

func NewRoster() *Roster {
	return &Roster{groups: xsync.NewMapOf[string, []Identity]()}
}

// Join appends id to group and returns its order and the members after the join.
// Joining again under the same name replaces the stored identity and keeps the
// original order.
func (r *Roster) Join(group string, id Identity) (int, []Identity, error) {
	if err := CheckName(id.Name); err != nil {
		return -1, nil, err
	}
	var (
		order = -1
		full  bool
	)
	members, _ := r.groups.Compute(group, func(old []Identity, _ bool) ([]Identity, bool) {
		for i, m := range old {
			if m.Name == id.Name {
				order = i
				next := append([]Identity(nil), old...)
				next[i] = id.WithOrder(group, i)
				return next, false
			}
		}
		if len(old) >= MaxMembers {
			full = true
			return old, false
		}
		order = len(old)
		next := make([]Identity, len(old), len(old)+1)
		copy(next, old)
		return append(next, id.WithOrder(group, order)), false
	})
	if full {
		return -1, members, ErrGroupFull
	}
	return order, members, nil
}

// Members returns the members of group in join order.
func (r *Roster) Members(group string) []Identity {
	members, _ := r.groups.Load(group)
	return members
}

// Order returns the join order of name in group.
func (r *Roster) Order(group, name string) (int, bool) {
	for i, m := range r.Members(group) {
		if m.Name == name {
			return i, true
		}
	}
	return -1, false
}

// All returns every known identity once, sorted by name.
func (r *Roster) All() []Identity {
	seen := make(map[string]Identity)
	r.groups.Range(func(_ string, members []Identity) bool {
		for _, m := range members {
			seen[m.Name] = m
		}
		return true
	})
	out := make([]Identity, 0, len(seen))
	for _, id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
