package peer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taurusgroup/multi-party-rsa/pkg/derive"
	"github.com/taurusgroup/multi-party-rsa/pkg/wire"
	"github.com/taurusgroup/multi-party-rsa/protocols/share"
)

// NoticeDeclined is sent to the initiator when an exchange is refused or expires.
const NoticeDeclined = "User %s declined the %s exchange of group %s"

var (
	ErrUnknownDecision = errors.New("peer: no such pending decision")
	ErrReentryRequired = errors.New("peer: recovery needs the root key and positions again")
)

// PendingDecision is an inbound exchange request waiting for the user.
type PendingDecision struct {
	ID       uint64
	Pipeline share.Pipeline
	Group    string
	// From is the address of the initiating peer.
	From    string
	Diffs   share.Pair
	Expires time.Time
}

// Reentry is the root key and rotor positions the user types again to take
// part in a recovery.
type Reentry struct {
	Key       string
	Positions [3]uint32
}

// Decisions delivers inbound exchange requests. Each must be answered with
// Resolve before it expires.
func (p *Peer) Decisions() <-chan PendingDecision {
	return p.decisions
}

// Pending returns the decisions not yet resolved.
func (p *Peer) Pending() []PendingDecision {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	out := make([]PendingDecision, 0, len(p.pending))
	for _, d := range p.pending {
		out = append(out, d)
	}
	return out
}

func (p *Peer) offer(from string, m wire.Diff) {
	p.mtx.Lock()
	p.nextID++
	d := PendingDecision{
		ID:       p.nextID,
		Pipeline: m.Pipeline,
		Group:    m.Group,
		From:     from,
		Diffs:    m.Pair,
		Expires:  time.Now().Add(p.cfg.decisionTimeout),
	}
	p.pending[d.ID] = d
	p.mtx.Unlock()

	p.log.Info().Uint64("id", d.ID).Str("group", d.Group).Stringer("pipeline", d.Pipeline).Msg("exchange requested")
	select {
	case p.decisions <- d:
	default:
		p.log.Warn().Uint64("id", d.ID).Msg("decision queue full, request kept pending")
	}
}

// Resolve answers a pending decision. Accepting a generation uses the secret
// from the last Derive; accepting a recovery requires reentry, from which the
// secret is derived again.
func (p *Peer) Resolve(ctx context.Context, id uint64, accept bool, reentry *Reentry) error {
	p.mtx.Lock()
	d, ok := p.pending[id]
	if !ok {
		p.mtx.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownDecision, id)
	}
	if accept && d.Pipeline == share.Recover && reentry == nil {
		p.mtx.Unlock()
		return ErrReentryRequired
	}
	delete(p.pending, id)
	p.mtx.Unlock()

	if !accept {
		p.decline(ctx, d)
		return nil
	}

	var (
		secret derive.Secret
		err    error
	)
	if reentry != nil {
		secret, err = p.Derive(reentry.Key, reentry.Positions)
	} else {
		secret, err = p.currentSecret()
	}
	if err != nil {
		p.decline(ctx, d)
		return err
	}

	sh := p.exchangeShare(d.Group, secret)
	p.send(ctx, d.From, wire.Masks{Pipeline: d.Pipeline, Group: d.Group, Pair: sh.Masks()})
	p.send(ctx, p.server, wire.Sum{Pipeline: d.Pipeline, Sum: share.DiffSum, Group: d.Group, Pair: sh.DiffSum(d.Diffs)})
	p.log.Info().Uint64("id", id).Str("group", d.Group).Msg("exchange accepted")
	return nil
}

func (p *Peer) decline(ctx context.Context, d PendingDecision) {
	p.log.Info().Uint64("id", d.ID).Str("group", d.Group).Msg("exchange declined")
	p.send(ctx, d.From, wire.Msg{Text: fmt.Sprintf(NoticeDeclined, p.name, d.Pipeline, d.Group)})
}

// expire declines every decision past its deadline.
func (p *Peer) expire(ctx context.Context, now time.Time) int {
	var expired []PendingDecision
	p.mtx.Lock()
	for id, d := range p.pending {
		if now.Before(d.Expires) {
			continue
		}
		delete(p.pending, id)
		expired = append(expired, d)
	}
	p.mtx.Unlock()

	for _, d := range expired {
		p.decline(ctx, d)
	}
	return len(expired)
}

func (p *Peer) expiryLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.expiryInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			p.expire(ctx, now)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
