package peer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taurusgroup/multi-party-rsa/internal/test"
	"github.com/taurusgroup/multi-party-rsa/pkg/party"
	"github.com/taurusgroup/multi-party-rsa/pkg/transport"
	"github.com/taurusgroup/multi-party-rsa/pkg/wire"
	"github.com/taurusgroup/multi-party-rsa/protocols/share"
)

func recv(t *testing.T, ep *test.Endpoint) wire.Message {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := ep.Recv(ctx)
	require.NoError(t, err)
	m, err := wire.Parse(string(p.Frame))
	require.NoError(t, err)
	return m
}

func frame(from string, m wire.Message) transport.Packet {
	return transport.Packet{From: from, Frame: []byte(wire.Encode(m))}
}

func recvFrame(t *testing.T, p *Peer) transport.Packet {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pkt, err := p.tr.Recv(ctx)
	require.NoError(t, err)
	return pkt
}

func newPeer(t *testing.T, n *test.Network, name string, opts ...Option) *Peer {
	p, err := New(name, "server", n.Listen(name), opts...)
	require.NoError(t, err)
	return p
}

func TestDecisionExpires(t *testing.T) {
	n := test.NewNetwork()
	initiator := n.Listen("alice")
	bob := newPeer(t, n, "bob", WithDecisionTimeout(time.Minute))
	ctx := context.Background()

	bob.offer("alice", wire.Diff{Pipeline: share.Generate, Group: "g", Pair: share.PairFromInt64(1, 2)})
	d := <-bob.Decisions()
	assert.Equal(t, "alice", d.From)
	assert.Len(t, bob.Pending(), 1)

	assert.Equal(t, 0, bob.expire(ctx, time.Now()))
	assert.Equal(t, 1, bob.expire(ctx, time.Now().Add(2*time.Minute)))
	assert.Empty(t, bob.Pending())
	assert.Equal(t, wire.Msg{Text: fmt.Sprintf(NoticeDeclined, "bob", share.Generate, "g")}, recv(t, initiator))
	assert.ErrorIs(t, bob.Resolve(ctx, d.ID, true, nil), ErrUnknownDecision)
}

func TestExchangeSums(t *testing.T) {
	n := test.NewNetwork()
	srv := n.Listen("server")
	alice := newPeer(t, n, "alice")
	bob := newPeer(t, n, "bob")
	ctx := context.Background()

	a, err := alice.Derive("qqqqwwww", [3]uint32{3, 4, 5})
	require.NoError(t, err)
	b, err := bob.Derive("xxxxyyyy", [3]uint32{7, 8, 9})
	require.NoError(t, err)

	require.NoError(t, alice.handle(ctx, frame("server", wire.Friend{Group: "g", Identity: party.Identity{Name: "bob", Addr: "bob"}})))
	require.NoError(t, alice.Generate(ctx, "g"))

	// bob: DIFF from alice becomes a decision; accepting sends RS back and DSUM to the server.
	diff := recvFrame(t, bob)
	require.NoError(t, bob.handle(ctx, diff))
	d := <-bob.Decisions()
	require.NoError(t, bob.Resolve(ctx, d.ID, true, nil))
	dsum := recv(t, srv).(wire.Sum)
	assert.Equal(t, share.DiffSum, dsum.Sum)

	// alice: RS from bob gives the mask sum.
	require.NoError(t, alice.handle(ctx, recvFrame(t, alice)))
	msum := recv(t, srv).(wire.Sum)
	assert.Equal(t, share.MaskSum, msum.Sum)
	assert.Equal(t, share.Generate, msum.Pipeline)

	want := share.PairFromInt64(a.D1, a.D2).Add(share.PairFromInt64(b.D1, b.D2))
	assert.True(t, want.Equal(dsum.Pair.Add(msum.Pair)))

	// The exchange is consumed.
	assert.ErrorIs(t, alice.handleMasks(ctx, wire.Masks{Group: "g", Pair: msum.Pair}), ErrNoExchange)
}

func TestRejectsServerFrames(t *testing.T) {
	n := test.NewNetwork()
	p := newPeer(t, n, "alice")
	ctx := context.Background()
	assert.ErrorIs(t, p.handle(ctx, frame("x", wire.Query{})), ErrUnexpected)
	assert.ErrorIs(t, p.handle(ctx, frame("x", wire.Pub{Name: "mallory", Key: "k"})), ErrUnexpected)
	assert.Error(t, p.handle(ctx, transport.Packet{From: "x", Frame: []byte("NOPE@x")}))

	require.NoError(t, p.handle(ctx, frame("server", wire.Order{Group: "g", Order: 1})))
	o, ok := p.Order("g")
	assert.True(t, ok)
	assert.Equal(t, 1, o)

	require.NoError(t, p.handle(ctx, frame("server", wire.Msg{Text: "hi"})))
	assert.Equal(t, "hi", <-p.Messages())
}

func TestMasksHeldPerGroup(t *testing.T) {
	n := test.NewNetwork()
	alice := newPeer(t, n, "alice")
	bob := newPeer(t, n, "bob")
	ctx := context.Background()

	_, err := bob.Derive("xxxxyyyy", [3]uint32{7, 8, 9})
	require.NoError(t, err)
	for _, g := range []string{"g", "h"} {
		require.NoError(t, alice.handle(ctx, frame("server", wire.Friend{Group: g, Identity: party.Identity{Name: "bob", Addr: "bob"}})))
	}

	diffs := func() share.Pair {
		pkt := recvFrame(t, bob)
		m, err := wire.Parse(string(pkt.Frame))
		require.NoError(t, err)
		return m.(wire.Diff).Pair
	}

	_, err = alice.Derive("qqqqwwww", [3]uint32{3, 4, 5})
	require.NoError(t, err)
	require.NoError(t, alice.Generate(ctx, "g"))
	generated := diffs()
	require.NoError(t, alice.Recover(ctx, "g", "qqqqwwww", [3]uint32{3, 4, 5}))
	recovered := diffs()
	// Same secret and same masks give the same diffs.
	assert.True(t, generated.Equal(recovered))

	require.NoError(t, alice.Generate(ctx, "h"))
	assert.False(t, generated.Equal(diffs()))

	// The responder reuses its masks across both pipelines too.
	masks := func(pipeline share.Pipeline) share.Pair {
		bob.offer("alice", wire.Diff{Pipeline: pipeline, Group: "g", Pair: share.PairFromInt64(1, 2)})
		d := <-bob.Decisions()
		var reentry *Reentry
		if pipeline == share.Recover {
			reentry = &Reentry{Key: "xxxxyyyy", Positions: [3]uint32{7, 8, 9}}
		}
		require.NoError(t, bob.Resolve(ctx, d.ID, true, reentry))
		pkt := recvFrame(t, alice)
		m, err := wire.Parse(string(pkt.Frame))
		require.NoError(t, err)
		return m.(wire.Masks).Pair
	}
	assert.True(t, masks(share.Generate).Equal(masks(share.Recover)))
}
