package server_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taurusgroup/multi-party-rsa/internal/test"
	"github.com/taurusgroup/multi-party-rsa/pkg/derive"
	"github.com/taurusgroup/multi-party-rsa/pkg/fragment"
	"github.com/taurusgroup/multi-party-rsa/pkg/party"
	"github.com/taurusgroup/multi-party-rsa/pkg/peer"
	"github.com/taurusgroup/multi-party-rsa/pkg/rsakey"
	"github.com/taurusgroup/multi-party-rsa/pkg/server"
	"github.com/taurusgroup/multi-party-rsa/pkg/wire"
	"github.com/taurusgroup/multi-party-rsa/protocols/share"
)

const (
	group   = "g"
	timeout = 30 * time.Second
	tick    = 10 * time.Millisecond
)

func run(t *testing.T, f func(context.Context) error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func startServer(t *testing.T, n *test.Network) *server.Server {
	srv, err := server.New(n.Listen("server"))
	require.NoError(t, err)
	run(t, srv.Run)
	return srv
}

func startPeer(t *testing.T, n *test.Network, name string) *peer.Peer {
	p, err := peer.New(name, "server", n.Listen(name))
	require.NoError(t, err)
	run(t, p.Run)
	return p
}

func waitFor(t *testing.T, p *peer.Peer, prefix string) string {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case text := <-p.Messages():
			if strings.HasPrefix(text, prefix) {
				return text
			}
		case <-deadline:
			t.Fatalf("%s: no message starting with %q", p.Name(), prefix)
		}
	}
}

func waitDecision(t *testing.T, p *peer.Peer) peer.PendingDecision {
	t.Helper()
	select {
	case d := <-p.Decisions():
		return d
	case <-time.After(timeout):
		t.Fatalf("%s: no decision", p.Name())
	}
	return peer.PendingDecision{}
}

// setupGroup connects alice and bob, joins them to group in that order and
// derives their secrets.
func setupGroup(t *testing.T) (*server.Server, *peer.Peer, *peer.Peer) {
	n := test.NewNetwork()
	srv := startServer(t, n)
	alice := startPeer(t, n, "alice")
	bob := startPeer(t, n, "bob")
	ctx := context.Background()

	for _, p := range []*peer.Peer{alice, bob} {
		p.Announce(ctx)
		require.Eventually(t, func() bool {
			_, ok := p.ServerKey()
			return ok
		}, timeout, tick)
	}

	alice.Join(ctx, group)
	require.Eventually(t, func() bool {
		_, ok := alice.Order(group)
		return ok
	}, timeout, tick)
	bob.Join(ctx, group)
	require.Eventually(t, func() bool {
		_, a := alice.Friend(group)
		_, b := bob.Friend(group)
		return a && b
	}, timeout, tick)

	_, err := alice.Derive("qqqqwwww", [3]uint32{3, 4, 5})
	require.NoError(t, err)
	_, err = bob.Derive("xxxxyyyy", [3]uint32{7, 8, 9})
	require.NoError(t, err)
	return srv, alice, bob
}

func generate(t *testing.T, alice, bob *peer.Peer) {
	ctx := context.Background()
	require.NoError(t, alice.Generate(ctx, group))
	d := waitDecision(t, bob)
	assert.Equal(t, share.Generate, d.Pipeline)
	assert.Equal(t, group, d.Group)
	require.NoError(t, bob.Resolve(ctx, d.ID, true, nil))
	waitFor(t, alice, server.NoticeGenerated)
	waitFor(t, bob, server.NoticeGenerated)
}

func expectedKey(t *testing.T) *rsakey.Key {
	e := derive.NewEngine()
	a, err := e.Derive("qqqqwwww", [3]uint32{3, 4, 5})
	require.NoError(t, err)
	b, err := e.Derive("xxxxyyyy", [3]uint32{7, 8, 9})
	require.NoError(t, err)
	sums := share.PairFromInt64(a.D1, a.D2).Add(share.PairFromInt64(b.D1, b.D2))
	key, err := rsakey.Generate(nil, sums[0], sums[1])
	require.NoError(t, err)
	return key
}

func TestJoinOrderAndFriends(t *testing.T) {
	_, alice, bob := setupGroup(t)

	order, _ := alice.Order(group)
	assert.Equal(t, 0, order)
	order, _ = bob.Order(group)
	assert.Equal(t, 1, order)

	f, _ := alice.Friend(group)
	assert.Equal(t, "bob", f.Name)
	assert.Equal(t, "bob", f.Addr)
	f, _ = bob.Friend(group)
	assert.Equal(t, "alice", f.Name)

	waitFor(t, alice, fmt.Sprintf(server.NoticeJoined, "bob", group, 1))
}

func TestGenerateSignAndVerify(t *testing.T) {
	srv, alice, bob := setupGroup(t)
	generate(t, alice, bob)
	want := expectedKey(t)

	n, err := srv.Store().Get(group, fragment.TypeN, nil)
	require.NoError(t, err)
	assert.Equal(t, want.NHex(), string(n))

	ctx := context.Background()
	require.NoError(t, alice.Get(ctx, group, false))
	assert.Equal(t, fmt.Sprintf(server.NoticePublicKey, group, want.NHex()), waitFor(t, alice, "group-"))
	require.NoError(t, bob.Get(ctx, group, true))
	assert.Equal(t, fmt.Sprintf(server.NoticePrivateShard, group, want.DChunks()[1]), waitFor(t, bob, "group-"))

	require.NoError(t, bob.Auth(ctx, group, "world"))
	require.NoError(t, alice.Auth(ctx, group, "hello "))
	require.Eventually(t, func() bool { return len(srv.Ledger().Entries()) == 1 }, timeout, tick)

	entry := srv.Ledger().Entries()[0]
	assert.Equal(t, "hello world", entry.Message)
	assert.Equal(t, want.Sign([]byte("hello world")).Text(16), entry.Signature)
	waitFor(t, alice, "Your "+group+" signed message is on the ledger")

	alice.Query(ctx)
	assert.Contains(t, waitFor(t, alice, "Data that is now on-chain"), "hello world")
}

func TestDeleteAndRecover(t *testing.T) {
	srv, alice, bob := setupGroup(t)
	generate(t, alice, bob)
	ctx := context.Background()

	alice.Delete(ctx)
	waitFor(t, alice, server.NoticeShardDeleted)
	waitFor(t, bob, server.NoticeShardDeleted)

	// A wrong root key on one side is rejected and storage is untouched.
	require.NoError(t, alice.Recover(ctx, group, "qqqqwwww", [3]uint32{3, 4, 5}))
	d := waitDecision(t, bob)
	assert.Equal(t, share.Recover, d.Pipeline)
	assert.ErrorIs(t, bob.Resolve(ctx, d.ID, true, nil), peer.ErrReentryRequired)
	require.NoError(t, bob.Resolve(ctx, d.ID, true, &peer.Reentry{Key: "xxxxyyyz", Positions: [3]uint32{7, 8, 9}}))
	waitFor(t, alice, server.NoticeRecoverFailed)

	require.NoError(t, alice.Recover(ctx, group, "qqqqwwww", [3]uint32{3, 4, 5}))
	d = waitDecision(t, bob)
	require.NoError(t, bob.Resolve(ctx, d.ID, true, &peer.Reentry{Key: "xxxxyyyy", Positions: [3]uint32{7, 8, 9}}))
	waitFor(t, alice, server.NoticeRecovered)

	// Every backend holds its shard again, so any other loss is survivable.
	listings, err := srv.Store().Snapshot()
	require.NoError(t, err)
	for _, l := range listings {
		assert.ElementsMatch(t, []fragment.Type{fragment.TypeN, fragment.TypeD0, fragment.TypeD1}, l.Groups[group])
	}
}

func TestDeclinedExchange(t *testing.T) {
	srv, alice, bob := setupGroup(t)
	ctx := context.Background()

	require.NoError(t, alice.Generate(ctx, group))
	d := waitDecision(t, bob)
	require.NoError(t, bob.Resolve(ctx, d.ID, false, nil))
	waitFor(t, alice, fmt.Sprintf(peer.NoticeDeclined, "bob", share.Generate, group))
	assert.ErrorIs(t, bob.Resolve(ctx, d.ID, true, nil), peer.ErrUnknownDecision)

	_, err := srv.Store().Get(group, fragment.TypeN, nil)
	assert.ErrorIs(t, err, fragment.ErrInsufficientShards)
}

func TestGenerateNeedsSecretAndFriend(t *testing.T) {
	n := test.NewNetwork()
	startServer(t, n)
	carol := startPeer(t, n, "carol")
	ctx := context.Background()

	assert.ErrorIs(t, carol.Generate(ctx, group), peer.ErrNoSecret)
	_, err := carol.Derive("abcdefgh", [3]uint32{1, 2, 3})
	require.NoError(t, err)
	assert.ErrorIs(t, carol.Generate(ctx, group), peer.ErrNoFriend)
	assert.ErrorIs(t, carol.Auth(ctx, group, "x"), peer.ErrNoServerKey)
	assert.ErrorIs(t, carol.Get(ctx, group, true), peer.ErrNotJoined)
}

func identity(name string) party.Identity {
	return party.Identity{Name: name, Addr: name}
}

// raw talks to the server with hand-written frames.
type raw struct {
	t  *testing.T
	ep *test.Endpoint
}

func (r raw) send(m wire.Message) {
	require.NoError(r.t, r.ep.Send(context.Background(), "server", []byte(wire.Encode(m))))
}

func (r raw) recv() wire.Message {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	p, err := r.ep.Recv(ctx)
	require.NoError(r.t, err)
	m, err := wire.Parse(string(p.Frame))
	require.NoError(r.t, err)
	return m
}

func TestGroupFullAndList(t *testing.T) {
	n := test.NewNetwork()
	startServer(t, n)
	var peers []raw
	for _, name := range []string{"a", "b", "c"} {
		peers = append(peers, raw{t: t, ep: n.Listen(name)})
	}

	peers[0].send(wire.List{Group: group, Identity: identity("a")})
	assert.Equal(t, wire.Msg{Text: server.NoticeEmptyGroup}, peers[0].recv())

	peers[0].send(wire.Join{Group: group, Identity: identity("a")})
	assert.Equal(t, wire.Order{Group: group, Order: 0}, peers[0].recv())
	peers[1].send(wire.Join{Group: group, Identity: identity("b")})
	assert.Equal(t, wire.Order{Group: group, Order: 1}, peers[1].recv())
	peers[2].send(wire.Join{Group: group, Identity: identity("c")})
	assert.Equal(t, wire.Msg{Text: server.NoticeFull}, peers[2].recv())

	peers[2].send(wire.List{Group: group, Identity: identity("c")})
	listing := peers[2].recv().(wire.Msg).Text
	assert.True(t, strings.HasPrefix(listing, server.NoticeListing))
	assert.Contains(t, listing, "- a a\n")
	// Trailing whitespace does not survive the frame.
	assert.True(t, strings.HasSuffix(listing, "- b b"))
}

func TestGetFailures(t *testing.T) {
	n := test.NewNetwork()
	startServer(t, n)
	r := raw{t: t, ep: n.Listen("x")}

	r.send(wire.Get{Name: "x", Group: group, Type: fragment.TypeN})
	assert.Equal(t, wire.Msg{Text: server.NoticePubFailed}, r.recv())
	r.send(wire.Get{Name: "x", Group: group, Type: fragment.TypeD0, Signature: "sig"})
	assert.Equal(t, wire.Msg{Text: server.NoticePrivFailed}, r.recv())
	r.send(wire.Auth{Name: "x", Blob: "blob"})
	assert.Equal(t, wire.Msg{Text: server.NoticeUnknownPeer}, r.recv())
}
