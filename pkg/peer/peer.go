// Package peer is a group member: it derives its secret pair from a root key,
// runs the masking exchange with the other member of its group and talks to
// the server for key generation, recovery, fragment reads and signing.
package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/rs/zerolog"
	"github.com/taurusgroup/multi-party-rsa/pkg/derive"
	"github.com/taurusgroup/multi-party-rsa/pkg/ecc"
	"github.com/taurusgroup/multi-party-rsa/pkg/fragment"
	"github.com/taurusgroup/multi-party-rsa/pkg/party"
	"github.com/taurusgroup/multi-party-rsa/pkg/pool"
	"github.com/taurusgroup/multi-party-rsa/pkg/transport"
	"github.com/taurusgroup/multi-party-rsa/pkg/wire"
	"github.com/taurusgroup/multi-party-rsa/protocols/authorize"
	"github.com/taurusgroup/multi-party-rsa/protocols/share"
	"golang.org/x/sync/errgroup"
)

const (
	decisionQueue = 16
	messageQueue  = 64
)

// ServerName is the name the server announces in PUB frames.
const ServerName = "server"

var (
	ErrNoSecret    = errors.New("peer: derive a secret first")
	ErrNoFriend    = errors.New("peer: group has no second member yet")
	ErrNotJoined   = errors.New("peer: not a member of the group")
	ErrNoServerKey = errors.New("peer: server public key unknown")
	ErrNoExchange  = errors.New("peer: no exchange in progress")
	ErrUnexpected  = errors.New("peer: frame is not meant for a peer")
)

type exchangeKey struct {
	pipeline share.Pipeline
	group    string
}

// Peer is safe for concurrent use. Inbound frames are handled by Run.
type Peer struct {
	cfg    config
	name   string
	server string
	tr     transport.Transport
	key    *secp256k1.PrivateKey
	engine *derive.Engine
	rand   *pool.LockedReader
	log    zerolog.Logger

	mtx       sync.Mutex
	secret    *derive.Secret
	serverKey *secp256k1.PublicKey
	orders    map[string]int
	friends   map[string]party.Identity
	// shares holds the masks of each group membership, drawn once.
	shares    map[string]*share.Share
	exchanges map[exchangeKey]*share.Share
	pending   map[uint64]PendingDecision
	nextID    uint64

	decisions chan PendingDecision
	messages  chan string
}

// New returns a Peer called name that reaches the server at server through tr.
func New(name, server string, tr transport.Transport, opts ...Option) (*Peer, error) {
	if err := party.CheckName(name); err != nil {
		return nil, err
	}
	cfg := fillConfig(opts...)
	key := cfg.key
	if key == nil {
		var err error
		if key, err = ecc.GenerateKey(); err != nil {
			return nil, err
		}
	}
	return &Peer{
		cfg:       cfg,
		name:      name,
		server:    server,
		tr:        tr,
		key:       key,
		engine:    derive.NewEngine(),
		rand:      pool.NewLockedReader(cfg.rand),
		log:       cfg.log.With().Str("component", "peer").Str("peer", name).Logger(),
		orders:    make(map[string]int),
		friends:   make(map[string]party.Identity),
		shares:    make(map[string]*share.Share),
		exchanges: make(map[exchangeKey]*share.Share),
		pending:   make(map[uint64]PendingDecision),
		decisions: make(chan PendingDecision, decisionQueue),
		messages:  make(chan string, messageQueue),
	}, nil
}

func (p *Peer) Name() string {
	return p.name
}

// Identity is what the peer announces when joining.
func (p *Peer) Identity() party.Identity {
	return party.Identity{Name: p.name, Addr: p.tr.LocalAddr()}
}

func (p *Peer) PublicKey() *secp256k1.PublicKey {
	return p.key.PubKey()
}

// Messages delivers the text of MSG frames. Notices are dropped when nobody reads.
func (p *Peer) Messages() <-chan string {
	return p.messages
}

// Order returns the join order in group once the server confirmed it.
func (p *Peer) Order(group string) (int, bool) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	o, ok := p.orders[group]
	return o, ok
}

// Friend returns the other member of group.
func (p *Peer) Friend(group string) (party.Identity, bool) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	f, ok := p.friends[group]
	return f, ok
}

// ServerKey reports whether the server answered the announcement.
func (p *Peer) ServerKey() (*secp256k1.PublicKey, bool) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.serverKey, p.serverKey != nil
}

// Derive sets the secret pair used by subsequent exchanges.
func (p *Peer) Derive(key string, positions [3]uint32) (derive.Secret, error) {
	secret, err := p.engine.Derive(key, positions)
	if err != nil {
		return derive.Secret{}, err
	}
	p.mtx.Lock()
	p.secret = &secret
	p.mtx.Unlock()
	return secret, nil
}

// RecoverKey returns the root key that produced v in an earlier Derive.
func (p *Peer) RecoverKey(v int64) (string, error) {
	return p.engine.Recover(v)
}

func (p *Peer) currentSecret() (derive.Secret, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if p.secret == nil {
		return derive.Secret{}, ErrNoSecret
	}
	return *p.secret, nil
}

// exchangeShare returns the share of group holding secret. The masks of a
// group are drawn on first use and reused by every later exchange.
func (p *Peer) exchangeShare(group string, secret derive.Secret) *share.Share {
	p.mtx.Lock()
	sh, ok := p.shares[group]
	p.mtx.Unlock()
	if !ok {
		// Drawn outside the lock; p.rand serializes concurrent readers.
		fresh := share.NewShare(p.rand)
		p.mtx.Lock()
		if sh, ok = p.shares[group]; !ok {
			sh = fresh
			p.shares[group] = sh
		}
		p.mtx.Unlock()
	}

	cp := *sh
	cp.SetSecret(secret)
	return &cp
}

func (p *Peer) send(ctx context.Context, addr string, m wire.Message) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.sendTimeout)
	defer cancel()
	if err := p.tr.Send(ctx, addr, []byte(wire.Encode(m))); err != nil {
		p.log.Debug().Err(err).Str("to", addr).Str("kind", string(m.Kind())).Msg("send failed")
	}
}

// Announce registers the public key with the server.
func (p *Peer) Announce(ctx context.Context) {
	p.send(ctx, p.server, wire.Pub{Name: p.name, Key: ecc.EncodePublicKey(p.key.PubKey())})
}

func (p *Peer) Join(ctx context.Context, group string) {
	p.send(ctx, p.server, wire.Join{Group: group, Identity: p.Identity()})
}

func (p *Peer) List(ctx context.Context, group string) {
	p.send(ctx, p.server, wire.List{Group: group, Identity: p.Identity()})
}

func (p *Peer) Query(ctx context.Context) {
	p.send(ctx, p.server, wire.Query{})
}

func (p *Peer) Delete(ctx context.Context) {
	p.send(ctx, p.server, wire.Delete{})
}

// Generate starts the key generation exchange of group with the other member,
// using the secret from the last Derive.
func (p *Peer) Generate(ctx context.Context, group string) error {
	secret, err := p.currentSecret()
	if err != nil {
		return err
	}
	return p.start(ctx, share.Generate, group, secret)
}

// Recover derives the secret again from the root key and starts the recovery
// exchange of group.
func (p *Peer) Recover(ctx context.Context, group, key string, positions [3]uint32) error {
	secret, err := p.Derive(key, positions)
	if err != nil {
		return err
	}
	return p.start(ctx, share.Recover, group, secret)
}

func (p *Peer) start(ctx context.Context, pipeline share.Pipeline, group string, secret derive.Secret) error {
	friend, ok := p.Friend(group)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoFriend, group)
	}
	sh := p.exchangeShare(group, secret)

	p.mtx.Lock()
	p.exchanges[exchangeKey{pipeline: pipeline, group: group}] = sh
	p.mtx.Unlock()

	p.log.Info().Str("group", group).Stringer("pipeline", pipeline).Msg("exchange started")
	p.send(ctx, friend.Addr, wire.Diff{Pipeline: pipeline, Group: group, Pair: sh.Diffs()})
	return nil
}

// Get asks the server for the public modulus of group or, when private is set,
// for this peer's half of the private exponent.
func (p *Peer) Get(ctx context.Context, group string, private bool) error {
	if !private {
		p.send(ctx, p.server, wire.Get{Name: p.name, Group: group, Type: fragment.TypeN})
		return nil
	}
	order, ok := p.Order(group)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotJoined, group)
	}
	p.send(ctx, p.server, wire.Get{
		Name:      p.name,
		Group:     group,
		Type:      fragment.PrivateType(order),
		Signature: ecc.Sign(p.key, p.name+group),
	})
	return nil
}

// Auth authorizes the server to sign message together with the other
// member's message under the group key.
func (p *Peer) Auth(ctx context.Context, group, message string) error {
	serverKey, ok := p.ServerKey()
	if !ok {
		return ErrNoServerKey
	}
	if _, ok := p.Order(group); !ok {
		return fmt.Errorf("%w: %s", ErrNotJoined, group)
	}
	blob, err := authorize.Seal(serverKey, p.key, group, p.Identity(), message)
	if err != nil {
		return err
	}
	p.send(ctx, p.server, wire.Auth{Name: p.name, Blob: blob})
	return nil
}

func (p *Peer) handle(ctx context.Context, pkt transport.Packet) error {
	msg, err := wire.Parse(string(pkt.Frame))
	if err != nil {
		return err
	}
	switch m := msg.(type) {
	case wire.Pub:
		return p.handlePub(m)
	case wire.Msg:
		select {
		case p.messages <- m.Text:
		default:
			p.log.Warn().Str("text", m.Text).Msg("message queue full, notice dropped")
		}
	case wire.Order:
		p.mtx.Lock()
		p.orders[m.Group] = m.Order
		p.mtx.Unlock()
		p.log.Info().Str("group", m.Group).Int("order", m.Order).Msg("joined")
	case wire.Friend:
		p.mtx.Lock()
		p.friends[m.Group] = m.Identity
		p.mtx.Unlock()
		p.log.Info().Str("group", m.Group).Str("friend", m.Identity.Name).Msg("friend introduced")
	case wire.Diff:
		p.offer(pkt.From, m)
	case wire.Masks:
		return p.handleMasks(ctx, m)
	case wire.Join, wire.List, wire.Query, wire.Delete, wire.Sum, wire.Get, wire.Auth:
		return fmt.Errorf("%w: %s", ErrUnexpected, m.Kind())
	default:
		return fmt.Errorf("%w: %s", wire.ErrUnknownKind, m.Kind())
	}
	return nil
}

func (p *Peer) handlePub(m wire.Pub) error {
	if m.Name != ServerName {
		return fmt.Errorf("%w: PUB from %s", ErrUnexpected, m.Name)
	}
	key, err := ecc.ParsePublicKey(m.Key)
	if err != nil {
		return err
	}
	p.mtx.Lock()
	p.serverKey = key
	p.mtx.Unlock()
	p.log.Info().Msg("connected to server")
	return nil
}

// handleMasks completes an exchange this peer started: the other member's
// masks arrive and the mask sum goes to the server.
func (p *Peer) handleMasks(ctx context.Context, m wire.Masks) error {
	k := exchangeKey{pipeline: m.Pipeline, group: m.Group}
	p.mtx.Lock()
	sh, ok := p.exchanges[k]
	delete(p.exchanges, k)
	p.mtx.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrNoExchange, m.Pipeline, m.Group)
	}
	p.send(ctx, p.server, wire.Sum{Pipeline: m.Pipeline, Sum: share.MaskSum, Group: m.Group, Pair: sh.MaskSum(m.Pair)})
	p.log.Info().Str("group", m.Group).Stringer("pipeline", m.Pipeline).Msg("exchange completed")
	return nil
}

func (p *Peer) readLoop(ctx context.Context) error {
	for {
		pkt, err := p.tr.Recv(ctx)
		if err != nil {
			return err
		}
		if err := p.handle(ctx, pkt); err != nil {
			p.log.Info().Err(err).Str("from", pkt.From).Msg("frame dropped")
		}
	}
}

// Run handles inbound frames and expires unanswered decisions until ctx is
// done or the transport fails.
func (p *Peer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.readLoop(gctx) })
	g.Go(func() error { return p.expiryLoop(gctx) })
	return g.Wait()
}
