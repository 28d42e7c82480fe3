// Package server is the coordination service: it keeps the group rosters,
// combines the sums peers send into group RSA keys, stores the key fragments
// and runs signing authorizations against the ledger.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"github.com/taurusgroup/multi-party-rsa/pkg/ecc"
	"github.com/taurusgroup/multi-party-rsa/pkg/fragment"
	"github.com/taurusgroup/multi-party-rsa/pkg/ledger"
	"github.com/taurusgroup/multi-party-rsa/pkg/party"
	"github.com/taurusgroup/multi-party-rsa/pkg/transport"
	"github.com/taurusgroup/multi-party-rsa/pkg/wire"
	"github.com/taurusgroup/multi-party-rsa/protocols/authorize"
	"github.com/taurusgroup/multi-party-rsa/protocols/share"
	"golang.org/x/sync/errgroup"
)

// Name is what the server calls itself in PUB frames.
const Name = "server"

// queryPageSize keeps every QUERY reply frame within transport.MaxFrameSize.
const queryPageSize = transport.MaxFrameSize - len(wire.KindMsg) - len(wire.Separator)

// Notices sent to peers as MSG frames.
const (
	NoticeFull           = "This group of users is full"
	NoticeJoined         = "User %s successfully joined the group %s in the order:%d"
	NoticeEmptyGroup     = "This group does not have any logged-in users"
	NoticeListing        = "This group of online users includes:\n"
	NoticeShardDeleted   = "One of the databases is invalid"
	NoticePublicKey      = "group-%s: PubKey-%s"
	NoticePrivateShard   = "group-%s: PriKey sharding-%s"
	NoticePubFailed      = "Failed to fetch the public key"
	NoticePrivFailed     = "Failed to fetch the private key shard"
	NoticeGenerated      = "The group RSA key is successfully generated and saved to the storage"
	NoticeGenerateFailed = "The group RSA key generation failed"
	NoticeRecovered      = "The group RSA key is successfully recovered to the storage"
	NoticeRecoverFailed  = "The root key was entered incorrectly and the group RSA recovery failed"
	NoticeUnknownPeer    = "Unknown user, announce your public key first"
)

var (
	ErrUnexpected  = errors.New("server: frame is not meant for the server")
	ErrUnknownPeer = errors.New("server: no public key registered")
)

// Server is safe for concurrent use. Frames are handled one at a time by Run.
type Server struct {
	cfg     config
	tr      transport.Transport
	key     *secp256k1.PrivateKey
	roster  *party.Roster
	pubkeys *xsync.MapOf[string, *secp256k1.PublicKey]
	acc     *share.Accumulator
	store   *fragment.Store
	ledger  *ledger.Chain
	coord   *authorize.Coordinator
	stats   *stats
	log     zerolog.Logger
}

// New returns a Server receiving on tr. The caller keeps ownership of tr.
func New(tr transport.Transport, opts ...Option) (*Server, error) {
	cfg := fillConfig(opts...)
	log := cfg.log.With().Str("component", "server").Logger()

	key := cfg.key
	if key == nil {
		var err error
		if key, err = ecc.GenerateKey(); err != nil {
			return nil, err
		}
	}
	store := cfg.store
	if store == nil {
		store = fragment.NewMemStore(fragment.WithLogger(cfg.log))
	}

	s := &Server{
		cfg:     cfg,
		tr:      tr,
		key:     key,
		roster:  party.NewRoster(),
		pubkeys: xsync.NewMapOf[string, *secp256k1.PublicKey](),
		acc: share.NewAccumulator(
			share.WithIdleTimeout(cfg.idleTimeout),
			share.WithLogger(cfg.log),
		),
		store:  store,
		ledger: ledger.New(store, cfg.log),
		stats:  newStats(),
		log:    log,
	}
	s.coord = authorize.New(s.store, s.ledger, key, s.roster, s, authorize.WithLogger(cfg.log))
	return s, nil
}

// PublicKey is the key peers encrypt authorizations to.
func (s *Server) PublicKey() *secp256k1.PublicKey {
	return s.key.PubKey()
}

func (s *Server) Addr() string {
	return s.tr.LocalAddr()
}

func (s *Server) Store() *fragment.Store {
	return s.store
}

func (s *Server) Ledger() *ledger.Chain {
	return s.ledger
}

func (s *Server) Roster() *party.Roster {
	return s.roster
}

// Notify sends text to every member of group.
func (s *Server) Notify(group, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.sendTimeout)
	defer cancel()
	for _, m := range s.roster.Members(group) {
		s.send(ctx, m.Addr, wire.Msg{Text: text})
	}
}

func (s *Server) send(ctx context.Context, addr string, m wire.Message) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.sendTimeout)
	defer cancel()
	if err := s.tr.Send(ctx, addr, []byte(wire.Encode(m))); err != nil {
		s.log.Warn().Err(err).Str("to", addr).Str("kind", string(m.Kind())).Msg("send failed")
	}
}

func (s *Server) readLoop(ctx context.Context) error {
	for {
		pkt, err := s.tr.Recv(ctx)
		if err != nil {
			return err
		}
		if err := s.handle(ctx, pkt); err != nil {
			s.log.Info().Err(err).Msg("request dropped")
		}
	}
}

// handle parses and serves one frame. The returned error is always an Error.
func (s *Server) handle(ctx context.Context, pkt transport.Packet) error {
	msg, err := wire.Parse(string(pkt.Frame))
	if err != nil {
		s.stats.dropped.WithLabelValues("unparsed").Inc()
		return Error{From: pkt.From, Err: err}
	}
	kind := msg.Kind()
	s.stats.frames.WithLabelValues(string(kind)).Inc()

	switch m := msg.(type) {
	case wire.Pub:
		err = s.handlePub(ctx, pkt.From, m)
	case wire.Join:
		err = s.handleJoin(ctx, pkt.From, m)
	case wire.List:
		s.handleList(ctx, pkt.From, m)
	case wire.Query:
		for _, page := range s.ledger.Pages(queryPageSize) {
			s.send(ctx, pkt.From, wire.Msg{Text: page})
		}
	case wire.Delete:
		err = s.handleDelete(ctx)
	case wire.Sum:
		err = s.handleSum(m)
	case wire.Get:
		err = s.handleGet(ctx, pkt.From, m)
	case wire.Auth:
		err = s.handleAuth(ctx, pkt.From, m)
	case wire.Diff, wire.Masks, wire.Msg, wire.Order, wire.Friend:
		err = ErrUnexpected
	default:
		err = fmt.Errorf("%w: %s", wire.ErrUnknownKind, kind)
	}
	if err != nil {
		s.stats.dropped.WithLabelValues(string(kind)).Inc()
		return Error{Kind: kind, From: pkt.From, Err: err}
	}
	return nil
}

func (s *Server) handlePub(ctx context.Context, from string, m wire.Pub) error {
	pub, err := ecc.ParsePublicKey(m.Key)
	if err != nil {
		return err
	}
	s.pubkeys.Store(m.Name, pub)
	s.log.Info().Str("peer", m.Name).Str("addr", from).Msg("public key registered")
	s.send(ctx, from, wire.Pub{Name: Name, Key: ecc.EncodePublicKey(s.key.PubKey())})
	return nil
}

func (s *Server) handleJoin(ctx context.Context, from string, m wire.Join) error {
	id := m.Identity
	id.Addr = from
	order, members, err := s.roster.Join(m.Group, id)
	if errors.Is(err, party.ErrGroupFull) {
		s.send(ctx, from, wire.Msg{Text: NoticeFull})
		return nil
	}
	if err != nil {
		return err
	}
	joined := members[order]
	s.log.Info().Str("group", m.Group).Str("peer", id.Name).Int("order", order).Msg("peer joined")

	s.send(ctx, from, wire.Order{Group: m.Group, Order: order})
	for _, u := range members {
		s.send(ctx, u.Addr, wire.Msg{Text: fmt.Sprintf(NoticeJoined, id.Name, m.Group, order)})
	}
	for _, u := range members {
		if u.Name == id.Name {
			continue
		}
		s.send(ctx, from, wire.Friend{Group: m.Group, Identity: u})
		s.send(ctx, u.Addr, wire.Friend{Group: m.Group, Identity: joined})
	}
	return nil
}

func (s *Server) handleList(ctx context.Context, from string, m wire.List) {
	members := s.roster.Members(m.Group)
	if len(members) == 0 {
		s.send(ctx, from, wire.Msg{Text: NoticeEmptyGroup})
		return
	}
	text := NoticeListing
	for _, u := range members {
		text += "- " + u.String() + "\n"
	}
	s.send(ctx, from, wire.Msg{Text: text})
}

func (s *Server) handleDelete(ctx context.Context) error {
	i, err := s.store.DeleteOneShard()
	if err != nil {
		return err
	}
	s.stats.deletions.Inc()
	s.log.Warn().Int("shard", i).Msg("shard backend deleted on request")
	for _, u := range s.roster.All() {
		s.send(ctx, u.Addr, wire.Msg{Text: NoticeShardDeleted})
	}
	return nil
}

func (s *Server) handleGet(ctx context.Context, from string, m wire.Get) error {
	if !m.Type.IsPrivate() {
		n, err := s.store.Get(m.Group, fragment.TypeN, nil)
		if err != nil {
			s.send(ctx, from, wire.Msg{Text: NoticePubFailed})
			return err
		}
		s.send(ctx, from, wire.Msg{Text: fmt.Sprintf(NoticePublicKey, m.Group, n)})
		return nil
	}

	// A member only reads the half matching its own join order.
	var cred *fragment.Credential
	pub, known := s.pubkeys.Load(m.Name)
	order, member := s.roster.Order(m.Group, m.Name)
	if known && member && order == m.Type.Order() {
		cred = &fragment.Credential{Name: m.Name, Signature: m.Signature, PubKey: pub}
	}
	shard, err := s.store.Get(m.Group, m.Type, cred)
	if err != nil {
		s.send(ctx, from, wire.Msg{Text: NoticePrivFailed})
		return err
	}
	s.send(ctx, from, wire.Msg{Text: fmt.Sprintf(NoticePrivateShard, m.Group, shard)})
	return nil
}

func (s *Server) handleAuth(ctx context.Context, from string, m wire.Auth) error {
	pub, ok := s.pubkeys.Load(m.Name)
	if !ok {
		s.send(ctx, from, wire.Msg{Text: NoticeUnknownPeer})
		return fmt.Errorf("%w: %s", ErrUnknownPeer, m.Name)
	}
	exec, err := s.coord.Authorize(m.Blob, m.Name, pub)
	if err != nil {
		if errors.Is(err, authorize.ErrAuthFailed) {
			s.send(ctx, from, wire.Msg{Text: authorize.NoticeAuthFailed})
		}
		return err
	}
	if exec == nil {
		return nil
	}
	outcome := "rejected"
	switch {
	case exec.Err != nil:
		outcome = "failed"
	case exec.Accepted:
		outcome = "accepted"
	}
	s.stats.executions.WithLabelValues(outcome).Inc()
	s.stats.ledgerItems.Set(float64(len(s.ledger.Entries())))
	return exec.Err
}

// evictLoop drops half-filled exchanges after the idle timeout.
func (s *Server) evictLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.evictInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			evicted := s.acc.EvictIdle(now)
			s.stats.evictions.Add(float64(len(evicted)))
			s.stats.openPhases.Set(float64(s.acc.Open()))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runPrometheusListener serves the metrics endpoint on addr.
func (s *Server) runPrometheusListener(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	promHandler := promhttp.InstrumentMetricHandler(
		s.stats.reg, promhttp.HandlerFor(s.stats.reg, promhttp.HandlerOpts{}),
	)
	mux.Handle("/metrics", promHandler)
	hs := http.Server{
		Addr:              addr,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("exposing prometheus metrics")
	go func() {
		<-ctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = hs.Shutdown(ctx)
	}()
	if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

// Run serves frames until ctx is done or the transport fails.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	s.log.Info().Str("addr", s.tr.LocalAddr()).Msg("listening")
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.evictLoop(gctx) })
	if s.cfg.promAddr != "" {
		g.Go(func() error { return s.runPrometheusListener(gctx, s.cfg.promAddr) })
	}
	return g.Wait()
}
