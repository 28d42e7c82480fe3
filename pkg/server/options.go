package server

import (
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/rs/zerolog"
	"github.com/taurusgroup/multi-party-rsa/pkg/fragment"
	"github.com/taurusgroup/multi-party-rsa/pkg/pool"
)

type config struct {
	log           zerolog.Logger
	key           *secp256k1.PrivateKey
	store         *fragment.Store
	pool          *pool.Pool
	promAddr      string
	idleTimeout   time.Duration
	evictInterval time.Duration
	sendTimeout   time.Duration
}

func fillConfig(opts ...Option) config {
	cfg := config{
		log:           zerolog.Nop(),
		idleTimeout:   10 * time.Minute,
		evictInterval: time.Minute,
		sendTimeout:   time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Option configures a Server.
type Option func(*config)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *config) {
		c.log = log
	}
}

// WithKey sets the server identity key. A fresh key is generated otherwise.
func WithKey(key *secp256k1.PrivateKey) Option {
	return func(c *config) {
		c.key = key
	}
}

// WithStore sets the fragment store. The default is three in-memory backends.
func WithStore(store *fragment.Store) Option {
	return func(c *config) {
		c.store = store
	}
}

// WithPool sets the worker pool used for prime search.
func WithPool(pl *pool.Pool) Option {
	return func(c *config) {
		c.pool = pl
	}
}

// WithPrometheus serves metrics on addr under /metrics.
func WithPrometheus(addr string) Option {
	return func(c *config) {
		c.promAddr = addr
	}
}

// WithIdleTimeout sets how long a half-filled key exchange is kept.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *config) {
		c.idleTimeout = d
	}
}

// WithEvictInterval sets how often idle exchanges are swept.
func WithEvictInterval(d time.Duration) Option {
	return func(c *config) {
		c.evictInterval = d
	}
}

// WithSendTimeout bounds a single outbound frame.
func WithSendTimeout(d time.Duration) Option {
	return func(c *config) {
		c.sendTimeout = d
	}
}
