package peer

import (
	"crypto/rand"
	"io"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/rs/zerolog"
)

type config struct {
	log             zerolog.Logger
	key             *secp256k1.PrivateKey
	rand            io.Reader
	decisionTimeout time.Duration
	expiryInterval  time.Duration
	sendTimeout     time.Duration
}

func fillConfig(opts ...Option) config {
	cfg := config{
		log:             zerolog.Nop(),
		rand:            rand.Reader,
		decisionTimeout: 2 * time.Minute,
		expiryInterval:  time.Second,
		sendTimeout:     time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Option configures a Peer.
type Option func(*config)

func WithLogger(log zerolog.Logger) Option {
	return func(c *config) {
		c.log = log
	}
}

// WithKey sets the identity key. A fresh key is generated otherwise.
func WithKey(key *secp256k1.PrivateKey) Option {
	return func(c *config) {
		c.key = key
	}
}

// WithRand sets the source of the exchange masks.
func WithRand(r io.Reader) Option {
	return func(c *config) {
		c.rand = r
	}
}

// WithDecisionTimeout sets how long an unanswered exchange request waits
// before it is refused.
func WithDecisionTimeout(d time.Duration) Option {
	return func(c *config) {
		c.decisionTimeout = d
	}
}

// WithExpiryInterval sets how often expired decisions are swept.
func WithExpiryInterval(d time.Duration) Option {
	return func(c *config) {
		c.expiryInterval = d
	}
}

func WithSendTimeout(d time.Duration) Option {
	return func(c *config) {
		c.sendTimeout = d
	}
}
