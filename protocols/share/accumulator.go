package share

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrProtocolDesync is returned when a phase receives a second contribution of
// a kind it already holds.
var ErrProtocolDesync = errors.New("share: protocol desync")

// Pipeline separates key generation from key recovery.
type Pipeline uint8

const (
	Generate Pipeline = iota
	Recover
)

func (p Pipeline) String() string {
	switch p {
	case Generate:
		return "generate"
	case Recover:
		return "recover"
	}
	return fmt.Sprintf("pipeline(%d)", uint8(p))
}

// Kind tells the accumulator which half of the exchange a contribution is.
type Kind uint8

const (
	DiffSum Kind = iota
	MaskSum
)

func (k Kind) String() string {
	switch k {
	case DiffSum:
		return "diff-sum"
	case MaskSum:
		return "mask-sum"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// PhaseKey identifies one accumulation in flight.
type PhaseKey struct {
	Pipeline Pipeline
	Group    string
}

// PhaseState is the observable state of a phase.
type PhaseState uint8

const (
	Empty PhaseState = iota
	OneContribution
)

type phase struct {
	kind    Kind
	pair    Pair
	updated time.Time
}

type accumulatorConfig struct {
	idleTimeout time.Duration
	now         func() time.Time
	log         zerolog.Logger
}

// AccumulatorOption configures an Accumulator.
type AccumulatorOption func(*accumulatorConfig)

// WithIdleTimeout sets how long a half-filled phase survives EvictIdle.
func WithIdleTimeout(d time.Duration) AccumulatorOption {
	return func(c *accumulatorConfig) {
		c.idleTimeout = d
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) AccumulatorOption {
	return func(c *accumulatorConfig) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) AccumulatorOption {
	return func(c *accumulatorConfig) {
		c.log = log
	}
}

// Accumulator collects the two sums of every (pipeline, group) phase on the
// server. A phase goes Empty -> OneContribution -> Empty, returning the total
// on the second transition.
type Accumulator struct {
	cfg    accumulatorConfig
	mtx    sync.Mutex
	phases map[PhaseKey]*phase
}

// NewAccumulator returns an empty Accumulator. The default idle timeout is ten minutes.
func NewAccumulator(opts ...AccumulatorOption) *Accumulator {
	cfg := accumulatorConfig{
		idleTimeout: 10 * time.Minute,
		now:         time.Now,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Accumulator{
		cfg:    cfg,
		phases: make(map[PhaseKey]*phase),
	}
}

// Contribute records pair for the phase (pipeline, group). When this is the
// second contribution of the phase, it returns the component-wise total of both
// contributions and true, and the phase is reset.
//
// A contribution with the same kind as the one already held is rejected with
// ErrProtocolDesync and the held contribution is kept.
func (a *Accumulator) Contribute(pipeline Pipeline, group string, kind Kind, pair Pair) (Pair, bool, error) {
	key := PhaseKey{Pipeline: pipeline, Group: group}
	log := a.cfg.log.With().Str("group", group).Stringer("pipeline", pipeline).Stringer("kind", kind).Logger()

	a.mtx.Lock()
	defer a.mtx.Unlock()

	held, ok := a.phases[key]
	if !ok {
		a.phases[key] = &phase{kind: kind, pair: pair, updated: a.cfg.now()}
		log.Debug().Msg("first contribution")
		return Pair{}, false, nil
	}
	if held.kind == kind {
		log.Warn().Msg("duplicate contribution rejected")
		return Pair{}, false, fmt.Errorf("%w: %s %s already holds a %s", ErrProtocolDesync, pipeline, group, kind)
	}
	delete(a.phases, key)
	log.Debug().Msg("phase complete")
	return held.pair.Add(pair), true, nil
}

// State returns the state of the phase (pipeline, group).
func (a *Accumulator) State(pipeline Pipeline, group string) PhaseState {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	if _, ok := a.phases[PhaseKey{Pipeline: pipeline, Group: group}]; ok {
		return OneContribution
	}
	return Empty
}

// Open returns the number of half-filled phases.
func (a *Accumulator) Open() int {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return len(a.phases)
}

// EvictIdle drops every phase whose contribution is older than the idle timeout
// relative to now, and returns their keys.
func (a *Accumulator) EvictIdle(now time.Time) []PhaseKey {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	var evicted []PhaseKey
	for key, p := range a.phases {
		if now.Sub(p.updated) < a.cfg.idleTimeout {
			continue
		}
		delete(a.phases, key)
		evicted = append(evicted, key)
		a.cfg.log.Info().Str("group", key.Group).Stringer("pipeline", key.Pipeline).Msg("evicted idle phase")
	}
	return evicted
}
