// Package authorize collects signing authorizations from the members of a
// group and, once both members authorized, rebuilds the group's private key
// from its stored fragments, signs the members' messages and hands the
// signature to the ledger.
package authorize

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/rs/zerolog"
	"github.com/taurusgroup/multi-party-rsa/pkg/ecc"
	"github.com/taurusgroup/multi-party-rsa/pkg/fragment"
	"github.com/taurusgroup/multi-party-rsa/pkg/party"
	"github.com/taurusgroup/multi-party-rsa/pkg/rsakey"
)

// Quorum is the number of distinct members that must authorize.
const Quorum = party.MaxMembers

var (
	// ErrAuthFailed is fragment.ErrAuthFailed, so callers can match either.
	ErrAuthFailed = fragment.ErrAuthFailed
	ErrNotMember  = errors.New("authorize: requester is not a member of the group")
	ErrMalformed  = errors.New("authorize: malformed authorization")
)

// Notices sent to the members of a group.
const (
	NoticeAuthFailed   = "Not all group users passed the signature verification"
	NoticeInsufficient = "There is not enough data fragment to recover the data, please restore the key"
	NoticeAccepted     = "Your %s signed message is on the ledger"
	NoticeRejected     = "The signature of group %s failed ledger verification"
)

// FragmentReader reads fragments from the key store.
type FragmentReader interface {
	Get(group string, t fragment.Type, cred *fragment.Credential) ([]byte, error)
}

// Ledger accepts verified signatures.
type Ledger interface {
	VerifyAndAppend(group string, msg []byte, sig *big.Int) (bool, error)
}

// Members resolves join order within a group.
type Members interface {
	Order(group, name string) (int, bool)
}

// Notifier delivers a notice to every member of a group.
type Notifier interface {
	Notify(group, text string)
}

// PendingAuth is one verified authorization waiting for the quorum.
type PendingAuth struct {
	Name      string
	Order     int
	Signature string
	PubKey    *secp256k1.PublicKey
	Message   string
}

// Type is the private fragment this authorization unlocks.
func (p PendingAuth) Type() fragment.Type {
	return fragment.PrivateType(p.Order)
}

// Execution reports what happened when a quorum was reached.
type Execution struct {
	Group    string
	Accepted bool
	Err      error
}

// Coordinator is safe for concurrent use. Executions run under its lock.
type Coordinator struct {
	mtx      sync.Mutex
	pending  map[string]map[string]PendingAuth
	store    FragmentReader
	ledger   Ledger
	key      *secp256k1.PrivateKey
	members  Members
	notifier Notifier
	log      zerolog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.log = log
	}
}

// New returns a Coordinator. key decrypts authorization blobs.
func New(store FragmentReader, ledger Ledger, key *secp256k1.PrivateKey, members Members, notifier Notifier, opts ...Option) *Coordinator {
	c := &Coordinator{
		pending:  make(map[string]map[string]PendingAuth),
		store:    store,
		ledger:   ledger,
		key:      key,
		members:  members,
		notifier: notifier,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "authorize").Logger()
	return c
}

// Seal builds the blob Authorize expects: group@identity@signature@message
// encrypted to the server key.
func Seal(server *secp256k1.PublicKey, priv *secp256k1.PrivateKey, group string, id party.Identity, message string) (string, error) {
	plain := strings.Join([]string{group, id.JSON(), ecc.Sign(priv, id.Name+group), message}, "@")
	return ecc.Encrypt(server, []byte(plain))
}

// Authorize decrypts and verifies one authorization. When it completes the
// quorum of its group, the group is executed and reset, and the execution is
// returned; otherwise the result is nil.
//
// requester is the name the blob was submitted under and pub its registered
// key; the sealed identity must carry the same name. Repeated authorizations
// from the same member replace the earlier one.
func (c *Coordinator) Authorize(blob, requester string, pub *secp256k1.PublicKey) (*Execution, error) {
	plain, err := ecc.Decrypt(c.key, blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	f := strings.SplitN(string(plain), "@", 4)
	if len(f) != 4 {
		return nil, ErrMalformed
	}
	group, sig, msg := f[0], f[2], f[3]
	id, err := party.ParseIdentity(f[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	log := c.log.With().Str("group", group).Str("peer", id.Name).Logger()

	if id.Name != requester {
		log.Info().Str("requester", requester).Msg("authorization submitted under another name")
		return nil, ErrAuthFailed
	}
	if !ecc.Verify(pub, id.Name+group, sig) {
		log.Info().Msg("authorization signature rejected")
		return nil, ErrAuthFailed
	}
	order, ok := c.members.Order(group, id.Name)
	if !ok {
		return nil, ErrNotMember
	}
	log.Info().Int("order", order).Msg("authorization accepted")

	c.mtx.Lock()
	defer c.mtx.Unlock()

	auths, ok := c.pending[group]
	if !ok {
		auths = make(map[string]PendingAuth)
		c.pending[group] = auths
	}
	auths[id.Name] = PendingAuth{
		Name:      id.Name,
		Order:     order,
		Signature: sig,
		PubKey:    pub,
		Message:   msg,
	}
	if len(auths) < Quorum {
		return nil, nil
	}

	snapshot := make([]PendingAuth, 0, len(auths))
	for _, a := range auths {
		snapshot = append(snapshot, a)
	}
	delete(c.pending, group)

	accepted, err := c.execute(group, snapshot)
	return &Execution{Group: group, Accepted: accepted, Err: err}, nil
}

// Pending returns the number of distinct members that authorized group so far.
func (c *Coordinator) Pending(group string) int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return len(c.pending[group])
}

// Execute rebuilds the key of group from the fragments unlocked by pending,
// signs the concatenated messages and appends the signature to the ledger.
func (c *Coordinator) Execute(group string, pending []PendingAuth) (bool, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.execute(group, pending)
}

func (c *Coordinator) execute(group string, pending []PendingAuth) (bool, error) {
	log := c.log.With().Str("group", group).Logger()

	nHex, err := c.store.Get(group, fragment.TypeN, nil)
	if err != nil {
		c.notifyFetchFailure(group, err)
		return false, fmt.Errorf("authorize: public fragment: %w", err)
	}

	sorted := append([]PendingAuth(nil), pending...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	var d, msg strings.Builder
	for _, p := range sorted {
		chunk, err := c.store.Get(group, p.Type(), &fragment.Credential{
			Name:      p.Name,
			Signature: p.Signature,
			PubKey:    p.PubKey,
		})
		if err != nil {
			c.notifyFetchFailure(group, err)
			return false, fmt.Errorf("authorize: fragment %s: %w", p.Type(), err)
		}
		d.Write(chunk)
		msg.WriteString(p.Message)
	}

	key, err := rsakey.FromHex(string(nHex), d.String())
	if err != nil {
		c.notifier.Notify(group, fmt.Sprintf(NoticeRejected, group))
		return false, fmt.Errorf("authorize: %w", err)
	}
	sig := key.Sign([]byte(msg.String()))

	accepted, err := c.ledger.VerifyAndAppend(group, []byte(msg.String()), sig)
	if err != nil {
		c.notifier.Notify(group, fmt.Sprintf(NoticeRejected, group))
		return false, fmt.Errorf("authorize: ledger: %w", err)
	}
	if accepted {
		c.notifier.Notify(group, fmt.Sprintf(NoticeAccepted, group))
	} else {
		c.notifier.Notify(group, fmt.Sprintf(NoticeRejected, group))
	}
	log.Info().Bool("accepted", accepted).Msg("execution finished")
	return accepted, nil
}

func (c *Coordinator) notifyFetchFailure(group string, err error) {
	switch {
	case errors.Is(err, fragment.ErrInsufficientShards):
		c.notifier.Notify(group, NoticeInsufficient)
	case errors.Is(err, fragment.ErrAuthFailed):
		c.notifier.Notify(group, NoticeAuthFailed)
	}
}
