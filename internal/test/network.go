// Package test provides an in-memory datagram network for end-to-end tests.
package test

import (
	"context"
	"sync"

	"github.com/taurusgroup/multi-party-rsa/pkg/transport"
)

const inboxSize = 64

// Network is an in-memory datagram network. Frames sent to an address nobody
// listens on are dropped, like UDP.
type Network struct {
	mtx       sync.Mutex
	endpoints map[string]*Endpoint
}

func NewNetwork() *Network {
	return &Network{endpoints: make(map[string]*Endpoint)}
}

// Listen registers addr and returns its endpoint. Listening twice on the same
// address replaces the previous endpoint, which is closed.
func (n *Network) Listen(addr string) *Endpoint {
	e := &Endpoint{
		network: n,
		addr:    addr,
		inbox:   make(chan transport.Packet, inboxSize),
		done:    make(chan struct{}),
	}
	n.mtx.Lock()
	old := n.endpoints[addr]
	n.endpoints[addr] = e
	n.mtx.Unlock()
	if old != nil {
		old.shutdown()
	}
	return e
}

func (n *Network) lookup(addr string) *Endpoint {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return n.endpoints[addr]
}

func (n *Network) remove(e *Endpoint) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if n.endpoints[e.addr] == e {
		delete(n.endpoints, e.addr)
	}
}

// Endpoint implements transport.Transport on a Network.
type Endpoint struct {
	network *Network
	addr    string
	inbox   chan transport.Packet
	done    chan struct{}
	once    sync.Once
}

var _ transport.Transport = (*Endpoint)(nil)

func (e *Endpoint) Send(ctx context.Context, addr string, frame []byte) error {
	if len(frame) > transport.MaxFrameSize {
		return transport.ErrFrameTooLarge
	}
	select {
	case <-e.done:
		return transport.ErrClosed
	default:
	}
	dst := e.network.lookup(addr)
	if dst == nil {
		return nil
	}
	p := transport.Packet{From: e.addr, Frame: append([]byte(nil), frame...)}
	select {
	case dst.inbox <- p:
	case <-dst.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (e *Endpoint) Recv(ctx context.Context) (transport.Packet, error) {
	select {
	case p := <-e.inbox:
		return p, nil
	case <-e.done:
		return transport.Packet{}, transport.ErrClosed
	case <-ctx.Done():
		return transport.Packet{}, ctx.Err()
	}
}

func (e *Endpoint) LocalAddr() string {
	return e.addr
}

func (e *Endpoint) Close() error {
	e.network.remove(e)
	e.shutdown()
	return nil
}

func (e *Endpoint) shutdown() {
	e.once.Do(func() { close(e.done) })
}
