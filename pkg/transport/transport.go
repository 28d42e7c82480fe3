// Package transport moves frames between the server and the peers.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// MaxFrameSize bounds a single datagram.
const MaxFrameSize = 4096

var (
	ErrClosed        = errors.New("transport: closed")
	ErrFrameTooLarge = errors.New("transport: frame too large")
)

// Packet is one received frame and the address it came from.
type Packet struct {
	From  string
	Frame []byte
}

// Transport sends and receives whole frames. Delivery is best effort.
type Transport interface {
	Send(ctx context.Context, addr string, frame []byte) error
	// Recv blocks until a frame arrives, ctx is done or the transport is closed.
	Recv(ctx context.Context) (Packet, error)
	LocalAddr() string
	Close() error
}

// UDP is a Transport over a single UDP socket.
type UDP struct {
	conn net.PacketConn
}

// ListenUDP binds addr, for instance "127.0.0.1:9000" or ":0".
func ListenUDP(addr string) (*UDP, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return &UDP{conn: conn}, nil
}

func (u *UDP) Send(ctx context.Context, addr string, frame []byte) error {
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frame))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("transport: resolve %s: %w", addr, err)
	}
	if _, err := u.conn.WriteTo(frame, raddr); err != nil {
		return u.wrap(err)
	}
	return nil
}

func (u *UDP) Recv(ctx context.Context) (Packet, error) {
	if err := u.conn.SetReadDeadline(time.Time{}); err != nil {
		return Packet{}, u.wrap(err)
	}
	// Unblock ReadFrom when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		_ = u.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, MaxFrameSize)
	n, from, err := u.conn.ReadFrom(buf)
	if err != nil {
		if ctx.Err() != nil {
			return Packet{}, ctx.Err()
		}
		return Packet{}, u.wrap(err)
	}
	return Packet{From: from.String(), Frame: buf[:n]}, nil
}

func (u *UDP) LocalAddr() string {
	return u.conn.LocalAddr().String()
}

func (u *UDP) Close() error {
	return u.conn.Close()
}

func (u *UDP) wrap(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("transport: %w", err)
}
