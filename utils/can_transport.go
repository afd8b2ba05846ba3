package utils

import (
	"context"
	"net"
	"sync"

	"github.com/cockroachdb/errors"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

// ErrClosed is returned by a bus after Close.
var ErrClosed = errors.New("can bus closed")

// Bus sends and receives raw CAN frames. Implementations are safe for one
// receiving goroutine and any number of transmitting ones.
type Bus interface {
	// Receive blocks until a frame arrives or ctx is done.
	Receive(ctx context.Context) (can.Frame, error)
	Transmit(ctx context.Context, frame can.Frame) error
	Close() error
}

type rxResult struct {
	frame can.Frame
	err   error
}

// SocketCAN is a Bus on a Linux SocketCAN interface.
type SocketCAN struct {
	rxConn net.Conn
	txConn net.Conn
	tx     *socketcan.Transmitter

	frames    chan rxResult
	done      chan struct{}
	closeOnce sync.Once
}

// DialSocketCAN opens iface (e.g. "can0", "vcan0") for reading and writing.
func DialSocketCAN(ctx context.Context, iface string) (*SocketCAN, error) {
	rxConn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, errors.Wrapf(err, "socketcan dial %s", iface)
	}
	txConn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		_ = rxConn.Close()
		return nil, errors.Wrapf(err, "socketcan dial %s", iface)
	}

	b := &SocketCAN{
		rxConn: rxConn,
		txConn: txConn,
		tx:     socketcan.NewTransmitter(txConn),
		frames: make(chan rxResult, 64),
		done:   make(chan struct{}),
	}
	go b.receiveLoop(socketcan.NewReceiver(rxConn))

	return b, nil
}

// receiveLoop is the only reader of the socket; it stops when the socket is closed.
func (b *SocketCAN) receiveLoop(recv *socketcan.Receiver) {
	defer close(b.frames)

	for recv.Receive() {
		if recv.HasErrorFrame() {
			continue
		}
		if !b.deliver(rxResult{frame: recv.Frame()}) {
			return
		}
	}
	if err := recv.Err(); err != nil {
		b.deliver(rxResult{err: errors.Wrap(err, "socketcan receive")})
	}
}

func (b *SocketCAN) deliver(r rxResult) bool {
	select {
	case b.frames <- r:
		return true
	case <-b.done:
		return false
	}
}

func (b *SocketCAN) Receive(ctx context.Context) (can.Frame, error) {
	select {
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case r, ok := <-b.frames:
		if !ok {
			return can.Frame{}, ErrClosed
		}
		return r.frame, r.err
	}
}

func (b *SocketCAN) Transmit(ctx context.Context, frame can.Frame) error {
	if err := frame.Validate(); err != nil {
		return errors.Wrap(err, "invalid frame")
	}
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	return b.tx.TransmitFrame(ctx, frame)
}

func (b *SocketCAN) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		err = errors.CombineErrors(b.rxConn.Close(), b.txConn.Close())
	})
	return err
}
