// Package transporttest provides in-memory channels for exercising the
// connection manager without a network.
package transporttest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/rpggio/tasksync/internal/protocol"
	"github.com/rpggio/tasksync/internal/transport"
)

// ErrClosed is returned by writes on a closed Channel.
var ErrClosed = errors.New("transporttest: channel closed")

// Dialer hands out Channels and can be told to fail.
type Dialer struct {
	mu       sync.Mutex
	failWith error
	writeErr error
	channels []*Channel
	dials    int
}

// NewDialer creates a dialer that succeeds until told otherwise.
func NewDialer() *Dialer {
	return &Dialer{}
}

// Dial returns a new Channel or the configured failure.
func (d *Dialer) Dial(ctx context.Context, _ string) (transport.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.failWith != nil {
		return nil, d.failWith
	}
	ch := NewChannel()
	ch.writeErr = d.writeErr
	d.channels = append(d.channels, ch)
	return ch, nil
}

// FailWith makes subsequent dials fail with err; nil restores success.
func (d *Dialer) FailWith(err error) {
	d.mu.Lock()
	d.failWith = err
	d.mu.Unlock()
}

// FailWrites makes every channel opened from now on fail its writes with
// err; nil restores working channels.
func (d *Dialer) FailWrites(err error) {
	d.mu.Lock()
	d.writeErr = err
	d.mu.Unlock()
}

// Dials returns how many dials were attempted.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Channels returns every channel opened so far, oldest first.
func (d *Dialer) Channels() []*Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Channel(nil), d.channels...)
}

// Last returns the most recently opened channel, or nil.
func (d *Dialer) Last() *Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.channels) == 0 {
		return nil
	}
	return d.channels[len(d.channels)-1]
}

var _ transport.Dialer = (*Dialer)(nil)

// Channel is an in-memory duplex channel.
type Channel struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	written  [][]byte
	writeErr error
}

// NewChannel creates an open channel.
func NewChannel() *Channel {
	return &Channel{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (c *Channel) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Channel) Write(_ context.Context, data []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *Channel) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Closed reports whether Close was called.
func (c *Channel) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// FailWrites makes subsequent writes fail with err.
func (c *Channel) FailWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

// DeliverRaw queues raw bytes for the reader.
func (c *Channel) DeliverRaw(data []byte) {
	c.inbound <- data
}

// Deliver queues env for the reader.
func (c *Channel) Deliver(env protocol.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		panic(err)
	}
	c.DeliverRaw(data)
}

// Sent returns the envelopes written so far, skipping heartbeats when
// withHeartbeats is false.
func (c *Channel) Sent(withHeartbeats bool) []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Envelope
	for _, data := range c.written {
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Kind == protocol.KindHeartbeat && !withHeartbeats {
			continue
		}
		out = append(out, env)
	}
	return out
}
