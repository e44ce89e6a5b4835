package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/coder/websocket"
)

// Channel is one open duplex connection to the collaboration server.
// Read is only called from a single goroutine; Write and Close may be
// called concurrently with it. Read returns ErrMessageTooLarge for a
// message it skipped; any other error means the channel is gone.
type Channel interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Pinger is implemented by channels that support protocol-level liveness probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dialer opens channels.
type Dialer interface {
	Dial(ctx context.Context, url string) (Channel, error)
}

// WebSocketDialer opens channels over WebSocket.
type WebSocketDialer struct {
	HTTPHeader http.Header
	HTTPClient *http.Client
	// ReadLimit caps inbound message size in bytes. Zero means DefaultMaxMessageSize.
	ReadLimit int64
}

// Dial connects to url, accepting http(s) and ws(s) schemes.
func (d WebSocketDialer) Dial(ctx context.Context, url string) (Channel, error) {
	conn, _, err := websocket.Dial(ctx, websocketURL(url), &websocket.DialOptions{
		HTTPHeader: d.HTTPHeader,
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = DefaultMaxMessageSize
	}
	// The library closes the connection on an oversized frame, so the
	// limit is enforced per message in Read instead.
	conn.SetReadLimit(-1)
	return &wsChannel{conn: conn, limit: limit}, nil
}

func websocketURL(url string) string {
	switch {
	case strings.HasPrefix(url, "http://"):
		return "ws://" + strings.TrimPrefix(url, "http://")
	case strings.HasPrefix(url, "https://"):
		return "wss://" + strings.TrimPrefix(url, "https://")
	default:
		return url
	}
}

type wsChannel struct {
	conn  *websocket.Conn
	limit int64
}

func (c *wsChannel) Read(ctx context.Context) ([]byte, error) {
	_, r, err := c.conn.Reader(ctx)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(r, c.limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) <= c.limit {
		return data, nil
	}
	// Finish the frame so the next Reader call starts on a fresh message.
	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrMessageTooLarge, int64(len(data))+n, c.limit)
}

func (c *wsChannel) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsChannel) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *wsChannel) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// isNormalClosure reports whether err marks an orderly shutdown rather than a failure.
func isNormalClosure(err error) bool {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
