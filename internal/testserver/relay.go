// Package testserver runs an in-process collaboration relay for tests.
package testserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rpggio/tasksync/internal/protocol"
	"github.com/rpggio/tasksync/internal/transport"
)

// ServerActorID is the actor id the relay uses for messages it originates.
const ServerActorID = "server"

// Relay is a minimal collaboration server: every message a client sends is
// forwarded to every other connected client, and membership changes are
// announced as member_join and member_leave.
type Relay struct {
	Server *httptest.Server

	mu       sync.Mutex
	peers    map[*peer]struct{}
	refuse   bool
	received []protocol.Envelope
}

type peer struct {
	conn    *websocket.Conn
	actorID string
}

// New starts a relay that is shut down when the test finishes.
func New(t testing.TB) *Relay {
	t.Helper()
	r := &Relay{peers: make(map[*peer]struct{})}
	r.Server = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(func() {
		r.DropAll()
		r.Server.Close()
	})
	return r
}

// URL returns the websocket endpoint a client identified as actorID dials.
func (r *Relay) URL(actorID string) string {
	u := "ws://" + strings.TrimPrefix(r.Server.URL, "http://") + "/sync"
	if actorID == "" {
		return u
	}
	return u + "?actor=" + url.QueryEscape(actorID)
}

// Refuse makes new upgrade requests fail with 503 while on is set.
func (r *Relay) Refuse(on bool) {
	r.mu.Lock()
	r.refuse = on
	r.mu.Unlock()
}

// DropAll closes every client connection abruptly.
func (r *Relay) DropAll() {
	r.mu.Lock()
	peers := make([]*peer, 0, len(r.peers))
	for p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.Unlock()
	for _, p := range peers {
		_ = p.conn.CloseNow()
	}
}

// Peers returns the number of connected clients.
func (r *Relay) Peers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Received returns every non-heartbeat envelope clients have sent, in
// arrival order.
func (r *Relay) Received() []protocol.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Envelope(nil), r.received...)
}

// Broadcast sends env to every connected client.
func (r *Relay) Broadcast(ctx context.Context, env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	r.forward(ctx, nil, data)
	return nil
}

func (r *Relay) serve(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	refuse := r.refuse
	r.mu.Unlock()
	if refuse {
		http.Error(w, "relay unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, req, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(transport.DefaultMaxMessageSize)
	p := &peer{conn: conn, actorID: req.URL.Query().Get("actor")}
	ctx := req.Context()

	r.mu.Lock()
	var present []string
	for other := range r.peers {
		if other.actorID != "" && other.actorID != p.actorID {
			present = append(present, other.actorID)
		}
	}
	r.peers[p] = struct{}{}
	r.mu.Unlock()

	for _, actor := range present {
		r.announceTo(ctx, p, protocol.KindMemberJoin, actor)
	}
	r.announce(ctx, p, protocol.KindMemberJoin)

	defer func() {
		r.mu.Lock()
		delete(r.peers, p)
		r.mu.Unlock()
		_ = conn.CloseNow()
		r.announce(context.WithoutCancel(ctx), p, protocol.KindMemberLeave)
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		env, err := protocol.Parse(data)
		if err != nil || env.Kind == protocol.KindHeartbeat {
			continue
		}
		r.mu.Lock()
		r.received = append(r.received, env)
		r.mu.Unlock()
		r.forward(ctx, p, data)
	}
}

// announce tells everyone except p that p joined or left.
func (r *Relay) announce(ctx context.Context, p *peer, kind protocol.Kind) {
	if p.actorID == "" {
		return
	}
	env, err := protocol.New(kind, ServerActorID, protocol.MemberPayload{ActorID: p.actorID}, time.Now().UnixMilli(), nil)
	if err != nil {
		return
	}
	data, _ := json.Marshal(env)
	r.forward(ctx, p, data)
}

func (r *Relay) announceTo(ctx context.Context, p *peer, kind protocol.Kind, actor string) {
	env, err := protocol.New(kind, ServerActorID, protocol.MemberPayload{ActorID: actor}, time.Now().UnixMilli(), nil)
	if err != nil {
		return
	}
	data, _ := json.Marshal(env)
	_ = write(ctx, p, data)
}

func (r *Relay) forward(ctx context.Context, from *peer, data []byte) {
	r.mu.Lock()
	targets := make([]*peer, 0, len(r.peers))
	for p := range r.peers {
		if p != from {
			targets = append(targets, p)
		}
	}
	r.mu.Unlock()
	for _, p := range targets {
		_ = write(ctx, p, data)
	}
}

func write(ctx context.Context, p *peer, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return p.conn.Write(ctx, websocket.MessageText, data)
}
