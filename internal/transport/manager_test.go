package transport_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rpggio/tasksync/internal/domain/task"
	"github.com/rpggio/tasksync/internal/metrics"
	"github.com/rpggio/tasksync/internal/protocol"
	"github.com/rpggio/tasksync/internal/transport"
	"github.com/rpggio/tasksync/internal/transport/transporttest"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type recorder struct {
	mu          sync.Mutex
	connects    int
	disconnects []error
	errs        []error
	messages    []protocol.Envelope
	terminal    []error
}

func (r *recorder) handlers() transport.Handlers {
	return transport.Handlers{
		OnConnect: func() {
			r.mu.Lock()
			r.connects++
			r.mu.Unlock()
		},
		OnDisconnect: func(err error) {
			r.mu.Lock()
			r.disconnects = append(r.disconnects, err)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
		OnMessage: func(env protocol.Envelope) {
			r.mu.Lock()
			r.messages = append(r.messages, env)
			r.mu.Unlock()
		},
		OnTerminal: func(err error) {
			r.mu.Lock()
			r.terminal = append(r.terminal, err)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) snapshot() recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorder{
		connects:    r.connects,
		disconnects: append([]error(nil), r.disconnects...),
		errs:        append([]error(nil), r.errs...),
		messages:    append([]protocol.Envelope(nil), r.messages...),
		terminal:    append([]error(nil), r.terminal...),
	}
}

func newManager(t *testing.T, dialer transport.Dialer, rec *recorder, mutate func(*transport.Options)) *transport.ConnectionManager {
	t.Helper()
	opts := transport.Options{
		URL:               "ws://collab.test/sync",
		ActorID:           "alice",
		ReconnectInterval: 10 * time.Millisecond,
		ReconnectAttempts: 3,
		Dialer:            dialer,
	}
	if mutate != nil {
		mutate(&opts)
	}
	m := transport.NewConnectionManager(opts, rec.handlers())
	t.Cleanup(m.Close)
	return m
}

func TestConnectionManager_ConnectSendReceive(t *testing.T) {
	dialer := transporttest.NewDialer()
	rec := &recorder{}
	m := newManager(t, dialer, rec, nil)

	m.Connect()
	require.Eventually(t, m.IsConnected, waitFor, tick)
	m.Connect()
	require.Equal(t, 1, dialer.Dials(), "connect while connected is a no-op")

	env, err := protocol.New(protocol.KindTaskUpdate, "alice", map[string]any{"id": "T1"}, 1, nil)
	require.NoError(t, err)
	require.True(t, m.Send(context.Background(), env))
	sent := dialer.Last().Sent(false)
	require.Len(t, sent, 1)
	require.Equal(t, protocol.KindTaskUpdate, sent[0].Kind)

	incoming, err := protocol.New(protocol.KindMemberJoin, "server", protocol.MemberPayload{ActorID: "bob"}, 2, nil)
	require.NoError(t, err)
	dialer.Last().Deliver(incoming)
	require.Eventually(t, func() bool { return len(rec.snapshot().messages) == 1 }, waitFor, tick)

	status := m.Status()
	require.Equal(t, transport.StateConnected, status.State)
	require.Equal(t, 0, status.AttemptCount)
	require.Equal(t, 1, rec.snapshot().connects)
}

func TestConnectionManager_SendFailsFastWhenDisconnected(t *testing.T) {
	dialer := transporttest.NewDialer()
	m := newManager(t, dialer, &recorder{}, nil)

	require.False(t, m.Send(context.Background(), protocol.Heartbeat("alice", 1)))
	require.Equal(t, 0, dialer.Dials())
	require.Equal(t, transport.StateDisconnected, m.Status().State)
}

func TestConnectionManager_MalformedMessageIsDropped(t *testing.T) {
	dialer := transporttest.NewDialer()
	rec := &recorder{}
	m := newManager(t, dialer, rec, nil)

	m.Connect()
	require.Eventually(t, m.IsConnected, waitFor, tick)

	ch := dialer.Last()
	ch.DeliverRaw([]byte("{not json"))
	ch.DeliverRaw([]byte(`{"kind":"task_update","actorId":"bob","originTimestamp":1}`))
	ch.Deliver(protocol.Heartbeat("bob", 3))

	require.Eventually(t, func() bool { return len(rec.snapshot().messages) == 1 }, waitFor, tick)
	require.Equal(t, protocol.KindHeartbeat, rec.snapshot().messages[0].Kind)
	require.True(t, m.IsConnected())
	require.Equal(t, 1, dialer.Dials())
}

func TestConnectionManager_ReconnectsAfterRemoteClose(t *testing.T) {
	dialer := transporttest.NewDialer()
	rec := &recorder{}
	m := newManager(t, dialer, rec, nil)

	m.Connect()
	require.Eventually(t, m.IsConnected, waitFor, tick)

	dialer.Last().Close()
	require.Eventually(t, func() bool { return dialer.Dials() == 2 && m.IsConnected() }, waitFor, tick)

	snap := rec.snapshot()
	require.Len(t, snap.disconnects, 1)
	require.Equal(t, 2, snap.connects)
	require.Equal(t, 0, m.Status().AttemptCount)
}

func TestConnectionManager_ReconnectCapIsTerminal(t *testing.T) {
	dialer := transporttest.NewDialer()
	dialer.FailWith(errors.New("connection refused"))
	rec := &recorder{}
	m := newManager(t, dialer, rec, nil)

	m.Connect()
	require.Eventually(t, func() bool { return m.Status().Terminal }, waitFor, tick)

	status := m.Status()
	require.Equal(t, transport.StateDisconnected, status.State)
	require.Equal(t, 3, status.AttemptCount)
	require.ErrorIs(t, status.LastError, transport.ErrReconnectExhausted)
	require.Equal(t, 4, dialer.Dials(), "initial dial plus three reconnects")

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 4, dialer.Dials(), "no automatic retries after the cap")
	require.Len(t, rec.snapshot().terminal, 1)
	require.Len(t, rec.snapshot().errs, 4)

	dialer.FailWith(nil)
	m.Connect()
	require.Eventually(t, m.IsConnected, waitFor, tick)
	status = m.Status()
	require.Equal(t, 0, status.AttemptCount)
	require.False(t, status.Terminal)
	require.NoError(t, status.LastError)
}

func TestConnectionManager_ManualConnectResetsAttempts(t *testing.T) {
	dialer := transporttest.NewDialer()
	dialer.FailWith(errors.New("connection refused"))
	m := newManager(t, dialer, &recorder{}, func(o *transport.Options) {
		o.ReconnectInterval = time.Hour
	})

	m.Connect()
	require.Eventually(t, func() bool { return m.Status().AttemptCount == 1 }, waitFor, tick)

	dialer.FailWith(nil)
	m.Connect()
	require.Eventually(t, m.IsConnected, waitFor, tick)
	require.Equal(t, 0, m.Status().AttemptCount)
	require.Equal(t, 2, dialer.Dials())
}

func TestConnectionManager_DisconnectCancelsReconnect(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dialer := transporttest.NewDialer()
	dialer.FailWith(errors.New("connection refused"))
	m := transport.NewConnectionManager(transport.Options{
		URL:               "ws://collab.test/sync",
		ReconnectInterval: 40 * time.Millisecond,
		ReconnectAttempts: 5,
		Dialer:            dialer,
	}, transport.Handlers{})

	m.Connect()
	require.Eventually(t, func() bool { return m.Status().AttemptCount == 1 }, waitFor, tick)

	m.Disconnect()
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, dialer.Dials())
	require.False(t, m.Status().Terminal)
	m.Close()
}

func TestConnectionManager_DisconnectStopsHeartbeat(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dialer := transporttest.NewDialer()
	rec := &recorder{}
	m := transport.NewConnectionManager(transport.Options{
		URL:               "ws://collab.test/sync",
		ActorID:           "alice",
		HeartbeatInterval: 10 * time.Millisecond,
		Dialer:            dialer,
	}, rec.handlers())

	m.Connect()
	require.Eventually(t, func() bool {
		ch := dialer.Last()
		return ch != nil && len(ch.Sent(true)) >= 2
	}, waitFor, tick)

	ch := dialer.Last()
	for _, env := range ch.Sent(true) {
		require.Equal(t, protocol.KindHeartbeat, env.Kind)
		require.Equal(t, "alice", env.ActorID)
	}

	m.Disconnect()
	m.Disconnect()
	require.True(t, ch.Closed())
	count := len(ch.Sent(true))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, count, len(ch.Sent(true)))
	require.Equal(t, 1, dialer.Dials())

	snap := rec.snapshot()
	require.Len(t, snap.disconnects, 1)
	require.NoError(t, snap.disconnects[0])
	m.Close()
}

func TestConnectionManager_WriteFailureTriggersReconnect(t *testing.T) {
	dialer := transporttest.NewDialer()
	rec := &recorder{}
	m := newManager(t, dialer, rec, nil)

	m.Connect()
	require.Eventually(t, m.IsConnected, waitFor, tick)

	first := dialer.Last()
	first.FailWrites(errors.New("broken pipe"))
	require.False(t, m.Send(context.Background(), protocol.Heartbeat("alice", 1)))

	require.Eventually(t, func() bool { return dialer.Dials() == 2 && m.IsConnected() }, waitFor, tick)
	require.True(t, first.Closed())
	require.NotEmpty(t, rec.snapshot().errs)
}

func TestConnectionManager_WebSocketRoundTrip(t *testing.T) {
	received := make(chan protocol.Envelope, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		var env protocol.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return
		}
		received <- env

		reply, _ := protocol.New(protocol.KindMemberJoin, "server", protocol.MemberPayload{ActorID: "bob"}, 7, nil)
		_ = wsjson.Write(ctx, conn, reply)
		_, _, _ = conn.Read(ctx)
	}))
	defer server.Close()

	rec := &recorder{}
	m := transport.NewConnectionManager(transport.Options{
		URL:     server.URL,
		ActorID: "alice",
	}, rec.handlers())
	defer m.Close()

	m.Connect()
	require.Eventually(t, m.IsConnected, waitFor, tick)

	env, err := protocol.New(protocol.KindTaskDelete, "alice", protocol.DeletePayload{TaskID: "T1"}, 5, nil)
	require.NoError(t, err)
	require.True(t, m.Send(context.Background(), env))

	select {
	case got := <-received:
		require.Equal(t, protocol.KindTaskDelete, got.Kind)
		id, err := got.TaskID()
		require.NoError(t, err)
		require.Equal(t, "T1", id)
	case <-time.After(waitFor):
		t.Fatal("server did not receive envelope")
	}

	require.Eventually(t, func() bool { return len(rec.snapshot().messages) == 1 }, waitFor, tick)
	member, err := rec.snapshot().messages[0].Member()
	require.NoError(t, err)
	require.Equal(t, "bob", member.ActorID)
}

// serveUpdates accepts one websocket client, writes each envelope in order
// and then holds the connection open until the client goes away.
func serveUpdates(t *testing.T, envs ...protocol.Envelope) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		for _, env := range envs {
			if err := wsjson.Write(ctx, conn, env); err != nil {
				return
			}
		}
		_, _, _ = conn.Read(ctx)
	}))
	t.Cleanup(server.Close)
	return server
}

func taskUpdate(t *testing.T, id string, descriptionSize int) protocol.Envelope {
	t.Helper()
	env, err := protocol.New(protocol.KindTaskUpdate, "bob", task.Snapshot{
		ID:          id,
		Title:       id,
		Description: strings.Repeat("x", descriptionSize),
		ModifiedAt:  1000,
		ModifiedBy:  "bob",
	}, 1000, nil)
	require.NoError(t, err)
	return env
}

func TestConnectionManager_LargeMessageWithinDefaultLimit(t *testing.T) {
	server := serveUpdates(t, taskUpdate(t, "T1", 40000), taskUpdate(t, "T2", 10))

	rec := &recorder{}
	m := transport.NewConnectionManager(transport.Options{
		URL:               server.URL,
		ActorID:           "alice",
		HeartbeatInterval: -1,
	}, rec.handlers())
	defer m.Close()

	m.Connect()
	require.Eventually(t, func() bool { return len(rec.snapshot().messages) == 2 }, waitFor, tick)

	got := rec.snapshot()
	first, err := got.messages[0].Task()
	require.NoError(t, err)
	require.Equal(t, "T1", first.ID)
	require.Len(t, first.Description, 40000)
	require.Equal(t, 1, got.connects)
	require.Empty(t, got.disconnects)
	require.True(t, m.IsConnected())
}

func TestConnectionManager_OversizedMessageIsDropped(t *testing.T) {
	server := serveUpdates(t, taskUpdate(t, "T1", 40000), taskUpdate(t, "T2", 10))

	rec := &recorder{}
	m := transport.NewConnectionManager(transport.Options{
		URL:               server.URL,
		ActorID:           "alice",
		HeartbeatInterval: -1,
		MaxMessageSize:    16 << 10,
	}, rec.handlers())
	defer m.Close()

	m.Connect()
	require.Eventually(t, func() bool { return len(rec.snapshot().messages) == 1 }, waitFor, tick)

	got := rec.snapshot()
	snap, err := got.messages[0].Task()
	require.NoError(t, err)
	require.Equal(t, "T2", snap.ID)
	require.Equal(t, 1, got.connects)
	require.Empty(t, got.disconnects)
	require.Equal(t, transport.StateConnected, m.Status().State)
	require.Zero(t, m.Status().AttemptCount)
}

func TestConnectionManager_UnknownKindsShareOneMetricLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	met := metrics.New(reg)
	dialer := transporttest.NewDialer()
	rec := &recorder{}
	m := newManager(t, dialer, rec, func(o *transport.Options) { o.Metrics = met })

	m.Connect()
	require.Eventually(t, m.IsConnected, waitFor, tick)

	ch := dialer.Last()
	ch.DeliverRaw([]byte(`{"kind":"cursor_move","actorId":"bob","originTimestamp":1}`))
	ch.DeliverRaw([]byte(`{"kind":"typing","actorId":"bob","originTimestamp":2}`))
	ch.Deliver(protocol.Heartbeat("bob", 3))

	require.Eventually(t, func() bool { return len(rec.snapshot().messages) == 3 }, waitFor, tick)
	require.Equal(t, 2.0, testutil.ToFloat64(met.EnvelopesReceived.WithLabelValues("unknown")))
	require.Equal(t, 1.0, testutil.ToFloat64(met.EnvelopesReceived.WithLabelValues("heartbeat")))
	require.Equal(t, 0.0, testutil.ToFloat64(met.EnvelopesReceived.WithLabelValues("cursor_move")))
}
