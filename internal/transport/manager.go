package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rpggio/tasksync/internal/metrics"
	"github.com/rpggio/tasksync/internal/protocol"
)

// State is the lifecycle state of the connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

const (
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultReconnectInterval    = 3 * time.Second
	DefaultMaxReconnectInterval = 30 * time.Second
	DefaultReconnectAttempts    = 5
	DefaultDialTimeout          = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultMaxMessageSize       = 1 << 20
)

// Status is a snapshot of the connection state.
type Status struct {
	State        State
	AttemptCount int
	LastError    error
	// Terminal is set once the reconnect budget is exhausted.
	Terminal bool
}

// Options configures a ConnectionManager.
type Options struct {
	URL               string
	ActorID           string
	HeartbeatInterval time.Duration
	ReconnectInterval time.Duration
	// ReconnectMultiplier above 1 grows the reconnect delay exponentially
	// up to MaxReconnectInterval. Otherwise the delay is constant.
	ReconnectMultiplier  float64
	MaxReconnectInterval time.Duration
	ReconnectAttempts    int
	DialTimeout          time.Duration
	WriteTimeout         time.Duration
	// MaxMessageSize caps a single inbound message for the default dialer.
	// Larger messages are dropped without closing the channel.
	MaxMessageSize int64
	Dialer         Dialer
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	Now            func() time.Time
}

// Handlers receive connection events. Any field may be nil. OnMessage is
// called from the single reader goroutine, in arrival order.
type Handlers struct {
	OnConnect    func()
	OnDisconnect func(err error)
	OnError      func(err error)
	OnMessage    func(env protocol.Envelope)
	OnTerminal   func(err error)
}

// ConnectionManager owns at most one Channel at a time and hides reconnection.
type ConnectionManager struct {
	opts     Options
	handlers Handlers
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	attempts int
	lastErr  error
	terminal bool
	stopped  bool
	// gen increases on every new attempt and on Disconnect; goroutines and
	// timers from an older generation ignore their results.
	gen    uint64
	ch     Channel
	cancel context.CancelFunc
	timer  *time.Timer
	policy backoff.BackOff
	wg     sync.WaitGroup
}

// NewConnectionManager creates a manager in the disconnected state.
func NewConnectionManager(opts Options, handlers Handlers) *ConnectionManager {
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = DefaultReconnectInterval
	}
	if opts.MaxReconnectInterval <= 0 {
		opts.MaxReconnectInterval = DefaultMaxReconnectInterval
	}
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = DefaultReconnectAttempts
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	if opts.Dialer == nil {
		opts.Dialer = WebSocketDialer{ReadLimit: opts.MaxMessageSize}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ConnectionManager{
		opts:     opts,
		handlers: handlers,
		logger:   logger.With("component", "transport"),
		state:    StateDisconnected,
		policy:   newReconnectPolicy(opts),
	}
}

func newReconnectPolicy(opts Options) backoff.BackOff {
	var base backoff.BackOff
	if opts.ReconnectMultiplier > 1 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = opts.ReconnectInterval
		exp.MaxInterval = opts.MaxReconnectInterval
		exp.Multiplier = opts.ReconnectMultiplier
		exp.MaxElapsedTime = 0
		exp.Reset()
		base = exp
	} else {
		base = backoff.NewConstantBackOff(opts.ReconnectInterval)
	}
	return backoff.WithMaxRetries(base, uint64(opts.ReconnectAttempts))
}

// Connect opens the channel in the background. It is a no-op while
// connecting or connected. Calling it re-arms a manager that gave up
// reconnecting and resets the attempt counter.
func (m *ConnectionManager) Connect() {
	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.stopped = false
	m.terminal = false
	m.attempts = 0
	m.policy.Reset()
	m.stopTimerLocked()
	ctx, g := m.beginLocked()
	m.wg.Add(1)
	m.mu.Unlock()

	m.opts.Metrics.SetConnectionState(metrics.StateConnecting)
	go func() {
		defer m.wg.Done()
		m.open(ctx, g)
	}()
}

// beginLocked starts a new connection attempt generation.
func (m *ConnectionManager) beginLocked() (context.Context, uint64) {
	if m.cancel != nil {
		m.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.state = StateConnecting
	m.gen++
	return ctx, m.gen
}

func (m *ConnectionManager) open(ctx context.Context, g uint64) {
	dialCtx, cancel := context.WithTimeout(ctx, m.opts.DialTimeout)
	ch, err := m.opts.Dialer.Dial(dialCtx, m.opts.URL)
	cancel()

	m.mu.Lock()
	if g != m.gen || m.stopped {
		m.mu.Unlock()
		if ch != nil {
			_ = ch.Close()
		}
		return
	}
	if err != nil {
		m.state = StateDisconnected
		m.lastErr = err
		attempt := m.attempts
		m.mu.Unlock()

		m.opts.Metrics.SetConnectionState(metrics.StateDisconnected)
		m.logger.Warn("connect failed", "url", m.opts.URL, "attempt", attempt, "error", err)
		m.emitError(err)
		m.scheduleReconnect(g, err)
		return
	}
	m.state = StateConnected
	m.ch = ch
	m.attempts = 0
	m.lastErr = nil
	m.terminal = false
	m.policy.Reset()
	m.wg.Add(2)
	m.mu.Unlock()

	m.opts.Metrics.SetConnectionState(metrics.StateConnected)
	m.logger.Info("connected", "url", m.opts.URL)

	go m.readLoop(ctx, g, ch)
	go m.heartbeatLoop(ctx)

	if m.handlers.OnConnect != nil {
		m.handlers.OnConnect()
	}
}

func (m *ConnectionManager) readLoop(ctx context.Context, g uint64, ch Channel) {
	defer m.wg.Done()
	for {
		data, err := ch.Read(ctx)
		if errors.Is(err, ErrMessageTooLarge) {
			m.opts.Metrics.RecordParseError()
			m.logger.Warn("dropping oversized message", "error", err)
			continue
		}
		if err != nil {
			m.handleClosed(g, err)
			return
		}
		env, err := protocol.Parse(data)
		if err != nil {
			m.opts.Metrics.RecordParseError()
			m.logger.Warn("dropping malformed message", "error", err)
			continue
		}
		m.opts.Metrics.RecordReceive(kindLabel(env.Kind))
		if m.handlers.OnMessage != nil {
			m.handlers.OnMessage(env)
		}
	}
}

func (m *ConnectionManager) heartbeatLoop(ctx context.Context) {
	defer m.wg.Done()
	if m.opts.HeartbeatInterval < 0 {
		return
	}
	ticker := time.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.Send(ctx, protocol.Heartbeat(m.opts.ActorID, m.opts.Now().UnixMilli())) {
				continue
			}
			m.ping(ctx)
		}
	}
}

// ping probes liveness on channels that support it; a failed probe is
// treated like a closed channel.
func (m *ConnectionManager) ping(ctx context.Context) {
	m.mu.Lock()
	ch, g := m.ch, m.gen
	m.mu.Unlock()
	pinger, ok := ch.(Pinger)
	if !ok {
		return
	}
	pingCtx, cancel := context.WithTimeout(ctx, m.opts.WriteTimeout)
	defer cancel()
	if err := pinger.Ping(pingCtx); err != nil && ctx.Err() == nil {
		m.logger.Warn("heartbeat ping failed", "error", err)
		m.emitError(err)
		m.handleClosed(g, err)
	}
}

// handleClosed tears down generation g after its channel closed or failed.
func (m *ConnectionManager) handleClosed(g uint64, cause error) {
	m.mu.Lock()
	if g != m.gen || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	ch := m.ch
	m.ch = nil
	m.state = StateDisconnected
	m.lastErr = cause
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.mu.Unlock()

	_ = ch.Close()
	m.opts.Metrics.SetConnectionState(metrics.StateDisconnected)
	m.logger.Info("disconnected", "error", cause)
	if !isNormalClosure(cause) {
		m.emitError(cause)
	}
	if m.handlers.OnDisconnect != nil {
		m.handlers.OnDisconnect(cause)
	}
	m.scheduleReconnect(g, cause)
}

func (m *ConnectionManager) scheduleReconnect(g uint64, cause error) {
	m.mu.Lock()
	if g != m.gen || m.stopped || m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	delay := m.policy.NextBackOff()
	if delay == backoff.Stop {
		m.terminal = true
		err := fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, m.attempts, cause)
		m.lastErr = err
		m.mu.Unlock()

		m.logger.Error("giving up reconnecting", "url", m.opts.URL, "error", err)
		if m.handlers.OnTerminal != nil {
			m.handlers.OnTerminal(err)
		}
		return
	}
	m.attempts++
	attempt := m.attempts
	m.wg.Add(1)
	m.timer = time.AfterFunc(delay, func() {
		defer m.wg.Done()
		m.reconnect(g)
	})
	m.mu.Unlock()

	m.opts.Metrics.RecordReconnectAttempt()
	m.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
}

func (m *ConnectionManager) reconnect(g uint64) {
	m.mu.Lock()
	if g != m.gen || m.stopped || m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	ctx, next := m.beginLocked()
	m.mu.Unlock()

	m.opts.Metrics.SetConnectionState(metrics.StateConnecting)
	m.open(ctx, next)
}

func (m *ConnectionManager) stopTimerLocked() {
	if m.timer == nil {
		return
	}
	if m.timer.Stop() {
		m.wg.Done()
	}
	m.timer = nil
}

// Send writes env if connected. It never blocks waiting for a connection
// and never queues: it returns false when the channel is not open or the
// write fails.
func (m *ConnectionManager) Send(ctx context.Context, env protocol.Envelope) bool {
	m.mu.Lock()
	if m.state != StateConnected || m.ch == nil {
		m.mu.Unlock()
		m.opts.Metrics.RecordSend(string(env.Kind), false)
		return false
	}
	ch, g := m.ch, m.gen
	m.mu.Unlock()

	data, err := json.Marshal(env)
	if err != nil {
		m.logger.Error("failed to encode envelope", "kind", env.Kind, "error", err)
		m.opts.Metrics.RecordSend(string(env.Kind), false)
		return false
	}

	writeCtx, cancel := context.WithTimeout(ctx, m.opts.WriteTimeout)
	err = ch.Write(writeCtx, data)
	cancel()
	if err != nil {
		m.opts.Metrics.RecordSend(string(env.Kind), false)
		if ctx.Err() != nil {
			return false
		}
		m.logger.Warn("write failed", "kind", env.Kind, "error", err)
		m.emitError(err)
		m.handleClosed(g, err)
		return false
	}
	m.opts.Metrics.RecordSend(string(env.Kind), true)
	return true
}

// Disconnect cancels any pending reconnect, stops the heartbeat and closes
// the channel. No reconnect is scheduled afterwards. It is idempotent.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	m.stopped = true
	m.gen++
	m.stopTimerLocked()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	ch := m.ch
	m.ch = nil
	prev := m.state
	m.state = StateDisconnected
	m.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	if prev == StateDisconnected {
		return
	}
	m.opts.Metrics.SetConnectionState(metrics.StateDisconnected)
	m.logger.Info("disconnected by request")
	if prev == StateConnected && m.handlers.OnDisconnect != nil {
		m.handlers.OnDisconnect(nil)
	}
}

// Close disconnects and waits for background goroutines to exit. It must
// not be called from a handler.
func (m *ConnectionManager) Close() {
	m.Disconnect()
	m.wg.Wait()
}

// Status returns the current connection state.
func (m *ConnectionManager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:        m.state,
		AttemptCount: m.attempts,
		LastError:    m.lastErr,
		Terminal:     m.terminal,
	}
}

// IsConnected reports whether the channel is open.
func (m *ConnectionManager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

func (m *ConnectionManager) emitError(err error) {
	if m.handlers.OnError != nil {
		m.handlers.OnError(err)
	}
}

// kindLabel keeps the metrics label set bounded when peers send kinds this
// client does not know.
func kindLabel(k protocol.Kind) string {
	if !k.Known() {
		return "unknown"
	}
	return string(k)
}
