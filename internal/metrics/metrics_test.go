package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	m := New(prometheus.NewRegistry())

	assert.NotNil(t, m.ConnectionState)
	assert.NotNil(t, m.EnvelopesSent)
	assert.NotNil(t, m.QueueDepth)
	assert.NotNil(t, m.ConflictsDetected)
	assert.NotNil(t, m.OnlineUsers)
}

func TestNew_IndependentRegistries(t *testing.T) {
	require.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}

func TestRecorders(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetConnectionState(StateConnected)
	assert.Equal(t, float64(StateConnected), testutil.ToFloat64(m.ConnectionState))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ConnectsTotal))

	m.RecordSend("task_update", true)
	m.RecordSend("task_update", false)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EnvelopesSent.WithLabelValues("task_update", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EnvelopesSent.WithLabelValues("task_update", "failed")))

	m.RecordReceive("member_join")
	m.RecordParseError()
	m.RecordEchoIgnored()
	m.SetQueueDepth(3)
	m.RecordDeliveryFailure("update")
	m.ObserveDrain(20 * time.Millisecond)
	m.RecordConflictDetected("task_edit")
	m.RecordConflictResolved("remote")
	m.SetUnresolvedConflicts(2)
	m.SetOnlineUsers(4)
	m.RecordReconnectAttempt()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.EnvelopesReceived.WithLabelValues("member_join")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ParseErrors))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.QueueDepth))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DeliveryFailures.WithLabelValues("update")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ConflictsResolved.WithLabelValues("remote")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ConflictsUnresolved))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.OnlineUsers))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReconnectAttempts))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.SetConnectionState(StateConnecting)
		m.RecordSend("heartbeat", true)
		m.SetQueueDepth(1)
		m.RecordConflictResolved("local")
	})
}
