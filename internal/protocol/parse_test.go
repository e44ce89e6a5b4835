package protocol_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/rpggio/tasksync/internal/domain/task"
	"github.com/rpggio/tasksync/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestParse_TaskUpdate(t *testing.T) {
	raw := []byte(`{
		"kind": "task_update",
		"actorId": "bob",
		"originTimestamp": 1700000000000,
		"scope": {"teamId": "team1", "projectId": "p1"},
		"payload": {"id": "T1", "title": "Ship it", "progress": 40, "modifiedAt": 1700000000000}
	}`)

	env, err := protocol.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, protocol.KindTaskUpdate, env.Kind)
	require.Equal(t, "bob", env.ActorID)
	require.Equal(t, "p1", env.Scope.ProjectID)

	snap, err := env.Task()
	require.NoError(t, err)
	require.Equal(t, "T1", snap.ID)
	require.Equal(t, 40, snap.Progress)
	require.Equal(t, int64(1700000000000), snap.ModifiedAt)
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"not json":          `{"kind":`,
		"missing kind":      `{"actorId":"a","originTimestamp":1}`,
		"empty actor":       `{"kind":"heartbeat","actorId":"","originTimestamp":1}`,
		"timestamp string":  `{"kind":"heartbeat","actorId":"a","originTimestamp":"now"}`,
		"update no payload": `{"kind":"task_update","actorId":"a","originTimestamp":1}`,
		"update no id":      `{"kind":"task_update","actorId":"a","originTimestamp":1,"payload":{"title":"x"}}`,
		"delete no task id": `{"kind":"task_delete","actorId":"a","originTimestamp":1,"payload":{}}`,
		"join no actor":     `{"kind":"member_join","actorId":"a","originTimestamp":1,"payload":{"displayName":"x"}}`,
		"array":             `[1,2,3]`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := protocol.Parse([]byte(raw))
			require.Error(t, err)
			var perr *protocol.ParseError
			require.True(t, errors.As(err, &perr), "expected ParseError, got %T", err)
		})
	}
}

func TestParse_UnknownKindTolerated(t *testing.T) {
	env, err := protocol.Parse([]byte(`{"kind":"cursor_move","actorId":"a","originTimestamp":5,"payload":{"x":1}}`))
	require.NoError(t, err)
	require.Equal(t, protocol.Kind("cursor_move"), env.Kind)
	require.False(t, env.Kind.Known())
}

func TestNew_RoundTripsThroughParse(t *testing.T) {
	env, err := protocol.New(protocol.KindTaskDelete, "alice", protocol.DeletePayload{TaskID: "T9"}, 42, nil)
	require.NoError(t, err)

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	parsed, err := protocol.Parse(raw)
	require.NoError(t, err)
	id, err := parsed.TaskID()
	require.NoError(t, err)
	require.Equal(t, "T9", id)
	require.Nil(t, parsed.Scope)
}

func TestEnvelope_MemberAndConflictPayloads(t *testing.T) {
	env, err := protocol.New(protocol.KindMemberJoin, "srv", protocol.MemberPayload{ActorID: "carol"}, 1, nil)
	require.NoError(t, err)
	member, err := env.Member()
	require.NoError(t, err)
	require.Equal(t, "carol", member.ActorID)

	remote := task.Snapshot{ID: "T2", Progress: 70}
	env, err = protocol.New(protocol.KindConflictDetected, "srv", protocol.ConflictPayload{
		ResourceID:    "T2",
		RemoteVersion: &remote,
	}, 1, nil)
	require.NoError(t, err)
	notice, err := env.Conflict()
	require.NoError(t, err)
	require.Equal(t, 70, notice.RemoteVersion.Progress)
}

func TestHeartbeat_ParsesWithoutPayload(t *testing.T) {
	raw, err := json.Marshal(protocol.Heartbeat("alice", 99))
	require.NoError(t, err)

	env, err := protocol.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, protocol.KindHeartbeat, env.Kind)

	_, err = env.Task()
	require.Error(t, err)
}
