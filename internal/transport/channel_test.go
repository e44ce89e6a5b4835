package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
)

func TestWebsocketURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:7070/sync":  "ws://localhost:7070/sync",
		"https://collab.example/sync": "wss://collab.example/sync",
		"ws://already/sync":           "ws://already/sync",
		"wss://secure/sync":           "wss://secure/sync",
	}
	for in, want := range cases {
		assert.Equal(t, want, websocketURL(in), in)
	}
}

func TestIsNormalClosure(t *testing.T) {
	assert.True(t, isNormalClosure(nil))
	assert.True(t, isNormalClosure(io.EOF))
	assert.True(t, isNormalClosure(fmt.Errorf("read: %w", context.Canceled)))
	assert.True(t, isNormalClosure(websocket.CloseError{Code: websocket.StatusNormalClosure}))
	assert.True(t, isNormalClosure(websocket.CloseError{Code: websocket.StatusGoingAway}))
	assert.False(t, isNormalClosure(websocket.CloseError{Code: websocket.StatusInternalError}))
	assert.False(t, isNormalClosure(errors.New("connection reset")))
}
