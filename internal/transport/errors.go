package transport

import "errors"

var (
	// ErrReconnectExhausted marks the terminal state reached after the
	// reconnect budget is spent. A manual Connect re-arms the manager.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrMessageTooLarge is returned by Channel.Read for a message over the
	// read limit. The message has been discarded and the channel stays open.
	ErrMessageTooLarge = errors.New("message exceeds read limit")
)
