// Package protocol defines the kernel output messages consumed while a cell
// executes, and the channel contract a session must expose for them.
//
// Message kinds follow the Jupyter messaging protocol (version 5):
//
//   - status: kernel execution state changes (busy, idle, starting)
//   - execute_input: re-broadcast of the code being executed
//   - execute_reply: final reply to an execute_request
//   - comm_open, comm_msg, comm_close: widget/comm traffic
//   - stream: stdout/stderr text
//   - display_data: rich output passed to display()
//   - execute_result: rich output of the cell's last expression
//   - error: exception raised by the cell
package protocol

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Kind is the msg_type of a protocol message.
type Kind string

const (
	KindStatus        Kind = "status"
	KindExecuteInput  Kind = "execute_input"
	KindExecuteReply  Kind = "execute_reply"
	KindStream        Kind = "stream"
	KindDisplayData   Kind = "display_data"
	KindExecuteResult Kind = "execute_result"
	KindError         Kind = "error"
	KindClearOutput   Kind = "clear_output"
)

// Execution states carried by status messages.
const (
	StateBusy     = "busy"
	StateIdle     = "idle"
	StateStarting = "starting"
)

// IsComm reports whether k is one of the comm_* kinds.
func (k Kind) IsComm() bool {
	return strings.HasPrefix(string(k), "comm")
}

// Message is one item received from a session's output channel.
type Message struct {
	Kind     Kind
	ID       string
	ParentID string
	Content  map[string]any
}

// ExecutionState returns the execution_state field of a status message,
// or "" if absent.
func (m Message) ExecutionState() string {
	s, _ := m.Content["execution_state"].(string)
	return s
}

var (
	// ErrTimeout is returned by Receive when no message arrives in time.
	ErrTimeout = errors.New("protocol: no message before timeout")

	// ErrClosed is returned by Receive once the channel has been closed.
	ErrClosed = errors.New("protocol: channel closed")
)

// Channel delivers the messages produced by submitted code.
type Channel interface {
	// Receive waits up to timeout for the next message.
	// It returns ErrTimeout when the wait elapses, ErrClosed when the
	// underlying source is gone, or ctx.Err() on cancellation.
	Receive(ctx context.Context, timeout time.Duration) (Message, error)
}

// FromChan adapts a Go channel to the Channel contract.
// Closing c makes Receive return ErrClosed.
func FromChan(c <-chan Message) Channel {
	return chanChannel{c: c}
}

type chanChannel struct {
	c <-chan Message
}

func (ch chanChannel) Receive(ctx context.Context, timeout time.Duration) (Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case m, ok := <-ch.c:
		if !ok {
			return Message{}, ErrClosed
		}
		return m, nil
	case <-timer.C:
		return Message{}, ErrTimeout
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}
