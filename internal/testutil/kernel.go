// Package testutil provides deterministic fakes for tests: a scripted kernel
// session and message channel, a stepping clock and a fixed id generator.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/davidcortesortuno/pytest-validate-nb/internal/protocol"
)

// ScriptedChannel replays queued messages. When the queue is empty Receive
// reports protocol.ErrTimeout immediately instead of waiting, and counts it.
type ScriptedChannel struct {
	mu       sync.Mutex
	queue    []protocol.Message
	closed   bool
	receives int
	timeouts int
	waits    []time.Duration
}

// NewScriptedChannel creates a channel preloaded with msgs.
func NewScriptedChannel(msgs ...protocol.Message) *ScriptedChannel {
	return &ScriptedChannel{queue: append([]protocol.Message(nil), msgs...)}
}

// Push appends messages to the queue.
func (c *ScriptedChannel) Push(msgs ...protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, msgs...)
}

// Close makes Receive return protocol.ErrClosed once the queue is empty.
func (c *ScriptedChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Receive implements protocol.Channel.
func (c *ScriptedChannel) Receive(ctx context.Context, timeout time.Duration) (protocol.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.receives++
	c.waits = append(c.waits, timeout)
	if err := ctx.Err(); err != nil {
		return protocol.Message{}, err
	}
	if len(c.queue) > 0 {
		m := c.queue[0]
		c.queue = c.queue[1:]
		return m, nil
	}
	if c.closed {
		return protocol.Message{}, protocol.ErrClosed
	}
	c.timeouts++
	return protocol.Message{}, protocol.ErrTimeout
}

// Receives returns the number of Receive calls.
func (c *ScriptedChannel) Receives() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receives
}

// Timeouts returns the number of Receive calls that timed out.
func (c *ScriptedChannel) Timeouts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeouts
}

// Waits returns the timeout passed to each Receive call.
func (c *ScriptedChannel) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

// Remaining returns the number of queued messages not yet received.
func (c *ScriptedChannel) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Responder produces the messages a fake kernel emits for submitted source.
type Responder func(source string) []protocol.Message

// FakeSession is an in-memory kernel session. Each Submit records the source
// and pushes the next scripted batch (or the Responder's output) onto its channel.
type FakeSession struct {
	mu        sync.Mutex
	channel   *ScriptedChannel
	batches   [][]protocol.Message
	responder Responder
	submitted []string
	closed    bool

	// SubmitErr, when set, is returned by every Submit.
	SubmitErr error
}

// NewFakeSession creates a session that replays batches, one per Submit.
func NewFakeSession(batches ...[]protocol.Message) *FakeSession {
	return &FakeSession{channel: NewScriptedChannel(), batches: batches}
}

// NewRespondingSession creates a session whose output is computed per submission.
func NewRespondingSession(r Responder) *FakeSession {
	return &FakeSession{channel: NewScriptedChannel(), responder: r}
}

// Submit implements the session contract.
func (s *FakeSession) Submit(ctx context.Context, source string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SubmitErr != nil {
		return "", s.SubmitErr
	}
	if s.closed {
		return "", fmt.Errorf("fake session closed")
	}
	s.submitted = append(s.submitted, source)
	id := fmt.Sprintf("msg-%d", len(s.submitted))

	switch {
	case s.responder != nil:
		s.channel.Push(s.responder(source)...)
	case len(s.batches) > 0:
		s.channel.Push(s.batches[0]...)
		s.batches = s.batches[1:]
	}
	return id, nil
}

// Messages implements the session contract.
func (s *FakeSession) Messages() protocol.Channel {
	return s.channel
}

// Channel exposes the underlying scripted channel for assertions.
func (s *FakeSession) Channel() *ScriptedChannel {
	return s.channel
}

// Close marks the session closed.
func (s *FakeSession) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Submitted returns the sources submitted so far, in order.
func (s *FakeSession) Submitted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.submitted...)
}

// Closed reports whether Close was called.
func (s *FakeSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Message constructors for scripting kernel output.

func Status(state string) protocol.Message {
	return protocol.Message{Kind: protocol.KindStatus, Content: map[string]any{"execution_state": state}}
}

func Stream(name, text string) protocol.Message {
	return protocol.Message{Kind: protocol.KindStream, Content: map[string]any{"name": name, "text": text}}
}

func DisplayData(data map[string]any) protocol.Message {
	return protocol.Message{Kind: protocol.KindDisplayData, Content: map[string]any{
		"data":     data,
		"metadata": map[string]any{},
	}}
}

func ExecuteResult(count int, data map[string]any) protocol.Message {
	return protocol.Message{Kind: protocol.KindExecuteResult, Content: map[string]any{
		"data":            data,
		"metadata":        map[string]any{},
		"execution_count": count,
	}}
}

func ExecuteInput(code string) protocol.Message {
	return protocol.Message{Kind: protocol.KindExecuteInput, Content: map[string]any{"code": code}}
}

func ExecuteReply(status string) protocol.Message {
	return protocol.Message{Kind: protocol.KindExecuteReply, Content: map[string]any{"status": status}}
}

func Message(kind protocol.Kind, content map[string]any) protocol.Message {
	return protocol.Message{Kind: kind, Content: content}
}

// Execution wraps output messages in the busy/execute_input ... idle envelope a
// real kernel produces for one cell.
func Execution(code string, outputs ...protocol.Message) []protocol.Message {
	msgs := []protocol.Message{Status(protocol.StateBusy), ExecuteInput(code)}
	msgs = append(msgs, outputs...)
	return append(msgs, Status(protocol.StateIdle))
}
