package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/davidcortesortuno/pytest-validate-nb/internal/protocol"
)

// iopubBuffer is the number of iopub messages held while nobody is reading.
const iopubBuffer = 256

// Session is an open channels connection to one kernel.
//
// Submit may be called from one goroutine at a time. Messages may be read
// concurrently with Submit. Close releases the connection and, for sessions
// created by Open, shuts the kernel down.
type Session struct {
	client     *Client
	kernelID   string
	sessionID  string
	ownsKernel bool
	conn       *websocket.Conn
	logger     *slog.Logger

	writeMu      sync.Mutex
	iopub        chan protocol.Message
	done         chan struct{}
	readerExited chan struct{}

	closeOnce sync.Once
	closeErr  error

	errMu   sync.Mutex
	readErr error
}

// Open starts a kernel and connects to it. Closing the session shuts the
// kernel down.
func (c *Client) Open(ctx context.Context, kernelName string) (*Session, error) {
	info, err := c.StartKernel(ctx, kernelName)
	if err != nil {
		return nil, err
	}
	s, err := c.Connect(ctx, info.ID)
	if err != nil {
		if shutdownErr := c.Shutdown(context.WithoutCancel(ctx), info.ID); shutdownErr != nil {
			c.logger.Warn("failed to shut down kernel after connect error", "kernel_id", info.ID, "error", shutdownErr)
		}
		return nil, err
	}
	s.ownsKernel = true
	return s, nil
}

// Connect opens the channels websocket of a running kernel.
func (c *Client) Connect(ctx context.Context, kernelID string) (*Session, error) {
	sessionID := uuid.NewString()
	header := http.Header{}
	c.authorize(header)

	conn, resp, err := c.dialer.DialContext(ctx, c.channelsURL(kernelID, sessionID), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connect kernel %s: handshake failed with status %d: %w", kernelID, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("connect kernel %s: %w", kernelID, err)
	}

	s := &Session{
		client:       c,
		kernelID:     kernelID,
		sessionID:    sessionID,
		conn:         conn,
		logger:       c.logger.With("kernel_id", kernelID),
		iopub:        make(chan protocol.Message, iopubBuffer),
		done:         make(chan struct{}),
		readerExited: make(chan struct{}),
	}
	go s.read()
	s.logger.Debug("kernel channels connected", "session_id", sessionID)
	return s, nil
}

// KernelID returns the id of the connected kernel.
func (s *Session) KernelID() string {
	return s.kernelID
}

// SessionID returns the client session id sent on every message.
func (s *Session) SessionID() string {
	return s.sessionID
}

// Submit sends source as an execute_request and returns its msg_id.
// It does not wait for the cell to run.
func (s *Session) Submit(ctx context.Context, source string) (string, error) {
	msg, err := newExecuteRequest(s.sessionID, s.client.username, source, time.Now())
	if err != nil {
		return "", fmt.Errorf("failed to encode execute_request: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.done:
		return "", protocol.ErrClosed
	default:
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(30 * time.Second)
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return "", fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		return "", fmt.Errorf("failed to send execute_request: %w", err)
	}
	return msg.Header.MsgID, nil
}

// Messages returns the kernel's iopub traffic. Receive reports
// protocol.ErrClosed once the connection is gone.
func (s *Session) Messages() protocol.Channel {
	return protocol.FromChan(s.iopub)
}

// Err returns the error that ended the reader, if any.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.readErr
}

// Restart restarts the kernel behind the session. Pending iopub messages
// from before the restart stay queued.
func (s *Session) Restart(ctx context.Context) error {
	return s.client.Restart(ctx, s.kernelID)
}

// Close stops the reader, closes the websocket and, if the session started
// the kernel, shuts it down. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		close(s.done)
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		s.writeMu.Unlock()

		var errs []error
		if err := s.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close kernel channels: %w", err))
		}
		<-s.readerExited

		if s.ownsKernel {
			if err := s.client.Shutdown(ctx, s.kernelID); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
		s.logger.Debug("kernel session closed")
	})
	return s.closeErr
}

func (s *Session) read() {
	defer close(s.readerExited)
	defer close(s.iopub)

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.setErr(err)
				s.logger.Warn("kernel channels closed", "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		var frame WireMessage
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn("undecodable kernel frame", "error", err)
			continue
		}
		if frame.Channel != ChannelIOPub {
			continue
		}
		msg, err := frame.toProtocol()
		if err != nil {
			s.logger.Warn("undecodable message content", "msg_type", frame.Header.MsgType, "error", err)
			continue
		}

		select {
		case s.iopub <- msg:
		case <-s.done:
			return
		}
	}
}

func (s *Session) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if !errors.Is(err, io.EOF) {
		s.readErr = err
	}
}
