package kernel

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/davidcortesortuno/pytest-validate-nb/internal/protocol"
)

// ProtocolVersion is the messaging protocol version stamped on requests.
const ProtocolVersion = "5.3"

// Channel names on the multiplexed websocket.
const (
	ChannelShell = "shell"
	ChannelIOPub = "iopub"
	ChannelStdin = "stdin"
)

// Header is a message header.
type Header struct {
	MsgID    string `json:"msg_id,omitempty"`
	Session  string `json:"session,omitempty"`
	Username string `json:"username,omitempty"`
	Date     string `json:"date,omitempty"`
	MsgType  string `json:"msg_type,omitempty"`
	Version  string `json:"version,omitempty"`
}

// WireMessage is one JSON frame exchanged over the kernel channels websocket.
type WireMessage struct {
	Header       Header          `json:"header"`
	ParentHeader Header          `json:"parent_header"`
	Metadata     map[string]any  `json:"metadata"`
	Content      json.RawMessage `json:"content"`
	Channel      string          `json:"channel"`
	Buffers      []any           `json:"buffers"`
}

// executeRequest is the content of an execute_request.
type executeRequest struct {
	Code            string         `json:"code"`
	Silent          bool           `json:"silent"`
	StoreHistory    bool           `json:"store_history"`
	UserExpressions map[string]any `json:"user_expressions"`
	AllowStdin      bool           `json:"allow_stdin"`
	StopOnError     bool           `json:"stop_on_error"`
}

func newExecuteRequest(sessionID, username, code string, now time.Time) (WireMessage, error) {
	content, err := json.Marshal(executeRequest{
		Code:            code,
		StoreHistory:    true,
		UserExpressions: map[string]any{},
		AllowStdin:      false,
		StopOnError:     true,
	})
	if err != nil {
		return WireMessage{}, err
	}
	return WireMessage{
		Header: Header{
			MsgID:    uuid.NewString(),
			Session:  sessionID,
			Username: username,
			Date:     now.UTC().Format(time.RFC3339Nano),
			MsgType:  "execute_request",
			Version:  ProtocolVersion,
		},
		Metadata: map[string]any{},
		Content:  content,
		Channel:  ChannelShell,
		Buffers:  []any{},
	}, nil
}

// toProtocol converts a decoded frame to a protocol.Message.
func (m WireMessage) toProtocol() (protocol.Message, error) {
	var content map[string]any
	if len(m.Content) > 0 {
		if err := json.Unmarshal(m.Content, &content); err != nil {
			return protocol.Message{}, err
		}
	}
	if content == nil {
		content = map[string]any{}
	}
	return protocol.Message{
		Kind:     protocol.Kind(m.Header.MsgType),
		ID:       m.Header.MsgID,
		ParentID: m.ParentHeader.MsgID,
		Content:  content,
	}, nil
}
