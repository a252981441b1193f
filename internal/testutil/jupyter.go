package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/davidcortesortuno/pytest-validate-nb/internal/protocol"
)

// JupyterServer is an in-process stand-in for a Jupyter Server's kernels API.
// Each execute_request received on a kernel's channels websocket is answered
// with the Responder's messages on iopub, followed by an execute_reply on shell.
//
// The caller owns the server and must Close it.
type JupyterServer struct {
	*httptest.Server

	// Token, when set, is required as "Authorization: token <Token>".
	Token string

	respond  Responder
	upgrader websocket.Upgrader

	mu        sync.Mutex
	nextID    int
	kernels   map[string]string
	started   []string
	shutdowns []string
	restarts  []string
	executed  []string
	sessions  []string
}

// NewJupyterServer starts a fake server answering with respond.
func NewJupyterServer(token string, respond Responder) *JupyterServer {
	s := &JupyterServer{
		Token:   token,
		respond: respond,
		kernels: make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/kernels", s.auth(s.handleStart))
	mux.HandleFunc("DELETE /api/kernels/{id}", s.auth(s.handleShutdown))
	mux.HandleFunc("POST /api/kernels/{id}/restart", s.auth(s.handleRestart))
	mux.HandleFunc("GET /api/kernels/{id}/channels", s.auth(s.handleChannels))
	s.Server = httptest.NewServer(mux)
	return s
}

func (s *JupyterServer) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Token != "" && r.Header.Get("Authorization") != "token "+s.Token {
			http.Error(w, `{"message": "Forbidden"}`, http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func (s *JupyterServer) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.nextID++
	id := fmt.Sprintf("kernel-%d", s.nextID)
	s.kernels[id] = req.Name
	s.started = append(s.started, req.Name)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":              id,
		"name":            req.Name,
		"execution_state": "starting",
		"connections":     0,
	})
}

func (s *JupyterServer) handleShutdown(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	_, ok := s.kernels[id]
	delete(s.kernels, id)
	if ok {
		s.shutdowns = append(s.shutdowns, id)
	}
	s.mu.Unlock()

	if !ok {
		http.Error(w, `{"message": "Kernel does not exist"}`, http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *JupyterServer) handleRestart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	name, ok := s.kernels[id]
	if ok {
		s.restarts = append(s.restarts, id)
	}
	s.mu.Unlock()

	if !ok {
		http.Error(w, `{"message": "Kernel does not exist"}`, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"id": id, "name": name})
}

type frame struct {
	Header       map[string]any `json:"header"`
	ParentHeader map[string]any `json:"parent_header"`
	Metadata     map[string]any `json:"metadata"`
	Content      map[string]any `json:"content"`
	Channel      string         `json:"channel"`
	Buffers      []any          `json:"buffers"`
}

func (s *JupyterServer) handleChannels(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	_, ok := s.kernels[id]
	if ok {
		s.sessions = append(s.sessions, r.URL.Query().Get("session_id"))
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, `{"message": "Kernel does not exist"}`, http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	seq := 0
	send := func(parent map[string]any, channel string, kind protocol.Kind, content map[string]any) error {
		seq++
		if content == nil {
			content = map[string]any{}
		}
		return conn.WriteJSON(frame{
			Header: map[string]any{
				"msg_id":   fmt.Sprintf("%s-out-%d", id, seq),
				"msg_type": string(kind),
				"session":  id,
				"version":  "5.3",
			},
			ParentHeader: parent,
			Metadata:     map[string]any{},
			Content:      content,
			Channel:      channel,
			Buffers:      []any{},
		})
	}

	for {
		var req frame
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if req.Channel != "shell" || req.Header["msg_type"] != "execute_request" {
			continue
		}
		code, _ := req.Content["code"].(string)

		s.mu.Lock()
		s.executed = append(s.executed, code)
		count := len(s.executed)
		s.mu.Unlock()

		var msgs []protocol.Message
		if s.respond != nil {
			msgs = s.respond(code)
		}
		for _, m := range msgs {
			if err := send(req.Header, "iopub", m.Kind, m.Content); err != nil {
				return
			}
		}
		reply := map[string]any{"status": "ok", "execution_count": count}
		if err := send(req.Header, "shell", protocol.KindExecuteReply, reply); err != nil {
			return
		}
	}
}

// Started returns the kernelspec names of every start request.
func (s *JupyterServer) Started() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.started...)
}

// Shutdowns returns the ids of kernels shut down.
func (s *JupyterServer) Shutdowns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.shutdowns...)
}

// Restarts returns the ids of kernels restarted.
func (s *JupyterServer) Restarts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.restarts...)
}

// Executed returns the code of every execute_request, in arrival order.
func (s *JupyterServer) Executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.executed...)
}

// Sessions returns the session_id query value of every channels connection.
func (s *JupyterServer) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sessions...)
}

// Running returns the number of kernels not yet shut down.
func (s *JupyterServer) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.kernels)
}
