package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"facloc/internal/store"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TraceWSHandler streams a stored trace over WebSocket. The client sends
// connection_init, then subscribe; each trace point goes out as a "next"
// message followed by "complete".
func (s *Server) TraceWSHandler(w http.ResponseWriter, r *http.Request, tenant, solveID string) {
	trace, err := s.Store.GetTrace(r.Context(), tenant, solveID)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, 404, "Not Found", "solve "+solveID, r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, 500, "Get trace failed", err.Error(), r.URL.Path)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	write := func(v any) error { return conn.WriteJSON(v) }

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "connection_init":
			_ = write(wsMessage{Type: "connection_ack"})
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "subscribe":
			id := msg.ID
			if id == "" {
				id = "1"
			}
			for _, t := range trace {
				payload, _ := json.Marshal(map[string]any{"tracePoint": t})
				if err := write(wsMessage{Type: "next", ID: id, Payload: payload}); err != nil {
					return
				}
			}
			_ = write(wsMessage{Type: "complete", ID: id})
		case "complete", "connection_terminate":
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	}
}
