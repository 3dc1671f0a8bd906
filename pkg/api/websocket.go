package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"parkinson-voice/pkg/models"
	"parkinson-voice/pkg/sanitize"
	"parkinson-voice/pkg/storage"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WebSocketMessage struct {
	Type      string          `json:"type"`
	UserID    string          `json:"user_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Age       *float64        `json:"age,omitempty"`
	Sex       string          `json:"sex,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Status    string          `json:"status,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// wsConn serializes writes; gorilla connections allow one writer at a time.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(msg WebSocketMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (h *Handlers) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	c := &wsConn{conn: conn}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		var msg WebSocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}

		switch msg.Type {
		case "audio":
			if id, ok := h.handleAudio(c, &msg); ok {
				wg.Add(1)
				go func() {
					defer wg.Done()
					h.monitorRequest(ctx, c, id)
				}()
			}
		case "ping":
			c.send(WebSocketMessage{Type: "pong"})
		default:
			c.send(WebSocketMessage{Type: "error", Error: "Unknown message type"})
		}
	}
	cancel()
}

func (h *Handlers) handleAudio(c *wsConn, msg *WebSocketMessage) (string, bool) {
	if msg.UserID == "" || msg.SessionID == "" {
		c.send(WebSocketMessage{Type: "error", Error: "user_id and session_id are required"})
		return "", false
	}

	var audioData []byte
	if err := json.Unmarshal(msg.Data, &audioData); err != nil {
		c.send(WebSocketMessage{Type: "error", Error: "Invalid audio data format"})
		return "", false
	}
	if int64(len(audioData)) < h.minUpload {
		c.send(WebSocketMessage{Type: "error", Error: "audio data too small"})
		return "", false
	}

	var cov *models.Covariates
	if msg.Age != nil || msg.Sex != "" {
		cov = &models.Covariates{Age: msg.Age, Sex: msg.Sex}
	}
	req := models.NewRequest(msg.UserID, msg.SessionID, "", cov)
	if _, err := h.saveUpload(req, bytes.NewReader(audioData), ".wav"); err != nil {
		h.log.Error("failed to save upload", "request_id", req.ID, "error", err)
		c.send(WebSocketMessage{Type: "error", Error: "Failed to save audio data"})
		return "", false
	}

	h.log.Info("ws processing started", "request_id", req.ID, "user_id", req.UserID, "bytes", len(audioData))

	if _, err := h.pipeline.Submit(req); err != nil {
		os.Remove(req.Path)
		c.send(WebSocketMessage{Type: "error", RequestID: req.ID, Error: err.Error()})
		return "", false
	}
	c.send(WebSocketMessage{Type: "request_received", RequestID: req.ID, Status: string(models.StatusReceived)})
	return req.ID, true
}

// monitorRequest polls the status store and reports each change until the
// request reaches a terminal state.
func (h *Handlers) monitorRequest(ctx context.Context, c *wsConn, id string) {
	ticker := time.NewTicker(h.poll)
	defer ticker.Stop()

	var last models.Status
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st, err := h.statuses.Get(id)
			if err != nil {
				if !errors.Is(err, storage.ErrRequestNotFound) {
					c.send(WebSocketMessage{Type: "error", RequestID: id, Error: err.Error()})
				}
				return
			}

			if st.Status != last {
				last = st.Status
				c.send(WebSocketMessage{Type: "status_update", RequestID: id, Status: string(st.Status)})
			}

			switch st.Status {
			case models.StatusReturned:
				h.log.Info("ws processing completed", "request_id", id)
				var res *models.FusionResult
				if st.Result != nil {
					r := sanitize.Result(*st.Result)
					res = &r
				}
				data, _ := json.Marshal(res)
				c.send(WebSocketMessage{Type: "inference_complete", RequestID: id, Data: data})
				return
			case models.StatusFailed:
				h.log.Info("ws processing failed", "request_id", id, "error", st.Error)
				c.send(WebSocketMessage{Type: "inference_failed", RequestID: id, Error: st.Error})
				return
			}
		}
	}
}
