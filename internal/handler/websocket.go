package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"omniclip/internal/auth"
	"omniclip/internal/errs"
	"omniclip/internal/hub"
	"omniclip/internal/service"
)

type WebSocketHandler struct {
	Hub         *hub.Hub
	TokenConfig auth.TokenConfig
}

type clientMessage struct {
	Type string `json:"type"`
}

type serverMessage struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Body  any    `json:"body,omitempty"`
}

var upgrader = websocket.Upgrader{
	// the control API only listens on loopback by default
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) Write(message []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteMessage(websocket.TextMessage, message)
}

func (w *wsWriter) Close() error {
	return w.conn.Close()
}

// EventMessage renders a service event for the event feed.
func EventMessage(ev service.Event) ([]byte, error) {
	var body gin.H
	switch e := ev.(type) {
	case service.DeviceDiscovered:
		body = peerJSON(e.Peer)
	case service.DeviceLost:
		body = gin.H{"device_id": e.DeviceID}
	case service.PairingRequest:
		body = gin.H{"device_id": e.DeviceID, "device_name": e.DeviceName, "fingerprint": e.Fingerprint}
	case service.ClipboardReceived:
		body = gin.H{"from": e.From, "kind": e.Content.Kind.String(), "text": e.Content.Plain, "hash": e.Content.Hash().String()}
		if e.Content.HTML != "" {
			body["html"] = e.Content.HTML
		}
	case service.ClipboardSent:
		body = gin.H{"to": e.To}
	case service.Error:
		body = gin.H{"kind": errs.Kind(e.Err), "error": e.Err.Error()}
	}
	return json.Marshal(serverMessage{Type: "event", Event: ev.Type(), Body: body})
}

// Serve streams events to one subscriber. The token travels in the query
// string because browsers cannot set headers on a websocket upgrade.
func (h *WebSocketHandler) Serve(c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}
	claims, err := auth.VerifyToken(tokenString, h.TokenConfig)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}
	if !claims.Allows(auth.ScopeEvents) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Token lacks scope", "scope": auth.ScopeEvents})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	conn := &hub.Connection{ClientID: claims.ClientID, Writer: &wsWriter{conn: ws}}
	h.Hub.Register(conn)
	defer func() {
		h.Hub.Unregister(conn)
		_ = ws.Close()
	}()

	ws.SetReadLimit(64 * 1024)
	const pongWait = 60 * time.Second
	const writeWait = 10 * time.Second
	pingPeriod := (pongWait * 9) / 10

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	var closeOnce sync.Once
	closeDone := func() {
		closeOnce.Do(func() {
			close(done)
		})
	}
	defer closeDone()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				deadline := time.Now().Add(writeWait)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					_ = ws.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			out, _ := json.Marshal(serverMessage{Type: "pong"})
			_ = conn.Writer.Write(out)
		}
	}
}
