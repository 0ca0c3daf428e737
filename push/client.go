package push

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/scribe-audio/scribe/log"
	"github.com/scribe-audio/scribe/requests"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = 30 * time.Second
	maxMessageBytes = 512
	sendQueueSize   = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// HandleWS upgrades the request and starts the read/write pumps. The first
// frame a subscriber sees is {"type":"connected"}.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.LogError(requests.GetRequestId(r), "websocket upgrade failed", err)
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendQueueSize)}
	if payload, err := json.Marshal(Envelope{Type: TypeConnected}); err == nil {
		c.send <- payload
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleCommand(data)
	}
}

// handleCommand deals with the two client-sent frames: application-level
// pings and subscribe commands.
func (c *client) handleCommand(data []byte) {
	var cmd struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		c.reply(Envelope{Type: TypeError, Error: "malformed message"})
		return
	}
	switch cmd.Type {
	case "ping":
		c.reply(Envelope{Type: TypePong})
	case "subscribe":
		c.reply(c.hub.currentStatus(cmd.ID))
	default:
		c.reply(Envelope{Type: TypeError, Error: fmt.Sprintf("unknown message type %q", cmd.Type)})
	}
}

// reply routes through the hub so the send queue is only ever closed by the
// goroutine that writes to it.
func (c *client) reply(env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		log.LogNoRequestID("error marshalling push frame", "type", env.Type, "err", err)
		return
	}
	select {
	case c.hub.direct <- directMessage{client: c, payload: payload}:
	case <-c.hub.done:
	}
}
