package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 1024
)

// Client is a single websocket peer.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

func newClient(conn *websocket.Conn, hub *Hub) *Client {
	conn.EnableWriteCompression(true)
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, hub.queueSize),
		hub:  hub,
	}
}

// writePump coalesces queued envelopes into one frame, newline separated.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(next)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only answers application pings; it exits on the first read error.
func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req struct {
			Ping int64 `json:"ping"`
		}
		if json.Unmarshal(msg, &req) != nil || req.Ping <= 0 {
			continue
		}
		pong, _ := json.Marshal(map[string]int64{
			"pong":      req.Ping,
			"server_ts": time.Now().UnixMilli(),
		})
		c.hub.mu.Lock()
		if c.hub.clients[c] {
			select {
			case c.send <- pong:
			default:
			}
		}
		c.hub.mu.Unlock()
	}
}
