// Package gateway pushes live sample updates to websocket clients.
//
// Every published payload is wrapped in an envelope carrying a monotonic seq:
//
//	{"type":"sample","seq":12,"ts":"2024-03-01T09:00:01.5Z","data":{...}}
//
// A client that reconnects with ?since=<last seq> is backfilled from the
// replay buffer; a client without since gets the latest envelope only.
package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultReplayCap = 500
	sendQueueSize    = 256
)

// Hub tracks websocket clients and fans envelopes out to them.
type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	queueSize int // per-client send queue; holds a full backfill plus live headroom

	mu      sync.Mutex
	clients map[*Client]bool
	seq     int64
	latest  []byte
	replay  *ReplayBuffer

	// Hooks, all optional.
	OnClients func(n int)
	OnPublish func()
	OnDrop    func()
}

// NewHub creates a hub keeping the last replayCap envelopes for backfill.
func NewHub(replayCap int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	replay := NewReplayBuffer(replayCap)
	return &Hub{
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    1024,
			WriteBufferSize:   4096,
			EnableCompression: true,
			CheckOrigin:       func(*http.Request) bool { return true },
		},
		queueSize: replay.cap + sendQueueSize,
		clients:   make(map[*Client]bool),
		replay:    replay,
	}
}

// Publish marshals v into a typed envelope and sends it to every client.
// Slow clients whose queue is full miss the envelope and can backfill by seq.
func (h *Hub) Publish(typ string, v any) (int64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("gateway: marshal %s: %w", typ, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	env := buildEnvelope(typ, h.seq, time.Now().UTC(), data)
	h.latest = env
	h.replay.Push(h.seq, env)

	for c := range h.clients {
		select {
		case c.send <- env:
		default:
			if h.OnDrop != nil {
				h.OnDrop()
			}
		}
	}
	if h.OnPublish != nil {
		h.OnPublish()
	}
	return h.seq, nil
}

// buildEnvelope hand-assembles the envelope around pre-encoded data.
func buildEnvelope(typ string, seq int64, now time.Time, data []byte) []byte {
	buf := make([]byte, 0, len(typ)+len(data)+96)
	buf = append(buf, `{"type":`...)
	buf = strconv.AppendQuote(buf, typ)
	buf = append(buf, `,"seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, '}')
	return buf
}

// Seq returns the seq of the last published envelope.
func (h *Hub) Seq() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

// ServeHTTP upgrades the request and registers the client. The optional
// since query parameter selects the backfill.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	since := int64(-1)
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		since = n
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", slog.Any("err", err))
		return
	}
	c := newClient(conn, h)
	h.register(c, since)

	go c.writePump()
	go c.readPump()
}

// register adds c and queues its backfill under the same lock as Publish so
// nothing is sent twice or skipped.
func (h *Hub) register(c *Client, since int64) {
	h.mu.Lock()
	var backlog [][]byte
	switch {
	case since >= 0:
		if oldest := h.replay.Oldest(); oldest > since+1 {
			h.log.Warn("ws backfill gap", slog.Int64("since", since), slog.Int64("oldest", oldest))
		}
		backlog = h.replay.Since(since)
	case h.latest != nil:
		backlog = [][]byte{h.latest}
	}
	queued := 0
	for _, env := range backlog {
		select {
		case c.send <- env:
			queued++
		default:
			if h.OnDrop != nil {
				h.OnDrop()
			}
		}
	}
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()

	if queued < len(backlog) {
		h.log.Warn("ws backfill truncated", slog.String("client", c.id),
			slog.Int("backfill", len(backlog)), slog.Int("queued", queued))
	}
	h.log.Info("ws client connected", slog.String("client", c.id),
		slog.Int("clients", n), slog.Int("backfill", queued))
	if h.OnClients != nil {
		h.OnClients(n)
	}
}

// RemoveClient unregisters c and closes its send queue.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()

	h.log.Info("ws client disconnected", slog.String("client", c.id), slog.Int("clients", n))
	if h.OnClients != nil {
		h.OnClients(n)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.RemoveClient(c)
	}
}
