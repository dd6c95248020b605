package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type envelope struct {
	Type string          `json:"type"`
	Seq  int64           `json:"seq"`
	TS   string          `json:"ts"`
	Data json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, raw []byte) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, raw)
	}
	return env
}

func localClient(h *Hub, queue int) *Client {
	return &Client{send: make(chan []byte, queue), hub: h}
}

func TestBuildEnvelope(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 1, 500_000_000, time.UTC)
	raw := buildEnvelope("sample", 42, now, []byte(`{"close":"12.30"}`))

	env := decodeEnvelope(t, raw)
	if env.Type != "sample" || env.Seq != 42 {
		t.Errorf("got type=%q seq=%d", env.Type, env.Seq)
	}
	parsed, err := time.Parse(time.RFC3339Nano, env.TS)
	if err != nil || !parsed.Equal(now) {
		t.Errorf("ts = %q (%v)", env.TS, err)
	}
	if string(env.Data) != `{"close":"12.30"}` {
		t.Errorf("data = %s", env.Data)
	}
}

func TestHub_PublishFanOut(t *testing.T) {
	h := NewHub(10, nil)
	var published, drops, clients int
	h.OnPublish = func() { published++ }
	h.OnDrop = func() { drops++ }
	h.OnClients = func(n int) { clients = n }

	fast := localClient(h, 4)
	slow := localClient(h, 1)
	h.register(fast, -1)
	h.register(slow, -1)
	if clients != 2 {
		t.Fatalf("OnClients reported %d, want 2", clients)
	}

	for i := 0; i < 2; i++ {
		if _, err := h.Publish("sample", map[string]int{"i": i}); err != nil {
			t.Fatal(err)
		}
	}

	if len(fast.send) != 2 {
		t.Errorf("fast client queued %d, want 2", len(fast.send))
	}
	if len(slow.send) != 1 {
		t.Errorf("slow client queued %d, want 1", len(slow.send))
	}
	if published != 2 || drops != 1 {
		t.Errorf("published=%d drops=%d, want 2 and 1", published, drops)
	}
	if h.Seq() != 2 {
		t.Errorf("Seq() = %d, want 2", h.Seq())
	}
}

func TestHub_PublishMarshalError(t *testing.T) {
	h := NewHub(10, nil)
	if _, err := h.Publish("sample", make(chan int)); err == nil {
		t.Error("expected marshal error")
	}
	if h.Seq() != 0 {
		t.Errorf("failed publish advanced seq to %d", h.Seq())
	}
}

func TestHub_RegisterBackfill(t *testing.T) {
	h := NewHub(3, nil)
	for i := 1; i <= 5; i++ {
		h.Publish("sample", i)
	}

	tests := []struct {
		name  string
		since int64
		want  []int64
	}{
		{"latest only", -1, []int64{5}},
		{"from seq", 3, []int64{4, 5}},
		{"up to date", 5, nil},
		{"gap", 0, []int64{3, 4, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := localClient(h, 10)
			h.register(c, tt.since)
			defer h.RemoveClient(c)

			if len(c.send) != len(tt.want) {
				t.Fatalf("queued %d envelopes, want %d", len(c.send), len(tt.want))
			}
			for _, seq := range tt.want {
				if env := decodeEnvelope(t, <-c.send); env.Seq != seq {
					t.Errorf("seq = %d, want %d", env.Seq, seq)
				}
			}
		})
	}
}

func TestHub_RegisterBackfillLargerThanLiveQueue(t *testing.T) {
	h := NewHub(defaultReplayCap, nil)
	drops := 0
	h.OnDrop = func() { drops++ }

	const published = 400
	for i := 1; i <= published; i++ {
		h.Publish("sample", i)
	}
	if h.queueSize < defaultReplayCap+sendQueueSize {
		t.Fatalf("client queue %d cannot hold a full backfill", h.queueSize)
	}

	c := localClient(h, h.queueSize)
	h.register(c, 0)
	if len(c.send) != published || drops != 0 {
		t.Fatalf("queued %d of %d, drops %d", len(c.send), published, drops)
	}
	for want := int64(1); want <= published; want++ {
		if env := decodeEnvelope(t, <-c.send); env.Seq != want {
			t.Fatalf("seq = %d, want %d", env.Seq, want)
		}
	}
	h.RemoveClient(c)

	// an undersized queue is counted, not silently truncated
	small := localClient(h, sendQueueSize)
	h.register(small, 0)
	defer h.RemoveClient(small)
	if len(small.send) != sendQueueSize || drops != published-sendQueueSize {
		t.Errorf("queued %d, drops %d; want %d and %d",
			len(small.send), drops, sendQueueSize, published-sendQueueSize)
	}
}

func TestHub_RemoveClientTwice(t *testing.T) {
	h := NewHub(10, nil)
	c := localClient(h, 1)
	h.register(c, -1)

	h.RemoveClient(c)
	h.RemoveClient(c) // must not close send twice

	if h.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d", h.ClientCount())
	}
	if _, ok := <-c.send; ok {
		t.Error("send queue not closed")
	}
}

// ─── Websocket round trip ───

func TestHub_ServeHTTP(t *testing.T) {
	h := NewHub(10, nil)
	h.Publish("sample", map[string]string{"close": "10.00"})

	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?since=0"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var got []envelope
	read := func(want int) {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for len(got) < want {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			for _, line := range bytes.Split(msg, []byte{'\n'}) {
				got = append(got, decodeEnvelope(t, line))
			}
		}
	}

	read(1)
	if got[0].Seq != 1 {
		t.Errorf("backfill seq = %d, want 1", got[0].Seq)
	}

	h.Publish("sample", map[string]string{"close": "11.00"})
	read(2)
	if got[1].Seq != 2 || string(got[1].Data) != `{"close":"11.00"}` {
		t.Errorf("live envelope = %+v", got[1])
	}

	// application ping
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"ping":7}`)); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read pong: %v", err)
	}
	var pong struct {
		Pong int64 `json:"pong"`
	}
	if err := json.Unmarshal(msg, &pong); err != nil || pong.Pong != 7 {
		t.Errorf("pong = %s (%v)", msg, err)
	}
}

func TestHub_ServeHTTP_InvalidSince(t *testing.T) {
	h := NewHub(10, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?since=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
