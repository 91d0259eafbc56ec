package stream

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/joonwoo-kim/upbit-feed/internal/model"
)

// fakeTransport is an in-memory Client for manager tests.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	stale     bool
	sent      [][]byte
	sentCh    chan []byte

	messages chan TimestampedMessage
	errors   chan error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sentCh:   make(chan []byte, 16),
		messages: make(chan TimestampedMessage, 16),
		errors:   make(chan error, 1),
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return ErrNotConnected
	}
	f.sent = append(f.sent, data)
	f.mu.Unlock()
	f.sentCh <- data
	return nil
}

func (f *fakeTransport) Messages() <-chan TimestampedMessage { return f.messages }
func (f *fakeTransport) Errors() <-chan error                { return f.errors }

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Stale() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected && f.stale
}

func (f *fakeTransport) setStale(v bool) {
	f.mu.Lock()
	f.stale = v
	f.mu.Unlock()
}

func (f *fakeTransport) waitSent(t *testing.T, timeout time.Duration) []byte {
	t.Helper()
	select {
	case data := <-f.sentCh:
		return data
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a sent frame")
		return nil
	}
}

func testManagerConfig() ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.Name = "public"
	cfg.WSURL = "wss://example.test/websocket/v1"
	cfg.DebounceDelay = 20 * time.Millisecond
	cfg.ReconnectBaseWait = 10 * time.Millisecond
	cfg.ReconnectMaxWait = 50 * time.Millisecond
	return cfg
}

// newTestManager wires a manager to a sequence of fake transports.
func newTestManager(t *testing.T, transports ...*fakeTransport) (Manager, func() *fakeTransport) {
	t.Helper()

	m := NewManager(testManagerConfig(), &fakeGate{}, nil).(*manager)

	idx := 0
	var mu sync.Mutex
	m.newClient = func() Client {
		mu.Lock()
		defer mu.Unlock()
		c := transports[idx]
		if idx < len(transports)-1 {
			idx++
		}
		return c
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Stop(ctx)
	})

	current := func() *fakeTransport {
		mu.Lock()
		defer mu.Unlock()
		return transports[idx]
	}
	return m, current
}

func extractTicket(t *testing.T, data []byte) string {
	t.Helper()
	var frame []map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("frame is not valid JSON: %v", err)
	}
	ticket, ok := frame[0]["ticket"].(string)
	if !ok {
		t.Fatalf("first block has no ticket: %v", frame[0])
	}
	return ticket
}

func TestManager_AddSendsFrame(t *testing.T) {
	transport := newFakeTransport()
	m, _ := newTestManager(t, transport)

	if _, err := m.Add("ticker", []string{"KRW-BTC"}, nil); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	frame := transport.waitSent(t, time.Second)
	if len(frame) == 0 {
		t.Fatal("empty frame sent")
	}
	if extractTicket(t, frame) == "" {
		t.Error("frame carries no ticket")
	}
}

func TestManager_InvalidUnitNeverReachesPipeline(t *testing.T) {
	transport := newFakeTransport()
	m, _ := newTestManager(t, transport)

	if _, err := m.Add("7m", []string{"KRW-BTC"}, nil); err == nil {
		t.Fatal("Add(7m) succeeded, want validation error")
	}

	time.Sleep(100 * time.Millisecond)
	if len(transport.sent) != 0 {
		t.Errorf("frames sent = %d, want 0 after rejected add", len(transport.sent))
	}
}

func TestManager_ReconnectResubscribesThroughNormalPath(t *testing.T) {
	first := newFakeTransport()
	second := newFakeTransport()
	m, _ := newTestManager(t, first, second)

	if _, err := m.Add("ticker", []string{"KRW-BTC"}, nil); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	firstFrame := first.waitSent(t, time.Second)
	firstTicket := extractTicket(t, firstFrame)

	// Kill the connection; the manager reconnects on the second transport
	// and the ordinary notification path resubscribes everything.
	first.errors <- ErrStaleConnection

	resubFrame := second.waitSent(t, 2*time.Second)
	var frame []map[string]any
	if err := json.Unmarshal(resubFrame, &frame); err != nil {
		t.Fatalf("resubscribe frame invalid: %v", err)
	}

	found := false
	for _, block := range frame {
		if block["type"] == "ticker" {
			found = true
			codes := block["codes"].([]any)
			if len(codes) != 1 || codes[0] != "KRW-BTC" {
				t.Errorf("resubscribe codes = %v, want [KRW-BTC]", codes)
			}
		}
	}
	if !found {
		t.Error("resubscribe frame missing ticker block")
	}

	// Reconnect rotates the ticket.
	if got := extractTicket(t, resubFrame); got == firstTicket {
		t.Error("ticket not rotated on reconnect")
	}
}

func TestManager_PayloadDecoding(t *testing.T) {
	transport := newFakeTransport()
	m, _ := newTestManager(t, transport)

	raw := []byte(`{"type":"ticker","code":"KRW-BTC","trade_price":50000000.0,"stream_type":"REALTIME"}`)
	transport.messages <- TimestampedMessage{Data: raw, ReceivedAt: time.Now()}

	select {
	case payload := <-m.Payloads():
		if payload.Type != model.TypeTicker {
			t.Errorf("Type = %s, want ticker", payload.Type)
		}
		if payload.Market != "KRW-BTC" {
			t.Errorf("Market = %s, want KRW-BTC", payload.Market)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for decoded payload")
	}
}

func TestManager_KeepaliveStatusFiltered(t *testing.T) {
	transport := newFakeTransport()
	m, _ := newTestManager(t, transport)

	transport.messages <- TimestampedMessage{
		Data:       []byte(`{"status":"UP"}`),
		ReceivedAt: time.Now(),
	}

	select {
	case payload := <-m.Payloads():
		t.Errorf("keepalive leaked as payload: %+v", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestManager_HealthReflectsState(t *testing.T) {
	transport := newFakeTransport()
	m, _ := newTestManager(t, transport)

	h := m.Health()
	if !h.Connected {
		t.Error("Connected = false, want true")
	}
	if h.ReconnectBackoff {
		t.Error("ReconnectBackoff = true, want false")
	}

	m.Add("ticker", []string{"KRW-BTC"}, nil)
	m.Add("trade", []string{"KRW-BTC"}, nil)

	if h := m.Health(); h.SubscribedTypes != 2 {
		t.Errorf("SubscribedTypes = %d, want 2", h.SubscribedTypes)
	}
}

func TestManager_HealthDegradedOnStaleTransport(t *testing.T) {
	transport := newFakeTransport()
	m, _ := newTestManager(t, transport)

	if h := m.Health(); h.Degraded {
		t.Error("Degraded = true on a fresh connection")
	}

	transport.setStale(true)

	h := m.Health()
	if !h.Connected {
		t.Error("Connected = false, want true")
	}
	if !h.Degraded {
		t.Error("Degraded = false with lapsed pong window, want true")
	}
}

func TestManager_SubscribedTracksTicket(t *testing.T) {
	transport := newFakeTransport()
	m, _ := newTestManager(t, transport)

	if m.Subscribed("ticker") {
		t.Error("Subscribed(ticker) = true before any Add")
	}

	if _, err := m.Add("ticker", []string{"KRW-BTC"}, nil); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if !m.Subscribed("ticker") {
		t.Error("Subscribed(ticker) = false after Add")
	}
	if m.Subscribed("trade") {
		t.Error("Subscribed(trade) = true, only ticker was added")
	}
}
