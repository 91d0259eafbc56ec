package stream

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/joonwoo-kim/upbit-feed/internal/subscription"
)

// fakeGate is an AdmissionGate with a fixed, honored wait.
type fakeGate struct {
	delay time.Duration

	mu    sync.Mutex
	calls int
}

func (g *fakeGate) Wait(ctx context.Context, group string) error {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()

	if g.delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(g.delay):
		return nil
	}
}

func (g *fakeGate) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// frameRecorder captures transmitted frames and signals each send.
type frameRecorder struct {
	mu     sync.Mutex
	frames [][]byte
	sendAt []time.Time
	notify chan struct{}
	delay  time.Duration // simulated transmit time
	err    error
}

func newFrameRecorder() *frameRecorder {
	return &frameRecorder{notify: make(chan struct{}, 16)}
}

func (r *frameRecorder) send(data []byte) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	r.mu.Lock()
	if r.err != nil {
		err := r.err
		r.mu.Unlock()
		return err
	}
	r.frames = append(r.frames, data)
	r.sendAt = append(r.sendAt, time.Now())
	r.mu.Unlock()

	r.notify <- struct{}{}
	return nil
}

func (r *frameRecorder) waitFrame(t *testing.T, timeout time.Duration) []byte {
	t.Helper()
	select {
	case <-r.notify:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a frame")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames[len(r.frames)-1]
}

func (r *frameRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// decodeFrame unmarshals a subscribe frame into its blocks.
func decodeFrame(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var frame []map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("frame is not valid JSON: %v", err)
	}
	return frame
}

// frameTypes returns the type blocks of a frame, in order.
func frameTypes(frame []map[string]any) []string {
	var types []string
	for _, block := range frame {
		if v, ok := block["type"]; ok {
			types = append(types, v.(string))
		}
	}
	return types
}

func newTestPipeline(t *testing.T, gate *fakeGate, rec *frameRecorder, debounce time.Duration) (*Pipeline, *subscription.Manager) {
	t.Helper()

	subs := subscription.NewManager(10, nil)
	p := NewPipeline(subs, gate, rec.send, "websocket-connect", debounce, nil)
	p.Start(context.Background())
	t.Cleanup(p.Stop)

	return p, subs
}

func TestPipeline_DebounceConsolidation(t *testing.T) {
	gate := &fakeGate{}
	rec := newFrameRecorder()
	p, subs := newTestPipeline(t, gate, rec, 60*time.Millisecond)

	// N changes inside the debounce window while no task existed yet.
	subs.Add("ticker", []string{"KRW-BTC"}, nil)
	p.Notify()
	subs.Add("trade", []string{"KRW-BTC"}, nil)
	p.Notify()
	subs.Add("orderbook", []string{"KRW-ETH"}, nil)
	p.Notify()

	frame := decodeFrame(t, rec.waitFrame(t, time.Second))

	types := frameTypes(frame)
	if len(types) != 3 {
		t.Fatalf("frame carries %d type blocks, want 3: %v", len(types), types)
	}

	// Exactly one message went out for the whole burst.
	time.Sleep(150 * time.Millisecond)
	if n := rec.count(); n != 1 {
		t.Errorf("frames sent = %d, want 1", n)
	}
	if calls := gate.Calls(); calls != 1 {
		t.Errorf("admission gate calls = %d, want 1", calls)
	}
}

func TestPipeline_NotifyBeforeStart(t *testing.T) {
	gate := &fakeGate{}
	rec := newFrameRecorder()

	subs := subscription.NewManager(10, nil)
	p := NewPipeline(subs, gate, rec.send, "websocket-connect", 20*time.Millisecond, nil)
	t.Cleanup(p.Stop)

	// A change can land before Start arms the pipeline. It must schedule a
	// window, not panic.
	subs.Add("ticker", []string{"KRW-BTC"}, nil)
	p.Notify()

	frame := decodeFrame(t, rec.waitFrame(t, time.Second))
	if types := frameTypes(frame); len(types) != 1 || types[0] != "ticker" {
		t.Errorf("frame types = %v, want [ticker]", types)
	}
}

func TestPipeline_ReadAtSendFreshness(t *testing.T) {
	gate := &fakeGate{delay: 120 * time.Millisecond}
	rec := newFrameRecorder()
	p, subs := newTestPipeline(t, gate, rec, 40*time.Millisecond)

	subs.Add("ticker", []string{"KRW-BTC"}, nil)
	p.Notify()

	// Land a change mid-rate-limiter-wait: debounce has elapsed, the gate
	// is still sleeping.
	time.Sleep(100 * time.Millisecond)
	subs.Add("trade", []string{"KRW-BTC"}, nil)
	p.Notify()

	frame := decodeFrame(t, rec.waitFrame(t, time.Second))

	types := frameTypes(frame)
	if len(types) != 2 {
		t.Fatalf("frame carries %v, want both ticker and trade", types)
	}

	time.Sleep(150 * time.Millisecond)
	if n := rec.count(); n != 1 {
		t.Errorf("frames sent = %d, want 1 (change mid-wait consolidated)", n)
	}
}

func TestPipeline_EndToEndTiming(t *testing.T) {
	gate := &fakeGate{delay: 100 * time.Millisecond}
	rec := newFrameRecorder()
	p, subs := newTestPipeline(t, gate, rec, 100*time.Millisecond)

	start := time.Now()

	subs.Add("ticker", []string{"KRW-BTC"}, nil)
	p.Notify()

	time.Sleep(50 * time.Millisecond)
	subs.Add("orderbook", []string{"KRW-BTC"}, nil)
	p.Notify()

	time.Sleep(30 * time.Millisecond)
	subs.Add("trade", []string{"KRW-BTC"}, nil)
	p.Notify()

	frame := decodeFrame(t, rec.waitFrame(t, 2*time.Second))
	elapsed := time.Since(start)

	// debounce (100ms) + simulated limiter wait (100ms), small scheduling slack.
	if elapsed < 190*time.Millisecond || elapsed > 500*time.Millisecond {
		t.Errorf("frame arrived after %v, want ≈200ms", elapsed)
	}

	types := frameTypes(frame)
	if len(types) != 3 {
		t.Fatalf("frame carries %d type blocks, want 3: %v", len(types), types)
	}

	ticketEntries := 0
	for _, block := range frame {
		if _, ok := block["ticket"]; ok {
			ticketEntries++
		}
	}
	if ticketEntries != 1 {
		t.Errorf("ticket entries = %d, want 1", ticketEntries)
	}

	time.Sleep(150 * time.Millisecond)
	if n := rec.count(); n != 1 {
		t.Errorf("frames sent = %d, want exactly 1", n)
	}
}

func TestPipeline_ChangeDuringSendRearms(t *testing.T) {
	gate := &fakeGate{}
	rec := newFrameRecorder()
	rec.delay = 80 * time.Millisecond // hold the pipeline in SENDING

	p, subs := newTestPipeline(t, gate, rec, 20*time.Millisecond)

	subs.Add("ticker", []string{"KRW-BTC"}, nil)
	p.Notify()

	// Wait until the handler is inside send, then land another change.
	time.Sleep(60 * time.Millisecond)
	subs.Add("trade", []string{"KRW-BTC"}, nil)
	p.Notify()

	rec.waitFrame(t, time.Second)
	second := decodeFrame(t, rec.waitFrame(t, time.Second))

	types := frameTypes(second)
	if len(types) != 2 {
		t.Errorf("follow-up frame carries %v, want ticker and trade", types)
	}
}

func TestPipeline_EmptyStateSendsNothing(t *testing.T) {
	gate := &fakeGate{}
	rec := newFrameRecorder()
	p, subs := newTestPipeline(t, gate, rec, 20*time.Millisecond)

	subs.Add("ticker", []string{"KRW-BTC"}, nil)
	subs.Remove("ticker", []string{"KRW-BTC"})
	p.Notify()

	time.Sleep(120 * time.Millisecond)
	if n := rec.count(); n != 0 {
		t.Errorf("frames sent = %d, want 0 for empty state", n)
	}
	if got := p.State(); got != StateIdle {
		t.Errorf("state = %s, want idle", got)
	}
}

func TestPipeline_StopCancelsPendingWindow(t *testing.T) {
	gate := &fakeGate{}
	rec := newFrameRecorder()

	subs := subscription.NewManager(10, nil)
	p := NewPipeline(subs, gate, rec.send, "websocket-connect", 200*time.Millisecond, nil)
	p.Start(context.Background())

	subs.Add("ticker", []string{"KRW-BTC"}, nil)
	p.Notify()

	p.Stop()

	time.Sleep(250 * time.Millisecond)
	if n := rec.count(); n != 0 {
		t.Errorf("frames sent = %d, want 0 after cancelled window", n)
	}
}

func TestPipeline_SendFailureReturnsToIdle(t *testing.T) {
	gate := &fakeGate{}
	rec := newFrameRecorder()
	rec.err = ErrNotConnected

	p, subs := newTestPipeline(t, gate, rec, 10*time.Millisecond)

	subs.Add("ticker", []string{"KRW-BTC"}, nil)
	p.Notify()

	time.Sleep(100 * time.Millisecond)
	if got := p.State(); got != StateIdle {
		t.Errorf("state after failed send = %s, want idle", got)
	}

	// Subscription state is untouched; the next window retransmits it.
	if subs.Empty() {
		t.Error("subscription state rolled back on send failure")
	}
}
