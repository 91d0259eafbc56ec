package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PipelineState is the send pipeline's position in its cycle.
type PipelineState int32

const (
	StateIdle PipelineState = iota
	StatePending
	StateSending
)

func (s PipelineState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSending:
		return "sending"
	default:
		return "idle"
	}
}

// AdmissionGate is the rate limiter surface the pipeline needs.
type AdmissionGate interface {
	Wait(ctx context.Context, group string) error
}

// FrameSource renders the current consolidated subscription state. It is
// read at send time, never at schedule time.
type FrameSource interface {
	Empty() bool
	Render() ([]byte, error)
}

// SendFunc transmits one rendered frame.
type SendFunc func(data []byte) error

// Pipeline turns bursts of subscription-state-change notifications into one
// outgoing frame per batching window. At most one pending handler exists per
// connection; notifications while one is pending are absorbed for free
// because the handler re-reads state when it finally sends.
type Pipeline struct {
	logger   *slog.Logger
	source   FrameSource
	gate     AdmissionGate
	send     SendFunc
	group    string
	debounce time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	state PipelineState
	rearm bool // a change arrived mid-send; run one more window after

	sent int64
}

// NewPipeline creates a send pipeline for one connection.
func NewPipeline(source FrameSource, gate AdmissionGate, send SendFunc, group string, debounce time.Duration, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		logger:   logger,
		source:   source,
		gate:     gate,
		send:     send,
		group:    group,
		debounce: debounce,
		// Notify may fire before Start; the handler needs a live context
		// from the first moment.
		ctx: context.Background(),
	}
}

// Start arms the pipeline.
func (p *Pipeline) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
}

// Stop cancels any pending window and waits for the handler to finish.
// Unsent consolidated state is dropped by contract: a fresh subscribe call
// after restart re-establishes full state.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// State returns the current pipeline state.
func (p *Pipeline) State() PipelineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Sent returns how many frames the pipeline has transmitted.
func (p *Pipeline) Sent() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

// Notify signals that subscription state changed. Check-and-set single
// flight: only an idle pipeline schedules a handler. A pending handler
// already covers the change; a sending handler re-arms one follow-up window
// so the change is not lost.
func (p *Pipeline) Notify() {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateIdle:
		p.state = StatePending
		p.wg.Add(1)
		go p.run()
	case StatePending:
		// The mutation already stands; the handler reads at send time.
	case StateSending:
		p.rearm = true
	}
}

// Reset forces the pipeline back to idle. Used on reconnect: the in-flight
// handler, if any, fails its send harmlessly against the dead connection.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateIdle
	p.rearm = false
}

// run is the pending handler body. It sleeps the debounce window to admit
// more concurrent changes, passes the admission gate (which may add further
// wait under load), then renders the state as it exists at that moment and
// transmits it.
func (p *Pipeline) run() {
	defer p.wg.Done()

	if !p.sleep(p.debounce) {
		p.toIdle()
		return
	}

	if err := p.gate.Wait(p.ctx, p.group); err != nil {
		p.toIdle()
		return
	}

	if p.source.Empty() {
		// Everything was removed while we waited; nothing to send.
		p.toIdle()
		return
	}

	// Read-at-send: any change accepted before this line is in the frame.
	frame, err := p.source.Render()
	if err != nil {
		p.logger.Error("render subscribe frame failed", "error", err)
		p.toIdle()
		return
	}

	p.mu.Lock()
	if p.state != StatePending {
		// Reset raced us; the connection this frame was meant for is gone.
		p.mu.Unlock()
		return
	}
	p.state = StateSending
	p.mu.Unlock()

	if err := p.send(frame); err != nil {
		p.logger.Warn("subscribe frame send failed", "error", err)
		p.toIdle()
		return
	}

	p.mu.Lock()
	p.sent++
	if p.rearm {
		// A change landed mid-send; run one more window for it.
		p.rearm = false
		p.state = StatePending
		p.wg.Add(1)
		go p.run()
	} else {
		p.state = StateIdle
	}
	p.mu.Unlock()
}

// sleep waits d, returning false if the pipeline was stopped first.
func (p *Pipeline) sleep(d time.Duration) bool {
	if d <= 0 {
		return p.ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-p.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (p *Pipeline) toIdle() {
	p.mu.Lock()
	p.state = StateIdle
	p.rearm = false
	p.mu.Unlock()
}
