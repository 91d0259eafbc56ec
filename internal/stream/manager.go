package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joonwoo-kim/upbit-feed/internal/model"
	"github.com/joonwoo-kim/upbit-feed/internal/subscription"
)

// Manager owns one connection's full streaming stack: WebSocket client,
// subscription state, and the debounced send pipeline.
type Manager interface {
	// Start connects and begins reading.
	Start(ctx context.Context) error

	// Stop gracefully shuts the connection down.
	Stop(ctx context.Context) error

	// Add merges a subscription change and nudges the send pipeline.
	Add(dataType string, symbols []string, params map[string]any) (subscription.Ticket, error)

	// Remove applies a symbol-set difference and nudges the send pipeline.
	Remove(dataType string, symbols []string)

	// Payloads returns the channel of decoded stream payloads.
	Payloads() <-chan model.StreamPayload

	// Subscribed reports whether the type is already on the current ticket.
	Subscribed(dataType string) bool

	// Health returns a point-in-time view for channel selection.
	Health() Health

	// Stats returns runtime statistics.
	Stats() ManagerStats
}

// Health is the connection state consumed by the channel selector.
type Health struct {
	Connected        bool
	Degraded         bool // Up but unhealthy: stale pongs or a saturated payload buffer
	ReconnectBackoff bool
	SubscribedTypes  int
}

// ManagerStats provides statistics about one connection.
type ManagerStats struct {
	Connected     bool
	FramesSent    int64
	PayloadsRead  int64
	Reconnects    int64
	PipelineState string
}

// manager implements the Manager interface.
type manager struct {
	cfg    ManagerConfig
	gate   AdmissionGate
	logger *slog.Logger

	subs     *subscription.Manager
	pipeline *Pipeline

	// newClient is swappable so tests can inject a fake transport.
	newClient func() Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	payloads chan model.StreamPayload

	clientMu sync.RWMutex
	client   Client

	inBackoff    atomic.Bool
	payloadsRead atomic.Int64
	reconnects   atomic.Int64
}

// NewManager creates a connection manager. The client factory is called on
// every (re)connect.
func NewManager(cfg ManagerConfig, gate AdmissionGate, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("conn", cfg.Name)

	m := &manager{
		cfg:      cfg,
		gate:     gate,
		logger:   logger,
		subs:     subscription.NewManager(cfg.MaxTypesPerTicket, logger),
		payloads: make(chan model.StreamPayload, cfg.PayloadBufferSize),
	}

	m.newClient = func() Client {
		clientCfg := DefaultClientConfig()
		clientCfg.URL = cfg.WSURL
		clientCfg.AuthToken = cfg.AuthToken
		if cfg.PingInterval > 0 {
			clientCfg.PingInterval = cfg.PingInterval
		}
		if cfg.WriteTimeout > 0 {
			clientCfg.WriteTimeout = cfg.WriteTimeout
		}
		return NewClient(clientCfg, logger)
	}

	m.pipeline = NewPipeline(m.subs, gate, m.sendFrame, cfg.RateGroup, cfg.DebounceDelay, logger)

	return m
}

// Start connects and begins the read loop.
func (m *manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.pipeline.Start(m.ctx)

	client := m.newClient()
	if err := client.Connect(m.ctx); err != nil {
		return err
	}

	m.clientMu.Lock()
	m.client = client
	m.clientMu.Unlock()

	m.wg.Add(1)
	go m.readLoop(client)

	m.logger.Info("stream connection started",
		"url", m.cfg.WSURL,
		"rate_group", m.cfg.RateGroup,
		"debounce", m.cfg.DebounceDelay,
	)

	return nil
}

// Stop shuts everything down. The pending pipeline task is cancelled;
// unsent consolidated state is intentionally dropped.
func (m *manager) Stop(ctx context.Context) error {
	m.logger.Info("stopping stream connection")

	if m.cancel != nil {
		m.cancel()
	}
	m.pipeline.Stop()

	m.clientMu.RLock()
	client := m.client
	m.clientMu.RUnlock()
	if client != nil {
		client.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("stream shutdown timed out")
	}

	close(m.payloads)
	m.logger.Info("stream connection stopped")
	return nil
}

// Add merges the change into the unified subscription, then notifies the
// pipeline. Validation errors surface here and never reach the pipeline.
func (m *manager) Add(dataType string, symbols []string, params map[string]any) (subscription.Ticket, error) {
	ticket, err := m.subs.Add(dataType, symbols, params)
	if err != nil {
		return "", err
	}

	m.pipeline.Notify()
	return ticket, nil
}

// Remove applies the symbol diff and notifies the pipeline so the shrunk
// state goes out with the next frame.
func (m *manager) Remove(dataType string, symbols []string) {
	m.subs.Remove(dataType, symbols)
	m.pipeline.Notify()
}

// Payloads returns the decoded payload channel.
func (m *manager) Payloads() <-chan model.StreamPayload {
	return m.payloads
}

// Subscribed reports whether the type already occupies a ticket slot.
func (m *manager) Subscribed(dataType string) bool {
	return m.subs.Contains(dataType)
}

// Health returns the selector's view of this connection.
func (m *manager) Health() Health {
	m.clientMu.RLock()
	client := m.client
	m.clientMu.RUnlock()

	connected := client != nil && client.IsConnected()
	degraded := false
	if connected {
		degraded = client.Stale() || len(m.payloads) == cap(m.payloads)
	}

	return Health{
		Connected:        connected,
		Degraded:         degraded,
		ReconnectBackoff: m.inBackoff.Load(),
		SubscribedTypes:  m.subs.TypeCount(),
	}
}

// Stats returns runtime statistics.
func (m *manager) Stats() ManagerStats {
	m.clientMu.RLock()
	client := m.client
	m.clientMu.RUnlock()

	return ManagerStats{
		Connected:     client != nil && client.IsConnected(),
		FramesSent:    m.pipeline.Sent(),
		PayloadsRead:  m.payloadsRead.Load(),
		Reconnects:    m.reconnects.Load(),
		PipelineState: m.pipeline.State().String(),
	}
}

// sendFrame transmits a rendered subscribe frame on the live client.
func (m *manager) sendFrame(data []byte) error {
	m.clientMu.RLock()
	client := m.client
	m.clientMu.RUnlock()

	if client == nil {
		return ErrNotConnected
	}
	return client.Send(data)
}

// readLoop decodes frames from one client until it errors or we shut down.
func (m *manager) readLoop(client Client) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return

		case err := <-client.Errors():
			m.logger.Warn("stream connection error", "error", err)
			m.wg.Add(1)
			go m.reconnect()
			return

		case msg, ok := <-client.Messages():
			if !ok {
				return
			}
			m.handleFrame(msg)
		}
	}
}

// handleFrame decodes one raw frame into a stream payload.
func (m *manager) handleFrame(msg TimestampedMessage) {
	var env DataMessage
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		m.logger.Debug("undecodable frame", "error", err)
		return
	}

	if env.Status != "" && env.Type == "" {
		// Keepalive status response, not market data.
		return
	}

	payload := model.StreamPayload{
		Type:       model.DataType(env.Type),
		Market:     env.Code,
		Data:       msg.Data,
		ReceivedAt: msg.ReceivedAt,
	}

	select {
	case m.payloads <- payload:
		m.payloadsRead.Add(1)
	case <-m.ctx.Done():
	default:
		m.logger.Warn("payload buffer full, dropping", "type", env.Type, "code", env.Code)
	}
}

// reconnect re-establishes the connection with exponential backoff, then
// lets the ordinary notification path produce the full resubscribe frame.
// There is no special-cased resend logic.
func (m *manager) reconnect() {
	defer m.wg.Done()

	m.inBackoff.Store(true)
	defer m.inBackoff.Store(false)

	wait := m.cfg.ReconnectBaseWait
	maxWait := m.cfg.ReconnectMaxWait

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-time.After(wait):
		}

		m.logger.Info("attempting stream reconnection")

		m.clientMu.Lock()
		if m.client != nil {
			m.client.Close()
		}
		client := m.newClient()
		m.client = client
		m.clientMu.Unlock()

		if err := client.Connect(m.ctx); err != nil {
			m.logger.Warn("reconnection failed", "error", err)

			wait *= 2
			if wait > maxWait {
				wait = maxWait
			}
			continue
		}

		m.reconnects.Add(1)
		m.logger.Info("stream reconnected")

		// The pipeline returns to idle; subscription state is untouched
		// except for rotating the ticket. The state-changed notification
		// then drives a full resubscribe through the normal pipeline.
		m.pipeline.Reset()
		if !m.subs.Empty() {
			m.subs.Reset()
			m.pipeline.Notify()
		}

		m.wg.Add(1)
		go m.readLoop(client)

		return
	}
}
