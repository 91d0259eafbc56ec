package subscription

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/joonwoo-kim/upbit-feed/internal/model"
)

// Errors raised synchronously at Add. Nothing invalid enters the pipeline.
var (
	ErrNoSymbols      = errors.New("subscription needs at least one symbol")
	ErrTicketCapacity = errors.New("max data types per ticket exceeded")
)

// Ticket is the correlation id the exchange requires on subscribe frames.
type Ticket string

// ticketCounter backs ticket generation across all managers in the process.
// Wall-clock ticket ids collide under rapid churn; a monotonic counter plus
// a UUID fragment does not.
var ticketCounter atomic.Int64

func newTicket() Ticket {
	n := ticketCounter.Add(1)
	return Ticket(fmt.Sprintf("feed-%d-%s", n, uuid.NewString()[:8]))
}

// entry is the consolidated state for one data type on the ticket.
type entry struct {
	symbols map[string]struct{}
	params  map[string]any
}

// Manager maintains the UnifiedSubscription for a single connection and
// renders it to the wire format. Mutations are synchronous and never
// suspend; the send pipeline re-reads state at send time.
type Manager struct {
	logger            *slog.Logger
	maxTypesPerTicket int
	now               func() time.Time

	mu           sync.Mutex
	ticket       Ticket
	entries      map[model.DataType]*entry
	createdAt    time.Time
	lastUpdated  time.Time
	messageCount int64
}

// NewManager creates a subscription manager for one connection.
func NewManager(maxTypesPerTicket int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:            logger,
		maxTypesPerTicket: maxTypesPerTicket,
		now:               time.Now,
		entries:           make(map[model.DataType]*entry),
	}
}

// Add merges a subscription change into the current ticket. The first change
// after a reset allocates the ticket; every later change while it is current
// mutates the existing state and returns the same ticket. Symbol sets union;
// params are last-write-wins.
func (m *Manager) Add(rawType string, symbols []string, params map[string]any) (Ticket, error) {
	if len(symbols) == 0 {
		return "", ErrNoSymbols
	}

	dataType, err := NormalizeDataType(rawType)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.entries[dataType]
	if !exists {
		if m.maxTypesPerTicket > 0 && len(m.entries) >= m.maxTypesPerTicket {
			return "", fmt.Errorf("%w: %d types on ticket", ErrTicketCapacity, len(m.entries))
		}
		e = &entry{symbols: make(map[string]struct{})}
		m.entries[dataType] = e
	}

	for _, s := range symbols {
		e.symbols[s] = struct{}{}
	}
	if len(params) > 0 {
		if e.params == nil {
			e.params = make(map[string]any, len(params))
		}
		for k, v := range params {
			e.params[k] = v
		}
	}

	if m.ticket == "" {
		m.ticket = newTicket()
		m.createdAt = m.now()
		m.logger.Debug("allocated subscription ticket", "ticket", string(m.ticket))
	}
	m.lastUpdated = m.now()

	return m.ticket, nil
}

// Remove applies a symbol-set difference for one data type. A type whose
// symbol set becomes empty is dropped entirely; an all-empty subscription
// keeps its ticket until an explicit Reset.
func (m *Manager) Remove(rawType string, symbols []string) {
	dataType, err := NormalizeDataType(rawType)
	if err != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[dataType]
	if !ok {
		return
	}

	for _, s := range symbols {
		delete(e.symbols, s)
	}
	if len(e.symbols) == 0 {
		delete(m.entries, dataType)
	}
	m.lastUpdated = m.now()
}

// Streams returns a read-only snapshot of the consolidated state, symbols
// sorted. The send pipeline calls this at send time, not at schedule time.
func (m *Manager) Streams() map[model.DataType][]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[model.DataType][]string, len(m.entries))
	for t, e := range m.entries {
		codes := make([]string, 0, len(e.symbols))
		for s := range e.symbols {
			codes = append(codes, s)
		}
		sort.Strings(codes)
		out[t] = codes
	}
	return out
}

// Ticket returns the current ticket, empty if none has been allocated.
func (m *Manager) Ticket() Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticket
}

// Empty reports whether the subscription holds no entries.
func (m *Manager) Empty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries) == 0
}

// Contains reports whether the data type already holds a slot on the ticket.
// Unknown type names never match.
func (m *Manager) Contains(rawType string) bool {
	dataType, err := NormalizeDataType(rawType)
	if err != nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[dataType]
	return ok
}

// TypeCount returns the number of distinct data types on the ticket.
func (m *Manager) TypeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Render serializes the current state to the exchange subscribe frame:
//
//	[{"ticket": ...}, {"type": ..., "codes": [...], ...params}, ..., {"format": "DEFAULT"}]
//
// Types are rendered in sorted order so the frame is deterministic.
func (m *Manager) Render() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ticket == "" {
		return nil, errors.New("no ticket allocated")
	}

	types := make([]model.DataType, 0, len(m.entries))
	for t := range m.entries {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	frame := make([]map[string]any, 0, len(types)+2)
	frame = append(frame, map[string]any{"ticket": string(m.ticket)})

	for _, t := range types {
		e := m.entries[t]
		codes := make([]string, 0, len(e.symbols))
		for s := range e.symbols {
			codes = append(codes, s)
		}
		sort.Strings(codes)

		block := map[string]any{
			"type":  string(t),
			"codes": codes,
		}
		for k, v := range e.params {
			block[k] = v
		}
		frame = append(frame, block)
	}

	frame = append(frame, map[string]any{"format": "DEFAULT"})

	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("render subscribe frame: %w", err)
	}

	m.messageCount++
	return data, nil
}

// MessageCount returns how many frames have been rendered for this ticket.
func (m *Manager) MessageCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messageCount
}

// Reset rotates the ticket. Entries are preserved so a reconnect resubscribes
// the full consolidated state under the fresh ticket.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) > 0 {
		m.ticket = newTicket()
	} else {
		m.ticket = ""
	}
	m.messageCount = 0
	m.createdAt = m.now()
	m.logger.Debug("subscription ticket rotated", "ticket", string(m.ticket))
}
