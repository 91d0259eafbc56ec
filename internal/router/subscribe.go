package router

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/joonwoo-kim/upbit-feed/internal/model"
	"github.com/joonwoo-kim/upbit-feed/internal/subscription"
)

// Handle correlates a caller's logical subscription with entries on the
// shared ticket.
type Handle string

// Callback receives decoded stream payloads. Callbacks run on the fan-out
// goroutine and must not block.
type Callback func(model.StreamPayload)

type subscriber struct {
	handle   Handle
	dataType model.DataType
	symbols  map[string]bool
	callback Callback
}

func (s *subscriber) matches(t model.DataType, market string) bool {
	return s.dataType == t && s.symbols[market]
}

// Subscribe registers continuous interest. The change merges into the
// connection's unified subscription; the returned handle scopes the later
// Unsubscribe.
func (r *Router) Subscribe(dataType string, symbols []string, params map[string]any, cb Callback) (Handle, error) {
	if cb == nil {
		return "", fmt.Errorf("callback is required")
	}

	normalized, err := subscription.NormalizeDataType(dataType)
	if err != nil {
		return "", err
	}

	if _, err := r.stream.Add(string(normalized), symbols, params); err != nil {
		return "", err
	}

	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		set[s] = true
	}

	h := Handle(uuid.NewString())
	r.subMu.Lock()
	r.subs[h] = &subscriber{
		handle:   h,
		dataType: normalized,
		symbols:  set,
		callback: cb,
	}
	r.subMu.Unlock()

	r.logger.Info("subscriber added",
		"handle", h,
		"type", normalized,
		"symbols", len(symbols),
	)
	return h, nil
}

// Unsubscribe drops a handle. Symbols still wanted by another handle stay
// on the ticket; only the difference is removed from the subscription.
func (r *Router) Unsubscribe(h Handle) error {
	r.subMu.Lock()
	sub, ok := r.subs[h]
	if !ok {
		r.subMu.Unlock()
		return fmt.Errorf("unknown handle %q", h)
	}
	delete(r.subs, h)

	stillWanted := make(map[string]bool)
	for _, other := range r.subs {
		if other.dataType != sub.dataType {
			continue
		}
		for sym := range other.symbols {
			stillWanted[sym] = true
		}
	}
	r.subMu.Unlock()

	var remove []string
	for sym := range sub.symbols {
		if !stillWanted[sym] {
			remove = append(remove, sym)
		}
	}

	if len(remove) > 0 {
		r.stream.Remove(string(sub.dataType), remove)
	}

	r.logger.Info("subscriber removed",
		"handle", h,
		"type", sub.dataType,
		"released", len(remove),
	)
	return nil
}
