package selector

import (
	"strings"
	"testing"
	"time"

	"github.com/joonwoo-kim/upbit-feed/internal/model"
)

func healthySnapshot() HealthSnapshot {
	return HealthSnapshot{
		Now:               time.Unix(1700000000, 0),
		StreamConnected:   true,
		SubscribedTypes:   2,
		MaxTypesPerTicket: 5,
		StreamQuotaOK:     true,
		OneshotQuotaOK:    true,
	}
}

func TestSelect_HistoricalRangeForcesOneshot(t *testing.T) {
	req := model.DataRequest{
		Symbols:  []string{"KRW-BTC"},
		Type:     model.TypeTicker,
		Priority: model.PriorityHigh,
		TimeRange: model.TimeRange{
			From: time.Unix(1690000000, 0),
			To:   time.Unix(1690003600, 0),
		},
	}

	d := Select(req, healthySnapshot())
	if d.Channel != ChannelOneshot {
		t.Errorf("Channel = %s, want oneshot", d.Channel)
	}
	if d.Reason != "historical time range" {
		t.Errorf("Reason = %q, want historical time range", d.Reason)
	}
}

func TestSelect_TicketCapacityForcesOneshot(t *testing.T) {
	h := healthySnapshot()
	h.SubscribedTypes = 5
	h.MaxTypesPerTicket = 5

	req := model.DataRequest{
		Symbols:  []string{"KRW-BTC"},
		Type:     model.TypeTrade,
		Priority: model.PriorityHigh,
	}

	if d := Select(req, h); d.Channel != ChannelOneshot {
		t.Errorf("Channel = %s, want oneshot when ticket full", d.Channel)
	}
}

func TestSelect_FullTicketAllowsAlreadySubscribedType(t *testing.T) {
	h := healthySnapshot()
	h.SubscribedTypes = 5
	h.MaxTypesPerTicket = 5
	h.TypeOnTicket = true

	// Merging symbols into a type already on the ticket never charges
	// capacity, so the stream stays available.
	req := model.DataRequest{
		Symbols:  []string{"KRW-ETH"},
		Type:     model.TypeTicker,
		Priority: model.PriorityHigh,
	}

	d := Select(req, h)
	if d.Channel != ChannelStream {
		t.Errorf("Channel = %s, want stream for a type already on the ticket", d.Channel)
	}
	if strings.HasPrefix(d.Reason, "ticket full") {
		t.Errorf("Reason = %q, capacity must not block subscribed types", d.Reason)
	}
}

func TestSelect_ReconnectBackoffForcesOneshot(t *testing.T) {
	h := healthySnapshot()
	h.StreamConnected = false
	h.ReconnectBackoff = true

	req := model.DataRequest{
		Symbols:  []string{"KRW-BTC"},
		Type:     model.TypeTicker,
		Priority: model.PriorityHigh,
	}

	if d := Select(req, h); d.Channel != ChannelOneshot {
		t.Errorf("Channel = %s, want oneshot during backoff", d.Channel)
	}
}

func TestSelect_BothUnhealthyStillAnswers(t *testing.T) {
	h := HealthSnapshot{
		Now:               time.Unix(1700000000, 0),
		StreamConnected:   false,
		StreamDegraded:    true,
		MaxTypesPerTicket: 5,
	}

	req := model.DataRequest{
		Symbols:  []string{"KRW-BTC"},
		Type:     model.TypeTicker,
		Priority: model.PriorityHigh,
	}

	d := Select(req, h)
	if d.Channel != ChannelOneshot {
		t.Errorf("Channel = %s, want oneshot", d.Channel)
	}
	if d.Reason != "degraded" {
		t.Errorf("Reason = %q, want degraded", d.Reason)
	}
}

func TestSelect_DegradedStreamErodesScore(t *testing.T) {
	symbols := make([]string, 8)
	for i := range symbols {
		symbols[i] = "KRW-TEST"
	}
	req := model.DataRequest{
		Symbols:    symbols,
		Type:       model.TypeTicker,
		Priority:   model.PriorityMedium,
		IsSnapshot: true,
	}

	if d := Select(req, healthySnapshot()); d.Channel != ChannelStream {
		t.Fatalf("Channel = %s, want stream while healthy", d.Channel)
	}

	h := healthySnapshot()
	h.StreamDegraded = true
	if d := Select(req, h); d.Channel != ChannelOneshot {
		t.Errorf("Channel = %s, want oneshot once the stream degrades", d.Channel)
	}
}

func TestSelect_DegradedStreamNoQuotaStillAnswers(t *testing.T) {
	h := healthySnapshot()
	h.StreamDegraded = true
	h.OneshotQuotaOK = false

	req := model.DataRequest{
		Symbols:  []string{"KRW-BTC"},
		Type:     model.TypeTicker,
		Priority: model.PriorityHigh,
	}

	d := Select(req, h)
	if d.Channel != ChannelOneshot {
		t.Errorf("Channel = %s, want oneshot", d.Channel)
	}
	if d.Reason != "degraded" {
		t.Errorf("Reason = %q, want degraded", d.Reason)
	}
}

func TestSelect_HighPriorityPrefersStream(t *testing.T) {
	req := model.DataRequest{
		Symbols:  []string{"KRW-BTC"},
		Type:     model.TypeTicker,
		Priority: model.PriorityHigh,
	}

	if d := Select(req, healthySnapshot()); d.Channel != ChannelStream {
		t.Errorf("Channel = %s, want stream for high priority", d.Channel)
	}
}

func TestSelect_LowPrioritySnapshotPrefersOneshot(t *testing.T) {
	req := model.DataRequest{
		Symbols:    []string{"KRW-BTC"},
		Type:       model.TypeOrderbook,
		Priority:   model.PriorityLow,
		IsSnapshot: true,
	}

	if d := Select(req, healthySnapshot()); d.Channel != ChannelOneshot {
		t.Errorf("Channel = %s, want oneshot for low-priority snapshot", d.Channel)
	}
}

func TestSelect_LargeBatchErodesStreamScore(t *testing.T) {
	symbols := make([]string, 40)
	for i := range symbols {
		symbols[i] = "KRW-TEST"
	}

	req := model.DataRequest{
		Symbols:  symbols,
		Type:     model.TypeTicker,
		Priority: model.PriorityMedium,
	}

	if d := Select(req, healthySnapshot()); d.Channel != ChannelOneshot {
		t.Errorf("Channel = %s, want oneshot for 40-symbol batch", d.Channel)
	}
}

func TestSelect_Deterministic(t *testing.T) {
	reqs := []model.DataRequest{
		{Symbols: []string{"KRW-BTC"}, Type: model.TypeTicker, Priority: model.PriorityHigh},
		{Symbols: []string{"KRW-BTC", "KRW-ETH"}, Type: model.TypeTrade, Priority: model.PriorityLow, IsSnapshot: true},
		{Symbols: []string{"KRW-BTC"}, Type: model.TypeOrderbook, Priority: model.PriorityMedium},
	}
	h := healthySnapshot()

	for _, req := range reqs {
		first := Select(req, h)
		for i := 0; i < 100; i++ {
			if got := Select(req, h); got != first {
				t.Fatalf("decision changed across calls: %+v != %+v", got, first)
			}
		}
	}
}
