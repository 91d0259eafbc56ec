package selector

import (
	"fmt"
	"time"

	"github.com/joonwoo-kim/upbit-feed/internal/model"
)

// Channel identifies a delivery path.
type Channel string

const (
	ChannelStream  Channel = "stream"
	ChannelOneshot Channel = "oneshot"
)

// Decision is the outcome of channel selection.
type Decision struct {
	Channel Channel
	Reason  string
}

// HealthSnapshot is the live state Select is allowed to see. The caller
// captures it (including the current time) so the decision stays
// deterministic and testable.
type HealthSnapshot struct {
	Now time.Time

	StreamConnected  bool // Transport is up
	StreamDegraded   bool // Up but unhealthy (stale pings, slow drain)
	ReconnectBackoff bool // Currently between reconnect attempts

	SubscribedTypes   int  // Distinct data types on the current ticket
	MaxTypesPerTicket int  // Exchange-imposed ceiling
	TypeOnTicket      bool // The request's type is already subscribed

	StreamQuotaOK  bool // RateLimiter.TryAcquire for the stream group
	OneshotQuotaOK bool // RateLimiter.TryAcquire for the one-shot group
}

// Scoring weights. Priority dominates the stream side: streaming is what a
// time-sensitive request wants. Symbol count beyond the small-batch threshold
// erodes the stream score since large batches suit one-shot fetches.
const (
	priorityWeight      = 3
	smallBatchThreshold = 5
	healthScore         = 4
	quotaScore          = 2
	oneshotBase         = 12
)

// Select maps a request and health snapshot to a channel decision. It never
// errors; when both channels are unhealthy it still answers, tagged degraded.
func Select(req model.DataRequest, h HealthSnapshot) Decision {
	// Hard constraints override scoring.
	if !req.TimeRange.IsZero() {
		return Decision{Channel: ChannelOneshot, Reason: "historical time range"}
	}

	// A full ticket only blocks types that would be new on it; merging more
	// symbols into an already-subscribed type never charges capacity.
	if h.MaxTypesPerTicket > 0 && h.SubscribedTypes >= h.MaxTypesPerTicket && !h.TypeOnTicket {
		return Decision{
			Channel: ChannelOneshot,
			Reason:  fmt.Sprintf("ticket full: %d/%d types", h.SubscribedTypes, h.MaxTypesPerTicket),
		}
	}

	if h.ReconnectBackoff {
		return Decision{Channel: ChannelOneshot, Reason: "stream in reconnect backoff"}
	}

	// Both channels unhealthy: still answer, tagged for logging.
	if (!h.StreamConnected || h.StreamDegraded) && !h.OneshotQuotaOK {
		return Decision{Channel: ChannelOneshot, Reason: "degraded"}
	}

	streamScore := score(req, h, ChannelStream)
	oneshotScore := score(req, h, ChannelOneshot)

	// Stream wins ties: the ambiguous case is a time-sensitive request.
	if oneshotScore > streamScore {
		return Decision{
			Channel: ChannelOneshot,
			Reason:  fmt.Sprintf("score oneshot=%d stream=%d", oneshotScore, streamScore),
		}
	}
	return Decision{
		Channel: ChannelStream,
		Reason:  fmt.Sprintf("score stream=%d oneshot=%d", streamScore, oneshotScore),
	}
}

func score(req model.DataRequest, h HealthSnapshot, ch Channel) int {
	switch ch {
	case ChannelStream:
		s := priorityPoints(req.Priority) * priorityWeight
		if over := len(req.Symbols) - smallBatchThreshold; over > 0 {
			s -= over
		}
		if h.StreamConnected && !h.StreamDegraded {
			s += healthScore
		}
		if h.StreamQuotaOK {
			s += quotaScore
		}
		return s

	default: // ChannelOneshot
		s := oneshotBase
		// Snapshot reads are the one-shot channel's natural shape.
		if req.IsSnapshot {
			s += healthScore
		}
		if h.OneshotQuotaOK {
			s += quotaScore
		}
		return s
	}
}

func priorityPoints(p model.Priority) int {
	switch p {
	case model.PriorityHigh:
		return 10
	case model.PriorityMedium:
		return 6
	default:
		return 2
	}
}
