// Package fanout pushes newly ingested messages to live subscriber sessions.
// Delivery is at-least-once per subscriber with a bounded outbound queue: a
// slow consumer loses old items to gap markers instead of slowing ingestion.
package fanout

import (
	"omnibox.app/ingest/internal/model"
)

// EnvelopeKind distinguishes payloads on a subscriber's queue.
type EnvelopeKind string

const (
	KindMessage EnvelopeKind = "message"
	KindGap     EnvelopeKind = "gap"
)

// Envelope is one item delivered to a subscriber.
type Envelope struct {
	Kind    EnvelopeKind          `json:"kind"`
	Message *model.UnifiedMessage `json:"message,omitempty"`
	Gap     *GapMarker            `json:"gap,omitempty"`
}

// GapMarker signals that messages were lost to a full queue. The subscriber
// must re-fetch recent history for the conversation instead of assuming a
// contiguous stream. ConversationID is 0 when the losses span conversations.
type GapMarker struct {
	ConversationID int64 `json:"conversation_id"`
	// Dropped counts messages coalesced into this marker.
	Dropped int `json:"dropped"`
}

// DeliveryReport summarizes one publish for observability. It never feeds
// back into the pipeline result.
type DeliveryReport struct {
	Attempted int
	Delivered int
	Dropped   int
}

// Filter selects which messages a subscriber receives. A zero Filter matches
// everything; ConversationID takes precedence over Platform.
type Filter struct {
	ConversationID int64
	Platform       model.Platform
}

func (f Filter) matches(msg *model.UnifiedMessage) bool {
	if f.ConversationID != 0 {
		return msg.ConversationID == f.ConversationID
	}
	if f.Platform != "" {
		return msg.Platform == f.Platform
	}
	return true
}
