package model

import "time"

// Conversation is an ordered thread of UnifiedMessages sharing a
// platform-scoped participant grouping. Conversations are never merged across
// platforms.
type Conversation struct {
	ID       int64    `json:"id"`
	Platform Platform `json:"platform"`

	// GroupingKey is the canonical resolution key produced by the platform
	// adapter: sender+recipient for direct messages, the channel or thread
	// identifier for group contexts.
	GroupingKey string `json:"grouping_key"`

	// ParticipantIDs is the set of sender identifiers seen so far. Insertion
	// order carries no meaning.
	ParticipantIDs []string `json:"participant_ids"`

	// LastSequenceNumber is the highest sequence number assigned to any
	// message in this conversation. The next message gets
	// LastSequenceNumber+1 under the conversation's serialization point.
	LastSequenceNumber int64 `json:"last_sequence_number"`

	// LastActivityAt is the max OccurredAt over all contained messages.
	LastActivityAt time.Time `json:"last_activity_at"`

	CreatedAt time.Time `json:"created_at"`
}

// HasParticipant reports whether senderID has already been recorded.
func (c *Conversation) HasParticipant(senderID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == senderID {
			return true
		}
	}
	return false
}
