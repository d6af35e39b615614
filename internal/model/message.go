package model

import "time"

// Platform identifies the external messaging platform a message originated from.
type Platform string

const (
	PlatformTelegram  Platform = "telegram"
	PlatformGmail     Platform = "gmail"
	PlatformWhatsApp  Platform = "whatsapp"
	PlatformInstagram Platform = "instagram"
	PlatformTwitter   Platform = "twitter"
	PlatformOther     Platform = "other"
)

// Known returns true if p is one of the platforms this core understands.
func (p Platform) Known() bool {
	switch p {
	case PlatformTelegram, PlatformGmail, PlatformWhatsApp, PlatformInstagram, PlatformTwitter, PlatformOther:
		return true
	}
	return false
}

// AttachmentType classifies an attachment without inspecting its bytes.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentVideo AttachmentType = "video"
	AttachmentAudio AttachmentType = "audio"
	AttachmentFile  AttachmentType = "file"
)

// Attachment references binary content held by an external collaborator.
// LocatorToken is opaque to this core; no raw bytes are ever stored here.
type Attachment struct {
	Type         AttachmentType `json:"type"`
	LocatorToken string         `json:"locator_token"`
	SizeBytes    int64          `json:"size_bytes"`
}

// UnifiedMessage is the canonical, platform-agnostic representation of one
// message. It is created once by the normalizer and never mutated; edits and
// deletes are modeled as new events referencing the original ID.
type UnifiedMessage struct {
	ID                int64        `json:"id"`
	Platform          Platform     `json:"platform"`
	PlatformMessageID string       `json:"platform_message_id"`
	SenderID          string       `json:"sender_id"`
	SenderDisplayName string       `json:"sender_display_name"`
	ConversationID    int64        `json:"conversation_id"`
	Body              string       `json:"body"`
	Attachments       []Attachment `json:"attachments,omitempty"`

	// OccurredAt is the platform-reported send time. IngestedAt is when this
	// core accepted the message; it is audit data and never used for ordering.
	OccurredAt time.Time `json:"occurred_at"`
	IngestedAt time.Time `json:"ingested_at"`

	// SequenceNumber is assigned at conversation resolution and is the
	// authoritative display-order tie-breaker within a conversation.
	SequenceNumber int64 `json:"sequence_number"`
}

// IdempotencyKey is the pair that identifies a webhook delivery across retries.
func (m *UnifiedMessage) IdempotencyKey() string {
	return string(m.Platform) + ":" + m.PlatformMessageID
}
