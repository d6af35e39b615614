package dto

import (
	"time"

	"omnibox.app/ingest/internal/model"
)

type AttachmentResponse struct {
	Type         string `json:"type"`
	LocatorToken string `json:"locator_token"`
	SizeBytes    int64  `json:"size_bytes,omitempty"`
}

type MessageResponse struct {
	ID                int64                `json:"id"`
	Platform          string               `json:"platform"`
	PlatformMessageID string               `json:"platform_message_id"`
	SenderID          string               `json:"sender_id"`
	SenderDisplayName string               `json:"sender_display_name,omitempty"`
	ConversationID    int64                `json:"conversation_id"`
	SequenceNumber    int64                `json:"sequence_number"`
	Body              string               `json:"body"`
	Attachments       []AttachmentResponse `json:"attachments,omitempty"`
	OccurredAt        time.Time            `json:"occurred_at"`
	IngestedAt        time.Time            `json:"ingested_at"`
}

type ConversationResponse struct {
	ID                 int64     `json:"id"`
	Platform           string    `json:"platform"`
	ParticipantIDs     []string  `json:"participant_ids"`
	LastSequenceNumber int64     `json:"last_sequence_number"`
	LastActivityAt     time.Time `json:"last_activity_at"`
	CreatedAt          time.Time `json:"created_at"`
}

type ListMessagesResponse struct {
	Messages []MessageResponse `json:"messages"`
	// NextAfterSeq feeds the next page's after_seq parameter. Zero when the
	// page was empty.
	NextAfterSeq int64 `json:"next_after_seq,omitempty"`
}

type IngestResponse struct {
	Status         string `json:"status"`
	MessageID      int64  `json:"message_id,omitempty"`
	ConversationID int64  `json:"conversation_id,omitempty"`
	SequenceNumber int64  `json:"sequence_number,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

func FromMessage(msg *model.UnifiedMessage) MessageResponse {
	resp := MessageResponse{
		ID:                msg.ID,
		Platform:          string(msg.Platform),
		PlatformMessageID: msg.PlatformMessageID,
		SenderID:          msg.SenderID,
		SenderDisplayName: msg.SenderDisplayName,
		ConversationID:    msg.ConversationID,
		SequenceNumber:    msg.SequenceNumber,
		Body:              msg.Body,
		OccurredAt:        msg.OccurredAt,
		IngestedAt:        msg.IngestedAt,
	}
	for _, att := range msg.Attachments {
		resp.Attachments = append(resp.Attachments, AttachmentResponse{
			Type:         string(att.Type),
			LocatorToken: att.LocatorToken,
			SizeBytes:    att.SizeBytes,
		})
	}
	return resp
}

func FromConversation(conv *model.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:                 conv.ID,
		Platform:           string(conv.Platform),
		ParticipantIDs:     conv.ParticipantIDs,
		LastSequenceNumber: conv.LastSequenceNumber,
		LastActivityAt:     conv.LastActivityAt,
		CreatedAt:          conv.CreatedAt,
	}
}
