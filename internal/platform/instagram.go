package platform

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"omnibox.app/ingest/internal/model"
)

// Instagram adapts messaging events from the Instagram graph webhook.
type Instagram struct {
	schema *jsonschema.Schema
}

func NewInstagram() (*Instagram, error) {
	sch, err := compileSchema("instagram.json")
	if err != nil {
		return nil, err
	}
	return &Instagram{schema: sch}, nil
}

func (i *Instagram) Platform() model.Platform {
	return model.PlatformInstagram
}

type instagramEvent struct {
	Sender struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"sender"`
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Timestamp int64 `json:"timestamp"`
	Message   struct {
		MID         string `json:"mid"`
		Text        string `json:"text"`
		Attachments []struct {
			Type    string `json:"type"`
			Payload struct {
				URL string `json:"url"`
			} `json:"payload"`
		} `json:"attachments"`
	} `json:"message"`
}

func (i *Instagram) Normalize(payload json.RawMessage) (*Draft, error) {
	if err := validatePayload(i.schema, payload); err != nil {
		return nil, err
	}

	var event instagramEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	displayName := event.Sender.Username
	if displayName == "" {
		displayName = event.Sender.ID
	}

	var attachments []model.Attachment
	for _, a := range event.Message.Attachments {
		attachments = append(attachments, model.Attachment{
			Type:         instagramAttachmentType(a.Type),
			LocatorToken: a.Payload.URL,
		})
	}

	return &Draft{
		PlatformMessageID: event.Message.MID,
		SenderID:          event.Sender.ID,
		SenderDisplayName: displayName,
		Body:              event.Message.Text,
		Attachments:       attachments,
		OccurredAt:        time.UnixMilli(event.Timestamp).UTC(),
	}, nil
}

func (i *Instagram) GroupingKey(payload json.RawMessage) (string, error) {
	var event instagramEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if event.Sender.ID == "" || event.Recipient.ID == "" {
		return "", fmt.Errorf("%w: missing sender or recipient", ErrMalformed)
	}
	return pairKey(event.Sender.ID, event.Recipient.ID), nil
}

func instagramAttachmentType(t string) model.AttachmentType {
	switch t {
	case "image", "story_mention":
		return model.AttachmentImage
	case "video":
		return model.AttachmentVideo
	case "audio":
		return model.AttachmentAudio
	default:
		return model.AttachmentFile
	}
}
