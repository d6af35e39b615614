package platform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"omnibox.app/ingest/internal/model"
)

// Twitter adapts direct-message events from the account activity webhook.
type Twitter struct {
	schema *jsonschema.Schema
}

func NewTwitter() (*Twitter, error) {
	sch, err := compileSchema("twitter.json")
	if err != nil {
		return nil, err
	}
	return &Twitter{schema: sch}, nil
}

func (t *Twitter) Platform() model.Platform {
	return model.PlatformTwitter
}

type twitterDMEvent struct {
	ID               string `json:"id"`
	CreatedTimestamp string `json:"created_timestamp"`
	MessageCreate    struct {
		SenderID string `json:"sender_id"`
		Target   struct {
			RecipientID string `json:"recipient_id"`
		} `json:"target"`
		MessageData struct {
			Text       string `json:"text"`
			Attachment *struct {
				Type  string `json:"type"`
				Media struct {
					IDStr string `json:"id_str"`
					Type  string `json:"type"`
				} `json:"media"`
			} `json:"attachment"`
		} `json:"message_data"`
	} `json:"message_create"`
	SenderScreenName string `json:"sender_screen_name"`
}

func (t *Twitter) Normalize(payload json.RawMessage) (*Draft, error) {
	if err := validatePayload(t.schema, payload); err != nil {
		return nil, err
	}

	var event twitterDMEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	millis, err := strconv.ParseInt(event.CreatedTimestamp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad created_timestamp %q", ErrMalformed, event.CreatedTimestamp)
	}

	displayName := event.SenderScreenName
	if displayName == "" {
		displayName = event.MessageCreate.SenderID
	}

	var attachments []model.Attachment
	if a := event.MessageCreate.MessageData.Attachment; a != nil {
		attType := model.AttachmentFile
		switch a.Media.Type {
		case "photo":
			attType = model.AttachmentImage
		case "video", "animated_gif":
			attType = model.AttachmentVideo
		}
		attachments = append(attachments, model.Attachment{
			Type:         attType,
			LocatorToken: a.Media.IDStr,
		})
	}

	return &Draft{
		PlatformMessageID: event.ID,
		SenderID:          event.MessageCreate.SenderID,
		SenderDisplayName: displayName,
		Body:              event.MessageCreate.MessageData.Text,
		Attachments:       attachments,
		OccurredAt:        time.UnixMilli(millis).UTC(),
	}, nil
}

func (t *Twitter) GroupingKey(payload json.RawMessage) (string, error) {
	var event twitterDMEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	sender := event.MessageCreate.SenderID
	recipient := event.MessageCreate.Target.RecipientID
	if sender == "" || recipient == "" {
		return "", fmt.Errorf("%w: missing sender or recipient", ErrMalformed)
	}
	return pairKey(sender, recipient), nil
}
