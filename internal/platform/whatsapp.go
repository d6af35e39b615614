package platform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"omnibox.app/ingest/internal/model"
)

// WhatsApp adapts Cloud API change values. The webhook layer unwraps the
// entry/changes envelope and forwards the value object.
type WhatsApp struct {
	schema *jsonschema.Schema
}

func NewWhatsApp() (*WhatsApp, error) {
	sch, err := compileSchema("whatsapp.json")
	if err != nil {
		return nil, err
	}
	return &WhatsApp{schema: sch}, nil
}

func (w *WhatsApp) Platform() model.Platform {
	return model.PlatformWhatsApp
}

type whatsappValue struct {
	Metadata struct {
		PhoneNumberID string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []struct {
		ID        string `json:"id"`
		From      string `json:"from"`
		Timestamp string `json:"timestamp"`
		Type      string `json:"type"`
		Text      *struct {
			Body string `json:"body"`
		} `json:"text"`
		Image *struct {
			ID       string `json:"id"`
			MimeType string `json:"mime_type"`
			FileSize int64  `json:"file_size"`
		} `json:"image"`
		Document *struct {
			ID       string `json:"id"`
			MimeType string `json:"mime_type"`
			FileSize int64  `json:"file_size"`
		} `json:"document"`
	} `json:"messages"`
}

func (w *WhatsApp) Normalize(payload json.RawMessage) (*Draft, error) {
	if err := validatePayload(w.schema, payload); err != nil {
		return nil, err
	}

	var value whatsappValue
	if err := json.Unmarshal(payload, &value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	msg := value.Messages[0]

	secs, err := strconv.ParseInt(msg.Timestamp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp %q", ErrMalformed, msg.Timestamp)
	}

	displayName := msg.From
	for _, contact := range value.Contacts {
		if contact.WaID == msg.From && contact.Profile.Name != "" {
			displayName = contact.Profile.Name
		}
	}

	var body string
	if msg.Text != nil {
		body = msg.Text.Body
	}

	var attachments []model.Attachment
	if msg.Image != nil {
		attachments = append(attachments, model.Attachment{
			Type:         model.AttachmentImage,
			LocatorToken: msg.Image.ID,
			SizeBytes:    msg.Image.FileSize,
		})
	}
	if msg.Document != nil {
		attachments = append(attachments, model.Attachment{
			Type:         model.AttachmentFile,
			LocatorToken: msg.Document.ID,
			SizeBytes:    msg.Document.FileSize,
		})
	}

	return &Draft{
		PlatformMessageID: msg.ID,
		SenderID:          msg.From,
		SenderDisplayName: displayName,
		Body:              body,
		Attachments:       attachments,
		OccurredAt:        time.Unix(secs, 0).UTC(),
	}, nil
}

func (w *WhatsApp) GroupingKey(payload json.RawMessage) (string, error) {
	var value whatsappValue
	if err := json.Unmarshal(payload, &value); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(value.Messages) == 0 || value.Messages[0].From == "" || value.Metadata.PhoneNumberID == "" {
		return "", fmt.Errorf("%w: missing sender or receiving number", ErrMalformed)
	}
	return pairKey(value.Messages[0].From, value.Metadata.PhoneNumberID), nil
}
