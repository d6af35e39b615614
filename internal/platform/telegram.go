package platform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"omnibox.app/ingest/internal/model"
)

// Telegram adapts Bot API update payloads. The webhook layer forwards the
// update object as-is.
type Telegram struct {
	schema *jsonschema.Schema
}

func NewTelegram() (*Telegram, error) {
	sch, err := compileSchema("telegram.json")
	if err != nil {
		return nil, err
	}
	return &Telegram{schema: sch}, nil
}

func (t *Telegram) Platform() model.Platform {
	return model.PlatformTelegram
}

type telegramUpdate struct {
	Message struct {
		MessageID int64 `json:"message_id"`
		From      struct {
			ID        int64  `json:"id"`
			FirstName string `json:"first_name"`
			LastName  string `json:"last_name"`
			Username  string `json:"username"`
		} `json:"from"`
		Chat struct {
			ID   int64  `json:"id"`
			Type string `json:"type"`
		} `json:"chat"`
		Date int64  `json:"date"`
		Text string `json:"text"`
		Photo []struct {
			FileID   string `json:"file_id"`
			FileSize int64  `json:"file_size"`
		} `json:"photo"`
		Document *struct {
			FileID   string `json:"file_id"`
			FileSize int64  `json:"file_size"`
		} `json:"document"`
		Voice *struct {
			FileID   string `json:"file_id"`
			FileSize int64  `json:"file_size"`
		} `json:"voice"`
	} `json:"message"`
}

func (t *Telegram) Normalize(payload json.RawMessage) (*Draft, error) {
	if err := validatePayload(t.schema, payload); err != nil {
		return nil, err
	}

	var update telegramUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	msg := update.Message

	displayName := msg.From.FirstName
	if msg.From.LastName != "" {
		displayName += " " + msg.From.LastName
	}
	if displayName == "" {
		displayName = msg.From.Username
	}

	var attachments []model.Attachment
	// Telegram sends one photo in several resolutions; the last entry is the
	// largest and the one worth keeping.
	if n := len(msg.Photo); n > 0 {
		attachments = append(attachments, model.Attachment{
			Type:         model.AttachmentImage,
			LocatorToken: msg.Photo[n-1].FileID,
			SizeBytes:    msg.Photo[n-1].FileSize,
		})
	}
	if msg.Document != nil {
		attachments = append(attachments, model.Attachment{
			Type:         model.AttachmentFile,
			LocatorToken: msg.Document.FileID,
			SizeBytes:    msg.Document.FileSize,
		})
	}
	if msg.Voice != nil {
		attachments = append(attachments, model.Attachment{
			Type:         model.AttachmentAudio,
			LocatorToken: msg.Voice.FileID,
			SizeBytes:    msg.Voice.FileSize,
		})
	}

	return &Draft{
		PlatformMessageID: strconv.FormatInt(msg.MessageID, 10),
		SenderID:          strconv.FormatInt(msg.From.ID, 10),
		SenderDisplayName: displayName,
		Body:              msg.Text,
		Attachments:       attachments,
		OccurredAt:        time.Unix(msg.Date, 0).UTC(),
	}, nil
}

func (t *Telegram) GroupingKey(payload json.RawMessage) (string, error) {
	var update telegramUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if update.Message.Chat.ID == 0 {
		return "", fmt.Errorf("%w: missing chat id", ErrMalformed)
	}
	// Chat id covers both direct and group chats on Telegram.
	return "chat:" + strconv.FormatInt(update.Message.Chat.ID, 10), nil
}
