package platform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"omnibox.app/ingest/internal/model"
)

// Gmail adapts the flattened message object the push-notification collaborator
// produces from the Gmail API.
type Gmail struct {
	schema *jsonschema.Schema
}

func NewGmail() (*Gmail, error) {
	sch, err := compileSchema("gmail.json")
	if err != nil {
		return nil, err
	}
	return &Gmail{schema: sch}, nil
}

func (g *Gmail) Platform() model.Platform {
	return model.PlatformGmail
}

type gmailMessage struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
	From     struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"from"`
	InternalDate string `json:"internalDate"`
	Snippet      string `json:"snippet"`
	Attachments  []struct {
		AttachmentID string `json:"attachmentId"`
		MimeType     string `json:"mimeType"`
		Size         int64  `json:"size"`
	} `json:"attachments"`
}

func (g *Gmail) Normalize(payload json.RawMessage) (*Draft, error) {
	if err := validatePayload(g.schema, payload); err != nil {
		return nil, err
	}

	var msg gmailMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	millis, err := strconv.ParseInt(msg.InternalDate, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad internalDate %q", ErrMalformed, msg.InternalDate)
	}

	displayName := msg.From.Name
	if displayName == "" {
		displayName = msg.From.Email
	}

	var attachments []model.Attachment
	for _, a := range msg.Attachments {
		attachments = append(attachments, model.Attachment{
			Type:         attachmentTypeFromMime(a.MimeType),
			LocatorToken: a.AttachmentID,
			SizeBytes:    a.Size,
		})
	}

	return &Draft{
		PlatformMessageID: msg.ID,
		SenderID:          msg.From.Email,
		SenderDisplayName: displayName,
		Body:              msg.Snippet,
		Attachments:       attachments,
		OccurredAt:        time.UnixMilli(millis).UTC(),
	}, nil
}

func (g *Gmail) GroupingKey(payload json.RawMessage) (string, error) {
	var msg gmailMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.ThreadID == "" {
		return "", fmt.Errorf("%w: missing threadId", ErrMalformed)
	}
	// Email groups naturally by thread, not by participant pair.
	return "thread:" + msg.ThreadID, nil
}

func attachmentTypeFromMime(mime string) model.AttachmentType {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return model.AttachmentImage
	case strings.HasPrefix(mime, "video/"):
		return model.AttachmentVideo
	case strings.HasPrefix(mime, "audio/"):
		return model.AttachmentAudio
	default:
		return model.AttachmentFile
	}
}
