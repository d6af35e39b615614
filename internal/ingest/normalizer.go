package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"omnibox.app/ingest/common/id"
	"omnibox.app/ingest/internal/model"
	"omnibox.app/ingest/internal/platform"
)

// ErrUnknownPlatform is returned when no adapter is registered for the
// requested platform.
var ErrUnknownPlatform = errors.New("unknown platform")

// Normalizer converts platform payloads into canonical UnifiedMessage records
// via the platform's adapter. It assigns the globally unique message id; the
// platform's own id only matters for deduplication.
type Normalizer struct {
	registry *platform.Registry
}

func NewNormalizer(registry *platform.Registry) *Normalizer {
	return &Normalizer{registry: registry}
}

// Normalize returns the draft message and its conversation grouping key.
// The returned message has no conversation id or sequence number yet; those
// are assigned by the resolver. Errors wrapping platform.ErrMalformed are
// terminal.
func (n *Normalizer) Normalize(p model.Platform, payload json.RawMessage) (*model.UnifiedMessage, string, error) {
	adapter := n.registry.Get(p)
	if adapter == nil {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownPlatform, p)
	}

	draft, err := adapter.Normalize(payload)
	if err != nil {
		return nil, "", err
	}
	if draft.PlatformMessageID == "" {
		return nil, "", fmt.Errorf("%w: adapter produced empty message id", platform.ErrMalformed)
	}
	if draft.SenderID == "" {
		return nil, "", fmt.Errorf("%w: adapter produced empty sender id", platform.ErrMalformed)
	}
	if draft.OccurredAt.IsZero() {
		return nil, "", fmt.Errorf("%w: adapter produced zero timestamp", platform.ErrMalformed)
	}

	groupingKey, err := adapter.GroupingKey(payload)
	if err != nil {
		return nil, "", err
	}

	return &model.UnifiedMessage{
		ID:                id.New(),
		Platform:          p,
		PlatformMessageID: draft.PlatformMessageID,
		SenderID:          draft.SenderID,
		SenderDisplayName: draft.SenderDisplayName,
		Body:              draft.Body,
		Attachments:       draft.Attachments,
		OccurredAt:        draft.OccurredAt,
		IngestedAt:        time.Now().UTC(),
	}, groupingKey, nil
}
