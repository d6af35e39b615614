// Package platform holds the per-platform capability adapters. Each adapter
// owns structural translation of its platform's webhook payload and the rule
// for grouping messages into conversations. Downstream components never
// branch on platform; adding a platform means adding one adapter here.
package platform

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"omnibox.app/ingest/internal/model"
)

// ErrMalformed marks a payload that is structurally invalid: a mandatory
// field is missing or unparseable. Malformed payloads are terminal and never
// retried.
var ErrMalformed = errors.New("malformed payload")

// Draft is a normalized message before identity assignment and conversation
// resolution. The normalizer turns it into a UnifiedMessage.
type Draft struct {
	PlatformMessageID string
	SenderID          string
	SenderDisplayName string
	Body              string
	Attachments       []model.Attachment
	OccurredAt        time.Time
}

// Adapter is the capability an external platform plugs into the core.
type Adapter interface {
	Platform() model.Platform

	// Normalize performs purely structural translation of a raw webhook
	// payload. No categorization or business logic. Errors wrapping
	// ErrMalformed are terminal.
	Normalize(payload json.RawMessage) (*Draft, error)

	// GroupingKey derives the conversation resolution key from a payload:
	// sender+recipient for direct messages, the channel or thread identifier
	// for group contexts.
	GroupingKey(payload json.RawMessage) (string, error)
}

// Registry maps platforms to their adapters. Built once at startup; no global
// mutable state.
type Registry struct {
	adapters map[model.Platform]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[model.Platform]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Platform()] = a
	}
	return &Registry{adapters: m}
}

// Default returns a registry with every built-in adapter.
func Default() (*Registry, error) {
	telegram, err := NewTelegram()
	if err != nil {
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}
	gmail, err := NewGmail()
	if err != nil {
		return nil, fmt.Errorf("gmail adapter: %w", err)
	}
	whatsapp, err := NewWhatsApp()
	if err != nil {
		return nil, fmt.Errorf("whatsapp adapter: %w", err)
	}
	instagram, err := NewInstagram()
	if err != nil {
		return nil, fmt.Errorf("instagram adapter: %w", err)
	}
	twitter, err := NewTwitter()
	if err != nil {
		return nil, fmt.Errorf("twitter adapter: %w", err)
	}
	return NewRegistry(telegram, gmail, whatsapp, instagram, twitter), nil
}

// Get returns the adapter for p, or nil if the platform is unknown.
func (r *Registry) Get(p model.Platform) Adapter {
	return r.adapters[p]
}

// Platforms lists the registered platforms.
func (r *Registry) Platforms() []model.Platform {
	out := make([]model.Platform, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	return out
}

// pairKey builds an order-independent direct-message grouping key so that
// either party sending first resolves to the same conversation.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}
