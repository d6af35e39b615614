package model

import "time"

// Category is an asynchronous annotation attached to a message by the
// categorization worker. It lives in its own table so the message record stays
// immutable.
type Category string

const (
	CategoryUrgent   Category = "urgent"
	CategoryWork     Category = "work"
	CategoryPersonal Category = "personal"
	CategoryPromo    Category = "promo"
	CategoryGeneral  Category = "general"
)

// CategorySource records how the category was derived.
type CategorySource string

const (
	CategorySourceKeyword    CategorySource = "keyword"
	CategorySourceCompletion CategorySource = "completion"
)

type MessageCategory struct {
	MessageID     int64          `json:"message_id"`
	Category      Category       `json:"category"`
	Source        CategorySource `json:"source"`
	CategorizedAt time.Time      `json:"categorized_at"`
}
