package models

import (
	"time"

	"github.com/google/uuid"
)

// Thread is one durable conversation: an identifier plus an ordered,
// append-only message log held by the thread store.
type Thread struct {
	ID        string         `json:"id"`
	Title     string         `json:"title,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewThread builds a thread with a fresh identifier.
func NewThread(title string) *Thread {
	now := time.Now().UTC()
	return &Thread{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
