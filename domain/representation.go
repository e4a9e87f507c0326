package domain

import (
	"encoding/json"
	"time"
)

// Representation is a rendered journal listing cached under its validation token.
type Representation struct {
	Journable Ref             `json:"journable"`
	Token     string          `json:"token"`
	Body      json.RawMessage `json:"body"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

func (r *Representation) IsExpired(reference time.Time) bool {
	if r == nil {
		return true
	}
	if reference.IsZero() {
		reference = time.Now()
	}
	return !r.ExpiresAt.After(reference)
}
