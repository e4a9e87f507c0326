package buffer

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	EventJournalCreated = "journal.created"

	// PriorityJournal is used for journal notifications; lower drains first.
	PriorityJournal = 3
)

// ErrOutboxFull is returned when the outbox reached its configured capacity.
var ErrOutboxFull = errors.New("outbox is full")

// Item is an event waiting to be delivered to the broker.
type Item struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	Priority  int             `json:"priority"`
	Retries   int             `json:"retries"`
	Timestamp time.Time       `json:"timestamp"`

	bucketKey []byte
}

func (i *Item) normalize() {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.Priority <= 0 || i.Priority > 5 {
		i.Priority = PriorityJournal
	}
	if i.Timestamp.IsZero() {
		i.Timestamp = time.Now()
	}
}
