package domain

import "time"

// JournalCreated is emitted after a journal entry has been committed.
type JournalCreated struct {
	ID        string    `json:"id"`
	JournalID int64     `json:"journal_id"`
	Journable Ref       `json:"journable"`
	Version   int       `json:"version"`
	AuthorID  int64     `json:"author_id"`
	Notes     string    `json:"notes,omitempty"`
	Keys      []string  `json:"changed_keys"`
	CreatedAt time.Time `json:"created_at"`
}

// ActorDeleted announces the permanent removal of an actor.
type ActorDeleted struct {
	ActorID   int64     `json:"actor_id"`
	DeletedAt time.Time `json:"deleted_at,omitempty"`
}
