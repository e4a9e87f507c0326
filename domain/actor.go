package domain

// DefaultTombstoneActorID is the well-known "deleted user" identity that replaces
// the author of journals whose actor has been removed.
const DefaultTombstoneActorID int64 = -1

// ValidAuthor reports whether id can author a journal entry.
func ValidAuthor(id, tombstone int64) bool {
	return id > 0 || id == tombstone
}
