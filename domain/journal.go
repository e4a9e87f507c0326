package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Ref identifies a journable by kind and id.
type Ref struct {
	Kind string `json:"kind"`
	ID   int64  `json:"id"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s#%d", r.Kind, r.ID)
}

// Journable is implemented by every entity whose mutations are journaled.
type Journable interface {
	JournalRef() Ref
	// JournalAttributes returns the raw persisted attribute values keyed by column name.
	JournalAttributes() map[string]any
}

// AssociationItem is one member of an association snapshot.
// For set associations Key is the member id and Value its label, for keyed
// associations Key is the key (e.g. custom field id) and Value the stored value.
type AssociationItem struct {
	Key   int64  `json:"key"`
	Value string `json:"value"`
}

// Associations maps an association name to its current members.
type Associations map[string][]AssociationItem

// Snapshot is the full journaled state of a journable at one version.
type Snapshot struct {
	Attributes   map[string]any `json:"attributes"`
	Associations Associations   `json:"associations,omitempty"`
}

// Change is an [old, new] pair.
type Change struct {
	Old any
	New any
}

func (c Change) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{c.Old, c.New})
}

func (c *Change) UnmarshalJSON(data []byte) error {
	var pair [2]any
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	c.Old, c.New = pair[0], pair[1]
	return nil
}

// ChangeSet maps attribute or association keys to their transitions.
type ChangeSet map[string]Change

// IsChanged reports whether the change set carries any transition.
func (cs ChangeSet) IsChanged() bool {
	return len(cs) > 0
}

// Keys returns the change set keys in sorted order.
func (cs ChangeSet) Keys() []string {
	keys := make([]string, 0, len(cs))
	for k := range cs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Entry is one immutable, versioned journal record.
type Entry struct {
	ID        int64     `json:"id"`
	Ref       Ref       `json:"journable"`
	Version   int       `json:"version"`
	AuthorID  int64     `json:"author_id"`
	Notes     string    `json:"notes,omitempty"`
	Data      Snapshot  `json:"data"`
	Details   ChangeSet `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}

// IsInitial reports whether the entry is the creation journal.
func (e *Entry) IsInitial() bool {
	return e != nil && e.Version == 1
}

// OldValueFor returns the recorded previous value of a detail key.
func (e *Entry) OldValueFor(key string) any {
	if e == nil {
		return nil
	}
	return e.Details[key].Old
}

// NewValueFor returns the recorded new value of a detail key.
func (e *Entry) NewValueFor(key string) any {
	if e == nil {
		return nil
	}
	return e.Details[key].New
}
