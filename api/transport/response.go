package transport

import (
	"encoding/json"

	"github.com/fastygo/journal/domain"
)

// Envelope is the standard API response wrapper used for both success and error payloads.
type Envelope struct {
	Status string      `json:"status"`
	Code   string      `json:"code,omitempty"`
	Data   interface{} `json:"data,omitempty"`
	Error  interface{} `json:"error,omitempty"`
	Meta   interface{} `json:"meta,omitempty"`
}

// NewSuccess returns a success envelope.
func NewSuccess(data interface{}, meta interface{}) Envelope {
	return Envelope{
		Status: "success",
		Data:   data,
		Meta:   meta,
	}
}

// NewError returns an error envelope with optional metadata.
func NewError(code string, err interface{}, meta interface{}) Envelope {
	return Envelope{
		Status: "error",
		Code:   code,
		Error:  err,
		Meta:   meta,
	}
}

// String returns the JSON representation (best-effort) for logging purposes.
func (e Envelope) String() string {
	out, err := json.Marshal(e)
	if err != nil {
		return "{}"
	}
	return string(out)
}

// JournalList is the history of one journable, oldest first.
type JournalList struct {
	Journable domain.Ref     `json:"journable"`
	Entries   []domain.Entry `json:"entries"`
}

// ListMeta accompanies a journal listing.
type ListMeta struct {
	Count int    `json:"count"`
	Token string `json:"token,omitempty"`
}

// Checksums maps journable ids to their checksum tokens.
type Checksums struct {
	Kind      string            `json:"kind"`
	Checksums map[string]string `json:"checksums"`
}

// ActorRewrite reports the outcome of an actor deletion.
type ActorRewrite struct {
	ActorID   int64 `json:"actor_id"`
	Tombstone int64 `json:"tombstone_actor_id"`
	Rewritten int64 `json:"rewritten"`
}
