package monitor

import "time"

type Status struct {
	PostgreSQL bool      `json:"postgresql"`
	Redis      bool      `json:"redis"`
	Broker     bool      `json:"broker"`
	Outbox     bool      `json:"outbox"`
	OutboxSize int       `json:"outbox_size"`
	LastCheck  time.Time `json:"last_check"`
}

// Ready reports whether journal reads and writes can be served.
func (s Status) Ready() bool {
	return s.PostgreSQL
}
