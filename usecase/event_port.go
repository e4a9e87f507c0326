package usecase

import (
	"context"

	"github.com/fastygo/journal/domain"
)

// EventPublisher abstracts notification delivery so use cases stay transport-agnostic.
type EventPublisher interface {
	PublishJournalCreated(ctx context.Context, event domain.JournalCreated) error
}
