package services

import (
	"context"
	"encoding/json"

	"github.com/fastygo/journal/domain"
	"github.com/fastygo/journal/internal/infrastructure/buffer"
	"github.com/fastygo/journal/usecase"
)

// OutboxBridge turns journal events into outbox items.
type OutboxBridge struct {
	processor *OutboxProcessor
}

func NewOutboxBridge(processor *OutboxProcessor) *OutboxBridge {
	return &OutboxBridge{processor: processor}
}

func (b *OutboxBridge) PublishJournalCreated(ctx context.Context, event domain.JournalCreated) error {
	if b.processor == nil {
		return domain.ErrInvalidPayload
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	item := buffer.Item{
		ID:        event.ID,
		Event:     buffer.EventJournalCreated,
		Key:       event.Journable.String(),
		Data:      payload,
		Priority:  buffer.PriorityJournal,
		Timestamp: event.CreatedAt,
	}
	return b.processor.Dispatch(ctx, item)
}

var _ usecase.EventPublisher = (*OutboxBridge)(nil)
