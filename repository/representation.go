package repository

import (
	"context"
	"time"

	"github.com/fastygo/journal/domain"
)

// RepresentationCache stores rendered journal listings keyed by validation token.
type RepresentationCache interface {
	Get(ctx context.Context, ref domain.Ref, token string) (*domain.Representation, error)
	Save(ctx context.Context, rep *domain.Representation, ttl time.Duration) error
	Invalidate(ctx context.Context, ref domain.Ref) error
}
