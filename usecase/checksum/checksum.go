// Package checksum derives cache validation tokens from the freshness markers
// of a journable's direct references.
package checksum

import (
	"context"
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fastygo/journal/domain"
	"github.com/fastygo/journal/internal/metrics"
	"github.com/fastygo/journal/repository"
)

// MaxBatch bounds the number of ids accepted by one call.
const MaxBatch = 1000

// Service computes checksums in bulk. It only reads and never blocks writers.
type Service struct {
	checksums repository.ChecksumRepository
	journals  repository.JournalRepository
	registry  *domain.Registry
	logger    *zap.Logger
}

func NewService(
	checksums repository.ChecksumRepository,
	journals repository.JournalRepository,
	registry *domain.Registry,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		checksums: checksums,
		journals:  journals,
		registry:  registry,
		logger:    logger,
	}
}

// ChecksumFor returns a 32 character hex checksum per existing id using a
// single bulk query. Unknown ids are absent from the result.
func (s *Service) ChecksumFor(ctx context.Context, kind string, ids []int64) (map[int64]string, error) {
	schema, err := s.registry.Lookup(kind)
	if err != nil {
		return nil, err
	}
	unique := dedupe(ids)
	if len(unique) > MaxBatch {
		return nil, domain.WrapError(domain.ErrCodeInvalid, domain.ErrInvalidPayload.Message,
			fmt.Errorf("%d ids exceed the batch limit of %d", len(unique), MaxBatch))
	}
	if len(unique) == 0 {
		return map[int64]string{}, nil
	}

	ctx, span := otel.Tracer("journal").Start(ctx, "journal.Checksum.ChecksumFor",
		trace.WithAttributes(
			attribute.String("journable.kind", kind),
			attribute.Int("ids", len(unique)),
		),
	)
	defer span.End()

	timer := prometheus.NewTimer(metrics.ChecksumDuration.WithLabelValues(kind))
	sums, err := s.checksums.Checksums(ctx, schema, unique)
	timer.ObserveDuration()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("checksums for %s: %w", kind, err)
	}
	s.logger.Debug("checksums computed", zap.String("kind", kind), zap.Int("requested", len(unique)), zap.Int("found", len(sums)))
	return sums, nil
}

// Tokens combines each checksum with the journable's latest journal version,
// so a new journal entry also invalidates cached representations.
func (s *Service) Tokens(ctx context.Context, kind string, ids []int64) (map[int64]string, error) {
	sums, err := s.ChecksumFor(ctx, kind, ids)
	if err != nil || len(sums) == 0 {
		return sums, err
	}
	versions, err := s.journals.LatestVersions(ctx, kind, dedupe(ids))
	if err != nil {
		return nil, fmt.Errorf("latest versions for %s: %w", kind, err)
	}

	tokens := make(map[int64]string, len(sums))
	for id, sum := range sums {
		tokens[id] = Token(sum, versions[id])
	}
	return tokens, nil
}

// Token formats a checksum and latest version as an opaque validation token.
func Token(checksum string, latestVersion int) string {
	return fmt.Sprintf("%s-%d", checksum, latestVersion)
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
