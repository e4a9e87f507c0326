package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/journal/domain"
)

func TestChecksumQuery(t *testing.T) {
	tests := []struct {
		name   string
		schema *domain.Schema
		want   string
	}{
		{
			name:   "no references",
			schema: &domain.Schema{Kind: "changeset", Table: "changesets"},
			want:   "SELECT j.id, MD5('') FROM changesets j  WHERE j.id = ANY($1)",
		},
		{
			name: "two references",
			schema: &domain.Schema{Kind: "news", Table: "news", Checksum: []domain.ChecksumReference{
				{Column: "author_id", Table: "users", UpdatedColumn: "updated_on"},
				{Column: "project_id", Table: "projects", UpdatedColumn: "updated_at"},
			}},
			want: "SELECT j.id, MD5(CONCAT(r0.id, r0.updated_on, r1.id, r1.updated_at)) FROM news j " +
				"LEFT JOIN users r0 ON r0.id = j.author_id LEFT JOIN projects r1 ON r1.id = j.project_id " +
				"WHERE j.id = ANY($1)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, checksumQuery(tt.schema))
		})
	}
}

func TestChecksumQuery_WorkPackage(t *testing.T) {
	schema, err := domain.DefaultRegistry().Lookup(domain.KindWorkPackage)
	require.NoError(t, err)

	q := checksumQuery(schema)
	assert.True(t, strings.HasPrefix(q, "SELECT j.id, MD5(CONCAT(r0.id, r0.updated_at, r1.id, r1.updated_on"), q)
	assert.Contains(t, q, "FROM work_packages j ")
	assert.Contains(t, q, "LEFT JOIN statuses r0 ON r0.id = j.status_id")
	assert.Equal(t, len(schema.Checksum), strings.Count(q, "LEFT JOIN "))
	assert.True(t, strings.HasSuffix(q, "WHERE j.id = ANY($1)"))
}

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: uniqueViolation}
	assert.True(t, isUniqueViolation(dup))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", dup)))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("boom")))
	assert.False(t, isUniqueViolation(nil))
}

func TestNullTime(t *testing.T) {
	assert.Nil(t, nullTime(time.Time{}))
	now := time.Now()
	assert.Equal(t, now, nullTime(now))
}

func TestInsert_RejectsNilEntry(t *testing.T) {
	repo := &journalRepository{}
	assert.ErrorIs(t, repo.Insert(context.Background(), nil), domain.ErrInvalidPayload)
}

func TestEncodeEntry(t *testing.T) {
	data, details, err := encodeEntry(&domain.Entry{
		Data:    domain.Snapshot{Attributes: map[string]any{"subject": "Ship it"}},
		Details: domain.ChangeSet{"subject": {Old: nil, New: "Ship it"}},
	})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"subject":"Ship it"`)
	assert.Contains(t, string(details), `"subject"`)
}
