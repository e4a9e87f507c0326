package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fastygo/journal/domain"
	"github.com/fastygo/journal/internal/snapshot"
	"github.com/fastygo/journal/repository"
)

type journalRepository struct {
	pool     *pgxpool.Pool
	registry *domain.Registry
}

// NewJournalRepository creates a Postgres-backed JournalRepository implementation.
func NewJournalRepository(pool *pgxpool.Pool, registry *domain.Registry) repository.JournalRepository {
	return &journalRepository{pool: pool, registry: registry}
}

const journalColumns = `id, journable_type, journable_id, version, user_id, notes, data, details, created_at`

func (r *journalRepository) Latest(ctx context.Context, ref domain.Ref) (*domain.Entry, error) {
	const query = `
	SELECT ` + journalColumns + `
	FROM journals
	WHERE journable_type = $1 AND journable_id = $2
	ORDER BY version DESC
	LIMIT 1
	`
	row := conn(ctx, r.pool).QueryRow(ctx, query, ref.Kind, ref.ID)
	return r.scanEntry(row)
}

func (r *journalRepository) Get(ctx context.Context, ref domain.Ref, version int) (*domain.Entry, error) {
	const query = `
	SELECT ` + journalColumns + `
	FROM journals
	WHERE journable_type = $1 AND journable_id = $2 AND version = $3
	`
	row := conn(ctx, r.pool).QueryRow(ctx, query, ref.Kind, ref.ID, version)
	return r.scanEntry(row)
}

func (r *journalRepository) List(ctx context.Context, ref domain.Ref) ([]domain.Entry, error) {
	const query = `
	SELECT ` + journalColumns + `
	FROM journals
	WHERE journable_type = $1 AND journable_id = $2
	ORDER BY version ASC
	`
	rows, err := conn(ctx, r.pool).Query(ctx, query, ref.Kind, ref.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.Entry
	for rows.Next() {
		entry, err := r.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// Insert writes the entry under a savepoint so a version collision leaves the
// enclosing transaction usable for the retry.
func (r *journalRepository) Insert(ctx context.Context, entry *domain.Entry) error {
	if entry == nil {
		return domain.ErrInvalidPayload
	}
	data, details, err := encodeEntry(entry)
	if err != nil {
		return err
	}

	const query = `
	INSERT INTO journals (journable_type, journable_id, version, user_id, notes, data, details, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))
	RETURNING id, created_at
	`

	var q querier = r.pool
	var savepoint pgx.Tx
	if tx := txFrom(ctx); tx != nil {
		if savepoint, err = tx.Begin(ctx); err != nil {
			return fmt.Errorf("savepoint: %w", err)
		}
		q = savepoint
	}

	err = q.QueryRow(ctx, query,
		entry.Ref.Kind,
		entry.Ref.ID,
		entry.Version,
		entry.AuthorID,
		entry.Notes,
		data,
		details,
		nullTime(entry.CreatedAt),
	).Scan(&entry.ID, &entry.CreatedAt)

	if err != nil {
		if savepoint != nil {
			_ = savepoint.Rollback(ctx)
		}
		if isUniqueViolation(err) {
			return domain.WrapError(domain.ErrCodeConflict, domain.ErrVersionConflict.Message,
				fmt.Errorf("%s version %d", entry.Ref, entry.Version))
		}
		return fmt.Errorf("insert journal: %w", err)
	}
	if savepoint != nil {
		if err := savepoint.Commit(ctx); err != nil {
			return fmt.Errorf("release savepoint: %w", err)
		}
	}
	return nil
}

func (r *journalRepository) UpdateInitial(ctx context.Context, entry *domain.Entry) error {
	if entry == nil || entry.Version != 1 {
		return domain.ErrInvalidPayload
	}
	data, details, err := encodeEntry(entry)
	if err != nil {
		return err
	}

	const query = `
	UPDATE journals SET data = $1, details = $2
	WHERE journable_type = $3 AND journable_id = $4 AND version = 1
	`
	tag, err := conn(ctx, r.pool).Exec(ctx, query, data, details, entry.Ref.Kind, entry.Ref.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJournalNotFound
	}
	return nil
}

func (r *journalRepository) DeleteAll(ctx context.Context, ref domain.Ref) (int64, error) {
	const query = `DELETE FROM journals WHERE journable_type = $1 AND journable_id = $2`
	tag, err := conn(ctx, r.pool).Exec(ctx, query, ref.Kind, ref.ID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *journalRepository) RewriteAuthor(ctx context.Context, from, to int64) (int64, error) {
	const query = `UPDATE journals SET user_id = $1 WHERE user_id = $2`
	tag, err := conn(ctx, r.pool).Exec(ctx, query, to, from)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *journalRepository) LatestVersions(ctx context.Context, kind string, ids []int64) (map[int64]int, error) {
	out := make(map[int64]int, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	const query = `
	SELECT journable_id, MAX(version)
	FROM journals
	WHERE journable_type = $1 AND journable_id = ANY($2)
	GROUP BY journable_id
	`
	rows, err := conn(ctx, r.pool).Query(ctx, query, kind, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id      int64
			version int
		)
		if err := rows.Scan(&id, &version); err != nil {
			return nil, err
		}
		out[id] = version
	}
	return out, rows.Err()
}

func (r *journalRepository) scanEntry(row interface {
	Scan(dest ...interface{}) error
}) (*domain.Entry, error) {
	var (
		entry   domain.Entry
		data    []byte
		details []byte
	)
	if err := row.Scan(
		&entry.ID,
		&entry.Ref.Kind,
		&entry.Ref.ID,
		&entry.Version,
		&entry.AuthorID,
		&entry.Notes,
		&data,
		&details,
		&entry.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJournalNotFound
		}
		return nil, err
	}

	schema, _ := r.registry.Lookup(entry.Ref.Kind)
	var err error
	if entry.Data, err = snapshot.Decode(schema, data); err != nil {
		return nil, err
	}
	if entry.Details, err = snapshot.DecodeChangeSet(schema, details); err != nil {
		return nil, err
	}
	return &entry, nil
}

func encodeEntry(entry *domain.Entry) ([]byte, []byte, error) {
	data, err := snapshot.Encode(entry.Data)
	if err != nil {
		return nil, nil, err
	}
	details, err := snapshot.EncodeChangeSet(entry.Details)
	if err != nil {
		return nil, nil, err
	}
	return data, details, nil
}
