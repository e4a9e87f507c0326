package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fastygo/journal/domain"
	"github.com/fastygo/journal/internal/snapshot"
	"github.com/fastygo/journal/repository"
)

type journalRepository struct {
	store    *Store
	registry *domain.Registry
}

// NewJournalRepository creates a SQLite-backed JournalRepository.
func NewJournalRepository(store *Store, registry *domain.Registry) repository.JournalRepository {
	return &journalRepository{store: store, registry: registry}
}

const journalColumns = `id, journable_type, journable_id, version, user_id, notes, data, details, created_at`

func (r *journalRepository) Latest(ctx context.Context, ref domain.Ref) (*domain.Entry, error) {
	const query = `SELECT ` + journalColumns + `
	FROM journals
	WHERE journable_type = ? AND journable_id = ?
	ORDER BY version DESC
	LIMIT 1`
	row := r.store.conn(ctx).QueryRowContext(ctx, query, ref.Kind, ref.ID)
	return r.scanEntry(row)
}

func (r *journalRepository) Get(ctx context.Context, ref domain.Ref, version int) (*domain.Entry, error) {
	const query = `SELECT ` + journalColumns + `
	FROM journals
	WHERE journable_type = ? AND journable_id = ? AND version = ?`
	row := r.store.conn(ctx).QueryRowContext(ctx, query, ref.Kind, ref.ID, version)
	return r.scanEntry(row)
}

func (r *journalRepository) List(ctx context.Context, ref domain.Ref) ([]domain.Entry, error) {
	const query = `SELECT ` + journalColumns + `
	FROM journals
	WHERE journable_type = ? AND journable_id = ?
	ORDER BY version ASC`
	rows, err := r.store.conn(ctx).QueryContext(ctx, query, ref.Kind, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("list journals: %w", err)
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

func (r *journalRepository) Insert(ctx context.Context, entry *domain.Entry) error {
	if entry == nil {
		return domain.ErrInvalidPayload
	}
	data, details, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	const query = `
	INSERT INTO journals (journable_type, journable_id, version, user_id, notes, data, details, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	return r.store.withSavepoint(ctx, "journal_insert", func() error {
		res, err := r.store.conn(ctx).ExecContext(ctx, query,
			entry.Ref.Kind,
			entry.Ref.ID,
			entry.Version,
			entry.AuthorID,
			entry.Notes,
			data,
			details,
			entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.WrapError(domain.ErrCodeConflict, domain.ErrVersionConflict.Message,
					fmt.Errorf("%s version %d", entry.Ref, entry.Version))
			}
			return fmt.Errorf("insert journal: %w", err)
		}
		entry.ID, err = res.LastInsertId()
		return err
	})
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
	UPDATE journals SET data = ?, details = ?
	WHERE journable_type = ? AND journable_id = ? AND version = 1`
	res, err := r.store.conn(ctx).ExecContext(ctx, query, data, details, entry.Ref.Kind, entry.Ref.ID)
	if err != nil {
		return fmt.Errorf("update initial journal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrJournalNotFound
	}
	return nil
}

func (r *journalRepository) DeleteAll(ctx context.Context, ref domain.Ref) (int64, error) {
	const query = `DELETE FROM journals WHERE journable_type = ? AND journable_id = ?`
	res, err := r.store.conn(ctx).ExecContext(ctx, query, ref.Kind, ref.ID)
	if err != nil {
		return 0, fmt.Errorf("delete journals: %w", err)
	}
	return res.RowsAffected()
}

func (r *journalRepository) RewriteAuthor(ctx context.Context, from, to int64) (int64, error) {
	const query = `UPDATE journals SET user_id = ? WHERE user_id = ?`
	res, err := r.store.conn(ctx).ExecContext(ctx, query, to, from)
	if err != nil {
		return 0, fmt.Errorf("rewrite journal author: %w", err)
	}
	return res.RowsAffected()
}

func (r *journalRepository) LatestVersions(ctx context.Context, kind string, ids []int64) (map[int64]int, error) {
	out := make(map[int64]int, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders, args := inClause(ids)
	query := `SELECT journable_id, MAX(version) FROM journals
	WHERE journable_type = ? AND journable_id IN (` + placeholders + `)
	GROUP BY journable_id`
	rows, err := r.store.conn(ctx).QueryContext(ctx, query, append([]any{kind}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("latest versions: %w", err)
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
	Scan(dest ...any) error
}) (*domain.Entry, error) {
	var (
		entry     domain.Entry
		data      string
		details   string
		createdAt string
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
		&createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJournalNotFound
		}
		return nil, fmt.Errorf("scan journal: %w", err)
	}

	schema, _ := r.registry.Lookup(entry.Ref.Kind)
	var err error
	if entry.Data, err = snapshot.Decode(schema, []byte(data)); err != nil {
		return nil, err
	}
	if entry.Details, err = snapshot.DecodeChangeSet(schema, []byte(details)); err != nil {
		return nil, err
	}
	if entry.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &entry, nil
}

func encodeEntry(entry *domain.Entry) (string, string, error) {
	data, err := snapshot.Encode(entry.Data)
	if err != nil {
		return "", "", err
	}
	details, err := snapshot.EncodeChangeSet(entry.Details)
	if err != nil {
		return "", "", err
	}
	return string(data), string(details), nil
}

func inClause(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}
