package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/fastygo/journal/domain"
	"github.com/fastygo/journal/repository"
)

type stateReader struct {
	store *Store
}

// NewStateReader creates a StateReader over journable tables in the same database.
func NewStateReader(store *Store) repository.StateReader {
	return &stateReader{store: store}
}

func (r *stateReader) Load(ctx context.Context, schema *domain.Schema, id int64) (domain.Journable, domain.Associations, error) {
	columns := make([]string, len(schema.Fields))
	for i, f := range schema.Fields {
		columns[i] = f.Name
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", strings.Join(columns, ", "), schema.Table)
	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := r.store.conn(ctx).QueryRowContext(ctx, query, id).Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, domain.ErrJournableNotFound
		}
		return nil, nil, fmt.Errorf("load %s: %w", schema.Kind, err)
	}

	attrs := make(map[string]any, len(columns))
	for i, name := range columns {
		attrs[name] = values[i]
	}
	record := &domain.Record{
		Ref:        domain.Ref{Kind: schema.Kind, ID: id},
		Attributes: attrs,
	}

	assocs := domain.Associations{}
	for _, spec := range schema.Associations {
		if spec.Source == nil {
			continue
		}
		items, err := r.loadAssociation(ctx, spec.Source, id)
		if err != nil {
			return nil, nil, fmt.Errorf("load %s.%s: %w", schema.Kind, spec.Name, err)
		}
		assocs[spec.Name] = items
	}
	return record, assocs, nil
}

func (r *stateReader) loadAssociation(ctx context.Context, src *domain.AssociationSource, owner int64) ([]domain.AssociationItem, error) {
	query := fmt.Sprintf("SELECT %s, COALESCE(CAST(%s AS TEXT), '') FROM %s WHERE %s = ?",
		src.KeyColumn, src.ValueColumn, src.Table, src.OwnerColumn)
	args := []any{owner}
	if src.TypeColumn != "" {
		query += fmt.Sprintf(" AND %s = ?", src.TypeColumn)
		args = append(args, src.TypeValue)
	}
	query += " ORDER BY " + src.KeyColumn

	rows, err := r.store.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.AssociationItem
	for rows.Next() {
		var item domain.AssociationItem
		if err := rows.Scan(&item.Key, &item.Value); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
