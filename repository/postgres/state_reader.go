package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fastygo/journal/domain"
	"github.com/fastygo/journal/repository"
)

type stateReader struct {
	pool *pgxpool.Pool
}

// NewStateReader creates a StateReader over the journable tables.
func NewStateReader(pool *pgxpool.Pool) repository.StateReader {
	return &stateReader{pool: pool}
}

func (r *stateReader) Load(ctx context.Context, schema *domain.Schema, id int64) (domain.Journable, domain.Associations, error) {
	columns := make([]string, len(schema.Fields))
	for i, f := range schema.Fields {
		columns[i] = f.Name
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", strings.Join(columns, ", "), schema.Table)
	rows, err := conn(ctx, r.pool).Query(ctx, query, id)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", schema.Kind, err)
	}
	if !rows.Next() {
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, nil, fmt.Errorf("load %s: %w", schema.Kind, err)
		}
		return nil, nil, domain.ErrJournableNotFound
	}
	values, err := rows.Values()
	rows.Close()
	if err != nil {
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
	query := fmt.Sprintf("SELECT %s::bigint, COALESCE(%s::text, '') FROM %s WHERE %s = $1",
		src.KeyColumn, src.ValueColumn, src.Table, src.OwnerColumn)
	args := []any{owner}
	if src.TypeColumn != "" {
		query += fmt.Sprintf(" AND %s = $2", src.TypeColumn)
		args = append(args, src.TypeValue)
	}
	query += " ORDER BY " + src.KeyColumn

	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
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
