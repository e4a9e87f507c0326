package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fastygo/journal/domain"
	"github.com/fastygo/journal/repository"
)

type checksumRepository struct {
	pool *pgxpool.Pool
}

// NewChecksumRepository creates a Postgres-backed ChecksumRepository. The
// digest is computed in the database in one query per call.
func NewChecksumRepository(pool *pgxpool.Pool) repository.ChecksumRepository {
	return &checksumRepository{pool: pool}
}

func (r *checksumRepository) Checksums(ctx context.Context, schema *domain.Schema, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := conn(ctx, r.pool).Query(ctx, checksumQuery(schema), ids)
	if err != nil {
		return nil, fmt.Errorf("checksum query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id  int64
			sum string
		)
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, err
		}
		out[id] = sum
	}
	return out, rows.Err()
}

// checksumQuery builds
//
//	SELECT j.id, MD5(CONCAT(r0.id, r0.updated_at, ...))
//	FROM <table> j LEFT JOIN <ref table> r0 ON r0.id = j.<column> ...
//	WHERE j.id = ANY($1)
func checksumQuery(schema *domain.Schema) string {
	var (
		parts []string
		joins []string
	)
	for i, ref := range schema.Checksum {
		alias := fmt.Sprintf("r%d", i)
		parts = append(parts, alias+".id", alias+"."+ref.UpdatedColumn)
		joins = append(joins, fmt.Sprintf("LEFT JOIN %s %s ON %s.id = j.%s", ref.Table, alias, alias, ref.Column))
	}
	digest := "MD5('')"
	if len(parts) > 0 {
		digest = fmt.Sprintf("MD5(CONCAT(%s))", strings.Join(parts, ", "))
	}

	return fmt.Sprintf("SELECT j.id, %s FROM %s j %s WHERE j.id = ANY($1)",
		digest, schema.Table, strings.Join(joins, " "))
}
