package sqlite

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/fastygo/journal/domain"
	"github.com/fastygo/journal/repository"
)

type checksumRepository struct {
	store *Store
}

// NewChecksumRepository creates a SQLite-backed ChecksumRepository. SQLite has
// no MD5 function, so the reference markers are concatenated in SQL and
// hashed here.
func NewChecksumRepository(store *Store) repository.ChecksumRepository {
	return &checksumRepository{store: store}
}

func (r *checksumRepository) Checksums(ctx context.Context, schema *domain.Schema, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders, args := inClause(ids)
	query := checksumQuery(schema, placeholders)
	rows, err := r.store.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("checksum query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id     int64
			marker string
		)
		if err := rows.Scan(&id, &marker); err != nil {
			return nil, fmt.Errorf("scan checksum: %w", err)
		}
		sum := md5.Sum([]byte(marker))
		out[id] = hex.EncodeToString(sum[:])
	}
	return out, rows.Err()
}

func checksumQuery(schema *domain.Schema, placeholders string) string {
	var (
		parts []string
		joins []string
	)
	for i, ref := range schema.Checksum {
		alias := fmt.Sprintf("r%d", i)
		parts = append(parts,
			fmt.Sprintf("COALESCE(CAST(%s.id AS TEXT), '')", alias),
			fmt.Sprintf("COALESCE(CAST(%s.%s AS TEXT), '')", alias, ref.UpdatedColumn),
		)
		joins = append(joins, fmt.Sprintf("LEFT JOIN %s %s ON %s.id = j.%s", ref.Table, alias, alias, ref.Column))
	}
	marker := "''"
	if len(parts) > 0 {
		marker = strings.Join(parts, " || ")
	}

	return fmt.Sprintf("SELECT j.id, %s FROM %s j %s WHERE j.id IN (%s)",
		marker, schema.Table, strings.Join(joins, " "), placeholders)
}
