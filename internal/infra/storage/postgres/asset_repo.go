package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vietddude/rewarder/internal/core/domain"
)

// AssetRepo implements storage.AssetRepository using PostgreSQL.
type AssetRepo struct {
	db *DB
}

// NewAssetRepo creates a new PostgreSQL asset repository.
func NewAssetRepo(db *DB) *AssetRepo {
	return &AssetRepo{db: db}
}

// ByName resolves asset names in one batched lookup.
func (r *AssetRepo) ByName(
	ctx context.Context,
	names []string,
) (map[string]*domain.Asset, error) {
	if len(names) == 0 {
		return map[string]*domain.Asset{}, nil
	}

	query := `SELECT id, name, owner_user_id, created_at FROM assets WHERE name = ANY($1::text[])`
	rows, err := r.db.QueryContext(ctx, query, names)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets by name: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*domain.Asset)
	for rows.Next() {
		var a domain.Asset
		var owner sql.NullInt64
		if err := rows.Scan(&a.ID, &a.Name, &owner, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		if owner.Valid {
			a.OwnerID = &owner.Int64
		}
		out[a.Name] = &a
	}
	return out, rows.Err()
}
