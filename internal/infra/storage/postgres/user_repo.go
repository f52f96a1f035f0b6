package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vietddude/rewarder/internal/core/domain"
)

// UserRepo implements storage.UserRepository using PostgreSQL.
type UserRepo struct {
	db *DB
}

// NewUserRepo creates a new PostgreSQL user repository.
func NewUserRepo(db *DB) *UserRepo {
	return &UserRepo{db: db}
}

// Get retrieves a user by ID. Returns nil when the user does not exist.
func (r *UserRepo) Get(ctx context.Context, id int64) (*domain.User, error) {
	query := `SELECT id, graffiti, created_at FROM users WHERE id = $1`

	var u domain.User
	err := r.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Graffiti, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// ByGraffiti resolves graffiti memos to users in one batched lookup.
func (r *UserRepo) ByGraffiti(
	ctx context.Context,
	graffiti []string,
) (map[string]*domain.User, error) {
	if len(graffiti) == 0 {
		return map[string]*domain.User{}, nil
	}

	query := `SELECT id, graffiti, created_at FROM users WHERE graffiti = ANY($1::text[])`
	rows, err := r.db.QueryContext(ctx, query, graffiti)
	if err != nil {
		return nil, fmt.Errorf("failed to query users by graffiti: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*domain.User)
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Graffiti, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out[u.Graffiti] = &u
	}
	return out, rows.Err()
}
