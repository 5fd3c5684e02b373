package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/go-order-core/internal/database"
	"github.com/safar/go-order-core/internal/models"
)

const userColumns = `id, email, name, created_at, updated_at, version`

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt, &user.UpdatedAt, &user.Version); err != nil {
		return nil, err
	}
	return user, nil
}

// CreateUser mirrors an identity issued by the auth provider. Re-creating an existing email
// refreshes the name and returns the stored row.
func CreateUser(ctx context.Context, db *sql.DB, email, name string) (*models.User, error) {
	user, err := scanUser(db.QueryRowContext(ctx,
		`INSERT INTO users (email, name, created_at, updated_at, version)
		 VALUES ($1, $2, NOW(), NOW(), 1)
		 ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name, updated_at = NOW()
		 RETURNING `+userColumns,
		email, name))
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

func GetUser(ctx context.Context, db *sql.DB, id int64) (*models.User, error) {
	user, err := scanUser(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return user, nil
}
