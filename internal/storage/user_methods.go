package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lorawan-server/lorawan-server-go/internal/models"
)

// CreateUser creates a new API user
func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = time.Now()

	query := `
		INSERT INTO users (id, email, password_hash, is_admin, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.getDB().ExecContext(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.IsAdmin, user.CreatedAt,
	)

	if isDuplicateKey(err) {
		return ErrDuplicateKey
	}
	return err
}

// GetUserByEmail gets a user by email
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `
		SELECT id, email, password_hash, is_admin, created_at
		FROM users
		WHERE email = $1`

	var user models.User
	err := s.getDB().QueryRowContext(ctx, query, email).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.IsAdmin, &user.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
