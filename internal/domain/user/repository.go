package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mediauth/go-rx/internal/domain/errs"
)

// Repository reads users from PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// GetByID retrieves a user by primary key.
func (r *Repository) GetByID(ctx context.Context, id int64) (User, error) {
	query := `
		SELECT id, username, first_name, last_name, user_type
		FROM users
		WHERE id = $1
	`

	var u User
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Role,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, errs.Newf(errs.KindNotFound, "user %d not found", id)
	}
	if err != nil {
		return User{}, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

// GetPatient retrieves a user and verifies it carries the patient role.
func (r *Repository) GetPatient(ctx context.Context, id int64) (User, error) {
	u, err := r.GetByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if u.Role != RolePatient {
		return User{}, errs.Newf(errs.KindValidation, "user %d is not a patient", id)
	}
	return u, nil
}

// ListPatients returns all registered patients.
func (r *Repository) ListPatients(ctx context.Context) ([]User, error) {
	query := `
		SELECT id, username, first_name, last_name, user_type
		FROM users
		WHERE user_type = 'patient'
		ORDER BY username ASC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query patients: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Role); err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
