package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"base-api/internal/domain"
)

// ErrUserExists se devuelve cuando el indice unico lower(email) rechaza un insert.
var ErrUserExists = errors.New("user already exists")

const uniqueViolation = "23505"

// UserRepository define el contrato de persistencia para usuarios.
// Las busquedas por email ignoran mayusculas; los misses devuelven pgx.ErrNoRows.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	DeleteByEmail(ctx context.Context, email string) (int64, error)
	UpdateFlags(ctx context.Context, id string, isAdmin, disabled bool) error
}

// PgUserRepository implementa UserRepository usando pgxpool.
type PgUserRepository struct {
	pool *pgxpool.Pool
}

func NewPgUserRepository(pool *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{pool: pool}
}

func (r *PgUserRepository) Create(ctx context.Context, user domain.User) error {
	const query = `
		INSERT INTO users (id, email, firstname, lastname, is_admin, disabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Email,
		user.Firstname,
		user.Lastname,
		user.IsAdmin,
		user.Disabled,
		user.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrUserExists
	}
	return err
}

func (r *PgUserRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	const query = `
		SELECT id, email, firstname, lastname, is_admin, disabled, created_at
		FROM users
		WHERE lower(email) = lower($1)
	`
	u, err := scanUser(r.pool.QueryRow(ctx, query, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, err
	}
	return u, err
}

func (r *PgUserRepository) List(ctx context.Context) ([]domain.User, error) {
	const query = `
		SELECT id, email, firstname, lastname, is_admin, disabled, created_at
		FROM users
		ORDER BY created_at, email
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *PgUserRepository) DeleteByEmail(ctx context.Context, email string) (int64, error) {
	const query = `DELETE FROM users WHERE lower(email) = lower($1)`
	tag, err := r.pool.Exec(ctx, query, email)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PgUserRepository) UpdateFlags(ctx context.Context, id string, isAdmin, disabled bool) error {
	const query = `
		UPDATE users
		SET is_admin = $2, disabled = $3
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, id, isAdmin, disabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Firstname,
		&u.Lastname,
		&u.IsAdmin,
		&u.Disabled,
		&u.CreatedAt,
	)
	return u, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
