package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"base-api/internal/domain"
	"base-api/internal/repository"
)

// UserResolver mapea identidades verificadas a usuarios persistidos.
type UserResolver struct {
	logger *zap.Logger
	users  repository.UserRepository
	now    func() time.Time
}

func NewUserResolver(logger *zap.Logger, users repository.UserRepository) *UserResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserResolver{
		logger: logger,
		users:  users,
		now:    time.Now,
	}
}

// ResolveFromEmail busca un usuario habilitado por email, sin distinguir mayusculas.
func (r *UserResolver) ResolveFromEmail(ctx context.Context, email string) (domain.User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return domain.User{}, ErrUserNotFound
	}
	user, err := r.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("get user by email: %w", err)
	}
	if user.Disabled {
		return domain.User{}, ErrUserDisabled
	}
	return user, nil
}

// ResolveFromClaims devuelve el usuario del email verificado, creandolo si no existe.
func (r *UserResolver) ResolveFromClaims(ctx context.Context, claims domain.ClaimSet) (domain.User, error) {
	email := normalizeEmail(claims.Email)
	if email == "" {
		return domain.User{}, ErrEmailClaimMissing
	}

	user, created, err := r.getOrCreate(ctx, domain.User{
		Email:     email,
		Firstname: firstnameFromClaims(email, claims),
		Lastname:  lastnameFromClaims(claims),
	})
	if err != nil {
		return domain.User{}, err
	}
	if created {
		r.logger.Info("user created from identity token", zap.String("email", email), zap.String("user_id", user.ID))
	}
	if user.Disabled {
		return domain.User{}, ErrUserDisabled
	}
	return user, nil
}

// EnsureOfflineAdmin obtiene o crea la identidad offline y la deja como admin habilitado.
// Solo escribe si hace falta corregir algo.
func (r *UserResolver) EnsureOfflineAdmin(ctx context.Context, email string) (domain.User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return domain.User{}, ErrInvalidEmail
	}
	lastname := "Admin"
	user, created, err := r.getOrCreate(ctx, domain.User{
		Email:     email,
		Firstname: "Dev",
		Lastname:  &lastname,
		IsAdmin:   true,
	})
	if err != nil {
		return domain.User{}, err
	}
	if created || (user.IsAdmin && !user.Disabled) {
		return user, nil
	}

	if err := r.users.UpdateFlags(ctx, user.ID, true, false); err != nil {
		return domain.User{}, fmt.Errorf("restore offline admin: %w", err)
	}
	r.logger.Info("offline admin restored", zap.String("email", email))
	user.IsAdmin = true
	user.Disabled = false
	return user, nil
}

// getOrCreate inserta candidate si el email no existe. Si otro request gana la
// carrera, el indice unico rechaza el insert y se relee la fila ganadora.
func (r *UserResolver) getOrCreate(ctx context.Context, candidate domain.User) (domain.User, bool, error) {
	user, err := r.users.GetByEmail(ctx, candidate.Email)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, false, fmt.Errorf("get user by email: %w", err)
	}

	candidate.ID = uuid.NewString()
	candidate.CreatedAt = r.now().UTC()
	if err := r.users.Create(ctx, candidate); err != nil {
		if !errors.Is(err, repository.ErrUserExists) {
			return domain.User{}, false, fmt.Errorf("create user: %w", err)
		}
		user, err = r.users.GetByEmail(ctx, candidate.Email)
		if err != nil {
			return domain.User{}, false, fmt.Errorf("reload user after conflict: %w", err)
		}
		return user, false, nil
	}
	return candidate, true, nil
}

func firstnameFromClaims(email string, claims domain.ClaimSet) string {
	if given := strings.TrimSpace(claims.GivenName); given != "" {
		return given
	}
	if parts := strings.Fields(claims.Name); len(parts) > 0 {
		return parts[0]
	}
	local, _, _ := strings.Cut(email, "@")
	return local
}

func lastnameFromClaims(claims domain.ClaimSet) *string {
	if family := strings.TrimSpace(claims.FamilyName); family != "" {
		return &family
	}
	parts := strings.Fields(claims.Name)
	if len(parts) > 1 {
		rest := strings.Join(parts[1:], " ")
		return &rest
	}
	return nil
}
