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

// UserService coordina reglas de negocio para usuarios.
type UserService struct {
	logger *zap.Logger
	users  repository.UserRepository
	now    func() time.Time
}

func NewUserService(logger *zap.Logger, users repository.UserRepository) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{
		logger: logger,
		users:  users,
		now:    time.Now,
	}
}

type CreateUserInput struct {
	Email     string
	Firstname string
	Lastname  *string
}

var (
	ErrUserNotFound          = errors.New("user not found")
	ErrUserExists            = errors.New("user already exists")
	ErrUserDisabled          = errors.New("user is disabled")
	ErrInvalidEmail          = errors.New("invalid email")
	ErrFirstnameRequired     = errors.New("firstname required")
	ErrAdminRequired         = errors.New("admin required")
	ErrSelfDemotion          = errors.New("you cannot deadminize yourself")
	ErrMissingToken          = errors.New("missing bearer token")
	ErrInvalidCredentials    = errors.New("invalid or expired credentials")
	ErrEmailClaimMissing     = errors.New("email claim is missing")
	ErrAudienceNotConfigured = errors.New("google audience is not configured")
)

func (s *UserService) CreateUser(ctx context.Context, input CreateUserInput) (domain.User, error) {
	if s.users == nil {
		return domain.User{}, errors.New("user service not configured")
	}

	email := normalizeEmail(input.Email)
	if email == "" {
		return domain.User{}, ErrInvalidEmail
	}
	firstname := strings.TrimSpace(input.Firstname)
	if firstname == "" {
		return domain.User{}, ErrFirstnameRequired
	}

	_, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		return domain.User{}, ErrUserExists
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, err
	}

	user := domain.User{
		ID:        uuid.NewString(),
		Email:     email,
		Firstname: firstname,
		Lastname:  trimOptional(input.Lastname),
		CreatedAt: s.now().UTC(),
	}

	// El indice unico decide si dos altas concurrentes chocan.
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return domain.User{}, ErrUserExists
		}
		return domain.User{}, err
	}

	return user, nil
}

func (s *UserService) ListUsers(ctx context.Context) ([]domain.User, error) {
	if s.users == nil {
		return nil, errors.New("user service not configured")
	}
	return s.users.List(ctx)
}

func (s *UserService) DeleteUser(ctx context.Context, emailAddr string) error {
	if s.users == nil {
		return errors.New("user service not configured")
	}
	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" {
		return ErrUserNotFound
	}
	deleted, err := s.users.DeleteByEmail(ctx, emailAddr)
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrUserNotFound
	}
	s.logger.Info("user deleted", zap.String("email", emailAddr), zap.Int64("rows", deleted))
	return nil
}

// PromoteUser marca al usuario como admin. Solo un admin puede hacerlo.
func (s *UserService) PromoteUser(ctx context.Context, caller domain.User, emailAddr string) (domain.User, error) {
	if !caller.IsAdmin {
		return domain.User{}, ErrAdminRequired
	}
	return s.setAdmin(ctx, emailAddr, true)
}

// DemoteUser quita el rol admin. Nadie puede quitarselo a si mismo.
func (s *UserService) DemoteUser(ctx context.Context, caller domain.User, emailAddr string) (domain.User, error) {
	if !caller.IsAdmin {
		return domain.User{}, ErrAdminRequired
	}
	if normalizeEmail(caller.Email) == normalizeEmail(emailAddr) {
		return domain.User{}, ErrSelfDemotion
	}
	return s.setAdmin(ctx, emailAddr, false)
}

func (s *UserService) setAdmin(ctx context.Context, emailAddr string, isAdmin bool) (domain.User, error) {
	if s.users == nil {
		return domain.User{}, errors.New("user service not configured")
	}
	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" {
		return domain.User{}, ErrUserNotFound
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, err
	}

	if err := s.users.UpdateFlags(ctx, user.ID, isAdmin, user.Disabled); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("update admin flag: %w", err)
	}
	user.IsAdmin = isAdmin
	s.logger.Info("user admin flag changed", zap.String("email", emailAddr), zap.Bool("is_admin", isAdmin))
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
