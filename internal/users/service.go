package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ServiceConfig describes the dependencies required for the credential store.
type ServiceConfig struct {
	Database    *gorm.DB
	Clock       func() time.Time
	IDGenerator func() (string, error)
	Logger      *zap.Logger
}

// Service persists user records keyed by email.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	newID  func() (string, error)
	logger *zap.Logger
}

// NewService constructs the credential store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idGenerator := cfg.IDGenerator
	if idGenerator == nil {
		idGenerator = newUUID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		newID:  idGenerator,
		logger: logger,
	}, nil
}

// FindByEmail returns the user registered under the address.
func (s *Service) FindByEmail(ctx context.Context, email string) (User, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return User{}, ErrInvalidEmail
	}
	var user User
	err := s.db.WithContext(ctx).Where("email = ?", normalized).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("users: find by email: %w", err)
	}
	return user, nil
}

// FindByID returns the user with the canonical identifier.
func (s *Service) FindByID(ctx context.Context, id string) (User, error) {
	trimmed := normalize(id)
	if trimmed == "" {
		return User{}, ErrUserNotFound
	}
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", trimmed).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("users: find by id: %w", err)
	}
	return user, nil
}

// Create inserts a new user. It returns ErrDuplicateEmail when the address is taken.
func (s *Service) Create(ctx context.Context, input NewUser) (User, error) {
	email := NormalizeEmail(input.Email)
	if email == "" {
		return User{}, ErrInvalidEmail
	}
	id, err := s.newID()
	if err != nil {
		return User{}, fmt.Errorf("users: generate id: %w", err)
	}
	user := User{
		ID:           id,
		Name:         normalize(input.Name),
		Email:        email,
		PasswordHash: input.PasswordHash,
		GoogleID:     normalize(input.GoogleID),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrDuplicateEmail
		}
		return User{}, fmt.Errorf("users: create: %w", err)
	}
	s.logger.Debug("user created", zap.String("user_id", user.ID))
	return user, nil
}

// FindOrCreate returns the user registered under input.Email, creating it when absent.
// A concurrent first login for the same address loses on the unique index; the loser
// re-reads once and returns the winner's record.
func (s *Service) FindOrCreate(ctx context.Context, input NewUser) (User, bool, error) {
	user, err := s.FindByEmail(ctx, input.Email)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return User{}, false, err
	}

	user, err = s.Create(ctx, input)
	if err == nil {
		return user, true, nil
	}
	if !errors.Is(err, ErrDuplicateEmail) {
		return User{}, false, err
	}

	s.logger.Info("concurrent user creation resolved by unique index", zap.String("email", NormalizeEmail(input.Email)))
	user, err = s.FindByEmail(ctx, input.Email)
	if err != nil {
		return User{}, false, err
	}
	return user, false, nil
}

func newUUID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
