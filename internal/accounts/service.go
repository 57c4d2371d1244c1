// Package accounts implements the login strategies that end in a session token.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/jotter/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/jotter/backend/internal/otp"
	"github.com/MarcoPoloResearchLab/jotter/backend/internal/users"
	"go.uber.org/zap"
)

// UserStore is the credential store used by the gateway.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (users.User, error)
	Create(ctx context.Context, input users.NewUser) (users.User, error)
	FindOrCreate(ctx context.Context, input users.NewUser) (users.User, bool, error)
}

// SessionIssuer mints session tokens for resolved users.
type SessionIssuer interface {
	IssueSessionToken(ctx context.Context, userID string) (string, int64, error)
}

// CodeSender delivers one-time codes.
type CodeSender interface {
	SendCode(ctx context.Context, email, code string) error
}

// Session is the outcome of every successful login path.
type Session struct {
	Token     string
	ExpiresIn int64
	User      users.User
}

// FederatedIdentity is an identity asserted by an external provider.
type FederatedIdentity struct {
	Name    string
	Email   string
	Subject string
}

// ServiceConfig wires the gateway collaborators.
type ServiceConfig struct {
	Users    UserStore
	Sessions SessionIssuer
	Codes    otp.Store
	Sender   CodeSender
	Logger   *zap.Logger
}

// Service resolves identities through password, one-time code or federated login.
type Service struct {
	users    UserStore
	sessions SessionIssuer
	codes    otp.Store
	sender   CodeSender
	logger   *zap.Logger
}

// NewService validates dependencies and constructs the gateway.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Users == nil {
		return nil, errors.New("accounts: user store required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("accounts: session issuer required")
	}
	if cfg.Codes == nil {
		return nil, errors.New("accounts: code store required")
	}
	if cfg.Sender == nil {
		return nil, errors.New("accounts: code sender required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		users:    cfg.Users,
		sessions: cfg.Sessions,
		codes:    cfg.Codes,
		sender:   cfg.Sender,
		logger:   logger,
	}, nil
}

// SignUp creates a password account and mints a session. It is create-once per email.
func (s *Service) SignUp(ctx context.Context, name, email, password string) (Session, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return Session{}, newServiceError(opSignUp, "password_too_long", ErrInvalidPassword)
		}
		return Session{}, newServiceError(opSignUp, "hash_failed", err)
	}

	user, err := s.users.Create(ctx, users.NewUser{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, users.ErrDuplicateEmail) {
			return Session{}, newServiceError(opSignUp, "duplicate_email", ErrDuplicateKey)
		}
		return Session{}, newServiceError(opSignUp, "create_failed", err)
	}

	s.logger.Info("user signed up", zap.String("user_id", user.ID), zap.String("method", "password"))
	return s.mint(ctx, opSignUp, user)
}

// Login verifies a password against the stored hash and mints a session.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) || errors.Is(err, users.ErrInvalidEmail) {
			return Session{}, newServiceError(opLogin, "user_not_found", ErrNotFound)
		}
		return Session{}, newServiceError(opLogin, "lookup_failed", err)
	}

	if err := auth.CheckPassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return Session{}, newServiceError(opLogin, "wrong_password", ErrBadCredential)
		}
		return Session{}, newServiceError(opLogin, "compare_failed", err)
	}

	return s.mint(ctx, opLogin, user)
}

// RequestCode issues a one-time code for the email and hands it to the sender.
// Delivery failures are not retried.
func (s *Service) RequestCode(ctx context.Context, email string) error {
	code, err := s.codes.Issue(ctx, email)
	if err != nil {
		return newServiceError(opRequestCode, "issue_failed", err)
	}
	if err := s.sender.SendCode(ctx, users.NormalizeEmail(email), code); err != nil {
		s.logger.Warn("one-time code delivery failed", zap.String("email", users.NormalizeEmail(email)), zap.Error(err))
		return newServiceError(opRequestCode, "delivery_failed", fmt.Errorf("%w: %w", ErrDeliveryFailed, err))
	}
	return nil
}

// SubmitCode consumes a matching one-time code, finds or creates the account and mints a session.
func (s *Service) SubmitCode(ctx context.Context, email, code string) (Session, error) {
	ok, err := s.codes.Verify(ctx, email, strings.TrimSpace(code))
	if err != nil {
		return Session{}, newServiceError(opSubmitCode, "verify_failed", err)
	}
	if !ok {
		return Session{}, newServiceError(opSubmitCode, "invalid_code", ErrBadCredential)
	}

	user, created, err := s.users.FindOrCreate(ctx, users.NewUser{
		Name:  users.DisplayNameFromEmail(email),
		Email: email,
	})
	if err != nil {
		return Session{}, newServiceError(opSubmitCode, "resolve_user_failed", err)
	}
	if created {
		s.logger.Info("user signed up", zap.String("user_id", user.ID), zap.String("method", "otp"))
	}
	return s.mint(ctx, opSubmitCode, user)
}

// FederatedLogin finds or creates the account for a provider-verified identity and mints a session.
func (s *Service) FederatedLogin(ctx context.Context, identity FederatedIdentity) (Session, error) {
	email := users.NormalizeEmail(identity.Email)
	if email == "" {
		return Session{}, newServiceError(opFederatedLogin, "invalid_identity", ErrInvalidIdentity)
	}
	name := strings.TrimSpace(identity.Name)
	if name == "" {
		name = users.DisplayNameFromEmail(email)
	}

	user, created, err := s.users.FindOrCreate(ctx, users.NewUser{
		Name:     name,
		Email:    email,
		GoogleID: identity.Subject,
	})
	if err != nil {
		return Session{}, newServiceError(opFederatedLogin, "resolve_user_failed", err)
	}
	if created {
		s.logger.Info("user signed up", zap.String("user_id", user.ID), zap.String("method", "google"))
	}
	return s.mint(ctx, opFederatedLogin, user)
}

func (s *Service) mint(ctx context.Context, operation string, user users.User) (Session, error) {
	token, expiresIn, err := s.sessions.IssueSessionToken(ctx, user.ID)
	if err != nil {
		s.logger.Error("failed to issue session token", zap.String("operation", operation), zap.Error(err))
		return Session{}, newServiceError(operation, "token_issue_failed", err)
	}
	return Session{Token: token, ExpiresIn: expiresIn, User: user}, nil
}
