package accounts

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateKey indicates signup with an email that is already registered.
	ErrDuplicateKey = errors.New("accounts: email already registered")
	// ErrNotFound indicates no account matched the supplied email.
	ErrNotFound = errors.New("accounts: user not found")
	// ErrBadCredential indicates a password or one-time code mismatch.
	ErrBadCredential = errors.New("accounts: bad credential")
	// ErrDeliveryFailed indicates the one-time code could not be delivered.
	ErrDeliveryFailed = errors.New("accounts: code delivery failed")
	// ErrInvalidPassword indicates a signup password bcrypt cannot hash.
	ErrInvalidPassword = errors.New("accounts: password too long")
	// ErrInvalidIdentity indicates a federated identity without an email or subject.
	ErrInvalidIdentity = errors.New("accounts: invalid federated identity")
)

const (
	opSignUp         = "accounts.sign_up"
	opLogin          = "accounts.login"
	opRequestCode    = "accounts.request_code"
	opSubmitCode     = "accounts.submit_code"
	opFederatedLogin = "accounts.federated_login"
)

// ServiceError carries a stable "operation.reason" code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: operation + "." + reason, err: cause}
}
