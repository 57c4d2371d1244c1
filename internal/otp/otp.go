// Package otp manages the lifecycle of emailed one-time login codes.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	// CodeLength is the number of decimal digits in every issued code.
	CodeLength = 6

	codeFloor = 100000
	codeSpan  = 900000
)

// ErrInvalidEmail indicates an empty email key.
var ErrInvalidEmail = errors.New("otp: email required")

// Store issues and verifies one-time codes keyed by email.
// Implementations keep at most one outstanding code per email and remove it
// only when a verification succeeds.
type Store interface {
	Issue(ctx context.Context, email string) (string, error)
	Verify(ctx context.Context, email, code string) (bool, error)
}

// CodeGenerator produces a fresh code.
type CodeGenerator func() (string, error)

// GenerateCode returns a uniformly random six digit code in [100000, 999999].
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpan))
	if err != nil {
		return "", fmt.Errorf("otp: generate code: %w", err)
	}
	return fmt.Sprintf("%d", codeFloor+n.Int64()), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func codesEqual(stored, submitted string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) == 1
}
