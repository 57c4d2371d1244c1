// Package mailer delivers one-time login codes to users.
package mailer

import (
	"context"
	"errors"
	"fmt"
)

const codeSubject = "Your OTP Code"

// ErrDeliveryFailed wraps every transport failure so callers can map it to an upstream error.
var ErrDeliveryFailed = errors.New("mailer: delivery failed")

// Sender delivers a one-time code to an email address.
type Sender interface {
	SendCode(ctx context.Context, email, code string) error
}

func codeBody(code string) string {
	return fmt.Sprintf("Your OTP is: %s", code)
}
