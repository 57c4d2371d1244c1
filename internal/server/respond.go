package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/jotter/backend/internal/accounts"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	errorCodeInvalidRequest     = "invalid_request"
	errorCodeDuplicateEmail     = "duplicate_email"
	errorCodeUserNotFound       = "user_not_found"
	errorCodeInvalidCredentials = "invalid_credentials"
	errorCodeInvalidOTP         = "invalid_otp"
	errorCodeUnauthorized       = "unauthorized"
	errorCodeDeliveryFailed     = "delivery_failed"
	errorCodeNotConfigured      = "not_configured"
	errorCodeRateLimited        = "rate_limited"
	errorCodeNotFound           = "not_found"
	errorCodeInternal           = "internal_error"
)

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"msg"`
	RequestID string `json:"requestId,omitempty"`
}

type messageResponse struct {
	Message string `json:"msg"`
}

func respondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{
		Error:     code,
		Message:   message,
		RequestID: c.GetString(requestIDContextKey),
	})
}

type coder interface {
	Code() string
}

// respondServiceError maps gateway and store failures onto HTTP statuses.
func (h *httpHandler) respondServiceError(c *gin.Context, err error, credentialCode, credentialMessage string) {
	switch {
	case errors.Is(err, accounts.ErrDuplicateKey):
		respondError(c, http.StatusBadRequest, errorCodeDuplicateEmail, "Email already registered")
	case errors.Is(err, accounts.ErrNotFound):
		respondError(c, http.StatusBadRequest, errorCodeUserNotFound, "User not found")
	case errors.Is(err, accounts.ErrBadCredential):
		respondError(c, http.StatusBadRequest, credentialCode, credentialMessage)
	case errors.Is(err, accounts.ErrInvalidPassword):
		respondError(c, http.StatusBadRequest, errorCodeInvalidRequest, "password must be at most 72 bytes")
	case errors.Is(err, accounts.ErrInvalidIdentity):
		respondError(c, http.StatusBadRequest, errorCodeInvalidRequest, "Email is required")
	case errors.Is(err, accounts.ErrDeliveryFailed):
		respondError(c, http.StatusBadGateway, errorCodeDeliveryFailed, "Failed to send OTP")
	default:
		code := errorCodeInternal
		var coded coder
		if errors.As(err, &coded) {
			code = coded.Code()
		}
		h.logger.Error("request failed",
			zap.String("code", code),
			zap.String("request_id", c.GetString(requestIDContextKey)),
			zap.Error(err))
		respondError(c, http.StatusInternalServerError, code, "Internal server error")
	}
}

// bindJSON decodes the body into target and answers 400 with a readable message on failure.
func bindJSON(c *gin.Context, target any) bool {
	if err := c.ShouldBindJSON(target); err != nil {
		respondError(c, http.StatusBadRequest, errorCodeInvalidRequest, describeBindError(err))
		return false
	}
	return true
}

func describeBindError(err error) string {
	if errors.Is(err, io.EOF) {
		return "request body required"
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return "malformed JSON body"
	}
	messages := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		field := lowerFirst(fieldErr.Field())
		switch fieldErr.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", field))
		case "email":
			messages = append(messages, fmt.Sprintf("%s must be a valid email", field))
		case "len":
			messages = append(messages, fmt.Sprintf("%s must be %s characters", field, fieldErr.Param()))
		case "numeric":
			messages = append(messages, fmt.Sprintf("%s must be numeric", field))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s characters", field, fieldErr.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s is invalid", field))
		}
	}
	return strings.Join(messages, "; ")
}

func lowerFirst(value string) string {
	if value == "" {
		return value
	}
	return strings.ToLower(value[:1]) + value[1:]
}
