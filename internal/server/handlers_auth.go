package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/jotter/backend/internal/accounts"
	"github.com/MarcoPoloResearchLab/jotter/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type signUpRequest struct {
	Name     string `json:"name" binding:"required,max=320"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type googleLoginRequest struct {
	Credential string `json:"credential"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	GoogleID   string `json:"googleId"`
}

type sendOTPRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type verifyOTPRequest struct {
	Email string `json:"email" binding:"required,email"`
	OTP   string `json:"otp" binding:"required"`
}

type sessionResponse struct {
	Token     string     `json:"token"`
	User      users.User `json:"user"`
	ExpiresIn int64      `json:"expiresIn"`
}

func newSessionResponse(session accounts.Session) sessionResponse {
	return sessionResponse{Token: session.Token, User: session.User, ExpiresIn: session.ExpiresIn}
}

func (h *httpHandler) handleSignUp(c *gin.Context) {
	var request signUpRequest
	if !bindJSON(c, &request) {
		return
	}
	session, err := h.accounts.SignUp(c.Request.Context(), request.Name, request.Email, request.Password)
	h.metrics.ObserveAuth("signup", err)
	if err != nil {
		h.respondServiceError(c, err, errorCodeInvalidCredentials, "Invalid credentials")
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(session))
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequest
	if !bindJSON(c, &request) {
		return
	}
	session, err := h.accounts.Login(c.Request.Context(), request.Email, request.Password)
	h.metrics.ObserveAuth("password", err)
	if err != nil {
		h.respondServiceError(c, err, errorCodeInvalidCredentials, "Wrong password")
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(session))
}

// handleGoogleLogin verifies a Google ID token. The legacy body of
// name/email/googleId is honoured only when client assertions are trusted.
func (h *httpHandler) handleGoogleLogin(c *gin.Context) {
	var request googleLoginRequest
	if !bindJSON(c, &request) {
		return
	}

	var identity accounts.FederatedIdentity
	credential := strings.TrimSpace(request.Credential)
	switch {
	case credential != "":
		if h.verifier == nil {
			respondError(c, http.StatusServiceUnavailable, errorCodeNotConfigured, "Google login is not configured")
			return
		}
		claims, err := h.verifier.Verify(c.Request.Context(), credential)
		if err != nil {
			h.metrics.ObserveAuth("google", err)
			h.logger.Warn("google token verification failed", zap.Error(err))
			respondError(c, http.StatusUnauthorized, errorCodeUnauthorized, "Invalid Google credential")
			return
		}
		identity = accounts.FederatedIdentity{Name: claims.Name, Email: claims.Email, Subject: claims.Subject}
	case h.trustClientAssertions:
		if strings.TrimSpace(request.Email) == "" || strings.TrimSpace(request.GoogleID) == "" {
			respondError(c, http.StatusBadRequest, errorCodeInvalidRequest, "email and googleId are required")
			return
		}
		identity = accounts.FederatedIdentity{Name: request.Name, Email: request.Email, Subject: request.GoogleID}
	default:
		respondError(c, http.StatusBadRequest, errorCodeInvalidRequest, "credential is required")
		return
	}

	session, err := h.accounts.FederatedLogin(c.Request.Context(), identity)
	h.metrics.ObserveAuth("google", err)
	if err != nil {
		h.respondServiceError(c, err, errorCodeInvalidCredentials, "Invalid credentials")
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(session))
}

func (h *httpHandler) handleSendOTP(c *gin.Context) {
	var request sendOTPRequest
	if !bindJSON(c, &request) {
		return
	}
	if err := h.accounts.RequestCode(c.Request.Context(), request.Email); err != nil {
		h.respondServiceError(c, err, errorCodeInvalidOTP, "Invalid OTP")
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "OTP sent"})
}

func (h *httpHandler) handleVerifyOTP(c *gin.Context) {
	var request verifyOTPRequest
	if !bindJSON(c, &request) {
		return
	}
	session, err := h.accounts.SubmitCode(c.Request.Context(), request.Email, request.OTP)
	h.metrics.ObserveAuth("otp", err)
	if err != nil {
		h.respondServiceError(c, err, errorCodeInvalidOTP, "Invalid OTP")
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(session))
}

func (h *httpHandler) handleMe(c *gin.Context) {
	user, err := h.users.FindByID(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			respondError(c, http.StatusNotFound, errorCodeNotFound, "User not found")
			return
		}
		h.respondServiceError(c, err, errorCodeInvalidCredentials, "Invalid credentials")
		return
	}
	c.JSON(http.StatusOK, user)
}
