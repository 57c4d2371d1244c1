package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/jotter/backend/internal/accounts"
	"github.com/MarcoPoloResearchLab/jotter/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/jotter/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/jotter/backend/internal/observability"
	"github.com/MarcoPoloResearchLab/jotter/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const defaultAuthRequestsPerMinute = 10

var (
	errMissingAccountService = errors.New("account service dependency required")
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingNotesService   = errors.New("notes service dependency required")
	errMissingUserDirectory  = errors.New("user directory dependency required")
)

type GoogleVerifier interface {
	Verify(ctx context.Context, token string) (auth.GoogleClaims, error)
}

type AccountService interface {
	SignUp(ctx context.Context, name, email, password string) (accounts.Session, error)
	Login(ctx context.Context, email, password string) (accounts.Session, error)
	RequestCode(ctx context.Context, email string) error
	SubmitCode(ctx context.Context, email, code string) (accounts.Session, error)
	FederatedLogin(ctx context.Context, identity accounts.FederatedIdentity) (accounts.Session, error)
}

type NotesService interface {
	ListNotes(ctx context.Context, userID notes.UserID) ([]notes.Note, error)
	CreateNote(ctx context.Context, userID notes.UserID, content string) (notes.Note, error)
	DeleteNote(ctx context.Context, userID notes.UserID, noteID notes.NoteID) (bool, error)
}

type UserDirectory interface {
	FindByID(ctx context.Context, id string) (users.User, error)
}

// HealthCheck reports whether a backing store is reachable.
type HealthCheck func(ctx context.Context) error

type Dependencies struct {
	Accounts       AccountService
	GoogleVerifier GoogleVerifier
	// TrustClientAssertions accepts unverified name/email/googleId on /google-login.
	TrustClientAssertions bool
	TokenValidator        auth.TokenValidator
	NotesService          NotesService
	Users                 UserDirectory
	Realtime              *RealtimeDispatcher
	Metrics               *observability.Prom
	Health                HealthCheck
	CORSOrigins           []string
	AuthRequestsPerMinute int
	ServiceName           string
	Logger                *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Accounts == nil {
		return nil, errMissingAccountService
	}
	if deps.TokenValidator == nil {
		return nil, errMissingTokenValidator
	}
	if deps.NotesService == nil {
		return nil, errMissingNotesService
	}
	if deps.Users == nil {
		return nil, errMissingUserDirectory
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sessions, err := auth.NewSessionValidator(deps.TokenValidator)
	if err != nil {
		return nil, err
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observability.NewProm(nil)
	}
	requestsPerMinute := deps.AuthRequestsPerMinute
	if requestsPerMinute <= 0 {
		requestsPerMinute = defaultAuthRequestsPerMinute
	}
	serviceName := deps.ServiceName
	if serviceName == "" {
		serviceName = "jotter-api"
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(metrics.GinHandleMiddleware())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware(deps.CORSOrigins))

	handler := &httpHandler{
		accounts:              deps.Accounts,
		verifier:              deps.GoogleVerifier,
		trustClientAssertions: deps.TrustClientAssertions,
		sessions:              sessions,
		notesService:          deps.NotesService,
		users:                 deps.Users,
		realtime:              realtime,
		metrics:               metrics,
		health:                deps.Health,
		logger:                logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", metrics.Handler())

	public := router.Group("/")
	public.Use(newIPRateLimiter(requestsPerMinute).middleware(logger))
	public.POST("/signup", handler.handleSignUp)
	public.POST("/login", handler.handleLogin)
	public.POST("/google-login", handler.handleGoogleLogin)
	public.POST("/send-otp", handler.handleSendOTP)
	public.POST("/verify-otp", handler.handleVerifyOTP)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/me", handler.handleMe)
	protected.GET("/notes", handler.handleListNotes)
	protected.POST("/notes", handler.handleCreateNote)
	protected.DELETE("/notes/:id", handler.handleDeleteNote)

	router.GET("/notes/stream", handler.authorizeStream, handler.handleNotesStream)

	return router, nil
}

type httpHandler struct {
	accounts              AccountService
	verifier              GoogleVerifier
	trustClientAssertions bool
	sessions              *auth.SessionValidator
	notesService          NotesService
	users                 UserDirectory
	realtime              *RealtimeDispatcher
	metrics               *observability.Prom
	health                HealthCheck
	logger                *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	if h.health != nil {
		if err := h.health(c.Request.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			respondError(c, http.StatusServiceUnavailable, "unavailable", "Database unavailable")
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
