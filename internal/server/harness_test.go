package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/jotter/backend/internal/accounts"
	"github.com/MarcoPoloResearchLab/jotter/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/jotter/backend/internal/database"
	"github.com/MarcoPoloResearchLab/jotter/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/jotter/backend/internal/observability"
	"github.com/MarcoPoloResearchLab/jotter/backend/internal/otp"
	"github.com/MarcoPoloResearchLab/jotter/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "test-signing-secret"
	testIssuer        = "jotter-auth"
	testAudience      = "jotter-api"
)

type recordingSender struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (s *recordingSender) SendCode(_ context.Context, email, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.codes == nil {
		s.codes = make(map[string]string)
	}
	s.codes[email] = code
	return nil
}

func (s *recordingSender) code(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[email]
}

type stackOptions struct {
	verifier              GoogleVerifier
	trustClientAssertions bool
	authRequestsPerMinute int
}

type testStack struct {
	handler  http.Handler
	tokens   *auth.TokenIssuer
	sender   *recordingSender
	realtime *RealtimeDispatcher
	metrics  *observability.Prom
}

func newTestStack(t *testing.T, options stackOptions) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.Migrate(db, zap.NewNop()); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	userStore, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build user store: %v", err)
	}
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		Audience:      testAudience,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}
	sender := &recordingSender{}
	gateway, err := accounts.NewService(accounts.ServiceConfig{
		Users:    userStore,
		Sessions: tokens,
		Codes:    otp.NewMemoryStore(otp.MemoryConfig{}),
		Sender:   sender,
	})
	if err != nil {
		t.Fatalf("failed to build gateway: %v", err)
	}

	dispatcher := NewRealtimeDispatcher()
	noteStore, err := notes.NewService(notes.ServiceConfig{
		Database:   db,
		IDProvider: notes.NewUUIDProvider(),
		Publisher:  dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to build note store: %v", err)
	}

	metrics := observability.NewProm(prometheus.NewRegistry())
	handler, err := NewHTTPHandler(Dependencies{
		Accounts:              gateway,
		GoogleVerifier:        options.verifier,
		TrustClientAssertions: options.trustClientAssertions,
		TokenValidator:        tokens,
		NotesService:          noteStore,
		Users:                 userStore,
		Realtime:              dispatcher,
		Metrics:               metrics,
		Health: func(context.Context) error {
			return database.Ping(db)
		},
		AuthRequestsPerMinute: options.authRequestsPerMinute,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	return &testStack{handler: handler, tokens: tokens, sender: sender, realtime: dispatcher, metrics: metrics}
}

func (s *testStack) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch value := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(value))
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

type sessionBody struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
	User      struct {
		ID       string `json:"_id"`
		Name     string `json:"name"`
		Email    string `json:"email"`
		GoogleID string `json:"googleId"`
		Password string `json:"passwordHash"`
	} `json:"user"`
}

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"msg"`
	RequestID string `json:"requestId"`
}

type noteBody struct {
	ID        string `json:"_id"`
	UserID    string `json:"userId"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
}

func decode[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var value T
	if err := json.Unmarshal(recorder.Body.Bytes(), &value); err != nil {
		t.Fatalf("failed to decode body %q: %v", recorder.Body.String(), err)
	}
	return value
}

func expectStatus(t *testing.T, recorder *httptest.ResponseRecorder, status int) {
	t.Helper()
	if recorder.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, recorder.Code, recorder.Body.String())
	}
}

func expectError(t *testing.T, recorder *httptest.ResponseRecorder, status int, code string) errorBody {
	t.Helper()
	expectStatus(t, recorder, status)
	body := decode[errorBody](t, recorder)
	if body.Error != code {
		t.Fatalf("expected error code %q, got %q (%s)", code, body.Error, body.Message)
	}
	return body
}
