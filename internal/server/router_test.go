package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/jotter/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/jotter/backend/internal/notes"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSignUpLoginAndNotesScenario(t *testing.T) {
	stack := newTestStack(t, stackOptions{})

	signup := stack.do(t, http.MethodPost, "/signup", "", map[string]string{"name": "Ann", "email": "a@x.com", "password": "pw1"})
	expectStatus(t, signup, http.StatusOK)
	signupBody := decode[sessionBody](t, signup)
	if signupBody.Token == "" || signupBody.User.ID == "" || signupBody.User.Email != "a@x.com" {
		t.Fatalf("unexpected signup body %+v", signupBody)
	}
	if signupBody.ExpiresIn != 3600 {
		t.Fatalf("unexpected expiresIn %d", signupBody.ExpiresIn)
	}
	if strings.Contains(signup.Body.String(), "password") {
		t.Fatalf("password material must never be serialised: %s", signup.Body.String())
	}

	login := stack.do(t, http.MethodPost, "/login", "", map[string]string{"email": "a@x.com", "password": "pw1"})
	expectStatus(t, login, http.StatusOK)
	token := decode[sessionBody](t, login).Token

	subject, err := stack.tokens.ValidateToken(token)
	if err != nil || subject != signupBody.User.ID {
		t.Fatalf("expected token subject %s, got %s (%v)", signupBody.User.ID, subject, err)
	}

	created := stack.do(t, http.MethodPost, "/notes", token, map[string]string{"content": "hello"})
	expectStatus(t, created, http.StatusOK)
	note := decode[noteBody](t, created)
	if note.ID == "" || note.UserID != signupBody.User.ID || note.Content != "hello" || note.CreatedAt == 0 {
		t.Fatalf("unexpected note %+v", note)
	}

	listed := stack.do(t, http.MethodGet, "/notes", token, nil)
	expectStatus(t, listed, http.StatusOK)
	notesList := decode[[]noteBody](t, listed)
	if len(notesList) != 1 || notesList[0].ID != note.ID {
		t.Fatalf("unexpected notes %+v", notesList)
	}

	deleted := stack.do(t, http.MethodDelete, "/notes/"+note.ID, token, nil)
	expectStatus(t, deleted, http.StatusOK)
	if decode[messageResponse](t, deleted).Message != "Deleted" {
		t.Fatalf("unexpected delete body %s", deleted.Body.String())
	}

	empty := stack.do(t, http.MethodGet, "/notes", token, nil)
	expectStatus(t, empty, http.StatusOK)
	if strings.TrimSpace(empty.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %s", empty.Body.String())
	}

	me := stack.do(t, http.MethodGet, "/me", token, nil)
	expectStatus(t, me, http.StatusOK)
	if !strings.Contains(me.Body.String(), `"_id":"`+signupBody.User.ID+`"`) {
		t.Fatalf("unexpected /me body %s", me.Body.String())
	}
}

func TestSignUpErrors(t *testing.T) {
	stack := newTestStack(t, stackOptions{})

	expectStatus(t, stack.do(t, http.MethodPost, "/signup", "", map[string]string{"name": "Ann", "email": "a@x.com", "password": "pw1"}), http.StatusOK)

	duplicate := stack.do(t, http.MethodPost, "/signup", "", map[string]string{"name": "Ann", "email": "A@x.com", "password": "pw2"})
	expectError(t, duplicate, http.StatusBadRequest, errorCodeDuplicateEmail)

	invalid := stack.do(t, http.MethodPost, "/signup", "", map[string]string{"name": "Ann", "email": "not-an-email", "password": "pw"})
	body := expectError(t, invalid, http.StatusBadRequest, errorCodeInvalidRequest)
	if !strings.Contains(body.Message, "email") {
		t.Fatalf("expected message to name the field, got %q", body.Message)
	}
	if body.RequestID == "" {
		t.Fatalf("expected request id in error body")
	}

	expectError(t, stack.do(t, http.MethodPost, "/signup", "", "{"), http.StatusBadRequest, errorCodeInvalidRequest)

	longASCII := stack.do(t, http.MethodPost, "/signup", "", map[string]string{"name": "Ann", "email": "long@x.com", "password": strings.Repeat("p", 80)})
	expectError(t, longASCII, http.StatusBadRequest, errorCodeInvalidRequest)

	// 40 two-byte runes pass the character limit but exceed bcrypt's 72-byte input.
	longRunes := stack.do(t, http.MethodPost, "/signup", "", map[string]string{"name": "Ann", "email": "long@x.com", "password": strings.Repeat("ü", 40)})
	if body := expectError(t, longRunes, http.StatusBadRequest, errorCodeInvalidRequest); !strings.Contains(body.Message, "72 bytes") {
		t.Fatalf("unexpected message %q", body.Message)
	}
	expectError(t, stack.do(t, http.MethodPost, "/login", "", map[string]string{"email": "long@x.com", "password": "pw"}), http.StatusBadRequest, errorCodeUserNotFound)
}

func TestLoginErrors(t *testing.T) {
	stack := newTestStack(t, stackOptions{})
	expectStatus(t, stack.do(t, http.MethodPost, "/signup", "", map[string]string{"name": "Ann", "email": "a@x.com", "password": "pw1"}), http.StatusOK)

	wrong := stack.do(t, http.MethodPost, "/login", "", map[string]string{"email": "a@x.com", "password": "nope"})
	if body := expectError(t, wrong, http.StatusBadRequest, errorCodeInvalidCredentials); body.Message != "Wrong password" {
		t.Fatalf("unexpected message %q", body.Message)
	}

	missing := stack.do(t, http.MethodPost, "/login", "", map[string]string{"email": "b@x.com", "password": "pw1"})
	if body := expectError(t, missing, http.StatusBadRequest, errorCodeUserNotFound); body.Message != "User not found" {
		t.Fatalf("unexpected message %q", body.Message)
	}
}

func TestOTPScenario(t *testing.T) {
	stack := newTestStack(t, stackOptions{})

	sent := stack.do(t, http.MethodPost, "/send-otp", "", map[string]string{"email": "b@y.com"})
	expectStatus(t, sent, http.StatusOK)
	if decode[messageResponse](t, sent).Message != "OTP sent" {
		t.Fatalf("unexpected body %s", sent.Body.String())
	}
	code := stack.sender.code("b@y.com")
	if len(code) != 6 {
		t.Fatalf("expected six digit code, got %q", code)
	}

	verified := stack.do(t, http.MethodPost, "/verify-otp", "", map[string]string{"email": "b@y.com", "otp": code})
	expectStatus(t, verified, http.StatusOK)
	first := decode[sessionBody](t, verified)
	if first.User.Name != "b" || first.User.Email != "b@y.com" {
		t.Fatalf("unexpected otp user %+v", first.User)
	}

	replay := stack.do(t, http.MethodPost, "/verify-otp", "", map[string]string{"email": "b@y.com", "otp": code})
	if body := expectError(t, replay, http.StatusBadRequest, errorCodeInvalidOTP); body.Message != "Invalid OTP" {
		t.Fatalf("unexpected message %q", body.Message)
	}

	expectStatus(t, stack.do(t, http.MethodPost, "/send-otp", "", map[string]string{"email": "b@y.com"}), http.StatusOK)
	again := stack.do(t, http.MethodPost, "/verify-otp", "", map[string]string{"email": "b@y.com", "otp": stack.sender.code("b@y.com")})
	expectStatus(t, again, http.StatusOK)
	if decode[sessionBody](t, again).User.ID != first.User.ID {
		t.Fatalf("second otp login must resolve the same user")
	}
}

func TestSendOTPDeliveryFailure(t *testing.T) {
	stack := newTestStack(t, stackOptions{})
	stack.sender.err = errors.New("smtp unavailable")

	expectError(t, stack.do(t, http.MethodPost, "/send-otp", "", map[string]string{"email": "b@y.com"}), http.StatusBadGateway, errorCodeDeliveryFailed)
}

func TestNotesAreIsolatedBetweenUsers(t *testing.T) {
	stack := newTestStack(t, stackOptions{})

	alice := decode[sessionBody](t, stack.do(t, http.MethodPost, "/signup", "", map[string]string{"name": "Alice", "email": "alice@x.com", "password": "pw"}))
	bob := decode[sessionBody](t, stack.do(t, http.MethodPost, "/signup", "", map[string]string{"name": "Bob", "email": "bob@x.com", "password": "pw"}))

	note := decode[noteBody](t, stack.do(t, http.MethodPost, "/notes", alice.Token, map[string]string{"content": "private"}))

	bobList := stack.do(t, http.MethodGet, "/notes", bob.Token, nil)
	expectStatus(t, bobList, http.StatusOK)
	if strings.TrimSpace(bobList.Body.String()) != "[]" {
		t.Fatalf("bob must not see alice's notes: %s", bobList.Body.String())
	}

	expectStatus(t, stack.do(t, http.MethodDelete, "/notes/"+note.ID, bob.Token, nil), http.StatusOK)

	aliceList := decode[[]noteBody](t, stack.do(t, http.MethodGet, "/notes", alice.Token, nil))
	if len(aliceList) != 1 {
		t.Fatalf("alice's note must survive bob's delete, got %+v", aliceList)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	stack := newTestStack(t, stackOptions{})
	owner := decode[sessionBody](t, stack.do(t, http.MethodPost, "/signup", "", map[string]string{"name": "Ann", "email": "a@x.com", "password": "pw1"}))

	noToken := stack.do(t, http.MethodPost, "/notes", "", map[string]string{"content": "x"})
	if body := expectError(t, noToken, http.StatusUnauthorized, errorCodeUnauthorized); body.Message != "No token" {
		t.Fatalf("unexpected message %q", body.Message)
	}

	garbage := stack.do(t, http.MethodPost, "/notes", "not-a-jwt", map[string]string{"content": "x"})
	if body := expectError(t, garbage, http.StatusUnauthorized, errorCodeUnauthorized); body.Message != "Invalid token" {
		t.Fatalf("unexpected message %q", body.Message)
	}

	foreign, _, err := mustForeignIssuer(t).IssueSessionToken(context.Background(), owner.User.ID)
	if err != nil {
		t.Fatalf("failed to issue foreign token: %v", err)
	}
	expectError(t, stack.do(t, http.MethodPost, "/notes", foreign, map[string]string{"content": "x"}), http.StatusUnauthorized, errorCodeUnauthorized)

	queryOnly := stack.do(t, http.MethodPost, "/notes?access_token="+owner.Token, "", map[string]string{"content": "x"})
	expectError(t, queryOnly, http.StatusUnauthorized, errorCodeUnauthorized)
	expectError(t, stack.do(t, http.MethodGet, "/notes?access_token="+owner.Token, "", nil), http.StatusUnauthorized, errorCodeUnauthorized)

	listed := stack.do(t, http.MethodGet, "/notes", owner.Token, nil)
	expectStatus(t, listed, http.StatusOK)
	if strings.TrimSpace(listed.Body.String()) != "[]" {
		t.Fatalf("rejected requests must not create notes, got %s", listed.Body.String())
	}
}

func TestDeleteNoteCountsOnlyRemovals(t *testing.T) {
	stack := newTestStack(t, stackOptions{})
	alice := decode[sessionBody](t, stack.do(t, http.MethodPost, "/signup", "", map[string]string{"name": "Alice", "email": "alice@x.com", "password": "pw"}))
	bob := decode[sessionBody](t, stack.do(t, http.MethodPost, "/signup", "", map[string]string{"name": "Bob", "email": "bob@x.com", "password": "pw"}))
	note := decode[noteBody](t, stack.do(t, http.MethodPost, "/notes", alice.Token, map[string]string{"content": "keep"}))

	deletions := stack.metrics.NoteChanges.WithLabelValues(string(notes.ChangeKindDeleted))

	expectStatus(t, stack.do(t, http.MethodDelete, "/notes/"+note.ID, bob.Token, nil), http.StatusOK)
	expectStatus(t, stack.do(t, http.MethodDelete, "/notes/missing-note", alice.Token, nil), http.StatusOK)
	if value := testutil.ToFloat64(deletions); value != 0 {
		t.Fatalf("no-op deletes must not be counted, got %v", value)
	}

	expectStatus(t, stack.do(t, http.MethodDelete, "/notes/"+note.ID, alice.Token, nil), http.StatusOK)
	if value := testutil.ToFloat64(deletions); value != 1 {
		t.Fatalf("expected one counted delete, got %v", value)
	}
}

func TestDeleteNoteWithOverlongIDIsNoOp(t *testing.T) {
	stack := newTestStack(t, stackOptions{})
	owner := decode[sessionBody](t, stack.do(t, http.MethodPost, "/signup", "", map[string]string{"name": "Ann", "email": "a@x.com", "password": "pw1"}))
	expectStatus(t, stack.do(t, http.MethodPost, "/notes", owner.Token, map[string]string{"content": "kept"}), http.StatusOK)

	deleted := stack.do(t, http.MethodDelete, "/notes/"+strings.Repeat("n", 200), owner.Token, nil)
	expectStatus(t, deleted, http.StatusOK)
	if decode[messageResponse](t, deleted).Message != "Deleted" {
		t.Fatalf("unexpected delete body %s", deleted.Body.String())
	}
	if remaining := decode[[]noteBody](t, stack.do(t, http.MethodGet, "/notes", owner.Token, nil)); len(remaining) != 1 {
		t.Fatalf("expected note to survive, got %+v", remaining)
	}
}

func TestGoogleLoginVerifiesCredential(t *testing.T) {
	verifier := &stubGoogleVerifier{claims: auth.GoogleClaims{Subject: "g-1", Email: "Dan@w.com", Name: "Dan"}}
	stack := newTestStack(t, stackOptions{verifier: verifier})

	first := stack.do(t, http.MethodPost, "/google-login", "", map[string]string{"credential": "id-token"})
	expectStatus(t, first, http.StatusOK)
	firstBody := decode[sessionBody](t, first)
	if firstBody.User.Email != "dan@w.com" || firstBody.User.GoogleID != "g-1" || firstBody.User.Name != "Dan" {
		t.Fatalf("unexpected google user %+v", firstBody.User)
	}

	second := decode[sessionBody](t, stack.do(t, http.MethodPost, "/google-login", "", map[string]string{"credential": "id-token"}))
	if second.User.ID != firstBody.User.ID {
		t.Fatalf("repeated google login must resolve the same user")
	}

	expectError(t, stack.do(t, http.MethodPost, "/google-login", "", map[string]string{"name": "Eve", "email": "eve@x.com", "googleId": "g-2"}), http.StatusBadRequest, errorCodeInvalidRequest)

	verifier.err = errors.New("bad signature")
	expectError(t, stack.do(t, http.MethodPost, "/google-login", "", map[string]string{"credential": "forged"}), http.StatusUnauthorized, errorCodeUnauthorized)
}

func TestGoogleLoginTrustedClientAssertions(t *testing.T) {
	stack := newTestStack(t, stackOptions{trustClientAssertions: true})

	expectError(t, stack.do(t, http.MethodPost, "/google-login", "", map[string]string{"credential": "id-token"}), http.StatusServiceUnavailable, errorCodeNotConfigured)

	login := stack.do(t, http.MethodPost, "/google-login", "", map[string]string{"name": "Eve", "email": "eve@x.com", "googleId": "g-2"})
	expectStatus(t, login, http.StatusOK)
	if decode[sessionBody](t, login).User.GoogleID != "g-2" {
		t.Fatalf("expected google id to be recorded")
	}

	expectError(t, stack.do(t, http.MethodPost, "/google-login", "", map[string]string{"name": "Eve", "email": "eve@x.com"}), http.StatusBadRequest, errorCodeInvalidRequest)
}

func TestAuthEndpointsAreRateLimited(t *testing.T) {
	stack := newTestStack(t, stackOptions{authRequestsPerMinute: 2})

	for i := 0; i < 2; i++ {
		expectError(t, stack.do(t, http.MethodPost, "/login", "", map[string]string{"email": "a@x.com", "password": "pw"}), http.StatusBadRequest, errorCodeUserNotFound)
	}
	limited := stack.do(t, http.MethodPost, "/login", "", map[string]string{"email": "a@x.com", "password": "pw"})
	expectError(t, limited, http.StatusTooManyRequests, errorCodeRateLimited)
	if limited.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	expectError(t, stack.do(t, http.MethodGet, "/notes", "", nil), http.StatusUnauthorized, errorCodeUnauthorized)
}

func TestHealthAndMetrics(t *testing.T) {
	stack := newTestStack(t, stackOptions{})

	health := stack.do(t, http.MethodGet, "/healthz", "", nil)
	expectStatus(t, health, http.StatusOK)

	expectStatus(t, stack.do(t, http.MethodPost, "/login", "", map[string]string{"email": "a@x.com", "password": "pw"}), http.StatusBadRequest)

	metrics := stack.do(t, http.MethodGet, "/metrics", "", nil)
	expectStatus(t, metrics, http.StatusOK)
	for _, series := range []string{"jotter_http_requests_total", `jotter_auth_attempts_total{method="password",outcome="failure"} 1`} {
		if !strings.Contains(metrics.Body.String(), series) {
			t.Fatalf("expected metrics to contain %q", series)
		}
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	stack := newTestStack(t, stackOptions{})

	recorder := stack.do(t, http.MethodGet, "/healthz", "", nil)
	if recorder.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected generated request id header")
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); !errors.Is(err, errMissingAccountService) {
		t.Fatalf("expected missing account service error, got %v", err)
	}
}

type stubGoogleVerifier struct {
	claims auth.GoogleClaims
	err    error
}

func (s *stubGoogleVerifier) Verify(context.Context, string) (auth.GoogleClaims, error) {
	if s.err != nil {
		return auth.GoogleClaims{}, s.err
	}
	return s.claims, nil
}

func mustForeignIssuer(t *testing.T) *auth.TokenIssuer {
	t.Helper()
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("someone-elses-secret"),
		Issuer:        testIssuer,
		Audience:      testAudience,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build foreign issuer: %v", err)
	}
	return issuer
}
