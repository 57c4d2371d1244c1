package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const defaultJWKSCacheTTL = 10 * time.Minute

// GoogleIssuers are the issuer values Google places in ID tokens.
var GoogleIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

var (
	ErrInvalidVerifierConfig = errors.New("auth: invalid google verifier config")

	errMissingAudienceConfig = errors.New("audience configuration required")
	errMissingJWKSURL        = errors.New("jwks url configuration required")
	errNoAllowedIssuers      = errors.New("no allowed issuers configured")

	errMissingToken    = errors.New("id token must not be empty")
	errMissingKeyID    = errors.New("token missing key identifier")
	errUnknownKeyID    = errors.New("signing key not found in JWKS")
	errUntrustedIssuer = errors.New("token issuer not allowed")
	errMissingSubject  = errors.New("token missing subject claim")
	errMissingEmail    = errors.New("token missing email claim")
	errUnverifiedEmail = errors.New("token email not verified")
)

type GoogleVerifierConfig struct {
	Audience string
	JWKSURL  string
	// AllowedIssuers defaults to GoogleIssuers when empty.
	AllowedIssuers []string
	HTTPClient     *http.Client
	CacheTTL       time.Duration
	Logger         *zap.Logger
	Clock          func() time.Time
}

// GoogleClaims is the identity a verified Google ID token asserts.
type GoogleClaims struct {
	Subject string
	Email   string
	Name    string
}

type googleIDTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	jwt.RegisteredClaims
}

// GoogleVerifier checks Google ID tokens against Google's published signing keys.
type GoogleVerifier struct {
	audience string
	issuers  map[string]struct{}
	keys     *remoteKeySet
	clock    func() time.Time
}

func NewGoogleVerifier(cfg GoogleVerifierConfig) (*GoogleVerifier, error) {
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingAudienceConfig)
	}
	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingJWKSURL)
	}

	allowed := cfg.AllowedIssuers
	if len(allowed) == 0 {
		allowed = GoogleIssuers
	}
	issuers := make(map[string]struct{}, len(allowed))
	for _, issuer := range allowed {
		if trimmed := strings.TrimSpace(issuer); trimmed != "" {
			issuers[trimmed] = struct{}{}
		}
	}
	if len(issuers) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errNoAllowedIssuers)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	keys := &remoteKeySet{
		url:    jwksURL,
		client: cfg.HTTPClient,
		ttl:    cfg.CacheTTL,
		logger: cfg.Logger,
	}
	if keys.client == nil {
		keys.client = http.DefaultClient
	}
	if keys.ttl <= 0 {
		keys.ttl = defaultJWKSCacheTTL
	}
	if keys.logger == nil {
		keys.logger = zap.NewNop()
	}

	return &GoogleVerifier{audience: audience, issuers: issuers, keys: keys, clock: clock}, nil
}

// Verify checks signature, audience, issuer and expiry, and requires a verified email.
func (v *GoogleVerifier) Verify(ctx context.Context, rawToken string) (GoogleClaims, error) {
	if strings.TrimSpace(rawToken) == "" {
		return GoogleClaims{}, errMissingToken
	}

	claims := &googleIDTokenClaims{}
	_, err := jwt.ParseWithClaims(rawToken, claims,
		func(token *jwt.Token) (interface{}, error) {
			keyID, _ := token.Header["kid"].(string)
			if keyID == "" {
				return nil, errMissingKeyID
			}
			return v.keys.lookup(ctx, keyID, v.clock())
		},
		jwt.WithAudience(v.audience),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.clock),
	)
	if err != nil {
		return GoogleClaims{}, err
	}

	if _, ok := v.issuers[claims.Issuer]; !ok {
		return GoogleClaims{}, errUntrustedIssuer
	}
	if claims.Subject == "" {
		return GoogleClaims{}, errMissingSubject
	}
	email := strings.TrimSpace(claims.Email)
	if email == "" {
		return GoogleClaims{}, errMissingEmail
	}
	if !claims.EmailVerified {
		return GoogleClaims{}, errUnverifiedEmail
	}
	return GoogleClaims{Subject: claims.Subject, Email: email, Name: strings.TrimSpace(claims.Name)}, nil
}

// remoteKeySet caches the RSA signing keys served at a JWKS url.
type remoteKeySet struct {
	url    string
	client *http.Client
	ttl    time.Duration
	logger *zap.Logger

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
}

func (s *remoteKeySet) lookup(ctx context.Context, keyID string, now time.Time) (*rsa.PublicKey, error) {
	if key := s.cached(keyID, now); key != nil {
		return key, nil
	}
	keys, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.keys = keys
	s.expiresAt = now.Add(s.ttl)
	s.mu.Unlock()

	if key, ok := keys[keyID]; ok {
		return key, nil
	}
	return nil, errUnknownKeyID
}

func (s *remoteKeySet) cached(keyID string, now time.Time) *rsa.PublicKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if now.After(s.expiresAt) {
		return nil
	}
	return s.keys[keyID]
}

func (s *remoteKeySet) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, http.NoBody)
	if err != nil {
		return nil, err
	}
	response, err := s.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch jwks: status %d", response.StatusCode)
	}

	var document struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.NewDecoder(response.Body).Decode(&document); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(document.Keys))
	for _, candidate := range document.Keys {
		if candidate.KeyType != "RSA" || candidate.Use != "sig" {
			continue
		}
		key, err := candidate.publicKey()
		if err != nil {
			s.logger.Debug("skipping jwk", zap.String("kid", candidate.KeyID), zap.Error(err))
			continue
		}
		keys[candidate.KeyID] = key
	}
	if len(keys) == 0 {
		return nil, errors.New("jwks document contained no usable keys")
	}
	return keys, nil
}

type jsonWebKey struct {
	KeyType  string `json:"kty"`
	KeyID    string `json:"kid"`
	Use      string `json:"use"`
	Modulus  string `json:"n"`
	Exponent string `json:"e"`
}

func (k jsonWebKey) publicKey() (*rsa.PublicKey, error) {
	modulus, err := base64.RawURLEncoding.DecodeString(k.Modulus)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	exponent, err := base64.RawURLEncoding.DecodeString(k.Exponent)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	e := new(big.Int).SetBytes(exponent)
	if len(modulus) == 0 || !e.IsInt64() || e.Int64() < 3 || e.Int64() > 1<<31-1 {
		return nil, errors.New("key parameters out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(modulus), E: int(e.Int64())}, nil
}
