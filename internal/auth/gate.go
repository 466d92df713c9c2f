package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrInvalidCredentials is returned for a wrong API key or a bad token.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// ErrDisabled is returned by Exchange when no admin key is configured.
var ErrDisabled = errors.New("auth: authentication is disabled")

// operatorSubject names the single operator principal in issued tokens.
const operatorSubject = "admin"

// Gate holds the admin key hash and the token manager.
type Gate struct {
	keyHash string
	jwt     *JWTManager
	logger  *slog.Logger
}

// NewGate builds a gate for adminKey. An empty key yields an open gate:
// every request is let through and a warning is logged once.
func NewGate(adminKey string, jwt *JWTManager, logger *slog.Logger) (*Gate, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	g := &Gate{jwt: jwt, logger: logger}
	if adminKey == "" {
		logger.Warn("auth: ADMIN_API_KEY is empty, operator endpoints are unauthenticated")
		return g, nil
	}
	hash, err := HashAPIKey(adminKey)
	if err != nil {
		return nil, err
	}
	g.keyHash = hash
	return g, nil
}

// Enabled reports whether requests must authenticate.
func (g *Gate) Enabled() bool { return g.keyHash != "" }

// Exchange trades the admin API key for a signed token.
func (g *Gate) Exchange(apiKey string) (string, time.Time, error) {
	if !g.Enabled() {
		return "", time.Time{}, ErrDisabled
	}
	if apiKey == "" {
		DummyVerify()
		return "", time.Time{}, ErrInvalidCredentials
	}
	ok, err := VerifyAPIKey(apiKey, g.keyHash)
	if err != nil {
		return "", time.Time{}, err
	}
	if !ok {
		return "", time.Time{}, ErrInvalidCredentials
	}
	return g.jwt.IssueToken(operatorSubject)
}

// Authenticate checks an Authorization header value. It returns nil claims
// and no error when the gate is open.
func (g *Gate) Authenticate(header string) (*Claims, error) {
	if !g.Enabled() {
		return nil, nil
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return nil, fmt.Errorf("%w: expected a bearer token", ErrInvalidCredentials)
	}
	claims, err := g.jwt.ValidateToken(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	return claims, nil
}
