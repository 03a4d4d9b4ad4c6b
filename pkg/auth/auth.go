// Package auth issues and verifies the JWT tokens that carry a caller's
// storage group. The group claim is the only authorization input the
// storage layer consumes.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/jwtauth"
	"github.com/lestrrat-go/jwx/jwt"
)

// Error types
var (
	// ErrTokenInvalid indicates a token that fails signature or claim checks.
	ErrTokenInvalid = errors.New("invalid token")

	// ErrTokenExpired indicates a token past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenRevoked indicates a token revoked by an administrator.
	ErrTokenRevoked = errors.New("token revoked")
)

// DefaultTokenTTL is used when no explicit lifetime is requested (30 days).
const DefaultTokenTTL = 30 * 24 * time.Hour

// TokenInfo is the verified identity extracted from a token.
type TokenInfo struct {
	Group     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// tokenRecord is the persisted shape of an issued token.
type tokenRecord struct {
	Group     string    `json:"group"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked,omitempty"`
}

// Service signs, verifies, and tracks group tokens. Issued tokens are
// recorded in a JSON store so they can be listed and revoked; the store is
// written crash-safely like the metadata document.
type Service struct {
	mu        sync.Mutex
	ja        *jwtauth.JWTAuth
	storePath string
	tokens    map[string]tokenRecord
	logger    *slog.Logger
}

// Config options for the auth service
type Config struct {
	Secret         string // HS256 secret; random when empty (not for production)
	TokenStorePath string // JSON token store; tracking disabled when empty
	Logger         *slog.Logger
}

// New creates the auth service, loading any existing token store.
func New(cfg Config) (*Service, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	secret := cfg.Secret
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate secret: %w", err)
		}
		secret = hex.EncodeToString(buf)
		logger.Warn("no JWT secret provided, generated a random one (not suitable for production)")
	}

	s := &Service{
		ja:        jwtauth.New("HS256", []byte(secret), nil),
		storePath: cfg.TokenStorePath,
		tokens:    make(map[string]tokenRecord),
		logger:    logger,
	}
	if err := s.loadStore(); err != nil {
		return nil, err
	}
	return s, nil
}

// JWTAuth exposes the underlying verifier for router middleware.
func (s *Service) JWTAuth() *jwtauth.JWTAuth {
	return s.ja
}

func (s *Service) loadStore() error {
	if s.storePath == "" {
		return nil
	}
	data, err := os.ReadFile(s.storePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to load token store: %w", err)
	}
	if err := json.Unmarshal(data, &s.tokens); err != nil {
		s.logger.Warn("token store unreadable, resetting to empty", "path", s.storePath, "err", err)
		s.tokens = make(map[string]tokenRecord)
	}
	return nil
}

// persistStore writes the token store crash-safely. Callers hold the lock.
func (s *Service) persistStore() error {
	if s.storePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.storePath), 0o700); err != nil {
		return fmt.Errorf("failed to save token store: %w", err)
	}
	data, err := json.MarshalIndent(s.tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to save token store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.storePath), ".tokens-*")
	if err != nil {
		return fmt.Errorf("failed to save token store: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to save token store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to save token store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to save token store: %w", err)
	}
	if err := os.Rename(tmpPath, s.storePath); err != nil {
		return fmt.Errorf("failed to save token store: %w", err)
	}
	return nil
}

// CreateToken issues a signed token carrying the group claim. A zero ttl
// uses DefaultTokenTTL.
func (s *Service) CreateToken(group string, ttl time.Duration) (string, error) {
	if group == "" {
		return "", errors.New("group is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now().UTC()
	claims := map[string]interface{}{"group": group}
	jwtauth.SetIssuedAt(claims, now)
	jwtauth.SetExpiry(claims, now.Add(ttl))

	_, tokenString, err := s.ja.Encode(claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tokenString] = tokenRecord{
		Group:     group,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.persistStore(); err != nil {
		delete(s.tokens, tokenString)
		return "", err
	}

	s.logger.Info("token created", "group", group, "expires_at", now.Add(ttl))
	return tokenString, nil
}

// VerifyToken checks signature, expiry, and revocation, and returns the
// token's group identity.
func (s *Service) VerifyToken(tokenString string) (TokenInfo, error) {
	token, err := jwtauth.VerifyToken(s.ja, tokenString)
	if err != nil {
		if errors.Is(err, jwtauth.ErrExpired) {
			return TokenInfo{}, ErrTokenExpired
		}
		return TokenInfo{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	s.mu.Lock()
	record, tracked := s.tokens[tokenString]
	s.mu.Unlock()
	if tracked && record.Revoked {
		return TokenInfo{}, ErrTokenRevoked
	}

	group, err := GroupFromToken(token)
	if err != nil {
		return TokenInfo{}, err
	}

	return TokenInfo{
		Group:     group,
		IssuedAt:  token.IssuedAt(),
		ExpiresAt: token.Expiration(),
	}, nil
}

// RevokeToken marks an issued token as revoked, reporting whether it was
// known to the store.
func (s *Service) RevokeToken(tokenString string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.tokens[tokenString]
	if !ok {
		return false, nil
	}
	record.Revoked = true
	s.tokens[tokenString] = record
	if err := s.persistStore(); err != nil {
		return false, err
	}
	s.logger.Info("token revoked", "group", record.Group)
	return true, nil
}

// ListTokens returns the issued tokens grouped by their group claim.
func (s *Service) ListTokens() map[string][]TokenInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]TokenInfo)
	for _, record := range s.tokens {
		if record.Revoked {
			continue
		}
		out[record.Group] = append(out[record.Group], TokenInfo{
			Group:     record.Group,
			IssuedAt:  record.IssuedAt,
			ExpiresAt: record.ExpiresAt,
		})
	}
	return out
}

// GroupFromToken extracts the group claim from a verified token.
func GroupFromToken(token jwt.Token) (string, error) {
	raw, ok := token.Get("group")
	if !ok {
		return "", fmt.Errorf("%w: missing group claim", ErrTokenInvalid)
	}
	group, ok := raw.(string)
	if !ok || group == "" {
		return "", fmt.Errorf("%w: malformed group claim", ErrTokenInvalid)
	}
	return group, nil
}
