// Package auth registers accounts and issues the bearer tokens the API
// checks.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"RecallChat/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidInput       = errors.New("invalid input")
)

// Config configures token issuance.
type Config struct {
	Secret     string        `mapstructure:"secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	Issuer     string        `mapstructure:"issuer"`
	BcryptCost int           `mapstructure:"bcrypt_cost"`
}

// DefaultConfig returns a 24h token lifetime. The secret must be set.
func DefaultConfig() Config {
	return Config{
		TokenTTL:   24 * time.Hour,
		Issuer:     "recallchat",
		BcryptCost: bcrypt.DefaultCost,
	}
}

// Users is the account storage.
type Users interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error)
	UserByUsername(ctx context.Context, username string) (*store.User, error)
}

// Service registers users and issues tokens.
type Service struct {
	users Users
	cfg   Config
	now   func() time.Time
}

// NewService creates a Service. It fails when no secret is configured.
func NewService(users Users, cfg Config) (*Service, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("auth secret is empty")
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{users: users, cfg: cfg, now: time.Now}, nil
}

// Session is the result of a successful register or login.
type Session struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func validate(username, password string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(username))
	if n < 3 || n > 64 {
		return fmt.Errorf("%w: username must be 3 to 64 characters", ErrInvalidInput)
	}
	if strings.ContainsAny(strings.TrimSpace(username), " \t\r\n") {
		return fmt.Errorf("%w: username must not contain spaces", ErrInvalidInput)
	}
	if len(password) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	if len(password) > 72 {
		return fmt.Errorf("%w: password must be at most 72 bytes", ErrInvalidInput)
	}
	return nil
}

// Register creates an account and logs it in.
func (s *Service) Register(ctx context.Context, username, password string) (*Session, error) {
	if err := validate(username, password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u, err := s.users.CreateUser(ctx, username, string(hash))
	if err != nil {
		return nil, err
	}
	return s.issue(u)
}

// Login checks the password and issues a token.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	u, err := s.users.UserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(u)
}

func (s *Service) issue(u *store.User) (*Session, error) {
	now := s.now()
	exp := now.Add(s.cfg.TokenTTL)

	claims := jwt.RegisteredClaims{
		Subject:   u.ID,
		Issuer:    s.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &Session{UserID: u.ID, Username: u.Username, Token: token, ExpiresAt: exp}, nil
}

// Verify checks a token's signature, issuer and expiry and returns the
// user id it was issued to.
func (s *Service) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return []byte(s.cfg.Secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}
