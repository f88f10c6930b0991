// Package service provides authentication business logic, delegating
// persistence to an AuthRepository.
package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/atinyakov/studydeck/internal/models"
	"github.com/atinyakov/studydeck/internal/repository"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// minPasswordLen is the shortest password accepted on registration.
const minPasswordLen = 8

var (
	// ErrValidation is returned when input fails validation.
	ErrValidation = errors.New("validation failed")
	// ErrUserExists is returned when registering an already taken email.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidCredentials is returned on a wrong email or password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidSession is returned when a refresh token is unknown or expired.
	ErrInvalidSession = errors.New("invalid session")
)

// AuthRepository defines the persistence operations required by the
// authentication service.
type AuthRepository interface {
	// UserExists returns true if a user with the given email exists.
	UserExists(ctx context.Context, email string) (bool, error)
	// CreateUser stores a new user, returning repository.ErrConflict on a taken email.
	CreateUser(ctx context.Context, u *models.User) error
	// GetUserByEmail returns repository.ErrNotFound when no user matches.
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	// GetUserByID returns repository.ErrNotFound when no user matches.
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// CreateSession stores a refresh session.
	CreateSession(ctx context.Context, s *models.Session) error
	// GetSessionByHash returns repository.ErrNotFound when no session matches.
	GetSessionByHash(ctx context.Context, tokenHash string) (*models.Session, error)
	// RotateSession atomically swaps the session with oldHash for next.
	RotateSession(ctx context.Context, oldHash string, next *models.Session) error
	// DeleteSession removes a session; missing sessions are not an error.
	DeleteSession(ctx context.Context, tokenHash string) error
}

// FieldError describes a validation failure of a single input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries per-field failures and matches ErrValidation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrValidation) succeed.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Result is what a successful register, login or refresh hands back to the
// transport layer.
type Result struct {
	// User is set on register and login.
	User *models.User
	// AccessToken is the short-lived bearer token.
	AccessToken string
	// RefreshToken is the opaque long-lived token for the session cookie.
	RefreshToken string
	// RefreshExpiresAt is when RefreshToken stops being accepted.
	RefreshExpiresAt time.Time
}

// Service implements authentication operations by delegating to an
// AuthRepository.
type Service struct {
	repo       AuthRepository
	tokens     *TokenIssuer
	refreshTTL time.Duration
	bcryptCost int
	now        func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithBcryptCost overrides the bcrypt cost, mostly to keep tests fast.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

// NewAuthService constructs a new Service using the provided repository and
// token issuer. Refresh sessions live for refreshTTL.
func NewAuthService(repo AuthRepository, tokens *TokenIssuer, refreshTTL time.Duration, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		tokens:     tokens,
		refreshTTL: refreshTTL,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a user and opens a first session for it.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (*Result, error) {
	email = normalizeEmail(email)
	if err := validateCredentials(email, password, true); err != nil {
		return nil, err
	}

	exists, err := s.repo.UserExists(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	if strings.TrimSpace(displayName) == "" {
		displayName = strings.SplitN(email, "@", 2)[0]
	}
	user := &models.User{
		ID:           uuid.New(),
		Email:        email,
		DisplayName:  strings.TrimSpace(displayName),
		Role:         models.RoleStudent,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	return s.openSession(ctx, user)
}

// Login verifies the credentials and opens a new session.
func (s *Service) Login(ctx context.Context, email, password string) (*Result, error) {
	email = normalizeEmail(email)
	if err := validateCredentials(email, password, false); err != nil {
		return nil, err
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.openSession(ctx, user)
}

// Refresh redeems a refresh token: the old session is replaced by a new one
// and a fresh access token is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Result, error) {
	if refreshToken == "" {
		return nil, ErrInvalidSession
	}
	oldHash := hashRefreshToken(refreshToken)

	sess, err := s.repo.GetSessionByHash(ctx, oldHash)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if sess.Expired(now) {
		_ = s.repo.DeleteSession(ctx, oldHash)
		return nil, ErrInvalidSession
	}

	user, err := s.repo.GetUserByID(ctx, sess.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, err
	}

	next, plain, err := s.newSession(user.ID, now)
	if err != nil {
		return nil, err
	}
	if err := s.repo.RotateSession(ctx, oldHash, next); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}

	access, err := s.tokens.Issue(user, now)
	if err != nil {
		return nil, err
	}
	return &Result{
		User:             user,
		AccessToken:      access,
		RefreshToken:     plain,
		RefreshExpiresAt: next.ExpiresAt,
	}, nil
}

// Logout ends the session bound to refreshToken. An empty or unknown token
// is not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.repo.DeleteSession(ctx, hashRefreshToken(refreshToken))
}

// Me returns the user with the given id.
func (s *Service) Me(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	return user, err
}

// Authenticate validates a bearer access token and returns the user id it
// was issued for.
func (s *Service) Authenticate(token string) (uuid.UUID, error) {
	claims, err := s.tokens.Validate(token, s.now())
	if err != nil {
		return uuid.Nil, err
	}
	return claims.UserID, nil
}

func (s *Service) openSession(ctx context.Context, user *models.User) (*Result, error) {
	now := s.now().UTC()
	sess, plain, err := s.newSession(user.ID, now)
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	access, err := s.tokens.Issue(user, now)
	if err != nil {
		return nil, err
	}
	return &Result{
		User:             user,
		AccessToken:      access,
		RefreshToken:     plain,
		RefreshExpiresAt: sess.ExpiresAt,
	}, nil
}

func (s *Service) newSession(userID uuid.UUID, now time.Time) (*models.Session, string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, "", fmt.Errorf("generate refresh token: %w", err)
	}
	plain := base64.RawURLEncoding.EncodeToString(b)
	return &models.Session{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: hashRefreshToken(plain),
		CreatedAt: now,
		ExpiresAt: now.Add(s.refreshTTL),
	}, plain, nil
}

func hashRefreshToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateCredentials(email, password string, strict bool) error {
	var fields []FieldError
	if email == "" {
		fields = append(fields, FieldError{Field: "email", Message: "is required"})
	} else if _, err := mail.ParseAddress(email); err != nil {
		fields = append(fields, FieldError{Field: "email", Message: "is not a valid address"})
	}
	switch {
	case password == "":
		fields = append(fields, FieldError{Field: "password", Message: "is required"})
	case strict && len(password) < minPasswordLen:
		fields = append(fields, FieldError{Field: "password", Message: fmt.Sprintf("must be at least %d characters", minPasswordLen)})
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
