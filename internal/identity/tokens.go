package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"ideaflow/internal/domain"
)

const issuer = "ideaflow"

type sessionClaims struct {
	jwt.RegisteredClaims
	Username string      `json:"username"`
	Role     domain.Role `json:"role"`
}

// Service issues and resolves session tokens. A token is only valid while its
// jti is present and unrevoked in Sessions.
type Service struct {
	Directory *Directory
	Sessions  SessionStore
	Secret    string
	// TTL of zero issues tokens without an expiry.
	TTL time.Duration
	Now func() time.Time
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Login verifies credentials and returns a new session token.
func (s Service) Login(ctx context.Context, username, password string) (string, domain.User, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return "", domain.User{}, domain.ValidationError{Reason: "username and password are required"}
	}
	user, err := s.Directory.Authenticate(username, password)
	if err != nil {
		return "", domain.User{}, err
	}
	token, err := s.Issue(ctx, user)
	if err != nil {
		return "", domain.User{}, err
	}
	return token, user, nil
}

// Issue signs a token for user and registers its session.
func (s Service) Issue(ctx context.Context, user domain.User) (string, error) {
	if strings.TrimSpace(s.Secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := s.now()
	sess := Session{ID: uuid.NewString(), UserID: user.ID}
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       sess.ID,
			Subject:  user.ID,
			Issuer:   issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Username: user.Username,
		Role:     user.Role,
	}
	if s.TTL > 0 {
		sess.ExpiresAt = now.Add(s.TTL)
		claims.ExpiresAt = jwt.NewNumericDate(sess.ExpiresAt)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.Secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	if err := s.Sessions.Create(ctx, sess); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return signed, nil
}

func (s Service) parse(token string) (*sessionClaims, error) {
	if strings.TrimSpace(s.Secret) == "" {
		return nil, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	claims := &sessionClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.Secret), nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidCredentials
	}
	if claims.ID == "" || claims.Username == "" {
		return nil, ErrInvalidCredentials
	}
	return claims, nil
}

// Resolve returns the user a token belongs to. The role comes from the
// directory, not the token, so role changes apply to live sessions.
func (s Service) Resolve(ctx context.Context, token string) (domain.User, error) {
	claims, err := s.parse(token)
	if err != nil {
		return domain.User{}, err
	}
	sess, err := s.Sessions.Get(ctx, claims.ID)
	if errors.Is(err, ErrSessionNotFound) {
		return domain.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, err
	}
	if sess.Revoked || (!sess.ExpiresAt.IsZero() && !s.now().Before(sess.ExpiresAt)) {
		return domain.User{}, ErrInvalidCredentials
	}
	user, ok := s.Directory.Lookup(claims.Username)
	if !ok {
		return domain.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// Logout revokes the token's session. Unknown tokens are ignored.
func (s Service) Logout(ctx context.Context, token string) error {
	claims, err := s.parse(token)
	if err != nil {
		return nil
	}
	if err := s.Sessions.Revoke(ctx, claims.ID); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}
	return nil
}
