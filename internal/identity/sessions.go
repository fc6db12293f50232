package identity

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"ideaflow/internal/domain"
)

var ErrSessionNotFound = errors.New("session not found")

// Session is one issued token, keyed by its jti.
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	Revoked   bool
}

// SessionStore keeps issued sessions. Implementations must be safe for
// concurrent use.
type SessionStore interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	Revoke(ctx context.Context, id string) error
}

// MemorySessions lives for the process lifetime.
type MemorySessions struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{sessions: map[string]Session{}}
}

func (m *MemorySessions) Create(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *MemorySessions) Get(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (m *MemorySessions) Revoke(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.Revoked = true
	m.sessions[id] = s
	return nil
}

// SQLSessions keeps sessions in the sessions table so they survive restarts.
type SQLSessions struct {
	DB  *sql.DB
	Now func() time.Time
}

func (s SQLSessions) Create(ctx context.Context, sess Session) error {
	expires := ""
	if !sess.ExpiresAt.IsZero() {
		expires = domain.FormatTime(sess.ExpiresAt)
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO sessions(token_id,user_id,expires_at,revoked_at) VALUES (?,?,?,NULL)`,
		sess.ID, sess.UserID, expires)
	return err
}

func (s SQLSessions) Get(ctx context.Context, id string) (Session, error) {
	var (
		sess    Session
		expires string
		revoked sql.NullString
	)
	err := s.DB.QueryRowContext(ctx, `SELECT token_id,user_id,expires_at,revoked_at FROM sessions WHERE token_id=?`, id).
		Scan(&sess.ID, &sess.UserID, &expires, &revoked)
	if err == sql.ErrNoRows {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if expires != "" {
		t, err := time.Parse(domain.TimeLayout, expires)
		if err != nil {
			return Session{}, err
		}
		sess.ExpiresAt = t
	}
	sess.Revoked = revoked.Valid
	return sess, nil
}

func (s SQLSessions) Revoke(ctx context.Context, id string) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE sessions SET revoked_at=? WHERE token_id=? AND revoked_at IS NULL`, domain.FormatTime(now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
