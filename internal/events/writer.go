package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ideaflow/internal/domain"
)

const (
	InitiativeSubmitted   = "initiative.submitted"
	InitiativeApproved    = "initiative.approved"
	InitiativeRejected    = "initiative.rejected"
	InitiativeEdited      = "initiative.edited"
	InitiativeResubmitted = "initiative.resubmitted"
	InitiativeDeleted     = "initiative.deleted"
)

// Types lists every event the workflow emits.
var Types = []string{
	InitiativeSubmitted,
	InitiativeApproved,
	InitiativeRejected,
	InitiativeEdited,
	InitiativeResubmitted,
	InitiativeDeleted,
}

type Payload map[string]any

// Sink records workflow events. Append failures are reported but never roll
// back the transition that produced them.
type Sink interface {
	Append(ctx context.Context, evtType, initiativeID, actor string, payload Payload) error
}

// SQLWriter appends events to the events table.
type SQLWriter struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w SQLWriter) Append(ctx context.Context, evtType, initiativeID, actor string, payload Payload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	data, err := encode(payload)
	if err != nil {
		return err
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO events(ts,type,initiative_id,actor,payload_json) VALUES (?,?,?,?,?)`,
		domain.FormatTime(now()), evtType, initiativeID, actor, data)
	if err != nil {
		return fmt.Errorf("append event %s: %w", evtType, err)
	}
	return nil
}

// EventsAfter returns up to limit events with id greater than cursor, oldest first.
func (w SQLWriter) EventsAfter(ctx context.Context, cursor int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := w.DB.QueryContext(ctx, `SELECT id,ts,type,initiative_id,actor,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.InitiativeID, &e.Actor, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// ForInitiative returns the history of one initiative, oldest first.
func (w SQLWriter) ForInitiative(ctx context.Context, initiativeID string) ([]domain.Event, error) {
	rows, err := w.DB.QueryContext(ctx, `SELECT id,ts,type,initiative_id,actor,payload_json FROM events WHERE initiative_id=? ORDER BY id ASC`, initiativeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.InitiativeID, &e.Actor, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (w SQLWriter) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := w.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// LogWriter reports events as structured log lines. Used by the jsonfile
// backend, which has no events table.
type LogWriter struct {
	Logger *slog.Logger
}

func (w LogWriter) Append(ctx context.Context, evtType, initiativeID, actor string, payload Payload) error {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	data, err := encode(payload)
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "event", "type", evtType, "initiative_id", initiativeID, "actor", actor, "payload", data)
	return nil
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Append(ctx context.Context, evtType, initiativeID, actor string, payload Payload) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Append(ctx, evtType, initiativeID, actor, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func encode(payload Payload) (string, error) {
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal event payload: %w", err)
	}
	return string(data), nil
}
