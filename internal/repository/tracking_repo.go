package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"invoicing-backend/internal/models"
)

const sessionColumns = `id, session_id, user_id, state, start_time, end_time, last_ping, duration`

const pageEventColumns = `e.id, e.session_ref, s.session_id, e.user_id, e.page, e.state, e.start_time, e.end_time, e.duration`

type TrackingRepo struct {
	pool *pgxpool.Pool
}

func NewTrackingRepo(pool *pgxpool.Pool) *TrackingRepo {
	return &TrackingRepo{pool: pool}
}

func (r *TrackingRepo) InTx(ctx context.Context, fn func(tx TrackingTx) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&trackingTx{tx: tx})
	})
}

func (r *TrackingRepo) ListSessions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM tracking_sessions
		WHERE user_id = $1
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	defer rows.Close()

	sessions := make([]*models.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *TrackingRepo) ListPageEvents(ctx context.Context, sessionID string, userID uuid.UUID) ([]*models.PageEvent, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM tracking_sessions WHERE session_id = $1 AND user_id = $2)",
		sessionID, userID,
	).Scan(&exists)
	if err != nil {
		return nil, errors.Wrap(err, "check session")
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+pageEventColumns+`
		FROM page_events e
		JOIN tracking_sessions s ON s.id = e.session_ref
		WHERE s.session_id = $1 AND s.user_id = $2
		ORDER BY e.start_time DESC, e.id DESC
	`, sessionID, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list page events")
	}
	defer rows.Close()
	return collectPageEvents(rows)
}

type trackingTx struct {
	tx pgx.Tx
}

func (t *trackingTx) GetSessionForUpdate(ctx context.Context, sessionID string, userID uuid.UUID) (*models.Session, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM tracking_sessions
		WHERE session_id = $1 AND user_id = $2
		FOR UPDATE
	`, sessionID, userID)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

func (t *trackingTx) CreateSession(ctx context.Context, s *models.Session) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO tracking_sessions (session_id, user_id, state, start_time, end_time, last_ping, duration)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, user_id) DO NOTHING
		RETURNING id
	`, s.SessionID, s.UserID, string(s.State), s.StartTime, s.EndTime, s.LastPing, s.Duration).Scan(&s.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSessionExists
	}
	return errors.Wrap(err, "create session")
}

func (t *trackingTx) UpdateSession(ctx context.Context, s *models.Session) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE tracking_sessions
		SET state = $1, start_time = $2, end_time = $3, last_ping = $4, duration = $5
		WHERE id = $6
	`, string(s.State), s.StartTime, s.EndTime, s.LastPing, s.Duration, s.ID)
	return errors.Wrap(err, "update session")
}

func (t *trackingTx) ListStaleSessions(ctx context.Context, cutoff time.Time, limit int) ([]*models.Session, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM tracking_sessions
		WHERE state = 'active'
		  AND last_ping IS NOT NULL
		  AND last_ping < $1
		ORDER BY last_ping
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, cutoff, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list stale sessions")
	}
	defer rows.Close()

	sessions := make([]*models.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (t *trackingTx) ListOpenPageEvents(ctx context.Context, sessionRowID int64) ([]*models.PageEvent, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+pageEventColumns+`
		FROM page_events e
		JOIN tracking_sessions s ON s.id = e.session_ref
		WHERE e.session_ref = $1 AND e.state = 'open'
		ORDER BY e.start_time, e.id
		FOR UPDATE OF e
	`, sessionRowID)
	if err != nil {
		return nil, errors.Wrap(err, "list open page events")
	}
	defer rows.Close()
	return collectPageEvents(rows)
}

func (t *trackingTx) LatestOpenPageEvent(ctx context.Context, sessionRowID int64, page string) (*models.PageEvent, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+pageEventColumns+`
		FROM page_events e
		JOIN tracking_sessions s ON s.id = e.session_ref
		WHERE e.session_ref = $1 AND e.page = $2 AND e.state = 'open'
		ORDER BY e.start_time DESC, e.id DESC
		LIMIT 1
		FOR UPDATE OF e
	`, sessionRowID, page)
	e, err := scanPageEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func (t *trackingTx) CreatePageEvent(ctx context.Context, e *models.PageEvent) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO page_events (session_ref, user_id, page, state, start_time, end_time, duration)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, e.SessionRowID, e.UserID, e.Page, string(e.State), e.StartTime, e.EndTime, e.Duration).Scan(&e.ID)
	return errors.Wrap(err, "create page event")
}

func (t *trackingTx) UpdatePageEvent(ctx context.Context, e *models.PageEvent) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE page_events
		SET state = $1, end_time = $2, duration = $3
		WHERE id = $4
	`, string(e.State), e.EndTime, e.Duration, e.ID)
	return errors.Wrap(err, "update page event")
}

func scanSession(row pgx.Row) (*models.Session, error) {
	s := &models.Session{}
	var state string
	err := row.Scan(&s.ID, &s.SessionID, &s.UserID, &state, &s.StartTime, &s.EndTime, &s.LastPing, &s.Duration)
	if err != nil {
		return nil, err
	}
	s.State = models.SessionState(state)
	return s, nil
}

func scanPageEvent(row pgx.Row) (*models.PageEvent, error) {
	e := &models.PageEvent{}
	var state string
	err := row.Scan(&e.ID, &e.SessionRowID, &e.SessionID, &e.UserID, &e.Page, &state, &e.StartTime, &e.EndTime, &e.Duration)
	if err != nil {
		return nil, err
	}
	e.State = models.PageEventState(state)
	return e, nil
}

func collectPageEvents(rows pgx.Rows) ([]*models.PageEvent, error) {
	events := make([]*models.PageEvent, 0)
	for rows.Next() {
		e, err := scanPageEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
