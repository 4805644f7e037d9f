package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"invoicing-backend/internal/models"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrSessionExists = errors.New("session already exists")
)

// TrackingTx is the unit of work for session and page-event mutations. Reads that
// precede a write lock the rows they return, so a check-then-close sequence cannot
// interleave with another request for the same session.
type TrackingTx interface {
	GetSessionForUpdate(ctx context.Context, sessionID string, userID uuid.UUID) (*models.Session, error)
	// CreateSession returns ErrSessionExists when (session_id, user) is already taken.
	CreateSession(ctx context.Context, s *models.Session) error
	UpdateSession(ctx context.Context, s *models.Session) error
	// ListStaleSessions returns active sessions whose last_ping is before cutoff,
	// skipping rows another transaction holds.
	ListStaleSessions(ctx context.Context, cutoff time.Time, limit int) ([]*models.Session, error)

	ListOpenPageEvents(ctx context.Context, sessionRowID int64) ([]*models.PageEvent, error)
	// LatestOpenPageEvent picks the most recently started open event for the page.
	LatestOpenPageEvent(ctx context.Context, sessionRowID int64, page string) (*models.PageEvent, error)
	CreatePageEvent(ctx context.Context, e *models.PageEvent) error
	UpdatePageEvent(ctx context.Context, e *models.PageEvent) error
}

type TrackingStore interface {
	// InTx runs fn in a single transaction, committing only when fn returns nil.
	InTx(ctx context.Context, fn func(tx TrackingTx) error) error

	ListSessions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Session, error)
	ListPageEvents(ctx context.Context, sessionID string, userID uuid.UUID) ([]*models.PageEvent, error)
}
