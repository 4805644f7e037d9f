package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"invoicing-backend/internal/models"
	"invoicing-backend/internal/repository"
)

// SessionTimeout is the heartbeat silence after which a session counts as abandoned.
const SessionTimeout = 2 * time.Minute

const staleSweepBatch = 100

var (
	errSessionNotFound   = &NotFoundError{Message: "Session not found"}
	errPageEventNotFound = &NotFoundError{Message: "Page event not found"}
)

type TrackingService struct {
	store  repository.TrackingStore
	clock  Clock
	loc    *time.Location
	events EventPublisher
}

func NewTrackingService(store repository.TrackingStore, clock Clock, loc *time.Location, events EventPublisher) *TrackingService {
	if clock == nil {
		clock = SystemClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &TrackingService{store: store, clock: clock, loc: loc, events: events}
}

// StartOrResumeSession creates the session on first sight, resumes it while active,
// and reopens the same row once it has closed. created reports a fresh insert.
func (s *TrackingService) StartOrResumeSession(ctx context.Context, userID uuid.UUID, sessionID, rawStart string) (*models.Session, bool, error) {
	start := s.clientTime(ctx, rawStart, "start_time")

	var (
		session *models.Session
		created bool
		outbox  []models.WSMessage
	)
	err := s.store.InTx(ctx, func(tx repository.TrackingTx) error {
		outbox = outbox[:0]

		current, err := tx.GetSessionForUpdate(ctx, sessionID, userID)
		if errors.Is(err, repository.ErrNotFound) {
			current, created, err = s.createSession(ctx, tx, userID, sessionID, start)
			if err != nil {
				return err
			}
			if created {
				session = current
				outbox = append(outbox, models.WSMessage{Type: models.EventSessionStarted, Payload: *current})
				return nil
			}
		}
		if err != nil {
			return err
		}

		if current.IsActive() && current.LastPing != nil && s.expired(*current.LastPing) {
			log.Ctx(ctx).Info().
				Str("session_id", sessionID).
				Dur("gap", s.clock.Now().Sub(*current.LastPing)).
				Msg("auto-ending stale session on start")
			closed, err := s.closeSession(ctx, tx, current, *current.LastPing)
			if err != nil {
				return err
			}
			outbox = append(outbox, closedMessages(current, closed)...)
		}

		if current.IsActive() {
			current.Ping(start)
		} else {
			current.Reopen(start)
			outbox = append(outbox, models.WSMessage{Type: models.EventSessionStarted, Payload: *current})
			log.Ctx(ctx).Info().Str("session_id", sessionID).Time("start_time", start).Msg("session reset for new visit")
		}

		if err := tx.UpdateSession(ctx, current); err != nil {
			return err
		}
		session = current
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	s.publish(ctx, userID, outbox)
	return session, created, nil
}

// EndSession closes the session at the client end time. Ending a closed session
// returns it unchanged.
func (s *TrackingService) EndSession(ctx context.Context, userID uuid.UUID, sessionID, rawEnd string) (*models.Session, error) {
	var (
		session *models.Session
		outbox  []models.WSMessage
	)
	err := s.store.InTx(ctx, func(tx repository.TrackingTx) error {
		outbox = outbox[:0]

		current, err := tx.GetSessionForUpdate(ctx, sessionID, userID)
		if errors.Is(err, repository.ErrNotFound) {
			return errSessionNotFound
		}
		if err != nil {
			return err
		}
		session = current

		if !current.IsActive() {
			return nil
		}

		end := s.clientTime(ctx, rawEnd, "end_time")
		closed, err := s.closeSession(ctx, tx, current, end)
		if err != nil {
			return err
		}
		outbox = append(outbox, closedMessages(current, closed)...)
		return tx.UpdateSession(ctx, current)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, userID, outbox)
	return session, nil
}

// Heartbeat records a ping. The expiry decision compares the previously stored
// last_ping with server time, so a long silence closes the session at the old ping
// even though the new ping is still stored.
func (s *TrackingService) Heartbeat(ctx context.Context, userID uuid.UUID, sessionID, rawTimestamp string) (*models.Session, error) {
	pingAt := s.clientTime(ctx, rawTimestamp, "timestamp")

	var (
		session *models.Session
		outbox  []models.WSMessage
	)
	err := s.store.InTx(ctx, func(tx repository.TrackingTx) error {
		outbox = outbox[:0]

		current, err := tx.GetSessionForUpdate(ctx, sessionID, userID)
		if errors.Is(err, repository.ErrNotFound) {
			return errSessionNotFound
		}
		if err != nil {
			return err
		}

		oldPing := current.LastPing
		if current.IsActive() && oldPing != nil && !current.StartTime.IsZero() && s.expired(*oldPing) {
			log.Ctx(ctx).Info().
				Str("session_id", sessionID).
				Time("last_ping", *oldPing).
				Dur("gap", s.clock.Now().Sub(*oldPing)).
				Msg("ending session after heartbeat gap")
			closed, err := s.closeSession(ctx, tx, current, *oldPing)
			if err != nil {
				return err
			}
			outbox = append(outbox, closedMessages(current, closed)...)
		}

		current.Ping(pingAt)
		if err := tx.UpdateSession(ctx, current); err != nil {
			return err
		}
		session = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, userID, outbox)
	return session, nil
}

// StartPageEvent opens a page view. A missing session is created on the spot so a
// lost or reordered session-start never drops page tracking.
func (s *TrackingService) StartPageEvent(ctx context.Context, userID uuid.UUID, sessionID, page, rawStart string) (*models.PageEvent, error) {
	start := s.clientTime(ctx, rawStart, "start_time")

	var (
		event  *models.PageEvent
		outbox []models.WSMessage
	)
	err := s.store.InTx(ctx, func(tx repository.TrackingTx) error {
		outbox = outbox[:0]

		session, err := tx.GetSessionForUpdate(ctx, sessionID, userID)
		if errors.Is(err, repository.ErrNotFound) {
			log.Ctx(ctx).Warn().Str("session_id", sessionID).Msg("session not found for page start, creating it")
			var created bool
			session, created, err = s.createSession(ctx, tx, userID, sessionID, start)
			if err == nil && created {
				outbox = append(outbox, models.WSMessage{Type: models.EventSessionStarted, Payload: *session})
			}
		}
		if err != nil {
			return err
		}

		event = &models.PageEvent{
			SessionRowID: session.ID,
			SessionID:    session.SessionID,
			UserID:       userID,
			Page:         page,
			State:        models.PageEventOpen,
			StartTime:    start,
		}
		if err := tx.CreatePageEvent(ctx, event); err != nil {
			return err
		}
		outbox = append(outbox, models.WSMessage{Type: models.EventPageEventStarted, Payload: *event})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, userID, outbox)
	return event, nil
}

// EndPageEvent closes the most recently started open view of page. A client-measured
// duration is stored as given.
func (s *TrackingService) EndPageEvent(ctx context.Context, userID uuid.UUID, sessionID, page, rawEnd string, clientDuration *int) (*models.PageEvent, error) {
	var event *models.PageEvent
	err := s.store.InTx(ctx, func(tx repository.TrackingTx) error {
		session, err := tx.GetSessionForUpdate(ctx, sessionID, userID)
		if errors.Is(err, repository.ErrNotFound) {
			return errSessionNotFound
		}
		if err != nil {
			return err
		}

		end := s.clientTime(ctx, rawEnd, "end_time")

		open, err := tx.LatestOpenPageEvent(ctx, session.ID, page)
		if errors.Is(err, repository.ErrNotFound) {
			log.Ctx(ctx).Warn().Str("session_id", sessionID).Str("page", page).Msg("no open page event")
			return errPageEventNotFound
		}
		if err != nil {
			return err
		}

		open.Close(end, clientDuration)
		if err := tx.UpdatePageEvent(ctx, open); err != nil {
			return err
		}
		event = open
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, userID, []models.WSMessage{{Type: models.EventPageEventClosed, Payload: *event}})
	return event, nil
}

// ExpireStale closes active sessions whose last ping is older than SessionTimeout,
// at their last ping. It returns how many sessions it closed.
func (s *TrackingService) ExpireStale(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-SessionTimeout)

	type closure struct {
		userID uuid.UUID
		msgs   []models.WSMessage
	}
	var closures []closure

	err := s.store.InTx(ctx, func(tx repository.TrackingTx) error {
		closures = closures[:0]

		stale, err := tx.ListStaleSessions(ctx, cutoff, staleSweepBatch)
		if err != nil {
			return err
		}
		for _, session := range stale {
			closed, err := s.closeSession(ctx, tx, session, *session.LastPing)
			if err != nil {
				return err
			}
			if err := tx.UpdateSession(ctx, session); err != nil {
				return err
			}
			closures = append(closures, closure{userID: session.UserID, msgs: closedMessages(session, closed)})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, c := range closures {
		s.publish(ctx, c.userID, c.msgs)
	}
	return len(closures), nil
}

func (s *TrackingService) ListSessions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Session, error) {
	return s.store.ListSessions(ctx, userID, limit, offset)
}

func (s *TrackingService) ListPageEvents(ctx context.Context, userID uuid.UUID, sessionID string) ([]*models.PageEvent, error) {
	events, err := s.store.ListPageEvents(ctx, sessionID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errSessionNotFound
	}
	return events, err
}

// closeSession cascades the closing instant to every open page event, then closes
// the session in memory. The caller persists the session row.
func (s *TrackingService) closeSession(ctx context.Context, tx repository.TrackingTx, session *models.Session, at time.Time) ([]*models.PageEvent, error) {
	open, err := tx.ListOpenPageEvents(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	for _, e := range open {
		e.Close(at, nil)
		if err := tx.UpdatePageEvent(ctx, e); err != nil {
			return nil, err
		}
	}
	session.Close(at)

	log.Ctx(ctx).Info().
		Str("session_id", session.SessionID).
		Time("end_time", at).
		Int("duration", *session.Duration).
		Int("page_events_closed", len(open)).
		Msg("session closed")
	return open, nil
}

func (s *TrackingService) createSession(ctx context.Context, tx repository.TrackingTx, userID uuid.UUID, sessionID string, start time.Time) (*models.Session, bool, error) {
	session := &models.Session{
		SessionID: sessionID,
		UserID:    userID,
		State:     models.SessionActive,
		StartTime: start,
	}
	session.Ping(start)

	err := tx.CreateSession(ctx, session)
	if errors.Is(err, repository.ErrSessionExists) {
		// Lost the insert race; carry on with the row the other request created.
		existing, err := tx.GetSessionForUpdate(ctx, sessionID, userID)
		return existing, false, err
	}
	if err != nil {
		return nil, false, err
	}
	log.Ctx(ctx).Info().Str("session_id", sessionID).Time("start_time", start).Msg("session created")
	return session, true, nil
}

func (s *TrackingService) expired(lastPing time.Time) bool {
	return s.clock.Now().Sub(lastPing) > SessionTimeout
}

// clientTime parses a client timestamp, falling back to server time.
func (s *TrackingService) clientTime(ctx context.Context, raw, field string) time.Time {
	t, err := ParseClientTime(raw, s.loc)
	if err != nil {
		log.Ctx(ctx).Warn().Str("field", field).Str("value", raw).Msg("unparsable timestamp, using server time")
		return s.clock.Now()
	}
	return t
}

func (s *TrackingService) publish(ctx context.Context, userID uuid.UUID, msgs []models.WSMessage) {
	if s.events == nil {
		return
	}
	for _, msg := range msgs {
		if err := s.events.Publish(ctx, userID, msg); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("type", msg.Type).Msg("failed to publish tracking event")
		}
	}
}

func closedMessages(session *models.Session, events []*models.PageEvent) []models.WSMessage {
	msgs := make([]models.WSMessage, 0, len(events)+1)
	for _, e := range events {
		msgs = append(msgs, models.WSMessage{Type: models.EventPageEventClosed, Payload: *e})
	}
	return append(msgs, models.WSMessage{Type: models.EventSessionClosed, Payload: *session})
}
