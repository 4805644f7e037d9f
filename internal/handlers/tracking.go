package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"invoicing-backend/internal/middleware"
	"invoicing-backend/internal/models"
)

type trackingService interface {
	StartOrResumeSession(ctx context.Context, userID uuid.UUID, sessionID, rawStart string) (*models.Session, bool, error)
	EndSession(ctx context.Context, userID uuid.UUID, sessionID, rawEnd string) (*models.Session, error)
	Heartbeat(ctx context.Context, userID uuid.UUID, sessionID, rawTimestamp string) (*models.Session, error)
	StartPageEvent(ctx context.Context, userID uuid.UUID, sessionID, page, rawStart string) (*models.PageEvent, error)
	EndPageEvent(ctx context.Context, userID uuid.UUID, sessionID, page, rawEnd string, clientDuration *int) (*models.PageEvent, error)
	ListSessions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Session, error)
	ListPageEvents(ctx context.Context, userID uuid.UUID, sessionID string) ([]*models.PageEvent, error)
}

type TrackingHandler struct {
	tracking trackingService
}

func NewTrackingHandler(tracking trackingService) *TrackingHandler {
	return &TrackingHandler{tracking: tracking}
}

// SessionStart answers 201 for a new session and 200 when an existing row was
// resumed or reset.
func (h *TrackingHandler) SessionStart(w http.ResponseWriter, r *http.Request) {
	var req models.StartSessionRequest
	if err := decodeRequest(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	userID := middleware.GetUserID(r.Context())
	log.Ctx(r.Context()).Info().Str("session_id", req.SessionID).Str("start_time", req.StartTime).Msg("session start")

	session, created, err := h.tracking.StartOrResumeSession(r.Context(), userID, req.SessionID, req.StartTime)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, session)
}

func (h *TrackingHandler) SessionEnd(w http.ResponseWriter, r *http.Request) {
	var req models.EndSessionRequest
	if err := decodeRequest(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	userID := middleware.GetUserID(r.Context())
	session, err := h.tracking.EndSession(r.Context(), userID, req.SessionID, req.EndTime)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func (h *TrackingHandler) Ping(w http.ResponseWriter, r *http.Request) {
	var req models.HeartbeatRequest
	if err := decodeRequest(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	userID := middleware.GetUserID(r.Context())
	session, err := h.tracking.Heartbeat(r.Context(), userID, req.SessionID, req.Timestamp)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func (h *TrackingHandler) EventStart(w http.ResponseWriter, r *http.Request) {
	var req models.StartPageEventRequest
	if err := decodeRequest(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	userID := middleware.GetUserID(r.Context())
	event, err := h.tracking.StartPageEvent(r.Context(), userID, req.SessionID, req.Page, req.StartTime)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

func (h *TrackingHandler) EventEnd(w http.ResponseWriter, r *http.Request) {
	var req models.EndPageEventRequest
	if err := decodeRequest(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	userID := middleware.GetUserID(r.Context())
	event, err := h.tracking.EndPageEvent(r.Context(), userID, req.SessionID, req.Page, req.EndTime, req.Duration.Int())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, event)
}

func (h *TrackingHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	limit, offset := pagination(r, 20, 100)

	sessions, err := h.tracking.ListSessions(r.Context(), userID, limit, offset)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"limit":    limit,
		"offset":   offset,
	})
}

func (h *TrackingHandler) ListPageEvents(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	events, err := h.tracking.ListPageEvents(r.Context(), userID, sessionID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"events":     events,
	})
}
