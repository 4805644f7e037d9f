package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

type SessionState string

const (
	SessionActive SessionState = "active"
	SessionClosed SessionState = "closed"
)

// Session is one tracked period of user presence. The client reuses SessionID across
// browser reopenings, so a closed row is reopened rather than duplicated.
type Session struct {
	ID        int64        `json:"id"`
	SessionID string       `json:"session_id"`
	UserID    uuid.UUID    `json:"user"`
	State     SessionState `json:"state"`
	StartTime time.Time    `json:"start_time"`
	EndTime   *time.Time   `json:"end_time"`
	LastPing  *time.Time   `json:"last_ping"`
	Duration  *int         `json:"duration"`
}

func (s *Session) IsActive() bool {
	return s.State == SessionActive
}

// Close sets EndTime and Duration together; it is a no-op on a closed session.
func (s *Session) Close(at time.Time) bool {
	if !s.IsActive() {
		return false
	}
	end := at
	d := WholeSeconds(s.StartTime, end)
	s.State = SessionClosed
	s.EndTime = &end
	s.Duration = &d
	return true
}

// Reopen starts a new logical session on the same row.
func (s *Session) Reopen(start time.Time) {
	begin := start
	s.State = SessionActive
	s.StartTime = begin
	s.LastPing = &begin
	s.EndTime = nil
	s.Duration = nil
}

func (s *Session) Ping(at time.Time) {
	t := at
	s.LastPing = &t
}

type PageEventState string

const (
	PageEventOpen   PageEventState = "open"
	PageEventClosed PageEventState = "closed"
)

// PageEvent is one page view inside a session.
type PageEvent struct {
	ID           int64          `json:"id"`
	SessionRowID int64          `json:"session"`
	SessionID    string         `json:"session_id"`
	UserID       uuid.UUID      `json:"user"`
	Page         string         `json:"page"`
	State        PageEventState `json:"state"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      *time.Time     `json:"end_time"`
	Duration     *int           `json:"duration"`
}

func (e *PageEvent) IsOpen() bool {
	return e.State == PageEventOpen
}

// Close ends the event at `at`. A nil duration means "compute from start_time".
func (e *PageEvent) Close(at time.Time, duration *int) bool {
	if !e.IsOpen() {
		return false
	}
	end := at
	var d int
	if duration != nil {
		d = *duration
	} else {
		d = WholeSeconds(e.StartTime, end)
	}
	e.State = PageEventClosed
	e.EndTime = &end
	e.Duration = &d
	return true
}

// WholeSeconds returns floor(end - start) in seconds, or 0 when start is unknown.
func WholeSeconds(start, end time.Time) int {
	if start.IsZero() {
		return 0
	}
	return int(math.Floor(end.Sub(start).Seconds()))
}

type StartSessionRequest struct {
	SessionID string `json:"session_id" validate:"required,max=100"`
	StartTime string `json:"start_time" validate:"required"`
}

type EndSessionRequest struct {
	SessionID string `json:"session_id" validate:"required,max=100"`
	EndTime   string `json:"end_time" validate:"required"`
}

type HeartbeatRequest struct {
	SessionID string `json:"session_id" validate:"required,max=100"`
	Timestamp string `json:"timestamp" validate:"required"`
}

type StartPageEventRequest struct {
	SessionID string `json:"session_id" validate:"required,max=100"`
	Page      string `json:"page" validate:"required,max=200"`
	StartTime string `json:"start_time" validate:"required"`
}

type EndPageEventRequest struct {
	SessionID string   `json:"session_id" validate:"required,max=100"`
	Page      string   `json:"page" validate:"required,max=200"`
	EndTime   string   `json:"end_time" validate:"required"`
	Duration  *Seconds `json:"duration"`
}
