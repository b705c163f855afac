package session

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/atelier/core"
)

type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusStarted    Status = "started"
	StatusFinished   Status = "finished"
)

// next lists the only allowed transitions.
var next = map[Status]Status{
	StatusNotStarted: StatusStarted,
	StatusStarted:    StatusFinished,
}

// CanTransitionTo reports whether a session in status s may move to to.
func (s Status) CanTransitionTo(to Status) bool {
	return next[s] == to
}

// Socket events
const (
	EventStarted     = "session:started"
	EventFinished    = "session:finished"
	EventJoined      = "session:joined"
	EventLeft        = "session:left"
	EventForceLogout = "forceLogout"
)

// LiveSession is a scheduled live meeting of a course.
type LiveSession struct {
	ID           string     `json:"id"`
	CourseID     string     `json:"course_id"`
	Title        string     `json:"title"`
	StartsAt     time.Time  `json:"starts_at"`
	Status       Status     `json:"status"`
	Participants []string   `json:"participants"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (s *LiveSession) HasParticipant(userID string) bool {
	for _, id := range s.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// Room is the broadcast room of the session.
func (s *LiveSession) Room() string {
	return Room(s.ID)
}

func Room(sessionID string) string {
	return "session:" + sessionID
}

// StatusPayload is broadcast on every status change.
type StatusPayload struct {
	Session      LiveSession `json:"session"`
	ServerTime   time.Time   `json:"server_time"`
	Participants []string    `json:"participants"`
	Status       Status      `json:"status"`
}

type ParticipantPayload struct {
	SessionID    string   `json:"session_id"`
	UserID       string   `json:"user_id"`
	Participants []string `json:"participants"`
}

type ForceLogoutPayload struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

// NewSession contains information needed to schedule a new LiveSession.
type NewSession struct {
	Title    string    `json:"title" validate:"required,notblank,max=255"`
	StartsAt time.Time `json:"starts_at" validate:"required"`
}

func (ns *NewSession) Validate(validate *validator.Validate) error {
	ns.Title = core.CleanString(ns.Title)
	return validate.Struct(ns)
}

// FinishRequest is the payload of the finish endpoint.
type FinishRequest struct {
	Force  bool   `json:"force"`
	Reason string `json:"reason" validate:"max=255"`
}

type Repository interface {
	CreateSession(ctx context.Context, s LiveSession) (LiveSession, error)
	GetSessionByID(ctx context.Context, id string) (LiveSession, error)
	QuerySessionsByCourse(ctx context.Context, courseID string) ([]LiveSession, error)
	// QueryStaleSessions returns the sessions started before startedBefore and never finished.
	QueryStaleSessions(ctx context.Context, startedBefore time.Time) ([]LiveSession, error)
	// UpdateStatus moves the session from one status to another; it fails with ErrStatusConflict if the session is not in from.
	UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) (LiveSession, error)
	AddParticipant(ctx context.Context, id, userID string) (LiveSession, error)
	RemoveParticipant(ctx context.Context, id, userID string) (LiveSession, error)
}

// Broadcaster pushes realtime events to the connected clients.
type Broadcaster interface {
	BroadcastToRoom(room, event string, payload interface{})
	SendToUser(userID, event string, payload interface{})
}
