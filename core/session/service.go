package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/course"
	"github.com/trezcool/atelier/core/user"
)

const defaultForceReason = "the session was closed by an administrator"

var (
	// errors
	ErrNotFound       = core.NewNotFound("session")
	ErrStatusConflict = errors.New("session status changed concurrently")

	errNotHost       = core.NewAccessDenied("only the course creator can run its sessions")
	errForceNotAdmin = core.NewAccessDenied("only admins can force a session to finish")
	errNotSubscribed = core.NewAccessDenied("subscribe to the course to join its sessions")
	errFinished      = core.NewValidationError(errors.New("session is finished"))
)

type (
	// Courses looks courses up for authorization.
	Courses interface {
		GetCourseByID(ctx context.Context, id string) (course.Course, error)
	}

	Service struct {
		repo        Repository
		courses     Courses
		broadcaster Broadcaster
		logger      core.Logger
		now         func() time.Time // mockable
	}
)

func NewService(repo Repository, courses Courses, broadcaster Broadcaster, logger core.Logger) *Service {
	return &Service{
		repo:        repo,
		courses:     courses,
		broadcaster: broadcaster,
		logger:      logger,
		now:         time.Now,
	}
}

func transitionError(from, to Status) error {
	return core.NewValidationError(fmt.Errorf("session cannot go from %s to %s", from, to))
}

func (svc *Service) Create(ctx context.Context, actor user.User, courseID string, ns NewSession) (LiveSession, error) {
	if !core.IsValidID(courseID) {
		return LiveSession{}, course.ErrNotFound
	}
	c, err := svc.courses.GetCourseByID(ctx, courseID)
	if err != nil {
		return LiveSession{}, err
	}
	if !c.CanBeManagedBy(actor) {
		return LiveSession{}, errNotHost
	}

	now := svc.now().UTC()
	return svc.repo.CreateSession(ctx, LiveSession{
		ID:           core.NewID(),
		CourseID:     c.ID,
		Title:        ns.Title,
		StartsAt:     ns.StartsAt.UTC(),
		Status:       StatusNotStarted,
		Participants: []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

func (svc *Service) Get(ctx context.Context, id string) (LiveSession, error) {
	if !core.IsValidID(id) {
		return LiveSession{}, ErrNotFound
	}
	return svc.repo.GetSessionByID(ctx, id)
}

func (svc *Service) ListByCourse(ctx context.Context, courseID string) ([]LiveSession, error) {
	if !core.IsValidID(courseID) {
		return nil, course.ErrNotFound
	}
	if _, err := svc.courses.GetCourseByID(ctx, courseID); err != nil {
		return nil, err
	}
	return svc.repo.QuerySessionsByCourse(ctx, courseID)
}

// load returns the session and its course.
func (svc *Service) load(ctx context.Context, id string) (LiveSession, course.Course, error) {
	s, err := svc.Get(ctx, id)
	if err != nil {
		return LiveSession{}, course.Course{}, err
	}
	c, err := svc.courses.GetCourseByID(ctx, s.CourseID)
	if err != nil {
		return LiveSession{}, course.Course{}, err
	}
	return s, c, nil
}

// Start opens the session and notifies its room.
func (svc *Service) Start(ctx context.Context, actor user.User, id string) (LiveSession, error) {
	s, c, err := svc.load(ctx, id)
	if err != nil {
		return LiveSession{}, err
	}
	if !c.CanBeManagedBy(actor) {
		return LiveSession{}, errNotHost
	}

	s, err = svc.transition(ctx, s, StatusStarted)
	if err != nil {
		return LiveSession{}, err
	}
	svc.broadcastStatus(s, EventStarted)
	return s, nil
}

// Finish closes the session and notifies its room.
// The forced path, reserved to admins, first logs the host out of the session.
func (svc *Service) Finish(ctx context.Context, actor user.User, id string, req FinishRequest) (LiveSession, error) {
	s, c, err := svc.load(ctx, id)
	if err != nil {
		return LiveSession{}, err
	}

	if req.Force {
		if !actor.IsAdmin() {
			return LiveSession{}, errForceNotAdmin
		}
		if !s.Status.CanTransitionTo(StatusFinished) {
			return LiveSession{}, transitionError(s.Status, StatusFinished)
		}
		reason := req.Reason
		if reason == "" {
			reason = defaultForceReason
		}
		svc.broadcaster.SendToUser(c.CreatorID, EventForceLogout, ForceLogoutPayload{SessionID: s.ID, Reason: reason})
		svc.logger.Info(fmt.Sprintf("session %s forced to finish", s.ID), actor)
	} else if !c.CanBeManagedBy(actor) {
		return LiveSession{}, errNotHost
	}

	s, err = svc.transition(ctx, s, StatusFinished)
	if err != nil {
		return LiveSession{}, err
	}
	svc.broadcastStatus(s, EventFinished)
	return s, nil
}

// CanListen tells whether actor may follow the realtime events of the session.
func (svc *Service) CanListen(ctx context.Context, actor user.User, id string) error {
	_, c, err := svc.load(ctx, id)
	if err != nil {
		return err
	}
	if actor.IsDisabled {
		return core.NewUserDisabled()
	}
	if !(c.CanBeManagedBy(actor) || c.IsSubscribed(actor.ID)) {
		return errNotSubscribed
	}
	return nil
}

// Join adds actor to the participants of a session that is not finished.
func (svc *Service) Join(ctx context.Context, actor user.User, id string) (LiveSession, error) {
	s, c, err := svc.load(ctx, id)
	if err != nil {
		return LiveSession{}, err
	}
	if actor.IsDisabled {
		return LiveSession{}, core.NewUserDisabled()
	}
	if !(c.CanBeManagedBy(actor) || c.IsSubscribed(actor.ID)) {
		return LiveSession{}, errNotSubscribed
	}
	if s.Status == StatusFinished {
		return LiveSession{}, errFinished
	}
	if s.HasParticipant(actor.ID) {
		return s, nil
	}

	if s, err = svc.repo.AddParticipant(ctx, s.ID, actor.ID); err != nil {
		return LiveSession{}, err
	}
	svc.broadcaster.BroadcastToRoom(s.Room(), EventJoined, ParticipantPayload{
		SessionID:    s.ID,
		UserID:       actor.ID,
		Participants: s.Participants,
	})
	return s, nil
}

func (svc *Service) Leave(ctx context.Context, actor user.User, id string) (LiveSession, error) {
	s, err := svc.Get(ctx, id)
	if err != nil {
		return LiveSession{}, err
	}
	if !s.HasParticipant(actor.ID) {
		return s, nil
	}

	if s, err = svc.repo.RemoveParticipant(ctx, s.ID, actor.ID); err != nil {
		return LiveSession{}, err
	}
	svc.broadcaster.BroadcastToRoom(s.Room(), EventLeft, ParticipantPayload{
		SessionID:    s.ID,
		UserID:       actor.ID,
		Participants: s.Participants,
	})
	return s, nil
}

// FinishStale finishes the sessions left started for longer than maxDuration.
func (svc *Service) FinishStale(ctx context.Context, maxDuration time.Duration) (int, error) {
	stale, err := svc.repo.QueryStaleSessions(ctx, svc.now().Add(-maxDuration).UTC())
	if err != nil {
		return 0, err
	}

	var count int
	for _, s := range stale {
		finished, err := svc.transition(ctx, s, StatusFinished)
		if err != nil {
			svc.logger.Warn(fmt.Sprintf("finishing stale session %s: %v", s.ID, err), err)
			continue
		}
		svc.broadcastStatus(finished, EventFinished)
		count++
	}
	return count, nil
}

func (svc *Service) transition(ctx context.Context, s LiveSession, to Status) (LiveSession, error) {
	if !s.Status.CanTransitionTo(to) {
		return LiveSession{}, transitionError(s.Status, to)
	}
	updated, err := svc.repo.UpdateStatus(ctx, s.ID, s.Status, to, svc.now().UTC())
	if err != nil {
		if err == ErrStatusConflict {
			return LiveSession{}, transitionError(s.Status, to)
		}
		return LiveSession{}, err
	}
	return updated, nil
}

func (svc *Service) broadcastStatus(s LiveSession, event string) {
	svc.broadcaster.BroadcastToRoom(s.Room(), event, StatusPayload{
		Session:      s,
		ServerTime:   svc.now().UTC(),
		Participants: s.Participants,
		Status:       s.Status,
	})
}
