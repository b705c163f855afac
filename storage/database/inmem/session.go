package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/session"
)

type sessionRepository struct {
	db *DB
}

var _ session.Repository = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(db *DB) session.Repository {
	return &sessionRepository{db: db}
}

func (repo *sessionRepository) CreateSession(ctx context.Context, s session.LiveSession) (session.LiveSession, error) {
	defer repo.db.lockTx(ctx)()
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if s.ID == "" {
		s.ID = core.NewID()
	}
	s = cloneSession(s)
	repo.db.sessions[s.ID] = &s
	return cloneSession(s), nil
}

func (repo *sessionRepository) GetSessionByID(_ context.Context, id string) (session.LiveSession, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	s, ok := repo.db.sessions[id]
	if !ok {
		return session.LiveSession{}, session.ErrNotFound
	}
	return cloneSession(*s), nil
}

func (repo *sessionRepository) list(keep func(s *session.LiveSession) bool) []session.LiveSession {
	sessions := make([]session.LiveSession, 0)
	for _, s := range repo.db.sessions {
		if keep(s) {
			sessions = append(sessions, cloneSession(*s))
		}
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartsAt.Before(sessions[j].StartsAt) })
	return sessions
}

func (repo *sessionRepository) QuerySessionsByCourse(_ context.Context, courseID string) ([]session.LiveSession, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	return repo.list(func(s *session.LiveSession) bool { return s.CourseID == courseID }), nil
}

func (repo *sessionRepository) QueryStaleSessions(_ context.Context, startedBefore time.Time) ([]session.LiveSession, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	return repo.list(func(s *session.LiveSession) bool {
		return s.Status == session.StatusStarted && s.StartedAt != nil && s.StartedAt.Before(startedBefore)
	}), nil
}

func (repo *sessionRepository) UpdateStatus(ctx context.Context, id string, from, to session.Status, at time.Time) (session.LiveSession, error) {
	defer repo.db.lockTx(ctx)()
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	s, ok := repo.db.sessions[id]
	if !ok {
		return session.LiveSession{}, session.ErrNotFound
	}
	if s.Status != from {
		return session.LiveSession{}, session.ErrStatusConflict
	}

	s.Status = to
	s.UpdatedAt = at
	switch to {
	case session.StatusStarted:
		s.StartedAt = &at
	case session.StatusFinished:
		s.FinishedAt = &at
	}
	return cloneSession(*s), nil
}

func (repo *sessionRepository) AddParticipant(ctx context.Context, id, userID string) (session.LiveSession, error) {
	defer repo.db.lockTx(ctx)()
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	s, ok := repo.db.sessions[id]
	if !ok {
		return session.LiveSession{}, session.ErrNotFound
	}
	if !s.HasParticipant(userID) {
		s.Participants = append(s.Participants, userID)
	}
	return cloneSession(*s), nil
}

func (repo *sessionRepository) RemoveParticipant(ctx context.Context, id, userID string) (session.LiveSession, error) {
	defer repo.db.lockTx(ctx)()
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	s, ok := repo.db.sessions[id]
	if !ok {
		return session.LiveSession{}, session.ErrNotFound
	}
	participants := s.Participants[:0]
	for _, p := range s.Participants {
		if p != userID {
			participants = append(participants, p)
		}
	}
	s.Participants = participants
	return cloneSession(*s), nil
}
