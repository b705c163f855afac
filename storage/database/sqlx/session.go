package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/session"
)

const sessionColumns = `ls.id, ls.course_id, ls.title, ls.starts_at, ls.status, ls.started_at, ls.finished_at,
	ls.created_at, ls.updated_at,
	COALESCE((SELECT array_agg(p.user_id::text ORDER BY p.joined_at) FROM session_participants p WHERE p.session_id = ls.id), '{}') AS participants`

type sessionRow struct {
	ID           string         `db:"id"`
	CourseID     string         `db:"course_id"`
	Title        string         `db:"title"`
	StartsAt     time.Time      `db:"starts_at"`
	Status       string         `db:"status"`
	StartedAt    sql.NullTime   `db:"started_at"`
	FinishedAt   sql.NullTime   `db:"finished_at"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	Participants pq.StringArray `db:"participants"`
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}

func (r sessionRow) toSession() session.LiveSession {
	return session.LiveSession{
		ID:           r.ID,
		CourseID:     r.CourseID,
		Title:        r.Title,
		StartsAt:     r.StartsAt.UTC(),
		Status:       session.Status(r.Status),
		Participants: []string(r.Participants),
		StartedAt:    timePtr(r.StartedAt),
		FinishedAt:   timePtr(r.FinishedAt),
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

type sessionRepository struct {
	db *sqlx.DB
}

var _ session.Repository = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(db *sqlx.DB) session.Repository {
	return &sessionRepository{db: db}
}

func (repo *sessionRepository) CreateSession(ctx context.Context, s session.LiveSession) (session.LiveSession, error) {
	ex, _ := executor(ctx, repo.db)
	if s.ID == "" {
		s.ID = core.NewID()
	}
	_, err := ex.ExecContext(ctx,
		`INSERT INTO live_sessions (id, course_id, title, starts_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.CourseID, s.Title, s.StartsAt.UTC(), string(s.Status), s.CreatedAt.UTC(), s.UpdatedAt.UTC())
	if err != nil {
		return session.LiveSession{}, errors.Wrap(err, "inserting session")
	}
	return repo.GetSessionByID(ctx, s.ID)
}

func (repo *sessionRepository) GetSessionByID(ctx context.Context, id string) (session.LiveSession, error) {
	if !core.IsValidID(id) {
		return session.LiveSession{}, session.ErrNotFound
	}
	ex, _ := executor(ctx, repo.db)

	var row sessionRow
	if err := sqlx.GetContext(ctx, ex, &row, "SELECT "+sessionColumns+" FROM live_sessions ls WHERE ls.id = $1", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.LiveSession{}, session.ErrNotFound
		}
		return session.LiveSession{}, errors.Wrap(err, "getting session")
	}
	return row.toSession(), nil
}

func (repo *sessionRepository) list(ctx context.Context, where string, args ...interface{}) ([]session.LiveSession, error) {
	ex, _ := executor(ctx, repo.db)

	var rows []sessionRow
	q := "SELECT " + sessionColumns + " FROM live_sessions ls WHERE " + where + " ORDER BY ls.starts_at ASC"
	if err := sqlx.SelectContext(ctx, ex, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying sessions")
	}
	sessions := make([]session.LiveSession, 0, len(rows))
	for _, r := range rows {
		sessions = append(sessions, r.toSession())
	}
	return sessions, nil
}

func (repo *sessionRepository) QuerySessionsByCourse(ctx context.Context, courseID string) ([]session.LiveSession, error) {
	return repo.list(ctx, "ls.course_id = $1", courseID)
}

func (repo *sessionRepository) QueryStaleSessions(ctx context.Context, startedBefore time.Time) ([]session.LiveSession, error) {
	return repo.list(ctx, "ls.status = $1 AND ls.started_at < $2", string(session.StatusStarted), startedBefore.UTC())
}

func (repo *sessionRepository) UpdateStatus(ctx context.Context, id string, from, to session.Status, at time.Time) (session.LiveSession, error) {
	ex, _ := executor(ctx, repo.db)

	res, err := ex.ExecContext(ctx,
		`UPDATE live_sessions SET
			status = $3::varchar,
			updated_at = $4,
			started_at = CASE WHEN $3::varchar = 'started' THEN $4 ELSE started_at END,
			finished_at = CASE WHEN $3::varchar = 'finished' THEN $4 ELSE finished_at END
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to), at.UTC())
	if err != nil {
		return session.LiveSession{}, errors.Wrap(err, "updating session status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err = repo.GetSessionByID(ctx, id); err != nil {
			return session.LiveSession{}, err
		}
		return session.LiveSession{}, session.ErrStatusConflict
	}
	return repo.GetSessionByID(ctx, id)
}

func (repo *sessionRepository) AddParticipant(ctx context.Context, id, userID string) (session.LiveSession, error) {
	ex, _ := executor(ctx, repo.db)
	_, err := ex.ExecContext(ctx,
		"INSERT INTO session_participants (session_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		id, userID)
	if err != nil {
		return session.LiveSession{}, errors.Wrap(err, "adding participant")
	}
	return repo.GetSessionByID(ctx, id)
}

func (repo *sessionRepository) RemoveParticipant(ctx context.Context, id, userID string) (session.LiveSession, error) {
	ex, _ := executor(ctx, repo.db)
	_, err := ex.ExecContext(ctx, "DELETE FROM session_participants WHERE session_id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return session.LiveSession{}, errors.Wrap(err, "removing participant")
	}
	return repo.GetSessionByID(ctx, id)
}
