package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/course"
	"github.com/trezcool/atelier/core/media"
	"github.com/trezcool/atelier/core/user"
)

const courseColumns = `c.id, c.title, c.description, c.price, c.currency, c.discount, c.creator_id, c.earnings,
	c.intro, c.attachments, c.share_url, c.is_deleted, c.created_at, c.updated_at,
	COALESCE((SELECT array_agg(s.user_id::text) FROM course_subscribers s WHERE s.course_id = c.id), '{}') AS subscribers`

var courseOrderings = map[string]string{
	"title":      "c.title",
	"price":      "c.price",
	"created_at": "c.created_at",
	"updated_at": "c.updated_at",
}

type courseRow struct {
	ID          string             `db:"id"`
	Title       string             `db:"title"`
	Description string             `db:"description"`
	Price       decimal.Decimal    `db:"price"`
	Currency    string             `db:"currency"`
	Discount    int                `db:"discount"`
	CreatorID   string             `db:"creator_id"`
	Earnings    decimal.Decimal    `db:"earnings"`
	Intro       types.NullJSONText `db:"intro"`
	Attachments types.JSONText     `db:"attachments"`
	ShareURL    string             `db:"share_url"`
	IsDeleted   bool               `db:"is_deleted"`
	CreatedAt   time.Time          `db:"created_at"`
	UpdatedAt   time.Time          `db:"updated_at"`
	Subscribers pq.StringArray     `db:"subscribers"`
}

func (r courseRow) toCourse() (course.Course, error) {
	c := course.Course{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Price:       r.Price,
		Currency:    r.Currency,
		Discount:    r.Discount,
		CreatorID:   r.CreatorID,
		Earnings:    r.Earnings,
		ShareURL:    r.ShareURL,
		IsDeleted:   r.IsDeleted,
		Subscribers: []string(r.Subscribers),
		Attachments: []media.Media{},
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if r.Intro.Valid {
		var intro media.Media
		if err := r.Intro.Unmarshal(&intro); err != nil {
			return course.Course{}, errors.Wrap(err, "decoding course intro")
		}
		c.Intro = &intro
	}
	if len(r.Attachments) > 0 {
		if err := r.Attachments.Unmarshal(&c.Attachments); err != nil {
			return course.Course{}, errors.Wrap(err, "decoding course attachments")
		}
	}
	return c, nil
}

func mediaJSON(c course.Course) (types.NullJSONText, types.JSONText, error) {
	var intro types.NullJSONText
	if c.Intro != nil {
		raw, err := json.Marshal(c.Intro)
		if err != nil {
			return intro, nil, err
		}
		intro = types.NullJSONText{JSONText: raw, Valid: true}
	}
	attachments := c.Attachments
	if attachments == nil {
		attachments = []media.Media{}
	}
	raw, err := json.Marshal(attachments)
	return intro, raw, err
}

type courseRepository struct {
	db    *sqlx.DB
	users user.Repository
}

var _ course.Repository = (*courseRepository)(nil) // interface compliance check

func NewCourseRepository(db *sqlx.DB, users user.Repository) course.Repository {
	return &courseRepository{db: db, users: users}
}

func (repo *courseRepository) CreateCourse(ctx context.Context, c course.Course) (course.Course, error) {
	ex, _ := executor(ctx, repo.db)
	if c.ID == "" {
		c.ID = core.NewID()
	}
	intro, attachments, err := mediaJSON(c)
	if err != nil {
		return course.Course{}, err
	}

	_, err = ex.ExecContext(ctx,
		`INSERT INTO courses (id, title, description, price, currency, discount, creator_id, intro, attachments, share_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.Title, c.Description, c.Price, c.Currency, c.Discount, c.CreatorID,
		intro, attachments, c.ShareURL, c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	if err != nil {
		return course.Course{}, errors.Wrap(err, "inserting course")
	}
	return repo.GetCourseByID(ctx, c.ID)
}

func (repo *courseRepository) GetCourseByID(ctx context.Context, id string) (course.Course, error) {
	if !core.IsValidID(id) {
		return course.Course{}, course.ErrNotFound
	}
	ex, _ := executor(ctx, repo.db)

	var row courseRow
	err := sqlx.GetContext(ctx, ex, &row,
		"SELECT "+courseColumns+" FROM courses c WHERE c.id = $1 AND NOT c.is_deleted", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return course.Course{}, course.ErrNotFound
		}
		return course.Course{}, errors.Wrap(err, "getting course")
	}
	return row.toCourse()
}

func (repo *courseRepository) GetCourseWithCreator(ctx context.Context, id string) (course.Course, error) {
	c, err := repo.GetCourseByID(ctx, id)
	if err != nil {
		return course.Course{}, err
	}
	creator, err := repo.users.GetUserByID(ctx, c.CreatorID)
	if err != nil && err != user.ErrNotFound {
		return course.Course{}, err
	}
	if err == nil {
		c.Creator = &creator
	}
	return c, nil
}

func (repo *courseRepository) QueryCourses(ctx context.Context, filter *course.QueryFilter, ordering []core.DBOrdering) ([]course.Course, error) {
	ex, _ := executor(ctx, repo.db)

	where := []string{"NOT c.is_deleted"}
	var args []interface{}
	if filter != nil {
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			where = append(where, "(c.title ILIKE ? OR c.description ILIKE ?)")
			args = append(args, val, val)
		}
		if filter.CreatorID != "" {
			where = append(where, "c.creator_id::text = ?")
			args = append(args, filter.CreatorID)
		}
		if filter.MinPrice != nil {
			where = append(where, "c.price >= ?")
			args = append(args, *filter.MinPrice)
		}
		if filter.MaxPrice != nil {
			where = append(where, "c.price <= ?")
			args = append(args, *filter.MaxPrice)
		}
		if filter.SubscriberID != "" {
			where = append(where, "EXISTS (SELECT 1 FROM course_subscribers s WHERE s.course_id = c.id AND s.user_id::text = ?)")
			args = append(args, filter.SubscriberID)
		}
	}

	q := "SELECT " + courseColumns + " FROM courses c WHERE " + strings.Join(where, " AND ") +
		orderBy(ordering, courseOrderings, "c.created_at DESC")

	var rows []courseRow
	if err := sqlx.SelectContext(ctx, ex, &rows, ex.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}
	courses := make([]course.Course, 0, len(rows))
	for _, r := range rows {
		c, err := r.toCourse()
		if err != nil {
			return nil, err
		}
		courses = append(courses, c)
	}
	return courses, nil
}

func (repo *courseRepository) UpdateCourse(ctx context.Context, c course.Course) (course.Course, error) {
	ex, _ := executor(ctx, repo.db)
	intro, attachments, err := mediaJSON(c)
	if err != nil {
		return course.Course{}, err
	}

	res, err := ex.ExecContext(ctx,
		`UPDATE courses SET title = $2, description = $3, price = $4, discount = $5, intro = $6, attachments = $7,
			share_url = $8, is_deleted = $9, updated_at = $10
		WHERE id = $1 AND NOT is_deleted`,
		c.ID, c.Title, c.Description, c.Price, c.Discount, intro, attachments, c.ShareURL, c.IsDeleted, c.UpdatedAt.UTC())
	if err != nil {
		return course.Course{}, errors.Wrap(err, "updating course")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return course.Course{}, course.ErrNotFound
	}
	if c.IsDeleted {
		return c, nil
	}
	return repo.GetCourseByID(ctx, c.ID)
}

func (repo *courseRepository) AddSubscriber(ctx context.Context, courseID, userID string, earnings decimal.Decimal) error {
	if !core.IsValidID(courseID) {
		return course.ErrNotFound
	}
	ex, _ := executor(ctx, repo.db)

	res, err := ex.ExecContext(ctx,
		`WITH ins AS (
			INSERT INTO course_subscribers (course_id, user_id)
			SELECT $1::uuid, $2::uuid WHERE EXISTS (SELECT 1 FROM courses WHERE id = $1::uuid AND NOT is_deleted)
			ON CONFLICT DO NOTHING
			RETURNING course_id
		)
		UPDATE courses SET earnings = earnings + $3 WHERE id IN (SELECT course_id FROM ins)`,
		courseID, userID, earnings)
	if err != nil {
		return errors.Wrap(err, "adding subscriber")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err = repo.GetCourseByID(ctx, courseID); err != nil {
			return err
		}
		return course.ErrAlreadySubscribed
	}
	return nil
}
