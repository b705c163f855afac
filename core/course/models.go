package course

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/media"
	"github.com/trezcool/atelier/core/user"
)

type Course struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	Discount    int             `json:"discount"` // percent
	CreatorID   string          `json:"creator_id"`
	Creator     *user.User      `json:"creator,omitempty"`
	Subscribers []string        `json:"-"`
	Earnings    decimal.Decimal `json:"-"`
	Intro       *media.Media    `json:"intro,omitempty"`
	Attachments []media.Media   `json:"attachments"`
	ShareURL    string          `json:"share_url,omitempty"`
	IsDeleted   bool            `json:"-"`
	CreatedAt   time.Time       `json:"created_at"` // UTC
	UpdatedAt   time.Time       `json:"updated_at"` // UTC
}

func (c *Course) IsSubscribed(userID string) bool {
	for _, id := range c.Subscribers {
		if id == userID {
			return true
		}
	}
	return false
}

// FinalPrice is the price once the discount is applied, rounded to the currency precision.
func (c *Course) FinalPrice() decimal.Decimal {
	if c.Discount <= 0 {
		return core.RoundAmount(c.Price, c.Currency)
	}
	rate := decimal.NewFromInt(int64(100 - c.Discount)).Div(decimal.NewFromInt(100))
	return core.RoundAmount(c.Price.Mul(rate), c.Currency)
}

// CanBeManagedBy reports whether usr may edit the course.
func (c *Course) CanBeManagedBy(usr user.User) bool {
	return usr.IsAdmin() || (usr.ID != "" && usr.ID == c.CreatorID)
}

// NewCourse contains information needed to create a new Course.
type NewCourse struct {
	Title       string          `json:"title" validate:"required,notblank,max=255"`
	Description string          `json:"description" validate:"max=10000"`
	Price       decimal.Decimal `json:"price" validate:"gte=0"`
	Currency    string          `json:"currency" validate:"omitempty,currency"`
	Discount    int             `json:"discount" validate:"gte=0,lte=100"`
}

func (nc *NewCourse) Validate(validate *validator.Validate) error {
	nc.Title = core.CleanString(nc.Title)
	nc.Description = core.CleanString(nc.Description)
	nc.Currency = core.CleanString(nc.Currency, true /* lower */)
	return validate.Struct(nc)
}

// UpdateCourse defines what information may be provided to modify an existing Course.
type UpdateCourse struct {
	Title       *string          `json:"title" validate:"omitempty,notblank,max=255"`
	Description *string          `json:"description" validate:"omitempty,max=10000"`
	Price       *decimal.Decimal `json:"price" validate:"omitempty,gte=0"`
	Discount    *int             `json:"discount" validate:"omitempty,gte=0,lte=100"`
}

func (uc *UpdateCourse) Validate(validate *validator.Validate) error {
	if uc.Title != nil {
		t := core.CleanString(*uc.Title)
		uc.Title = &t
	}
	if uc.Description != nil {
		d := core.CleanString(*uc.Description)
		uc.Description = &d
	}
	return validate.Struct(uc)
}

type QueryFilter struct {
	Search    string           `query:"search"`
	CreatorID string           `query:"creator"`
	MinPrice  *decimal.Decimal `query:"-"`
	MaxPrice  *decimal.Decimal `query:"-"`
	// SubscriberID restricts to the courses the user subscribed to
	SubscriberID string `query:"-"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.CreatorID = core.CleanString(qf.CreatorID)
}

// Repository persists courses. Getters never return soft-deleted courses.
type Repository interface {
	CreateCourse(ctx context.Context, c Course) (Course, error)
	GetCourseByID(ctx context.Context, id string) (Course, error)
	// GetCourseWithCreator returns the course with Creator populated.
	GetCourseWithCreator(ctx context.Context, id string) (Course, error)
	QueryCourses(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Course, error)
	UpdateCourse(ctx context.Context, c Course) (Course, error)
	// AddSubscriber adds the subscriber and increments the course earnings.
	AddSubscriber(ctx context.Context, courseID, userID string, earnings decimal.Decimal) error
}
