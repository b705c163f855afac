package course

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"time"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/media"
	"github.com/trezcool/atelier/core/user"
)

var (
	// errors
	ErrNotFound          = core.NewNotFound("course")
	ErrHasSubscribers    = core.NewValidationError(errors.New("a course with subscribers cannot be deleted"))
	ErrAlreadySubscribed = core.NewValidationError(errors.New("already subscribed to this course"))
	ErrSharingDisabled   = core.NewServiceError("course sharing is not configured")
	errNotCreator        = core.NewAccessDenied("only creators can publish courses")
	errNotCourseManager  = core.NewAccessDenied("only the course creator can do this")
	allowedIntroKinds    = []media.Kind{media.KindImage, media.KindVideo}
	courseOrderingFields = []string{"title", "price", "created_at", "updated_at"}
)

type (
	// LinkData describes the deep link of a shared course.
	LinkData struct {
		CourseID    string
		Title       string
		Description string
		ImageURL    string
	}

	// DeepLinker creates shareable deep links.
	DeepLinker interface {
		CreateLink(ctx context.Context, data LinkData) (string, error)
	}

	MediaStore interface {
		Process(ctx context.Context, fh *multipart.FileHeader, allowed ...media.Kind) (media.Media, error)
		Delete(m media.Media)
	}

	Service struct {
		repo            Repository
		store           MediaStore
		linker          DeepLinker // optional
		logger          core.Logger
		defaultCurrency string
	}
)

func NewService(conf *core.Config, repo Repository, store MediaStore, linker DeepLinker, logger core.Logger) *Service {
	return &Service{
		repo:            repo,
		store:           store,
		linker:          linker,
		logger:          logger,
		defaultCurrency: conf.Billing.DefaultCurrency,
	}
}

func (svc *Service) Create(ctx context.Context, creator user.User, nc NewCourse) (Course, error) {
	if creator.IsDisabled {
		return Course{}, core.NewUserDisabled()
	}
	if !(creator.IsCreator() || creator.IsAdmin()) {
		return Course{}, errNotCreator
	}

	currency := nc.Currency
	if currency == "" {
		currency = creator.Currency
	}
	if currency == "" {
		currency = svc.defaultCurrency
	}

	now := time.Now().UTC()
	return svc.repo.CreateCourse(ctx, Course{
		ID:          core.NewID(),
		Title:       nc.Title,
		Description: nc.Description,
		Price:       nc.Price,
		Currency:    currency,
		Discount:    nc.Discount,
		CreatorID:   creator.ID,
		Attachments: []media.Media{},
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (svc *Service) Get(ctx context.Context, id string) (Course, error) {
	if !core.IsValidID(id) {
		return Course{}, ErrNotFound
	}
	return svc.repo.GetCourseByID(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Course, error) {
	return svc.repo.QueryCourses(ctx, filter, core.AllowedOrderings(ordering, courseOrderingFields...))
}

// getManaged loads the course and checks that actor may edit it.
func (svc *Service) getManaged(ctx context.Context, actor user.User, id string) (Course, error) {
	c, err := svc.Get(ctx, id)
	if err != nil {
		return Course{}, err
	}
	if !c.CanBeManagedBy(actor) {
		return Course{}, errNotCourseManager
	}
	return c, nil
}

func (svc *Service) Update(ctx context.Context, actor user.User, id string, uc UpdateCourse) (Course, error) {
	c, err := svc.getManaged(ctx, actor, id)
	if err != nil {
		return Course{}, err
	}
	if uc.Title != nil {
		c.Title = *uc.Title
	}
	if uc.Description != nil {
		c.Description = *uc.Description
	}
	if uc.Price != nil {
		c.Price = *uc.Price
	}
	if uc.Discount != nil {
		c.Discount = *uc.Discount
	}
	c.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateCourse(ctx, c)
}

// Delete soft deletes the course and removes its media files.
func (svc *Service) Delete(ctx context.Context, actor user.User, id string) error {
	c, err := svc.getManaged(ctx, actor, id)
	if err != nil {
		return err
	}
	if len(c.Subscribers) > 0 {
		return ErrHasSubscribers
	}

	c.IsDeleted = true
	c.UpdatedAt = time.Now().UTC()
	if _, err = svc.repo.UpdateCourse(ctx, c); err != nil {
		return err
	}

	if c.Intro != nil {
		svc.store.Delete(*c.Intro)
	}
	for _, at := range c.Attachments {
		svc.store.Delete(at)
	}
	return nil
}

// SetIntro replaces the course intro with an uploaded image or video.
func (svc *Service) SetIntro(ctx context.Context, actor user.User, id string, fh *multipart.FileHeader) (Course, error) {
	c, err := svc.getManaged(ctx, actor, id)
	if err != nil {
		return Course{}, err
	}

	m, err := svc.store.Process(ctx, fh, allowedIntroKinds...)
	if err != nil {
		return Course{}, err
	}

	old := c.Intro
	c.Intro = &m
	c.UpdatedAt = time.Now().UTC()
	if c, err = svc.repo.UpdateCourse(ctx, c); err != nil {
		svc.store.Delete(m)
		return Course{}, err
	}
	if old != nil {
		svc.store.Delete(*old)
	}
	return c, nil
}

// AddAttachment attaches an uploaded file of any kind to the course.
func (svc *Service) AddAttachment(ctx context.Context, actor user.User, id string, fh *multipart.FileHeader) (Course, error) {
	c, err := svc.getManaged(ctx, actor, id)
	if err != nil {
		return Course{}, err
	}

	m, err := svc.store.Process(ctx, fh)
	if err != nil {
		return Course{}, err
	}

	c.Attachments = append(c.Attachments, m)
	c.UpdatedAt = time.Now().UTC()
	if c, err = svc.repo.UpdateCourse(ctx, c); err != nil {
		svc.store.Delete(m)
		return Course{}, err
	}
	return c, nil
}

// Share creates the deep link of the course once and keeps it.
func (svc *Service) Share(ctx context.Context, actor user.User, id string) (Course, error) {
	c, err := svc.Get(ctx, id)
	if err != nil {
		return Course{}, err
	}
	if c.ShareURL != "" {
		return c, nil
	}
	if svc.linker == nil {
		return Course{}, ErrSharingDisabled
	}

	data := LinkData{CourseID: c.ID, Title: c.Title, Description: c.Description}
	if c.Intro != nil {
		data.ImageURL = c.Intro.URL
		if c.Intro.ThumbnailURL != "" {
			data.ImageURL = c.Intro.ThumbnailURL
		}
	}
	link, err := svc.linker.CreateLink(ctx, data)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("creating share link: %v", err), err, actor)
		return Course{}, core.NewServiceError("could not create share link")
	}

	c.ShareURL = link
	c.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateCourse(ctx, c)
}
