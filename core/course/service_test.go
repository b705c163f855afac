package course_test

import (
	"context"
	"errors"
	"mime/multipart"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/course"
	"github.com/trezcool/atelier/core/media"
	"github.com/trezcool/atelier/core/user"
	inmemdb "github.com/trezcool/atelier/storage/database/inmem"
	"github.com/trezcool/atelier/testutil"
)

type fakeStore struct {
	kind    media.Kind
	deleted []string
}

func (s *fakeStore) Process(_ context.Context, fh *multipart.FileHeader, allowed ...media.Kind) (media.Media, error) {
	if len(allowed) > 0 {
		var ok bool
		for _, k := range allowed {
			ok = ok || k == s.kind
		}
		if !ok {
			return media.Media{}, core.NewValidationError(errors.New("file type not allowed"))
		}
	}
	return media.Media{Kind: s.kind, URL: "/uploads/" + string(s.kind) + "s/" + fh.Filename, Filename: fh.Filename}, nil
}

func (s *fakeStore) Delete(m media.Media) {
	s.deleted = append(s.deleted, m.URL)
}

type fakeLinker struct {
	calls int
	err   error
}

func (l *fakeLinker) CreateLink(_ context.Context, data course.LinkData) (string, error) {
	l.calls++
	if l.err != nil {
		return "", l.err
	}
	return "https://atelier.app.link/" + data.CourseID, nil
}

type env struct {
	svc     *course.Service
	users   user.Repository
	courses course.Repository
	store   *fakeStore
	linker  *fakeLinker
}

func setup(t *testing.T) *env {
	t.Helper()
	db := inmemdb.Open()
	e := &env{
		users:   inmemdb.NewUserRepository(db),
		courses: inmemdb.NewCourseRepository(db),
		store:   &fakeStore{kind: media.KindImage},
		linker:  &fakeLinker{},
	}
	e.svc = course.NewService(testutil.Config(t), e.courses, e.store, e.linker, testutil.NopLogger{})
	return e
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	creator := testutil.CreateUser(t, e.users, "Creator", "creator", "creator@example.com", "", []string{user.RoleCreator}, true)
	student := testutil.CreateUser(t, e.users, "Student", "student", "student@example.com", "", []string{user.RoleStudent}, true)
	disabled := creator
	disabled.IsDisabled = true

	nc := course.NewCourse{Title: "Go", Price: decimal.NewFromInt(20)}

	tests := []struct {
		name     string
		actor    user.User
		wantCode int
	}{
		{name: "creator", actor: creator, wantCode: core.CodeOK},
		{name: "student", actor: student, wantCode: core.CodeAccessDenied},
		{name: "disabled", actor: disabled, wantCode: core.CodeUserDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := e.svc.Create(ctx, tt.actor, nc)
			assert.Equal(t, tt.wantCode, core.ErrorCode(err))
			if err == nil {
				assert.Equal(t, creator.ID, c.CreatorID)
				assert.Equal(t, "usd", c.Currency)
				assert.NotEmpty(t, c.ID)
			}
		})
	}
}

func TestService_Update(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	creator := testutil.CreateUser(t, e.users, "Creator", "creator", "creator@example.com", "", []string{user.RoleCreator}, true)
	other := testutil.CreateUser(t, e.users, "Other", "other", "other@example.com", "", []string{user.RoleCreator}, true)
	admin := testutil.CreateUser(t, e.users, "Admin", "admin", "admin@example.com", "", []string{user.RoleAdmin}, true)
	c := testutil.CreateCourse(t, e.courses, creator, "Go", decimal.NewFromInt(20), 0)

	title := "Go in practice"
	discount := 50
	_, err := e.svc.Update(ctx, other, c.ID, course.UpdateCourse{Title: &title})
	assert.Equal(t, core.CodeAccessDenied, core.ErrorCode(err))

	got, err := e.svc.Update(ctx, creator, c.ID, course.UpdateCourse{Title: &title, Discount: &discount})
	require.NoError(t, err)
	assert.Equal(t, title, got.Title)
	assert.True(t, got.FinalPrice().Equal(decimal.NewFromInt(10)))

	_, err = e.svc.Update(ctx, admin, c.ID, course.UpdateCourse{Title: &title})
	assert.NoError(t, err)

	_, err = e.svc.Update(ctx, creator, "nope", course.UpdateCourse{Title: &title})
	assert.Equal(t, core.CodeNotFound, core.ErrorCode(err))
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	creator := testutil.CreateUser(t, e.users, "Creator", "creator", "creator@example.com", "", []string{user.RoleCreator}, true)
	student := testutil.CreateUser(t, e.users, "Student", "student", "student@example.com", "", []string{user.RoleStudent}, true)

	sold := testutil.CreateCourse(t, e.courses, creator, "Sold", decimal.NewFromInt(20), 0)
	require.NoError(t, e.courses.AddSubscriber(ctx, sold.ID, student.ID, decimal.NewFromInt(18)))
	err := e.svc.Delete(ctx, creator, sold.ID)
	assert.Equal(t, core.CodeValidation, core.ErrorCode(err))

	c := testutil.CreateCourse(t, e.courses, creator, "Draft", decimal.NewFromInt(20), 0)
	c, err = e.svc.SetIntro(ctx, creator, c.ID, &multipart.FileHeader{Filename: "cover.png"})
	require.NoError(t, err)

	require.NoError(t, e.svc.Delete(ctx, creator, c.ID))
	assert.Equal(t, []string{c.Intro.URL}, e.store.deleted)
	_, err = e.svc.Get(ctx, c.ID)
	assert.Equal(t, core.CodeNotFound, core.ErrorCode(err))
}

func TestService_SetIntro(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	creator := testutil.CreateUser(t, e.users, "Creator", "creator", "creator@example.com", "", []string{user.RoleCreator}, true)
	c := testutil.CreateCourse(t, e.courses, creator, "Go", decimal.NewFromInt(20), 0)

	first, err := e.svc.SetIntro(ctx, creator, c.ID, &multipart.FileHeader{Filename: "a.png"})
	require.NoError(t, err)
	require.NotNil(t, first.Intro)
	assert.Equal(t, "/uploads/images/a.png", first.Intro.URL)

	_, err = e.svc.SetIntro(ctx, creator, c.ID, &multipart.FileHeader{Filename: "b.png"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/uploads/images/a.png"}, e.store.deleted, "old intro removed")

	e.store.kind = media.KindFile
	_, err = e.svc.SetIntro(ctx, creator, c.ID, &multipart.FileHeader{Filename: "c.pdf"})
	assert.Equal(t, core.CodeValidation, core.ErrorCode(err))

	got, err := e.svc.AddAttachment(ctx, creator, c.ID, &multipart.FileHeader{Filename: "c.pdf"})
	require.NoError(t, err)
	assert.Len(t, got.Attachments, 1)
}

func TestService_Share(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	creator := testutil.CreateUser(t, e.users, "Creator", "creator", "creator@example.com", "", []string{user.RoleCreator}, true)
	c := testutil.CreateCourse(t, e.courses, creator, "Go", decimal.NewFromInt(20), 0)

	got, err := e.svc.Share(ctx, creator, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://atelier.app.link/"+c.ID, got.ShareURL)

	_, err = e.svc.Share(ctx, creator, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, e.linker.calls, "link is created once")

	other := testutil.CreateCourse(t, e.courses, creator, "Rust", decimal.NewFromInt(20), 0)
	e.linker.err = errors.New("branch is down")
	_, err = e.svc.Share(ctx, creator, other.ID)
	assert.Equal(t, core.CodeServiceError, core.ErrorCode(err))

	noLinks := course.NewService(testutil.Config(t), e.courses, e.store, nil, testutil.NopLogger{})
	_, err = noLinks.Share(ctx, creator, other.ID)
	assert.Equal(t, core.CodeServiceError, core.ErrorCode(err))
}

func TestService_Query(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	creator := testutil.CreateUser(t, e.users, "Creator", "creator", "creator@example.com", "", []string{user.RoleCreator}, true)
	testutil.CreateCourse(t, e.courses, creator, "Go basics", decimal.NewFromInt(10), 0)
	testutil.CreateCourse(t, e.courses, creator, "Advanced Go", decimal.NewFromInt(30), 0)
	testutil.CreateCourse(t, e.courses, creator, "Rust", decimal.NewFromInt(20), 0)

	courses, err := e.svc.Query(ctx, &course.QueryFilter{Search: "go"}, []core.DBOrdering{{Field: "price", Ascending: true}, {Field: "password", Ascending: true}})
	require.NoError(t, err)
	require.Len(t, courses, 2)
	assert.Equal(t, "Go basics", courses[0].Title)
	assert.Equal(t, "Advanced Go", courses[1].Title)
}
