package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/course"
	"github.com/trezcool/atelier/core/media"
	"github.com/trezcool/atelier/core/user"
)

type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
func (NopLogger) Fatal(string, ...interface{}) {}

// Config returns a configuration fit for tests: no external service is configured.
func Config(t *testing.T) *core.Config {
	t.Helper()
	return &core.Config{
		Env:                       "test",
		AppName:                   "Atelier",
		TestMode:                  true,
		SecretKey:                 "test-secret-key",
		FrontendBaseURL:           "http://localhost:3000",
		PasswordResetTimeoutDelta: time.Hour,
		Server: core.ServerConfig{
			JWTExpirationDelta:        15 * time.Minute,
			JWTRefreshExpirationDelta: 24 * time.Hour,
			ShutdownTimeout:           time.Second,
		},
		Redis: core.RedisConfig{IdempotencyTTL: time.Hour},
		Media: core.MediaConfig{
			PublicDir:     t.TempDir(),
			FFmpegPath:    "ffmpeg",
			MaxUploadSize: 10 << 20,
			TempMaxAge:    time.Hour,
		},
		Billing: core.BillingConfig{
			StripeTax:       decimal.RequireFromString("0.1"),
			ServiceTax:      decimal.RequireFromString("0.2"),
			DefaultCurrency: "usd",
		},
		Jobs: core.JobsConfig{SessionMaxDuration: 4 * time.Hour},
	}
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isVerified bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:       name,
		Username:   uname,
		Email:      email,
		Roles:      roles,
		IsVerified: isVerified,
		Currency:   "usd",
		CreatedAt:  tstamp,
		UpdatedAt:  tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

func CreateCourse(t *testing.T, repo course.Repository, creator user.User, title string, price decimal.Decimal, discount int) course.Course {
	t.Helper()
	now := time.Now().UTC()
	c, err := repo.CreateCourse(context.Background(), course.Course{
		ID:          core.NewID(),
		Title:       title,
		Price:       price,
		Currency:    "usd",
		Discount:    discount,
		CreatorID:   creator.ID,
		Attachments: []media.Media{},
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("createCourse() failed: %v", err)
	}
	return c
}
