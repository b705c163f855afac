package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/billing"
	"github.com/trezcool/atelier/core/course"
	"github.com/trezcool/atelier/core/ledger"
	"github.com/trezcool/atelier/core/session"
	"github.com/trezcool/atelier/core/user"
	"github.com/trezcool/atelier/services/realtime"
)

type (
	ServerDeps struct {
		Conf       *core.Config
		Logger     core.Logger
		Validate   *validator.Validate
		Translator ut.Translator
		UserSvc    user.ServiceInterface
		LedgerSvc  *ledger.Service
		BillingSvc *billing.Service
		CourseSvc  *course.Service
		SessionSvc *session.Service
		Hub        *realtime.Hub
	}

	Server struct {
		*http.Server
		deps     ServerDeps
		app      *echo.Echo
		auth     *Auth
		errors   chan error
		shutdown chan os.Signal
	}
)

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		auth:     NewAuth(deps.Conf),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	s.Server = &http.Server{
		Addr:    deps.Conf.Server.Address,
		Handler: s.app,
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.Server.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(middleware.BodyLimit(bodyLimit(conf.Media.MaxUploadSize)))

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.SignalShutdown)
	s.app.Debug = conf.Debug
	if conf.Debug {
		s.app.Logger.SetLevel(log.DEBUG)
	} else {
		s.app.Logger.SetLevel(log.INFO)
	}

	s.app.GET("/", home)
	s.app.Static("/uploads", filepath.Join(conf.Media.PublicDir, "uploads"))

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(s.auth.jwtConfig)
	authed := []echo.MiddlewareFunc{jwt, activeUserMiddleware(s.deps.UserSvc)}

	registerUserAPI(v1, authed, s.auth, s.deps.UserSvc, s.deps.LedgerSvc, s.deps.Validate)
	registerCreditsAPI(v1, authed, s.deps.LedgerSvc, s.deps.Validate)
	registerCourseAPI(v1, authed, s.deps.UserSvc, s.deps.CourseSvc, s.deps.BillingSvc, s.deps.SessionSvc, s.deps.Validate)
	registerSessionAPI(v1, authed, s.deps.UserSvc, s.deps.SessionSvc, s.deps.Validate)
	registerRealtimeAPI(v1, s.auth, s.deps.UserSvc, s.deps.SessionSvc, s.deps.Hub)
}

// Start listens until the server is shut down; unexpected errors are sent to Errors.
func (s *Server) Start() {
	s.deps.Logger.Info("API listening on " + s.Addr)
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

// SignalShutdown asks the app to shut down gracefully.
func (s *Server) SignalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

// Shutdown stops the server and disconnects the websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.deps.Hub != nil {
		s.deps.Hub.Close()
	}
	return s.Server.Shutdown(ctx)
}

// Auth issues the JWT of the API.
func (s *Server) Auth() *Auth {
	return s.auth
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func bodyLimit(maxUpload int64) string {
	const mb = 1 << 20
	if maxUpload <= 0 {
		return "2M"
	}
	// room for the multipart envelope
	return strconv.FormatInt(maxUpload/mb+1, 10) + "M"
}

func home(ctx echo.Context) error {
	return ok(ctx, "Welcome to Atelier API!")
}
