package dig_container

import (
	"context"
	"fmt"
	"log"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/atelier/apps/api/echo"
	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/billing"
	"github.com/trezcool/atelier/core/course"
	"github.com/trezcool/atelier/core/ledger"
	"github.com/trezcool/atelier/core/media"
	"github.com/trezcool/atelier/core/session"
	"github.com/trezcool/atelier/core/user"
	"github.com/trezcool/atelier/jobs"
	"github.com/trezcool/atelier/services/deeplink"
	emailsvc "github.com/trezcool/atelier/services/email"
	"github.com/trezcool/atelier/services/events"
	logsvc "github.com/trezcool/atelier/services/logger"
	mediasvc "github.com/trezcool/atelier/services/media"
	stripesvc "github.com/trezcool/atelier/services/payment/stripe"
	"github.com/trezcool/atelier/services/realtime"
	rediscache "github.com/trezcool/atelier/storage/cache/redis"
	inmemcache "github.com/trezcool/atelier/storage/cache/inmem"
	"github.com/trezcool/atelier/storage/database"
	sqlxrepos "github.com/trezcool/atelier/storage/database/sqlx"
)

const connectTimeout = 10 * time.Second

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

type serverParams struct {
	dig.In
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

func newLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(logsvc.NewLogrus(conf), conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	out := logsvc.NewLogrus(conf)
	out.SetReportCaller(true)
	logger := logsvc.NewRollbarLogger(out, conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	return logger
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) *sqlx.DB {
	setUp := func() (*sqlx.DB, error) {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()

		if err := database.CreateIfNotExist(ctx, conf); err != nil {
			return nil, err
		}

		db, err := database.Open(ctx, conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db, "up"); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db
}

func newTransactor(db *sqlx.DB) core.Transactor {
	return sqlxrepos.NewTransactor(db)
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

// newIdempotencyStore keeps purchase keys in Redis; without Redis they only live as long as the process.
func newIdempotencyStore(conf *core.Config, logger core.Logger) billing.IdempotencyStore {
	if conf.Redis.URL == "" {
		logger.Warn("REDIS_URL is not set: idempotency keys are kept in memory")
		return inmemcache.NewIdempotencyStore()
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	client, err := rediscache.Connect(ctx, conf.Redis.URL)
	if err != nil {
		logger.Fatal(fmt.Sprintf("connecting to redis: %v", err), err)
	}
	return rediscache.NewIdempotencyStore(client)
}

func newEventPublisher(conf *core.Config, logger core.Logger) core.EventPublisher {
	if len(conf.Kafka.Brokers) == 0 {
		return events.NewLogPublisher(logger)
	}
	publisher, err := events.NewKafkaPublisher(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up kafka: %v", err), err)
	}
	return publisher
}

func newCharger(conf *core.Config, logger core.Logger) billing.Charger {
	if conf.Stripe.SecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY is not set: card payments are disabled")
		return stripesvc.Disabled{}
	}
	return stripesvc.NewCharger(conf, nil)
}

func newDeepLinker(conf *core.Config) course.DeepLinker {
	// a nil *BranchLinker must not end up in the interface
	if linker := deeplink.NewBranchLinker(conf); linker != nil {
		return linker
	}
	return nil
}

func newMediaStorage(conf *core.Config, logger core.Logger) *media.Storage {
	store, err := media.NewStorage(conf, mediasvc.NewFFmpeg(conf), logger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up media storage: %v", err), err)
	}
	return store
}

func newBillingService(
	conf *core.Config,
	ldg *ledger.Service,
	courses course.Repository,
	charger billing.Charger,
	tx core.Transactor,
	idem billing.IdempotencyStore,
	publisher core.EventPublisher,
	mailSvc core.EmailService,
	logger core.Logger,
) *billing.Service {
	return billing.NewService(conf, ldg, courses, charger, tx, idem, publisher, mailSvc, logger)
}

func newCourseService(conf *core.Config, repo course.Repository, store *media.Storage, linker course.DeepLinker, logger core.Logger) *course.Service {
	return course.NewService(conf, repo, store, linker, logger)
}

func newHub(logger core.Logger) *realtime.Hub {
	return realtime.NewHub(nil, logger)
}

func newSessionService(repo session.Repository, courses course.Repository, hub *realtime.Hub, logger core.Logger) *session.Service {
	return session.NewService(repo, courses, hub, logger)
}

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:       p.Conf,
		Logger:     p.Logger,
		Validate:   p.Validate,
		Translator: p.Translator,
		UserSvc:    p.UserSvc,
		LedgerSvc:  p.LedgerSvc,
		BillingSvc: p.BillingSvc,
		CourseSvc:  p.CourseSvc,
		SessionSvc: p.SessionSvc,
		Hub:        p.Hub,
	})
}

func newScheduler(conf *core.Config, store *media.Storage, sessions *session.Service, logger core.Logger) *jobs.Scheduler {
	return jobs.NewScheduler(conf, store, sessions, logger)
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	// ambient
	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(validator.New))
	must(c.Provide(core.NewTranslator))

	// storage
	must(c.Provide(newDB))
	must(c.Provide(newTransactor))
	must(c.Provide(sqlxrepos.NewUserRepository))
	must(c.Provide(sqlxrepos.NewLedgerRepository))
	must(c.Provide(sqlxrepos.NewCourseRepository))
	must(c.Provide(sqlxrepos.NewSessionRepository))
	must(c.Provide(newIdempotencyStore))
	must(c.Provide(newMediaStorage))

	// external services
	must(c.Provide(newEmailService))
	must(c.Provide(newEventPublisher))
	must(c.Provide(newCharger))
	must(c.Provide(newDeepLinker))
	must(c.Provide(newHub))

	// domain
	must(c.Provide(user.NewService, dig.As(new(user.ServiceInterface))))
	must(c.Provide(ledger.NewService))
	must(c.Provide(newBillingService))
	must(c.Provide(newCourseService))
	must(c.Provide(newSessionService))

	// apps
	must(c.Provide(newServer))
	must(c.Provide(newScheduler))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
