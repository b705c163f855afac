package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/atelier/apps/api/echo"
	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/billing"
	"github.com/trezcool/atelier/core/course"
	"github.com/trezcool/atelier/core/ledger"
	"github.com/trezcool/atelier/core/media"
	"github.com/trezcool/atelier/core/session"
	"github.com/trezcool/atelier/core/user"
	"github.com/trezcool/atelier/services/email"
	"github.com/trezcool/atelier/services/events"
	"github.com/trezcool/atelier/services/realtime"
	inmemcache "github.com/trezcool/atelier/storage/cache/inmem"
	inmemdb "github.com/trezcool/atelier/storage/database/inmem"
	"github.com/trezcool/atelier/testutil"
)

const declinedToken = "tok_chargeDeclined"

var errDeclined = errors.New("your card was declined")

type fakeCharger struct {
	mu      sync.Mutex
	charges []billing.ChargeRequest
	refunds []string
}

func (c *fakeCharger) Charge(_ context.Context, req billing.ChargeRequest) (billing.Charge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if req.Source == declinedToken {
		return billing.Charge{}, errDeclined
	}
	c.charges = append(c.charges, req)
	return billing.Charge{ID: fmt.Sprintf("ch_%d", len(c.charges)), Amount: req.Amount, Currency: req.Currency}, nil
}

func (c *fakeCharger) Refund(_ context.Context, chargeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refunds = append(c.refunds, chargeID)
	return nil
}

func (c *fakeCharger) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.charges)
}

type testEnv struct {
	app      *Server
	users    user.Repository
	courses  course.Repository
	sessions session.Repository
	ledger   *ledger.Service
	charger  *fakeCharger
	hub      *realtime.Hub
}

func setup(t *testing.T) *testEnv {
	t.Helper()

	conf := testutil.Config(t)
	conf.Server.DisableReqLogs = true
	logger := testutil.NopLogger{}

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	core.ParseEmailTemplates(conf, logger)
	user.LoadCommonPasswords(logger)

	// set up DB & repos
	db := inmemdb.Open()
	env := &testEnv{
		users:    inmemdb.NewUserRepository(db),
		courses:  inmemdb.NewCourseRepository(db),
		sessions: inmemdb.NewSessionRepository(db),
		charger:  new(fakeCharger),
		hub:      realtime.NewHub(nil, logger),
	}

	// set up services
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	store, err := media.NewStorage(conf, nil, logger)
	require.NoError(t, err)

	env.ledger = ledger.NewService(inmemdb.NewLedgerRepository(db), db)
	billingSvc := billing.NewService(
		conf, env.ledger, env.courses, env.charger, db,
		inmemcache.NewIdempotencyStore(), events.NewLogPublisher(logger), mailSvc, logger,
	)
	courseSvc := course.NewService(conf, env.courses, store, nil, logger)
	sessionSvc := session.NewService(env.sessions, env.courses, env.hub, logger)
	usrSvc := user.NewService(conf, env.users, mailSvc, logger)

	// set up server
	env.app = NewServer(ServerDeps{
		Conf:       conf,
		Logger:     logger,
		Validate:   validate,
		Translator: translator,
		UserSvc:    usrSvc,
		LedgerSvc:  env.ledger,
		BillingSvc: billingSvc,
		CourseSvc:  courseSvc,
		SessionSvc: sessionSvc,
		Hub:        env.hub,
	})
	t.Cleanup(env.hub.Close)
	return env
}

func (env *testEnv) createUser(t *testing.T, uname string, roles []string, verified bool) user.User {
	t.Helper()
	return testutil.CreateUser(t, env.users, uname, uname, uname+"@test.cd", "Pwd.1234", roles, verified)
}

func (env *testEnv) credit(t *testing.T, usr user.User, amount string) {
	t.Helper()
	_, err := env.ledger.EditUserBalance(context.Background(), usr.ID, decimal.RequireFromString(amount), ledger.OpAdd, "seed")
	require.NoError(t, err)
}

func (env *testEnv) balance(t *testing.T, usr user.User) ledger.Balance {
	t.Helper()
	bal, err := env.ledger.Balance(context.Background(), usr.ID)
	require.NoError(t, err)
	return bal
}

func (env *testEnv) token(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := env.app.Auth().TokenFor(usr)
	require.NoError(t, err)
	return token
}

type httpTest struct {
	name      string
	method    string
	path      string
	body      interface{}
	token     string
	header    map[string]string
	wantCode  int
	wantError interface{}
}

// envelope mirrors Envelope with a raw result for per-test decoding.
type envelope struct {
	Code   int             `json:"code"`
	Result json.RawMessage `json:"result"`
	Error  interface{}     `json:"error"`
}

func (env *testEnv) do(t *testing.T, tt httpTest) envelope {
	t.Helper()

	var body bytes.Buffer
	if tt.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(tt.body))
	}
	method := tt.method
	if method == "" {
		method = http.MethodGet
	}
	req := httptest.NewRequest(method, tt.path, &body)
	req.Header.Set("Content-Type", "application/json")
	if tt.token != "" {
		req.Header.Set("Authorization", "Bearer "+tt.token)
	}
	for k, v := range tt.header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.app.ServeHTTP(rec, req)

	// the transport status never carries the outcome
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func checkResponse(t *testing.T, tt httpTest, resp envelope) {
	t.Helper()
	wantCode := tt.wantCode
	if wantCode == 0 {
		wantCode = core.CodeOK
	}
	require.Equal(t, wantCode, resp.Code, "error: %v", resp.Error)
	if tt.wantError != nil {
		require.Equal(t, tt.wantError, resp.Error)
	}
}

func decodeResult(t *testing.T, resp envelope, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(resp.Result, v), string(resp.Result))
}
