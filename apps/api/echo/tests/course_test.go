package tests

import (
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/billing"
	"github.com/trezcool/atelier/core/course"
	"github.com/trezcool/atelier/core/user"
	"github.com/trezcool/atelier/testutil"
)

func Test_courseApi_create(t *testing.T) {
	env := setup(t)
	creator := env.createUser(t, "creator", user.CreatorRoles, true)
	student := env.createUser(t, "student", user.StudentRoles, true)

	tests := []httpTest{
		{
			name: "creators only", token: env.token(t, student), wantCode: core.CodeAccessDenied,
			body: course.NewCourse{Title: "Go", Price: decimal.NewFromInt(20)},
		},
		{
			name: "title required", token: env.token(t, creator), wantCode: core.CodeValidation,
			body: course.NewCourse{Price: decimal.NewFromInt(20)},
		},
		{
			name: "negative price", token: env.token(t, creator), wantCode: core.CodeValidation,
			body: course.NewCourse{Title: "Go", Price: decimal.NewFromInt(-1)},
		},
		{
			name: "discount over 100", token: env.token(t, creator), wantCode: core.CodeValidation,
			body: course.NewCourse{Title: "Go", Price: decimal.NewFromInt(20), Discount: 101},
		},
		{
			name: "ok", token: env.token(t, creator),
			body: course.NewCourse{Title: " Go ", Price: decimal.NewFromInt(20), Discount: 10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method = http.MethodPost
			tt.path = "/v1/courses"
			resp := env.do(t, tt)
			checkResponse(t, tt, resp)

			if tt.wantCode == 0 {
				var c course.Course
				decodeResult(t, resp, &c)
				assert.NotEmpty(t, c.ID)
				assert.Equal(t, "Go", c.Title)
				assert.Equal(t, creator.ID, c.CreatorID)
				assert.Equal(t, "usd", c.Currency)
			}
		})
	}
}

func Test_courseApi_query(t *testing.T) {
	env := setup(t)
	creator := env.createUser(t, "creator", user.CreatorRoles, true)
	student := env.createUser(t, "student", user.StudentRoles, true)
	goCourse := testutil.CreateCourse(t, env.courses, creator, "Learn Go", decimal.NewFromInt(20), 0)
	rustCourse := testutil.CreateCourse(t, env.courses, creator, "Learn Rust", decimal.NewFromInt(50), 0)
	env.credit(t, student, "20")

	token := env.token(t, student)
	resp := env.do(t, httpTest{
		method: http.MethodPost, path: "/v1/courses/" + goCourse.ID + "/purchase", token: token,
		body: billing.PurchaseRequest{PaymentType: billing.PaymentBalance},
	})
	require.Equal(t, core.CodeOK, resp.Code, resp.Error)

	ids := func(courses []course.Course) []string {
		out := make([]string, 0, len(courses))
		for _, c := range courses {
			out = append(out, c.ID)
		}
		return out
	}

	tests := []struct {
		name     string
		path     string
		wantCode int
		want     []string
	}{
		{name: "all", path: "/v1/courses?ordering=price", want: []string{goCourse.ID, rustCourse.ID}},
		{name: "search", path: "/v1/courses?search=rust", want: []string{rustCourse.ID}},
		{name: "min price", path: "/v1/courses?min_price=30", want: []string{rustCourse.ID}},
		{name: "max price", path: "/v1/courses?max_price=30", want: []string{goCourse.ID}},
		{name: "bad price", path: "/v1/courses?max_price=lol", wantCode: core.CodeValidation},
		{name: "subscribed", path: "/v1/courses?subscribed=true", want: []string{goCourse.ID}},
		{name: "unknown creator", path: "/v1/courses?creator=" + core.NewID(), want: []string{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tt := httpTest{path: tc.path, token: token, wantCode: tc.wantCode}
			resp := env.do(t, tt)
			checkResponse(t, tt, resp)

			if tc.wantCode == 0 {
				var courses []course.Course
				decodeResult(t, resp, &courses)
				assert.Equal(t, tc.want, ids(courses))
			}
		})
	}
}

func Test_courseApi_retrieve(t *testing.T) {
	env := setup(t)
	creator := env.createUser(t, "creator", user.CreatorRoles, true)
	c := testutil.CreateCourse(t, env.courses, creator, "Learn Go", decimal.NewFromInt(20), 0)
	token := env.token(t, creator)

	tests := []httpTest{
		{name: "found", path: "/v1/courses/" + c.ID, token: token},
		{name: "unknown", path: "/v1/courses/" + core.NewID(), token: token, wantCode: core.CodeNotFound},
		{name: "auth required", path: "/v1/courses/" + c.ID, wantCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkResponse(t, tt, env.do(t, tt))
		})
	}
}

func Test_courseApi_update(t *testing.T) {
	env := setup(t)
	creator := env.createUser(t, "creator", user.CreatorRoles, true)
	other := env.createUser(t, "other", user.CreatorRoles, true)
	c := testutil.CreateCourse(t, env.courses, creator, "Learn Go", decimal.NewFromInt(20), 0)
	discount := 50

	resp := env.do(t, httpTest{
		method: http.MethodPut, path: "/v1/courses/" + c.ID, token: env.token(t, other),
		body: course.UpdateCourse{Discount: &discount},
	})
	assert.Equal(t, core.CodeAccessDenied, resp.Code)

	resp = env.do(t, httpTest{
		method: http.MethodPut, path: "/v1/courses/" + c.ID, token: env.token(t, creator),
		body: course.UpdateCourse{Discount: &discount},
	})
	require.Equal(t, core.CodeOK, resp.Code, resp.Error)
	var got course.Course
	decodeResult(t, resp, &got)
	assert.Equal(t, 50, got.Discount)
	assert.Equal(t, "Learn Go", got.Title)
}

func Test_courseApi_destroy(t *testing.T) {
	env := setup(t)
	creator := env.createUser(t, "creator", user.CreatorRoles, true)
	c := testutil.CreateCourse(t, env.courses, creator, "Learn Go", decimal.NewFromInt(20), 0)
	token := env.token(t, creator)

	resp := env.do(t, httpTest{method: http.MethodDelete, path: "/v1/courses/" + c.ID, token: token})
	require.Equal(t, core.CodeOK, resp.Code, resp.Error)

	resp = env.do(t, httpTest{path: "/v1/courses/" + c.ID, token: token})
	assert.Equal(t, core.CodeNotFound, resp.Code)
}

func Test_courseApi_share(t *testing.T) {
	env := setup(t)
	creator := env.createUser(t, "creator", user.CreatorRoles, true)
	c := testutil.CreateCourse(t, env.courses, creator, "Learn Go", decimal.NewFromInt(20), 0)

	// no deep link provider is configured
	resp := env.do(t, httpTest{method: http.MethodPost, path: "/v1/courses/" + c.ID + "/share", token: env.token(t, creator)})
	assert.Equal(t, core.CodeServiceError, resp.Code)
}

func Test_courseApi_purchase(t *testing.T) {
	price := decimal.NewFromInt(20)

	type result struct {
		studentCredits string
		creatorCredits string
		charges        int
	}

	tests := []struct {
		name      string
		credits   string
		verified  bool
		discount  int
		req       billing.PurchaseRequest
		wantCode  int
		wantError interface{}
		want      result
	}{
		{
			name: "balance", credits: "50", verified: true,
			req:  billing.PurchaseRequest{PaymentType: billing.PaymentBalance},
			want: result{studentCredits: "30", creatorCredits: "16"},
		},
		{
			name: "balance not enough credits", credits: "5", verified: true,
			req:      billing.PurchaseRequest{PaymentType: billing.PaymentBalance},
			wantCode: core.CodeValidation,
			wantError: map[string]interface{}{
				"message": "not enough credits",
				"credits": "5",
				"amount":  "20",
			},
			want: result{studentCredits: "5", creatorCredits: "0"},
		},
		{
			name: "card", credits: "0", verified: true,
			req:  billing.PurchaseRequest{PaymentType: billing.PaymentCard, Token: "tok_visa"},
			want: result{studentCredits: "0", creatorCredits: "18", charges: 1},
		},
		{
			name: "card declined", credits: "0", verified: true,
			req:      billing.PurchaseRequest{PaymentType: billing.PaymentCard, Token: declinedToken},
			wantCode: core.CodeStripePayment, wantError: errDeclined.Error(),
			want: result{studentCredits: "0", creatorCredits: "0"},
		},
		{
			name: "card token required", credits: "0", verified: true,
			req:      billing.PurchaseRequest{PaymentType: billing.PaymentCard},
			wantCode: core.CodeValidation,
			want:     result{studentCredits: "0", creatorCredits: "0"},
		},
		{
			name: "mixed", credits: "15", verified: true,
			req:  billing.PurchaseRequest{PaymentType: billing.PaymentMixed, Token: "tok_visa", AmountFromCard: decimal.NewFromInt(8)},
			want: result{studentCredits: "3", creatorCredits: "16.8", charges: 1},
		},
		{
			name: "mixed declined gives the credits back", credits: "15", verified: true,
			req:      billing.PurchaseRequest{PaymentType: billing.PaymentMixed, Token: declinedToken, AmountFromCard: decimal.NewFromInt(8)},
			wantCode: core.CodeStripePayment,
			want:     result{studentCredits: "15", creatorCredits: "0"},
		},
		{
			name: "free course", credits: "0", verified: true, discount: 100,
			req:  billing.PurchaseRequest{PaymentType: billing.PaymentBalance},
			want: result{studentCredits: "0", creatorCredits: "0"},
		},
		{
			name: "unverified account", credits: "50", verified: false,
			req:      billing.PurchaseRequest{PaymentType: billing.PaymentBalance},
			wantCode: core.CodeAccountNotVerified,
			want:     result{studentCredits: "50", creatorCredits: "0"},
		},
		{
			name: "unknown payment type", credits: "50", verified: true,
			req:      billing.PurchaseRequest{PaymentType: "cash"},
			wantCode: core.CodeValidation,
			want:     result{studentCredits: "50", creatorCredits: "0"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := setup(t)
			creator := env.createUser(t, "creator", user.CreatorRoles, true)
			student := env.createUser(t, "student", user.StudentRoles, tc.verified)
			if d := decimal.RequireFromString(tc.credits); d.IsPositive() {
				env.credit(t, student, tc.credits)
			}
			c := testutil.CreateCourse(t, env.courses, creator, "Learn Go", price, tc.discount)

			tt := httpTest{
				method: http.MethodPost, path: "/v1/courses/" + c.ID + "/purchase", token: env.token(t, student),
				body: tc.req, wantCode: tc.wantCode, wantError: tc.wantError,
			}
			resp := env.do(t, tt)
			checkResponse(t, tt, resp)

			assert.True(t, env.balance(t, student).Credits.Equal(decimal.RequireFromString(tc.want.studentCredits)),
				"student credits: %s", env.balance(t, student).Credits)
			assert.True(t, env.balance(t, creator).Credits.Equal(decimal.RequireFromString(tc.want.creatorCredits)),
				"creator credits: %s", env.balance(t, creator).Credits)
			assert.Equal(t, tc.want.charges, env.charger.count())

			if tc.wantCode == 0 {
				var receipt billing.Receipt
				decodeResult(t, resp, &receipt)
				assert.Equal(t, c.ID, receipt.CourseID)
				assert.Equal(t, tc.req.PaymentType, receipt.Payment.Type)
			}
		})
	}
}

func Test_courseApi_purchaseTwice(t *testing.T) {
	env := setup(t)
	creator := env.createUser(t, "creator", user.CreatorRoles, true)
	student := env.createUser(t, "student", user.StudentRoles, true)
	env.credit(t, student, "100")
	c := testutil.CreateCourse(t, env.courses, creator, "Learn Go", decimal.NewFromInt(20), 0)
	token := env.token(t, student)
	body := billing.PurchaseRequest{PaymentType: billing.PaymentBalance}

	t.Run("replayed with the same key", func(t *testing.T) {
		tt := httpTest{
			method: http.MethodPost, path: "/v1/courses/" + c.ID + "/purchase", token: token, body: body,
			header: map[string]string{"Idempotency-Key": "abc"},
		}
		first := env.do(t, tt)
		checkResponse(t, tt, first)
		second := env.do(t, tt)
		checkResponse(t, tt, second)
		assert.JSONEq(t, string(first.Result), string(second.Result))
		assert.True(t, env.balance(t, student).Credits.Equal(decimal.NewFromInt(80)))
	})

	t.Run("same key, other request", func(t *testing.T) {
		tt := httpTest{
			method: http.MethodPost, path: "/v1/courses/" + c.ID + "/purchase", token: token,
			body:     billing.PurchaseRequest{PaymentType: billing.PaymentCard, Token: "tok_visa"},
			header:   map[string]string{"Idempotency-Key": "abc"},
			wantCode: core.CodeValidation,
		}
		checkResponse(t, tt, env.do(t, tt))
	})

	t.Run("already subscribed", func(t *testing.T) {
		tt := httpTest{
			method: http.MethodPost, path: "/v1/courses/" + c.ID + "/purchase", token: token, body: body,
			wantCode: core.CodeValidation,
		}
		checkResponse(t, tt, env.do(t, tt))
		assert.True(t, env.balance(t, student).Credits.Equal(decimal.NewFromInt(80)))
	})

	t.Run("own course", func(t *testing.T) {
		tt := httpTest{
			method: http.MethodPost, path: "/v1/courses/" + c.ID + "/purchase", token: env.token(t, creator), body: body,
			wantCode: core.CodeValidation,
		}
		checkResponse(t, tt, env.do(t, tt))
	})
}
