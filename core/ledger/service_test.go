package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/ledger"
	"github.com/trezcool/atelier/core/user"
	inmemdb "github.com/trezcool/atelier/storage/database/inmem"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func setup(t *testing.T, credits, reserved string) (*ledger.Service, string) {
	t.Helper()
	ctx := context.Background()
	db := inmemdb.Open()
	users := inmemdb.NewUserRepository(db)
	svc := ledger.NewService(inmemdb.NewLedgerRepository(db), db)

	usr, err := users.CreateUser(ctx, user.User{
		Name:      "Alice",
		Username:  "alice",
		Email:     "alice@example.com",
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	if c := dec(credits).Add(dec(reserved)); c.IsPositive() {
		_, err = svc.EditUserBalance(ctx, usr.ID, c, ledger.OpAdd, "seed")
		require.NoError(t, err)
	}
	if r := dec(reserved); r.IsPositive() {
		_, err = svc.ReserveCredits(ctx, usr.ID, r, "seed")
		require.NoError(t, err)
	}
	return svc, usr.ID
}

func assertBalance(t *testing.T, svc *ledger.Service, userID, credits, reserved string) {
	t.Helper()
	bal, err := svc.Balance(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, bal.Credits.Equal(dec(credits)), "credits: want %s, got %s", credits, bal.Credits)
	assert.True(t, bal.ReservedCredits.Equal(dec(reserved)), "reserved: want %s, got %s", reserved, bal.ReservedCredits)
}

func TestService_ReserveCredits(t *testing.T) {
	tests := []struct {
		name         string
		credits      string
		amount       string
		wantCode     int
		wantCredits  string
		wantReserved string
	}{
		{name: "reserves", credits: "100", amount: "40", wantCode: core.CodeOK, wantCredits: "60", wantReserved: "40"},
		{name: "whole balance", credits: "100", amount: "100", wantCode: core.CodeOK, wantCredits: "0", wantReserved: "100"},
		{name: "zero amount", credits: "100", amount: "0", wantCode: core.CodeOK, wantCredits: "100", wantReserved: "0"},
		{name: "insufficient", credits: "10", amount: "10.01", wantCode: core.CodeValidation, wantCredits: "10", wantReserved: "0"},
		{name: "negative amount", credits: "100", amount: "-1", wantCode: core.CodeServiceError, wantCredits: "100", wantReserved: "0"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, userID := setup(t, tc.credits, "0")
			_, err := svc.ReserveCredits(context.Background(), userID, dec(tc.amount), "test")
			assert.Equal(t, tc.wantCode, core.ErrorCode(err))
			assertBalance(t, svc, userID, tc.wantCredits, tc.wantReserved)
		})
	}
}

func TestService_WithdrawalReservedCredits(t *testing.T) {
	tests := []struct {
		name         string
		reserved     string
		amount       string
		wantCode     int
		wantReserved string
	}{
		{name: "withdraws", reserved: "50", amount: "20", wantCode: core.CodeOK, wantReserved: "30"},
		{name: "insufficient", reserved: "50", amount: "60", wantCode: core.CodeValidation, wantReserved: "50"},
		{name: "negative amount", reserved: "50", amount: "-5", wantCode: core.CodeServiceError, wantReserved: "50"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, userID := setup(t, "10", tc.reserved)
			_, err := svc.WithdrawalReservedCredits(context.Background(), userID, dec(tc.amount), "test")
			assert.Equal(t, tc.wantCode, core.ErrorCode(err))
			assertBalance(t, svc, userID, "10", tc.wantReserved)
		})
	}
}

func TestService_ReleaseReservedCredits(t *testing.T) {
	svc, userID := setup(t, "10", "50")
	ctx := context.Background()

	_, err := svc.ReleaseReservedCredits(ctx, userID, dec("20"), "test")
	require.NoError(t, err)
	assertBalance(t, svc, userID, "30", "30")

	_, err = svc.ReleaseReservedCredits(ctx, userID, dec("31"), "test")
	assert.Equal(t, core.CodeValidation, core.ErrorCode(err))
	assertBalance(t, svc, userID, "30", "30")
}

func TestService_EditUserBalance(t *testing.T) {
	ctx := context.Background()

	t.Run("add then sub restores the balance", func(t *testing.T) {
		svc, userID := setup(t, "12.5", "0")
		_, err := svc.EditUserBalance(ctx, userID, dec("7.25"), ledger.OpAdd, "test")
		require.NoError(t, err)
		assertBalance(t, svc, userID, "19.75", "0")

		_, err = svc.EditUserBalance(ctx, userID, dec("7.25"), ledger.OpSub, "test")
		require.NoError(t, err)
		assertBalance(t, svc, userID, "12.5", "0")
	})

	t.Run("sub over the balance", func(t *testing.T) {
		svc, userID := setup(t, "5", "0")
		_, err := svc.EditUserBalance(ctx, userID, dec("6"), ledger.OpSub, "test")
		assert.Equal(t, core.CodeValidation, core.ErrorCode(err))
		assertBalance(t, svc, userID, "5", "0")
	})

	t.Run("unknown user", func(t *testing.T) {
		svc, _ := setup(t, "0", "0")
		_, err := svc.EditUserBalance(ctx, core.NewID(), dec("1"), ledger.OpAdd, "test")
		assert.Equal(t, core.CodeNotFound, core.ErrorCode(err))
	})

	t.Run("invalid user id", func(t *testing.T) {
		svc, _ := setup(t, "0", "0")
		_, err := svc.EditUserBalance(ctx, "nope", dec("1"), ledger.OpAdd, "test")
		assert.Equal(t, core.CodeServiceError, core.ErrorCode(err))
	})
}

func TestService_History(t *testing.T) {
	svc, userID := setup(t, "100", "0")
	ctx := context.Background()

	_, err := svc.ReserveCredits(ctx, userID, dec("30"), "order-1")
	require.NoError(t, err)
	_, err = svc.WithdrawalReservedCredits(ctx, userID, dec("30"), "order-1")
	require.NoError(t, err)

	entries, err := svc.History(ctx, userID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ledger.KindWithdrawReserve, entries[0].Kind)
	assert.True(t, entries[0].ReservedAfter.IsZero())
	assert.Equal(t, ledger.KindReserve, entries[1].Kind)
	assert.Equal(t, ledger.KindAdd, entries[2].Kind)

	entries, err = svc.History(ctx, userID, 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestService_ConcurrentReservationsNeverOverdraw(t *testing.T) {
	svc, userID := setup(t, "100", "0")
	ctx := context.Background()

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.ReserveCredits(ctx, userID, dec("7"), "race"); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// 100 / 7
	assert.Equal(t, 14, ok)
	assertBalance(t, svc, userID, "2", "98")
}
