package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pixelcredit/internal/audit/audittest"
	auditdomain "github.com/smallbiznis/pixelcredit/internal/audit/domain"
	"github.com/smallbiznis/pixelcredit/internal/clock"
	"github.com/smallbiznis/pixelcredit/internal/config"
	"github.com/smallbiznis/pixelcredit/internal/ledger/domain"
	"github.com/smallbiznis/pixelcredit/internal/ledger/repository"
	"github.com/smallbiznis/pixelcredit/internal/pricing"
	userdomain "github.com/smallbiznis/pixelcredit/internal/user/domain"
	"github.com/smallbiznis/pixelcredit/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const adminID = snowflake.ID(7)

type harness struct {
	svc      domain.Service
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	recorder *audittest.Recorder
}

type option func(*Params)

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&userdomain.User{}, &domain.Entry{}, &domain.Reservation{}))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	h := &harness{
		db:       conn,
		node:     node,
		clock:    clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		recorder: &audittest.Recorder{},
	}
	params := Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    h.clock,
		Repo:     repository.Provide(),
		AuditSvc: h.recorder,
	}
	for _, opt := range opts {
		opt(&params)
	}
	h.svc = NewService(params)
	return h
}

func (h *harness) createUser(t *testing.T, balance int64, active bool) snowflake.ID {
	t.Helper()
	user := userdomain.User{
		ID:            h.node.Generate(),
		Email:         h.node.Generate().String() + "@example.com",
		PasswordHash:  "x",
		DisplayName:   "tester",
		CreditBalance: balance,
		InitialGrant:  balance,
		IsActive:      true,
		CreatedAt:     h.clock.Now(),
		UpdatedAt:     h.clock.Now(),
	}
	require.NoError(t, h.db.Create(&user).Error)
	if !active {
		require.NoError(t, h.db.Model(&userdomain.User{}).Where("id = ?", user.ID).Update("is_active", false).Error)
	}
	return user.ID
}

func (h *harness) balance(t *testing.T, userID snowflake.ID) int64 {
	t.Helper()
	balance, err := h.svc.Balance(context.Background(), userID)
	require.NoError(t, err)
	return balance
}

func (h *harness) assertConsistent(t *testing.T, userID snowflake.ID) {
	t.Helper()
	result, err := h.svc.Verify(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, result.Consistent, "drift %d", result.Drift)
}

func reserveReq(userID snowflake.ID, requestID string, amount int64) domain.ReserveRequest {
	return domain.ReserveRequest{
		UserID:          userID,
		RequestID:       requestID,
		Variant:         "1024x1024",
		Amount:          amount,
		ServiceCode:     "image_1024",
		CustomerCost:    0.16,
		ConversionRate:  50,
		SettingsVersion: 1,
	}
}

func TestReserveThenCommit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.createUser(t, 100, true)

	reservation, err := h.svc.Reserve(ctx, reserveReq(userID, "req-1", 8))
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationReserved, reservation.Status)
	assert.Equal(t, int64(92), h.balance(t, userID))

	committed, err := h.svc.Commit(ctx, reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationCommitted, committed.Status)
	require.NotNil(t, committed.SettledAt)
	assert.Equal(t, int64(92), h.balance(t, userID))

	entries, err := h.svc.History(ctx, userID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(-8), entries[0].Amount)
	assert.Equal(t, domain.ReasonGenerationCharge, entries[0].Reason)
	assert.Equal(t, int64(92), entries[0].BalanceAfter)
	assert.Equal(t, "req-1", entries[0].RequestID)

	_, err = h.svc.Commit(ctx, reservation.ID)
	assert.ErrorIs(t, err, domain.ErrReservationSettled)
	_, err = h.svc.Refund(ctx, reservation.ID, domain.ReasonGenerationRefund)
	assert.ErrorIs(t, err, domain.ErrReservationSettled)
	assert.Equal(t, int64(92), h.balance(t, userID))

	h.assertConsistent(t, userID)
}

func TestProviderFailureRefundRestoresBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.createUser(t, 8, true)

	reservation, err := h.svc.Reserve(ctx, reserveReq(userID, "req-b", 8))
	require.NoError(t, err)
	assert.Equal(t, int64(0), h.balance(t, userID))

	_, err = h.svc.Refund(ctx, reservation.ID, domain.ReasonGenerationRefund)
	require.NoError(t, err)
	assert.Equal(t, int64(8), h.balance(t, userID))

	entries, err := h.svc.History(ctx, userID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(8), entries[0].Amount)
	assert.Equal(t, domain.ReasonGenerationRefund, entries[0].Reason)
	assert.Equal(t, int64(-8), entries[1].Amount)
	require.NotNil(t, entries[0].ReservationID)
	assert.Equal(t, reservation.ID, *entries[0].ReservationID)

	_, err = h.svc.Refund(ctx, reservation.ID, domain.ReasonGenerationRefund)
	assert.ErrorIs(t, err, domain.ErrReservationSettled)
	assert.Equal(t, int64(8), h.balance(t, userID))

	h.assertConsistent(t, userID)
}

func TestReserveInsufficientLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.createUser(t, 5, true)

	_, err := h.svc.Reserve(ctx, reserveReq(userID, "req-d", 8))
	assert.ErrorIs(t, err, domain.ErrInsufficientCredits)
	assert.Equal(t, int64(5), h.balance(t, userID))

	entries, err := h.svc.History(ctx, userID, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	var reservations int64
	require.NoError(t, h.db.Model(&domain.Reservation{}).Count(&reservations).Error)
	assert.Zero(t, reservations)
}

func TestReserveExactBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.createUser(t, 8, true)

	_, err := h.svc.Reserve(ctx, reserveReq(userID, "req-exact", 8))
	require.NoError(t, err)
	assert.Equal(t, int64(0), h.balance(t, userID))

	_, err = h.svc.Reserve(ctx, reserveReq(userID, "req-over", 1))
	assert.ErrorIs(t, err, domain.ErrInsufficientCredits)
}

func TestReserveClassifiesFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inactive := h.createUser(t, 100, false)

	_, err := h.svc.Reserve(ctx, reserveReq(inactive, "req-inactive", 8))
	assert.ErrorIs(t, err, domain.ErrUserInactive)
	assert.Equal(t, int64(100), h.balance(t, inactive))

	_, err = h.svc.Reserve(ctx, reserveReq(snowflake.ID(12345), "req-missing", 8))
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = h.svc.Reserve(ctx, reserveReq(inactive, "req-zero", 0))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = h.svc.Reserve(ctx, reserveReq(inactive, " ", 8))
	assert.ErrorIs(t, err, domain.ErrInvalidRequestID)
}

func TestReserveRejectsDuplicateRequestID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.createUser(t, 100, true)

	_, err := h.svc.Reserve(ctx, reserveReq(userID, "req-dup", 8))
	require.NoError(t, err)
	_, err = h.svc.Reserve(ctx, reserveReq(userID, "req-dup", 8))
	assert.ErrorIs(t, err, domain.ErrDuplicateRequest)
	assert.Equal(t, int64(92), h.balance(t, userID))
	h.assertConsistent(t, userID)
}

func TestConcurrentReservesNeverOverdraw(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.createUser(t, 100, true)

	const attempts = 20
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		rejected  atomic.Int64
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.svc.Reserve(ctx, reserveReq(userID, "req-c-"+snowflake.ID(i).String(), 8))
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, domain.ErrInsufficientCredits):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(12), succeeded.Load())
	assert.Equal(t, int64(8), rejected.Load())
	assert.Equal(t, int64(4), h.balance(t, userID))
	h.assertConsistent(t, userID)
}

func TestRefundStillCreditsInactiveUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.createUser(t, 20, true)

	reservation, err := h.svc.Reserve(ctx, reserveReq(userID, "req-inactive-refund", 8))
	require.NoError(t, err)
	require.NoError(t, h.db.Model(&userdomain.User{}).Where("id = ?", userID).Update("is_active", false).Error)

	_, err = h.svc.Refund(ctx, reservation.ID, domain.ReasonGenerationRefund)
	require.NoError(t, err)
	assert.Equal(t, int64(20), h.balance(t, userID))

	_, err = h.svc.Refund(ctx, reservation.ID, domain.ReasonAdminGrant)
	assert.ErrorIs(t, err, domain.ErrInvalidReason)
	_, err = h.svc.Commit(ctx, snowflake.ID(999))
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)
}

func TestGrantAdjustRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.createUser(t, 100, true)

	entry, err := h.svc.Grant(ctx, userID, 50, "support goodwill", adminID)
	require.NoError(t, err)
	assert.Equal(t, int64(150), entry.BalanceAfter)
	assert.Equal(t, domain.ReasonAdminGrant, entry.Reason)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, adminID, *entry.ActorID)

	entry, err = h.svc.Adjust(ctx, userID, -50, "revert goodwill", adminID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), entry.BalanceAfter)
	assert.Equal(t, int64(100), h.balance(t, userID))

	_, err = h.svc.Adjust(ctx, userID, -101, "too much", adminID)
	assert.ErrorIs(t, err, domain.ErrInsufficientCredits)
	assert.Equal(t, int64(100), h.balance(t, userID))

	_, err = h.svc.Grant(ctx, userID, 10, "  ", adminID)
	assert.ErrorIs(t, err, domain.ErrReasonRequired)
	_, err = h.svc.Grant(ctx, userID, 0, "zero", adminID)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = h.svc.Adjust(ctx, userID, 0, "zero", adminID)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	h.assertConsistent(t, userID)
	assert.Equal(t, []string{auditdomain.ActionCreditsGranted, auditdomain.ActionCreditsAdjusted}, h.recorder.Actions())

	audits := h.recorder.Entries()
	assert.Equal(t, string(auditdomain.ActorTypeAdmin), audits[0].ActorType)
	assert.Equal(t, userID.String(), audits[0].TargetID)
	assert.Equal(t, map[string]any{"credit_balance": int64(100)}, audits[0].Metadata["before"])
}

func TestGrantRejectsInactiveAndMissingUsers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inactive := h.createUser(t, 10, false)

	_, err := h.svc.Grant(ctx, inactive, 10, "promo", adminID)
	assert.ErrorIs(t, err, domain.ErrUserInactive)
	_, err = h.svc.Adjust(ctx, inactive, -1, "fix", adminID)
	assert.ErrorIs(t, err, domain.ErrUserInactive)
	_, err = h.svc.Grant(ctx, snowflake.ID(4242), 10, "promo", 0)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	assert.Empty(t, h.recorder.Actions())
}

func TestListEntriesPaginates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.createUser(t, 0, true)

	for i := 0; i < 5; i++ {
		h.clock.Advance(time.Second)
		_, err := h.svc.Grant(ctx, userID, int64(i+1), "seed", adminID)
		require.NoError(t, err)
	}

	first, err := h.svc.ListEntries(ctx, domain.ListEntriesRequest{UserID: userID, Pagination: paginationOf("", 2)})
	require.NoError(t, err)
	require.Len(t, first.Entries, 2)
	assert.True(t, first.HasMore)
	assert.Equal(t, int64(5), first.Entries[0].Amount)

	second, err := h.svc.ListEntries(ctx, domain.ListEntriesRequest{UserID: userID, Pagination: paginationOf(first.NextPageToken, 2)})
	require.NoError(t, err)
	require.Len(t, second.Entries, 2)
	assert.Equal(t, int64(3), second.Entries[0].Amount)

	third, err := h.svc.ListEntries(ctx, domain.ListEntriesRequest{UserID: userID, Pagination: paginationOf(second.NextPageToken, 2)})
	require.NoError(t, err)
	require.Len(t, third.Entries, 1)
	assert.False(t, third.HasMore)
	assert.Empty(t, third.NextPageToken)

	_, err = h.svc.ListEntries(ctx, domain.ListEntriesRequest{UserID: userID, Pagination: paginationOf("garbage!", 2)})
	assert.ErrorIs(t, err, domain.ErrInvalidPageToken)
	_, err = h.svc.ListEntries(ctx, domain.ListEntriesRequest{UserID: userID, Reason: "bogus"})
	assert.ErrorIs(t, err, domain.ErrInvalidReason)
}

func TestResolveStaleSettlesByOutcome(t *testing.T) {
	var succeeded sync.Map
	h := newHarness(t, func(p *Params) {
		p.Outcomes = domain.OutcomeLookupFunc(func(_ context.Context, id snowflake.ID) (bool, error) {
			_, ok := succeeded.Load(id)
			return ok, nil
		})
	})
	ctx := context.Background()
	userID := h.createUser(t, 100, true)

	done, err := h.svc.Reserve(ctx, reserveReq(userID, "req-done", 8))
	require.NoError(t, err)
	succeeded.Store(done.ID, true)
	lost, err := h.svc.Reserve(ctx, reserveReq(userID, "req-lost", 16))
	require.NoError(t, err)

	h.clock.Advance(5 * time.Minute)
	fresh, err := h.svc.Reserve(ctx, reserveReq(userID, "req-fresh", 8))
	require.NoError(t, err)

	h.clock.Advance(11 * time.Minute)
	result, err := h.svc.ResolveStale(ctx, 15*time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.SweepResult{Scanned: 2, Committed: 1, Refunded: 1}, result)

	got, err := h.svc.GetReservation(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationCommitted, got.Status)
	got, err = h.svc.GetReservation(ctx, lost.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationRefunded, got.Status)
	got, err = h.svc.GetReservation(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationReserved, got.Status)

	assert.Equal(t, int64(84), h.balance(t, userID))
	entries, err := h.svc.History(ctx, userID, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonReservationExpired, entries[0].Reason)

	counts, err := h.svc.ReservationCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[domain.ReservationCommitted])
	assert.Equal(t, int64(1), counts[domain.ReservationRefunded])
	assert.Equal(t, int64(1), counts[domain.ReservationReserved])

	h.assertConsistent(t, userID)
}

type stubPricing struct {
	pricing.Resolver
	rate  float64
	bonus *pricing.Bonus
}

func (s stubPricing) CreditsToCurrency(_ context.Context, credits int64) (float64, error) {
	return float64(credits) / s.rate, nil
}

func (s stubPricing) PromotionFor(_ context.Context, spend float64) (pricing.Bonus, bool, error) {
	if s.bonus == nil || spend < s.bonus.MinSpend {
		return pricing.Bonus{}, false, nil
	}
	return *s.bonus, true, nil
}

func TestPurchaseAddsPromotionBonus(t *testing.T) {
	h := newHarness(t, func(p *Params) {
		p.Config = config.Config{Ledger: config.LedgerConfig{PurchaseEnabled: true}}
		p.Pricing = stubPricing{rate: 50, bonus: &pricing.Bonus{MinSpend: 10, BonusCredits: 50}}
	})
	ctx := context.Background()
	userID := h.createUser(t, 100, true)

	result, err := h.svc.Purchase(ctx, userID, 500)
	require.NoError(t, err)
	assert.Equal(t, float64(10), result.Amount)
	assert.Equal(t, int64(50), result.BonusCredits)
	assert.Equal(t, int64(650), result.Balance)
	require.Len(t, result.Entries, 2)
	assert.Equal(t, domain.ReasonPurchase, result.Entries[0].Reason)
	assert.Equal(t, domain.ReasonPromotionBonus, result.Entries[1].Reason)

	result, err = h.svc.Purchase(ctx, userID, 100)
	require.NoError(t, err)
	assert.Zero(t, result.BonusCredits)
	assert.Equal(t, int64(750), result.Balance)

	h.assertConsistent(t, userID)
	assert.Equal(t, []string{auditdomain.ActionCreditsPurchased, auditdomain.ActionCreditsPurchased}, h.recorder.Actions())
}

func TestPurchaseDisabledByDefault(t *testing.T) {
	h := newHarness(t)
	userID := h.createUser(t, 100, true)

	_, err := h.svc.Purchase(context.Background(), userID, 500)
	assert.ErrorIs(t, err, domain.ErrPurchaseDisabled)
}

func TestVerifyDetectsDrift(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.createUser(t, 100, true)

	_, err := h.svc.Reserve(ctx, reserveReq(userID, "req-v", 8))
	require.NoError(t, err)
	require.NoError(t, h.db.Model(&userdomain.User{}).Where("id = ?", userID).Update("credit_balance", 1000).Error)

	result, err := h.svc.Verify(ctx, userID)
	require.NoError(t, err)
	assert.False(t, result.Consistent)
	assert.Equal(t, int64(908), result.Drift)
	assert.Equal(t, int64(-8), result.EntrySum)
	assert.Equal(t, int64(1), result.EntryCount)

	_, err = h.svc.Verify(ctx, snowflake.ID(1))
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}
