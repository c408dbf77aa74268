package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/pixelcredit/internal/audit/domain"
	"github.com/smallbiznis/pixelcredit/internal/clock"
	"github.com/smallbiznis/pixelcredit/internal/config"
	"github.com/smallbiznis/pixelcredit/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/pixelcredit/internal/observability/metrics"
	"github.com/smallbiznis/pixelcredit/internal/pricing"
	pkgdb "github.com/smallbiznis/pixelcredit/pkg/db"
	"github.com/smallbiznis/pixelcredit/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxTxAttempts       = 3
	defaultSweepBatch   = 100
	settlementRefunded  = "refunded"
	settlementCommitted = "committed"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   config.Config
	Repo     domain.Repository
	Pricing  pricing.Resolver     `optional:"true"`
	AuditSvc auditdomain.Service  `optional:"true"`
	Outcomes domain.OutcomeLookup `optional:"true"`
	Metrics  *obsmetrics.Metrics  `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	cfg      config.LedgerConfig
	repo     domain.Repository
	pricing  pricing.Resolver
	auditSvc auditdomain.Service
	outcomes domain.OutcomeLookup
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("ledger.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		cfg:      p.Config.Ledger,
		repo:     p.Repo,
		pricing:  p.Pricing,
		auditSvc: p.AuditSvc,
		outcomes: p.Outcomes,
		metrics:  p.Metrics,
	}
}

// Reserve takes the quoted amount from the user's balance and opens a reservation.
// Nothing is written when the user cannot pay.
func (s *Service) Reserve(ctx context.Context, req domain.ReserveRequest) (*domain.Reservation, error) {
	if req.UserID == 0 {
		return nil, domain.ErrInvalidUser
	}
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	requestID := strings.TrimSpace(req.RequestID)
	if requestID == "" {
		return nil, domain.ErrInvalidRequestID
	}

	now := s.clock.Now()
	reservation := &domain.Reservation{
		ID:              s.genID.Generate(),
		UserID:          req.UserID,
		Amount:          req.Amount,
		Status:          domain.ReservationReserved,
		RequestID:       requestID,
		Variant:         req.Variant,
		ServiceCode:     req.ServiceCode,
		CustomerCost:    req.CustomerCost,
		ConversionRate:  req.ConversionRate,
		SettingsVersion: req.SettingsVersion,
		CreatedAt:       now,
	}

	err := s.withTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.Debit(ctx, tx, req.UserID, req.Amount, now)
		if err != nil {
			return err
		}
		if !ok {
			return s.debitFailure(ctx, tx, req.UserID)
		}
		balance, err := s.balanceIn(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		if err := s.repo.InsertReservation(ctx, tx, reservation); err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicateRequest
			}
			return err
		}
		return s.repo.InsertEntry(ctx, tx, &domain.Entry{
			ID:            s.genID.Generate(),
			UserID:        req.UserID,
			Amount:        -req.Amount,
			Reason:        domain.ReasonGenerationCharge,
			BalanceAfter:  balance,
			ReservationID: &reservation.ID,
			RequestID:     requestID,
			CreatedAt:     now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordLedgerEntry(ctx, string(domain.ReasonGenerationCharge))
	return reservation, nil
}

// Commit finalizes a charge. The balance was already taken at reservation time.
func (s *Service) Commit(ctx context.Context, reservationID snowflake.ID) (*domain.Reservation, error) {
	if reservationID == 0 {
		return nil, domain.ErrReservationNotFound
	}

	var reservation *domain.Reservation
	err := s.withTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.Transition(ctx, tx, reservationID, domain.ReservationCommitted, s.clock.Now())
		if err != nil {
			return err
		}
		if !ok {
			return s.settleFailure(ctx, tx, reservationID)
		}
		reservation, err = s.repo.FindReservation(ctx, tx, reservationID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordSettlement(ctx, settlementCommitted)
	return reservation, nil
}

// Refund returns a reserved amount to the user. Inactive users are still refunded.
func (s *Service) Refund(ctx context.Context, reservationID snowflake.ID, reason domain.Reason) (*domain.Reservation, error) {
	if reservationID == 0 {
		return nil, domain.ErrReservationNotFound
	}
	if !reason.IsRefund() {
		return nil, domain.ErrInvalidReason
	}

	now := s.clock.Now()
	var reservation *domain.Reservation
	err := s.withTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.Transition(ctx, tx, reservationID, domain.ReservationRefunded, now)
		if err != nil {
			return err
		}
		if !ok {
			return s.settleFailure(ctx, tx, reservationID)
		}
		reservation, err = s.repo.FindReservation(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		if reservation == nil {
			return domain.ErrReservationNotFound
		}

		credited, err := s.repo.Credit(ctx, tx, reservation.UserID, reservation.Amount, false, now)
		if err != nil {
			return err
		}
		if !credited {
			return domain.ErrUserNotFound
		}
		balance, err := s.balanceIn(ctx, tx, reservation.UserID)
		if err != nil {
			return err
		}
		return s.repo.InsertEntry(ctx, tx, &domain.Entry{
			ID:            s.genID.Generate(),
			UserID:        reservation.UserID,
			Amount:        reservation.Amount,
			Reason:        reason,
			BalanceAfter:  balance,
			ReservationID: &reservation.ID,
			RequestID:     reservation.RequestID,
			CreatedAt:     now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordLedgerEntry(ctx, string(reason))
	s.metrics.RecordSettlement(ctx, settlementRefunded)
	return reservation, nil
}

func (s *Service) Grant(ctx context.Context, userID snowflake.ID, amount int64, note string, actorID snowflake.ID) (*domain.Entry, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, domain.ErrReasonRequired
	}

	entry, err := s.applyDelta(ctx, userID, amount, domain.ReasonAdminGrant, note, actorPtr(actorID))
	if err != nil {
		return nil, err
	}

	s.audit(ctx, actorID, auditdomain.ActionCreditsGranted, userID, map[string]any{
		"amount": amount,
		"reason": note,
		"before": map[string]any{"credit_balance": entry.BalanceAfter - amount},
		"after":  map[string]any{"credit_balance": entry.BalanceAfter},
	})
	return entry, nil
}

// Adjust applies a signed correction. A negative delta never takes the balance below zero.
func (s *Service) Adjust(ctx context.Context, userID snowflake.ID, delta int64, note string, actorID snowflake.ID) (*domain.Entry, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}
	if delta == 0 {
		return nil, domain.ErrInvalidAmount
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, domain.ErrReasonRequired
	}

	entry, err := s.applyDelta(ctx, userID, delta, domain.ReasonAdminAdjustment, note, actorPtr(actorID))
	if err != nil {
		return nil, err
	}

	s.audit(ctx, actorID, auditdomain.ActionCreditsAdjusted, userID, map[string]any{
		"delta":  delta,
		"reason": note,
		"before": map[string]any{"credit_balance": entry.BalanceAfter - delta},
		"after":  map[string]any{"credit_balance": entry.BalanceAfter},
	})
	return entry, nil
}

// Purchase is a mock checkout: it credits the requested amount plus any matching promotion bonus.
func (s *Service) Purchase(ctx context.Context, userID snowflake.ID, credits int64) (*domain.PurchaseResult, error) {
	if !s.cfg.PurchaseEnabled || s.pricing == nil {
		return nil, domain.ErrPurchaseDisabled
	}
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}
	if credits <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	spend, err := s.pricing.CreditsToCurrency(ctx, credits)
	if err != nil {
		return nil, err
	}
	bonus, hasBonus, err := s.pricing.PromotionFor(ctx, spend)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	result := &domain.PurchaseResult{Credits: credits, Amount: spend}
	err = s.withTx(ctx, func(tx *gorm.DB) error {
		result.Entries = result.Entries[:0]
		purchase, err := s.creditIn(ctx, tx, userID, credits, domain.ReasonPurchase, "", nil, now)
		if err != nil {
			return err
		}
		result.Entries = append(result.Entries, *purchase)
		result.Balance = purchase.BalanceAfter
		if !hasBonus {
			return nil
		}
		bonusEntry, err := s.creditIn(ctx, tx, userID, bonus.BonusCredits, domain.ReasonPromotionBonus,
			fmt.Sprintf("spend >= %.2f", bonus.MinSpend), nil, now)
		if err != nil {
			return err
		}
		result.Entries = append(result.Entries, *bonusEntry)
		result.BonusCredits = bonus.BonusCredits
		result.Balance = bonusEntry.BalanceAfter
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, entry := range result.Entries {
		s.metrics.RecordLedgerEntry(ctx, string(entry.Reason))
	}
	if s.auditSvc != nil {
		actor := userID.String()
		target := userID.String()
		if err := s.auditSvc.AuditLog(ctx, string(auditdomain.ActorTypeUser), &actor, auditdomain.ActionCreditsPurchased, auditdomain.TargetTypeUser, &target, map[string]any{
			"credits":       credits,
			"bonus_credits": result.BonusCredits,
			"amount":        spend,
			"after":         map[string]any{"credit_balance": result.Balance},
		}); err != nil {
			s.log.Warn("failed to write audit log", zap.String("action", auditdomain.ActionCreditsPurchased), zap.Error(err))
		}
	}
	return result, nil
}

func (s *Service) Balance(ctx context.Context, userID snowflake.ID) (int64, error) {
	if userID == 0 {
		return 0, domain.ErrInvalidUser
	}
	account, err := s.repo.FindAccount(ctx, s.db, userID)
	if err != nil {
		return 0, persistence(err)
	}
	if account == nil {
		return 0, domain.ErrUserNotFound
	}
	return account.CreditBalance, nil
}

// History returns the most recent entries, newest first.
func (s *Service) History(ctx context.Context, userID snowflake.ID, limit int) ([]*domain.Entry, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}
	if limit <= 0 {
		limit = domain.DefaultHistoryLimit
	}
	if limit > domain.MaxHistoryLimit {
		limit = domain.MaxHistoryLimit
	}
	entries, err := s.repo.ListEntries(ctx, s.db, domain.ListEntryFilter{UserID: userID, Limit: limit})
	if err != nil {
		return nil, persistence(err)
	}
	return entries, nil
}

func (s *Service) ListEntries(ctx context.Context, req domain.ListEntriesRequest) (domain.ListEntriesResponse, error) {
	if req.UserID == 0 {
		return domain.ListEntriesResponse{}, domain.ErrInvalidUser
	}
	reason := domain.Reason(strings.TrimSpace(req.Reason))
	if reason != "" && !reason.Valid() {
		return domain.ListEntriesResponse{}, domain.ErrInvalidReason
	}

	var cursor *domain.EntryCursor
	if token := strings.TrimSpace(req.PageToken); token != "" {
		decoded, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListEntriesResponse{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(decoded.ID)
		if err != nil {
			return domain.ListEntriesResponse{}, domain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return domain.ListEntriesResponse{}, domain.ErrInvalidPageToken
		}
		cursor = &domain.EntryCursor{ID: id, CreatedAt: createdAt}
	}

	pageSize := pagination.NormalizePageSize(req.PageSize)
	items, err := s.repo.ListEntries(ctx, s.db, domain.ListEntryFilter{
		UserID: req.UserID,
		Reason: reason,
		Cursor: cursor,
		Limit:  pageSize + 1,
	})
	if err != nil {
		return domain.ListEntriesResponse{}, persistence(err)
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(item *domain.Entry) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			s.log.Warn("failed to encode entry cursor", zap.Error(err))
			return ""
		}
		return token
	})

	return domain.ListEntriesResponse{PageInfo: pageInfo, Entries: items}, nil
}

func (s *Service) GetReservation(ctx context.Context, id snowflake.ID) (*domain.Reservation, error) {
	if id == 0 {
		return nil, domain.ErrReservationNotFound
	}
	reservation, err := s.repo.FindReservation(ctx, s.db, id)
	if err != nil {
		return nil, persistence(err)
	}
	if reservation == nil {
		return nil, domain.ErrReservationNotFound
	}
	return reservation, nil
}

// Verify recomputes initial_grant + sum(entries) and compares it with the stored balance.
func (s *Service) Verify(ctx context.Context, userID snowflake.ID) (*domain.VerifyResult, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	var result *domain.VerifyResult
	err := s.withTx(ctx, func(tx *gorm.DB) error {
		account, err := s.repo.FindAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		if account == nil {
			return domain.ErrUserNotFound
		}
		sum, count, err := s.repo.SumEntries(ctx, tx, userID)
		if err != nil {
			return err
		}
		expected := account.InitialGrant + sum
		result = &domain.VerifyResult{
			UserID:       userID,
			Balance:      account.CreditBalance,
			InitialGrant: account.InitialGrant,
			EntrySum:     sum,
			EntryCount:   count,
			Drift:        account.CreditBalance - expected,
			Consistent:   account.CreditBalance == expected,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !result.Consistent {
		s.log.Error("ledger drift detected",
			zap.String("user_id", userID.String()),
			zap.Int64("balance", result.Balance),
			zap.Int64("drift", result.Drift),
		)
	}
	return result, nil
}

func (s *Service) ReservationCounts(ctx context.Context) (map[domain.ReservationStatus]int64, error) {
	counts, err := s.repo.CountByStatus(ctx, s.db)
	if err != nil {
		return nil, persistence(err)
	}
	return counts, nil
}

// ResolveStale settles reservations left open past olderThan. A reservation whose
// generation succeeded is committed; anything else is refunded as expired.
func (s *Service) ResolveStale(ctx context.Context, olderThan time.Duration, batch int) (domain.SweepResult, error) {
	var result domain.SweepResult
	if olderThan < 0 {
		olderThan = 0
	}
	if batch <= 0 {
		batch = defaultSweepBatch
	}

	cutoff := s.clock.Now().Add(-olderThan)
	stale, err := s.repo.ListStale(ctx, s.db, cutoff, batch)
	if err != nil {
		return result, persistence(err)
	}

	for _, reservation := range stale {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Scanned++
		log := s.log.With(
			zap.String("reservation_id", reservation.ID.String()),
			zap.String("request_id", reservation.RequestID),
		)

		succeeded := false
		if s.outcomes != nil {
			succeeded, err = s.outcomes.Succeeded(ctx, reservation.ID)
			if err != nil {
				result.Failed++
				log.Warn("failed to look up generation outcome", zap.Error(err))
				continue
			}
		}

		if succeeded {
			_, err = s.Commit(ctx, reservation.ID)
		} else {
			_, err = s.Refund(ctx, reservation.ID, domain.ReasonReservationExpired)
		}
		switch {
		case err == nil && succeeded:
			result.Committed++
		case err == nil:
			result.Refunded++
		case errors.Is(err, domain.ErrReservationSettled):
			result.Skipped++
		default:
			result.Failed++
			log.Warn("failed to settle stale reservation", zap.Error(err))
		}
	}

	if result.Scanned > 0 {
		s.log.Info("resolved stale reservations",
			zap.Int("scanned", result.Scanned),
			zap.Int("committed", result.Committed),
			zap.Int("refunded", result.Refunded),
			zap.Int("skipped", result.Skipped),
			zap.Int("failed", result.Failed),
		)
	}
	return result, nil
}

func (s *Service) applyDelta(ctx context.Context, userID snowflake.ID, delta int64, reason domain.Reason, note string, actor *snowflake.ID) (*domain.Entry, error) {
	now := s.clock.Now()
	var entry *domain.Entry
	err := s.withTx(ctx, func(tx *gorm.DB) error {
		if delta > 0 {
			var err error
			entry, err = s.creditIn(ctx, tx, userID, delta, reason, note, actor, now)
			return err
		}

		ok, err := s.repo.Debit(ctx, tx, userID, -delta, now)
		if err != nil {
			return err
		}
		if !ok {
			return s.debitFailure(ctx, tx, userID)
		}
		entry, err = s.appendEntry(ctx, tx, userID, delta, reason, note, actor, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordLedgerEntry(ctx, string(reason))
	return entry, nil
}

// creditIn adds to an active user's balance and appends the matching entry.
func (s *Service) creditIn(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount int64, reason domain.Reason, note string, actor *snowflake.ID, now time.Time) (*domain.Entry, error) {
	ok, err := s.repo.Credit(ctx, tx, userID, amount, true, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		account, err := s.repo.FindAccount(ctx, tx, userID)
		if err != nil {
			return nil, err
		}
		if account == nil {
			return nil, domain.ErrUserNotFound
		}
		return nil, domain.ErrUserInactive
	}
	return s.appendEntry(ctx, tx, userID, amount, reason, note, actor, now)
}

func (s *Service) appendEntry(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount int64, reason domain.Reason, note string, actor *snowflake.ID, now time.Time) (*domain.Entry, error) {
	balance, err := s.balanceIn(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	entry := &domain.Entry{
		ID:           s.genID.Generate(),
		UserID:       userID,
		Amount:       amount,
		Reason:       reason,
		BalanceAfter: balance,
		Note:         note,
		ActorID:      actor,
		CreatedAt:    now,
	}
	if err := s.repo.InsertEntry(ctx, tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) balanceIn(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (int64, error) {
	account, err := s.repo.FindAccount(ctx, tx, userID)
	if err != nil {
		return 0, err
	}
	if account == nil {
		return 0, domain.ErrUserNotFound
	}
	return account.CreditBalance, nil
}

// debitFailure explains why a conditional debit matched no row.
func (s *Service) debitFailure(ctx context.Context, tx *gorm.DB, userID snowflake.ID) error {
	account, err := s.repo.FindAccount(ctx, tx, userID)
	if err != nil {
		return err
	}
	switch {
	case account == nil:
		return domain.ErrUserNotFound
	case !account.IsActive:
		return domain.ErrUserInactive
	default:
		return domain.ErrInsufficientCredits
	}
}

func (s *Service) settleFailure(ctx context.Context, tx *gorm.DB, reservationID snowflake.ID) error {
	reservation, err := s.repo.FindReservation(ctx, tx, reservationID)
	if err != nil {
		return err
	}
	if reservation == nil {
		return domain.ErrReservationNotFound
	}
	return domain.ErrReservationSettled
}

// withTx runs fn in a transaction, retrying serialization conflicts.
// Errors that are not ledger sentinels come back wrapped in ErrPersistence.
func (s *Service) withTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(fn)
		if err == nil || !pkgdb.IsRetryableTxErr(err) || ctx.Err() != nil {
			break
		}
		s.log.Warn("retrying ledger transaction", zap.Int("attempt", attempt), zap.Error(err))
	}
	if err != nil && !isLedgerError(err) {
		return persistence(err)
	}
	return err
}

func (s *Service) audit(ctx context.Context, actorID snowflake.ID, action string, userID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	actorType := auditdomain.ActorTypeAdmin
	var actor *string
	if actorID == 0 {
		actorType = auditdomain.ActorTypeSystem
	} else {
		value := actorID.String()
		actor = &value
	}
	target := userID.String()
	if err := s.auditSvc.AuditLog(ctx, string(actorType), actor, action, auditdomain.TargetTypeUser, &target, metadata); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

var ledgerErrors = []error{
	domain.ErrPersistence,
	domain.ErrInsufficientCredits,
	domain.ErrUserInactive,
	domain.ErrUserNotFound,
	domain.ErrReservationSettled,
	domain.ErrReservationNotFound,
	domain.ErrDuplicateRequest,
}

func isLedgerError(err error) bool {
	for _, target := range ledgerErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func persistence(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
}

func actorPtr(actorID snowflake.ID) *snowflake.ID {
	if actorID == 0 {
		return nil
	}
	return &actorID
}
