package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/pixelcredit/internal/clock"
	"github.com/smallbiznis/pixelcredit/internal/config"
	"github.com/smallbiznis/pixelcredit/internal/events"
	"github.com/smallbiznis/pixelcredit/internal/generation/domain"
	ledgerdomain "github.com/smallbiznis/pixelcredit/internal/ledger/domain"
	"github.com/smallbiznis/pixelcredit/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/pixelcredit/internal/observability/metrics"
	"github.com/smallbiznis/pixelcredit/internal/observability/tracing"
	"github.com/smallbiznis/pixelcredit/internal/pricing"
	"github.com/smallbiznis/pixelcredit/internal/providers/imagegen"
	"github.com/smallbiznis/pixelcredit/internal/ratelimit"
	userdomain "github.com/smallbiznis/pixelcredit/internal/user/domain"
	"github.com/smallbiznis/pixelcredit/pkg/db/pagination"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultProviderTimeout = 60 * time.Second
	settleTimeout          = 15 * time.Second
	rateLimitEndpoint      = "generations"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   config.Config
	Repo     domain.Repository
	Pricing  pricing.Resolver
	Ledger   ledgerdomain.Service
	Provider imagegen.Provider
	Events   events.Publisher            `optional:"true"`
	Limiter  ratelimit.GenerationLimiter `optional:"true"`
	UserSvc  userdomain.Service          `optional:"true"`
	Metrics  *obsmetrics.Metrics         `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	timeout  time.Duration
	repo     domain.Repository
	pricing  pricing.Resolver
	ledger   ledgerdomain.Service
	provider imagegen.Provider
	events   events.Publisher
	limiter  ratelimit.GenerationLimiter
	userSvc  userdomain.Service
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	timeout := p.Config.Provider.Timeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	publisher := p.Events
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("generation.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		timeout:  timeout,
		repo:     p.Repo,
		pricing:  p.Pricing,
		ledger:   p.Ledger,
		provider: p.Provider,
		events:   publisher,
		limiter:  p.Limiter,
		userSvc:  p.UserSvc,
		metrics:  p.Metrics,
	}
}

// attempt carries one request through settlement.
type attempt struct {
	requestID   string
	userID      snowflake.ID
	prompt      string
	variant     string
	quote       pricing.Quote
	reservation *ledgerdomain.Reservation
	startedAt   time.Time
	log         *zap.Logger
}

// Generate prices, reserves, calls the provider and settles. Once credits are reserved
// every exit path, including a panic, ends in a commit or a refund.
func (s *Service) Generate(ctx context.Context, req domain.GenerateRequest) (result *domain.Result, err error) {
	prompt, variant, err := validate(req)
	if err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer("pixelcredit/generation").Start(ctx, "generation.generate")
	defer span.End()
	span.SetAttributes(tracing.SafeAttributes(
		attribute.String("variant", variant),
		attribute.Int("prompt_length", utf8.RuneCountInString(prompt)),
	)...)
	defer func() {
		if err != nil {
			span.RecordError(tracing.SafeError(err))
			span.SetStatus(codes.Error, "generation failed")
		}
	}()

	if err := s.allow(ctx, req.UserID); err != nil {
		return nil, err
	}

	quote, err := s.pricing.PriceFor(ctx, variant)
	if err != nil {
		return nil, err
	}

	a := &attempt{
		requestID: ulid.Make().String(),
		userID:    req.UserID,
		prompt:    prompt,
		variant:   variant,
		quote:     quote,
	}
	a.log = logger.WithGeneration(logger.WithContext(ctx, s.log), a.requestID, int64(req.UserID))
	span.SetAttributes(attribute.String("generation.request_id", a.requestID))

	a.reservation, err = s.ledger.Reserve(ctx, ledgerdomain.ReserveRequest{
		UserID:          req.UserID,
		RequestID:       a.requestID,
		Variant:         variant,
		Amount:          quote.Credits,
		ServiceCode:     quote.ServiceCode,
		CustomerCost:    quote.CustomerCost,
		ConversionRate:  quote.ConversionRate,
		SettingsVersion: quote.SettingsVersion,
	})
	if err != nil {
		return nil, err
	}
	a.startedAt = s.clock.Now()

	settled := false
	defer func() {
		if settled {
			return
		}
		rec := recover()
		cause := fmt.Errorf("generation aborted: %v", rec)
		a.log.Error("generation aborted before settlement", zap.Any("panic", rec))
		result, err = nil, s.fail(ctx, a, cause)
	}()

	asset, callErr := s.callProvider(ctx, a)
	if callErr != nil {
		settled = true
		return nil, s.fail(ctx, a, callErr)
	}
	settled = true
	return s.succeed(ctx, a, asset), nil
}

func (s *Service) callProvider(ctx context.Context, a *attempt) (asset imagegen.Asset, err error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("provider panic: %v", rec)
		}
		status := "ok"
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			status = "timeout"
		case errors.Is(err, context.Canceled):
			status = "canceled"
		case err != nil:
			status = "error"
		}
		s.metrics.ObserveProviderCall(ctx, s.provider.Name(), status, time.Since(start))
	}()

	asset, err = s.provider.GenerateAsset(callCtx, a.prompt, a.variant)
	if err == nil && strings.TrimSpace(asset.Ref) == "" {
		err = imagegen.ErrEmptyResult
	}
	return asset, err
}

// succeed commits the reservation. A failed commit is left for the sweeper, which
// commits it because the succeeded record exists.
func (s *Service) succeed(ctx context.Context, a *attempt, asset imagegen.Asset) *domain.Result {
	settleCtx, cancel := detached(ctx)
	defer cancel()

	charged := a.quote.Credits
	refunded := false
	if _, err := s.ledger.Commit(settleCtx, a.reservation.ID); err != nil {
		if errors.Is(err, ledgerdomain.ErrReservationSettled) {
			// The sweeper refunded it while the provider was still working.
			charged, refunded = 0, true
			a.log.Error("reservation settled before commit, generation not charged",
				zap.String("reservation_id", a.reservation.ID.String()),
				zap.Int64("quoted", a.quote.Credits),
			)
		} else {
			a.log.Error("failed to commit reservation", zap.String("reservation_id", a.reservation.ID.String()), zap.Error(err))
		}
	} else {
		s.metrics.RecordCreditsCharged(ctx, a.variant, charged)
	}

	s.saveRecord(settleCtx, a, &domain.Record{
		Status:   domain.StatusSucceeded,
		AssetRef: asset.Ref,
		Cost:     charged,
		Refunded: refunded,
	})
	s.publish(settleCtx, a, events.TypeGenerationSucceeded, map[string]any{
		"asset_ref": asset.Ref,
		"charged":   charged,
	})
	s.metrics.RecordGeneration(ctx, a.variant, string(domain.StatusSucceeded))

	balance, err := s.ledger.Balance(settleCtx, a.userID)
	if err != nil {
		a.log.Warn("failed to read balance after generation", zap.Error(err))
		balance = -1
	}
	a.log.Info("generation succeeded", zap.Int64("cost", charged), zap.String("variant", a.variant))

	return &domain.Result{
		RequestID:     a.requestID,
		ReservationID: a.reservation.ID,
		Variant:       a.variant,
		AssetRef:      asset.Ref,
		RevisedPrompt: asset.RevisedPrompt,
		Cost:          charged,
		Balance:       balance,
	}
}

// fail refunds the reservation on a context that outlives the caller.
func (s *Service) fail(ctx context.Context, a *attempt, cause error) error {
	settleCtx, cancel := detached(ctx)
	defer cancel()

	refunded := true
	if _, err := s.ledger.Refund(settleCtx, a.reservation.ID, ledgerdomain.ReasonGenerationRefund); err != nil {
		refunded = false
		a.log.Error("failed to refund reservation", zap.String("reservation_id", a.reservation.ID.String()), zap.Error(err))
	}

	s.saveRecord(settleCtx, a, &domain.Record{
		Status:       domain.StatusFailed,
		ErrorMessage: tracing.SafeError(cause).Error(),
		Cost:         a.quote.Credits,
		Refunded:     refunded,
	})
	s.publish(settleCtx, a, events.TypeGenerationFailed, map[string]any{
		"error":    tracing.SafeError(cause).Error(),
		"refunded": refunded,
	})
	s.metrics.RecordGeneration(ctx, a.variant, string(domain.StatusFailed))
	a.log.Warn("generation failed", zap.Bool("refunded", refunded), zap.Error(cause))

	return &domain.ProviderError{RequestID: a.requestID, Refunded: refunded, Err: cause}
}

func (s *Service) saveRecord(ctx context.Context, a *attempt, record *domain.Record) {
	record.ID = s.genID.Generate()
	record.UserID = a.userID
	record.ReservationID = a.reservation.ID
	record.RequestID = a.requestID
	record.Prompt = a.prompt
	record.Variant = a.variant
	record.Provider = s.provider.Name()
	record.CreatedAt = s.clock.Now()
	record.DurationMs = record.CreatedAt.Sub(a.startedAt).Milliseconds()
	if err := s.repo.Insert(ctx, s.db, record); err != nil {
		a.log.Warn("failed to persist generation record", zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, a *attempt, eventType string, payload map[string]any) {
	payload["request_id"] = a.requestID
	payload["user_id"] = a.userID.String()
	payload["variant"] = a.variant
	payload["cost"] = a.quote.Credits
	payload["reservation_id"] = a.reservation.ID.String()

	if err := s.events.Publish(ctx, events.Event{
		ID:         ulid.Make().String(),
		Type:       eventType,
		OccurredAt: s.clock.Now(),
		Payload:    payload,
	}); err != nil {
		a.log.Warn("failed to publish generation event", zap.String("type", eventType), zap.Error(err))
	}
}

func (s *Service) allow(ctx context.Context, userID snowflake.ID) error {
	if s.limiter == nil {
		return nil
	}
	res, err := s.limiter.Allow(ctx, userID.String())
	if err != nil {
		s.log.Warn("rate limiter failed, allowing request", zap.Error(err))
		return nil
	}
	if !res.Allowed {
		s.metrics.RecordRateLimitDenied(ctx, rateLimitEndpoint, "user")
		return &RateLimitError{RetryAfter: res.RetryAfter}
	}
	return nil
}

func (s *Service) History(ctx context.Context, req domain.HistoryRequest) (domain.HistoryResponse, error) {
	if req.UserID == 0 {
		return domain.HistoryResponse{}, domain.ErrInvalidUser
	}
	status := domain.Status(strings.TrimSpace(req.Status))
	if status != "" && status != domain.StatusSucceeded && status != domain.StatusFailed {
		return domain.HistoryResponse{}, domain.ErrInvalidStatus
	}

	var cursor *domain.RecordCursor
	if token := strings.TrimSpace(req.PageToken); token != "" {
		decoded, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.HistoryResponse{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(decoded.ID)
		if err != nil {
			return domain.HistoryResponse{}, domain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return domain.HistoryResponse{}, domain.ErrInvalidPageToken
		}
		cursor = &domain.RecordCursor{ID: id, CreatedAt: createdAt}
	}

	pageSize := pagination.NormalizePageSize(req.PageSize)
	records, err := s.repo.List(ctx, s.db, domain.ListRecordFilter{
		UserID: req.UserID,
		Status: status,
		Cursor: cursor,
		Limit:  pageSize + 1,
	})
	if err != nil {
		return domain.HistoryResponse{}, err
	}

	records, pageInfo := pagination.BuildCursorPageInfo(records, pageSize, func(r *domain.Record) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        r.ID.String(),
			CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			s.log.Warn("failed to encode generation cursor", zap.Error(err))
			return ""
		}
		return token
	})
	return domain.HistoryResponse{PageInfo: pageInfo, Records: records}, nil
}

func (s *Service) Stats(ctx context.Context) (domain.Stats, error) {
	recordStats, err := s.repo.Stats(ctx, s.db)
	if err != nil {
		return domain.Stats{}, err
	}
	stats := domain.Stats{
		Generations:  recordStats.Total,
		Succeeded:    recordStats.Succeeded,
		Failed:       recordStats.Failed,
		CreditsSpent: recordStats.CreditsSpent,
	}

	reservations, err := s.ledger.ReservationCounts(ctx)
	if err != nil {
		return domain.Stats{}, err
	}
	stats.OpenReservations = reservations[ledgerdomain.ReservationReserved]
	stats.RefundedCount = reservations[ledgerdomain.ReservationRefunded]

	if s.userSvc != nil {
		counts, err := s.userSvc.Counts(ctx)
		if err != nil {
			return domain.Stats{}, err
		}
		stats.ActiveUsers = counts.Active
		stats.InactiveUsers = counts.Inactive
	}

	quotes, err := s.pricing.Quotes(ctx)
	if err != nil && !errors.Is(err, pricing.ErrServiceUnavailable) {
		return domain.Stats{}, err
	}
	stats.ServicesAvailable = len(quotes)
	return stats, nil
}

// RateLimitError is returned when the per-user generation limit is exhausted.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return ratelimit.ErrRateLimited.Error()
}

func (e *RateLimitError) Unwrap() error {
	return ratelimit.ErrRateLimited
}

func validate(req domain.GenerateRequest) (string, string, error) {
	if req.UserID == 0 {
		return "", "", domain.ErrInvalidUser
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", "", domain.ErrEmptyPrompt
	}
	if utf8.RuneCountInString(prompt) > domain.MaxPromptLength {
		return "", "", domain.ErrPromptTooLong
	}
	variant := strings.ToLower(strings.TrimSpace(req.Variant))
	if variant == "" {
		return "", "", domain.ErrInvalidVariant
	}
	return prompt, variant, nil
}

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}
