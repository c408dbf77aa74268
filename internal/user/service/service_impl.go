package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/pixelcredit/internal/audit/domain"
	"github.com/smallbiznis/pixelcredit/internal/clock"
	"github.com/smallbiznis/pixelcredit/internal/user/domain"
	"github.com/smallbiznis/pixelcredit/internal/user/repository"
	"github.com/smallbiznis/pixelcredit/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 250
	maxDisplayName   = 120
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	auditSvc auditdomain.Service
}

func NewService(p Params) domain.Service {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("user.service"),
		genID:    p.GenID,
		clock:    c,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateUserRequest) (domain.User, error) {
	email, err := domain.NormalizeEmail(req.Email)
	if err != nil {
		return domain.User{}, err
	}
	name, err := normalizeDisplayName(req.DisplayName, strings.TrimSpace(req.Email))
	if err != nil {
		return domain.User{}, err
	}
	if req.InitialGrant < 0 {
		return domain.User{}, domain.ErrNegativeGrant
	}

	existing, err := s.repo.FindByEmail(ctx, s.db, email)
	if err != nil {
		return domain.User{}, err
	}
	if existing != nil {
		return domain.User{}, domain.ErrEmailTaken
	}

	now := s.clock.Now()
	user := domain.User{
		ID:            s.genID.Generate(),
		Email:         email,
		PasswordHash:  req.PasswordHash,
		DisplayName:   name,
		CreditBalance: req.InitialGrant,
		InitialGrant:  req.InitialGrant,
		IsActive:      true,
		IsAdmin:       req.IsAdmin,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Insert(ctx, s.db, &user); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.User{}, domain.ErrEmailTaken
		}
		return domain.User{}, err
	}

	s.log.Info("user created", zap.String("user_id", user.ID.String()), zap.Bool("is_admin", user.IsAdmin))
	return user, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.User, error) {
	if id == 0 {
		return domain.User{}, domain.ErrInvalidID
	}
	user, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.User{}, err
	}
	if user == nil {
		return domain.User{}, domain.ErrNotFound
	}
	return *user, nil
}

func (s *Service) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	normalized, err := domain.NormalizeEmail(email)
	if err != nil {
		return domain.User{}, err
	}
	user, err := s.repo.FindByEmail(ctx, s.db, normalized)
	if err != nil {
		return domain.User{}, err
	}
	if user == nil {
		return domain.User{}, domain.ErrNotFound
	}
	return *user, nil
}

func (s *Service) List(ctx context.Context, req domain.ListUserRequest) (domain.ListUserResponse, error) {
	if !repository.ValidSort(req.Sort) {
		return domain.ListUserResponse{}, domain.ErrInvalidSort
	}
	page := req.Page
	if page <= 0 {
		page = 1
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	items, total, err := s.repo.List(ctx, s.db, domain.ListUserFilter{
		Email:  req.Email,
		Active: req.Active,
		Sort:   req.Sort,
		Offset: (page - 1) * limit,
		Limit:  limit,
	})
	if err != nil {
		return domain.ListUserResponse{}, err
	}

	users := make([]domain.User, 0, len(items))
	for _, item := range items {
		if item != nil {
			users = append(users, *item)
		}
	}
	return domain.ListUserResponse{Users: users, Page: page, Limit: limit, Total: total}, nil
}

// UpdateProfile changes the display name only. Balance and admin flag are never writable here.
func (s *Service) UpdateProfile(ctx context.Context, actorID, id snowflake.ID, req domain.UpdateProfileRequest) (domain.User, error) {
	user, err := s.Get(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	name, err := normalizeDisplayName(req.DisplayName, "")
	if err != nil {
		return domain.User{}, err
	}

	before := user.DisplayName
	user.DisplayName = name
	user.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateProfile(ctx, s.db, &user); err != nil {
		return domain.User{}, err
	}

	s.audit(ctx, actorID, auditdomain.ActionUserUpdated, user.ID, map[string]any{
		"before": map[string]any{"display_name": before},
		"after":  map[string]any{"display_name": user.DisplayName},
	})
	return user, nil
}

func (s *Service) Deactivate(ctx context.Context, actorID, id snowflake.ID) (domain.User, error) {
	if actorID != 0 && actorID == id {
		return domain.User{}, domain.ErrCannotDeactivate
	}
	user, err := s.Get(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if !user.IsActive {
		return domain.User{}, domain.ErrAlreadyInState
	}

	now := s.clock.Now()
	user.IsActive = false
	user.DeactivatedAt = &now
	if actorID != 0 {
		by := actorID
		user.DeactivatedBy = &by
	}
	user.UpdatedAt = now
	changed, err := s.repo.SetActive(ctx, s.db, &user)
	if err != nil {
		return domain.User{}, err
	}
	if !changed {
		return domain.User{}, domain.ErrAlreadyInState
	}

	s.audit(ctx, actorID, auditdomain.ActionUserDeactivated, user.ID, map[string]any{
		"before": map[string]any{"is_active": true},
		"after":  map[string]any{"is_active": false},
	})
	return user, nil
}

func (s *Service) Reactivate(ctx context.Context, actorID, id snowflake.ID) (domain.User, error) {
	user, err := s.Get(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if user.IsActive {
		return domain.User{}, domain.ErrAlreadyInState
	}

	user.IsActive = true
	user.DeactivatedAt = nil
	user.DeactivatedBy = nil
	user.UpdatedAt = s.clock.Now()
	changed, err := s.repo.SetActive(ctx, s.db, &user)
	if err != nil {
		return domain.User{}, err
	}
	if !changed {
		return domain.User{}, domain.ErrAlreadyInState
	}

	s.audit(ctx, actorID, auditdomain.ActionUserReactivated, user.ID, map[string]any{
		"before": map[string]any{"is_active": false},
		"after":  map[string]any{"is_active": true},
	})
	return user, nil
}

func (s *Service) Counts(ctx context.Context) (domain.Counts, error) {
	active, inactive, err := s.repo.CountByActive(ctx, s.db)
	if err != nil {
		return domain.Counts{}, err
	}
	return domain.Counts{Active: active, Inactive: inactive}, nil
}

func (s *Service) audit(ctx context.Context, actorID snowflake.ID, action string, userID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	var actor *string
	if actorID != 0 {
		value := actorID.String()
		actor = &value
	}
	target := userID.String()
	if err := s.auditSvc.AuditLog(ctx, string(auditdomain.ActorTypeAdmin), actor, action, auditdomain.TargetTypeUser, &target, metadata); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func normalizeDisplayName(name, fallbackEmail string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" && fallbackEmail != "" {
		name = strings.SplitN(fallbackEmail, "@", 2)[0]
	}
	if name == "" || utf8.RuneCountInString(name) > maxDisplayName {
		return "", domain.ErrInvalidName
	}
	return name, nil
}
