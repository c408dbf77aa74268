package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/pixelcredit/internal/audit/domain"
	"github.com/smallbiznis/pixelcredit/internal/auth/domain"
	"github.com/smallbiznis/pixelcredit/internal/auth/password"
	catalogdomain "github.com/smallbiznis/pixelcredit/internal/catalog/domain"
	"github.com/smallbiznis/pixelcredit/internal/clock"
	userdomain "github.com/smallbiznis/pixelcredit/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	sessionTokenBytes = 32
	SessionTTL        = 7 * 24 * time.Hour

	MinPasswordLength = 8

	// revoked and expired sessions are kept this long for audit lookups
	sessionRetention = 24 * time.Hour
)

type Params struct {
	fx.In

	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	SessionRepo domain.SessionRepository
	UserSvc     userdomain.Service
	Catalog     catalogdomain.Store
	AuditSvc    auditdomain.Service `optional:"true"`
}

type Service struct {
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	sessionRepo domain.SessionRepository
	userSvc     userdomain.Service
	catalog     catalogdomain.Store
	auditSvc    auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		log:         p.Log.Named("auth.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		sessionRepo: p.SessionRepo,
		userSvc:     p.UserSvc,
		catalog:     p.Catalog,
		auditSvc:    p.AuditSvc,
	}
}

// Register creates a regular account funded with the current initial credit grant.
func (s *Service) Register(ctx context.Context, req domain.RegisterRequest) (userdomain.User, error) {
	if len(req.Password) < MinPasswordLength {
		return userdomain.User{}, domain.ErrWeakPassword
	}
	email, err := userdomain.NormalizeEmail(req.Email)
	if err != nil {
		return userdomain.User{}, err
	}

	settings, err := s.catalog.GetSettings(ctx)
	if err != nil {
		return userdomain.User{}, err
	}

	hashed, err := password.Hash(req.Password)
	if err != nil {
		return userdomain.User{}, err
	}

	user, err := s.userSvc.Create(ctx, userdomain.CreateUserRequest{
		Email:        email,
		PasswordHash: hashed,
		DisplayName:  req.DisplayName,
		InitialGrant: settings.InitialCredits,
	})
	if err != nil {
		return userdomain.User{}, err
	}

	s.audit(ctx, user.ID, auditdomain.ActionUserRegistered, map[string]any{
		"initial_grant":    user.InitialGrant,
		"settings_version": settings.Version,
	})
	return user, nil
}

func (s *Service) Login(ctx context.Context, req domain.LoginRequest) (*domain.LoginResult, error) {
	if strings.TrimSpace(req.Password) == "" {
		return nil, domain.ErrInvalidCredentials
	}

	user, err := s.userSvc.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, userdomain.ErrNotFound) || errors.Is(err, userdomain.ErrInvalidEmail) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	if user.PasswordHash == "" || !password.Verify(req.Password, user.PasswordHash) {
		s.audit(ctx, user.ID, auditdomain.ActionUserLoginFailed, nil)
		return nil, domain.ErrInvalidCredentials
	}

	rawToken, err := newSessionToken()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	session := &domain.Session{
		ID:               s.genID.Generate(),
		UserID:           user.ID,
		SessionTokenHash: hashToken(rawToken),
		UserAgent:        strings.TrimSpace(req.UserAgent),
		IPAddress:        strings.TrimSpace(req.IPAddress),
		ExpiresAt:        now.Add(SessionTTL),
		CreatedAt:        now,
		LastSeenAt:       now,
	}
	if err := s.sessionRepo.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	s.audit(ctx, user.ID, auditdomain.ActionUserLogin, map[string]any{
		"session_id": session.ID.String(),
	})

	return &domain.LoginResult{
		User:      user,
		RawToken:  rawToken,
		ExpiresAt: session.ExpiresAt,
		SessionID: session.ID,
	}, nil
}

func (s *Service) Logout(ctx context.Context, rawToken string) error {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return domain.ErrInvalidSession
	}

	session, err := s.sessionRepo.GetSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.ErrInvalidSession
		}
		return err
	}
	if session.RevokedAt != nil {
		return nil
	}

	err = s.sessionRepo.RevokeSession(ctx, session.ID, s.clock.Now())
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil
	}
	return err
}

// Authenticate resolves a cookie token to its session and a fresh copy of the user.
// Admin status always comes from the stored user, never from the client.
func (s *Service) Authenticate(ctx context.Context, rawToken string) (*domain.Principal, error) {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return nil, domain.ErrInvalidSession
	}

	session, err := s.sessionRepo.GetSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, domain.ErrInvalidSession
		}
		return nil, err
	}

	now := s.clock.Now()
	if session.RevokedAt != nil {
		return nil, domain.ErrSessionRevoked
	}
	if now.After(session.ExpiresAt) {
		return nil, domain.ErrSessionExpired
	}

	user, err := s.userSvc.Get(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, userdomain.ErrNotFound) {
			return nil, domain.ErrInvalidSession
		}
		return nil, err
	}

	if err := s.sessionRepo.UpdateLastSeen(ctx, session.ID, now); err != nil {
		s.log.Warn("failed to touch session", zap.String("session_id", session.ID.String()), zap.Error(err))
	}

	return &domain.Principal{Session: session, User: user}, nil
}

func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.sessionRepo.DeleteExpired(ctx, s.clock.Now().Add(-sessionRetention))
}

func (s *Service) audit(ctx context.Context, userID snowflake.ID, action string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	actorID := userID.String()
	targetID := userID.String()
	if err := s.auditSvc.AuditLog(ctx, string(auditdomain.ActorTypeUser), &actorID, action, "user", &targetID, metadata); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func newSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
