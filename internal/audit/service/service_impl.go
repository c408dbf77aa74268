package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/pixelcredit/internal/audit/domain"
	"github.com/smallbiznis/pixelcredit/internal/audit/masking"
	"github.com/smallbiznis/pixelcredit/internal/clock"
	obscontext "github.com/smallbiznis/pixelcredit/internal/observability/context"
	"github.com/smallbiznis/pixelcredit/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock `optional:"true"`
	Repo  auditdomain.Repository
}

// Service appends audit entries and serves the admin audit query.
type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	ids   *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	s := &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		ids:   p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	return s
}

func (s *Service) AuditLog(ctx context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	entry, err := s.newEntry(ctx, actorType, actorID, action, targetType, targetID, metadata)
	if err != nil {
		return err
	}
	if err := s.repo.Insert(ctx, s.db, entry); err != nil {
		s.log.Warn("audit insert failed",
			zap.String("action", entry.Action),
			zap.String("target_type", entry.TargetType),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) newEntry(ctx context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) (*auditdomain.AuditLog, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return nil, auditdomain.ErrInvalidAction
	}
	if targetType = strings.TrimSpace(targetType); targetType == "" {
		targetType = "unknown"
	}

	details := masking.MaskSensitive(metadata)
	if details == nil {
		details = map[string]any{}
	}
	if rid := obscontext.RequestIDFromContext(ctx); rid != "" {
		details["request_id"] = rid
	}

	who, whoID := actorOf(ctx, actorType, actorID)
	client := obscontext.ClientFromContext(ctx)

	return &auditdomain.AuditLog{
		ID:         s.ids.Generate(),
		ActorType:  who,
		ActorID:    whoID,
		Action:     action,
		TargetType: targetType,
		TargetID:   trimmed(targetID),
		Metadata:   datatypes.JSONMap(details),
		IPAddress:  trimmed(&client.IPAddress),
		UserAgent:  trimmed(&client.UserAgent),
		CreatedAt:  s.clock.Now(),
	}, nil
}

// List returns entries newest first, one page at a time.
func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	var out auditdomain.ListAuditLogResponse
	if req.StartAt != nil && req.EndAt != nil && req.EndAt.Before(*req.StartAt) {
		return out, auditdomain.ErrInvalidTimeRange
	}
	cursor, err := cursorFromToken(req.PageToken)
	if err != nil {
		return out, err
	}

	limit := pagination.NormalizePageSize(req.PageSize)
	rows, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		ActorType:  req.ActorType,
		ActorID:    req.ActorID,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Cursor:     cursor,
		Limit:      limit,
	})
	if err != nil {
		return out, err
	}

	rows, out.PageInfo = pagination.BuildCursorPageInfo(rows, limit, tokenFor)
	out.AuditLogs = make([]auditdomain.AuditLog, 0, len(rows))
	for _, row := range rows {
		if row != nil {
			out.AuditLogs = append(out.AuditLogs, *row)
		}
	}
	return out, nil
}

func tokenFor(entry *auditdomain.AuditLog) string {
	token, err := pagination.EncodeCursor(pagination.Cursor{
		ID:        entry.ID.String(),
		CreatedAt: entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return ""
	}
	return token
}

func cursorFromToken(token string) (*auditdomain.AuditCursor, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	raw, err := pagination.DecodeCursor(token)
	if err != nil {
		return nil, auditdomain.ErrInvalidPageToken
	}
	at, err := time.Parse(time.RFC3339Nano, raw.CreatedAt)
	if err != nil {
		return nil, auditdomain.ErrInvalidPageToken
	}
	id, err := snowflake.ParseString(strings.TrimSpace(raw.ID))
	if err != nil || id == 0 {
		return nil, auditdomain.ErrInvalidPageToken
	}
	return &auditdomain.AuditCursor{ID: id, CreatedAt: at}, nil
}

// actorOf prefers the explicit actor, then the one on ctx, then system.
func actorOf(ctx context.Context, actorType string, actorID *string) (string, *string) {
	actorType = strings.TrimSpace(actorType)
	id := trimmed(actorID)
	if actorType == "" {
		ctxType, ctxID := obscontext.ActorFromContext(ctx)
		actorType = ctxType
		if id == nil {
			id = trimmed(&ctxID)
		}
	}
	if actorType == "" {
		return string(auditdomain.ActorTypeSystem), id
	}
	return actorType, id
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}
