package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/pixelcredit/internal/audit/domain"
	"github.com/smallbiznis/pixelcredit/pkg/db/pagination"
)

type listAuditLogsQuery struct {
	PageToken  string `form:"page_token"`
	PageSize   int    `form:"page_size" binding:"omitempty,gte=1,lte=250"`
	Action     string `form:"action"`
	TargetType string `form:"target_type"`
	TargetID   string `form:"target_id"`
	ActorType  string `form:"actor_type"`
	ActorID    string `form:"actor_id"`
	StartAt    string `form:"start_at"`
	EndAt      string `form:"end_at"`
}

func (q listAuditLogsQuery) request() (auditdomain.ListAuditLogRequest, error) {
	req := auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageToken: strings.TrimSpace(q.PageToken), PageSize: q.PageSize},
		Action:     strings.TrimSpace(q.Action),
		TargetType: strings.TrimSpace(q.TargetType),
		TargetID:   strings.TrimSpace(q.TargetID),
		ActorType:  strings.TrimSpace(q.ActorType),
		ActorID:    strings.TrimSpace(q.ActorID),
	}
	var err error
	if req.StartAt, err = parseOptionalTime(q.StartAt, false); err != nil {
		return req, newValidationError("start_at", "invalid_start_at", "start_at must be RFC3339 or YYYY-MM-DD")
	}
	if req.EndAt, err = parseOptionalTime(q.EndAt, true); err != nil {
		return req, newValidationError("end_at", "invalid_end_at", "end_at must be RFC3339 or YYYY-MM-DD")
	}
	return req, nil
}

// ListAuditLogs serves GET /admin/audit-logs.
func (s *Server) ListAuditLogs(c *gin.Context) {
	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}
	req, err := query.request()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp.AuditLogs, "page_info": resp.PageInfo})
}
