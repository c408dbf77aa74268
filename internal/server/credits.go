package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/pixelcredit/internal/ledger/domain"
	"github.com/smallbiznis/pixelcredit/internal/providers/pdf"
	"github.com/smallbiznis/pixelcredit/pkg/db/pagination"
)

const statementDateLayout = "2006-01-02 15:04"

type purchaseCreditsRequest struct {
	Credits int64 `json:"credits" binding:"required,gt=0"`
}

// GetCredits returns the balance and the most recent ledger entries.
func (s *Server) GetCredits(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	balance, err := s.ledgerSvc.Balance(ctx, principal.User.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	entries, err := s.ledgerSvc.History(ctx, principal.User.ID, ledgerdomain.DefaultHistoryLimit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"balance":       balance,
		"initial_grant": principal.User.InitialGrant,
		"entries":       entries,
	})
}

func (s *Server) ListCreditEntries(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}

	var req ledgerdomain.ListEntriesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}
	req.UserID = principal.User.ID

	resp, err := s.ledgerSvc.ListEntries(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp.Entries, "page_info": resp.PageInfo})
}

// CreditStatementPDF renders the newest page of entries, oldest first.
func (s *Server) CreditStatementPDF(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	if s.statements == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	ctx := c.Request.Context()

	resp, err := s.ledgerSvc.ListEntries(ctx, ledgerdomain.ListEntriesRequest{
		Pagination: pagination.Pagination{PageSize: pagination.MaxPageSize},
		UserID:     principal.User.ID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	balance, err := s.ledgerSvc.Balance(ctx, principal.User.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	lines := make([]pdf.StatementLine, 0, len(resp.Entries))
	for i := len(resp.Entries) - 1; i >= 0; i-- {
		entry := resp.Entries[i]
		lines = append(lines, pdf.StatementLine{
			Date:         entry.CreatedAt.UTC().Format(statementDateLayout),
			Description:  describeEntry(entry),
			Amount:       entry.Amount,
			BalanceAfter: entry.BalanceAfter,
		})
	}

	doc, err := s.statements.GenerateStatement(ctx, pdf.StatementData{
		ProductName:  s.cfg.AppName,
		AccountName:  principal.User.DisplayName,
		AccountEmail: principal.User.Email,
		IssuedAt:     s.clock.Now().UTC().Format(statementDateLayout),
		InitialGrant: principal.User.InitialGrant,
		Balance:      balance,
		Lines:        lines,
		Truncated:    resp.HasMore,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.DataFromReader(http.StatusOK, -1, "application/pdf", doc, map[string]string{
		"Content-Disposition": `attachment; filename="credit-statement.pdf"`,
	})
}

func (s *Server) PurchaseCredits(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}

	var req purchaseCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	result, err := s.ledgerSvc.Purchase(c.Request.Context(), principal.User.ID, req.Credits)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func describeEntry(entry *ledgerdomain.Entry) string {
	label := strings.ReplaceAll(string(entry.Reason), "_", " ")
	if entry.RequestID != "" {
		label += " (" + entry.RequestID + ")"
	}
	if note := strings.TrimSpace(entry.Note); note != "" {
		label += ": " + note
	}
	return label
}
