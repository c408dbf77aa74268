package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditrepository "github.com/smallbiznis/pixelcredit/internal/audit/repository"
	auditservice "github.com/smallbiznis/pixelcredit/internal/audit/service"
	authrepository "github.com/smallbiznis/pixelcredit/internal/auth/repository"
	authservice "github.com/smallbiznis/pixelcredit/internal/auth/service"
	"github.com/smallbiznis/pixelcredit/internal/auth/session"
	"github.com/smallbiznis/pixelcredit/internal/authorization"
	"github.com/smallbiznis/pixelcredit/internal/cache"
	catalogrepository "github.com/smallbiznis/pixelcredit/internal/catalog/repository"
	catalogservice "github.com/smallbiznis/pixelcredit/internal/catalog/service"
	"github.com/smallbiznis/pixelcredit/internal/clock"
	"github.com/smallbiznis/pixelcredit/internal/config"
	generationrepository "github.com/smallbiznis/pixelcredit/internal/generation/repository"
	generationservice "github.com/smallbiznis/pixelcredit/internal/generation/service"
	ledgerrepository "github.com/smallbiznis/pixelcredit/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/pixelcredit/internal/ledger/service"
	"github.com/smallbiznis/pixelcredit/internal/migration"
	"github.com/smallbiznis/pixelcredit/internal/observability"
	"github.com/smallbiznis/pixelcredit/internal/pricing"
	"github.com/smallbiznis/pixelcredit/internal/providers/imagegen"
	"github.com/smallbiznis/pixelcredit/internal/providers/pdf"
	"github.com/smallbiznis/pixelcredit/internal/seed"
	userrepository "github.com/smallbiznis/pixelcredit/internal/user/repository"
	userservice "github.com/smallbiznis/pixelcredit/internal/user/service"
	"github.com/smallbiznis/pixelcredit/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testAdminEmail    = "admin@example.com"
	testAdminPassword = "admin-password"
)

type testServer struct {
	t        *testing.T
	engine   *gin.Engine
	provider *imagegen.FakeProvider
	admin    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, migration.Migrate(conn, db.TypeSQLite))

	node, err := snowflake.NewNode(9)
	require.NoError(t, err)
	clk := clock.New()
	log := zap.NewNop()
	cfg := config.Config{
		AppName: "pixelcredit",
		Ledger:  config.LedgerConfig{PurchaseEnabled: true},
		Bootstrap: config.BootstrapConfig{
			EnsureAdmin:   true,
			AdminEmail:    testAdminEmail,
			AdminPassword: testAdminPassword,
		},
	}

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    conn,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  auditrepository.Provide(),
	})
	users := userservice.NewService(userservice.Params{
		DB:       conn,
		Log:      log,
		GenID:    node,
		Clock:    clk,
		Repo:     userrepository.Provide(),
		AuditSvc: auditSvc,
	})
	store := catalogservice.NewStore(catalogservice.Params{
		DB:       conn,
		Log:      log,
		GenID:    node,
		Clock:    clk,
		Repo:     catalogrepository.Provide(),
		Cache:    cache.NewMemoryCatalogCache(time.Minute),
		AuditSvc: auditSvc,
	})
	require.NoError(t, seed.Run(context.Background(), seed.Params{
		Config:   cfg,
		Catalog:  store,
		Users:    users,
		Defaults: config.DefaultCatalogDefaults(),
		Log:      log,
	}))

	resolver := pricing.New(store, log)
	genRepo := generationrepository.Provide()
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:       conn,
		Log:      log,
		GenID:    node,
		Clock:    clk,
		Config:   cfg,
		Repo:     ledgerrepository.Provide(),
		Pricing:  resolver,
		AuditSvc: auditSvc,
		Outcomes: generationrepository.NewOutcomeLookup(conn, genRepo),
	})
	provider := imagegen.NewFake()
	generationSvc := generationservice.NewService(generationservice.Params{
		DB:       conn,
		Log:      log,
		GenID:    node,
		Clock:    clk,
		Config:   cfg,
		Repo:     genRepo,
		Pricing:  resolver,
		Ledger:   ledgerSvc,
		Provider: provider,
		UserSvc:  users,
	})
	authSvc := authservice.New(authservice.Params{
		Log:         log,
		GenID:       node,
		Clock:       clk,
		SessionRepo: authrepository.New(conn),
		UserSvc:     users,
		Catalog:     store,
		AuditSvc:    auditSvc,
	})
	enforcer, err := authorization.NewEnforcer(conn)
	require.NoError(t, err)
	authzSvc := authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer, AuditSvc: auditSvc})

	srv := NewServer(ServerParams{
		Gin:           NewEngine(observability.Config{Environment: "test"}, nil, conn),
		Cfg:           cfg,
		Clock:         clk,
		Authsvc:       authSvc,
		Sessions:      session.NewManager(cfg, clk),
		AuthzSvc:      authzSvc,
		AuditSvc:      auditSvc,
		UserSvc:       users,
		Catalog:       store,
		Pricing:       resolver,
		LedgerSvc:     ledgerSvc,
		GenerationSvc: generationSvc,
		Statements:    pdf.New(),
	})

	ts := &testServer{t: t, engine: srv.Engine(), provider: provider}
	ts.admin = ts.login(testAdminEmail, testAdminPassword)
	return ts
}

func (ts *testServer) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	ts.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(ts.t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: token})
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(rec *httptest.ResponseRecorder) string {
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == session.DefaultCookieName {
			return cookie.Value
		}
	}
	return ""
}

func (ts *testServer) login(email, password string) string {
	ts.t.Helper()
	rec := ts.do(http.MethodPost, "/auth/login", map[string]string{"email": email, "password": password}, "")
	require.Equal(ts.t, http.StatusOK, rec.Code, rec.Body.String())
	token := sessionCookie(rec)
	require.NotEmpty(ts.t, token)
	return token
}

// register returns the new user's id and session token.
func (ts *testServer) register(email string) (string, string) {
	ts.t.Helper()
	rec := ts.do(http.MethodPost, "/auth/register", map[string]string{
		"email":        email,
		"password":     "correct-horse",
		"display_name": "Artist",
	}, "")
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())

	var body struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	decode(ts.t, rec, &body)
	token := sessionCookie(rec)
	require.NotEmpty(ts.t, token)
	return body.User.ID, token
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

type errorBody struct {
	Error struct {
		Type    string            `json:"type"`
		Errors  []ValidationError `json:"errors"`
		Details map[string]any    `json:"details"`
	} `json:"error"`
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	decode(t, rec, &body)
	return body.Error.Type
}

func balanceOf(t *testing.T, ts *testServer, token string) int64 {
	t.Helper()
	rec := ts.do(http.MethodGet, "/api/credits", nil, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Balance int64 `json:"balance"`
	}
	decode(t, rec, &body)
	return body.Balance
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterGrantsInitialCreditsAndSignsIn(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.register("artist@example.com")

	rec := ts.do(http.MethodGet, "/auth/me", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	var me struct {
		User struct {
			Email         string `json:"email"`
			CreditBalance int64  `json:"credit_balance"`
			IsAdmin       bool   `json:"is_admin"`
		} `json:"user"`
	}
	decode(t, rec, &me)
	assert.Equal(t, "artist@example.com", me.User.Email)
	assert.Equal(t, int64(100), me.User.CreditBalance)
	assert.False(t, me.User.IsAdmin)
}

func TestRegisterDuplicateEmailConflicts(t *testing.T) {
	ts := newTestServer(t)
	ts.register("artist@example.com")

	rec := ts.do(http.MethodPost, "/auth/register", map[string]string{
		"email":    "Artist@Example.com",
		"password": "another-password",
	}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", errorType(t, rec))
}

func TestRegisterShortPasswordIsValidationError(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodPost, "/auth/register", map[string]string{
		"email":    "short@example.com",
		"password": "short",
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errorType(t, rec))
}

func TestLoginWrongPasswordUnauthorized(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodPost, "/auth/login", map[string]string{"email": testAdminEmail, "password": "nope-nope"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", errorType(t, rec))
}

func TestLogoutRevokesSession(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.register("artist@example.com")

	rec := ts.do(http.MethodPost, "/auth/logout", nil, token)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(http.MethodGet, "/auth/me", nil, token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreditsRequireSession(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/api/credits", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", errorType(t, rec))
}

func TestPricingIsPublic(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/pricing", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data []pricing.Quote `json:"data"`
	}
	decode(t, rec, &list)
	assert.Len(t, list.Data, 2)

	rec = ts.do(http.MethodGet, "/api/pricing/1024x1024", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var quote pricing.Quote
	decode(t, rec, &quote)
	assert.Equal(t, int64(8), quote.Credits)

	rec = ts.do(http.MethodGet, "/api/pricing/1024X1024", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &quote)
	assert.Equal(t, int64(8), quote.Credits)

	rec = ts.do(http.MethodGet, "/api/pricing/512x512", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGenerationChargesCredits(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.register("artist@example.com")

	rec := ts.do(http.MethodPost, "/api/generations", map[string]string{"prompt": "a red fox", "variant": "1024x1024"}, token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var result struct {
		Cost     int64  `json:"cost"`
		Balance  int64  `json:"balance"`
		AssetRef string `json:"asset_ref"`
	}
	decode(t, rec, &result)
	assert.Equal(t, int64(8), result.Cost)
	assert.Equal(t, int64(92), result.Balance)
	assert.NotEmpty(t, result.AssetRef)

	assert.Equal(t, int64(92), balanceOf(t, ts, token))

	rec = ts.do(http.MethodGet, "/api/generations", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Data []map[string]any `json:"data"`
	}
	decode(t, rec, &history)
	assert.Len(t, history.Data, 1)
}

func TestGenerationProviderFailureRefunds(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.register("artist@example.com")
	ts.provider.Err = errors.New("upstream rejected prompt")

	rec := ts.do(http.MethodPost, "/api/generations", map[string]string{"prompt": "a red fox", "variant": "2048x2048"}, token)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	var body errorBody
	decode(t, rec, &body)
	assert.Equal(t, "provider_error", body.Error.Type)
	assert.Equal(t, true, body.Error.Details["refunded"])
	assert.NotEmpty(t, body.Error.Details["request_id"])

	assert.Equal(t, int64(100), balanceOf(t, ts, token))
}

func TestGenerationInsufficientCredits(t *testing.T) {
	ts := newTestServer(t)
	userID, token := ts.register("artist@example.com")

	rec := ts.do(http.MethodPost, "/admin/users/"+userID+"/credits", map[string]any{"amount": -95, "reason": "test drain"}, ts.admin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodPost, "/api/generations", map[string]string{"prompt": "a red fox", "variant": "1024x1024"}, token)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "insufficient_credits", errorType(t, rec))
	assert.Equal(t, int64(0), ts.provider.Calls())
	assert.Equal(t, int64(5), balanceOf(t, ts, token))
}

func TestGenerationValidation(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.register("artist@example.com")

	rec := ts.do(http.MethodPost, "/api/generations", map[string]string{"variant": "1024x1024"}, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/api/generations", map[string]string{"prompt": "a red fox", "variant": "512x512"}, token)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "service_unavailable", errorType(t, rec))
}

func TestDeactivatedUserCannotGenerate(t *testing.T) {
	ts := newTestServer(t)
	userID, token := ts.register("artist@example.com")

	rec := ts.do(http.MethodPost, "/admin/users/"+userID+"/deactivate", nil, ts.admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodPost, "/api/generations", map[string]string{"prompt": "a red fox", "variant": "1024x1024"}, token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "user_inactive", errorType(t, rec))

	rec = ts.do(http.MethodPost, "/admin/users/"+userID+"/reactivate", nil, ts.admin)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(http.MethodPost, "/api/generations", map[string]string{"prompt": "a red fox", "variant": "1024x1024"}, token)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestAdminRoutesForbidRegularUsers(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.register("artist@example.com")

	for _, path := range []string{"/admin/catalog", "/admin/users", "/admin/stats", "/admin/audit-logs"} {
		rec := ts.do(http.MethodGet, path, nil, token)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
	}
}

func TestAdminSettingsChangeReprices(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPut, "/admin/settings", map[string]any{"conversion_rate": 100, "initial_credits": 40}, ts.admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodGet, "/api/pricing/1024x1024", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var quote pricing.Quote
	decode(t, rec, &quote)
	assert.Equal(t, int64(16), quote.Credits)

	_, token := ts.register("late@example.com")
	assert.Equal(t, int64(40), balanceOf(t, ts, token))

	rec = ts.do(http.MethodGet, "/admin/settings/versions", nil, ts.admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var versions struct {
		Data []map[string]any `json:"data"`
	}
	decode(t, rec, &versions)
	assert.NotEmpty(t, versions.Data)

	rec = ts.do(http.MethodPut, "/admin/settings", map[string]any{"conversion_rate": 0, "initial_credits": 40}, ts.admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminDeactivatesServiceAndReactivates(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.register("artist@example.com")

	rec := ts.do(http.MethodGet, "/admin/catalog", nil, ts.admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var catalog struct {
		Services []struct {
			ID      string `json:"id"`
			Variant string `json:"variant"`
		} `json:"services"`
	}
	decode(t, rec, &catalog)
	var serviceID string
	for _, svc := range catalog.Services {
		if svc.Variant == "1024x1024" {
			serviceID = svc.ID
		}
	}
	require.NotEmpty(t, serviceID)

	rec = ts.do(http.MethodPost, "/admin/services/"+serviceID+"/deactivate", nil, ts.admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodPost, "/api/generations", map[string]string{"prompt": "a red fox", "variant": "1024x1024"}, token)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, int64(100), balanceOf(t, ts, token))

	rec = ts.do(http.MethodPost, "/admin/services/"+serviceID+"/activate", nil, ts.admin)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(http.MethodPost, "/api/generations", map[string]string{"prompt": "a red fox", "variant": "1024x1024"}, token)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestAdminCreditAdjustmentRequiresReason(t *testing.T) {
	ts := newTestServer(t)
	userID, token := ts.register("artist@example.com")

	rec := ts.do(http.MethodPost, "/admin/users/"+userID+"/credits", map[string]any{"amount": 10}, ts.admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errorType(t, rec))

	rec = ts.do(http.MethodPost, "/admin/users/"+userID+"/credits", map[string]any{"mode": "grant", "amount": 10, "reason": "support credit"}, ts.admin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, int64(110), balanceOf(t, ts, token))

	rec = ts.do(http.MethodPost, "/admin/users/"+userID+"/credits", map[string]any{"amount": -500, "reason": "too much"}, ts.admin)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, int64(110), balanceOf(t, ts, token))

	rec = ts.do(http.MethodGet, "/admin/users/"+userID+"/ledger/verify", nil, ts.admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var verify struct {
		Consistent bool  `json:"consistent"`
		Balance    int64 `json:"balance"`
	}
	decode(t, rec, &verify)
	assert.True(t, verify.Consistent)
	assert.Equal(t, int64(110), verify.Balance)
}

func TestAdminCannotDeactivateSelf(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/auth/me", nil, ts.admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var me struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	decode(t, rec, &me)

	rec = ts.do(http.MethodPost, "/admin/users/"+me.User.ID+"/deactivate", nil, ts.admin)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminUserListAndAudit(t *testing.T) {
	ts := newTestServer(t)
	userID, _ := ts.register("artist@example.com")

	rec := ts.do(http.MethodPatch, "/admin/users/"+userID, map[string]string{"display_name": "Renamed"}, ts.admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodGet, "/admin/users?email=artist", nil, ts.admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var users struct {
		Users []struct {
			DisplayName string `json:"display_name"`
		} `json:"users"`
		Total int64 `json:"total"`
	}
	decode(t, rec, &users)
	require.Len(t, users.Users, 1)
	assert.Equal(t, "Renamed", users.Users[0].DisplayName)

	rec = ts.do(http.MethodGet, "/admin/audit-logs?action=user.updated", nil, ts.admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs struct {
		Data []struct {
			Action string `json:"action"`
		} `json:"data"`
	}
	decode(t, rec, &logs)
	require.Len(t, logs.Data, 1)
	assert.Equal(t, "user.updated", logs.Data[0].Action)

	rec = ts.do(http.MethodGet, "/admin/users/not-a-number", nil, ts.admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminStats(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.register("artist@example.com")
	rec := ts.do(http.MethodPost, "/api/generations", map[string]string{"prompt": "a red fox", "variant": "1024x1024"}, token)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(http.MethodGet, "/admin/stats", nil, ts.admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		Generations  int64 `json:"generations"`
		CreditsSpent int64 `json:"credits_spent"`
		ActiveUsers  int64 `json:"active_users"`
	}
	decode(t, rec, &stats)
	assert.Equal(t, int64(1), stats.Generations)
	assert.Equal(t, int64(8), stats.CreditsSpent)
	assert.Equal(t, int64(2), stats.ActiveUsers)
}

func TestPurchaseAddsCredits(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.register("artist@example.com")

	rec := ts.do(http.MethodPost, "/api/credits/purchase", map[string]any{"credits": 50}, token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, int64(150), balanceOf(t, ts, token))

	rec = ts.do(http.MethodPost, "/api/credits/purchase", map[string]any{"credits": 0}, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreditStatementPDF(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.register("artist@example.com")
	rec := ts.do(http.MethodPost, "/api/generations", map[string]string{"prompt": "a red fox", "variant": "1024x1024"}, token)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(http.MethodGet, "/api/credits/statement.pdf", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))
}

func TestCreditEntriesPaginate(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.register("artist@example.com")
	for i := 0; i < 3; i++ {
		rec := ts.do(http.MethodPost, "/api/generations", map[string]string{"prompt": "a red fox", "variant": "1024x1024"}, token)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := ts.do(http.MethodGet, "/api/credits/entries?page_size=2", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Data     []map[string]any `json:"data"`
		PageInfo struct {
			NextPageToken string `json:"next_page_token"`
			HasMore       bool   `json:"has_more"`
		} `json:"page_info"`
	}
	decode(t, rec, &page)
	assert.Len(t, page.Data, 2)
	assert.True(t, page.PageInfo.HasMore)

	rec = ts.do(http.MethodGet, "/api/credits/entries?page_size=2&page_token="+page.PageInfo.NextPageToken, nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &page)
	assert.Len(t, page.Data, 1)

	rec = ts.do(http.MethodGet, "/api/credits/entries?page_token=garbage", nil, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorType(t, rec))
}
