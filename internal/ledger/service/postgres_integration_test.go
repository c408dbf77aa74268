//go:build integration

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pixelcredit/internal/audit/audittest"
	"github.com/smallbiznis/pixelcredit/internal/clock"
	"github.com/smallbiznis/pixelcredit/internal/ledger/domain"
	"github.com/smallbiznis/pixelcredit/internal/ledger/repository"
	userdomain "github.com/smallbiznis/pixelcredit/internal/user/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("pixelcredit"),
		postgres.WithUsername("pixelcredit"),
		postgres.WithPassword("pixelcredit"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	conn, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(16)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, conn.AutoMigrate(&userdomain.User{}, &domain.Entry{}, &domain.Reservation{}))
	return conn
}

func TestPostgresConcurrentReservesAndRefunds(t *testing.T) {
	conn := openPostgres(t)
	ctx := context.Background()

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	svc := NewService(Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clock.New(),
		Repo:     repository.Provide(),
		AuditSvc: &audittest.Recorder{},
	})

	user := userdomain.User{
		ID:            node.Generate(),
		Email:         "race@example.com",
		PasswordHash:  "x",
		DisplayName:   "race",
		CreditBalance: 100,
		InitialGrant:  100,
		IsActive:      true,
	}
	require.NoError(t, conn.Create(&user).Error)

	const workers = 40
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		mu        sync.Mutex
		reserved  []snowflake.ID
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := svc.Reserve(ctx, reserveReq(user.ID, fmt.Sprintf("pg-%d", i), 8))
			if err != nil {
				if !errors.Is(err, domain.ErrInsufficientCredits) {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			succeeded.Add(1)
			mu.Lock()
			reserved = append(reserved, r.ID)
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int64(12), succeeded.Load())

	// Racing refunds for the same reservation settle it exactly once.
	var refunds atomic.Int64
	for _, id := range reserved {
		for j := 0; j < 3; j++ {
			wg.Add(1)
			go func(id snowflake.ID) {
				defer wg.Done()
				_, err := svc.Refund(ctx, id, domain.ReasonGenerationRefund)
				switch {
				case err == nil:
					refunds.Add(1)
				case errors.Is(err, domain.ErrReservationSettled):
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(id)
		}
	}
	wg.Wait()
	assert.Equal(t, int64(12), refunds.Load())

	balance, err := svc.Balance(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	result, err := svc.Verify(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, result.Consistent)
	assert.Equal(t, int64(24), result.EntryCount)
}
