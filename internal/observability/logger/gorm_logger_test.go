package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestDescribeSQL(t *testing.T) {
	cases := []struct {
		sql   string
		op    string
		table string
	}{
		{`UPDATE "users" SET "credit_balance"=credit_balance - 8 WHERE id = 1 AND credit_balance >= 8`, "UPDATE", "users"},
		{`INSERT INTO "credit_reservations" ("id") VALUES (1)`, "INSERT", "credit_reservations"},
		{"SELECT * FROM `generation_records` WHERE user_id = 1", "SELECT", "generation_records"},
		{`DELETE FROM sessions WHERE expires_at < now()`, "DELETE", "sessions"},
		{"", "UNKNOWN", "unknown"},
	}
	for _, tc := range cases {
		op, table := describeSQL(tc.sql)
		assert.Equal(t, tc.op, op, tc.sql)
		assert.Equal(t, tc.table, table, tc.sql)
	}
}

func TestParseGormLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Info, ParseGormLevel("debug"))
	assert.Equal(t, gormlogger.Error, ParseGormLevel("ERROR"))
	assert.Equal(t, gormlogger.Warn, ParseGormLevel("nonsense"))
	assert.Equal(t, gormlogger.Silent, ParseGormLevel("off"))
}

func TestTraceLevels(t *testing.T) {
	errDup := errors.New("UNIQUE constraint failed: generation_records.request_id")
	l := NewGormLogger(GormLoggerConfig{
		Level:         gormlogger.Warn,
		SlowThreshold: 100 * time.Millisecond,
		Expected:      func(err error) bool { return errors.Is(err, errDup) },
	})

	level, ok := l.traceLevel(time.Millisecond, errors.New("connection reset"))
	assert.True(t, ok)
	assert.Equal(t, zapcore.ErrorLevel, level)

	level, ok = l.traceLevel(time.Millisecond, errDup)
	assert.True(t, ok)
	assert.Equal(t, zapcore.DebugLevel, level)

	_, ok = l.traceLevel(time.Millisecond, gormlogger.ErrRecordNotFound)
	assert.False(t, ok)

	level, ok = l.traceLevel(time.Second, nil)
	assert.True(t, ok)
	assert.Equal(t, zapcore.WarnLevel, level)

	_, ok = l.traceLevel(time.Millisecond, nil)
	assert.False(t, ok)
}

func TestTraceWritesTable(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	l := NewGormLogger(GormLoggerConfig{Level: gormlogger.Info})
	l.Trace(context.Background(), time.Now(), func() (string, int64) {
		return `UPDATE "users" SET credit_balance = credit_balance + 8 WHERE id = 3`, 1
	}, nil)

	entries := logs.FilterMessage("gorm.query").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "users", fields["table"])
	assert.Equal(t, "UPDATE", fields["operation"])
	assert.Equal(t, int64(1), fields["rows_affected"])
}
