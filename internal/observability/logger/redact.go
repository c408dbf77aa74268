package logger

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

const redacted = "[redacted]"

// Prompts are customer content; passwords and emails are credentials or PII.
var redactedKeys = map[string]struct{}{
	"prompt":        {},
	"password":      {},
	"email":         {},
	"authorization": {},
	"cookie":        {},
	"api_key":       {},
}

type redactingCore struct {
	zapcore.Core
}

// NewRedactingCore masks the string value of sensitive fields before they reach the encoder.
func NewRedactingCore(core zapcore.Core) zapcore.Core {
	return &redactingCore{Core: core}
}

func (c *redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactingCore{Core: c.Core.With(redactFields(fields))}
}

func (c *redactingCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}

func (c *redactingCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(entry, redactFields(fields))
}

func redactFields(fields []zapcore.Field) []zapcore.Field {
	var out []zapcore.Field
	for i, f := range fields {
		if _, ok := redactedKeys[strings.ToLower(f.Key)]; !ok {
			continue
		}
		if out == nil {
			out = make([]zapcore.Field, len(fields))
			copy(out, fields)
		}
		out[i] = zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: redacted}
	}
	if out == nil {
		return fields
	}
	return out
}
