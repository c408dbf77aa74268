package pdf

import (
	"context"
	"errors"
	"io"
)

var ErrEmptyStatement = errors.New("statement_account_required")

// Provider renders documents for download.
type Provider interface {
	GenerateStatement(ctx context.Context, data StatementData) (io.Reader, error)
}

type NoOpProvider struct{}

func (p *NoOpProvider) GenerateStatement(ctx context.Context, data StatementData) (io.Reader, error) {
	return nil, nil
}
