package imagegen

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

const fakeName = "fake"

// FakeProvider returns deterministic refs without calling out. Used in development and tests.
type FakeProvider struct {
	Delay time.Duration
	Err   error

	calls atomic.Int64
}

func NewFake() *FakeProvider {
	return &FakeProvider{}
}

func (p *FakeProvider) Name() string { return fakeName }

func (p *FakeProvider) GenerateAsset(ctx context.Context, prompt, variant string) (Asset, error) {
	p.calls.Add(1)
	if p.Delay > 0 {
		timer := time.NewTimer(p.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Asset{}, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return Asset{}, err
	}
	if p.Err != nil {
		return Asset{}, p.Err
	}

	sum := sha256.Sum256([]byte(variant + "\x00" + prompt))
	return Asset{Ref: fmt.Sprintf("fake://%s/%s.png", variant, hex.EncodeToString(sum[:8]))}, nil
}

func (p *FakeProvider) Calls() int64 {
	return p.calls.Load()
}
