package imagegen

import (
	"context"
	"errors"
)

//go:generate mockgen -source=provider.go -destination=./mocks/mock_provider.go -package=mocks

// Asset is what a provider hands back for one generated image.
type Asset struct {
	Ref           string `json:"ref"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

// Provider produces one image per call. Implementations must honor ctx cancellation.
type Provider interface {
	Name() string
	GenerateAsset(ctx context.Context, prompt, variant string) (Asset, error)
}

var (
	ErrRejected           = errors.New("provider_rejected")
	ErrEmptyResult        = errors.New("provider_empty_result")
	ErrUnsupportedVariant = errors.New("provider_unsupported_variant")
	ErrNotConfigured      = errors.New("provider_not_configured")
)
