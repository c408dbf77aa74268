package imagegen

import (
	"errors"

	"github.com/smallbiznis/pixelcredit/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.imagegen",
	fx.Provide(NewFromConfig),
)

// NewFromConfig builds the configured provider. Outside production a missing
// OpenAI key falls back to the fake provider.
func NewFromConfig(cfg config.Config, log *zap.Logger) (Provider, error) {
	log = log.Named("providers.imagegen")
	if cfg.Provider.Type == config.ProviderFake {
		log.Info("using fake image provider")
		return NewFake(), nil
	}

	provider, err := NewOpenAI(cfg.Provider)
	if err == nil {
		log.Info("using openai image provider", zap.String("model", provider.model))
		return provider, nil
	}
	if errors.Is(err, ErrNotConfigured) && !cfg.IsProduction() {
		log.Warn("openai key missing, falling back to fake image provider")
		return NewFake(), nil
	}
	return nil, err
}
