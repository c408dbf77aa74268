package imagegen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/smallbiznis/pixelcredit/internal/config"
)

const openAIName = "openai"

type imageSize struct {
	size    string
	quality string
}

// Sizes DALL-E 3 renders natively. 2048x2048 is served as a 1024 HD render.
var openAISizes = map[string]imageSize{
	"1024x1024": {size: openai.CreateImageSize1024x1024, quality: openai.CreateImageQualityStandard},
	"1792x1024": {size: openai.CreateImageSize1792x1024, quality: openai.CreateImageQualityStandard},
	"1024x1792": {size: openai.CreateImageSize1024x1792, quality: openai.CreateImageQualityStandard},
	"2048x2048": {size: openai.CreateImageSize1024x1024, quality: openai.CreateImageQualityHD},
}

type OpenAIProvider struct {
	client *openai.Client
	model  string
}

func NewOpenAI(cfg config.ProviderConfig) (*OpenAIProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY is empty", ErrNotConfigured)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		clientCfg.BaseURL = baseURL
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = openai.CreateImageModelDallE3
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}, nil
}

func (p *OpenAIProvider) Name() string { return openAIName }

func (p *OpenAIProvider) GenerateAsset(ctx context.Context, prompt, variant string) (Asset, error) {
	size, ok := openAISizes[variant]
	if !ok {
		return Asset{}, fmt.Errorf("%w: %s", ErrUnsupportedVariant, variant)
	}

	resp, err := p.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          p.model,
		N:              1,
		Size:           size.size,
		Quality:        size.quality,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return Asset{}, classifyOpenAIError(err)
	}
	if len(resp.Data) == 0 || strings.TrimSpace(resp.Data[0].URL) == "" {
		return Asset{}, ErrEmptyResult
	}

	return Asset{
		Ref:           resp.Data[0].URL,
		RevisedPrompt: resp.Data[0].RevisedPrompt,
	}, nil
}

// classifyOpenAIError marks client-side rejections (bad prompt, content policy) so they are not retried.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode >= http.StatusBadRequest && apiErr.HTTPStatusCode < http.StatusInternalServerError &&
			apiErr.HTTPStatusCode != http.StatusTooManyRequests {
			return fmt.Errorf("%w: %s", ErrRejected, apiErr.Message)
		}
	}
	return fmt.Errorf("openai image request: %w", err)
}
