package imagegen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/pixelcredit/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFakeProviderIsDeterministic(t *testing.T) {
	p := NewFake()
	a, err := p.GenerateAsset(context.Background(), "a red fox", "1024x1024")
	require.NoError(t, err)
	b, err := p.GenerateAsset(context.Background(), "a red fox", "1024x1024")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a.Ref, "fake://1024x1024/"))
	assert.Equal(t, int64(2), p.Calls())
}

func TestFakeProviderHonorsCancellation(t *testing.T) {
	p := &FakeProvider{Delay: time.Minute}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := p.GenerateAsset(ctx, "slow", "1024x1024")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOpenAIProviderRequestsSingleURLImage(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/generations", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"created":1,"data":[{"url":"https://img.example/1.png","revised_prompt":"a fox"}]}`))
	}))
	defer srv.Close()

	p, err := NewOpenAI(config.ProviderConfig{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)

	asset, err := p.GenerateAsset(context.Background(), "fox", "2048x2048")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/1.png", asset.Ref)
	assert.Equal(t, "a fox", asset.RevisedPrompt)
	assert.Equal(t, "dall-e-3", body["model"])
	assert.Equal(t, "1024x1024", body["size"])
	assert.Equal(t, "hd", body["quality"])
	assert.Equal(t, "url", body["response_format"])
	assert.EqualValues(t, 1, body["n"])
}

func TestOpenAIProviderClassifiesRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"content policy violation","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	p, err := NewOpenAI(config.ProviderConfig{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.GenerateAsset(context.Background(), "nope", "1024x1024")
	assert.ErrorIs(t, err, ErrRejected)

	_, err = p.GenerateAsset(context.Background(), "nope", "640x480")
	assert.ErrorIs(t, err, ErrUnsupportedVariant)
}

func TestOpenAIProviderEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"created":1,"data":[]}`))
	}))
	defer srv.Close()

	p, err := NewOpenAI(config.ProviderConfig{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = p.GenerateAsset(context.Background(), "fox", "1024x1024")
	assert.ErrorIs(t, err, ErrEmptyResult)
}

func TestNewFromConfig(t *testing.T) {
	p, err := NewFromConfig(config.Config{Provider: config.ProviderConfig{Type: config.ProviderFake}}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "fake", p.Name())

	p, err = NewFromConfig(config.Config{Environment: "development", Provider: config.ProviderConfig{Type: config.ProviderOpenAI}}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "fake", p.Name())

	_, err = NewFromConfig(config.Config{Environment: "production", Provider: config.ProviderConfig{Type: config.ProviderOpenAI}}, zap.NewNop())
	assert.True(t, errors.Is(err, ErrNotConfigured))
}
