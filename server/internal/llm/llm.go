// Package llm implements the single-shot chat-completion client
// shared by the Importance Scorer and Impact Analyzer: one request,
// jitter-bounded retry on transient transport failure, then one
// fallback-model attempt if the main model is exhausted.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/weichuangxin420/newsflow/server/internal/config"
)

// ErrMissingAPIKey is returned by New when no API key is configured;
// this is a construction-time fatal error, not a per-call one.
var ErrMissingAPIKey = errors.New("llm: missing api key")

// ChatOptions carries the per-call parameters the contract requires.
type ChatOptions struct {
	Model         string
	FallbackModel string
	MaxTokens     int
	Temperature   float32
	Timeout       time.Duration
	System        string
}

// Client wraps one provider profile (OpenRouter or a DeepSeek-native
// endpoint). The two profiles differ only in base URL, default model,
// and headers; this type is provider-agnostic beyond construction.
type Client struct {
	api        *openai.Client
	retryCount int
	log        *zap.SugaredLogger
}

// New constructs a Client for one provider profile. A missing API key
// aborts construction, per the error taxonomy's "config fatal" class.
func New(profile config.ProviderConfig, retryCount int, log *zap.SugaredLogger) (*Client, error) {
	if profile.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	cfg := openai.DefaultConfig(profile.APIKey)
	if profile.BaseURL != "" {
		cfg.BaseURL = profile.BaseURL
	}
	if retryCount <= 0 {
		retryCount = 3
	}
	return &Client{api: openai.NewClientWithConfig(cfg), retryCount: retryCount, log: log}, nil
}

// Chat issues one chat-completion request against opts.Model, retrying
// on non-2xx transport failures with jitter-bounded backoff (retryCount
// attempts with retryCount-1 waits; at the default of 3 attempts the
// waits are 1-30s and then 30-60s), then falling back once to
// opts.FallbackModel if configured and the main model is exhausted.
// Non-HTTP errors (timeout, connection reset before any response)
// abort immediately without retry.
func (c *Client) Chat(ctx context.Context, prompt string, opts ChatOptions) (string, error) {
	text, err := c.attemptWithRetry(ctx, prompt, opts.Model, opts)
	if err == nil {
		return text, nil
	}

	if !isTransportError(err) {
		return "", err
	}

	if opts.FallbackModel == "" {
		return "", fmt.Errorf("llm: main model %s exhausted: %w", opts.Model, err)
	}

	c.log.Warnw("falling back to secondary model", "main_model", opts.Model, "fallback_model", opts.FallbackModel, "error", err)
	fallbackCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	text, fbErr := c.call(fallbackCtx, prompt, opts.FallbackModel, opts)
	if fbErr != nil {
		return "", fmt.Errorf("llm: fallback model %s failed: %w", opts.FallbackModel, fbErr)
	}
	return text, nil
}

func (c *Client) attemptWithRetry(ctx context.Context, prompt, model string, opts ChatOptions) (string, error) {
	bo := &windowedBackOff{maxAttempts: c.retryCount - 1}
	var text string

	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
		out, err := c.call(callCtx, prompt, model, opts)
		if err == nil {
			text = out
			return nil
		}
		if !isTransportError(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		c.log.Warnw("retrying llm request", "wait", wait, "error", err)
	}

	if err := backoff.RetryNotify(operation, bo, notify); err != nil {
		return "", err
	}
	return text, nil
}

// windowedBackOff implements backoff.BackOff with fixed jitter windows:
// attempt 1 waits 1-30s, attempt 2 waits 30-60s, attempt 3 waits
// 60-90s, then gives up.
type windowedBackOff struct {
	attempt     int
	maxAttempts int
}

func (b *windowedBackOff) Reset() { b.attempt = 0 }

func (b *windowedBackOff) NextBackOff() time.Duration {
	b.attempt++
	if b.attempt > b.maxAttempts {
		return backoff.Stop
	}
	lowSeconds := (b.attempt - 1) * 30
	if b.attempt == 1 {
		lowSeconds = 1
	}
	return time.Duration(lowSeconds)*time.Second + time.Duration(rand.Intn(30))*time.Second
}

func (c *Client) call(ctx context.Context, prompt, model string, opts ChatOptions) (string, error) {
	messages := []openai.ChatCompletionMessage{}
	if opts.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: opts.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: empty response from %s", model)
	}
	return resp.Choices[0].Message.Content, nil
}

// isTransportError reports whether err represents a non-2xx HTTP
// response (retryable/fallback-eligible) as opposed to a timeout or
// transport-level failure (abort immediately with no retry).
func isTransportError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return true
	}
	return false
}
