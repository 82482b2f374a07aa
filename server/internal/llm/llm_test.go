package llm

import (
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"

	"github.com/weichuangxin420/newsflow/server/internal/config"
)

func TestWindowedBackOffWindows(t *testing.T) {
	b := &windowedBackOff{maxAttempts: 3}

	first := b.NextBackOff()
	assert.GreaterOrEqual(t, first, 1*time.Second)
	assert.Less(t, first, 31*time.Second)

	second := b.NextBackOff()
	assert.GreaterOrEqual(t, second, 30*time.Second)
	assert.Less(t, second, 61*time.Second)

	third := b.NextBackOff()
	assert.GreaterOrEqual(t, third, 60*time.Second)
	assert.Less(t, third, 91*time.Second)

	assert.Equal(t, backoff.Stop, b.NextBackOff())
}

func TestWindowedBackOffResetRestartsSequence(t *testing.T) {
	b := &windowedBackOff{maxAttempts: 1}
	b.NextBackOff()
	assert.Equal(t, backoff.Stop, b.NextBackOff())
	b.Reset()
	assert.NotEqual(t, backoff.Stop, b.NextBackOff())
}

func TestIsTransportErrorTrueForAPIError(t *testing.T) {
	err := &openai.APIError{Message: "bad request", Code: "400"}
	assert.True(t, isTransportError(err))
}

func TestIsTransportErrorTrueForRequestError(t *testing.T) {
	err := &openai.RequestError{HTTPStatusCode: 503, Err: errors.New("unavailable")}
	assert.True(t, isTransportError(err))
}

func TestIsTransportErrorFalseForGenericError(t *testing.T) {
	assert.False(t, isTransportError(errors.New("connection reset")))
}

func TestNewRejectsMissingAPIKey(t *testing.T) {
	_, err := New(config.ProviderConfig{}, 3, nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestNewDefaultsRetryCountWhenNonPositive(t *testing.T) {
	c, err := New(config.ProviderConfig{APIKey: "key"}, 0, nil)
	assert.NoError(t, err)
	assert.Equal(t, 3, c.retryCount)
}
