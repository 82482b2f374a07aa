package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weichuangxin420/newsflow/server/internal/models"
)

type fakeProvider struct {
	state models.SchedulerState
}

func (f fakeProvider) State() models.SchedulerState { return f.state }

func TestHealthEndpointReturnsOK(t *testing.T) {
	router := NewRouter(fakeProvider{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestStatusEndpointEncodesProviderState(t *testing.T) {
	provider := fakeProvider{state: models.SchedulerState{IsRunning: true, ProcessID: 99}}
	router := NewRouter(provider)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got models.SchedulerState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.IsRunning)
	assert.Equal(t, 99, got.ProcessID)
}

func TestNewServerSetsAddrAndTimeouts(t *testing.T) {
	srv := NewServer(":8080", fakeProvider{})
	assert.Equal(t, ":8080", srv.Addr)
	assert.NotZero(t, srv.ReadTimeout)
	assert.NotZero(t, srv.WriteTimeout)
}
