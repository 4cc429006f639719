package httputil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blaahhrrgg/equity-risk-model/pkg/logger"
)

func TestNew(t *testing.T) {
	client := New(logger.Nop())
	require.NotNil(t, client.httpClient)
	assert.Equal(t, 3, client.retryConfig.MaxRetries)
	assert.True(t, client.retryConfig.Enabled)

	client.WithTimeout(5 * time.Second)
	assert.Equal(t, 5*time.Second, client.httpClient.Timeout)

	assert.NotNil(t, New(nil).logger)
}

func TestIsURL(t *testing.T) {
	assert.True(t, IsURL("https://models.example.com/model.yaml"))
	assert.True(t, IsURL("http://localhost:8080/policy.yaml"))
	assert.False(t, IsURL("examples/model.yaml"))
	assert.False(t, IsURL("/etc/model.yaml"))
}

func TestFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("universe: [AAA]\n"))
	}))
	defer server.Close()

	client := New(logger.Nop())

	body, err := client.Fetch(context.Background(), server.URL+"/model.yaml")
	require.NoError(t, err)
	assert.Equal(t, "universe: [AAA]\n", string(body))

	_, err = client.Fetch(context.Background(), server.URL+"/missing")
	assert.ErrorIs(t, err, ErrStatus)
}

func TestRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := New(logger.Nop()).WithRetry(3, time.Millisecond)

	body, err := client.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(logger.Nop()).WithRetry(2, time.Millisecond)

	_, err := client.Fetch(context.Background(), server.URL)
	assert.ErrorIs(t, err, ErrStatus)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDisableRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(logger.Nop()).DisableRetry()

	_, err := client.Fetch(context.Background(), server.URL)
	assert.ErrorIs(t, err, ErrStatus)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	client := New(logger.Nop()).WithRetry(5, time.Second)

	_, err := client.Fetch(ctx, server.URL)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusOK, false},
		{http.StatusNotFound, false},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryableError(tt.status), tt.status)
	}
}
