package runner

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitUntilReadyStopsOnFirstSuccess(t *testing.T) {
	poller := NewHealthPoller(nil)

	calls := 0
	check := func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not ready")
		}
		return nil
	}

	poller.WaitUntilReady(context.Background(), check, 10, time.Millisecond, 0)
	assert.Equal(t, 3, calls)
}

func TestWaitUntilReadyFailOpen(t *testing.T) {
	poller := NewHealthPoller(nil)

	calls := 0
	check := func(ctx context.Context) error {
		calls++
		return errors.New("still down")
	}

	// Exhausting every attempt returns normally; the caller proceeds
	poller.WaitUntilReady(context.Background(), check, 4, time.Millisecond, time.Millisecond)
	assert.Equal(t, 4, calls)
}

func TestWaitUntilReadyHonorsContext(t *testing.T) {
	poller := NewHealthPoller(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	poller.WaitUntilReady(ctx, func(ctx context.Context) error {
		calls++
		return errors.New("not ready")
	}, 10, time.Millisecond, 0)
	assert.Zero(t, calls)
}

func TestHTTPCheck(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer healthy.Close()

	assert.NoError(t, HTTPCheck(healthy.URL)(context.Background()))

	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer unhealthy.Close()

	err := HTTPCheck(unhealthy.URL)(context.Background())
	assert.ErrorContains(t, err, "health endpoint returned status")

	assert.Error(t, HTTPCheck("http://127.0.0.1:1")(context.Background()))
}
