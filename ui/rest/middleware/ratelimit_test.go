package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/leadengine/whatsapp-ingest/core/config"
)

func newLimitedApp(cfg config.WebhookConfig) *fiber.App {
	app := fiber.New()
	app.Use(Recovery())
	app.Use(WebhookRateLimit(cfg))
	app.Post("/hook", func(c *fiber.Ctx) error { return c.SendStatus(http.StatusOK) })
	return app
}

func TestRateLimitBlocksAfterMax(t *testing.T) {
	app := newLimitedApp(config.WebhookConfig{
		RateLimitWindow: time.Minute,
		RateLimitMax:    2,
	})

	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/hook", nil))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/hook", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("Retry-After"))
	require.Equal(t, "2", resp.Header.Get("X-RateLimit-Limit"))
}

func TestRateLimitWindowSlides(t *testing.T) {
	window := &slidingWindow{
		window:  time.Second,
		max:     1,
		entries: make(map[string][]time.Time),
	}
	now := time.Now()

	allowed, _, _ := window.allow("k", now)
	require.True(t, allowed)

	allowed, _, _ = window.allow("k", now.Add(100*time.Millisecond))
	require.False(t, allowed)

	// Once the first hit ages out of the window, capacity returns.
	allowed, _, _ = window.allow("k", now.Add(1100*time.Millisecond))
	require.True(t, allowed)
}

func TestRateLimitKeysAreIndependent(t *testing.T) {
	window := &slidingWindow{
		window:  time.Minute,
		max:     1,
		entries: make(map[string][]time.Time),
	}
	now := time.Now()

	allowed, _, _ := window.allow("a|t1", now)
	require.True(t, allowed)
	allowed, _, _ = window.allow("a|t2", now)
	require.True(t, allowed)
	allowed, _, _ = window.allow("a|t1", now)
	require.False(t, allowed)
}

func TestRateLimitLetsPreflightThrough(t *testing.T) {
	app := newLimitedApp(config.WebhookConfig{
		RateLimitWindow: time.Minute,
		RateLimitMax:    1,
	})

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodOptions, "/hook", nil))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		require.Equal(t, "1", resp.Header.Get("X-RateLimit-Limit"))
		require.Equal(t, "1", resp.Header.Get("X-RateLimit-Remaining"))
		require.NotEmpty(t, resp.Header.Get("X-RateLimit-Reset"))
	}
}

func TestRateLimitPeekDoesNotConsume(t *testing.T) {
	window := &slidingWindow{
		window:  time.Minute,
		max:     2,
		entries: make(map[string][]time.Time),
	}
	now := time.Now()

	window.allow("k", now)
	remaining, _ := window.peek("k", now)
	require.Equal(t, 1, remaining)
	remaining, _ = window.peek("k", now)
	require.Equal(t, 1, remaining)

	window.allow("k", now)
	remaining, resetAt := window.peek("k", now)
	require.Equal(t, 0, remaining)
	require.False(t, resetAt.After(now.Add(window.window)))
}

func TestRateLimitEvictsIdleKeys(t *testing.T) {
	window := &slidingWindow{
		window:  time.Second,
		max:     1,
		entries: make(map[string][]time.Time),
	}
	now := time.Now()

	window.allow("a", now)
	window.allow("b", now)
	require.Len(t, window.entries, 2)

	// Keys whose hits all aged out are dropped by the next sweep.
	window.allow("c", now.Add(3*time.Second))
	require.Len(t, window.entries, 1)
	require.Contains(t, window.entries, "c")
}
