package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/leadengine/whatsapp-ingest/core/config"
	"github.com/leadengine/whatsapp-ingest/pkg/apperror"
	"github.com/leadengine/whatsapp-ingest/pkg/metrics"
)

// WebhookRateLimit is a sliding-window limiter keyed by caller IP plus
// resolved tenant. Webhook brokers retry aggressively on 429, so the
// response carries Retry-After and the X-RateLimit headers.
func WebhookRateLimit(cfg config.WebhookConfig) fiber.Handler {
	limiter := &slidingWindow{
		window:  cfg.RateLimitWindow,
		max:     cfg.RateLimitMax,
		entries: make(map[string][]time.Time),
	}

	return func(ctx *fiber.Ctx) error {
		key := ctx.IP() + "|" + TenantID(ctx) + "|" + ctx.Get("X-Refresh")

		// Preflight never consumes a slot but still reports the budget.
		if ctx.Method() == fiber.MethodOptions {
			remaining, resetAt := limiter.peek(key, time.Now())
			setRateLimitHeaders(ctx, limiter.max, remaining, resetAt)
			return ctx.SendStatus(fiber.StatusNoContent)
		}

		allowed, remaining, resetAt := limiter.allow(key, time.Now())
		setRateLimitHeaders(ctx, limiter.max, remaining, resetAt)

		if !allowed {
			retryAfter := int(time.Until(resetAt).Seconds()) + 1
			ctx.Set("Retry-After", strconv.Itoa(retryAfter))
			metrics.WebhookRejections.WithLabelValues("rate_limited").Inc()
			panic(apperror.RateLimitedError("webhook rate limit exceeded"))
		}

		return ctx.Next()
	}
}

func setRateLimitHeaders(ctx *fiber.Ctx, limit, remaining int, resetAt time.Time) {
	ctx.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	ctx.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	ctx.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

type slidingWindow struct {
	mu        sync.Mutex
	window    time.Duration
	max       int
	entries   map[string][]time.Time
	lastSweep time.Time
}

func (s *slidingWindow) allow(key string, now time.Time) (bool, int, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweep(now)

	cutoff := now.Add(-s.window)
	kept := s.entries[key][:0]
	for _, t := range s.entries[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= s.max {
		s.entries[key] = kept
		return false, 0, kept[0].Add(s.window)
	}

	kept = append(kept, now)
	s.entries[key] = kept
	return true, s.max - len(kept), now.Add(s.window)
}

// peek reports the current budget for a key without recording a hit.
func (s *slidingWindow) peek(key string, now time.Time) (int, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-s.window)
	active := 0
	var oldest time.Time
	for _, t := range s.entries[key] {
		if t.After(cutoff) {
			if active == 0 {
				oldest = t
			}
			active++
		}
	}

	remaining := s.max - active
	if remaining <= 0 {
		return 0, oldest.Add(s.window)
	}
	return remaining, now.Add(s.window)
}

// sweep evicts keys whose sightings all aged out, at most once per
// window so hot paths stay O(1) amortized.
func (s *slidingWindow) sweep(now time.Time) {
	if now.Sub(s.lastSweep) < s.window {
		return
	}
	s.lastSweep = now

	cutoff := now.Add(-s.window)
	for key, ts := range s.entries {
		if len(ts) == 0 || !ts[len(ts)-1].After(cutoff) {
			delete(s.entries, key)
		}
	}
}
