package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/leadengine/whatsapp-ingest/core/config"
)

func newAuthApp(cfg config.WebhookConfig, captured *string) *fiber.App {
	app := fiber.New()
	app.Use(Recovery())
	app.Use(WebhookAuth(cfg))
	app.Post("/hook", func(c *fiber.Ctx) error {
		*captured = TenantID(c)
		return c.SendStatus(http.StatusOK)
	})
	return app
}

func TestWebhookAuthRejectsMissingToken(t *testing.T) {
	var tenant string
	app := newAuthApp(config.WebhookConfig{APIKey: "secret"}, &tenant)

	req := httptest.NewRequest(http.MethodPost, "/hook", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebhookAuthRejectsWrongKey(t *testing.T) {
	var tenant string
	app := newAuthApp(config.WebhookConfig{APIKey: "secret"}, &tenant)

	req := httptest.NewRequest(http.MethodPost, "/hook", nil)
	req.Header.Set("Authorization", "Bearer nope")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebhookAuthAcceptsHeaderSpellings(t *testing.T) {
	for _, header := range []string{"X-Authorization", "X-Webhook-Token", "X-API-Key"} {
		var tenant string
		app := newAuthApp(config.WebhookConfig{APIKey: "secret"}, &tenant)

		req := httptest.NewRequest(http.MethodPost, "/hook", nil)
		req.Header.Set(header, "secret")
		resp, err := app.Test(req)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, "header %s", header)
	}
}

func TestWebhookAuthTenantFromHeader(t *testing.T) {
	var tenant string
	app := newAuthApp(config.WebhookConfig{APIKey: "secret"}, &tenant)

	req := httptest.NewRequest(http.MethodPost, "/hook", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("X-Tenant-Id", "t42")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "t42", tenant)
}

func TestWebhookAuthTenantFromTokenSuffix(t *testing.T) {
	var tenant string
	app := newAuthApp(config.WebhookConfig{APIKey: "secret"}, &tenant)

	req := httptest.NewRequest(http.MethodPost, "/hook", nil)
	req.Header.Set("Authorization", "Bearer secret tenant:t7")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "t7", tenant)
}

func TestWebhookAuthTenantFromJWTClaims(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"tenantId": "t-jwt"})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	var tenant string
	// Trusted IP path: the JWT itself is not the API key.
	app := newAuthApp(config.WebhookConfig{TrustedIPs: []string{"0.0.0.0"}}, &tenant)

	req := httptest.NewRequest(http.MethodPost, "/hook", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "t-jwt", tenant)
}

func TestWebhookAuthDefaultTenantFallback(t *testing.T) {
	var tenant string
	app := newAuthApp(config.WebhookConfig{APIKey: "secret", DefaultTenantID: "t-default"}, &tenant)

	req := httptest.NewRequest(http.MethodPost, "/hook", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "t-default", tenant)
}

func TestWebhookAuthSignature(t *testing.T) {
	cfg := config.WebhookConfig{
		APIKey:            "secret",
		SignatureSecret:   "sig-secret",
		SignatureRequired: true,
	}
	body := `{"event":"X"}`
	mac := hmac.New(sha256.New, []byte(cfg.SignatureSecret))
	mac.Write([]byte(body))
	signature := hex.EncodeToString(mac.Sum(nil))

	var tenant string
	app := newAuthApp(cfg, &tenant)

	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("X-Webhook-Signature", "sha256="+signature)
	resp, err := app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req = httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("X-Webhook-Signature", "sha256=deadbeef")
	resp, err = app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// SignatureRequired without any signature is a rejection too.
	req = httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebhookAuthRejectsWhenSignatureRequiredWithoutSecret(t *testing.T) {
	var tenant string
	app := newAuthApp(config.WebhookConfig{APIKey: "secret", SignatureRequired: true}, &tenant)

	// No secret configured means nothing can be verified; traffic must
	// not pass unchecked.
	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("X-Webhook-Signature", "sha256=deadbeef")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebhookAuthRequireTenant(t *testing.T) {
	var tenant string
	app := newAuthApp(config.WebhookConfig{APIKey: "secret", RequireTenant: true}, &tenant)

	req := httptest.NewRequest(http.MethodPost, "/hook", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodPost, "/hook", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("X-Tenant-Id", "t9")
	resp, err = app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "t9", tenant)
}

func TestWebhookAuthPassesGetThrough(t *testing.T) {
	app := fiber.New()
	app.Use(Recovery())
	app.Use(WebhookAuth(config.WebhookConfig{APIKey: "secret"}))
	app.Get("/hook", func(c *fiber.Ctx) error { return c.SendStatus(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/hook", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
