package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"light-mint-service/services"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func call(t *testing.T, app *fiber.App, req *http.Request) (int, string) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func whoami(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	roles, _ := c.Locals("user_roles").([]string)
	return c.JSON(fiber.Map{"user_id": uid, "roles": roles})
}

func TestGatewayAuthMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(GatewayAuthMiddleware("s3cret", "/metrics"))
	app.Get("/metrics", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/user/x", func(c *fiber.Ctx) error { return c.SendString("ok") })

	status, _ := call(t, app, httptest.NewRequest(http.MethodGet, "/user/x", nil))
	assert.Equal(t, http.StatusUnauthorized, status)

	req := httptest.NewRequest(http.MethodGet, "/user/x", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	status, _ = call(t, app, req)
	assert.Equal(t, http.StatusUnauthorized, status)

	req = httptest.NewRequest(http.MethodGet, "/user/x", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	status, _ = call(t, app, req)
	assert.Equal(t, http.StatusOK, status)

	req = httptest.NewRequest(http.MethodGet, "/user/x", nil)
	req.Header.Set("Authorization", "s3cret")
	status, _ = call(t, app, req)
	assert.Equal(t, http.StatusOK, status)

	status, _ = call(t, app, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, status)
}

func TestUserContextMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(UserContextMiddleware())
	app.Get("/user/me", whoami)
	app.Get("/user/mint/stream", whoami)
	app.Get("/health", whoami)

	status, _ := call(t, app, httptest.NewRequest(http.MethodGet, "/user/me", nil))
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = call(t, app, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, status)

	status, _ = call(t, app, httptest.NewRequest(http.MethodGet, "/user/mint/stream?token=abc", nil))
	assert.Equal(t, http.StatusOK, status, "stream clients authenticate with a query token")

	req := httptest.NewRequest(http.MethodGet, "/user/me", nil)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("X-User-Roles", "admin, ,mint_signer")
	status, body := call(t, app, req)
	require.Equal(t, http.StatusOK, status)

	var out struct {
		UserID string   `json:"user_id"`
		Roles  []string `json:"roles"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	assert.Equal(t, "u1", out.UserID)
	assert.Equal(t, []string{"admin", "mint_signer"}, out.Roles)
}

func TestRequireRole(t *testing.T) {
	app := fiber.New()
	app.Use(UserContextMiddleware())
	app.Get("/admin/x", RequireRole(RoleAdmin), whoami)

	req := httptest.NewRequest(http.MethodGet, "/admin/x", nil)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("X-User-Roles", "mint_signer")
	status, _ := call(t, app, req)
	assert.Equal(t, http.StatusForbidden, status)

	req = httptest.NewRequest(http.MethodGet, "/admin/x", nil)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("X-User-Roles", "ADMIN")
	status, _ = call(t, app, req)
	assert.Equal(t, http.StatusOK, status)
}

func TestSSEAuthMiddleware(t *testing.T) {
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in["access_token"] != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(services.ValidateResponse{UserID: "u7", DeviceID: in["device_id"], Roles: []string{"user"}})
	}))
	defer auth.Close()

	app := fiber.New()
	app.Use(UserContextMiddleware())
	app.Get("/user/mint/stream", SSEAuthMiddleware(services.NewAuthServiceClient(auth.URL, "svc")), whoami)

	status, _ := call(t, app, httptest.NewRequest(http.MethodGet, "/user/mint/stream?token=good", nil))
	assert.Equal(t, http.StatusBadRequest, status, "device_id is required")

	status, _ = call(t, app, httptest.NewRequest(http.MethodGet, "/user/mint/stream?token=bad&device_id=d1", nil))
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := call(t, app, httptest.NewRequest(http.MethodGet, "/user/mint/stream?token=good&device_id=d1", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"user_id":"u7"`)

	req := httptest.NewRequest(http.MethodGet, "/user/mint/stream", nil)
	req.Header.Set("X-User-ID", "u1")
	status, body = call(t, app, req)
	assert.Equal(t, http.StatusOK, status, "gateway context skips token validation")
	assert.Contains(t, body, `"user_id":"u1"`)
}

func TestMetricsRecordsRoute(t *testing.T) {
	app := fiber.New()
	app.Use(Metrics())
	app.Get("/mint/requests/:id", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusTeapot) })

	status, _ := call(t, app, httptest.NewRequest(http.MethodGet, "/mint/requests/abc", nil))
	assert.Equal(t, http.StatusTeapot, status)

	families, err := services.Registry.Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range families {
		if mf.GetName() != "light_mint_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["route"] == "/mint/requests/:id" && labels["status"] == "418" {
				found = true
			}
		}
	}
	assert.True(t, found)
}
