package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/AppGateway/internal/access"
	"github.com/router-for-me/AppGateway/internal/config"
	"github.com/router-for-me/AppGateway/internal/db"
	"github.com/router-for-me/AppGateway/internal/models"
	"github.com/router-for-me/AppGateway/internal/security"
	"gorm.io/gorm"
)

type gatewayHarness struct {
	t          *testing.T
	conn       *gorm.DB
	gateway    *Gateway
	adminToken string
	forwarded  atomic.Int64
}

func newGatewayHarness(t *testing.T) *gatewayHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Cleanup(security.SetHashCostForTesting(4))

	conn, errOpen := gorm.Open(sqlite.Open(fmt.Sprintf("file:gateway_%d?mode=memory&cache=shared", time.Now().UnixNano())), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		t.Fatalf("sql db: %v", errDB)
	}
	sqlDB.SetMaxOpenConns(1)
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	h := &gatewayHarness{t: t, conn: conn}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.forwarded.Add(1)
		if r.Header.Get(access.HeaderAppSecret) != "" || r.Header.Get("Authorization") != "" {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/register":
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"user_id":42}`)
		case "/completions":
			_, _ = io.WriteString(w, `{"usage":{"total_tokens":10}}`)
		case "/users/42":
			_, _ = io.WriteString(w, `{"id":42,"app":"`+r.Header.Get("X-Gateway-App-Id")+`"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"not found"}`)
		}
	}))
	t.Cleanup(upstream.Close)

	conf := config.Default()
	conf.JWT.Secret = "front-secret-0123456789"
	conf.JWT.AdminSecret = "admin-secret-0123456789"
	conf.Downstream.Services = map[string]string{
		"auth": upstream.URL,
		"user": upstream.URL,
		"ai":   upstream.URL,
	}

	gateway, errBuild := Build(conf, conn, client)
	if errBuild != nil {
		t.Fatalf("build: %v", errBuild)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if errStart := gateway.Start(ctx); errStart != nil {
		t.Fatalf("start: %v", errStart)
	}
	h.gateway = gateway

	if errAdmin := upsertAdmin(context.Background(), conn, "root", "hunter2"); errAdmin != nil {
		t.Fatalf("seed admin: %v", errAdmin)
	}
	var login struct {
		Token string `json:"token"`
	}
	h.expect(h.do(http.MethodPost, "/v0/admin/login", `{"username":"root","password":"hunter2"}`, nil), http.StatusOK, &login)
	h.adminToken = login.Token
	return h
}

func (h *gatewayHarness) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.gateway.Engine.ServeHTTP(rec, req)
	return rec
}

func (h *gatewayHarness) admin(method, path, body string) *httptest.ResponseRecorder {
	return h.do(method, path, body, map[string]string{"Authorization": "Bearer " + h.adminToken})
}

func (h *gatewayHarness) expect(rec *httptest.ResponseRecorder, status int, out any) {
	h.t.Helper()
	if rec.Code != status {
		h.t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	if out != nil {
		if errDecode := json.Unmarshal(rec.Body.Bytes(), out); errDecode != nil {
			h.t.Fatalf("decode %q: %v", rec.Body.String(), errDecode)
		}
	}
}

type createdApp struct {
	AppID     string `json:"app_id"`
	AppSecret string `json:"app_secret"`
}

func (h *gatewayHarness) createApp(scopes ...string) createdApp {
	h.t.Helper()
	body, _ := json.Marshal(map[string]any{
		"name":          "demo",
		"scopes":        scopes,
		"login_methods": []string{"email"},
		"rate_limit":    100,
	})
	var app createdApp
	h.expect(h.admin(http.MethodPost, "/v0/admin/applications", string(body)), http.StatusCreated, &app)
	if app.AppID == "" || app.AppSecret == "" {
		h.t.Fatalf("expected id and secret, got %+v", app)
	}
	return app
}

func (a createdApp) headers() map[string]string {
	return map[string]string{access.HeaderAppID: a.AppID, access.HeaderAppSecret: a.AppSecret}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	h := newGatewayHarness(t)

	if rec := h.do(http.MethodPost, "/v0/admin/applications", `{"name":"x"}`, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := h.do(http.MethodPost, "/v0/admin/applications", `{"name":"x"}`, map[string]string{"Authorization": "Bearer nope"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}
	if rec := h.do(http.MethodPost, "/v0/admin/login", `{"username":"root","password":"wrong"}`, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", rec.Code)
	}
	if rec := h.admin(http.MethodPut, "/v0/admin/settings/NOT_A_SETTING", `{"value":1}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected unknown setting to be rejected, got %d", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := newGatewayHarness(t)

	h.expect(h.do(http.MethodGet, "/healthz", "", nil), http.StatusOK, nil)

	h.do(http.MethodGet, "/v1/quota", "", nil)
	rec := h.do(http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "gateway_admission_decisions_total") {
		t.Fatalf("expected admission metrics, got %d", rec.Code)
	}
}

func TestRegistrationProvisionsAndBindsUser(t *testing.T) {
	h := newGatewayHarness(t)
	app := h.createApp("user:register", "user:read")

	role := models.Role{Name: "member"}
	if errCreate := h.conn.Create(&role).Error; errCreate != nil {
		t.Fatalf("seed role: %v", errCreate)
	}
	rule := fmt.Sprintf(`{"enabled":true,"role_ids":[%d]}`, role.ID)
	h.expect(h.admin(http.MethodPut, "/v0/admin/applications/"+app.AppID+"/provision-rule", rule), http.StatusOK, nil)
	h.expect(h.admin(http.MethodPut, "/v0/admin/applications/"+app.AppID+"/provision-rule", `{"enabled":true,"role_ids":[999]}`), http.StatusBadRequest, nil)

	if rec := h.do(http.MethodGet, "/v1/users/42", "", app.headers()); rec.Code != http.StatusForbidden {
		t.Fatalf("expected unbound user to be rejected, got %d", rec.Code)
	}

	var token struct {
		AccessToken string `json:"access_token"`
	}
	h.expect(h.do(http.MethodPost, "/v1/oauth/token", `{"app_id":"`+app.AppID+`","app_secret":"`+app.AppSecret+`"}`, nil), http.StatusOK, &token)
	bearer := map[string]string{"Authorization": "Bearer " + token.AccessToken}

	h.expect(h.do(http.MethodPost, "/v1/auth/register", `{"email":"a@example.com"}`, bearer), http.StatusCreated, nil)

	var roles int64
	h.conn.Model(&models.UserRole{}).Where("user_id = ? AND role_id = ?", 42, role.ID).Count(&roles)
	if roles != 1 {
		t.Fatalf("expected the provisioned role, got %d rows", roles)
	}

	var user struct {
		ID  int    `json:"id"`
		App string `json:"app"`
	}
	h.expect(h.do(http.MethodGet, "/v1/users/42", "", app.headers()), http.StatusOK, &user)
	if user.ID != 42 || user.App != app.AppID {
		t.Fatalf("unexpected downstream reply %+v", user)
	}
}

func TestQuotaLifecycle(t *testing.T) {
	h := newGatewayHarness(t)
	app := h.createApp("ai:completions", "quota:read")

	if rec := h.do(http.MethodPost, "/v1/ai/completions", `{}`, app.headers()); rec.Code != http.StatusForbidden {
		t.Fatalf("expected quota_not_configured before binding, got %d", rec.Code)
	}

	var plan struct {
		ID uint64 `json:"id"`
	}
	h.expect(h.admin(http.MethodPost, "/v0/admin/quota-plans", `{"name":"tiny","request_limit":2,"token_limit":1000,"period_days":30}`), http.StatusCreated, &plan)
	h.expect(h.admin(http.MethodPut, "/v0/admin/applications/"+app.AppID+"/quota/plan", fmt.Sprintf(`{"plan_id":%d}`, plan.ID)), http.StatusOK, nil)

	first := h.do(http.MethodPost, "/v1/ai/completions", `{}`, app.headers())
	h.expect(first, http.StatusOK, nil)
	if got := first.Header().Get("X-Quota-Request-Limit"); got != "2" {
		t.Fatalf("expected request limit header 2, got %q", got)
	}
	if got := first.Header().Get("X-RateLimit-Limit"); got != "100" {
		t.Fatalf("expected rate limit header 100, got %q", got)
	}
	h.expect(h.do(http.MethodPost, "/v1/ai/completions", `{}`, app.headers()), http.StatusOK, nil)

	var denied map[string]any
	h.expect(h.do(http.MethodPost, "/v1/ai/completions", `{}`, app.headers()), http.StatusTooManyRequests, &denied)
	if denied["code"] != "request_quota_exceeded" {
		t.Fatalf("expected request_quota_exceeded, got %v", denied["code"])
	}

	var usage struct {
		Requests struct {
			Used int64 `json:"used"`
		} `json:"requests"`
		Tokens struct {
			Used float64 `json:"used"`
		} `json:"tokens"`
	}
	h.expect(h.do(http.MethodGet, "/v1/quota", "", app.headers()), http.StatusOK, &usage)
	if usage.Requests.Used != 2 || usage.Tokens.Used != 20 {
		t.Fatalf("unexpected usage %+v", usage)
	}

	h.expect(h.admin(http.MethodPost, "/v0/admin/applications/"+app.AppID+"/quota/reset", ""), http.StatusOK, nil)
	h.expect(h.do(http.MethodPost, "/v1/ai/completions", `{}`, app.headers()), http.StatusOK, nil)

	var history struct {
		Snapshots []map[string]any `json:"snapshots"`
	}
	h.expect(h.admin(http.MethodGet, "/v0/admin/applications/"+app.AppID+"/quota/snapshots", ""), http.StatusOK, &history)
	if len(history.Snapshots) != 1 || history.Snapshots[0]["requests_used"] != float64(2) {
		t.Fatalf("expected one snapshot of the closed cycle, got %v", history.Snapshots)
	}
}

func TestDisablingApplicationTakesEffectImmediately(t *testing.T) {
	h := newGatewayHarness(t)
	app := h.createApp("user:read")

	if rec := h.do(http.MethodGet, "/v1/users/42", "", app.headers()); rec.Code != http.StatusForbidden {
		t.Fatalf("expected user_not_bound, got %d", rec.Code)
	}

	h.expect(h.admin(http.MethodPut, "/v0/admin/applications/"+app.AppID+"/status", `{"status":"disabled"}`), http.StatusOK, nil)

	var body map[string]any
	h.expect(h.do(http.MethodGet, "/v1/users/42", "", app.headers()), http.StatusForbidden, &body)
	if body["code"] != "application_disabled" {
		t.Fatalf("expected application_disabled, got %v", body["code"])
	}

	var history struct {
		Events []map[string]any `json:"events"`
	}
	h.expect(h.admin(http.MethodGet, "/v0/admin/applications/"+app.AppID+"/audit", ""), http.StatusOK, &history)
	if len(history.Events) < 2 {
		t.Fatalf("expected create and status audit rows, got %d", len(history.Events))
	}
}

func TestSecretResetRevokesOldSecret(t *testing.T) {
	h := newGatewayHarness(t)
	app := h.createApp("user:read")

	var reset struct {
		AppSecret string `json:"app_secret"`
	}
	h.expect(h.admin(http.MethodPost, "/v0/admin/applications/"+app.AppID+"/reset-secret", ""), http.StatusOK, &reset)
	if reset.AppSecret == "" || reset.AppSecret == app.AppSecret {
		t.Fatalf("expected a fresh secret")
	}

	var body map[string]any
	h.expect(h.do(http.MethodGet, "/v1/users/42", "", app.headers()), http.StatusUnauthorized, &body)
	if body["code"] != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %v", body["code"])
	}
	fresh := createdApp{AppID: app.AppID, AppSecret: reset.AppSecret}
	if rec := h.do(http.MethodGet, "/v1/users/42", "", fresh.headers()); rec.Code != http.StatusForbidden {
		t.Fatalf("expected the new secret to authenticate, got %d", rec.Code)
	}
}
