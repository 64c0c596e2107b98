package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"regdesk.org/internal/auth"
	"regdesk.org/internal/session"
)

const testPassword = "correct horse"

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	api     *API
	store   *auth.MemoryStore
}

type testOptions struct {
	loginBurst int
	mount      func(*API)
}

func newTestAPI(t *testing.T, opts ...func(*testOptions)) *apiClient {
	t.Helper()

	o := testOptions{loginBurst: 100}
	for _, opt := range opts {
		opt(&o)
	}

	store := seedStore(t)
	tokens, err := auth.NewTokenService("test-secret")
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	svc, err := auth.NewService(store, tokens, nil)
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	api, err := New(Options{
		Service:        svc,
		Cookies:        session.New("", false, tokens.TTL),
		Version:        "test",
		LoginBurst:     o.loginBurst,
		LoginPerSecond: 1,
	})
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	if o.mount != nil {
		o.mount(api)
	}

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		api:     api,
		store:   store,
	}
}

func seedStore(t *testing.T) *auth.MemoryStore {
	t.Helper()
	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	store := auth.NewMemoryStore()
	store.Put(auth.UserRecord{
		User: auth.User{ID: "u-alice", Username: "alice", Name: "Alice", PasswordHash: hash,
			Role: auth.RoleUser, Status: auth.StatusActive},
		Grants: []auth.Grant{{SystemID: auth.PermLegalRegisterView}},
	})
	store.Put(auth.UserRecord{
		User: auth.User{ID: "u-root", Username: "root", Name: "Root", PasswordHash: hash,
			Role: auth.RoleAdmin, Status: auth.StatusActive},
	})
	store.Put(auth.UserRecord{
		User: auth.User{ID: "u-sam", Username: "sam", Name: "Sam", PasswordHash: hash,
			Role: auth.RoleUser, Status: auth.StatusSuspended},
	})
	return store
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

// login returns the session cookie issued for username.
func (c *apiClient) login(username string, rememberMe bool) *http.Cookie {
	c.t.Helper()
	resp := c.post("/v1/auth/login", map[string]any{
		"username":    username,
		"password":    testPassword,
		"remember_me": rememberMe,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected login status: %d", resp.StatusCode)
	}
	cookie := findCookie(resp, session.DefaultCookieName)
	if cookie == nil || cookie.Value == "" {
		c.t.Fatalf("login did not set the session cookie")
	}
	return cookie
}

func withCookie(cookie *http.Cookie) map[string]string {
	return map[string]string{"Cookie": cookie.Name + "=" + cookie.Value}
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestLoginSetsSessionCookie(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/v1/auth/login", map[string]any{
		"username": "alice",
		"password": testPassword,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	cookie := findCookie(resp, "auth-token")
	if cookie == nil {
		t.Fatal("expected auth-token cookie")
	}
	if !cookie.HttpOnly || cookie.Path != "/" || cookie.SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected cookie attributes: %+v", cookie)
	}
	if cookie.MaxAge != 2*60*60 {
		t.Fatalf("expected Max-Age 7200, got %d", cookie.MaxAge)
	}
	if cookie.Secure {
		t.Fatal("secure flag must follow configuration")
	}

	body := decode[map[string]any](t, resp)
	user, ok := body["user"].(map[string]any)
	if !ok || user["username"] != "alice" || user["id"] != "u-alice" {
		t.Fatalf("unexpected user payload: %v", body["user"])
	}
	if _, leaked := user["password_hash"]; leaked {
		t.Fatal("password hash must not be serialized")
	}
	if body["expires_at"] == "" {
		t.Fatal("expected expires_at")
	}
}

func TestLoginRememberMeExtendsCookie(t *testing.T) {
	c := newTestAPI(t)
	cookie := c.login("alice", true)
	if cookie.MaxAge != 30*24*60*60 {
		t.Fatalf("expected 30 day Max-Age, got %d", cookie.MaxAge)
	}
}

func TestLoginFailures(t *testing.T) {
	c := newTestAPI(t)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"wrong password", map[string]any{"username": "alice", "password": "nope"}},
		{"unknown user", map[string]any{"username": "mallory", "password": testPassword}},
		{"suspended user", map[string]any{"username": "sam", "password": testPassword}},
		{"empty", map[string]any{"username": "", "password": ""}},
		{"padded username", map[string]any{"username": " alice", "password": testPassword}},
		{"username case", map[string]any{"username": "Alice", "password": testPassword}},
	}
	for _, tc := range cases {
		resp := c.post("/v1/auth/login", tc.body, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", tc.name, resp.StatusCode)
		}
		if findCookie(resp, "auth-token") != nil {
			t.Fatalf("%s: no cookie expected on failure", tc.name)
		}
		body := decode[map[string]any](t, resp)
		if body["error"] != "invalid credentials" {
			t.Fatalf("%s: unexpected error %v", tc.name, body["error"])
		}
	}

	resp := c.post("/v1/auth/login", map[string]any{"username": "alice", "password": "x", "role": "admin"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/v1/auth/login", nil, nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Allow") != http.MethodPost {
		t.Fatalf("unexpected Allow header: %q", resp.Header.Get("Allow"))
	}
	resp.Body.Close()
}

func TestLoginRateLimited(t *testing.T) {
	c := newTestAPI(t, func(o *testOptions) { o.loginBurst = 2 })

	for i := 0; i < 2; i++ {
		resp := c.post("/v1/auth/login", map[string]any{"username": "alice", "password": "bad"}, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, resp.StatusCode)
		}
	}
	resp := c.post("/v1/auth/login", map[string]any{"username": "alice", "password": testPassword}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
}

func TestSessionEndpoint(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/v1/auth/session", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if body := decode[map[string]any](t, resp); body["error"] != "Unauthorized" {
		t.Fatalf("unexpected body: %v", body)
	}

	cookie := c.login("alice", false)
	resp = c.get("/v1/auth/session", nil, withCookie(cookie))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	payload := decode[sessionResponse](t, resp)
	if payload.User.Username != "alice" || payload.Admin {
		t.Fatalf("unexpected session: %+v", payload)
	}
	if len(payload.Permissions) != 1 || payload.Permissions[0] != auth.PermLegalRegisterView {
		t.Fatalf("unexpected permissions: %v", payload.Permissions)
	}

	// API clients may present the token as a bearer credential.
	resp = c.get("/v1/auth/session", nil, map[string]string{"Authorization": "Bearer " + cookie.Value})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with bearer token, got %d", resp.StatusCode)
	}

	resp = c.get("/v1/auth/session", nil, map[string]string{"Cookie": "auth-token=garbage"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", resp.StatusCode)
	}
}

func TestSuspensionEndsActiveSession(t *testing.T) {
	c := newTestAPI(t)
	cookie := c.login("alice", true)

	if err := c.store.SetUserStatus(context.Background(), "u-alice", auth.StatusSuspended); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	resp := c.get("/v1/auth/session", nil, withCookie(cookie))
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after suspension, got %d", resp.StatusCode)
	}
}

func TestPermissionCheckEndpoint(t *testing.T) {
	c := newTestAPI(t)
	alice := c.login("alice", false)
	root := c.login("root", false)

	cases := []struct {
		name    string
		headers map[string]string
		perm    string
		allowed bool
	}{
		{"granted", withCookie(alice), auth.PermLegalRegisterView, true},
		{"not granted", withCookie(alice), auth.PermLegalRegisterEdit, false},
		{"admin bypass", withCookie(root), "anything:goes", true},
		{"anonymous", nil, auth.PermLegalRegisterView, false},
	}
	for _, tc := range cases {
		resp := c.get("/v1/auth/permissions/"+tc.perm, nil, tc.headers)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tc.name, resp.StatusCode)
		}
		got := decode[permissionResponse](t, resp)
		if got.Permission != tc.perm || got.Allowed != tc.allowed {
			t.Fatalf("%s: unexpected result %+v", tc.name, got)
		}
	}
}

func TestProtectedHandler(t *testing.T) {
	c := newTestAPI(t, func(o *testOptions) {
		o.mount = func(api *API) {
			api.Protect("/v1/registers", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if p, ok := auth.PrincipalFromContext(r.Context()); ok {
					w.Header().Set("X-Principal", p.ID)
				}
				w.WriteHeader(http.StatusNoContent)
			}), auth.PermRegistersEdit)
		}
	})

	resp := c.get("/v1/registers", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous: expected 401, got %d", resp.StatusCode)
	}

	resp = c.get("/v1/registers", nil, withCookie(c.login("alice", false)))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("alice: expected 403, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Principal") != "" {
		t.Fatal("handler must not run when forbidden")
	}
	if body := decode[map[string]any](t, resp); body["error"] != "Forbidden" {
		t.Fatalf("unexpected body: %v", body)
	}

	resp = c.get("/v1/registers", nil, withCookie(c.login("root", false)))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("root: expected 204, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Principal"); got != "u-root" {
		t.Fatalf("expected principal in context, got %q", got)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	c := newTestAPI(t)
	cookie := c.login("alice", false)

	resp := c.post("/v1/auth/logout", nil, withCookie(cookie))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	cleared := findCookie(resp, "auth-token")
	if cleared == nil || cleared.Value != "" || cleared.MaxAge >= 0 {
		t.Fatalf("expected cleared cookie, got %+v", cleared)
	}

	// Tokens are stateless: a replayed copy stays valid until it expires.
	resp = c.get("/v1/auth/session", nil, withCookie(cookie))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected replayed token to verify, got %d", resp.StatusCode)
	}
}

func TestHealthAndInfo(t *testing.T) {
	c := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := c.get(path, nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
		if resp.Header.Get("X-Request-ID") == "" {
			t.Fatalf("%s: expected X-Request-ID header", path)
		}
		resp.Body.Close()
	}

	resp := c.get("/nope", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
