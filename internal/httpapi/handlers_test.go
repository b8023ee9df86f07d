package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/audit"
	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/auth"
	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/ids"
	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/store/memory"
)

var testSecret = []byte("httpapi-test-secret-0123456789abcdef")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type apiClient struct {
	baseURL  string
	client   *http.Client
	t        *testing.T
	clock    *testClock
	auditLog *memory.AuditLog
	auditor  *audit.Logger
}

type testOptions struct {
	users   auth.UserStore
	ready   Readiness
	opts    []Option
	svcOpts []auth.ServiceOption
}

func newTestAPI(t *testing.T, to testOptions) *apiClient {
	t.Helper()

	clock := &testClock{now: time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)}
	var users auth.UserStore = memory.NewUserStore()
	if to.users != nil {
		users = to.users
	}

	hasher, err := auth.NewBcryptHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewBcryptHasher: %v", err)
	}
	codec, err := auth.NewTokenCodec(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	verifier, err := auth.NewVerifier(users, hasher, auth.WithVerifierClock(clock.Now))
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	seq, err := ids.NewSequencer(1)
	if err != nil {
		t.Fatalf("NewSequencer: %v", err)
	}
	auditLog := memory.NewAuditLog()
	auditor := audit.NewLogger(auditLog, seq, audit.WithClock(clock.Now))
	t.Cleanup(func() { _ = auditor.Close(context.Background()) })

	svcOpts := append([]auth.ServiceOption{
		auth.WithAuditor(auditor),
		auth.WithAuditReader(auditLog),
		auth.WithClock(clock.Now),
	}, to.svcOpts...)
	svc, err := auth.NewService(users, hasher, codec, verifier, svcOpts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	opts := append([]Option{WithClock(clock.Now)}, to.opts...)
	api := New(svc, to.ready, "test", opts...)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL:  srv.URL,
		client:   srv.Client(),
		t:        t,
		clock:    clock,
		auditLog: auditLog,
		auditor:  auditor,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	switch b := body.(type) {
	case nil:
	case string:
		payload = []byte(b)
	default:
		var err error
		payload, err = json.Marshal(b)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodGet, path, nil, headers)
}

func (c *apiClient) register(username, role string) map[string]any {
	c.t.Helper()
	resp := c.post("/auth/register", map[string]any{
		"email":    username + "@x.com",
		"username": username,
		"password": "123456",
		"name":     strings.ToUpper(username[:1]) + username[1:],
		"role":     role,
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("register %s: unexpected status %d", username, resp.StatusCode)
	}
	return decode[map[string]any](c.t, resp)["user"].(map[string]any)
}

func (c *apiClient) login(username, password string) string {
	c.t.Helper()
	resp := c.post("/auth/login", map[string]any{"username": username, "password": password}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("login %s: unexpected status %d", username, resp.StatusCode)
	}
	body := decode[map[string]any](c.t, resp)
	token, _ := body["token"].(string)
	if token == "" {
		c.t.Fatal("empty token issued")
	}
	return token
}

// waitForAudit blocks until the async audit logger has written n entries.
func (c *apiClient) waitForAudit(n int) []audit.Entry {
	c.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		entries := c.auditLog.All()
		if len(entries) >= n {
			return entries
		}
		if time.Now().After(deadline) {
			c.t.Fatalf("expected %d audit entries, got %d", n, len(entries))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
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

func expectStatus(t *testing.T, resp *http.Response, want int) map[string]any {
	t.Helper()
	if resp.StatusCode != want {
		resp.Body.Close()
		t.Fatalf("expected %d, got %d", want, resp.StatusCode)
	}
	return decode[map[string]any](t, resp)
}

func TestRegisterLoginAdminScenario(t *testing.T) {
	api := newTestAPI(t, testOptions{})

	resp := api.post("/auth/register", map[string]any{
		"email":    "a@x.com",
		"username": "alice",
		"password": "123456",
		"name":     "Alice",
	}, nil)
	body := expectStatus(t, resp, http.StatusCreated)
	user := body["user"].(map[string]any)
	if user["role"] != "VIEWER" {
		t.Fatalf("expected default role VIEWER, got %v", user["role"])
	}
	for _, key := range []string{"password", "password_hash", "PasswordHash"} {
		if _, ok := user[key]; ok {
			t.Fatalf("user payload leaks %q", key)
		}
	}

	resp = api.post("/auth/register", map[string]any{
		"email":    "other@x.com",
		"username": "alice",
		"password": "654321",
		"name":     "Alice Two",
	}, nil)
	body = expectStatus(t, resp, http.StatusConflict)
	if body["error"] != "User already exists" {
		t.Fatalf("unexpected conflict body: %v", body)
	}

	resp = api.post("/auth/login", map[string]any{"username": "alice", "password": "000000"}, nil)
	body = expectStatus(t, resp, http.StatusUnauthorized)
	if body["error"] != "Invalid credentials" {
		t.Fatalf("unexpected login failure body: %v", body)
	}
	if _, ok := body["token"]; ok {
		t.Fatal("failed login returned a token")
	}

	token := api.login("alice", "123456")

	resp = api.get("/admin/users", bearerHeader(token))
	expectStatus(t, resp, http.StatusForbidden)

	// The rejected duplicate registration is not audited.
	entries := api.waitForAudit(4)
	actions := make(map[audit.Action]int)
	for _, e := range entries {
		actions[e.Action]++
		if e.IP != "127.0.0.1" || e.RequestID == "" {
			t.Fatalf("entry %s missing request provenance: %+v", e.Action, e)
		}
	}
	want := map[audit.Action]int{
		audit.ActionCreate:       1,
		audit.ActionLoginFailed:  1,
		audit.ActionLogin:        1,
		audit.ActionAccessDenied: 1,
	}
	for action, n := range want {
		if actions[action] != n {
			t.Fatalf("expected %d %s entries, got %d (%v)", n, action, actions[action], actions)
		}
	}
}

func TestAdminUsersRequiresValidToken(t *testing.T) {
	api := newTestAPI(t, testOptions{})
	api.register("root", "ADMIN")
	token := api.login("root", "123456")

	cases := []struct {
		name    string
		headers map[string]string
	}{
		{"missing header", nil},
		{"wrong scheme", map[string]string{"Authorization": "Basic " + token}},
		{"empty bearer", map[string]string{"Authorization": "Bearer   "}},
		{"garbage token", bearerHeader("not.a.token")},
		{"tampered token", bearerHeader(token[:len(token)-2] + "xx")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := api.get("/admin/users", tc.headers)
			if resp.Header.Get("WWW-Authenticate") == "" {
				t.Fatal("expected WWW-Authenticate header")
			}
			expectStatus(t, resp, http.StatusUnauthorized)
		})
	}

	resp := api.get("/admin/users", bearerHeader(token))
	body := expectStatus(t, resp, http.StatusOK)
	users := body["users"].([]any)
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if _, ok := users[0].(map[string]any)["password_hash"]; ok {
		t.Fatal("user list leaks password hash")
	}

	api.clock.Advance(59 * time.Minute)
	expectStatus(t, api.get("/admin/users", bearerHeader(token)), http.StatusOK)

	api.clock.Advance(2 * time.Minute)
	expectStatus(t, api.get("/admin/users", bearerHeader(token)), http.StatusUnauthorized)
}

func TestLoginAndRegisterValidation(t *testing.T) {
	api := newTestAPI(t, testOptions{})

	cases := []struct {
		name string
		path string
		body any
		want int
	}{
		{"login missing password", "/auth/login", map[string]any{"username": "alice"}, http.StatusBadRequest},
		{"login empty body", "/auth/login", "", http.StatusBadRequest},
		{"login malformed json", "/auth/login", "{", http.StatusBadRequest},
		{"login unknown field", "/auth/login", map[string]any{"username": "a", "password": "123456", "otp": "1"}, http.StatusBadRequest},
		{"register non-numeric password", "/auth/register", map[string]any{"email": "b@x.com", "username": "bob", "password": "12ab56", "name": "Bob"}, http.StatusBadRequest},
		{"register short password", "/auth/register", map[string]any{"email": "b@x.com", "username": "bob", "password": "12345", "name": "Bob"}, http.StatusBadRequest},
		{"register missing name", "/auth/register", map[string]any{"email": "b@x.com", "username": "bob", "password": "123456"}, http.StatusBadRequest},
		{"register bad role", "/auth/register", map[string]any{"email": "b@x.com", "username": "bob", "password": "123456", "name": "Bob", "role": "ROOT"}, http.StatusBadRequest},
		{"register bad email", "/auth/register", map[string]any{"email": "bob", "username": "bob", "password": "123456", "name": "Bob"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := expectStatus(t, api.post(tc.path, tc.body, nil), tc.want)
			msg, _ := body["error"].(string)
			if msg == "" || strings.HasPrefix(msg, "auth:") {
				t.Fatalf("unexpected error message %q", msg)
			}
			if body["request_id"] == nil {
				t.Fatal("expected request_id in error body")
			}
		})
	}

	resp := api.get("/auth/login", nil)
	if resp.Header.Get("Allow") != http.MethodPost {
		t.Fatalf("unexpected Allow header %q", resp.Header.Get("Allow"))
	}
	expectStatus(t, resp, http.StatusMethodNotAllowed)
}

func TestUnknownUserAndInactiveUserLookIdentical(t *testing.T) {
	api := newTestAPI(t, testOptions{})
	api.register("root", "OWNER")
	bob := api.register("bob", "")
	token := api.login("root", "123456")

	expectStatus(t, api.post("/admin/users/"+bob["id"].(string)+"/deactivate", nil, bearerHeader(token)), http.StatusOK)

	inactive := expectStatus(t, api.post("/auth/login", map[string]any{"username": "bob", "password": "123456"}, nil), http.StatusUnauthorized)
	unknown := expectStatus(t, api.post("/auth/login", map[string]any{"username": "nobody", "password": "123456"}, nil), http.StatusUnauthorized)
	if inactive["error"] != unknown["error"] {
		t.Fatalf("failure bodies differ: %v vs %v", inactive, unknown)
	}
}

func TestUserActivation(t *testing.T) {
	api := newTestAPI(t, testOptions{})
	root := api.register("root", "ADMIN")
	bob := api.register("bob", "EDITOR")
	token := api.login("root", "123456")
	bobPath := "/admin/users/" + bob["id"].(string)

	body := expectStatus(t, api.post(bobPath+"/deactivate", nil, bearerHeader(token)), http.StatusOK)
	if body["user"].(map[string]any)["active"] != false {
		t.Fatalf("expected bob inactive: %v", body)
	}
	expectStatus(t, api.post("/auth/login", map[string]any{"username": "bob", "password": "123456"}, nil), http.StatusUnauthorized)

	body = expectStatus(t, api.post(bobPath+"/activate", nil, bearerHeader(token)), http.StatusOK)
	if body["user"].(map[string]any)["active"] != true {
		t.Fatalf("expected bob active: %v", body)
	}
	bobToken := api.login("bob", "123456")

	expectStatus(t, api.post("/admin/users/"+root["id"].(string)+"/deactivate", nil, bearerHeader(token)), http.StatusBadRequest)
	expectStatus(t, api.post("/admin/users/missing/deactivate", nil, bearerHeader(token)), http.StatusNotFound)
	expectStatus(t, api.post(bobPath+"/promote", nil, bearerHeader(token)), http.StatusNotFound)
	expectStatus(t, api.get(bobPath+"/activate", bearerHeader(token)), http.StatusMethodNotAllowed)
	expectStatus(t, api.post(bobPath+"/deactivate", nil, bearerHeader(bobToken)), http.StatusForbidden)

	// CREATE x2, LOGIN, UPDATE, LOGIN_FAILED, UPDATE, LOGIN, ACCESS_DENIED
	var updates int
	for _, e := range api.waitForAudit(8) {
		if e.Action != audit.ActionUpdate {
			continue
		}
		updates++
		if e.ActorUserID == nil || *e.ActorUserID != root["id"] {
			t.Fatalf("update audited with wrong actor: %+v", e)
		}
		if len(e.OldValue) == 0 || len(e.NewValue) == 0 {
			t.Fatalf("update missing snapshots: %+v", e)
		}
	}
	if updates != 2 {
		t.Fatalf("expected 2 UPDATE entries, got %d", updates)
	}
}

func TestAuditTrailEndpoint(t *testing.T) {
	api := newTestAPI(t, testOptions{})
	api.register("root", "OWNER")
	token := api.login("root", "123456")
	api.waitForAudit(2)

	body := expectStatus(t, api.get("/admin/audit?limit=1", bearerHeader(token)), http.StatusOK)
	entries := body["entries"].([]any)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].(map[string]any)["action"] != string(audit.ActionLogin) {
		t.Fatalf("expected newest entry to be LOGIN, got %v", entries[0])
	}

	expectStatus(t, api.get("/admin/audit?limit=abc", bearerHeader(token)), http.StatusBadRequest)
	expectStatus(t, api.get("/admin/audit?limit=501", bearerHeader(token)), http.StatusBadRequest)
	expectStatus(t, api.get("/admin/audit", nil), http.StatusUnauthorized)
}

type failingStore struct{ auth.UserStore }

func (failingStore) FindByUsername(context.Context, string) (*auth.User, error) {
	return nil, errors.New("pq: connection refused to 10.1.2.3")
}

func (failingStore) ExistsByUsernameOrEmail(context.Context, string, string) (bool, error) {
	return false, errors.New("pq: connection refused to 10.1.2.3")
}

func TestStorageFailuresAreGeneric(t *testing.T) {
	api := newTestAPI(t, testOptions{users: failingStore{}})

	for _, tc := range []struct {
		path string
		body map[string]any
	}{
		{"/auth/login", map[string]any{"username": "alice", "password": "123456"}},
		{"/auth/register", map[string]any{"email": "a@x.com", "username": "alice", "password": "123456", "name": "Alice"}},
	} {
		body := expectStatus(t, api.post(tc.path, tc.body, nil), http.StatusInternalServerError)
		if body["error"] != "internal error" {
			t.Fatalf("%s leaked error detail: %v", tc.path, body)
		}
	}
}

func TestHealthAndReadiness(t *testing.T) {
	api := newTestAPI(t, testOptions{})
	body := expectStatus(t, api.get("/healthz", nil), http.StatusOK)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected healthz body: %v", body)
	}
	expectStatus(t, api.get("/readyz", nil), http.StatusOK)
	expectStatus(t, api.get("/nope", nil), http.StatusNotFound)

	down := &toggleReadiness{}
	down.failing.Store(true)
	api = newTestAPI(t, testOptions{ready: down})
	body = expectStatus(t, api.get("/readyz", nil), http.StatusServiceUnavailable)
	if body["status"] != "not_ready" {
		t.Fatalf("unexpected readyz body: %v", body)
	}
}

func TestAuthEndpointsAreThrottled(t *testing.T) {
	api := newTestAPI(t, testOptions{opts: []Option{WithLimiter(NewLocalLimiter(0.001, 2))}})
	creds := map[string]any{"username": "ghost", "password": "123456"}

	for i := 0; i < 2; i++ {
		expectStatus(t, api.post("/auth/login", creds, nil), http.StatusUnauthorized)
	}
	resp := api.post("/auth/login", creds, nil)
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	expectStatus(t, resp, http.StatusTooManyRequests)

	// Buckets are per path, and non-credential routes are never throttled.
	expectStatus(t, api.post("/auth/register", map[string]any{}, nil), http.StatusBadRequest)
	for i := 0; i < 5; i++ {
		expectStatus(t, api.get("/healthz", nil), http.StatusOK)
	}
}

func TestRegisterWithRoleSelectionDisabled(t *testing.T) {
	api := newTestAPI(t, testOptions{svcOpts: []auth.ServiceOption{auth.WithRoleSelection(false)}})

	body := expectStatus(t, api.post("/auth/register", map[string]any{
		"email": "m@x.com", "username": "mallory", "password": "123456", "name": "Mallory", "role": "OWNER",
	}, nil), http.StatusForbidden)
	if body["error"] != "forbidden" {
		t.Fatalf("unexpected error body %v", body)
	}

	created := expectStatus(t, api.post("/auth/register", map[string]any{
		"email": "m@x.com", "username": "mallory", "password": "123456", "name": "Mallory",
	}, nil), http.StatusCreated)
	user, _ := created["user"].(map[string]any)
	if user["role"] != "VIEWER" {
		t.Fatalf("expected VIEWER, got %v", user["role"])
	}
}
