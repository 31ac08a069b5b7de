// Package integration provides integration tests for the portcullis
// gateway.
//
// Tests run against a real gateway HTTP server assembled the way
// cmd/server assembles it (full middleware chain, seeded in-memory
// store), started in-process using net/http/httptest.
package integration

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/portcullis-auth/portcullis/pkg/decision"
	"github.com/portcullis-auth/portcullis/pkg/httpapi"
	"github.com/portcullis-auth/portcullis/pkg/identity"
	"github.com/portcullis-auth/portcullis/pkg/identity/memory"
	"github.com/portcullis-auth/portcullis/pkg/observability"
	"github.com/portcullis-auth/portcullis/pkg/seed"
	"github.com/portcullis-auth/portcullis/pkg/session"
)

// testEnv holds the shared server for all integration tests.
var testEnv *TestEnvironment

// TestEnvironment holds the gateway server under test.
type TestEnvironment struct {
	Gateway *httptest.Server
}

// TestMain seeds the store and starts the gateway before running tests.
func TestMain(m *testing.M) {
	testEnv = setupTestEnvironment()
	code := m.Run()
	testEnv.Teardown()
	os.Exit(code)
}

// setupTestEnvironment assembles the gateway the way cmd/server does.
func setupTestEnvironment() *TestEnvironment {
	store := memory.New(identity.LockoutPolicy{})

	report := seed.New(store, nil).Reconcile(context.Background(), seed.Baseline{
		Enabled: true,
		Roles:   []string{"admin", "user"},
		Users: []seed.UserSpec{
			{Name: "admin", Password: "changeme!", Roles: []string{"admin", "user"}},
			{Name: "carol", Password: "s3cret", Roles: []string{"user"}},
		},
	})
	if report.Failed() > 0 {
		panic(fmt.Sprintf("seeding failed: %s", report.String()))
	}

	sessions, err := session.NewManager(store, session.Config{
		Secret: []byte("integration-test-secret-0123456789"),
	}, nil)
	if err != nil {
		panic(fmt.Sprintf("creating session manager: %v", err))
	}

	mux := http.NewServeMux()
	httpapi.New(decision.New(store, nil), sessions, nil).Register(mux)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	handler := httpapi.Chain(mux,
		httpapi.Recovery(nil),
		httpapi.RequestID(),
		observability.MetricsMiddleware,
	)

	return &TestEnvironment{Gateway: httptest.NewServer(handler)}
}

// Teardown stops the server.
func (e *TestEnvironment) Teardown() {
	e.Gateway.Close()
}

// BaseURL returns the gateway's base URL.
func (e *TestEnvironment) BaseURL() string {
	return e.Gateway.URL
}

// newClient returns an HTTP client with a cookie jar and no automatic
// redirect following, so tests can assert on 302 responses directly.
func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("creating cookie jar: %v", err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// signIn submits the login form and asserts the redirect target.
func signIn(t *testing.T, client *http.Client, username, password, wantLocation string) {
	t.Helper()

	form := url.Values{"username": {username}, "password": {password}, "then": {wantLocation}}
	resp, err := client.PostForm(testEnv.BaseURL()+"/auth/login", form)
	if err != nil {
		t.Fatalf("posting login form: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("login status = %d, want 302", resp.StatusCode)
	}
	if got := resp.Header.Get("Location"); got != wantLocation {
		t.Fatalf("login redirect = %q, want %q", got, wantLocation)
	}
}

// authRequest calls the forward-auth endpoint with the client's cookies.
func authRequest(t *testing.T, client *http.Client, role string) *http.Response {
	t.Helper()

	target := testEnv.BaseURL() + "/auth/request"
	if role != "" {
		target += "?role=" + url.QueryEscape(role)
	}
	resp, err := client.Get(target)
	if err != nil {
		t.Fatalf("calling auth endpoint: %v", err)
	}
	resp.Body.Close()
	return resp
}

func TestFullSessionLifecycle(t *testing.T) {
	client := newClient(t)

	// Anonymous callers are told to authenticate.
	if resp := authRequest(t, client, ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous auth status = %d, want 401", resp.StatusCode)
	}

	signIn(t, client, "admin", "changeme!", "/dashboard")

	// The session now satisfies role-gated sub-requests.
	resp := authRequest(t, client, "admin")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("auth status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Forwarded-User"); got != "admin" {
		t.Errorf("X-Forwarded-User = %q, want admin", got)
	}
	roles := resp.Header.Get("X-Forwarded-Roles")
	if !strings.Contains(roles, "admin") || !strings.Contains(roles, "user") {
		t.Errorf("X-Forwarded-Roles = %q, want admin and user", roles)
	}

	// Logout invalidates the session.
	out, err := client.PostForm(testEnv.BaseURL()+"/auth/logout", nil)
	if err != nil {
		t.Fatalf("posting logout: %v", err)
	}
	out.Body.Close()
	if out.StatusCode != http.StatusFound {
		t.Fatalf("logout status = %d, want 302", out.StatusCode)
	}

	if resp := authRequest(t, client, ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("post-logout auth status = %d, want 401", resp.StatusCode)
	}
}

func TestRoleEnforcementAcrossUsers(t *testing.T) {
	client := newClient(t)
	signIn(t, client, "carol", "s3cret", "/app")

	// carol holds "user" but not "admin".
	if resp := authRequest(t, client, "user"); resp.StatusCode != http.StatusOK {
		t.Errorf("user-gated auth status = %d, want 200", resp.StatusCode)
	}
	if resp := authRequest(t, client, "admin"); resp.StatusCode != http.StatusForbidden {
		t.Errorf("admin-gated auth status = %d, want 403", resp.StatusCode)
	}

	// The denial did not terminate the session.
	if resp := authRequest(t, client, "user"); resp.StatusCode != http.StatusOK {
		t.Errorf("auth status after denial = %d, want 200", resp.StatusCode)
	}
}

func TestWrongPasswordStaysOnLoginForm(t *testing.T) {
	client := newClient(t)

	form := url.Values{"username": {"carol"}, "password": {"wrong"}}
	resp, err := client.PostForm(testEnv.BaseURL()+"/auth/login", form)
	if err != nil {
		t.Fatalf("posting login form: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if !strings.Contains(string(body), "Invalid username or password") {
		t.Error("expected the generic credential error in the form")
	}

	// No session was established.
	if resp := authRequest(t, client, ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("auth status after failed login = %d, want 401", resp.StatusCode)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	resp, err := http.Get(testEnv.BaseURL() + "/healthz")
	if err != nil {
		t.Fatalf("calling healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(testEnv.BaseURL() + "/metrics")
	if err != nil {
		t.Fatalf("calling metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading metrics: %v", err)
	}
	if !strings.Contains(string(body), "portcullis_requests_total") {
		t.Error("expected portcullis_requests_total in the metrics exposition")
	}
}
