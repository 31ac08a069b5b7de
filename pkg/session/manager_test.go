package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/portcullis-auth/portcullis/pkg/identity"
	"github.com/portcullis-auth/portcullis/pkg/identity/memory"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestManager(t *testing.T, store identity.Store) *Manager {
	t.Helper()
	m, err := NewManager(store, Config{Secret: testSecret}, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

// requestWithCookies copies the Set-Cookie headers from a recorded
// response onto a fresh request, simulating the browser round trip.
func requestWithCookies(rec *httptest.ResponseRecorder) *http.Request {
	req := httptest.NewRequest("GET", "/auth/request", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestNewManager_RejectsShortSecret(t *testing.T) {
	if _, err := NewManager(memory.New(identity.LockoutPolicy{}), Config{Secret: []byte("short")}, nil); err == nil {
		t.Error("expected an error for a short secret")
	}
}

func TestIssueResolve_RoundTrip(t *testing.T) {
	m := newTestManager(t, memory.New(identity.LockoutPolicy{}))

	rec := httptest.NewRecorder()
	if err := m.Issue(rec, &identity.Account{ID: "id-1", Name: "alice"}); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	p := m.Resolve(requestWithCookies(rec))
	if !p.Authenticated {
		t.Fatal("expected an authenticated principal")
	}
	if p.AccountID != "id-1" || p.Name != "alice" {
		t.Errorf("principal = %+v, want id-1/alice", p)
	}
}

func TestResolve_NoCookie(t *testing.T) {
	m := newTestManager(t, memory.New(identity.LockoutPolicy{}))

	p := m.Resolve(httptest.NewRequest("GET", "/auth/request", nil))
	if p.Authenticated {
		t.Error("expected the anonymous principal")
	}
}

func TestResolve_TamperedToken(t *testing.T) {
	m := newTestManager(t, memory.New(identity.LockoutPolicy{}))

	rec := httptest.NewRecorder()
	if err := m.Issue(rec, &identity.Account{ID: "id-1", Name: "alice"}); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	req := httptest.NewRequest("GET", "/auth/request", nil)
	for _, c := range rec.Result().Cookies() {
		// Flip the tail of the signature.
		c.Value = c.Value[:len(c.Value)-2] + strings.Repeat("x", 2)
		req.AddCookie(c)
	}

	if p := m.Resolve(req); p.Authenticated {
		t.Error("tampered token must resolve to the anonymous principal")
	}
}

func TestResolve_ExpiredToken(t *testing.T) {
	m := newTestManager(t, memory.New(identity.LockoutPolicy{}))

	rec := httptest.NewRecorder()
	if err := m.Issue(rec, &identity.Account{ID: "id-1", Name: "alice"}); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Move the clock past the session TTL.
	m.now = func() time.Time { return time.Now().Add(13 * time.Hour) }

	if p := m.Resolve(requestWithCookies(rec)); p.Authenticated {
		t.Error("expired token must resolve to the anonymous principal")
	}
}

func TestClear_ExpiresCookie(t *testing.T) {
	m := newTestManager(t, memory.New(identity.LockoutPolicy{}))

	rec := httptest.NewRecorder()
	m.Clear(rec)

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookies = %d, want 1", len(cookies))
	}
	if cookies[0].MaxAge >= 0 {
		t.Errorf("MaxAge = %d, want negative", cookies[0].MaxAge)
	}
}

func TestInvalidator_ClearsCookie(t *testing.T) {
	m := newTestManager(t, memory.New(identity.LockoutPolicy{}))

	rec := httptest.NewRecorder()
	if err := m.Invalidator(rec).Invalidate(context.Background()); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Errorf("expected one expiring cookie, got %+v", cookies)
	}
}

func TestPasswordSignIn_Success(t *testing.T) {
	store := memory.New(identity.LockoutPolicy{})
	ctx := context.Background()

	acct, err := store.CreateAccount(ctx, "alice")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := store.SetPassword(ctx, acct.ID, "secret"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}

	m := newTestManager(t, store)
	got, err := m.PasswordSignIn(ctx, "alice", "secret")
	if err != nil {
		t.Fatalf("PasswordSignIn: %v", err)
	}
	if got.ID != acct.ID {
		t.Errorf("account ID = %q, want %q", got.ID, acct.ID)
	}
}

func TestPasswordSignIn_UnknownUser(t *testing.T) {
	m := newTestManager(t, memory.New(identity.LockoutPolicy{}))

	if _, err := m.PasswordSignIn(context.Background(), "ghost", "secret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("PasswordSignIn = %v, want ErrInvalidCredentials", err)
	}
}

func TestPasswordSignIn_WrongPasswordLocksOut(t *testing.T) {
	store := memory.New(identity.LockoutPolicy{MaxFailures: 2, Duration: time.Hour})
	ctx := context.Background()

	acct, err := store.CreateAccount(ctx, "alice")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := store.SetPassword(ctx, acct.ID, "secret"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}

	m := newTestManager(t, store)

	for i := 0; i < 2; i++ {
		if _, err := m.PasswordSignIn(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v, want ErrInvalidCredentials", i+1, err)
		}
	}

	// Threshold reached: even the correct password is rejected now.
	if _, err := m.PasswordSignIn(ctx, "alice", "secret"); !errors.Is(err, ErrLockedOut) {
		t.Errorf("PasswordSignIn = %v, want ErrLockedOut", err)
	}
}

// failingStore wraps a store to fail CheckPassword, exercising the
// store-fault path.
type failingStore struct {
	identity.Store
}

var errStoreDown = errors.New("store unavailable")

func (f *failingStore) CheckPassword(context.Context, string, string) (bool, error) {
	return false, errStoreDown
}

func TestPasswordSignIn_StoreFailureIsNotInvalidCredentials(t *testing.T) {
	inner := memory.New(identity.LockoutPolicy{})
	ctx := context.Background()

	if _, err := inner.CreateAccount(ctx, "alice"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	m := newTestManager(t, &failingStore{Store: inner})

	_, err := m.PasswordSignIn(ctx, "alice", "secret")
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("PasswordSignIn = %v, want wrapped store error", err)
	}
	if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrLockedOut) {
		t.Error("store failure must not masquerade as a credential failure")
	}
}
