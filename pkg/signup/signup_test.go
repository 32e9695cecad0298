package signup_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/podlab/solid-oauth-lab/pkg/signup"
)

func newTestSignup(t *testing.T, store signup.UserStore, provisioner *signup.Provisioner) *httptest.Server {
	t.Helper()

	opts := []signup.Option{}
	if store != nil {
		opts = append(opts, signup.WithStore(store))
	}
	if provisioner != nil {
		opts = append(opts, signup.WithProvisioner(provisioner))
	}

	s, err := signup.NewServer(opts...)
	if err != nil {
		t.Fatal(err)
	}

	e := echo.New()
	s.MountRoutes(e.Group(""))
	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)
	return ts
}

func postAccount(t *testing.T, ts *httptest.Server, name, email, password string) (*http.Response, string) {
	t.Helper()
	form := url.Values{}
	form.Set("name", name)
	form.Set("email", email)
	form.Set("password", password)

	resp, err := http.PostForm(ts.URL+"/api/accounts", form)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestValidationCollectsAllErrors(t *testing.T) {
	ts := newTestSignup(t, nil, nil)

	resp, body := postAccount(t, ts, "", "bad", "short")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d, want 422", resp.StatusCode)
	}

	for _, want := range []string{
		"name must not be empty",
		"email must be a valid email address",
		"password must be at least 8 characters",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
}

func TestDuplicateEmailRejected(t *testing.T) {
	store := signup.NewMemoryUserStore()
	ts := newTestSignup(t, store, nil)

	resp, _ := postAccount(t, ts, "Alice", "alice@example.org", "password123")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first signup status %d, want 201", resp.StatusCode)
	}

	// email key is case-insensitive
	resp, body := postAccount(t, ts, "Alice Again", "ALICE@example.org", "password123")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("duplicate signup status %d, want 422", resp.StatusCode)
	}
	if !strings.Contains(body, "already in use") {
		t.Fatalf("expected duplicate email message:\n%s", body)
	}
}

func TestUnconfiguredProvisioningIsSkipped(t *testing.T) {
	store := signup.NewMemoryUserStore()
	ts := newTestSignup(t, store, nil)

	resp, body := postAccount(t, ts, "Bob", "bob@example.org", "password123")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d, want 201", resp.StatusCode)
	}
	if !strings.Contains(body, "oauth: skipped") || !strings.Contains(body, "pod: skipped") {
		t.Fatalf("expected skipped outcomes:\n%s", body)
	}

	user, err := store.GetUserByEmail("bob@example.org")
	if err != nil {
		t.Fatal("user not persisted")
	}
	if user.PasswordHash == "" {
		t.Fatal("password hash missing")
	}
}

func TestProvisioningFailureRejectsSignup(t *testing.T) {
	oauthCalls := 0
	oauthServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		oauthCalls++
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"userId":"oauth-1"}`))
	}))
	defer oauthServer.Close()

	podServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("pod quota exceeded"))
	}))
	defer podServer.Close()

	store := signup.NewMemoryUserStore()
	ts := newTestSignup(t, store, signup.NewProvisioner(oauthServer.URL, podServer.URL))

	resp, body := postAccount(t, ts, "Carol", "carol@example.org", "password123")
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status %d, want 502", resp.StatusCode)
	}
	if !strings.Contains(body, "pod quota exceeded") {
		t.Fatalf("expected failure detail in body:\n%s", body)
	}

	// oauth succeeded but persistence is all-or-nothing
	if oauthCalls != 1 {
		t.Fatalf("oauth called %d times", oauthCalls)
	}
	if _, err := store.GetUserByEmail("carol@example.org"); err == nil {
		t.Fatal("user must not be persisted on provisioning failure")
	}
}

func TestSuccessfulProvisioningLinks(t *testing.T) {
	oauthServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"userId":"oauth-42"}`))
	}))
	defer oauthServer.Close()

	podServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"podUrl":"http://pods.example/dave/","webId":"http://pods.example/webid/dave#me"}`))
	}))
	defer podServer.Close()

	store := signup.NewMemoryUserStore()
	ts := newTestSignup(t, store, signup.NewProvisioner(oauthServer.URL, podServer.URL))

	resp, _ := postAccount(t, ts, "Dave", "dave@example.org", "password123")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d, want 201", resp.StatusCode)
	}

	user, err := store.GetUserByEmail("dave@example.org")
	if err != nil {
		t.Fatal(err)
	}
	if user.Links.OAuthUserID != "oauth-42" {
		t.Fatalf("oauth link mismatch: %q", user.Links.OAuthUserID)
	}
	if user.Links.PodURL != "http://pods.example/dave/" {
		t.Fatalf("pod link mismatch: %q", user.Links.PodURL)
	}
	if !strings.HasSuffix(user.Links.WebID, "#me") {
		t.Fatalf("webid mismatch: %q", user.Links.WebID)
	}
}

func TestHashPasswordSalted(t *testing.T) {
	first := signup.HashPassword("password123")
	second := signup.HashPassword("password123")

	if first == second {
		t.Fatal("hashes of the same password must differ by salt")
	}
	for _, hash := range []string{first, second} {
		parts := strings.SplitN(hash, "$", 2)
		if len(parts) != 2 || len(parts[0]) != 16 || parts[1] == "" {
			t.Fatalf("unexpected hash format %q", hash)
		}
	}
}

func TestFileUserStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.cbor")

	store, err := signup.NewFileUserStore(path)
	if err != nil {
		t.Fatal(err)
	}
	err = store.SaveUser(&signup.UserRecord{
		ID:           "u1",
		Name:         "Eve",
		Email:        "eve@example.org",
		PasswordHash: "hash",
	})
	if err != nil {
		t.Fatal(err)
	}

	reopened, err := signup.NewFileUserStore(path)
	if err != nil {
		t.Fatal(err)
	}
	user, err := reopened.GetUserByEmail("eve@example.org")
	if err != nil {
		t.Fatal(err)
	}
	if user.Name != "Eve" || user.PasswordHash != "hash" {
		t.Fatalf("record mismatch: %+v", user)
	}
}
