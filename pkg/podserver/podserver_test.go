package podserver_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/podlab/solid-oauth-lab/pkg/podserver"
)

func newTestPodServer(t *testing.T, opts ...podserver.Option) *httptest.Server {
	t.Helper()
	e := echo.New()
	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)

	opts = append([]podserver.Option{podserver.WithBaseURL(ts.URL)}, opts...)
	s, err := podserver.NewServer(opts...)
	if err != nil {
		t.Fatal(err)
	}
	s.MountRoutes(e.Group(""))
	return ts
}

func TestCreatePodAndWebID(t *testing.T) {
	ts := newTestPodServer(t)

	resp, err := http.Post(ts.URL+"/pods", echo.MIMEApplicationJSON, strings.NewReader(`{"name":"Alice Example"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create pod status %d", resp.StatusCode)
	}

	var created struct {
		PodURL string `json:"podUrl"`
		WebID  string `json:"webId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(created.WebID, "#me") {
		t.Fatalf("webid %q must end with #me", created.WebID)
	}

	profileURL := strings.TrimSuffix(created.WebID, "#me")
	resp2, err := http.Get(profileURL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("webid profile status %d", resp2.StatusCode)
	}
	profile, _ := io.ReadAll(resp2.Body)
	if !strings.Contains(string(profile), "<#me>") {
		t.Fatal("profile missing #me subject")
	}

	// duplicate pod names conflict
	resp3, err := http.Post(ts.URL+"/pods", echo.MIMEApplicationJSON, strings.NewReader(`{"name":"Alice Example"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate pod status %d, want 409", resp3.StatusCode)
	}
}

func TestResourceRoundTrip(t *testing.T) {
	requireToken := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") != "Bearer good-token" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			return next(c)
		}
	}

	ts := newTestPodServer(t, podserver.WithAuthMiddleware(requireToken))

	content := []byte("<#doc> a <#Thing> .")

	// unauthenticated write rejected
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/pods/alice/notes/doc.ttl", bytes.NewReader(content))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated put status %d, want 401", resp.StatusCode)
	}

	// authenticated write
	req, _ = http.NewRequest(http.MethodPut, ts.URL+"/pods/alice/notes/doc.ttl", bytes.NewReader(content))
	req.Header.Set("Authorization", "Bearer good-token")
	req.Header.Set("Content-Type", "text/turtle")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("put status %d, want 201", resp.StatusCode)
	}

	// unauthenticated read rejected
	resp, err = http.Get(ts.URL + "/pods/alice/notes/doc.ttl")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated get status %d, want 401", resp.StatusCode)
	}

	// authenticated read returns the content byte-for-byte
	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/pods/alice/notes/doc.ttl", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status %d", resp.StatusCode)
	}
	got, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(got, content) {
		t.Fatalf("content mismatch: got %q", got)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/turtle") {
		t.Fatalf("content type mismatch: %q", ct)
	}

	// unknown resource is 404
	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/pods/alice/notes/missing.ttl", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing resource status %d, want 404", resp.StatusCode)
	}
}
