package issuer

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/podlab/solid-oauth-lab/pkg/oauth2"
)

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	iss, err := NewIssuer(WithIssuerURL("http://localhost:8080"))
	if err != nil {
		t.Fatalf("unable to create issuer: %v", err)
	}
	return iss
}

func TestCompleteAuthorizationAndExchange(t *testing.T) {
	iss := newTestIssuer(t)

	client, err := iss.RegisterClient("demo", []string{"http://localhost:3355/callback"})
	if err != nil {
		t.Fatal(err)
	}

	req := &AuthorizationRequest{
		ResponseType:        "code",
		ClientID:            client.ID,
		RedirectURI:         "http://localhost:3355/callback",
		Scope:               "openid webid",
		State:               "xyz",
		CodeChallenge:       "abc123xyz",
		CodeChallengeMethod: oauth2.CodeChallengeMethodPlain,
	}

	identity := Identity{
		UserID: "user-1",
		WebID:  "http://localhost:3000/webid/user-1#me",
		Props:  map[string]interface{}{"userId": "user-1"},
	}

	redirect, err := iss.CompleteAuthorization(req, identity)
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := url.Parse(redirect)
	if err != nil {
		t.Fatal(err)
	}
	code := parsed.Query().Get("code")
	if code == "" {
		t.Fatal("expected code in redirect")
	}
	if got := parsed.Query().Get("state"); got != "xyz" {
		t.Fatalf("state mismatch: got %q", got)
	}

	tokens, err := iss.Exchange(&ExchangeRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  req.RedirectURI,
		ClientID:     client.ID,
		ClientSecret: client.Secret,
		CodeVerifier: "abc123xyz",
	})
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
	if tokens.AccessToken == "" {
		t.Fatal("expected access_token")
	}
	if tokens.IDToken == "" {
		t.Fatal("expected id_token")
	}

	token, err := iss.ParseAccessToken(tokens.AccessToken)
	if err != nil {
		t.Fatalf("unable to parse issued token: %v", err)
	}
	if token.Subject() != "user-1" {
		t.Fatalf("sub mismatch: got %q", token.Subject())
	}
	webid, _ := token.Get("webid")
	if webid != "http://localhost:3000/webid/user-1#me" {
		t.Fatalf("webid mismatch: got %v", webid)
	}
}

func TestExchangeIsSingleUse(t *testing.T) {
	iss := newTestIssuer(t)

	client, _ := iss.RegisterClient("demo", []string{"http://localhost:3355/callback"})

	req := &AuthorizationRequest{
		ResponseType:        "code",
		ClientID:            client.ID,
		RedirectURI:         "http://localhost:3355/callback",
		State:               "s1",
		CodeChallenge:       "verifier",
		CodeChallengeMethod: oauth2.CodeChallengeMethodPlain,
	}

	redirect, err := iss.CompleteAuthorization(req, Identity{UserID: "user-1"})
	if err != nil {
		t.Fatal(err)
	}
	code := queryParam(t, redirect, "code")

	exchange := &ExchangeRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  req.RedirectURI,
		ClientID:     client.ID,
		ClientSecret: client.Secret,
		CodeVerifier: "verifier",
	}

	if _, err := iss.Exchange(exchange); err != nil {
		t.Fatalf("first exchange failed: %v", err)
	}

	_, err = iss.Exchange(exchange)
	if err == nil {
		t.Fatal("second exchange must fail")
	}
	var oauthErr *oauth2.Error
	if !asOAuthError(err, &oauthErr) || oauthErr.Code != "invalid_grant" {
		t.Fatalf("expected invalid_grant, got %v", err)
	}
}

func TestExchangeBindings(t *testing.T) {
	iss := newTestIssuer(t)
	client, _ := iss.RegisterClient("demo", []string{"http://localhost:3355/callback"})
	other, _ := iss.RegisterClient("other", []string{"http://localhost:4444/callback"})

	verifier := oauth2.GenerateCodeVerifier()
	req := &AuthorizationRequest{
		ResponseType:        "code",
		ClientID:            client.ID,
		RedirectURI:         "http://localhost:3355/callback",
		State:               "s1",
		CodeChallenge:       oauth2.S256ChallengeFromVerifier(verifier),
		CodeChallengeMethod: oauth2.CodeChallengeMethodS256,
	}

	cases := []struct {
		name   string
		mutate func(*ExchangeRequest)
	}{
		{"wrong redirect_uri", func(r *ExchangeRequest) { r.RedirectURI = "http://evil.example/cb" }},
		{"wrong client_id", func(r *ExchangeRequest) { r.ClientID = other.ID; r.ClientSecret = other.Secret }},
		{"wrong client_secret", func(r *ExchangeRequest) { r.ClientSecret = "nope" }},
		{"wrong verifier", func(r *ExchangeRequest) { r.CodeVerifier = "nope" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			redirect, err := iss.CompleteAuthorization(req, Identity{UserID: "user-1"})
			if err != nil {
				t.Fatal(err)
			}
			exchange := &ExchangeRequest{
				GrantType:    "authorization_code",
				Code:         queryParam(t, redirect, "code"),
				RedirectURI:  req.RedirectURI,
				ClientID:     client.ID,
				ClientSecret: client.Secret,
				CodeVerifier: verifier,
			}
			tc.mutate(exchange)
			if _, err := iss.Exchange(exchange); err == nil {
				t.Fatal("exchange must fail")
			}
		})
	}
}

// staticNonceService always redeems, so expiry is enforced by the grant
// alone.
type staticNonceService struct {
	code string
}

func (s *staticNonceService) Get() (string, error) {
	return s.code, nil
}

func (s *staticNonceService) Redeem(string) error {
	return nil
}

func TestExpiredCodeRejected(t *testing.T) {
	iss, err := NewIssuer(
		WithIssuerURL("http://localhost:8080"),
		WithCodeTTL(-time.Second),
		WithNonceService(&staticNonceService{code: "code-1"}),
	)
	if err != nil {
		t.Fatal(err)
	}

	client, _ := iss.RegisterClient("demo", []string{"http://localhost:3355/callback"})

	req := &AuthorizationRequest{
		ResponseType:        "code",
		ClientID:            client.ID,
		RedirectURI:         "http://localhost:3355/callback",
		State:               "s1",
		CodeChallenge:       "verifier",
		CodeChallengeMethod: oauth2.CodeChallengeMethodPlain,
	}

	redirect, err := iss.CompleteAuthorization(req, Identity{UserID: "user-1"})
	if err != nil {
		t.Fatal(err)
	}

	_, err = iss.Exchange(&ExchangeRequest{
		GrantType:    "authorization_code",
		Code:         queryParam(t, redirect, "code"),
		RedirectURI:  req.RedirectURI,
		ClientID:     client.ID,
		ClientSecret: client.Secret,
		CodeVerifier: "verifier",
	})
	if err == nil {
		t.Fatal("expired code must not exchange")
	}
	var oauthErr *oauth2.Error
	if !asOAuthError(err, &oauthErr) || oauthErr.Code != "invalid_grant" {
		t.Fatalf("expected invalid_grant, got %v", err)
	}
	if !strings.Contains(oauthErr.Description, "expired") {
		t.Fatalf("expected expiry description, got %q", oauthErr.Description)
	}
}

func TestAppendQuery(t *testing.T) {
	params := url.Values{"code": []string{"c"}, "state": []string{"s"}}

	got := AppendQuery("http://localhost/cb", params)
	if !strings.Contains(got, "?code=c") {
		t.Fatalf("expected ? join, got %q", got)
	}

	got = AppendQuery("http://localhost/cb?foo=bar", params)
	if !strings.Contains(got, "&code=c") {
		t.Fatalf("expected & join, got %q", got)
	}
}

func queryParam(t *testing.T, rawURL, name string) string {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	if err != nil {
		t.Fatal(err)
	}
	return parsed.Query().Get(name)
}

func asOAuthError(err error, target **oauth2.Error) bool {
	e, ok := err.(*oauth2.Error)
	if ok {
		*target = e
	}
	return ok
}
