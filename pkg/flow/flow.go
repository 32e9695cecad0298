// Package flow drives the authorization-code + PKCE sequence against a
// running broker: discovery, client seeding, authorize, consent decision,
// callback, token exchange, jwks and userinfo. Each step validates exactly
// one HTTP contract and writes its result into an explicit State record the
// next step reads from.
package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/podlab/solid-oauth-lab/pkg/oauth2"
	"github.com/podlab/solid-oauth-lab/pkg/oidc"
	"github.com/podlab/solid-oauth-lab/pkg/util"
)

// State accumulates the outputs of the executed steps. Steps only ever add
// fields; nothing is carried implicitly.
type State struct {
	Discovery *oidc.DiscoveryDocument

	ClientID     string
	ClientSecret string
	RedirectURI  string

	Scope               string
	AuthState           string
	CodeVerifier        string
	CodeChallenge       string
	CodeChallengeMethod oauth2.CodeChallengeMethod

	ConsentURL       string
	CallbackLocation string
	Code             string

	Tokens   *oauth2.TokenResponse
	Userinfo map[string]interface{}
}

// StepError is a flow-fatal error carrying the failed step and the observed
// HTTP status.
type StepError struct {
	Step   string
	Status int
	Detail string
}

func (e *StepError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s failed: status %d: %s", e.Step, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s failed: %s", e.Step, e.Detail)
}

type Driver struct {
	brokerURL string
	client    *http.Client
}

type DriverOption func(*Driver)

func WithHTTPClient(client *http.Client) DriverOption {
	return func(d *Driver) {
		d.client = client
	}
}

func NewDriver(brokerURL string, opts ...DriverOption) *Driver {
	d := &Driver{
		brokerURL: strings.TrimSuffix(brokerURL, "/"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.client == nil {
		// redirects are inspected, never followed
		d.client = &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return d
}

// NewState seeds a state with the flow driver's convenience defaults: plain
// PKCE with a random verifier, a random state value and the openid webid
// scope.
func NewState(redirectURI string) *State {
	verifier := oauth2.GenerateCodeVerifier()
	return &State{
		RedirectURI:         redirectURI,
		Scope:               "openid webid",
		AuthState:           util.GenerateRandomString(32),
		CodeVerifier:        verifier,
		CodeChallenge:       verifier,
		CodeChallengeMethod: oauth2.CodeChallengeMethodPlain,
	}
}

// UseS256 switches the state to the S256 challenge method.
func (st *State) UseS256() {
	st.CodeChallenge = oauth2.S256ChallengeFromVerifier(st.CodeVerifier)
	st.CodeChallengeMethod = oauth2.CodeChallengeMethodS256
}

// Discover fetches the openid configuration. Any non-2xx is fatal.
func (d *Driver) Discover(ctx context.Context, st *State) error {
	doc, err := oidc.FetchDiscoveryDocument(d.brokerURL + "/.well-known/openid-configuration")
	if err != nil {
		return &StepError{Step: "discovery", Detail: err.Error()}
	}
	st.Discovery = doc
	return nil
}

// SeedClient obtains demo client credentials from the admin endpoint. Empty
// credentials are fatal.
func (d *Driver) SeedClient(ctx context.Context, st *State) error {
	seedURL := d.brokerURL + "/admin/seed-client?redirect_uri=" + url.QueryEscape(st.RedirectURI)
	resp, body, err := d.get(ctx, seedURL)
	if err != nil {
		return &StepError{Step: "seed-client", Detail: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		return &StepError{Step: "seed-client", Status: resp.StatusCode, Detail: string(body)}
	}

	var seeded struct {
		Client struct {
			ClientID     string `json:"client_id"`
			ClientSecret string `json:"client_secret"`
		} `json:"client"`
	}
	if err := json.Unmarshal(body, &seeded); err != nil {
		return &StepError{Step: "seed-client", Detail: err.Error()}
	}
	if seeded.Client.ClientID == "" || seeded.Client.ClientSecret == "" {
		return &StepError{Step: "seed-client", Detail: "empty client credentials"}
	}

	st.ClientID = seeded.Client.ClientID
	st.ClientSecret = seeded.Client.ClientSecret
	return nil
}

func (st *State) authorizationValues(opts ...oauth2.ParameterOption) url.Values {
	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", st.ClientID)
	params.Set("redirect_uri", st.RedirectURI)
	params.Set("scope", st.Scope)
	params.Set("state", st.AuthState)
	params.Set("code_challenge", st.CodeChallenge)
	params.Set("code_challenge_method", string(st.CodeChallengeMethod))
	for _, opt := range opts {
		opt(params)
	}
	return params
}

// Authorize starts the authorization and records the consent page location.
// Anything but a 302 is a protocol violation.
func (d *Driver) Authorize(ctx context.Context, st *State, opts ...oauth2.ParameterOption) error {
	authorizeURL := st.Discovery.AuthorizationEndpoint + "?" + st.authorizationValues(opts...).Encode()
	resp, body, err := d.get(ctx, authorizeURL)
	if err != nil {
		return &StepError{Step: "authorize", Detail: err.Error()}
	}
	if resp.StatusCode != http.StatusFound {
		return &StepError{Step: "authorize", Status: resp.StatusCode, Detail: string(body)}
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return &StepError{Step: "authorize", Detail: "missing Location header"}
	}
	st.ConsentURL = location
	return nil
}

// Approve simulates the user's consent decision by re-submitting the
// authorization parameters with the given decision. The redirect target is
// recorded for the callback step.
func (d *Driver) Approve(ctx context.Context, st *State, decision string, opts ...oauth2.ParameterOption) error {
	params := st.authorizationValues(opts...)
	params.Set("decision", decision)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.brokerURL+"/authorize/approve",
		strings.NewReader(params.Encode()))
	if err != nil {
		return &StepError{Step: "approve", Detail: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.client.Do(req)
	if err != nil {
		return &StepError{Step: "approve", Detail: err.Error()}
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		return &StepError{Step: "approve", Status: resp.StatusCode, Detail: string(body)}
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return &StepError{Step: "approve", Detail: "missing Location header"}
	}
	st.CallbackLocation = location
	return nil
}

// Callback parses code and state out of the recorded redirect. A missing
// code is fatal.
func (d *Driver) Callback(st *State) error {
	parsed, err := url.Parse(st.CallbackLocation)
	if err != nil {
		return &StepError{Step: "callback", Detail: err.Error()}
	}
	query := parsed.Query()

	if errCode := query.Get("error"); errCode != "" {
		return &StepError{Step: "callback", Detail: fmt.Sprintf("authorization error: %s", errCode)}
	}

	code := query.Get("code")
	if code == "" {
		return &StepError{Step: "callback", Detail: "missing code in redirect"}
	}
	if got := query.Get("state"); got != st.AuthState {
		return &StepError{Step: "callback", Detail: fmt.Sprintf("state mismatch: got %q", got)}
	}

	st.Code = code
	return nil
}

// ExchangeCode trades the authorization code for tokens. A non-2xx response
// is fatal and surfaces the response body.
func (d *Driver) ExchangeCode(ctx context.Context, st *State, opts ...oauth2.ParameterOption) error {
	params := url.Values{}
	params.Set("grant_type", "authorization_code")
	params.Set("code", st.Code)
	params.Set("redirect_uri", st.RedirectURI)
	params.Set("client_id", st.ClientID)
	params.Set("client_secret", st.ClientSecret)
	params.Set("code_verifier", st.CodeVerifier)
	for _, opt := range opts {
		opt(params)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, st.Discovery.TokenEndpoint,
		strings.NewReader(params.Encode()))
	if err != nil {
		return &StepError{Step: "token", Detail: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.client.Do(req)
	if err != nil {
		return &StepError{Step: "token", Detail: err.Error()}
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StepError{Step: "token", Status: resp.StatusCode, Detail: string(body)}
	}

	var tokens oauth2.TokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		return &StepError{Step: "token", Detail: err.Error()}
	}
	if tokens.AccessToken == "" {
		return &StepError{Step: "token", Detail: "missing access_token"}
	}
	if tokens.IDToken == "" {
		return &StepError{Step: "token", Detail: "missing id_token"}
	}

	st.Tokens = &tokens
	return nil
}

// CheckJWKS verifies the key endpoint answers.
func (d *Driver) CheckJWKS(ctx context.Context, st *State) error {
	resp, body, err := d.get(ctx, st.Discovery.JwksURI)
	if err != nil {
		return &StepError{Step: "jwks", Detail: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		return &StepError{Step: "jwks", Status: resp.StatusCode, Detail: string(body)}
	}
	return nil
}

// Userinfo fetches the claims for the access token. A response without sub
// is fatal.
func (d *Driver) Userinfo(ctx context.Context, st *State) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, st.Discovery.UserinfoEndpoint, nil)
	if err != nil {
		return &StepError{Step: "userinfo", Detail: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+st.Tokens.AccessToken)

	resp, err := d.client.Do(req)
	if err != nil {
		return &StepError{Step: "userinfo", Detail: err.Error()}
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StepError{Step: "userinfo", Status: resp.StatusCode, Detail: string(body)}
	}

	var info map[string]interface{}
	if err := json.Unmarshal(body, &info); err != nil {
		return &StepError{Step: "userinfo", Detail: err.Error()}
	}
	sub, _ := info["sub"].(string)
	if sub == "" {
		return &StepError{Step: "userinfo", Detail: "missing sub"}
	}

	st.Userinfo = info
	return nil
}

// Run executes the full approved flow.
func (d *Driver) Run(ctx context.Context, st *State) error {
	if err := d.Discover(ctx, st); err != nil {
		return err
	}
	if err := d.SeedClient(ctx, st); err != nil {
		return err
	}
	if err := d.Authorize(ctx, st); err != nil {
		return err
	}
	if err := d.Approve(ctx, st, "approve"); err != nil {
		return err
	}
	if err := d.Callback(st); err != nil {
		return err
	}
	if err := d.ExchangeCode(ctx, st); err != nil {
		return err
	}
	if err := d.CheckJWKS(ctx, st); err != nil {
		return err
	}
	return d.Userinfo(ctx, st)
}

func (d *Driver) get(ctx context.Context, rawURL string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, body, nil
}
