// Package issuer implements the demo key/token issuer: it registers clients,
// mints single-use authorization codes and exchanges them for signed access
// and ID tokens. It performs no user authentication of its own; the broker
// decides who an authorization is completed for.
package issuer

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/podlab/solid-oauth-lab/pkg/nonce"
	"github.com/podlab/solid-oauth-lab/pkg/oauth2"
	"github.com/podlab/solid-oauth-lab/pkg/util"
	"github.com/segmentio/ksuid"
)

type Issuer struct {
	issuerURL string
	sigPrK    jwk.Key
	jwks      jwk.Set
	store     Store
	codes     nonce.Service
	codeTTL   time.Duration
	tokenTTL  time.Duration
}

type Option func(*Issuer) error

func NewIssuer(opts ...Option) (*Issuer, error) {
	iss := &Issuer{
		store:    newMemoryStore(),
		codeTTL:  2 * time.Minute,
		tokenTTL: time.Hour,
	}

	for _, opt := range opts {
		if err := opt(iss); err != nil {
			return nil, err
		}
	}

	if iss.sigPrK == nil {
		if err := WithRandomSigningKey()(iss); err != nil {
			return nil, err
		}
	}

	if iss.codes == nil {
		// code nonces expire together with the grant they belong to
		codes, err := nonce.NewHashicorpNonceServiceWithValidity(iss.codeTTL)
		if err != nil {
			return nil, fmt.Errorf("unable to create nonce service: %w", err)
		}
		iss.codes = codes
	}

	return iss, nil
}

func (iss *Issuer) URL() string {
	return iss.issuerURL
}

// JWKS returns the public key set the tokens are verifiable against.
func (iss *Issuer) JWKS() jwk.Set {
	return iss.jwks
}

// RegisterClient creates a new client with a fresh id and secret.
func (iss *Issuer) RegisterClient(name string, redirectURIs []string) (*Client, error) {
	if len(redirectURIs) == 0 {
		return nil, fmt.Errorf("at least one redirect_uri is required")
	}
	client := &Client{
		ID:           ksuid.New().String(),
		Secret:       util.GenerateRandomString(64),
		Name:         name,
		RedirectURIs: redirectURIs,
		CreatedAt:    time.Now(),
	}
	if err := iss.store.SaveClient(client); err != nil {
		return nil, fmt.Errorf("unable to save client: %w", err)
	}
	slog.Info("Registered client", "client_id", client.ID, "client_name", client.Name)
	return client, nil
}

func (iss *Issuer) GetClient(id string) (*Client, error) {
	return iss.store.GetClient(id)
}

// ValidateAuthorizationRequest checks the request against the registered
// client before any consent is rendered.
func (iss *Issuer) ValidateAuthorizationRequest(req *AuthorizationRequest) error {
	if req.ResponseType != "code" {
		return &oauth2.Error{
			Code:        "unsupported_response_type",
			Description: fmt.Sprintf("response_type %q not supported", req.ResponseType),
		}
	}
	client, err := iss.store.GetClient(req.ClientID)
	if err != nil {
		return &oauth2.Error{
			Code:        "invalid_request",
			Description: "unknown client_id",
		}
	}
	if !client.AllowsRedirectURI(req.RedirectURI) {
		return &oauth2.Error{
			Code:        "invalid_request",
			Description: "redirect_uri not registered for client",
		}
	}
	return nil
}

// CompleteAuthorization mints a single-use code bound to the request and the
// given identity and returns the redirect URL the user agent is sent to.
func (iss *Issuer) CompleteAuthorization(req *AuthorizationRequest, identity Identity) (string, error) {
	if err := iss.ValidateAuthorizationRequest(req); err != nil {
		return "", err
	}

	code, err := iss.codes.Get()
	if err != nil {
		return "", fmt.Errorf("unable to mint code: %w", err)
	}

	now := time.Now()
	grant := &Grant{
		Code:      code,
		Request:   *req,
		Identity:  identity,
		IssuedAt:  now,
		ExpiresAt: now.Add(iss.codeTTL),
	}
	if err := iss.store.SaveGrant(grant); err != nil {
		return "", fmt.Errorf("unable to save grant: %w", err)
	}

	slog.Info("Authorization completed", "client_id", req.ClientID, "user_id", identity.UserID, "scope", req.Scope)

	return AppendQuery(req.RedirectURI, url.Values{
		"code":  []string{code},
		"state": []string{req.State},
	}), nil
}

// AppendQuery joins params onto uri with "?" or "&" depending on whether the
// uri already carries a query.
func AppendQuery(uri string, params url.Values) string {
	separator := "?"
	if parsed, err := url.Parse(uri); err == nil && parsed.RawQuery != "" {
		separator = "&"
	}
	return uri + separator + params.Encode()
}

type ExchangeRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	CodeVerifier string
}

// Exchange redeems an authorization code for tokens. The code is single-use:
// a second exchange of the same code fails regardless of the other
// parameters.
func (iss *Issuer) Exchange(req *ExchangeRequest) (*oauth2.TokenResponse, error) {
	if req.GrantType != "authorization_code" {
		return nil, &oauth2.Error{
			Code:        "unsupported_grant_type",
			Description: fmt.Sprintf("grant_type %q not supported", req.GrantType),
		}
	}

	// redeeming the nonce burns the code even if the rest of the exchange
	// fails afterwards
	if err := iss.codes.Redeem(req.Code); err != nil {
		return nil, &oauth2.Error{
			Code:        "invalid_grant",
			Description: "code is invalid, expired or already used",
		}
	}

	grant, err := iss.store.GetGrantByCode(req.Code)
	if err != nil {
		return nil, &oauth2.Error{
			Code:        "invalid_grant",
			Description: "unknown code",
		}
	}
	iss.store.DeleteGrant(req.Code)

	if time.Now().After(grant.ExpiresAt) {
		return nil, &oauth2.Error{
			Code:        "invalid_grant",
			Description: "code expired",
		}
	}

	client, err := iss.store.GetClient(req.ClientID)
	if err != nil || client.Secret != req.ClientSecret {
		return nil, &oauth2.Error{
			Code:        "invalid_client",
			Description: "client authentication failed",
		}
	}

	if grant.Request.ClientID != req.ClientID {
		return nil, &oauth2.Error{
			Code:        "invalid_grant",
			Description: "client_id mismatch",
		}
	}

	if grant.Request.RedirectURI != req.RedirectURI {
		return nil, &oauth2.Error{
			Code:        "invalid_grant",
			Description: "redirect_uri mismatch",
		}
	}

	if !oauth2.VerifyCodeChallenge(grant.Request.CodeChallenge, grant.Request.CodeChallengeMethod, req.CodeVerifier) {
		return nil, &oauth2.Error{
			Code:        "invalid_grant",
			Description: "code verifier mismatch",
		}
	}

	accessToken, err := iss.issueAccessToken(grant)
	if err != nil {
		return nil, fmt.Errorf("unable to issue access token: %w", err)
	}

	idToken, err := iss.issueIDToken(grant)
	if err != nil {
		return nil, fmt.Errorf("unable to issue id token: %w", err)
	}

	slog.Info("Tokens issued", "client_id", req.ClientID, "sub", grant.Identity.UserID, "details", util.JWSToText(accessToken))

	return &oauth2.TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(iss.tokenTTL.Seconds()),
		Scope:       grant.Request.Scope,
		IDToken:     idToken,
	}, nil
}

func (iss *Issuer) issueAccessToken(grant *Grant) (string, error) {
	now := time.Now()
	accessJwt := jwt.New()
	accessJwt.Set(jwt.IssuerKey, iss.issuerURL)
	accessJwt.Set(jwt.AudienceKey, grant.Request.ClientID)
	accessJwt.Set(jwt.SubjectKey, grant.Identity.UserID)
	accessJwt.Set(jwt.IssuedAtKey, now.Unix())
	accessJwt.Set(jwt.ExpirationKey, now.Add(iss.tokenTTL).Unix())
	accessJwt.Set(jwt.JwtIDKey, ksuid.New().String())
	accessJwt.Set("scope", grant.Request.Scope)
	if grant.Identity.WebID != "" {
		accessJwt.Set("webid", grant.Identity.WebID)
	}
	if grant.Identity.Props != nil {
		accessJwt.Set("props", grant.Identity.Props)
	}

	signed, err := jwt.Sign(accessJwt, jwt.WithKey(jwa.ES256, iss.sigPrK))
	if err != nil {
		return "", fmt.Errorf("unable to sign access token: %w", err)
	}
	return string(signed), nil
}

func (iss *Issuer) issueIDToken(grant *Grant) (string, error) {
	now := time.Now()
	idJwt := jwt.New()
	idJwt.Set(jwt.IssuerKey, iss.issuerURL)
	idJwt.Set(jwt.AudienceKey, grant.Request.ClientID)
	idJwt.Set(jwt.SubjectKey, grant.Identity.UserID)
	idJwt.Set(jwt.IssuedAtKey, now.Unix())
	idJwt.Set(jwt.ExpirationKey, now.Add(iss.tokenTTL).Unix())
	if grant.Identity.WebID != "" {
		idJwt.Set("webid", grant.Identity.WebID)
	}

	signed, err := jwt.Sign(idJwt, jwt.WithKey(jwa.ES256, iss.sigPrK))
	if err != nil {
		return "", fmt.Errorf("unable to sign id token: %w", err)
	}
	return string(signed), nil
}

// ParseAccessToken verifies a serialized access token against the issuer keys.
func (iss *Issuer) ParseAccessToken(serialized string) (jwt.Token, error) {
	token, err := jwt.ParseString(
		serialized,
		jwt.WithKeySet(iss.jwks),
		jwt.WithIssuer(iss.issuerURL),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to parse access token: %w", err)
	}
	return token, nil
}
