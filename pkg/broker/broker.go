// Package broker exposes the authorization endpoints of the lab: authorize,
// consent, token, registration, discovery and userinfo. All parsing,
// validation and token work is delegated to the issuer; the broker renders
// the consent page and handles the decision.
package broker

import (
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/podlab/solid-oauth-lab/pkg/issuer"
	"github.com/podlab/solid-oauth-lab/pkg/oauth2"
	"github.com/podlab/solid-oauth-lab/pkg/oidc"
)

var (
	//go:embed *.html
	templatesFS embed.FS
)

type Server struct {
	issuer       *issuer.Issuer
	policy       *Policy
	baseURL      string
	demoIdentity issuer.Identity
	consentTmpl  *template.Template
	errorTmpl    *template.Template
}

type Option func(*Server) error

func NewServer(opts ...Option) (*Server, error) {
	s := &Server{
		// there is no real authentication in this lab: every caller
		// reaching the approval endpoint is this demo user
		demoIdentity: issuer.Identity{
			UserID: "demo-user",
			Props: map[string]interface{}{
				"userId": "demo-user",
				"name":   "Demo User",
			},
		},
		consentTmpl: template.Must(template.ParseFS(templatesFS, "consent.html", "layout.html")),
		errorTmpl:   template.Must(template.ParseFS(templatesFS, "error.html", "layout.html")),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.issuer == nil {
		return nil, fmt.Errorf("broker requires an issuer")
	}

	return s, nil
}

func ErrorLogMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		if err != nil {
			slog.Error("Error", "error", err, "path", c.Path(), "remote_addr", c.RealIP())
		}
		return err
	}
}

func (s *Server) MountRoutes(group *echo.Group) {
	group.Use(ErrorLogMiddleware)
	group.GET("/.well-known/openid-configuration", s.DiscoveryEndpoint)
	group.GET("/authorize", s.AuthorizationEndpoint)
	group.GET("/consent", s.ConsentEndpoint)
	group.POST("/authorize/approve", s.ApprovalEndpoint)
	group.POST("/oauth/token", s.TokenEndpoint)
	group.POST("/oauth/register", s.RegistrationEndpoint)
	group.GET("/admin/seed-client", s.SeedClientEndpoint)
	group.GET("/jwks", s.JWKS)
	group.GET("/userinfo", s.UserinfoEndpoint)
	group.GET("/error", s.ErrorPageEndpoint)
}

func (s *Server) ErrorPageEndpoint(c echo.Context) error {
	return s.errorTmpl.Execute(c.Response().Writer, map[string]interface{}{
		"error": oauth2.Error{
			Code:        c.QueryParam("error"),
			Description: c.QueryParam("error_description"),
		},
	})
}

func (s *Server) DiscoveryEndpoint(c echo.Context) error {
	return c.JSON(http.StatusOK, &oidc.DiscoveryDocument{
		Issuer:                           s.baseURL,
		AuthorizationEndpoint:            s.baseURL + "/authorize",
		TokenEndpoint:                    s.baseURL + "/oauth/token",
		JwksURI:                          s.baseURL + "/jwks",
		UserinfoEndpoint:                 s.baseURL + "/userinfo",
		RegistrationEndpoint:             s.baseURL + "/oauth/register",
		ResponseTypesSupported:           []string{"code"},
		GrantTypesSupported:              []string{"authorization_code"},
		ScopesSupported:                  []string{"openid", "webid"},
		CodeChallengeMethodsSupported:    []string{"plain", "S256"},
		IdTokenSigningAlgValuesSupported: []string{"ES256"},
	})
}

func redirectWithError(c echo.Context, redirectUri string, state string, err oauth2.Error) error {
	params := url.Values{}
	if state != "" {
		params.Add("state", state)
	}
	params.Add("error", err.Code)
	params.Add("error_description", err.Description)

	return c.Redirect(http.StatusFound, issuer.AppendQuery(redirectUri, params))
}

func bindAuthorizationRequest(c echo.Context) (*issuer.AuthorizationRequest, error) {
	var req issuer.AuthorizationRequest
	var method string
	binderr := echo.FormFieldBinder(c).
		MustString("response_type", &req.ResponseType).
		MustString("client_id", &req.ClientID).
		MustString("redirect_uri", &req.RedirectURI).
		MustString("state", &req.State).
		MustString("code_challenge", &req.CodeChallenge).
		String("scope", &req.Scope).
		String("code_challenge_method", &method).
		BindError()
	if binderr != nil {
		return nil, binderr
	}
	if method == "" {
		method = string(oauth2.CodeChallengeMethodPlain)
	}
	req.CodeChallengeMethod = oauth2.CodeChallengeMethod(method)
	return &req, nil
}

func (s *Server) AuthorizationEndpoint(c echo.Context) error {
	req, binderr := bindAuthorizationRequest(c)
	if binderr != nil {
		return echo.NewHTTPError(http.StatusBadRequest, oauth2.Error{
			Code:        "invalid_request",
			Description: binderr.Error(),
		})
	}

	if !s.policy.AllowedRedirectURI(req.RedirectURI) {
		return redirectWithError(c, req.RedirectURI, req.State, oauth2.Error{
			Code:        "invalid_request",
			Description: "redirect_uri forbidden by policy",
		})
	}

	if err := s.issuer.ValidateAuthorizationRequest(req); err != nil {
		oauthErr, ok := err.(*oauth2.Error)
		if !ok {
			oauthErr = &oauth2.Error{Code: "server_error", Description: err.Error()}
		}
		return redirectWithError(c, req.RedirectURI, req.State, *oauthErr)
	}

	consentURL := s.baseURL + "/consent?" + authorizationRequestValues(req).Encode()
	slog.Info("Redirecting to consent page", "client_id", req.ClientID, "scope", req.Scope)
	return c.Redirect(http.StatusFound, consentURL)
}

func authorizationRequestValues(req *issuer.AuthorizationRequest) url.Values {
	params := url.Values{}
	params.Set("response_type", req.ResponseType)
	params.Set("client_id", req.ClientID)
	params.Set("redirect_uri", req.RedirectURI)
	params.Set("scope", req.Scope)
	params.Set("state", req.State)
	params.Set("code_challenge", req.CodeChallenge)
	params.Set("code_challenge_method", string(req.CodeChallengeMethod))
	return params
}

func (s *Server) ConsentEndpoint(c echo.Context) error {
	req, binderr := bindAuthorizationRequest(c)
	if binderr != nil {
		return echo.NewHTTPError(http.StatusBadRequest, oauth2.Error{
			Code:        "invalid_request",
			Description: binderr.Error(),
		})
	}

	clientName := req.ClientID
	if client, err := s.issuer.GetClient(req.ClientID); err == nil && client.Name != "" {
		clientName = client.Name
	}

	scopes := oauth2.SplitScope(req.Scope)
	scopeList := strings.Join(scopes, ", ")
	if scopeList == "" {
		scopeList = "none"
	}

	return s.consentTmpl.Execute(c.Response().Writer, map[string]interface{}{
		"clientName":  clientName,
		"redirectURI": req.RedirectURI,
		"scopes":      scopeList,
		"params":      authorizationRequestValues(req),
		"approveURL":  s.baseURL + "/authorize/approve",
	})
}

func (s *Server) ApprovalEndpoint(c echo.Context) error {
	var decision string
	if binderr := echo.FormFieldBinder(c).MustString("decision", &decision).BindError(); binderr != nil {
		return echo.NewHTTPError(http.StatusBadRequest, oauth2.Error{
			Code:        "invalid_request",
			Description: binderr.Error(),
		})
	}

	req, binderr := bindAuthorizationRequest(c)
	if binderr != nil {
		return echo.NewHTTPError(http.StatusBadRequest, oauth2.Error{
			Code:        "invalid_request",
			Description: binderr.Error(),
		})
	}

	if decision != "approve" {
		slog.Info("Consent denied", "client_id", req.ClientID, "state", req.State)
		params := url.Values{}
		params.Set("error", "access_denied")
		params.Set("state", req.State)
		return c.Redirect(http.StatusFound, issuer.AppendQuery(req.RedirectURI, params))
	}

	identity := s.demoIdentity
	identity.Props = map[string]interface{}{}
	for k, v := range s.demoIdentity.Props {
		identity.Props[k] = v
	}
	identity.Props["scope"] = oauth2.SplitScope(req.Scope)

	redirect, err := s.issuer.CompleteAuthorization(req, identity)
	if err != nil {
		oauthErr, ok := err.(*oauth2.Error)
		if !ok {
			oauthErr = &oauth2.Error{Code: "server_error", Description: err.Error()}
		}
		return redirectWithError(c, req.RedirectURI, req.State, *oauthErr)
	}

	slog.Info("Consent approved", "client_id", req.ClientID, "user_id", identity.UserID)
	return c.Redirect(http.StatusFound, redirect)
}

func (s *Server) TokenEndpoint(c echo.Context) error {
	var req issuer.ExchangeRequest
	binderr := echo.FormFieldBinder(c).
		MustString("grant_type", &req.GrantType).
		MustString("code", &req.Code).
		MustString("redirect_uri", &req.RedirectURI).
		MustString("client_id", &req.ClientID).
		String("client_secret", &req.ClientSecret).
		String("code_verifier", &req.CodeVerifier).
		BindError()
	if binderr != nil {
		return echo.NewHTTPError(http.StatusBadRequest, oauth2.Error{
			Code:        "invalid_request",
			Description: binderr.Error(),
		})
	}

	slog.Info("Token request", "grant_type", req.GrantType, "client_id", req.ClientID, "redirect_uri", req.RedirectURI)

	tokens, err := s.issuer.Exchange(&req)
	if err != nil {
		if oauthErr, ok := err.(*oauth2.Error); ok {
			return c.JSON(http.StatusBadRequest, oauthErr)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, oauth2.Error{
			Code:        "server_error",
			Description: err.Error(),
		})
	}

	return c.JSON(http.StatusOK, tokens)
}

type registrationRequest struct {
	ClientName   string   `json:"client_name" form:"client_name" validate:"required"`
	RedirectURIs []string `json:"redirect_uris" form:"redirect_uris" validate:"required,min=1"`
}

func (s *Server) RegistrationEndpoint(c echo.Context) error {
	var req registrationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, oauth2.Error{
			Code:        "invalid_client_metadata",
			Description: err.Error(),
		})
	}
	if req.ClientName == "" || len(req.RedirectURIs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, oauth2.Error{
			Code:        "invalid_client_metadata",
			Description: "client_name and redirect_uris are required",
		})
	}

	for _, uri := range req.RedirectURIs {
		if !s.policy.AllowedRedirectURI(uri) {
			return echo.NewHTTPError(http.StatusBadRequest, oauth2.Error{
				Code:        "invalid_redirect_uri",
				Description: fmt.Sprintf("redirect_uri %q forbidden by policy", uri),
			})
		}
	}

	client, err := s.issuer.RegisterClient(req.ClientName, req.RedirectURIs)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, oauth2.Error{
			Code:        "server_error",
			Description: err.Error(),
		})
	}

	return c.JSON(http.StatusCreated, client)
}

func (s *Server) SeedClientEndpoint(c echo.Context) error {
	redirectURI := c.QueryParam("redirect_uri")
	if redirectURI == "" {
		redirectURI = "http://localhost:3355/callback"
	}

	client, err := s.issuer.RegisterClient("demo-client", []string{redirectURI})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, oauth2.Error{
			Code:        "server_error",
			Description: err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"client": map[string]string{
			"client_id":     client.ID,
			"client_secret": client.Secret,
			"redirect_uri":  redirectURI,
		},
	})
}

func (s *Server) JWKS(c echo.Context) error {
	return c.JSON(http.StatusOK, s.issuer.JWKS())
}

func (s *Server) UserinfoEndpoint(c echo.Context) error {
	authz := c.Request().Header.Get("Authorization")
	if len(authz) < 8 || !strings.EqualFold(authz[:7], "bearer ") {
		return echo.NewHTTPError(http.StatusUnauthorized, oauth2.Error{
			Code:        "invalid_token",
			Description: "missing bearer token",
		})
	}

	token, err := s.issuer.ParseAccessToken(authz[7:])
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, oauth2.Error{
			Code:        "invalid_token",
			Description: err.Error(),
		})
	}

	info := map[string]interface{}{
		"sub": token.Subject(),
	}
	if webid, ok := token.Get("webid"); ok {
		info["webid"] = webid
	}
	if scope, ok := token.Get("scope"); ok {
		info["scope"] = scope
	}

	return c.JSON(http.StatusOK, info)
}
