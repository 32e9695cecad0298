package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/podlab/solid-oauth-lab/pkg/oauth2"
)

const (
	ContextKeyAuthenticated = "authenticated"
	ContextKeyAuthProps     = "auth_props"
)

// Guard validates bearer tokens against a JWKS and attaches the decoded
// claims to the request context.
type Guard struct {
	jwksFunc func() (jwk.Set, error)
}

func NewGuard(jwksFunc func() (jwk.Set, error)) *Guard {
	return &Guard{jwksFunc: jwksFunc}
}

// NewRemoteGuard fetches the key set from jwksURL and keeps it refreshed.
func NewRemoteGuard(ctx context.Context, jwksURL string) (*Guard, error) {
	cache := jwk.NewCache(ctx)
	cache.Register(jwksURL, jwk.WithMinRefreshInterval(15*time.Minute))
	_, err := cache.Refresh(ctx, jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch signing keys: %w", err)
	}
	return &Guard{
		jwksFunc: func() (jwk.Set, error) {
			return cache.Get(ctx, jwksURL)
		},
	}, nil
}

func (g *Guard) verifyToken(token string) (jwt.Token, error) {
	jwks, err := g.jwksFunc()
	if err != nil {
		return nil, err
	}
	return jwt.ParseString(token, jwt.WithKeySet(jwks))
}

// Middleware decodes a bearer token if present. With required set, requests
// without a valid token are rejected with 401.
func (g *Guard) Middleware(required bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authz := c.Request().Header.Get("Authorization")
			if len(authz) < 8 || !strings.EqualFold(authz[:7], "bearer ") {
				if required {
					return echo.NewHTTPError(http.StatusUnauthorized, oauth2.Error{
						Code:        "invalid_token",
						Description: "missing bearer token",
					})
				}
				c.Set(ContextKeyAuthenticated, false)
				return next(c)
			}

			token, err := g.verifyToken(authz[7:])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, oauth2.Error{
					Code:        "invalid_token",
					Description: err.Error(),
				})
			}

			props, err := token.AsMap(c.Request().Context())
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, oauth2.Error{
					Code:        "invalid_token",
					Description: err.Error(),
				})
			}

			c.Set(ContextKeyAuthenticated, true)
			c.Set(ContextKeyAuthProps, props)
			return next(c)
		}
	}
}
