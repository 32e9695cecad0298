// Package gateway fronts an optional backend service. Authenticated requests
// are forwarded with the decoded token claims attached as headers; without a
// backend a minimal local route set is served.
package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/labstack/echo/v4"
)

type Server struct {
	backendURL *url.URL
	proxy      *httputil.ReverseProxy
	guard      *Guard
}

type Option func(*Server) error

func NewServer(opts ...Option) (*Server, error) {
	s := &Server{}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.guard == nil {
		return nil, fmt.Errorf("gateway requires a token guard")
	}

	return s, nil
}

func WithGuard(guard *Guard) Option {
	return func(s *Server) error {
		s.guard = guard
		return nil
	}
}

// WithBackend switches the gateway into forwarding mode.
func WithBackend(backendURL string) Option {
	return func(s *Server) error {
		parsed, err := url.Parse(backendURL)
		if err != nil {
			return fmt.Errorf("invalid backend url: %w", err)
		}
		s.backendURL = parsed
		s.proxy = httputil.NewSingleHostReverseProxy(parsed)
		slog.Info("Forwarding to backend", "backend_url", backendURL)
		return nil
	}
}

func (s *Server) MountRoutes(group *echo.Group) {
	group.GET("/api/whoami", s.WhoamiEndpoint, s.guard.Middleware(false))

	if s.proxy != nil {
		group.Any("/*", s.ForwardEndpoint, s.guard.Middleware(true))
	}
}

// WhoamiEndpoint echoes the auth props attached by the guard.
func (s *Server) WhoamiEndpoint(c echo.Context) error {
	authenticated, _ := c.Get(ContextKeyAuthenticated).(bool)
	props, _ := c.Get(ContextKeyAuthProps).(map[string]interface{})
	if props == nil {
		props = map[string]interface{}{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"authenticated": authenticated,
		"props":         props,
	})
}

// ForwardEndpoint proxies the request to the backend with the decoded claims
// serialized into x-auth-props and x-authenticated set.
func (s *Server) ForwardEndpoint(c echo.Context) error {
	props, _ := c.Get(ContextKeyAuthProps).(map[string]interface{})
	propsJSON, err := json.Marshal(props)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	req := c.Request()
	req.Header.Set("x-auth-props", string(propsJSON))
	req.Header.Set("x-authenticated", "true")

	slog.Debug("Forwarding request", "method", req.Method, "path", req.URL.Path, "backend", s.backendURL.String())

	s.proxy.ServeHTTP(c.Response(), req)
	return nil
}
