// Package podserver is a small stand-in for a Solid pod server: it provisions
// pods, stores resources byte-for-byte and serves WebID profile documents.
// It doubles as the demo backend behind the gateway.
package podserver

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

type resource struct {
	data        []byte
	contentType string
}

type pod struct {
	Name      string    `json:"name"`
	WebID     string    `json:"webId"`
	CreatedAt time.Time `json:"createdAt"`
}

type Server struct {
	baseURL   string
	auth      echo.MiddlewareFunc
	pods      map[string]*pod
	resources map[string]*resource
	lock      sync.RWMutex
}

type Option func(*Server) error

func NewServer(opts ...Option) (*Server, error) {
	s := &Server{
		pods:      make(map[string]*pod),
		resources: make(map[string]*resource),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func WithBaseURL(baseURL string) Option {
	return func(s *Server) error {
		s.baseURL = baseURL
		return nil
	}
}

// WithAuthMiddleware guards the resource routes; without it they are open.
func WithAuthMiddleware(auth echo.MiddlewareFunc) Option {
	return func(s *Server) error {
		s.auth = auth
		return nil
	}
}

func (s *Server) MountRoutes(group *echo.Group) {
	group.POST("/pods", s.CreatePodEndpoint)
	group.GET("/webid/:id", s.WebIDProfileEndpoint)
	group.Any("/api/echo", s.EchoEndpoint)
	group.GET("/ws/echo", s.WebsocketEchoEndpoint)

	resources := group.Group("/pods")
	if s.auth != nil {
		resources.Use(s.auth)
	}
	resources.PUT("/:pod/*", s.PutResourceEndpoint)
	resources.GET("/:pod/*", s.GetResourceEndpoint)
	resources.DELETE("/:pod/*", s.DeleteResourceEndpoint)
}

type createPodRequest struct {
	Name string `json:"name" form:"name"`
}

type createPodResponse struct {
	PodURL string `json:"podUrl"`
	WebID  string `json:"webId"`
}

func (s *Server) CreatePodEndpoint(c echo.Context) error {
	var req createPodRequest
	if err := c.Bind(&req); err != nil || req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}

	name := slugify(req.Name)

	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.pods[name]; ok {
		return echo.NewHTTPError(http.StatusConflict, fmt.Sprintf("pod %q already exists", name))
	}

	webID := fmt.Sprintf("%s/webid/%s#me", s.baseURL, name)
	s.pods[name] = &pod{
		Name:      name,
		WebID:     webID,
		CreatedAt: time.Now(),
	}

	slog.Info("Pod created", "pod", name, "webid", webID)

	return c.JSON(http.StatusCreated, createPodResponse{
		PodURL: fmt.Sprintf("%s/pods/%s/", s.baseURL, name),
		WebID:  webID,
	})
}

func slugify(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, name)
}

// WebIDProfileEndpoint serves a minimal Turtle profile document.
func (s *Server) WebIDProfileEndpoint(c echo.Context) error {
	id := c.Param("id")

	s.lock.RLock()
	p, ok := s.pods[id]
	s.lock.RUnlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown webid")
	}

	profile := fmt.Sprintf(`@prefix foaf: <http://xmlns.com/foaf/0.1/> .
@prefix solid: <http://www.w3.org/ns/solid/terms#> .

<#me>
    a foaf:Person ;
    foaf:name %q ;
    solid:oidcIssuer <%s> .
`, p.Name, s.baseURL)

	return c.Blob(http.StatusOK, "text/turtle", []byte(profile))
}

func (s *Server) resourceKey(c echo.Context) string {
	return c.Param("pod") + "/" + c.Param("*")
}

func (s *Server) PutResourceEndpoint(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	contentType := c.Request().Header.Get(echo.HeaderContentType)
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}

	key := s.resourceKey(c)
	s.lock.Lock()
	_, existed := s.resources[key]
	s.resources[key] = &resource{data: body, contentType: contentType}
	s.lock.Unlock()

	slog.Info("Resource stored", "key", key, "bytes", len(body))

	if existed {
		return c.NoContent(http.StatusNoContent)
	}
	return c.NoContent(http.StatusCreated)
}

func (s *Server) GetResourceEndpoint(c echo.Context) error {
	key := s.resourceKey(c)
	s.lock.RLock()
	res, ok := s.resources[key]
	s.lock.RUnlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no such resource")
	}
	return c.Blob(http.StatusOK, res.contentType, res.data)
}

func (s *Server) DeleteResourceEndpoint(c echo.Context) error {
	key := s.resourceKey(c)
	s.lock.Lock()
	_, ok := s.resources[key]
	delete(s.resources, key)
	s.lock.Unlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no such resource")
	}
	return c.NoContent(http.StatusNoContent)
}
