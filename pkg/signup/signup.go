// Package signup is the thin registration front-end: it validates the form,
// calls the two provisioning services and persists a user record only when
// neither call failed.
package signup

import (
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/segmentio/ksuid"
)

var (
	//go:embed *.html
	templatesFS embed.FS
)

type Server struct {
	store       UserStore
	provisioner *Provisioner
	validate    *validator.Validate
	formTmpl    *template.Template
	resultTmpl  *template.Template
	errorsTmpl  *template.Template
}

type Option func(*Server) error

func NewServer(opts ...Option) (*Server, error) {
	s := &Server{
		store:       NewMemoryUserStore(),
		provisioner: NewProvisioner("", ""),
		validate:    validator.New(),
		formTmpl:    template.Must(template.ParseFS(templatesFS, "signup.html")),
		resultTmpl:  template.Must(template.ParseFS(templatesFS, "result.html")),
		errorsTmpl:  template.Must(template.ParseFS(templatesFS, "errors.html")),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func WithStore(store UserStore) Option {
	return func(s *Server) error {
		s.store = store
		return nil
	}
}

func WithProvisioner(provisioner *Provisioner) Option {
	return func(s *Server) error {
		s.provisioner = provisioner
		return nil
	}
}

func (s *Server) MountRoutes(group *echo.Group) {
	group.GET("/", s.FormEndpoint)
	group.POST("/api/accounts", s.CreateAccountEndpoint)
}

func (s *Server) FormEndpoint(c echo.Context) error {
	return s.formTmpl.Execute(c.Response().Writer, nil)
}

type accountForm struct {
	Name     string `form:"name" validate:"required"`
	Email    string `form:"email" validate:"required,email"`
	Password string `form:"password" validate:"required,min=8"`
}

// validationMessages turns validator errors into the human-readable list the
// response carries. Every violated rule yields one message.
func validationMessages(err error) []string {
	var messages []string
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{err.Error()}
	}
	for _, fieldErr := range validationErrors {
		field := strings.ToLower(fieldErr.Field())
		switch fieldErr.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s must not be empty", field))
		case "email":
			messages = append(messages, fmt.Sprintf("%s must be a valid email address", field))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s characters", field, fieldErr.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s is invalid", field))
		}
	}
	return messages
}

func (s *Server) CreateAccountEndpoint(c echo.Context) error {
	var form accountForm
	if err := c.Bind(&form); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	// collect every violation before answering
	var messages []string
	if err := s.validate.Struct(form); err != nil {
		messages = validationMessages(err)
	}
	if form.Email != "" {
		if _, err := s.store.GetUserByEmail(form.Email); err == nil {
			messages = append(messages, "email is already in use")
		}
	}
	if len(messages) > 0 {
		return s.renderErrors(c, http.StatusUnprocessableEntity, messages)
	}

	user := &UserRecord{
		ID:           ksuid.New().String(),
		Name:         form.Name,
		Email:        strings.ToLower(form.Email),
		CreatedAt:    time.Now(),
		PasswordHash: HashPassword(form.Password),
	}

	// the two provisioning calls are independent of each other, but
	// persistence is all-or-nothing: any failure rejects the signup.
	// No rollback of an already created oauth account is attempted.
	var links ExternalLinks
	outcomes := []Outcome{
		s.provisioner.ProvisionOAuthAccount(user, &links),
		s.provisioner.ProvisionPod(user, &links),
	}

	for _, outcome := range outcomes {
		slog.Info("Provisioning outcome", "service", outcome.Service, "status", outcome.Status, "detail", outcome.Detail)
	}

	for _, outcome := range outcomes {
		if outcome.Status == StatusFailed {
			return s.renderResult(c, http.StatusBadGateway, user, outcomes)
		}
	}

	user.Links = links
	if err := s.store.SaveUser(user); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	slog.Info("User registered", "id", user.ID, "email", user.Email)

	c.Response().WriteHeader(http.StatusCreated)
	return s.resultTmpl.Execute(c.Response().Writer, map[string]interface{}{
		"name":     user.Name,
		"outcomes": outcomes,
	})
}

func (s *Server) renderErrors(c echo.Context, status int, messages []string) error {
	c.Response().WriteHeader(status)
	return s.errorsTmpl.Execute(c.Response().Writer, map[string]interface{}{
		"messages": messages,
	})
}

func (s *Server) renderResult(c echo.Context, status int, user *UserRecord, outcomes []Outcome) error {
	c.Response().WriteHeader(status)
	return s.resultTmpl.Execute(c.Response().Writer, map[string]interface{}{
		"name":     user.Name,
		"outcomes": outcomes,
	})
}
