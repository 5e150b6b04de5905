// Package server exposes perch over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"perch/internal/domain"
	"perch/internal/links"
	"perch/internal/render"
	"perch/internal/storage"
)

// LinkService is the link list API the handlers drive.
type LinkService interface {
	List(ctx context.Context, owner int64) ([]domain.SavedLink, error)
	Save(ctx context.Context, owner int64, raw string) (domain.SavedLink, error)
	Delete(ctx context.Context, owner int64, raw string) error
	SetCredential(ctx context.Context, owner int64, credential string) error
	Credential(ctx context.Context, owner int64) (string, error)
	ClearCredential(ctx context.Context, owner int64) error
	Sync(ctx context.Context, owner int64) (links.SyncResult, error)
}

type LinkRenderer interface {
	Links(ctx context.Context, credential string, links []domain.SavedLink) ([]render.LinkView, error)
}

type Deps struct {
	Links    LinkService
	Renderer LinkRenderer
	Media    storage.MediaStore
	// Upstream performs the relayed requests of /fetch.
	Upstream      *http.Client
	PublicBaseURL string
}

type Server struct {
	app      *fiber.App
	deps     Deps
	validate *validator.Validate
	log      logrus.FieldLogger
}

func New(deps Deps, logger logrus.FieldLogger) *Server {
	if deps.Upstream == nil {
		deps.Upstream = &http.Client{}
	}
	s := &Server{
		deps:     deps,
		validate: validator.New(),
		log:      logger.WithField("component", "http"),
	}
	s.app = fiber.New(fiber.Config{
		AppName:               "perch",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.mapControllers()
	return s
}

func (s *Server) mapControllers() {
	s.app.Get("/fetch", s.relay)
	s.app.Get("/media/:id", s.serveMedia)
	s.app.Get("/feed/:owner", s.ownerFeed)

	api := s.app.Group("/api/:owner")
	{
		api.Get("/links", s.listLinks)
		api.Post("/links", s.saveLink)
		api.Delete("/links", s.deleteLink)
		api.Put("/credential", s.setCredential)
		api.Delete("/credential", s.clearCredential)
		api.Post("/sync", s.syncLinks)
	}
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error {
	s.log.WithField("addr", addr).Info("HTTP server listening")
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.Is(err, domain.ErrInvalidURL):
		code = fiber.StatusBadRequest
	case errors.Is(err, domain.ErrDuplicateLink):
		code = fiber.StatusConflict
	case errors.Is(err, domain.ErrInvalidCredential), errors.Is(err, domain.ErrMissingCredential):
		code = fiber.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrPostNotFound):
		code = fiber.StatusNotFound
	case errors.Is(err, domain.ErrUpstream):
		code = fiber.StatusBadGateway
	}

	if code >= fiber.StatusInternalServerError {
		s.log.WithError(err).WithFields(logrus.Fields{"path": c.Path(), "method": c.Method()}).Error("Request failed")
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) bindAndValidate(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := s.validate.Struct(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}

func ownerParam(c *fiber.Ctx) (int64, error) {
	owner, err := strconv.ParseInt(c.Params("owner"), 10, 64)
	if err != nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, "owner must be numeric")
	}
	return owner, nil
}
