package server

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"perch/internal/domain"
	"perch/internal/feed"
)

func (s *Server) listLinks(c *fiber.Ctx) error {
	owner, err := ownerParam(c)
	if err != nil {
		return err
	}
	ctx := c.UserContext()

	items, err := s.deps.Links.List(ctx, owner)
	if err != nil {
		return err
	}
	credential, err := s.deps.Links.Credential(ctx, owner)
	if err != nil && !errors.Is(err, domain.ErrMissingCredential) {
		return err
	}

	views, err := s.deps.Renderer.Links(ctx, credential, items)
	if err != nil {
		return err
	}
	return c.JSON(views)
}

func (s *Server) saveLink(c *fiber.Ctx) error {
	owner, err := ownerParam(c)
	if err != nil {
		return err
	}

	var data struct {
		URL string `json:"url" validate:"required,url"`
	}
	if err := s.bindAndValidate(c, &data); err != nil {
		return err
	}

	link, err := s.deps.Links.Save(c.UserContext(), owner, data.URL)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(link)
}

func (s *Server) deleteLink(c *fiber.Ctx) error {
	owner, err := ownerParam(c)
	if err != nil {
		return err
	}
	raw := c.Query("url")
	if raw == "" {
		return fiber.NewError(fiber.StatusBadRequest, "url is required")
	}

	if err := s.deps.Links.Delete(c.UserContext(), owner, raw); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) setCredential(c *fiber.Ctx) error {
	owner, err := ownerParam(c)
	if err != nil {
		return err
	}

	var data struct {
		Credential string `json:"credential" validate:"required"`
	}
	if err := s.bindAndValidate(c, &data); err != nil {
		return err
	}

	if err := s.deps.Links.SetCredential(c.UserContext(), owner, data.Credential); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) clearCredential(c *fiber.Ctx) error {
	owner, err := ownerParam(c)
	if err != nil {
		return err
	}

	if err := s.deps.Links.ClearCredential(c.UserContext(), owner); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) syncLinks(c *fiber.Ctx) error {
	owner, err := ownerParam(c)
	if err != nil {
		return err
	}

	res, err := s.deps.Links.Sync(c.UserContext(), owner)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"total":  res.Total,
		"added":  res.Added,
		"pushed": res.Pushed,
	})
}

func (s *Server) ownerFeed(c *fiber.Ctx) error {
	owner, err := ownerParam(c)
	if err != nil {
		return err
	}
	ctx := c.UserContext()

	items, err := s.deps.Links.List(ctx, owner)
	if err != nil {
		return err
	}
	credential, _ := s.deps.Links.Credential(ctx, owner)
	views, err := s.deps.Renderer.Links(ctx, credential, items)
	if err != nil {
		return err
	}

	rss, err := feed.Build(owner, s.deps.PublicBaseURL, views, time.Now())
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "application/rss+xml; charset=utf-8")
	return c.SendString(rss)
}
