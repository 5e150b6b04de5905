package server

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gofiber/fiber/v2"
)

// relay fetches an arbitrary http(s) URL on behalf of clients that cannot
// reach it directly, passing status and content type through.
func (s *Server) relay(c *fiber.Ctx) error {
	raw := c.Query("url")
	target, err := url.Parse(raw)
	if raw == "" || err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return fiber.NewError(fiber.StatusBadRequest, "url must be an absolute http(s) URL")
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, target.String(), nil)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	req.Header.Set("User-Agent", "perch/1.0")

	resp, err := s.deps.Upstream.Do(req)
	if err != nil {
		s.log.WithError(err).WithField("url", raw).Warn("Relay request failed")
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}

	c.Status(resp.StatusCode)
	c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
	if ct := resp.Header.Get(fiber.HeaderContentType); ct != "" {
		c.Set(fiber.HeaderContentType, ct)
	}
	if resp.ContentLength >= 0 {
		return c.SendStream(resp.Body, int(resp.ContentLength))
	}
	return c.SendStream(resp.Body)
}

func (s *Server) serveMedia(c *fiber.Ctx) error {
	entry, err := s.deps.Media.GetMedia(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	if entry.ContentType == "" {
		entry.ContentType = fiber.MIMEOctetStream
	}
	c.Set(fiber.HeaderContentType, entry.ContentType)
	c.Set(fiber.HeaderCacheControl, "public, max-age=31536000, immutable")
	return c.Send(entry.Payload)
}
