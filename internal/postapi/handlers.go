package postapi

import (
	"errors"
	"strconv"
	"time"

	"backend-zachatter/internal/detail"
	"backend-zachatter/internal/metrics"
	"backend-zachatter/internal/post"
	"backend-zachatter/internal/shared/geo"
	"backend-zachatter/internal/visibility"

	"github.com/gofiber/fiber/v2"
)

type createRequest struct {
	Message      string  `json:"message"`
	PhotoURL     string  `json:"photo_url"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	IsEventBooth bool    `json:"is_event_booth"`
}

// Clock is overridable in tests.
var Clock = time.Now

func RegisterRoutes(r fiber.Router, store post.Backend, window visibility.Window, m *metrics.Metrics) {
	r.Post("/", func(c *fiber.Ctx) error {
		var req createRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		p, err := store.Create(c.UserContext(), post.Draft{
			Message:      req.Message,
			PhotoURL:     req.PhotoURL,
			Location:     geo.Point{Lat: req.Lat, Lng: req.Lng},
			IsEventBooth: req.IsEventBooth,
		})
		switch {
		case errors.Is(err, post.ErrInvalidDraft):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		case err != nil:
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		m.IncPostCreated(p.IsEventBooth)
		return c.Status(fiber.StatusCreated).JSON(p)
	})

	r.Get("/visible", func(c *fiber.Ctx) error {
		lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
		lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
		if errLat != nil || errLng != nil || !geo.IsValidLatLon(lat, lng) {
			return fiber.NewError(fiber.StatusBadRequest, "lat and lng required")
		}
		viewer := geo.Point{Lat: lat, Lng: lng}
		now := Clock()

		candidates, err := store.ListCandidates(c.UserContext(), viewer, window.MaxDistanceKm, window.Since(now))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		m.IncVisibleComputed()
		return c.JSON(visibility.VisiblePosts(candidates, &viewer, now, window))
	})

	r.Get("/:id", func(c *fiber.Ctx) error {
		p, err := store.Get(c.UserContext(), c.Params("id"))
		if errors.Is(err, post.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(detail.Render(p, Clock()))
	})
}
