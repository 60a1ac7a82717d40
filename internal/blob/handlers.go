package blob

import (
	"errors"
	"io"

	"github.com/gofiber/fiber/v2"
)

type objectReader interface {
	Get(key string) ([]byte, string, bool)
}

func RegisterRoutes(r fiber.Router, svc *Service) {
	r.Post("/", func(c *fiber.Ctx) error {
		fh, err := c.FormFile("file")
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "file is required")
		}
		if svc.maxBytes > 0 && fh.Size > svc.maxBytes {
			return fiber.NewError(fiber.StatusRequestEntityTooLarge, ErrTooLarge.Error())
		}

		f, err := fh.Open()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		obj, err := svc.Upload(c.UserContext(), data, fh.Filename)
		switch {
		case errors.Is(err, ErrTooLarge):
			return fiber.NewError(fiber.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, ErrEmpty):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		case err != nil:
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": obj.ID, "url": obj.URL})
	})

	// In-process blobs are served back from here; real backends hand out their own URLs.
	if reader, ok := svc.store.(objectReader); ok {
		r.Get("/*", func(c *fiber.Ctx) error {
			data, contentType, found := reader.Get(c.Params("*"))
			if !found {
				return fiber.NewError(fiber.StatusNotFound, "blob not found")
			}
			c.Set(fiber.HeaderContentType, contentType)
			return c.Send(data)
		})
	}
}
