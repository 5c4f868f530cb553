package httpapi

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/live-weather-tracker/internal/common"
	"github.com/i474232898/live-weather-tracker/internal/weather"
)

var validate = validator.New()

// CityLister returns the city names known to the tracker server.
type CityLister interface {
	ListCities(ctx context.Context) ([]string, error)
}

// FeedSource exposes what the raw feed listener accumulated.
type FeedSource interface {
	Items() []json.RawMessage
}

// Deps groups the optional collaborators of the routes. A nil Feed turns the
// feed endpoint into a 404.
type Deps struct {
	Cities CityLister
	Feed   FeedSource
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *weather.Service, deps Deps) {
	v1 := app.Group("/api/v1")

	v1.Get("/weather", func(c *fiber.Ctx) error {
		records := service.Records()
		return c.JSON(fiber.Map{
			"records": records,
			"count":   len(records),
			"busy":    service.Busy(),
		})
	})

	v1.Post("/weather", func(c *fiber.Ctx) error {
		if err := service.TriggerAdd(c.UserContext()); err != nil {
			return toFiberError(err, "failed to request a new weather record")
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"status": "requested",
		})
	})

	v1.Get("/weather/:id", func(c *fiber.Ctx) error {
		var req recordRequest
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		record, err := service.Record(req.ID)
		if err != nil {
			return toFiberError(err, "failed to look up weather record")
		}
		return c.JSON(record)
	})

	v1.Delete("/weather/:id", func(c *fiber.Ctx) error {
		var req recordRequest
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := service.TriggerDelete(c.UserContext(), req.ID); err != nil {
			return toFiberError(err, "failed to delete weather record")
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	v1.Get("/cities", func(c *fiber.Ctx) error {
		if deps.Cities == nil {
			return fiber.NewError(fiber.StatusNotFound, "city listing is not configured")
		}
		cities, err := deps.Cities.ListCities(c.UserContext())
		if err != nil {
			return toFiberError(err, "failed to fetch cities")
		}
		return c.JSON(cities)
	})

	v1.Get("/feed", func(c *fiber.Ctx) error {
		if deps.Feed == nil {
			return fiber.NewError(fiber.StatusNotFound, "feed listener is not enabled")
		}
		items := deps.Feed.Items()
		return c.JSON(fiber.Map{
			"items": items,
			"count": len(items),
		})
	})
}

// recordRequest holds the path parameters of the per-record endpoints.
type recordRequest struct {
	ID int64 `validate:"required,gt=0"`
}

func (r *recordRequest) bind(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return errors.New("id must be a positive integer")
	}
	r.ID = int64(id)

	if err := validate.Struct(r); err != nil {
		return errors.New("id must be a positive integer")
	}
	return nil
}

// toFiberError maps synchronizer and upstream errors to HTTP statuses.
func toFiberError(err error, msg string) error {
	switch {
	case errors.Is(err, weather.ErrBusy):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, weather.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, weather.ErrNotStarted), errors.Is(err, weather.ErrStopped):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case errors.Is(err, common.ErrNetwork), errors.Is(err, common.ErrParse):
		return fiber.NewError(fiber.StatusBadGateway, msg)
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.NewError(fiber.StatusGatewayTimeout, msg)
	default:
		return fiber.NewError(fiber.StatusInternalServerError, msg)
	}
}

// ErrorHandler renders every error as the JSON body the routes document.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}
