package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
)

// HTTPRecorder records one finished request
type HTTPRecorder interface {
	RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, durationSeconds float64)
}

// Metrics records latency and status per matched route
func Metrics(recorder HTTPRecorder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}

		recorder.RecordHTTPRequest(c.UserContext(), c.Method(), c.Route().Path, status, time.Since(start).Seconds())
		return err
	}
}
