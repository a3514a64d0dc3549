package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/modeltrainer/api/pkg/response"
)

// Routes is the complete HTTP surface. Auth, TrainLimit and Metrics are
// optional.
type Routes struct {
	Training   *TrainingHandler
	Health     *HealthHandler
	Push       *PushHandler
	Auth       fiber.Handler
	TrainLimit fiber.Handler
	Metrics    http.Handler
}

// Mount registers every route on app
func (r *Routes) Mount(app *fiber.App) {
	app.Get("/health", r.Health.Health)
	app.Get("/ready", r.Health.Ready)
	if r.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(r.Metrics))
	}

	app.Post("/train", r.chain(r.Auth, r.TrainLimit, r.Training.Train)...)
	app.Get("/training-status/:task_id", r.chain(r.Auth, r.Training.Status)...)
	app.Post("/cancel", r.chain(r.Auth, r.Training.Cancel)...)

	app.Get("/ws", r.chain(r.Auth, r.Push.Upgrade, r.Push.Stream())...)
	app.Get("/ws/jobs/:task_id", r.chain(r.Auth, r.Push.Upgrade, r.Push.Stream())...)
}

func (r *Routes) chain(handlers ...fiber.Handler) []fiber.Handler {
	out := make([]fiber.Handler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

// ErrorHandler answers errors no handler dealt with, including recovered
// panics, without leaking their text
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}
	if code >= fiber.StatusInternalServerError {
		log.Printf("Unhandled error on %s %s: %v", c.Method(), c.Path(), err)
	}

	return response.Error(c, code, message)
}
