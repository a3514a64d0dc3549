package handler

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	ws "github.com/modeltrainer/api/internal/websocket"
)

const localTaskIDs = "taskIds"

type PushHandler struct {
	hub *ws.Hub
}

func NewPushHandler(hub *ws.Hub) *PushHandler {
	return &PushHandler{hub: hub}
}

// Upgrade rejects plain HTTP requests and captures the task_id filters,
// which are not reachable from the websocket.Conn once upgraded
func (h *PushHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	var ids []string
	if id := c.Params("task_id"); id != "" {
		ids = append(ids, id)
	}
	for _, raw := range c.Context().QueryArgs().PeekMulti("task_id") {
		ids = append(ids, string(raw))
	}
	c.Locals(localTaskIDs, ids)
	return c.Next()
}

// Stream serves GET /ws and GET /ws/jobs/:task_id
func (h *PushHandler) Stream() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		ids, _ := c.Locals(localTaskIDs).([]string)
		h.hub.HandleConnection(c, ids)
	})
}
