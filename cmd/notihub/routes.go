package main

import (
	"encoding/json"
	"net/http"

	"github.com/gofiber/fiber/v2"
	router "github.com/goliatone/go-router"

	"github.com/hostcloudpe/notihub/internal/transport/ws"
	"github.com/hostcloudpe/notihub/pkg/commands"
	"github.com/hostcloudpe/notihub/pkg/interfaces/logger"
)

// SetupRoutes configures the HTTP surface.
func (a *App) SetupRoutes(r router.Router[*fiber.App]) {
	r.Get("/healthz", a.Health)

	api := r.Group("/api")
	api.Post("/notifications", a.SendNotification)
	api.Post("/notifications/:id/viewed", a.MarkViewed)
	api.Delete("/notifications/:id", a.DeleteNotification)

	r.WebSocket("/ws", ws.RouteConfig(nil), a.Sockets.Handle)
}

// SetupPassthrough mounts the legacy raw-payload route on the fiber app.
// Clients that still post controller payloads keep working; the body is
// forwarded upstream untouched when the proxy driver is active.
func (a *App) SetupPassthrough(app *fiber.App) {
	app.Post("/notifications", func(c *fiber.Ctx) error {
		if a.Providers.Raw == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "no upstream notification controller configured",
			})
		}

		out, err := a.Providers.Raw.SubmitRaw(c.Context(), json.RawMessage(c.Body()))
		if err != nil {
			a.Logger.Error("passthrough failed", logger.F("error", err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "error processing the notification request",
			})
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(out)
	})
}

func (a *App) Health(c router.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"driver": a.Config.Persistence.Driver,
	})
}

// SendNotification publishes a notification through the command catalog.
func (a *App) SendNotification(c router.Context) error {
	var req commands.SendNotification
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "invalid request"})
	}
	if err := a.Commands.SendNotification.Execute(c.Context(), req); err != nil {
		a.Logger.Warn("send rejected", logger.F("error", err))
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
	}
	return c.JSON(http.StatusAccepted, map[string]any{"success": true})
}

// MarkViewed flips a notification's seen flag for one user.
func (a *App) MarkViewed(c router.Context) error {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "invalid request"})
	}

	err := a.Commands.MarkViewed.Execute(c.Context(), commands.MarkViewed{
		NotificationID: c.Param("id", ""),
		UserID:         req.UserID,
	})
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

// DeleteNotification removes a notification from one user's list.
func (a *App) DeleteNotification(c router.Context) error {
	err := a.Commands.DeleteNotification.Execute(c.Context(), commands.DeleteNotification{
		NotificationID: c.Param("id", ""),
		UserID:         c.Query("user_id"),
	})
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}
