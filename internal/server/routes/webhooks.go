package routes

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/frethen/casenotify/internal/dispatch"
	"github.com/frethen/casenotify/internal/pipeline"
)

const maxEventBytes = 1 << 20

// WebhookRoutes exposes the inbound event endpoint and the provider's
// delivery-status callback.
type WebhookRoutes struct {
	pipeline *pipeline.Pipeline
	log      *slog.Logger
}

// NewWebhookRoutes constructs webhook routes.
func NewWebhookRoutes(p *pipeline.Pipeline, log *slog.Logger) *WebhookRoutes {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookRoutes{pipeline: p, log: log}
}

// RegisterRoutes registers webhook endpoints.
func (w *WebhookRoutes) RegisterRoutes(s *echo.Echo) {
	s.POST("/webhooks/events", w.handleEvent)
	s.POST("/webhooks/delivery-status", w.handleDeliveryStatus)
	s.GET("/healthz", w.handleHealth)
}

func (w *WebhookRoutes) handleEvent(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxEventBytes))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable request body"})
	}

	result := w.pipeline.Process(c.Request().Context(), body)
	return c.JSON(result.HTTPStatus(), result)
}

type deliveryStatusPayload struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// handleDeliveryStatus receives the provider's delivery receipt and
// correlates it back to the event that caused the message.
func (w *WebhookRoutes) handleDeliveryStatus(c echo.Context) error {
	var payload deliveryStatusPayload
	if err := json.NewDecoder(io.LimitReader(c.Request().Body, maxEventBytes)).Decode(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}

	ev, err := dispatch.DecodeAudit(payload.Reference)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown audit reference"})
	}

	w.log.InfoContext(c.Request().Context(), "Delivery status received",
		"status", payload.Status,
		"event_action", string(ev.Action),
		"event_channel", string(ev.Channel),
		"main_object_uri", ev.MainObjectURI,
	)
	return c.NoContent(http.StatusOK)
}

func (w *WebhookRoutes) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
