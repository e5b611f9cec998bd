package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	v16 "github.com/voltgrid/csms/internal/adapter/ocpp/v16"
	"github.com/voltgrid/csms/internal/ports"
)

// StatsHandler exposes operational counters for the back-office dashboard.
type StatsHandler struct {
	chargers ports.ChargerRepository
	sessions ports.SessionRepository
	registry *v16.Registry
	engine   *v16.Engine
	log      *zap.Logger
}

func NewStatsHandler(
	chargers ports.ChargerRepository,
	sessions ports.SessionRepository,
	registry *v16.Registry,
	engine *v16.Engine,
	log *zap.Logger,
) *StatsHandler {
	return &StatsHandler{
		chargers: chargers,
		sessions: sessions,
		registry: registry,
		engine:   engine,
		log:      log,
	}
}

func (h *StatsHandler) Stats(c *fiber.Ctx) error {
	ctx := c.Context()

	connected, err := h.chargers.FindConnected(ctx)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to query chargers")
	}
	active, err := h.sessions.FindActive(ctx)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to query sessions")
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	sessions24h := int64(0)
	energy24h := 0.0
	for _, ch := range connected {
		if n, err := h.sessions.CountSince(ctx, ch.ID, since); err == nil {
			sessions24h += n
		}
		if e, err := h.sessions.EnergySince(ctx, ch.ID, since); err == nil {
			energy24h += e
		}
	}

	return c.JSON(fiber.Map{
		"connected_chargers": len(h.registry.Connections()),
		"registered_online":  len(connected),
		"active_sessions":    len(active),
		"pending_messages":   h.engine.PendingCount(),
		"master_observers":   h.registry.MasterCount(),
		"sessions_24h":       sessions24h,
		"energy_24h_kwh":     energy24h,
	})
}

func (h *StatsHandler) Connections(c *fiber.Ctx) error {
	conns := h.registry.Connections()
	return c.JSON(fiber.Map{"connections": conns, "count": len(conns)})
}

func (h *StatsHandler) PendingMessages(c *fiber.Ctx) error {
	chargerID := c.Query("charger_id")
	if chargerID == "" {
		return c.JSON(fiber.Map{"pending": h.engine.PendingCount()})
	}
	pending := h.engine.PendingFor(chargerID)
	out := make([]fiber.Map, 0, len(pending))
	for _, p := range pending {
		out = append(out, fiber.Map{
			"message_id":  p.MessageID,
			"action":      p.Action,
			"retry_count": p.RetryCount,
			"queued":      p.Queued,
			"first_sent":  p.FirstSentAt,
		})
	}
	return c.JSON(fiber.Map{"pending": out, "count": len(out)})
}
