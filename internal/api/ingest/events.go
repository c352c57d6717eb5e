// Package ingest accepts directory events over HTTP for producers that cannot
// publish to the Redis event channel.
package ingest

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/events"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/telemetry"
)

// MaxEventBytes bounds the request body.
const MaxEventBytes = 64 << 10

// @Summary      Ingest directory event
// @Description  Applies one user lifecycle event to the directory projection and records it in the audit log when the policy allows.
// @Tags         Events
// @Security     APIKey
// @Accept       json
// @Produce      json
// @Param        body  body  events.Event  true  "Event"
// @Success      200  {object}  map[string]interface{}  "status: processed, type"
// @Success      202  {object}  map[string]interface{}  "status: applied, warning; directory updated but the audit entry was not written"
// @Failure      400  {object}  map[string]interface{}  "Malformed event"
// @Failure      401  {object}  map[string]interface{}  "Invalid API key"
// @Failure      413  {object}  map[string]interface{}  "Body too large"
// @Failure      429  {object}  map[string]interface{}  "Rate limited"
// @Failure      500  {object}  map[string]interface{}  "Dispatch failed"
// @Router       /api/v1/events [post]
// EventHandler decodes one event and dispatches it synchronously. When only
// the audit write failed the event is acknowledged with 202 and a warning so
// producers do not retry it and duplicate the entry.
func EventHandler(handler events.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxEventBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Event body too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
			return
		}

		ev, err := events.Decode(body)
		if err != nil {
			telemetry.EventsReceivedTotal.WithLabelValues("http", "invalid").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		telemetry.EventsReceivedTotal.WithLabelValues("http", string(ev.Type)).Inc()

		if err := handler.Dispatch(c.Request.Context(), ev); err != nil {
			if errors.Is(err, events.ErrNotRecorded) {
				slog.Warn("event applied but not recorded", "type", ev.Type, "user_id", ev.User.ID, "error", err)
				c.JSON(http.StatusAccepted, gin.H{
					"status":  "applied",
					"type":    ev.Type,
					"warning": "Directory updated but the audit entry could not be written; do not resend",
				})
				return
			}
			slog.Error("event dispatch failed", "type", ev.Type, "user_id", ev.User.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process event"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "processed", "type": ev.Type})
	}
}
