// Package audit implements the read side of the HTTP API: browsing and
// exporting the audit log and the privileged user snapshot.
package audit

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/repositories"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/export"
)

// DefaultPerPage matches the page size of the admin log table.
const DefaultPerPage = 20

// MaxPerPage caps per_page.
const MaxPerPage = 100

// LogStore is the part of the audit repository the handlers read from.
type LogStore interface {
	Query(ctx context.Context, filter repositories.AuditFilter, order repositories.AuditOrder, limit, offset int) ([]models.AuditLogEntry, error)
	Count(ctx context.Context, filter repositories.AuditFilter) (int64, error)
}

// UserSnapshot lists the users holding an audited role.
type UserSnapshot interface {
	PrivilegedUsers(ctx context.Context) ([]models.PrivilegedUser, error)
}

// Handlers serves /api/v1/audit.
type Handlers struct {
	logs     LogStore
	users    UserSnapshot
	location *time.Location
	now      func() time.Time
}

// NewHandlers creates audit handlers. Date filters are interpreted in loc;
// nil means UTC.
func NewHandlers(logs LogStore, users UserSnapshot, loc *time.Location) *Handlers {
	if loc == nil {
		loc = time.UTC
	}
	return &Handlers{logs: logs, users: users, location: loc, now: time.Now}
}

// parseFilter reads user_id, change_type, date_from and date_to. date_from
// starts at 00:00:00 and date_to ends at 23:59:59 of the given day.
func (h *Handlers) parseFilter(c *gin.Context) (repositories.AuditFilter, error) {
	var f repositories.AuditFilter

	if v := c.Query("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return f, fmt.Errorf("invalid user_id %q", v)
		}
		f.UserID = &id
	}
	if v := c.Query("change_type"); v != "" {
		ct, err := models.ParseChangeType(v)
		if err != nil {
			return f, err
		}
		f.ChangeType = &ct
	}
	if v := c.Query("date_from"); v != "" {
		t, err := export.DayStart(v, h.location)
		if err != nil {
			return f, err
		}
		f.DateFrom = &t
	}
	if v := c.Query("date_to"); v != "" {
		t, err := export.DayEnd(v, h.location)
		if err != nil {
			return f, err
		}
		f.DateTo = &t
	}
	return f, nil
}

func parseOrder(c *gin.Context) repositories.AuditOrder {
	return repositories.AuditOrder{
		Field:     c.DefaultQuery("orderby", "change_date"),
		Direction: c.DefaultQuery("order", "desc"),
	}
}

// @Summary      List audit log entries
// @Description  Filtered, sorted and paginated audit log.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        user_id      query  int     false  "Subject user ID"
// @Param        change_type  query  string  false  "user_created, role_changed, user_deleted or profile_updated"
// @Param        date_from    query  string  false  "YYYY-MM-DD, inclusive"
// @Param        date_to      query  string  false  "YYYY-MM-DD, inclusive"
// @Param        orderby      query  string  false  "change_date (default), username or change_type"
// @Param        order        query  string  false  "asc or desc (default)"
// @Param        page         query  int     false  "Page number (default 1)"
// @Param        per_page     query  int     false  "Items per page, max 100 (default 20)"
// @Success      200  {object}  map[string]interface{}  "logs: []models.AuditLogEntry, pagination: map"
// @Failure      400  {object}  map[string]interface{}  "Invalid filter"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/audit/logs [get]
// ListLogsHandler lists audit entries
// GET /api/v1/audit/logs?change_type=role_changed&page=2
func (h *Handlers) ListLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, err := h.parseFilter(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(DefaultPerPage)))
		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > MaxPerPage {
			perPage = DefaultPerPage
		}

		ctx := c.Request.Context()
		total, err := h.logs.Count(ctx, filter)
		if err != nil {
			slog.Error("count audit entries", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list audit logs"})
			return
		}
		entries, err := h.logs.Query(ctx, filter, parseOrder(c), perPage, (page-1)*perPage)
		if err != nil {
			slog.Error("query audit entries", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list audit logs"})
			return
		}

		totalPages := (total + int64(perPage) - 1) / int64(perPage)
		c.JSON(http.StatusOK, gin.H{
			"logs": entries,
			"pagination": gin.H{
				"page":        page,
				"per_page":    perPage,
				"total":       total,
				"total_pages": totalPages,
			},
		})
	}
}

// @Summary      Export audit log as CSV
// @Description  Every entry matching the filters, newest first.
// @Tags         Audit
// @Security     Bearer
// @Produce      text/csv
// @Param        user_id      query  int     false  "Subject user ID"
// @Param        change_type  query  string  false  "Change type"
// @Param        date_from    query  string  false  "YYYY-MM-DD, inclusive"
// @Param        date_to      query  string  false  "YYYY-MM-DD, inclusive"
// @Success      200  {string}  string  "CSV file"
// @Failure      400  {object}  map[string]interface{}  "Invalid filter"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/audit/logs/export [get]
// ExportLogsHandler streams the filtered log as a CSV attachment
func (h *Handlers) ExportLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, err := h.parseFilter(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		entries, err := h.logs.Query(c.Request.Context(), filter, repositories.AuditOrder{Field: "change_date", Direction: "desc"}, 0, 0)
		if err != nil {
			slog.Error("export audit entries", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export audit logs"})
			return
		}

		var buf bytes.Buffer
		if err := export.WriteAuditLog(&buf, entries); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export audit logs"})
			return
		}
		sendCSV(c, export.Filename("user-audit-logs", h.now()), buf.Bytes())
	}
}

func sendCSV(c *gin.Context, filename string, data []byte) {
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}
