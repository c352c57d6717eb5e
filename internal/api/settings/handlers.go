// Package settings implements the write side of the HTTP API: the audit
// policy, the report schedule, manual sends, the role catalog and report
// archives.
package settings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"

	"github.com/gin-gonic/gin"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/repositories"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/report"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/scheduler"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/services"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/storage"
	"github.com/user-audit-scheduler/user-audit-scheduler/pkg/checksum"
)

// Manager reads and saves the audit policy.
type Manager interface {
	Get(ctx context.Context) (models.AuditSettings, error)
	Update(ctx context.Context, in services.SettingsInput) (services.SaveResult, error)
	Schedule(ctx context.Context) (scheduler.Status, error)
}

// ReportSender sends one report immediately.
type ReportSender interface {
	Send(ctx context.Context, trigger string) error
}

// RoleCatalog lists and replaces the role catalog.
type RoleCatalog interface {
	ListRoles(ctx context.Context) ([]models.Role, error)
	ReplaceRoles(ctx context.Context, roles []models.Role) error
}

// Archives reads stored report and audit log archives.
type Archives interface {
	Enabled() bool
	List(ctx context.Context, kind string) ([]storage.ObjectInfo, error)
	Open(ctx context.Context, p string) (*bytes.Reader, error)
}

// Handlers serves the settings, schedule, reports and roles endpoints.
type Handlers struct {
	settings Manager
	reports  ReportSender
	roles    RoleCatalog
	archives Archives
}

// NewHandlers creates a Handlers instance. archives may be a nil
// *storage.Archiver when archiving is disabled.
func NewHandlers(settings Manager, reports ReportSender, roles RoleCatalog, archives Archives) *Handlers {
	if archives == nil {
		archives = (*storage.Archiver)(nil)
	}
	return &Handlers{settings: settings, reports: reports, roles: roles, archives: archives}
}

// @Summary      Get audit settings
// @Tags         Settings
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "settings: models.AuditSettings, schedule: scheduler.Status"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/settings [get]
// GetSettingsHandler returns the stored settings and the pending report job
func (h *Handlers) GetSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		cfg, err := h.settings.Get(ctx)
		if err != nil {
			slog.Error("load settings", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load settings"})
			return
		}
		status, err := h.settings.Schedule(ctx)
		if err != nil {
			slog.Error("load schedule", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load schedule"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"settings": cfg, "schedule": scheduleJSON(status)})
	}
}

// @Summary      Save audit settings
// @Description  Replaces the editable settings and enables, reschedules or disables the report schedule to match.
// @Tags         Settings
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  services.SettingsInput  true  "Settings"
// @Success      200  {object}  services.SaveResult
// @Failure      400  {object}  map[string]interface{}  "Invalid settings"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/settings [put]
// UpdateSettingsHandler saves the settings
func (h *Handlers) UpdateSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var in services.SettingsInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		res, err := h.settings.Update(c.Request.Context(), in)
		switch {
		case errors.Is(err, services.ErrInvalidSettings):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		case err != nil:
			slog.Error("save settings", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save settings"})
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// @Summary      Get report schedule
// @Tags         Settings
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "pending, due_at, display"
// @Router       /api/v1/schedule [get]
// GetScheduleHandler returns the pending report job
func (h *Handlers) GetScheduleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := h.settings.Schedule(c.Request.Context())
		if err != nil {
			slog.Error("load schedule", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load schedule"})
			return
		}
		c.JSON(http.StatusOK, scheduleJSON(status))
	}
}

func scheduleJSON(s scheduler.Status) gin.H {
	out := gin.H{"pending": s.Pending}
	if s.Pending {
		out["due_at"] = s.DueAt
		out["display"] = s.Display()
	}
	return out
}

// @Summary      Send report now
// @Description  Builds and emails the report to the configured recipients without touching the schedule.
// @Tags         Reports
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      422  {object}  map[string]interface{}  "No recipients or no privileged users"
// @Failure      502  {object}  map[string]interface{}  "Mail delivery failed"
// @Router       /api/v1/reports/send [post]
// SendReportHandler sends a report immediately
func (h *Handlers) SendReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := h.reports.Send(c.Request.Context(), "manual")
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"message": "Test email sent successfully! Check your inbox."})
		case errors.Is(err, report.ErrNoRecipients):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "No email recipients configured. Please add at least one email address in the settings."})
		case errors.Is(err, report.ErrNoUsers):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		case errors.Is(err, report.ErrDelivery):
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to send email. Please check your email configuration."})
		default:
			slog.Error("manual report send", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send report"})
		}
	}
}

// @Summary      List roles
// @Tags         Roles
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "roles: []models.Role"
// @Router       /api/v1/roles [get]
// ListRolesHandler returns the role catalog
func (h *Handlers) ListRolesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		roles, err := h.roles.ListRoles(c.Request.Context())
		if err != nil {
			slog.Error("list roles", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list roles"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"roles": roles})
	}
}

// ReplaceRolesRequest is the body of PUT /api/v1/roles.
type ReplaceRolesRequest struct {
	Roles []models.Role `json:"roles" binding:"required"`
}

// @Summary      Replace role catalog
// @Description  Replaces every role. At most one role may be the default.
// @Tags         Roles
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  ReplaceRolesRequest  true  "Roles"
// @Success      200  {object}  map[string]interface{}  "roles: []models.Role"
// @Failure      400  {object}  map[string]interface{}  "Invalid catalog"
// @Router       /api/v1/roles [put]
// ReplaceRolesHandler replaces the role catalog
func (h *Handlers) ReplaceRolesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ReplaceRolesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		if err := h.roles.ReplaceRoles(c.Request.Context(), req.Roles); err != nil {
			if errors.Is(err, repositories.ErrStorage) {
				slog.Error("replace roles", "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save roles"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.Info("role catalog replaced", "roles", len(req.Roles))
		c.JSON(http.StatusOK, gin.H{"roles": req.Roles})
	}
}

// @Summary      List archives
// @Tags         Reports
// @Security     Bearer
// @Produce      json
// @Param        kind  query  string  false  "report or audit-log; empty lists both"
// @Success      200  {object}  map[string]interface{}  "archives: []storage.ObjectInfo"
// @Failure      404  {object}  map[string]interface{}  "Archiving disabled"
// @Router       /api/v1/archives [get]
// ListArchivesHandler lists stored archives
func (h *Handlers) ListArchivesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.archives.Enabled() {
			c.JSON(http.StatusNotFound, gin.H{"error": "Archiving is disabled"})
			return
		}
		kind := c.Query("kind")
		if kind != "" && kind != storage.KindReport && kind != storage.KindAuditLog {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown archive kind %q", kind)})
			return
		}
		objs, err := h.archives.List(c.Request.Context(), kind)
		if err != nil {
			slog.Error("list archives", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list archives"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"archives": objs})
	}
}

// @Summary      Download archive
// @Tags         Reports
// @Security     Bearer
// @Produce      text/csv
// @Param        path  query  string  true  "Archive path as returned by the list endpoint"
// @Success      200  {string}  string  "CSV file"
// @Failure      404  {object}  map[string]interface{}  "Not found"
// @Router       /api/v1/archives/download [get]
// DownloadArchiveHandler sends one archive
func (h *Handlers) DownloadArchiveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.archives.Enabled() {
			c.JSON(http.StatusNotFound, gin.H{"error": "Archiving is disabled"})
			return
		}
		p := c.Query("path")
		if p == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
			return
		}
		r, err := h.archives.Open(c.Request.Context(), p)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Archive not found"})
			return
		}
		sum, err := checksum.CalculateSHA256(r)
		if err == nil {
			_, err = r.Seek(0, io.SeekStart)
		}
		if err != nil {
			slog.Error("failed to checksum archive", "path", p, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read archive"})
			return
		}
		c.Header(checksum.HeaderName, sum)
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, path.Base(p)))
		c.DataFromReader(http.StatusOK, r.Size(), "text/csv; charset=utf-8", r, nil)
	}
}
