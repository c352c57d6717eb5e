package audit

import (
	"bytes"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/export"
)

// @Summary      List privileged users
// @Description  Users currently holding an audited role, with their formatted roles and last login.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "users: []models.PrivilegedUser"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/audit/users [get]
// ListUsersHandler returns the privileged user snapshot
func (h *Handlers) ListUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		users, err := h.users.PrivilegedUsers(c.Request.Context())
		if err != nil {
			slog.Error("list privileged users", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list users"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": users, "total": len(users)})
	}
}

// @Summary      Export privileged users as CSV
// @Tags         Audit
// @Security     Bearer
// @Produce      text/csv
// @Success      200  {string}  string  "CSV file"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/audit/users/export [get]
// ExportUsersHandler sends the privileged user snapshot as a CSV attachment
func (h *Handlers) ExportUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		users, err := h.users.PrivilegedUsers(c.Request.Context())
		if err != nil {
			slog.Error("export privileged users", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export users"})
			return
		}

		var buf bytes.Buffer
		if err := export.WritePrivilegedUsers(&buf, users); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export users"})
			return
		}
		sendCSV(c, export.Filename("privileged-users", h.now()), buf.Bytes())
	}
}
