package api

import (
	"net/http"
	"strconv"

	"SyncHub/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type ChangeHandler struct {
	changes repository.ChangeRepository
	logger  *logrus.Logger
}

func NewChangeHandler(changes repository.ChangeRepository, logger *logrus.Logger) *ChangeHandler {
	return &ChangeHandler{changes: changes, logger: logger}
}

// List 变更审计记录
// GET /changes?entity_type=procore.projects&native_id=123&limit=50
func (h *ChangeHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	list, err := h.changes.List(c.Request.Context(), repository.ChangeFilter{
		EntityType: c.Query("entity_type"),
		NativeID:   c.Query("native_id"),
		Limit:      limit,
	})
	if err != nil {
		h.logger.WithError(err).Error("ListChanges failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"changes": list, "total": len(list)})
}

type AuditHandler struct {
	audits repository.AuditLogRepository
	logger *logrus.Logger
}

func NewAuditHandler(audits repository.AuditLogRepository, logger *logrus.Logger) *AuditHandler {
	return &AuditHandler{audits: audits, logger: logger}
}

// List 操作审计日志
// GET /audit-logs?action=job_auth_expired&limit=50
func (h *AuditHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	list, err := h.audits.List(c.Request.Context(), c.Query("action"), limit)
	if err != nil {
		h.logger.WithError(err).Error("ListAuditLogs failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": list, "total": len(list)})
}
