package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handlers 路由依赖
type Handlers struct {
	Webhook    *WebhookHandler
	Automation *AutomationHandler
	Mapping    *MappingHandler
	Change     *ChangeHandler
	Audit      *AuditHandler
}

// RegisterRoutes 注册全部业务路由；nil 的 handler 对应路由不注册
func RegisterRoutes(r gin.IRouter, h Handlers) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if h.Webhook != nil {
		r.POST("/webhooks/:platform", h.Webhook.Receive)
	}
	if h.Automation != nil {
		r.GET("/automation", h.Automation.ListJobs)
		r.GET("/automation/:job/config", h.Automation.GetConfig)
		r.POST("/automation/:job/config", h.Automation.UpdateConfig)
		r.POST("/automation/:job/trigger", h.Automation.Trigger)
	}
	if h.Mapping != nil {
		r.GET("/mappings", h.Mapping.List)
		r.GET("/mappings/unmatched", h.Mapping.Unmatched)
		r.POST("/mappings/manual-link", h.Mapping.ManualLink)
		r.DELETE("/mappings/:id", h.Mapping.Delete)
		r.POST("/mappings/:id/reconcile", h.Mapping.Reconcile)
	}
	if h.Change != nil {
		r.GET("/changes", h.Change.List)
	}
	if h.Audit != nil {
		r.GET("/audit-logs", h.Audit.List)
	}
}
