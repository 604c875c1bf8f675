package api

import (
	"context"
	"net/http"

	"SyncHub/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// JobController service.Scheduler 实现
type JobController interface {
	List() []service.JobStatus
	Status(name string) (service.JobStatus, error)
	Configure(ctx context.Context, name string, enabled bool, intervalMinutes int) (service.JobStatus, error)
	Trigger(name string) (bool, error)
}

type AutomationHandler struct {
	jobs   JobController
	logger *logrus.Logger
}

func NewAutomationHandler(jobs JobController, logger *logrus.Logger) *AutomationHandler {
	return &AutomationHandler{jobs: jobs, logger: logger}
}

// JobConfigRequest POST /automation/:job/config
type JobConfigRequest struct {
	Enabled         *bool `json:"enabled" binding:"required"`
	IntervalMinutes int   `json:"intervalMinutes" binding:"omitempty,min=1,max=10080"`
}

// ListJobs GET /automation
func (h *AutomationHandler) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.jobs.List()})
}

// GetConfig GET /automation/:job/config
func (h *AutomationHandler) GetConfig(c *gin.Context) {
	status, err := h.jobs.Status(c.Param("job"))
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

// UpdateConfig 返回持久化后的配置
func (h *AutomationHandler) UpdateConfig(c *gin.Context) {
	var req JobConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job := c.Param("job")
	status, err := h.jobs.Configure(c.Request.Context(), job, *req.Enabled, req.IntervalMinutes)
	if err != nil {
		h.logger.WithError(err).WithField("job", job).Error("更新任务配置失败")
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

// Trigger 立即执行一次；已在运行时 started=false
// POST /automation/:job/trigger
func (h *AutomationHandler) Trigger(c *gin.Context) {
	job := c.Param("job")
	started, err := h.jobs.Trigger(job)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	result := "started"
	if !started {
		result = "already_running"
	}
	c.JSON(http.StatusOK, gin.H{"started": started, "status": result})
}
