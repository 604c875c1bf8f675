package api

import (
	"context"
	"net/http"
	"strconv"

	"SyncHub/internal/model"
	"SyncHub/internal/repository"
	"SyncHub/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// MappingLinker service.Matcher 实现
type MappingLinker interface {
	Unmatched(ctx context.Context, rule string) (*service.UnmatchedResult, error)
	ManualLink(ctx context.Context, rule, masterID, secondaryID string) (*model.EntityMapping, error)
	Unlink(ctx context.Context, id uint64) error
}

// MappingReconciler service.Reconciler 实现
type MappingReconciler interface {
	Reconcile(ctx context.Context, mapping *model.EntityMapping) (*model.EntityMapping, error)
}

type MappingHandler struct {
	mappings   repository.MappingRepository
	linker     MappingLinker
	reconciler MappingReconciler
	logger     *logrus.Logger
}

func NewMappingHandler(mappings repository.MappingRepository, linker MappingLinker, reconciler MappingReconciler, logger *logrus.Logger) *MappingHandler {
	return &MappingHandler{mappings: mappings, linker: linker, reconciler: reconciler, logger: logger}
}

// ManualLinkRequest idA 为主平台ID，idB 为从平台ID
type ManualLinkRequest struct {
	Rule string `json:"rule" binding:"required"`
	IDA  string `json:"idA" binding:"required"`
	IDB  string `json:"idB" binding:"required"`
}

// MappingView 映射 + 解析后的 metadata
type MappingView struct {
	*model.EntityMapping
	Metadata        model.MappingMetadata         `json:"metadata"`
	IDsByPlatform   map[model.PlatformType]string `json:"idsByPlatform"`
	NamesByPlatform map[model.PlatformType]string `json:"namesByPlatform"`
}

func newMappingView(m *model.EntityMapping) MappingView {
	return MappingView{
		EntityMapping:   m,
		Metadata:        m.GetMetadata(),
		IDsByPlatform:   m.IDsByPlatform(),
		NamesByPlatform: m.NamesByPlatform(),
	}
}

// List GET /mappings?rule=
func (h *MappingHandler) List(c *gin.Context) {
	list, err := h.mappings.List(c.Request.Context(), c.Query("rule"))
	if err != nil {
		h.logger.WithError(err).Error("ListMappings failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]MappingView, 0, len(list))
	for _, m := range list {
		views = append(views, newMappingView(m))
	}
	c.JSON(http.StatusOK, gin.H{"mappings": views, "total": len(views)})
}

// Unmatched GET /mappings/unmatched?rule=
func (h *MappingHandler) Unmatched(c *gin.Context) {
	rule := c.Query("rule")
	if rule == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rule is required"})
		return
	}
	result, err := h.linker.Unmatched(c.Request.Context(), rule)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ManualLink POST /mappings/manual-link
func (h *MappingHandler) ManualLink(c *gin.Context) {
	var req ManualLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mapping, err := h.linker.ManualLink(c.Request.Context(), req.Rule, req.IDA, req.IDB)
	if err != nil {
		h.logger.WithError(err).WithField("rule", req.Rule).Error("人工关联失败")
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, newMappingView(mapping))
}

// Delete DELETE /mappings/:id
func (h *MappingHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := h.linker.Unlink(c.Request.Context(), id); err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// Reconcile POST /mappings/:id/reconcile 立即对齐单个映射
func (h *MappingHandler) Reconcile(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	mapping, err := h.mappings.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	updated, err := h.reconciler.Reconcile(c.Request.Context(), mapping)
	if err != nil {
		h.logger.WithError(err).WithField("mapping_id", id).Error("映射对齐失败")
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, newMappingView(updated))
}
