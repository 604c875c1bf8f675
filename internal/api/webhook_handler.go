package api

import (
	"context"
	"io"
	"net/http"

	"SyncHub/internal/model"
	"SyncHub/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// maxWebhookBody webhook 请求体上限
const maxWebhookBody = 5 << 20

// WebhookReceiver service.WebhookDispatcher 实现
type WebhookReceiver interface {
	Receive(ctx context.Context, platform model.PlatformType, headers http.Header, body []byte) service.AckResult
}

type WebhookHandler struct {
	receiver WebhookReceiver
	logger   *logrus.Logger
}

func NewWebhookHandler(receiver WebhookReceiver, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{receiver: receiver, logger: logger}
}

// Receive 平台 webhook 入口，始终返回 200，失败只记审计
// POST /webhooks/:platform
func (h *WebhookHandler) Receive(c *gin.Context) {
	platform := model.PlatformType(c.Param("platform"))
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.logger.WithError(err).WithField("platform", platform).Warn("读取webhook请求体失败")
		c.JSON(http.StatusOK, service.AckResult{Status: service.AckIgnored, Message: "unreadable body"})
		return
	}

	// 回执后才处理，不能让客户端断开取消后续落库
	ack := h.receiver.Receive(context.WithoutCancel(c.Request.Context()), platform, c.Request.Header, body)
	c.JSON(http.StatusOK, ack)
}
