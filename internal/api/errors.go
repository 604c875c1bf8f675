package api

import (
	"errors"
	"net/http"

	"SyncHub/internal/interfaces"
	"SyncHub/internal/service"
)

// statusOf 业务错误 → HTTP 状态码
func statusOf(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrMalformedPayload), errors.Is(err, service.ErrInvalidInterval):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
