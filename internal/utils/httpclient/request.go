package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"SyncHub/internal/interfaces"
)

// maxErrorBody 错误响应体最多保留的字节数
const maxErrorBody = 512

// StatusError 非 2xx 响应
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s 返回状态码 %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// IsAuthStatus 401/403 视为认证失效
func IsAuthStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// DoJSON 发送请求并把 2xx 响应解码到 out（out 为 nil 时丢弃响应体）
// 401/403 包装为 interfaces.ErrAuthExpired，404 包装为 interfaces.ErrNotFound
func DoJSON(ctx context.Context, client *http.Client, method, url, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求体失败: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := &StatusError{Method: method, URL: url, StatusCode: resp.StatusCode, Body: string(snippet)}
		switch {
		case IsAuthStatus(resp.StatusCode):
			return fmt.Errorf("%w: %v", interfaces.ErrAuthExpired, statusErr)
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %v", interfaces.ErrNotFound, statusErr)
		}
		return statusErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}
