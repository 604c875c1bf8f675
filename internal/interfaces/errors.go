package interfaces

import "errors"

var (
	// ErrAuthExpired 认证/授权失败（401/403 或令牌缺失），任务需自动停用
	ErrAuthExpired = errors.New("platform authentication expired")
	// ErrNotFound 平台侧或本地记录不存在
	ErrNotFound = errors.New("not found")
	// ErrUnsupportedResource 平台不支持该资源或字段
	ErrUnsupportedResource = errors.New("unsupported resource")
	// ErrMalformedPayload 入站数据无法解析
	ErrMalformedPayload = errors.New("malformed payload")
)
