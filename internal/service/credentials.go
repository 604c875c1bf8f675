package service

import (
	"context"
	"fmt"
	"sync"

	"SyncHub/internal/config"
	"SyncHub/internal/interfaces"
	"SyncHub/internal/model"
)

// StaticTokenProvider 从配置读取平台令牌；配置热更新时调用 Reload/Update
type StaticTokenProvider struct {
	mu     sync.RWMutex
	tokens map[model.PlatformType]string
}

func NewStaticTokenProvider(platforms map[string]config.PlatformConfig) *StaticTokenProvider {
	p := &StaticTokenProvider{tokens: make(map[model.PlatformType]string)}
	p.Reload(platforms)
	return p
}

func (p *StaticTokenProvider) GetToken(_ context.Context, platform model.PlatformType) (string, error) {
	p.mu.RLock()
	token := p.tokens[platform]
	p.mu.RUnlock()
	if token == "" {
		return "", fmt.Errorf("平台%s未配置访问令牌: %w", platform, interfaces.ErrAuthExpired)
	}
	return token, nil
}

func (p *StaticTokenProvider) Update(platform model.PlatformType, token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens[platform] = token
}

// Reload 用最新平台配置整体替换令牌
func (p *StaticTokenProvider) Reload(platforms map[string]config.PlatformConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, cfg := range platforms {
		p.tokens[model.PlatformType(name)] = cfg.AuthToken
	}
}
