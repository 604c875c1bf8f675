package adapter

import (
	"fmt"
	"sort"

	"SyncHub/internal/config"
	"SyncHub/internal/interfaces"
	"SyncHub/internal/model"

	"github.com/sirupsen/logrus"
)

// PlatformRegistry 平台类型→适配器实例
type PlatformRegistry struct {
	logger   *logrus.Logger
	adapters map[model.PlatformType]interfaces.PlatformAdapter
}

// NewPlatformRegistry 按配置中的平台，从工厂注册表创建适配器实例
func NewPlatformRegistry(cfg *config.Config, tokens interfaces.TokenProvider, logger *logrus.Logger) *PlatformRegistry {
	r := &PlatformRegistry{
		logger:   logger,
		adapters: make(map[model.PlatformType]interfaces.PlatformAdapter),
	}
	logger.WithField("factory_platforms", ListFactories()).Info("已注册的适配器工厂")

	for name, platformCfg := range cfg.Platforms {
		platformType := model.PlatformType(name)
		factory, ok := GetFactory(platformType)
		if !ok {
			logger.WithField("platform", name).Error("未找到对应的工厂函数（init未注册？）")
			continue
		}

		pc := platformCfg
		adapterIns := factory(&pc, tokens, logger)
		if adapterIns == nil {
			logger.WithField("platform", name).Error("工厂函数返回nil适配器实例")
			continue
		}
		if adapterIns.GetType() != platformType {
			logger.WithFields(logrus.Fields{
				"config_platform":  name,
				"adapter_platform": adapterIns.GetType(),
			}).Error("适配器平台类型与配置不匹配")
			continue
		}
		r.adapters[platformType] = adapterIns
	}

	logger.WithField("instance_platforms", r.ListRegisteredPlatforms()).Info("适配器实例初始化完成")
	return r
}

// NewStaticRegistry 直接使用给定的适配器实例（测试与嵌入场景）
func NewStaticRegistry(logger *logrus.Logger, adapters ...interfaces.PlatformAdapter) *PlatformRegistry {
	r := &PlatformRegistry{
		logger:   logger,
		adapters: make(map[model.PlatformType]interfaces.PlatformAdapter, len(adapters)),
	}
	for _, a := range adapters {
		r.adapters[a.GetType()] = a
	}
	return r
}

// ListRegisteredPlatforms 获取所有已初始化的平台类型
func (r *PlatformRegistry) ListRegisteredPlatforms() []model.PlatformType {
	platforms := make([]model.PlatformType, 0, len(r.adapters))
	for p := range r.adapters {
		platforms = append(platforms, p)
	}
	sort.Slice(platforms, func(i, j int) bool { return platforms[i] < platforms[j] })
	return platforms
}

// GetAdapter 获取适配器实例
func (r *PlatformRegistry) GetAdapter(platform model.PlatformType) (interfaces.PlatformAdapter, error) {
	adapterIns, ok := r.adapters[platform]
	if !ok {
		return nil, fmt.Errorf("平台%s未初始化适配器实例（已初始化：%v）: %w",
			platform, r.ListRegisteredPlatforms(), interfaces.ErrNotFound)
	}
	return adapterIns, nil
}

// GetPlatformCount 获取已初始化实例的平台数量
func (r *PlatformRegistry) GetPlatformCount() int {
	return len(r.adapters)
}
