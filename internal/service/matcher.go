package service

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"SyncHub/internal/interfaces"
	"SyncHub/internal/model"
	"SyncHub/internal/repository"

	"github.com/sirupsen/logrus"
)

// RuleSet 规则名 → 映射规则
type RuleSet map[string]model.MappingRule

func NewRuleSet(rules []model.MappingRule) RuleSet {
	set := make(RuleSet, len(rules))
	for _, r := range rules {
		set[r.Name] = r
	}
	return set
}

// Get 规则不存在返回 ErrNotFound
func (s RuleSet) Get(name string) (model.MappingRule, error) {
	rule, ok := s[name]
	if !ok {
		return model.MappingRule{}, fmt.Errorf("映射规则%s: %w", name, interfaces.ErrNotFound)
	}
	return rule, nil
}

// Names 按名称排序
func (s RuleSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	nonAlphaNum = regexp.MustCompile(`[^a-z0-9\s]+`)
	multiSpace  = regexp.MustCompile(`\s+`)
)

// normalizeName 小写、去标点、合并空白，作为匹配用的自然键
func normalizeName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = nonAlphaNum.ReplaceAllString(s, " ")
	s = multiSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// FindCandidates 先对全部 A 做精确匹配，再对剩余的做包含匹配（任一方向，取第一个）
// 每个 B 至多被使用一次；规范化后为空的名称不参与匹配
func FindCandidates(rule model.MappingRule, unmatchedA, unmatchedB []*model.RemoteEntity) []*model.EntityMapping {
	usedB := make([]bool, len(unmatchedB))
	matchedA := make([]bool, len(unmatchedA))
	keysB := make([]string, len(unmatchedB))
	for j, b := range unmatchedB {
		keysB[j] = normalizeName(b.Name)
	}

	var out []*model.EntityMapping
	pair := func(a, b *model.RemoteEntity, matchType string) {
		out = append(out, &model.EntityMapping{
			Rule:              rule.Name,
			MasterPlatform:    string(rule.Master.Platform),
			MasterResource:    rule.Master.Resource,
			MasterID:          a.NativeID,
			MasterName:        a.Name,
			SecondaryPlatform: string(rule.Secondary.Platform),
			SecondaryResource: rule.Secondary.Resource,
			SecondaryID:       b.NativeID,
			SecondaryName:     b.Name,
			MatchType:         matchType,
			LastSyncStatus:    model.SyncStatusPending,
		})
	}

	// 1. 精确匹配
	for i, a := range unmatchedA {
		key := normalizeName(a.Name)
		if key == "" {
			continue
		}
		for j, b := range unmatchedB {
			if usedB[j] || keysB[j] != key {
				continue
			}
			usedB[j], matchedA[i] = true, true
			pair(a, b, model.MatchTypeExact)
			break
		}
	}

	// 2. 包含匹配
	for i, a := range unmatchedA {
		key := normalizeName(a.Name)
		if matchedA[i] || key == "" {
			continue
		}
		for j, b := range unmatchedB {
			if usedB[j] || keysB[j] == "" {
				continue
			}
			if strings.Contains(key, keysB[j]) || strings.Contains(keysB[j], key) {
				usedB[j], matchedA[i] = true, true
				pair(a, b, model.MatchTypePartial)
				break
			}
		}
	}
	return out
}

// UnmatchedResult 规则下两侧未映射的实体，供人工关联
type UnmatchedResult struct {
	Rule      string                `json:"rule"`
	Master    []*model.RemoteEntity `json:"master"`
	Secondary []*model.RemoteEntity `json:"secondary"`
}

// Matcher 自动匹配与人工关联
type Matcher struct {
	mirrors  repository.MirrorRepository
	mappings repository.MappingRepository
	rules    RuleSet
	audit    interfaces.AuditSink
	logger   *logrus.Logger
}

func NewMatcher(mirrors repository.MirrorRepository, mappings repository.MappingRepository, rules RuleSet, audit interfaces.AuditSink, logger *logrus.Logger) *Matcher {
	return &Matcher{mirrors: mirrors, mappings: mappings, rules: rules, audit: audit, logger: logger}
}

// Unmatched 两侧尚未被该规则映射的镜像实体
func (m *Matcher) Unmatched(ctx context.Context, ruleName string) (*UnmatchedResult, error) {
	rule, err := m.rules.Get(ruleName)
	if err != nil {
		return nil, err
	}
	mappedMaster, mappedSecondary, err := m.mappings.MappedIDs(ctx, rule.Name)
	if err != nil {
		return nil, fmt.Errorf("读取已映射ID失败: %w", err)
	}
	masters, err := m.unmappedSide(ctx, rule.Master, mappedMaster)
	if err != nil {
		return nil, err
	}
	secondaries, err := m.unmappedSide(ctx, rule.Secondary, mappedSecondary)
	if err != nil {
		return nil, err
	}
	return &UnmatchedResult{Rule: rule.Name, Master: masters, Secondary: secondaries}, nil
}

func (m *Matcher) unmappedSide(ctx context.Context, ref model.EntityRef, mapped map[string]bool) ([]*model.RemoteEntity, error) {
	rows, err := m.mirrors.List(ctx, ref.Platform, ref.Resource)
	if err != nil {
		return nil, fmt.Errorf("读取%s/%s镜像失败: %w", ref.Platform, ref.Resource, err)
	}
	out := make([]*model.RemoteEntity, 0, len(rows))
	for _, row := range rows {
		if mapped[row.NativeID] {
			continue
		}
		out = append(out, row.ToRemote())
	}
	return out, nil
}

// AutoMatch 对未映射实体执行精确/包含匹配并写入映射，返回新建条数
// 已有映射（含人工映射）的实体不参与，因此人工关联不会被自动匹配覆盖
func (m *Matcher) AutoMatch(ctx context.Context, ruleName string) (int, error) {
	unmatched, err := m.Unmatched(ctx, ruleName)
	if err != nil {
		return 0, err
	}
	rule := m.rules[ruleName]
	candidates := FindCandidates(rule, unmatched.Master, unmatched.Secondary)

	created := 0
	for _, c := range candidates {
		ok, err := m.mappings.Create(ctx, c)
		if err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"rule":         rule.Name,
				"master_id":    c.MasterID,
				"secondary_id": c.SecondaryID,
			}).Error("写入自动匹配映射失败")
			continue
		}
		if !ok {
			continue
		}
		created++
		m.audit.Record(ctx, ActionMappingCreated, "mapping", c.MappingUUID, model.AuditStatusSuccess, map[string]interface{}{
			"rule":         rule.Name,
			"match_type":   c.MatchType,
			"master_id":    c.MasterID,
			"secondary_id": c.SecondaryID,
		})
	}
	if created > 0 {
		m.logger.WithFields(logrus.Fields{
			"rule":      rule.Name,
			"created":   created,
			"unmatched": len(unmatched.Master) - created,
		}).Info("自动匹配完成")
	}
	return created, nil
}

// ManualLink 人工关联：先删除同规则下涉及任一侧ID的映射，再写入 manual 映射
func (m *Matcher) ManualLink(ctx context.Context, ruleName, masterID, secondaryID string) (*model.EntityMapping, error) {
	rule, err := m.rules.Get(ruleName)
	if err != nil {
		return nil, err
	}
	if masterID == "" || secondaryID == "" {
		return nil, fmt.Errorf("人工关联需要两侧ID: %w", interfaces.ErrMalformedPayload)
	}

	mapping := &model.EntityMapping{
		Rule:              rule.Name,
		MasterPlatform:    string(rule.Master.Platform),
		MasterResource:    rule.Master.Resource,
		MasterID:          masterID,
		SecondaryPlatform: string(rule.Secondary.Platform),
		SecondaryResource: rule.Secondary.Resource,
		SecondaryID:       secondaryID,
		MatchType:         model.MatchTypeManual,
		LastSyncStatus:    model.SyncStatusPending,
	}
	// 镜像尚未同步时名称留空，下次对齐时补全
	if row, err := m.mirrors.Get(ctx, rule.Master.Platform, rule.Master.Resource, masterID); err == nil && row != nil {
		mapping.MasterName = row.Name
	}
	if row, err := m.mirrors.Get(ctx, rule.Secondary.Platform, rule.Secondary.Resource, secondaryID); err == nil && row != nil {
		mapping.SecondaryName = row.Name
	}

	if err := m.mappings.ReplaceManual(ctx, mapping); err != nil {
		return nil, err
	}
	m.audit.Record(ctx, ActionMappingLinked, "mapping", mapping.MappingUUID, model.AuditStatusSuccess, map[string]interface{}{
		"rule":         rule.Name,
		"master_id":    masterID,
		"secondary_id": secondaryID,
	})
	return mapping, nil
}

// Unlink 显式解除映射（唯一的硬删除入口）
func (m *Matcher) Unlink(ctx context.Context, id uint64) error {
	mapping, err := m.mappings.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := m.mappings.Delete(ctx, id); err != nil {
		return err
	}
	m.audit.Record(ctx, ActionMappingUnlinked, "mapping", mapping.MappingUUID, model.AuditStatusSuccess, map[string]interface{}{
		"rule":         mapping.Rule,
		"master_id":    mapping.MasterID,
		"secondary_id": mapping.SecondaryID,
	})
	return nil
}
