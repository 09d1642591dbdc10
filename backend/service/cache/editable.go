package cache

import (
	"strings"

	"github.com/sirupsen/logrus"

	"substarter/backend/domain"
)

// Defaults 提供可编辑文档的默认骨架与默认规则
type Defaults interface {
	// ApplyDefaults 向 root 写入运行时默认字段；onlyMissing 时不覆盖已有字段
	ApplyDefaults(root *domain.Map, onlyMissing bool)
	DefaultRules() []string
}

// BuildEditableDocument 以 baseText 为基础生成可供用户编辑的完整文档。
//
// 空文档填充完整默认骨架，非空文档只补齐缺失字段；
// 缓存非空或文档缺少对应键时，用缓存覆盖 proxies / proxy-groups；
// 缺少 rules 时按设置生成。任何失败都退化为尽力而为的结果。
func (s *Store) BuildEditableDocument(profileID, baseText string, defaults Defaults) string {
	root := decodeRoot(baseText)
	if defaults != nil {
		defaults.ApplyDefaults(root, root.Len() > 0)
	}

	proxies, err := s.LoadProxies(profileID)
	if err != nil {
		logrus.WithField("profile", profileID).Warnf("[Cache] 读取缓存代理失败: %v", err)
	}
	groups, err := s.LoadGroups(profileID)
	if err != nil {
		logrus.WithField("profile", profileID).Warnf("[Cache] 读取缓存代理组失败: %v", err)
	}
	if len(proxies) > 0 || !root.Has("proxies") {
		root.Set("proxies", domain.Maps(proxies))
	}
	if len(groups) > 0 || !root.Has("proxy-groups") {
		root.Set("proxy-groups", domain.Maps(groups))
	}

	if !root.Has("rules") && defaults != nil {
		root.Set("rules", domain.Strings(defaults.DefaultRules()))
	}

	out, err := domain.EncodeYAML(domain.MapValue(root))
	if err != nil {
		logrus.WithField("profile", profileID).Errorf("[Cache] 生成可编辑文档失败: %v", err)
		return ""
	}
	return string(out)
}

func decodeRoot(text string) *domain.Map {
	if strings.TrimSpace(text) == "" {
		return domain.NewMap()
	}
	v, err := domain.DecodeYAML([]byte(text))
	if err != nil {
		logrus.Debugf("[Cache] 原文不是有效 YAML，按空文档处理: %v", err)
		return domain.NewMap()
	}
	if m := v.Map(); m != nil {
		return m
	}
	return domain.NewMap()
}
