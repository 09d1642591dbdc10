package catalog

import (
	"strings"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"substarter/backend/domain"
)

// Source 订阅缓存的读取与目录写入；三类产物可分别读取
type Source interface {
	LoadProxies(profileID string) ([]*domain.Map, error)
	LoadGroups(profileID string) ([]*domain.Map, error)
	LoadNodes(profileID string) ([]domain.DisplayNode, error)
	SaveCatalog(cat domain.Catalog) error
	LoadCatalog() (domain.Catalog, error)
}

// Aggregator 将启用订阅的缓存拼接为全局目录
type Aggregator struct {
	source Source
}

// NewAggregator 创建目录聚合器
func NewAggregator(source Source) *Aggregator {
	return &Aggregator{source: source}
}

// Rebuild 按订阅顺序拼接所有启用订阅的缓存产物并写入目录。
// 不做合并或去重；某类产物读取失败只记录日志并按空处理，不影响其余产物。
func (a *Aggregator) Rebuild(profiles []domain.Profile) (domain.Catalog, error) {
	cat := domain.Catalog{
		Proxies: []*domain.Map{},
		Groups:  []*domain.Map{},
		Nodes:   []domain.DisplayNode{},
	}

	enabled := lo.Filter(profiles, func(p domain.Profile, _ int) bool {
		return p.Enabled && strings.TrimSpace(p.ID) != ""
	})
	for _, p := range enabled {
		proxies, err := a.source.LoadProxies(p.ID)
		if skipped(p.ID, "proxies", err) {
			proxies = nil
		}
		groups, err := a.source.LoadGroups(p.ID)
		if skipped(p.ID, "groups", err) {
			groups = nil
		}
		nodes, err := a.source.LoadNodes(p.ID)
		if skipped(p.ID, "nodes", err) {
			nodes = nil
		}

		cat.Proxies = append(cat.Proxies, proxies...)
		cat.Groups = append(cat.Groups, groups...)
		cat.Nodes = append(cat.Nodes, nodes...)
	}

	if err := a.source.SaveCatalog(cat); err != nil {
		return cat, err
	}
	logrus.Debugf("[Catalog] 目录已重建: %d 个订阅, %d 个代理, %d 个代理组",
		len(enabled), len(cat.Proxies), len(cat.Groups))
	return cat, nil
}

func skipped(profileID, artifact string, err error) bool {
	if err == nil {
		return false
	}
	logrus.WithField("profile", profileID).Warnf("[Catalog] 读取 %s 缓存失败，已按空处理: %v", artifact, err)
	return true
}

// Load 读取当前目录
func (a *Aggregator) Load() (domain.Catalog, error) {
	return a.source.LoadCatalog()
}
