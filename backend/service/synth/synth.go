package synth

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"substarter/backend/domain"
	"substarter/backend/service/shared"
)

// 内置出站，作为代理组的兜底成员
const (
	outboundDirect = "DIRECT"
	outboundReject = "REJECT"
)

// Build 由设置与聚合目录合成完整的运行时配置文档
func Build(settings domain.Settings, cat domain.Catalog) *domain.Map {
	settings = domain.NormalizeSettings(settings)
	root := skeleton(settings)

	proxies := uniqueProxies(cat.Proxies)
	names := lo.Map(proxies, func(p *domain.Map, _ int) string { return p.Text("name") })

	groups := SanitizeGroups(cat.Groups, names)
	selection := settings.SelectionGroup
	hasSelection := lo.ContainsBy(groups, func(g *domain.Map) bool {
		return strings.EqualFold(g.Text("name"), selection)
	})
	if !hasSelection {
		g := domain.NewMap()
		g.Set("name", domain.String(selection))
		g.Set("type", domain.String("select"))
		g.Set("proxies", domain.Strings(fallbackMembers(names)))
		groups = append([]*domain.Map{g}, groups...)
	}

	root.Set("proxies", domain.Maps(domain.CloneMaps(proxies)))
	root.Set("proxy-groups", domain.Maps(groups))
	root.Set("rules", domain.Strings(BuildRules(settings)))
	return root
}

// uniqueProxies 按名称去重（先出现者优先），并丢弃缺少 name / type 的记录
func uniqueProxies(proxies []*domain.Map) []*domain.Map {
	valid := lo.Filter(proxies, func(p *domain.Map, _ int) bool {
		return strings.TrimSpace(p.Text("name")) != "" && strings.TrimSpace(p.Text("type")) != ""
	})
	out := lo.UniqBy(valid, func(p *domain.Map) string { return p.Text("name") })
	if dropped := len(valid) - len(out); dropped > 0 {
		logrus.Warnf("[Synth] 忽略 %d 个重名代理", dropped)
	}
	return out
}

// SanitizeGroups 清洗代理组：
// 要求非空 name（大小写不敏感去重，先出现者优先）；type 缺省为 select；
// 去掉 use；proxies 展平为非空字符串列表，为空时替换为兜底列表。
func SanitizeGroups(groups []*domain.Map, proxyNames []string) []*domain.Map {
	seen := make(map[string]struct{}, len(groups))
	out := make([]*domain.Map, 0, len(groups))
	for _, group := range groups {
		name := strings.TrimSpace(group.Text("name"))
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		g := group.Clone()
		if strings.TrimSpace(g.Text("type")) == "" {
			g.Set("type", domain.String("select"))
		}
		g.Delete("use")

		members := groupMembers(g)
		if len(members) == 0 {
			members = fallbackMembers(proxyNames)
		}
		g.Set("proxies", domain.Strings(members))
		out = append(out, g)
	}
	return out
}

func groupMembers(g *domain.Map) []string {
	v, ok := g.Get("proxies")
	if !ok {
		return nil
	}
	items := v.List()
	if items == nil {
		items = []domain.Value{v}
	}
	var out []string
	for _, item := range items {
		if text := strings.TrimSpace(item.Text()); text != "" {
			out = append(out, text)
		}
	}
	return out
}

// fallbackMembers DIRECT、REJECT 加上按发现顺序去重的代理名
func fallbackMembers(proxyNames []string) []string {
	names := lo.Filter(lo.Uniq(proxyNames), func(n string, _ int) bool { return strings.TrimSpace(n) != "" })
	return append([]string{outboundDirect, outboundReject}, names...)
}

// Render 合成并序列化运行时配置
func Render(settings domain.Settings, cat domain.Catalog) ([]byte, error) {
	out, err := domain.EncodeYAML(domain.MapValue(Build(settings, cat)))
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return out, nil
}

// ConfigPath 运行时配置的写出路径（相对路径按数据目录解析）
func ConfigPath(settings domain.Settings, dataRoot string) string {
	settings = domain.NormalizeSettings(settings)
	return shared.ResolvePath(settings.ConfigPath, dataRoot)
}

// WriteConfig 合成并原子写出运行时配置；合成失败时不触碰已有文件
func WriteConfig(settings domain.Settings, cat domain.Catalog, dataRoot string) (string, error) {
	path := ConfigPath(settings, dataRoot)
	data, err := Render(settings, cat)
	if err != nil {
		return path, err
	}
	if err := shared.WriteAtomic(path, data, 0o644); err != nil {
		return path, fmt.Errorf("write config: %w", err)
	}
	logrus.Infof("[Synth] 运行时配置已写入 %s（%d 字节）", path, len(data))
	return path, nil
}
