package node

import (
	"strings"

	"substarter/backend/domain"
)

// ParseDocument 解析 Clash 配置文档中的 proxies 与 proxy-groups。
// 缺少名称的条目被跳过；YAML 语法错误时返回错误。
func ParseDocument(text, sourceID string) (domain.ParseResult, error) {
	result := emptyResult()
	v, err := domain.DecodeYAML([]byte(text))
	if err != nil {
		return result, err
	}
	root := v.Map()
	if root == nil {
		return result, nil
	}

	for _, record := range namedEntries(root, "proxies") {
		result.Proxies = append(result.Proxies, record)
		result.Nodes = append(result.Nodes, displayNodeFor(record, sourceID))
	}
	result.Groups = append(result.Groups, namedEntries(root, "proxy-groups")...)
	return result, nil
}

func namedEntries(root *domain.Map, key string) []*domain.Map {
	v, ok := root.Get(key)
	if !ok {
		return nil
	}
	var out []*domain.Map
	for _, item := range v.List() {
		m := item.Map()
		if m.Len() == 0 || strings.TrimSpace(m.Text("name")) == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

// ProviderRef 文档中声明的远程 proxy-provider
type ProviderRef struct {
	Name string
	URL  string
}

// ProviderRefs 提取文档 proxy-providers 中带 url 的条目。
// 文本本身不是文档时，再尝试其 base64 解码结果。
func ProviderRefs(text string) []ProviderRef {
	if refs := providerRefs(text); len(refs) > 0 {
		return refs
	}
	if decoded := DecodeBase64(strings.TrimSpace(text)); decoded != "" {
		return providerRefs(decoded)
	}
	return nil
}

func providerRefs(text string) []ProviderRef {
	if !strings.Contains(text, ":") || !mentionsSections(text) {
		return nil
	}
	v, err := domain.DecodeYAML([]byte(text))
	if err != nil {
		return nil
	}
	providers, ok := v.Map().Get("proxy-providers")
	if !ok {
		return nil
	}

	var refs []ProviderRef
	providers.Map().Range(func(name string, item domain.Value) bool {
		if u := strings.TrimSpace(item.Map().Text("url")); u != "" {
			refs = append(refs, ProviderRef{Name: name, URL: u})
		}
		return true
	})
	return refs
}

func mentionsSections(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range []string{"proxies:", "proxy-groups:", "proxy-providers:"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
