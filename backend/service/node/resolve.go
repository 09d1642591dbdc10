package node

import (
	"net/url"
	"strings"
)

// ResolveSubscriptionURL 展开 clash://install-config?url=... 形式的导入链接，
// 其他地址原样返回（去除首尾空白）。
func ResolveSubscriptionURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil || !strings.EqualFold(u.Scheme, "clash") || !strings.EqualFold(u.Host, "install-config") {
		return trimmed
	}

	for _, pair := range strings.Split(u.RawQuery, "&") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || !strings.EqualFold(unescape(key), "url") {
			continue
		}
		if value = strings.TrimSpace(unescape(value)); value != "" {
			return value
		}
	}
	return trimmed
}
