package synth

import (
	"net/netip"
	"net/url"
	"strings"

	"substarter/backend/domain"
)

// BuildRules 合成规则：屏蔽规则在前，其后为用户规则，最后恰好一条 MATCH。
// 已有多条 MATCH 时只保留第一条并移到末尾。
func BuildRules(s domain.Settings) []string {
	rules := append(BlockRules(s.BlockedSites), ruleLines(s.Rules)...)

	var match string
	out := make([]string, 0, len(rules)+1)
	for _, rule := range rules {
		if isMatchRule(rule) {
			if match == "" {
				match = rule
			}
			continue
		}
		out = append(out, rule)
	}
	if match == "" {
		match = "MATCH," + s.SelectionGroup
	}
	return append(out, match)
}

func isMatchRule(rule string) bool {
	return len(rule) >= len("MATCH,") && strings.EqualFold(rule[:len("MATCH,")], "MATCH,")
}

// ruleLines 按行拆分，去掉空行与 # 注释
func ruleLines(text string) []string {
	var out []string
	for _, line := range strings.FieldsFunc(text, func(r rune) bool { return r == '\r' || r == '\n' }) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// BlockRules 将屏蔽列表转换为 REJECT 规则。
//
// 每行依次尝试：含逗号的原始规则、IP / CIDR、URL 或域名（DOMAIN-SUFFIX）。
func BlockRules(text string) []string {
	out := []string{}
	for _, line := range ruleLines(text) {
		if strings.Contains(line, ",") {
			out = append(out, line)
			continue
		}
		if rule, ok := ipRule(line); ok {
			out = append(out, rule)
			continue
		}
		host := extractHost(line)
		if rule, ok := ipRule(host); ok {
			out = append(out, rule)
			continue
		}
		if host != "" {
			out = append(out, "DOMAIN-SUFFIX,"+host+",REJECT")
		}
	}
	return out
}

// ipRule 识别 IP 字面量或 CIDR
func ipRule(value string) (string, bool) {
	value = strings.Trim(strings.TrimSpace(value), "[]")
	if value == "" {
		return "", false
	}
	if strings.Contains(value, "/") {
		prefix, err := netip.ParsePrefix(value)
		if err != nil {
			return "", false
		}
		return cidrRule(prefix), true
	}
	addr, err := netip.ParseAddr(value)
	if err != nil {
		return "", false
	}
	addr = addr.Unmap()
	return cidrRule(netip.PrefixFrom(addr, addr.BitLen())), true
}

func cidrRule(p netip.Prefix) string {
	if p.Addr().Is4() {
		return "IP-CIDR," + p.String() + ",REJECT"
	}
	return "IP-CIDR6," + p.String() + ",REJECT"
}

// extractHost 从 URL 或裸域名中取出主机名
func extractHost(line string) string {
	line = strings.TrimSpace(line)
	host := ""
	if u, err := url.Parse(line); err == nil && u.IsAbs() && u.Hostname() != "" {
		host = u.Hostname()
	} else if u, err := url.Parse("http://" + line); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	} else {
		host = line
	}
	return strings.ToLower(strings.TrimLeft(host, "*."))
}
