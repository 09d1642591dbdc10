package node

import (
	"encoding/base64"
	"strconv"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"

	"substarter/backend/domain"
)

const bom = "\ufeff"

// Parse 将订阅正文解析为代理记录、代理组与展示节点。
//
// 依次尝试：Clash 文档、base64 包裹的文档或链接列表、纯文本链接列表。
// 任何格式问题都不会返回错误，最坏情况下得到空结果。
func Parse(content, sourceName, sourceID string) domain.ParseResult {
	text := trimContent(content)
	if text == "" {
		return emptyResult()
	}

	if LooksLikeDocument(text) {
		return parseDocumentSoft(text, sourceID)
	}

	decoded := strings.TrimPrefix(DecodeBase64(text), bom)
	if strings.TrimSpace(decoded) != "" {
		if LooksLikeDocument(decoded) {
			return parseDocumentSoft(decoded, sourceID)
		}
		if strings.Contains(decoded, "://") {
			return parseLinkLines(decoded, sourceName, sourceID)
		}
	}

	return parseLinkLines(text, sourceName, sourceID)
}

// LooksLikeDocument 判断文本是否像 Clash 配置文档
func LooksLikeDocument(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "proxies:") || strings.Contains(lower, "proxy-groups:")
}

// DecodeBase64 宽松解码 base64：兼容 URL 安全字母表、缺失填充与折行。
// 解码失败返回空串。
func DecodeBase64(value string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return -1
		case r == '-':
			return '+'
		case r == '_':
			return '/'
		}
		return r
	}, value)
	if cleaned == "" {
		return ""
	}
	switch len(cleaned) % 4 {
	case 2:
		cleaned += "=="
	case 3:
		cleaned += "="
	}
	data, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return ""
	}
	return strings.ToValidUTF8(string(data), "\uFFFD")
}

func trimContent(content string) string {
	return strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(content), bom))
}

func emptyResult() domain.ParseResult {
	return domain.ParseResult{
		Proxies: []*domain.Map{},
		Groups:  []*domain.Map{},
		Nodes:   []domain.DisplayNode{},
	}
}

func parseDocumentSoft(text, sourceID string) domain.ParseResult {
	result, err := ParseDocument(text, sourceID)
	if err != nil {
		logrus.Debugf("[Parser] 订阅文档解析失败: %v", err)
		return emptyResult()
	}
	return result
}

// parseLinkLines 逐行解析分享链接；无法识别的行直接跳过
func parseLinkLines(content, sourceName, sourceID string) domain.ParseResult {
	result := emptyResult()
	index := 1
	for _, line := range extractLines(content) {
		record, err := ParseShareLink(line, sourceName, index)
		if err != nil {
			logrus.Debugf("[Parser] 跳过无法解析的行: %v", err)
			continue
		}
		result.Proxies = append(result.Proxies, record)
		result.Nodes = append(result.Nodes, displayNodeFor(record, sourceID))
		index++
	}
	return result
}

func extractLines(content string) []string {
	if !strings.Contains(content, "://") {
		decoded := DecodeBase64(content)
		if !strings.Contains(decoded, "://") {
			return nil
		}
		content = decoded
	}

	var lines []string
	for _, line := range strings.FieldsFunc(content, func(r rune) bool { return r == '\r' || r == '\n' }) {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// displayName 节点名称回退：显式名称 → 服务器地址 → {订阅名}-{序号}
func displayName(name, sourceName string, index int, host string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	if host = strings.TrimSpace(host); host != "" {
		return host
	}
	return sourceName + "-" + strconv.Itoa(index)
}

// displayNodeFor 从代理记录派生展示节点
func displayNodeFor(record *domain.Map, sourceID string) domain.DisplayNode {
	n := domain.DisplayNode{
		Name:      record.Text("name"),
		Type:      record.Text("type"),
		Address:   record.Text("server"),
		Port:      int(record.Int("port")),
		SourceID:  sourceID,
		LatencyMS: domain.NoLatency,
	}
	n.ID = domain.StableNodeID(sourceID, n.Type, n.Address, n.Port, n.Name)
	return n
}
