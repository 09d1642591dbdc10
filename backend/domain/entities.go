package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// 订阅自动更新间隔（分钟）
const (
	DefaultUpdateIntervalMinutes = 360
	MinUpdateIntervalMinutes     = 5
	MaxUpdateIntervalMinutes     = 10080
)

// DefaultProfileName 新建订阅的默认名称
const DefaultProfileName = "New Subscription"

// Profile 订阅配置（用户添加的一个订阅源）
type Profile struct {
	ID                        string     `json:"id"`
	Name                      string     `json:"name"`
	URL                       string     `json:"url"`
	Enabled                   bool       `json:"enabled"`
	AutoUpdate                bool       `json:"autoUpdate"`
	AutoUpdateIntervalMinutes int        `json:"autoUpdateIntervalMinutes"`
	LastUpdated               *time.Time `json:"lastUpdated,omitempty"`
	NodeCount                 int        `json:"nodeCount"`
	Checksum                  string     `json:"checksum,omitempty"`
	LastError                 string     `json:"lastError,omitempty"`
	UsageUsedBytes            *int64     `json:"usageUsedBytes,omitempty"`
	UsageTotalBytes           *int64     `json:"usageTotalBytes,omitempty"`
	ExpireAt                  *time.Time `json:"expireAt,omitempty"`
	// Active 运行时标记（当前选中的订阅），快照时会被清除
	Active    bool      `json:"active,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ClampUpdateInterval 将更新间隔限制在 [5, 10080] 分钟；非正数回落到默认值
func ClampUpdateInterval(minutes int) int {
	switch {
	case minutes <= 0:
		return DefaultUpdateIntervalMinutes
	case minutes < MinUpdateIntervalMinutes:
		return MinUpdateIntervalMinutes
	case minutes > MaxUpdateIntervalMinutes:
		return MaxUpdateIntervalMinutes
	default:
		return minutes
	}
}

// NewProfile 返回带默认值的订阅配置
func NewProfile() Profile {
	return Profile{
		Name:                      DefaultProfileName,
		Enabled:                   true,
		AutoUpdate:                true,
		AutoUpdateIntervalMinutes: DefaultUpdateIntervalMinutes,
	}
}

// NormalizeProfile 规范化用户输入字段
func NormalizeProfile(p Profile) Profile {
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		p.Name = DefaultProfileName
	}
	p.URL = strings.TrimSpace(p.URL)
	p.AutoUpdateIntervalMinutes = ClampUpdateInterval(p.AutoUpdateIntervalMinutes)
	if p.NodeCount < 0 {
		p.NodeCount = 0
	}
	return p
}

// DueForUpdate 判断订阅是否到达自动更新时间
func (p Profile) DueForUpdate(now time.Time) bool {
	if !p.Enabled || !p.AutoUpdate {
		return false
	}
	if p.LastUpdated == nil {
		return true
	}
	interval := time.Duration(ClampUpdateInterval(p.AutoUpdateIntervalMinutes)) * time.Minute
	return now.Sub(*p.LastUpdated) >= interval
}

// RefreshStatus 一次刷新结束后写回订阅的状态
type RefreshStatus struct {
	NodeCount       int
	UpdatedAt       time.Time
	Checksum        string
	Err             error
	UsageUsedBytes  *int64
	UsageTotalBytes *int64
	ExpireAt        *time.Time
}

// DisplayNode 面向展示的节点摘要
type DisplayNode struct {
	ID        string `json:"id" msgpack:"id"`
	Name      string `json:"name" msgpack:"name"`
	Type      string `json:"type" msgpack:"type"`
	Address   string `json:"address" msgpack:"address"`
	Port      int    `json:"port" msgpack:"port"`
	SourceID  string `json:"sourceId" msgpack:"source_id"`
	LatencyMS int    `json:"latencyMs" msgpack:"latency_ms"`
	Active    bool   `json:"active" msgpack:"-"`
}

// NoLatency 尚未测速
const NoLatency = -1

var typeLabels = map[string]string{
	"ss":        "Shadowsocks",
	"ssr":       "ShadowsocksR",
	"vmess":     "VMess",
	"vless":     "VLESS",
	"trojan":    "Trojan",
	"socks5":    "SOCKS5",
	"http":      "HTTP",
	"https":     "HTTPS",
	"wireguard": "WireGuard",
	"hysteria":  "Hysteria",
	"hysteria2": "Hysteria2",
	"tuic":      "TUIC",
}

// TypeDisplay 协议类型的展示名，未知类型原样返回
func (n DisplayNode) TypeDisplay() string {
	if label, ok := typeLabels[strings.ToLower(n.Type)]; ok {
		return label
	}
	return n.Type
}

// MarshalJSON 附带 typeDisplay 字段
func (n DisplayNode) MarshalJSON() ([]byte, error) {
	type plain DisplayNode
	return json.Marshal(struct {
		plain
		TypeDisplay string `json:"typeDisplay"`
	}{plain(n), n.TypeDisplay()})
}

// ParseResult 单个订阅的解析产物
type ParseResult struct {
	Proxies []*Map        `json:"proxies"`
	Groups  []*Map        `json:"groups"`
	Nodes   []DisplayNode `json:"nodes"`
}

// IsEmpty 三组产物均为空
func (r ParseResult) IsEmpty() bool {
	return len(r.Proxies) == 0 && len(r.Groups) == 0 && len(r.Nodes) == 0
}

// Catalog 所有启用订阅的聚合产物
type Catalog struct {
	Proxies []*Map        `json:"proxies"`
	Groups  []*Map        `json:"groups"`
	Nodes   []DisplayNode `json:"nodes"`
}

// 设置默认值
const (
	DefaultMixedPort      = 7890
	DefaultHTTPPort       = 7891
	DefaultSocksPort      = 7892
	DefaultAPIPort        = 9090
	DefaultMode           = "rule"
	DefaultLogLevel       = "info"
	DefaultSelectionGroup = "Auto"
	DefaultConfigPath     = "config.yaml"
)

// DefaultRules 默认分流规则文本
const DefaultRules = `DOMAIN-SUFFIX,local,DIRECT
IP-CIDR,127.0.0.0/8,DIRECT
IP-CIDR,10.0.0.0/8,DIRECT
IP-CIDR,172.16.0.0/12,DIRECT
IP-CIDR,192.168.0.0/16,DIRECT
GEOIP,CN,DIRECT`

// DefaultBlockedSites 默认屏蔽列表
const DefaultBlockedSites = `# 每行一个域名、URL、IP 或 CIDR；包含逗号的行按原样作为规则
ads.example.com`

// Settings 全局设置
type Settings struct {
	ConfigPath     string    `json:"configPath"`
	MixedPort      int       `json:"mixedPort"`
	HTTPPort       int       `json:"httpPort"`
	SocksPort      int       `json:"socksPort"`
	APIPort        int       `json:"apiPort"`
	APISecret      string    `json:"apiSecret"`
	AllowLAN       bool      `json:"allowLan"`
	TunEnabled     bool      `json:"tunEnabled"`
	Mode           string    `json:"mode"`
	LogLevel       string    `json:"logLevel"`
	SelectionGroup string    `json:"selectionGroup"`
	BlockedSites   string    `json:"blockedSites"`
	Rules          string    `json:"rules"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// DefaultSettings 返回默认设置
func DefaultSettings() Settings {
	return Settings{
		ConfigPath:     DefaultConfigPath,
		MixedPort:      DefaultMixedPort,
		HTTPPort:       DefaultHTTPPort,
		SocksPort:      DefaultSocksPort,
		APIPort:        DefaultAPIPort,
		AllowLAN:       true,
		Mode:           DefaultMode,
		LogLevel:       DefaultLogLevel,
		SelectionGroup: DefaultSelectionGroup,
		BlockedSites:   DefaultBlockedSites,
		Rules:          DefaultRules,
	}
}

// NormalizeSettings 填充缺省字段，非法端口回落到默认值
func NormalizeSettings(s Settings) Settings {
	d := DefaultSettings()
	s.ConfigPath = strings.TrimSpace(s.ConfigPath)
	if s.ConfigPath == "" {
		s.ConfigPath = d.ConfigPath
	}
	s.MixedPort = validPortOr(s.MixedPort, d.MixedPort)
	s.HTTPPort = validPortOr(s.HTTPPort, d.HTTPPort)
	s.SocksPort = validPortOr(s.SocksPort, d.SocksPort)
	s.APIPort = validPortOr(s.APIPort, d.APIPort)
	s.APISecret = strings.TrimSpace(s.APISecret)
	s.Mode = strings.ToLower(strings.TrimSpace(s.Mode))
	switch s.Mode {
	case "rule", "global", "direct":
	default:
		s.Mode = d.Mode
	}
	s.LogLevel = strings.ToLower(strings.TrimSpace(s.LogLevel))
	if s.LogLevel == "" {
		s.LogLevel = d.LogLevel
	}
	s.SelectionGroup = strings.TrimSpace(s.SelectionGroup)
	if s.SelectionGroup == "" {
		s.SelectionGroup = d.SelectionGroup
	}
	return s
}

func validPortOr(port, fallback int) int {
	if port <= 0 || port > 65535 {
		return fallback
	}
	return port
}

// CoreProxy 运行中内核报告的代理/代理组
type CoreProxy struct {
	Name string   `json:"name"`
	Type string   `json:"type"`
	Now  string   `json:"now,omitempty"`
	All  []string `json:"all,omitempty"`
}

// ServiceState 持久化状态
type ServiceState struct {
	SchemaVersion string    `json:"schemaVersion,omitempty"`
	Profiles      []Profile `json:"profiles"`
	Settings      *Settings `json:"settings,omitempty"`
	GeneratedAt   time.Time `json:"generatedAt"`
}
