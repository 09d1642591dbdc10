package synth

import (
	"strconv"

	"substarter/backend/domain"
)

// Defaults 基于设置生成运行时配置骨架，同时用于补全可编辑文档
type Defaults struct {
	Settings domain.Settings
}

// NewDefaults 创建默认骨架提供者
func NewDefaults(settings domain.Settings) Defaults {
	return Defaults{Settings: domain.NormalizeSettings(settings)}
}

// ApplyDefaults 向 root 写入骨架字段。onlyMissing 为 true 时只补齐缺失的顶层键。
func (d Defaults) ApplyDefaults(root *domain.Map, onlyMissing bool) {
	skeleton(d.Settings).Range(func(key string, v domain.Value) bool {
		if onlyMissing {
			root.SetIfMissing(key, v)
		} else {
			root.Set(key, v)
		}
		return true
	})
}

// DefaultRules 按当前设置合成的规则列表
func (d Defaults) DefaultRules() []string {
	return BuildRules(d.Settings)
}

// skeleton 运行时配置的标量与 profile / tun / dns 段
func skeleton(s domain.Settings) *domain.Map {
	root := domain.NewMap()
	root.Set("mixed-port", domain.Int(int64(s.MixedPort)))
	root.Set("port", domain.Int(int64(s.HTTPPort)))
	root.Set("socks-port", domain.Int(int64(s.SocksPort)))
	root.Set("allow-lan", domain.Bool(s.AllowLAN))
	root.Set("mode", domain.String(s.Mode))
	root.Set("log-level", domain.String(s.LogLevel))
	root.Set("ipv6", domain.Bool(false))
	root.Set("external-controller", domain.String("127.0.0.1:"+strconv.Itoa(s.APIPort)))
	if s.APISecret != "" {
		root.Set("secret", domain.String(s.APISecret))
	}
	root.Set("unified-delay", domain.Bool(true))
	root.Set("tcp-concurrent", domain.Bool(true))

	profile := domain.NewMap()
	profile.Set("store-selected", domain.Bool(true))
	profile.Set("store-fake-ip", domain.Bool(true))
	root.Set("profile", domain.MapValue(profile))

	tun := domain.NewMap()
	tun.Set("enable", domain.Bool(s.TunEnabled))
	tun.Set("stack", domain.String("system"))
	tun.Set("auto-route", domain.Bool(true))
	tun.Set("auto-detect-interface", domain.Bool(true))
	root.Set("tun", domain.MapValue(tun))

	dns := domain.NewMap()
	dns.Set("enable", domain.Bool(true))
	dns.Set("listen", domain.String("0.0.0.0:1053"))
	dns.Set("enhanced-mode", domain.String("fake-ip"))
	dns.Set("nameserver", domain.Strings([]string{"223.5.5.5", "1.1.1.1"}))
	root.Set("dns", domain.MapValue(dns))
	return root
}
