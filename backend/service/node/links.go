package node

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"substarter/backend/domain"
)

// ParseShareLink 解析单条分享链接为 Clash 代理记录。
// index 为该行在订阅中的序号，仅用于生成兜底名称。
func ParseShareLink(line, sourceName string, index int) (*domain.Map, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, ErrInvalidShareLink
	}

	// 根据协议前缀选择解析器
	switch {
	case hasPrefixFold(line, "ss://"):
		return parseShadowsocks(line[len("ss://"):], sourceName, index)
	case hasPrefixFold(line, "ssr://"):
		return parseShadowsocksR(line[len("ssr://"):], sourceName, index)
	case hasPrefixFold(line, "trojan://"):
		return parseTrojan(line, sourceName, index)
	case hasPrefixFold(line, "vless://"):
		return parseVLESS(line, sourceName, index)
	case hasPrefixFold(line, "vmess://"):
		return parseVMess(line[len("vmess://"):], sourceName, index)
	default:
		return nil, ErrInvalidShareLink
	}
}

// parseShadowsocks 解析 SS 链接，兼容整体 base64 与 SIP002 两种写法
func parseShadowsocks(payload, sourceName string, index int) (*domain.Map, error) {
	payload, fragment, _ := strings.Cut(payload, "#")
	name := unescape(fragment)
	payload, rawQuery, _ := strings.Cut(payload, "?")
	payload = strings.TrimRight(payload, "/")

	decoded := payload
	if !strings.Contains(payload, "@") {
		decoded = DecodeBase64(payload)
	}
	at := strings.LastIndex(decoded, "@")
	if at <= 0 {
		return nil, invalidLink("ss", "missing user info")
	}

	userInfo, hostInfo := decoded[:at], decoded[at+1:]
	cipher, password, ok := strings.Cut(userInfo, ":")
	if !ok {
		// SIP002：userinfo 为 base64(method:password)
		cipher, password, ok = strings.Cut(DecodeBase64(unescape(userInfo)), ":")
		if !ok {
			return nil, invalidLink("ss", "missing cipher")
		}
	}

	host, port, err := hostPort(hostInfo)
	if err != nil {
		return nil, invalidLink("ss", err.Error())
	}

	record := domain.NewMap()
	record.Set("name", domain.String(displayName(name, sourceName, index, host)))
	record.Set("type", domain.String("ss"))
	record.Set("server", domain.String(host))
	record.Set("port", domain.Int(int64(port)))
	record.Set("cipher", domain.String(cipher))
	record.Set("password", domain.String(password))
	record.Set("udp", domain.Bool(true))

	query := parseQuery(rawQuery)
	if isTrue(query["uot"]) || isTrue(query["udp-over-tcp"]) {
		record.Set("udp-over-tcp", domain.Bool(true))
	}
	applyPlugin(record, query["plugin"])
	return record, nil
}

// applyPlugin 将 SIP003 插件参数转换为 Clash 的 plugin / plugin-opts
func applyPlugin(record *domain.Map, raw string) {
	if strings.TrimSpace(raw) == "" {
		return
	}
	parts := strings.Split(raw, ";")
	plugin := strings.ToLower(strings.TrimSpace(parts[0]))
	params := make(map[string]string, len(parts))
	for _, part := range parts[1:] {
		key, value, _ := strings.Cut(part, "=")
		params[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}

	opts := domain.NewMap()
	switch {
	case strings.Contains(plugin, "obfs"):
		record.Set("plugin", domain.String("obfs"))
		opts.Set("mode", domain.String(params["obfs"]))
		if host := params["obfs-host"]; host != "" {
			opts.Set("host", domain.String(host))
		}
	case strings.Contains(plugin, "v2ray"):
		record.Set("plugin", domain.String("v2ray-plugin"))
		mode := params["mode"]
		if mode == "" {
			mode = "websocket"
		}
		opts.Set("mode", domain.String(mode))
		if host := params["host"]; host != "" {
			opts.Set("host", domain.String(host))
		}
		if path := params["path"]; path != "" {
			opts.Set("path", domain.String(path))
		}
		if _, tls := params["tls"]; tls {
			opts.Set("tls", domain.Bool(true))
		}
	default:
		return
	}
	record.Set("plugin-opts", domain.MapValue(opts))
}

// parseShadowsocksR 解析 SSR 链接：
// base64(host:port:protocol:method:obfs:base64pass/?params)
func parseShadowsocksR(payload, sourceName string, index int) (*domain.Map, error) {
	decoded := DecodeBase64(payload)
	if decoded == "" {
		return nil, invalidLink("ssr", "invalid base64 payload")
	}

	main, rawQuery, _ := strings.Cut(decoded, "/?")
	parts := strings.Split(main, ":")
	if len(parts) < 6 {
		return nil, invalidLink("ssr", "expected 6 fields")
	}
	// 主机可能是 IPv6，其余五个字段从尾部取
	n := len(parts)
	host := strings.Join(parts[:n-5], ":")
	port, err := strconv.Atoi(parts[n-5])
	if err != nil || !validPort(port) {
		return nil, invalidLink("ssr", "invalid port")
	}

	query := parseQuery(rawQuery)
	record := domain.NewMap()
	record.Set("name", domain.String(displayName(DecodeBase64(query["remarks"]), sourceName, index, host)))
	record.Set("type", domain.String("ssr"))
	record.Set("server", domain.String(host))
	record.Set("port", domain.Int(int64(port)))
	record.Set("cipher", domain.String(parts[n-3]))
	record.Set("password", domain.String(DecodeBase64(parts[n-1])))
	record.Set("protocol", domain.String(parts[n-4]))
	record.Set("obfs", domain.String(parts[n-2]))
	if v := DecodeBase64(query["obfsparam"]); v != "" {
		record.Set("obfs-param", domain.String(v))
	}
	if v := DecodeBase64(query["protoparam"]); v != "" {
		record.Set("protocol-param", domain.String(v))
	}
	record.Set("udp", domain.Bool(true))
	return record, nil
}

// parseTrojan 解析 Trojan 链接
func parseTrojan(link, sourceName string, index int) (*domain.Map, error) {
	u, err := url.Parse(link)
	if err != nil {
		return nil, invalidLink("trojan", err.Error())
	}
	password := userInfo(u)
	if password == "" {
		return nil, invalidLink("trojan", "missing password")
	}
	port, err := urlPort(u, 443)
	if err != nil {
		return nil, invalidLink("trojan", err.Error())
	}

	host := u.Hostname()
	query := parseQuery(u.RawQuery)
	record := domain.NewMap()
	record.Set("name", domain.String(displayName(u.Fragment, sourceName, index, host)))
	record.Set("type", domain.String("trojan"))
	record.Set("server", domain.String(host))
	record.Set("port", domain.Int(int64(port)))
	record.Set("password", domain.String(password))
	record.Set("udp", domain.Bool(true))

	sni := query["sni"]
	if sni == "" {
		sni = query["peer"]
	}
	if sni != "" {
		record.Set("sni", domain.String(sni))
	}
	if isTrue(query["allowinsecure"]) {
		record.Set("skip-cert-verify", domain.Bool(true))
	}
	if network := strings.ToLower(query["type"]); network == "ws" || network == "grpc" {
		record.Set("network", domain.String(network))
		applyTransportOpts(record, network, query)
	}
	return record, nil
}

// parseVLESS 解析 VLESS 链接
func parseVLESS(link, sourceName string, index int) (*domain.Map, error) {
	u, err := url.Parse(link)
	if err != nil {
		return nil, invalidLink("vless", err.Error())
	}
	uuid := userInfo(u)
	if uuid == "" {
		return nil, invalidLink("vless", "missing uuid")
	}
	port, err := urlPort(u, 443)
	if err != nil {
		return nil, invalidLink("vless", err.Error())
	}

	host := u.Hostname()
	query := parseQuery(u.RawQuery)
	network := strings.ToLower(query["type"])
	if network == "" {
		network = "tcp"
	}

	record := domain.NewMap()
	record.Set("name", domain.String(displayName(u.Fragment, sourceName, index, host)))
	record.Set("type", domain.String("vless"))
	record.Set("server", domain.String(host))
	record.Set("port", domain.Int(int64(port)))
	record.Set("uuid", domain.String(uuid))
	record.Set("udp", domain.Bool(true))
	record.Set("network", domain.String(network))
	if flow := query["flow"]; flow != "" {
		record.Set("flow", domain.String(flow))
	}

	// 解析 TLS / Reality
	switch security := strings.ToLower(query["security"]); security {
	case "tls", "reality":
		record.Set("tls", domain.Bool(true))
		if security == "reality" {
			opts := domain.NewMap()
			opts.Set("public-key", domain.String(query["pbk"]))
			if sid := query["sid"]; sid != "" {
				opts.Set("short-id", domain.String(sid))
			}
			record.Set("reality-opts", domain.MapValue(opts))
		}
	}
	if sni := query["sni"]; sni != "" {
		record.Set("sni", domain.String(sni))
		record.Set("servername", domain.String(sni))
	}
	if fp := query["fp"]; fp != "" {
		record.Set("client-fingerprint", domain.String(fp))
	}
	applyTransportOpts(record, network, query)
	return record, nil
}

// applyTransportOpts 写入 ws-opts / grpc-opts
func applyTransportOpts(record *domain.Map, network string, query map[string]string) {
	switch network {
	case "ws":
		opts := domain.NewMap()
		if path := query["path"]; path != "" {
			opts.Set("path", domain.String(path))
		}
		if host := query["host"]; host != "" {
			headers := domain.NewMap()
			headers.Set("Host", domain.String(host))
			opts.Set("headers", domain.MapValue(headers))
		}
		if opts.Len() > 0 {
			record.Set("ws-opts", domain.MapValue(opts))
		}
	case "grpc":
		if name := query["servicename"]; name != "" {
			opts := domain.NewMap()
			opts.Set("grpc-service-name", domain.String(name))
			record.Set("grpc-opts", domain.MapValue(opts))
		}
	}
}

// vmessLink vmess:// 载荷中的 JSON 字段，数字字段可能以字符串给出
type vmessLink struct {
	PS   looseString `json:"ps"`
	Add  looseString `json:"add"`
	Port looseString `json:"port"`
	ID   looseString `json:"id"`
	Aid  looseString `json:"aid"`
	Scy  looseString `json:"scy"`
	Net  looseString `json:"net"`
	TLS  looseString `json:"tls"`
	SNI  looseString `json:"sni"`
	Host looseString `json:"host"`
	Path looseString `json:"path"`
}

// looseString 接受 JSON 字符串、数字或布尔值
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = looseString(strings.TrimSpace(v))
		return nil
	}
	if string(data) == "null" {
		*s = ""
		return nil
	}
	*s = looseString(strings.TrimSpace(string(data)))
	return nil
}

func (s looseString) String() string { return string(s) }

// parseVMess 解析 VMess 链接（v2rayN 格式）
func parseVMess(payload, sourceName string, index int) (*domain.Map, error) {
	decoded := DecodeBase64(payload)
	if decoded == "" {
		return nil, invalidLink("vmess", "invalid base64 payload")
	}

	var link vmessLink
	if err := json.Unmarshal([]byte(decoded), &link); err != nil {
		return nil, invalidLink("vmess", err.Error())
	}

	server := link.Add.String()
	uuid := link.ID.String()
	port, err := strconv.Atoi(link.Port.String())
	if err != nil || !validPort(port) {
		return nil, invalidLink("vmess", "invalid port")
	}
	if server == "" || uuid == "" {
		return nil, invalidLink("vmess", "missing server or id")
	}

	alterID, err := strconv.Atoi(link.Aid.String())
	if err != nil {
		alterID = 0
	}
	cipher := link.Scy.String()
	if cipher == "" {
		cipher = "auto"
	}
	network := strings.ToLower(link.Net.String())
	if network == "" {
		network = "tcp"
	}

	record := domain.NewMap()
	record.Set("name", domain.String(displayName(link.PS.String(), sourceName, index, server)))
	record.Set("type", domain.String("vmess"))
	record.Set("server", domain.String(server))
	record.Set("port", domain.Int(int64(port)))
	record.Set("uuid", domain.String(uuid))
	record.Set("alterId", domain.Int(int64(alterID)))
	record.Set("cipher", domain.String(cipher))
	record.Set("udp", domain.Bool(true))
	record.Set("network", domain.String(network))
	if strings.EqualFold(link.TLS.String(), "tls") {
		record.Set("tls", domain.Bool(true))
		if sni := link.SNI.String(); sni != "" {
			record.Set("servername", domain.String(sni))
		}
	}

	query := map[string]string{
		"path": link.Path.String(),
		"host": link.Host.String(),
	}
	if network == "grpc" {
		query["servicename"] = link.Path.String()
	}
	if network == "ws" || network == "grpc" {
		applyTransportOpts(record, network, query)
	}
	return record, nil
}

// hostPort 分离 host 和 port，支持 [IPv6]:port
func hostPort(value string) (string, int, error) {
	value = strings.TrimSpace(value)
	var host, portText string
	if strings.HasPrefix(value, "[") {
		end := strings.Index(value, "]")
		if end == -1 || len(value) < end+2 || value[end+1] != ':' {
			return "", 0, errInvalidAddress
		}
		host, portText = value[1:end], value[end+2:]
	} else {
		idx := strings.LastIndex(value, ":")
		if idx == -1 {
			return "", 0, errInvalidAddress
		}
		host, portText = value[:idx], value[idx+1:]
	}
	port, err := strconv.Atoi(portText)
	if err != nil || !validPort(port) {
		return "", 0, errInvalidPort
	}
	return host, port, nil
}

func urlPort(u *url.URL, fallback int) (int, error) {
	if u.Port() == "" {
		return fallback, nil
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil || !validPort(port) {
		return 0, errInvalidPort
	}
	return port, nil
}

func validPort(port int) bool {
	return port >= 0 && port <= 65535
}

// userInfo 返回完整的（已解码的）userinfo，包含其中的冒号
func userInfo(u *url.URL) string {
	if u.User == nil {
		return ""
	}
	out := u.User.Username()
	if password, ok := u.User.Password(); ok {
		out += ":" + password
	}
	return out
}

// parseQuery 解析查询串，键统一小写，重复键后者覆盖前者
func parseQuery(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		out[strings.ToLower(unescape(key))] = unescape(value)
	}
	return out
}

func unescape(s string) string {
	if v, err := url.PathUnescape(s); err == nil {
		return v
	}
	return s
}

func isTrue(value string) bool {
	value = strings.TrimSpace(value)
	return value == "1" || strings.EqualFold(value, "true")
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
