package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"substarter/backend/domain"
	"substarter/backend/service/shared"
)

var (
	// ErrCoreUnavailable 内核控制接口无法连接
	ErrCoreUnavailable = errors.New("core controller unavailable")
	// ErrProxyNotFound 内核中不存在该代理或代理组
	ErrProxyNotFound = errors.New("proxy not found in core")
)

// APIError 控制接口返回的非 2xx 响应
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("core %s %s: %d %s", e.Method, e.Path, e.StatusCode, msg)
}

// EndpointFunc 返回控制接口地址与密钥；每次请求都会重新读取，设置变化后无需重建客户端
type EndpointFunc func() (baseURL, secret string)

// StaticEndpoint 固定地址
func StaticEndpoint(baseURL, secret string) EndpointFunc {
	return func() (string, string) { return baseURL, secret }
}

// SettingsEndpoint 由设置推导 http://127.0.0.1:<apiPort>
func SettingsEndpoint(get func() domain.Settings) EndpointFunc {
	return func() (string, string) {
		s := domain.NormalizeSettings(get())
		return "http://127.0.0.1:" + strconv.Itoa(s.APIPort), s.APISecret
	}
}

// Client 外部代理内核（Clash 兼容）控制接口客户端。
// GET /proxies 的结果缓存 ttl 时长，任何改变选择的写操作都会使缓存失效。
type Client struct {
	endpoint EndpointFunc
	http     *http.Client
	ttl      time.Duration
	now      func() time.Time

	mu       sync.RWMutex
	proxies  map[string]domain.CoreProxy
	cachedAt time.Time
}

// NewClient 创建客户端；httpClient 为 nil 时使用带超时的默认客户端
func NewClient(endpoint EndpointFunc, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: shared.CoreAPITimeout}
	}
	return &Client{
		endpoint: endpoint,
		http:     httpClient,
		ttl:      shared.CoreProxiesCacheTTL,
		now:      time.Now,
	}
}

// Proxies 返回内核中的全部代理与代理组（按名称索引）
func (c *Client) Proxies(ctx context.Context) (map[string]domain.CoreProxy, error) {
	c.mu.RLock()
	if c.fresh() {
		out := cloneProxies(c.proxies)
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fresh() {
		return cloneProxies(c.proxies), nil
	}

	var body struct {
		Proxies map[string]domain.CoreProxy `json:"proxies"`
	}
	if err := c.do(ctx, http.MethodGet, "/proxies", nil, &body); err != nil {
		return nil, err
	}
	if body.Proxies == nil {
		body.Proxies = map[string]domain.CoreProxy{}
	}
	for name, p := range body.Proxies {
		if p.Name == "" {
			p.Name = name
			body.Proxies[name] = p
		}
	}
	c.proxies = body.Proxies
	c.cachedAt = c.now()
	return cloneProxies(c.proxies), nil
}

// cloneProxies 返回缓存的副本，调用方修改不影响缓存
func cloneProxies(in map[string]domain.CoreProxy) map[string]domain.CoreProxy {
	out := maps.Clone(in)
	for name, p := range out {
		p.All = slices.Clone(p.All)
		out[name] = p
	}
	return out
}

// fresh 调用方需持有锁
func (c *Client) fresh() bool {
	return c.proxies != nil && c.now().Sub(c.cachedAt) < c.ttl
}

// InvalidateProxies 清除代理缓存
func (c *Client) InvalidateProxies() {
	c.mu.Lock()
	c.proxies = nil
	c.cachedAt = time.Time{}
	c.mu.Unlock()
}

// Lookup 按名称查找代理（不区分大小写，精确匹配优先）
func (c *Client) Lookup(ctx context.Context, name string) (domain.CoreProxy, error) {
	proxies, err := c.Proxies(ctx)
	if err != nil {
		return domain.CoreProxy{}, err
	}
	if p, ok := proxies[name]; ok {
		return p, nil
	}
	for key, p := range proxies {
		if strings.EqualFold(key, name) {
			return p, nil
		}
	}
	return domain.CoreProxy{}, fmt.Errorf("%w: %s", ErrProxyNotFound, name)
}

// Selected 代理组当前选中的成员
func (c *Client) Selected(ctx context.Context, group string) (string, error) {
	p, err := c.Lookup(ctx, group)
	if err != nil {
		return "", err
	}
	return p.Now, nil
}

// Select 切换代理组的选中成员
func (c *Client) Select(ctx context.Context, group, name string) error {
	payload := map[string]string{"name": name}
	err := c.do(ctx, http.MethodPut, "/proxies/"+url.PathEscape(group), payload, nil)
	c.InvalidateProxies()
	if err != nil {
		return err
	}
	logrus.Infof("[Core] 代理组 %s 已切换到 %s", group, name)
	return nil
}

// SetMode 切换路由模式（rule / global / direct）
func (c *Client) SetMode(ctx context.Context, mode string) error {
	mode = strings.ToLower(strings.TrimSpace(mode))
	switch mode {
	case "rule", "global", "direct":
	default:
		return fmt.Errorf("invalid mode %q", mode)
	}
	err := c.do(ctx, http.MethodPatch, "/configs", map[string]string{"mode": mode}, nil)
	c.InvalidateProxies()
	return err
}

// Delay 通过内核测试单个代理的延迟（毫秒）
func (c *Client) Delay(ctx context.Context, name, testURL string, timeout time.Duration) (int, error) {
	if strings.TrimSpace(testURL) == "" {
		testURL = shared.DefaultDelayTestURL
	}
	if timeout <= 0 {
		timeout = shared.DefaultDelayTimeout
	}
	q := url.Values{}
	q.Set("timeout", strconv.FormatInt(timeout.Milliseconds(), 10))
	q.Set("url", testURL)

	var body struct {
		Delay   int    `json:"delay"`
		Message string `json:"message"`
	}
	path := "/proxies/" + url.PathEscape(name) + "/delay?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return 0, err
	}
	if body.Delay <= 0 {
		if msg := strings.TrimSpace(body.Message); msg != "" {
			return 0, errors.New(msg)
		}
		return 0, errors.New("invalid delay response")
	}
	return body.Delay, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	base, secret := c.endpoint()
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return fmt.Errorf("%w: empty controller address", ErrCoreUnavailable)
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCoreUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCoreUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Method: method, Path: path, StatusCode: resp.StatusCode}
		var msg struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &msg) == nil && msg.Message != "" {
			apiErr.Message = msg.Message
		} else {
			apiErr.Message = string(data)
		}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %w", ErrProxyNotFound, apiErr)
		}
		return apiErr
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode core response: %w", err)
	}
	return nil
}
