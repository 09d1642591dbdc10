package shared

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http/httpproxy"
)

// 常量定义
const (
	MaxDownloadSize = 50 << 20 // 50 MiB
	DownloadTimeout = 60 * time.Second

	// 自动更新调度
	SyncTickInterval = time.Minute
	SyncInitialDelay = 30 * time.Second

	// 内核控制接口
	CoreAPITimeout       = 5 * time.Second
	CoreProxiesCacheTTL  = 2 * time.Second
	DefaultDelayTestURL  = "https://www.gstatic.com/generate_204"
	DefaultDelayTimeout  = 5 * time.Second
	ProviderFetchWorkers = 4
)

// HTTP 客户端
var (
	// HTTPClientDirect 不使用任何代理
	HTTPClientDirect = newHTTPClient(nil)

	// HTTPClientSystemProxy 使用系统/环境代理（每次请求重新读取环境变量）
	HTTPClientSystemProxy = newHTTPClient(systemProxy)
)

func systemProxy(req *http.Request) (*url.URL, error) {
	return httpproxy.FromEnvironment().ProxyFunc()(req.URL)
}

// newHTTPClient 订阅服务端对 HTTP/2 支持参差不齐，统一走 HTTP/1.1
func newHTTPClient(proxy func(*http.Request) (*url.URL, error)) *http.Client {
	tr := &http.Transport{
		Proxy:               proxy,
		DialContext:         (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:   false,
		DisableKeepAlives:   true,
		TLSHandshakeTimeout: 15 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			NextProtos: []string{"http/1.1"},
		},
	}
	return &http.Client{
		Timeout:   DownloadTimeout,
		Transport: tr,
	}
}

// Task 后台任务接口
type Task interface {
	Start(ctx context.Context)
}
