package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"substarter/backend/service/shared"
)

// 请求头
const (
	UserAgent      = "ClashforWindows/0.20.0 substarter/0.1"
	acceptEncoding = "gzip, deflate, br"
)

// Egress 下载所走的出口
type Egress string

const (
	EgressDirect      Egress = "direct"
	EgressSystemProxy Egress = "system-proxy"
)

// Response 一次成功下载的结果
type Response struct {
	Text   string
	Header http.Header
	Status int
	Via    Egress
}

// Fetcher 订阅下载器：先直连，失败后经系统代理重试一次
type Fetcher struct {
	direct  *http.Client
	proxied *http.Client
}

// New 使用给定的两个出口客户端创建下载器
func New(direct, proxied *http.Client) *Fetcher {
	return &Fetcher{direct: direct, proxied: proxied}
}

// NewDefault 使用共享的直连 / 系统代理客户端
func NewDefault() *Fetcher {
	return New(shared.HTTPClientDirect, shared.HTTPClientSystemProxy)
}

// Fetch 下载订阅正文。两条路径都失败时返回 *DownloadError。
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, ErrEmptyURL
	}

	resp, directErr := f.fetchVia(ctx, f.direct, rawURL)
	if directErr == nil {
		resp.Via = EgressDirect
		return resp, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logrus.WithField("url", rawURL).Warnf("[Fetch] 直连下载失败，改用系统代理重试: %v", directErr)

	resp, proxyErr := f.fetchVia(ctx, f.proxied, rawURL)
	if proxyErr == nil {
		resp.Via = EgressSystemProxy
		return resp, nil
	}
	return nil, &DownloadError{URL: rawURL, Direct: directErr, Proxy: proxyErr}
}

func (f *Fetcher) fetchVia(ctx context.Context, client *http.Client, rawURL string) (*Response, error) {
	if client == nil {
		return nil, fmt.Errorf("egress not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Encoding", acceptEncoding)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPStatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	// 限制下载大小
	body, err := io.ReadAll(io.LimitReader(resp.Body, shared.MaxDownloadSize+1))
	if err != nil {
		return nil, err
	}
	if len(body) > shared.MaxDownloadSize {
		return nil, ErrTooLarge
	}

	if decoded, err := Decompress(body, resp.Header.Get("Content-Encoding")); err != nil {
		logrus.WithField("url", rawURL).Warnf("[Fetch] 解压失败，按原始字节处理: %v", err)
	} else {
		body = decoded
	}

	return &Response{
		Text:   DecodeText(body, resp.Header.Get("Content-Type")),
		Header: resp.Header,
		Status: resp.StatusCode,
	}, nil
}
