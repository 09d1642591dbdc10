package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrEmptyURL 订阅地址为空
	ErrEmptyURL = errors.New("subscription url is empty")
	// ErrTooLarge 响应体超过下载上限
	ErrTooLarge = errors.New("response body exceeds size limit")
)

// HTTPStatusError 服务端返回非 2xx 状态
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// DownloadError 直连与系统代理两条路径均失败，保留两次失败原因
type DownloadError struct {
	URL    string
	Direct error
	Proxy  error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("subscription download failed\n\ndirect: %v\n\nsystem proxy: %v", e.Direct, e.Proxy)
}

func (e *DownloadError) Unwrap() []error {
	return []error{e.Direct, e.Proxy}
}
