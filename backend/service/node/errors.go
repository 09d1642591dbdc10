package node

import (
	"errors"
	"fmt"
)

// ErrInvalidShareLink 分享链接无法识别或缺少必要字段
var ErrInvalidShareLink = errors.New("invalid share link")

func invalidLink(scheme, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidShareLink, scheme, reason)
}

var (
	errInvalidAddress = errors.New("invalid host:port")
	errInvalidPort    = errors.New("invalid port")
)
