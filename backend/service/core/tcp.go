package core

import (
	"context"
	"net"
	"strconv"
	"time"

	"substarter/backend/service/shared"
)

// TestTCP 直接 TCP 建连测速，返回毫秒
func TestTCP(ctx context.Context, host string, port int, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		timeout = shared.DefaultDelayTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return 0, err
	}
	elapsed := time.Since(start)
	_ = conn.Close()

	ms := int(elapsed.Milliseconds())
	if ms < 1 {
		ms = 1
	}
	return ms, nil
}
