package config

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// subscriptionUsage Subscription-Userinfo 响应头携带的流量与到期信息
type subscriptionUsage struct {
	UsedBytes  *int64
	TotalBytes *int64
	ExpireAt   *time.Time
}

// parseSubscriptionUserinfo 解析 "upload=1; download=2; total=10; expire=1700000000"。
// upload、download、total 三项缺一时不返回流量；expire 为 0 或缺失时不返回到期时间。
func parseSubscriptionUserinfo(value string) subscriptionUsage {
	var out subscriptionUsage
	raw := strings.TrimSpace(value)
	if raw == "" {
		return out
	}

	var (
		upload    uint64
		download  uint64
		total     uint64
		expire    uint64
		hasUpload bool
		hasDown   bool
		hasTotal  bool
	)

	normalized := strings.ReplaceAll(raw, ",", ";")
	for _, part := range strings.Split(normalized, ";") {
		key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		num, err := strconv.ParseUint(strings.TrimSpace(val), 10, 64)
		if key == "" || err != nil {
			continue
		}
		switch key {
		case "upload":
			upload, hasUpload = num, true
		case "download":
			download, hasDown = num, true
		case "total":
			total, hasTotal = num, true
		case "expire":
			expire = num
		}
	}

	if expire > 0 && expire <= math.MaxInt64 {
		t := time.Unix(int64(expire), 0).UTC()
		out.ExpireAt = &t
	}

	if !hasUpload || !hasDown || !hasTotal {
		return out
	}
	if upload > math.MaxUint64-download {
		return out
	}
	used := upload + download
	if used > math.MaxInt64 || total > math.MaxInt64 {
		return out
	}

	used64 := int64(used)
	total64 := int64(total)
	out.UsedBytes = &used64
	out.TotalBytes = &total64
	return out
}
