package domain

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// StableNodeID 基于订阅 ID 与节点指纹生成稳定的节点 ID。
// 同一订阅重复拉取时，未变化的节点保持相同 ID，前端选择状态不会漂移。
func StableNodeID(sourceID, typ, address string, port int, name string) string {
	fingerprint := strings.Join([]string{
		strings.TrimSpace(sourceID),
		strings.ToLower(strings.TrimSpace(typ)),
		strings.ToLower(strings.TrimSpace(address)),
		strconv.Itoa(port),
		name,
	}, "|")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fingerprint)).String()
}
