package global

import (
	"hash/crc32"
)

const maxNodeNumber = 1024

// NodeNumber 把配置里的节点名映射成雪花ID的 nodeID（0~1023）
func NodeNumber(nodeID string) int64 {
	if nodeID == "" {
		return 1
	}
	return int64(crc32.ChecksumIEEE([]byte(nodeID)) % maxNodeNumber)
}
