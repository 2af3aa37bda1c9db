package cache

import (
	"fmt"
	"strings"
)

// Tier 选择单次调用参与的缓存层。TierNone 会跳过全部缓存逻辑，是合法的空操作模式。
type Tier int

const (
	TierNone Tier = iota
	TierMemory
	TierDisk
)

// String 返回配置与 HTTP 参数中使用的层级名称。
func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierMemory:
		return "memory"
	case TierDisk:
		return "disk"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ParseTier 将 none/memory/disk（大小写不敏感）解析为 Tier。
func ParseTier(raw string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "none":
		return TierNone, nil
	case "memory":
		return TierMemory, nil
	case "disk":
		return TierDisk, nil
	default:
		return TierNone, fmt.Errorf("unsupported cache tier: %q", raw)
	}
}
