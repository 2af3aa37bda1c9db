package cache

import (
	"context"
	"errors"
)

// Store 是缓存层（内存 / 磁盘）的统一能力集，协调器只依赖该接口。
//
// 约定：
//   - 并发安全，可被多个 goroutine 同时调用。
//   - Get 对不存在的键只返回 ErrNotFound，其它错误代表真实的 I/O 故障。
//   - Clear 幂等，对空缓存调用不会报错。
type Store interface {
	// Name 返回层级名称（memory/disk），用于日志与诊断。
	Name() string

	// Get 读取 key 对应的完整内容。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, key string) ([]byte, error)

	// Put 写入 key 对应的内容，覆盖已有条目。实现不得保留 data 的引用。
	Put(ctx context.Context, key string, data []byte) error

	// Clear 删除全部条目。
	Clear(ctx context.Context) error
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")
