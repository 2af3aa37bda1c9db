package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFailsWithMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("缺失的配置文件应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
StoragePath = "./data"
UpstreamTimeout = "boom"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadAcceptsSecondsDuration(t *testing.T) {
	cfg := `
StoragePath = "./data"
UpstreamTimeout = 12
ClearDiskOnRemoveAll = true
DefaultTier = "MEMORY"
`
	path := writeTempConfig(t, cfg)
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Global.UpstreamTimeout.DurationValue() != 12*time.Second {
		t.Fatalf("纯数字应按秒解析，得到 %s", loaded.Global.UpstreamTimeout.DurationValue())
	}
	if !loaded.Global.ClearDiskOnRemoveAll {
		t.Fatalf("ClearDiskOnRemoveAll 应被解析")
	}
	if loaded.Global.DefaultTier != "memory" {
		t.Fatalf("DefaultTier 应被规范化为小写，得到 %s", loaded.Global.DefaultTier)
	}
	if !filepath.IsAbs(loaded.Global.StoragePath) {
		t.Fatalf("StoragePath 应转换为绝对路径")
	}
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1m")); err != nil || d.DurationValue() != time.Minute {
		t.Fatalf("1m 解析失败: %v %s", err, d.DurationValue())
	}
	if err := d.UnmarshalText([]byte("0x10")); err != nil || d.DurationValue() != 16*time.Second {
		t.Fatalf("0x10 解析失败: %v %s", err, d.DurationValue())
	}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Fatalf("非法值应报错")
	}
}
