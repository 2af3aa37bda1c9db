// Package cachekey 负责把请求 URL 映射为稳定的缓存键。内存层、磁盘层以及
// in-flight 注册表都以同一个键寻址，因此派生规则必须跨进程保持不变。
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// MaxKeyLength 限制调用方直接传入的原始键长度。
const MaxKeyLength = 512

var (
	// ErrMalformedURL 表示 URL 无法解析或缺少 scheme/host。
	ErrMalformedURL = errors.New("cachekey: malformed url")
	// ErrInvalidKey 表示原始键为空或包含不允许的字符。
	ErrInvalidKey = errors.New("cachekey: key is invalid")
	// ErrKeyTooLong 表示原始键超过 MaxKeyLength。
	ErrKeyTooLong = errors.New("cachekey: key exceeds max length")
)

// Derive 返回 rawURL 对应的缓存键：规范化后 URL 的 SHA-256 十六进制串。
// scheme/host 统一小写并丢弃 fragment，path 与 query 原样保留。
func Derive(rawURL string) (string, error) {
	canonical, err := Canonical(rawURL)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:]), nil
}

// Canonical 返回参与哈希的规范化 URL 文本，便于日志与诊断输出。
func Canonical(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrMalformedURL)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("%w: %s", ErrMalformedURL, trimmed)
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	parsed.RawFragment = ""
	return parsed.String(), nil
}

// Validate 校验调用方直接指定的原始键，键会被磁盘层用作文件名。
func Validate(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	if key == "." || key == ".." {
		return ErrInvalidKey
	}
	if strings.ContainsAny(key, "\n\r/\\\x00") {
		return ErrInvalidKey
	}
	return nil
}
