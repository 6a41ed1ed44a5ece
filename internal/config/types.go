package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"24h" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 代理模式：reverse 将所有请求映射到 Origin；forward 作为 HTTP 代理接收绝对 URI。
const (
	ModeReverse = "reverse"
	ModeForward = "forward"
)

// 存储后端。
const (
	BackendFS     = "fs"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// GlobalConfig 描述进程级运行参数：监听、日志、存储与上游超时。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	Mode            string   `mapstructure:"Mode"`
	Origin          string   `mapstructure:"Origin"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StorageBackend  string   `mapstructure:"StorageBackend"`
	StoragePath     string   `mapstructure:"StoragePath"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// CacheConfig 决定缓存分区命名、模型新鲜度窗口与预缓存清单。
type CacheConfig struct {
	CachePrefix         string   `mapstructure:"CachePrefix"`
	CacheVersion        string   `mapstructure:"CacheVersion"`
	ModelPathSegment    string   `mapstructure:"ModelPathSegment"`
	MaxModelAge         Duration `mapstructure:"MaxModelAge"`
	RootDocument        string   `mapstructure:"RootDocument"`
	ShellAssets         []string `mapstructure:"ShellAssets"`
	ManifestPath        string   `mapstructure:"ManifestPath"`
	PrecacheConcurrency int      `mapstructure:"PrecacheConcurrency"`
}

// Config 是 TOML 文件映射的整体结构，两个分组均平铺在顶层。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Cache  CacheConfig  `mapstructure:",squash"`
}

// Summary 输出启动日志使用的关键字段。
func (c *Config) Summary() map[string]interface{} {
	return map[string]interface{}{
		"mode":          c.Global.Mode,
		"origin":        c.Global.Origin,
		"backend":       c.Global.StorageBackend,
		"cache_version": c.Cache.CacheVersion,
		"shell_assets":  len(c.Cache.ShellAssets),
	}
}
