package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// 默认值与原始 service worker 行为保持一致：24 小时模型新鲜度、根文档 + index.html 预缓存。
const (
	defaultListenPort   = 5080
	defaultCachePrefix  = "britannia"
	defaultCacheVersion = "v1"
	defaultModelSegment = "/models/"
	defaultRootDocument = "./index.html"
	defaultMaxModelAge  = 24 * time.Hour
	defaultConcurrency  = 4
)

var defaultShellAssets = []string{"./", "./index.html"}

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyCacheDefaults(&cfg.Cache)

	if manifest := strings.TrimSpace(cfg.Cache.ManifestPath); manifest != "" {
		if !filepath.IsAbs(manifest) {
			manifest = filepath.Join(filepath.Dir(path), manifest)
		}
		assets, err := LoadManifest(manifest)
		if err != nil {
			return nil, err
		}
		cfg.Cache.ManifestPath = manifest
		cfg.Cache.ShellAssets = assets
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Global.StorageBackend != BackendMemory {
		absStorage, err := filepath.Abs(cfg.Global.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Global.StoragePath = absStorage
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", defaultListenPort)
	v.SetDefault("Mode", ModeReverse)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StorageBackend", BackendFS)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("CachePrefix", defaultCachePrefix)
	v.SetDefault("CacheVersion", defaultCacheVersion)
	v.SetDefault("ModelPathSegment", defaultModelSegment)
	v.SetDefault("MaxModelAge", "24h")
	v.SetDefault("RootDocument", defaultRootDocument)
	v.SetDefault("ShellAssets", defaultShellAssets)
	v.SetDefault("PrecacheConcurrency", defaultConcurrency)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = defaultListenPort
	}
	g.Mode = strings.ToLower(strings.TrimSpace(g.Mode))
	if g.Mode == "" {
		g.Mode = ModeReverse
	}
	g.StorageBackend = strings.ToLower(strings.TrimSpace(g.StorageBackend))
	if g.StorageBackend == "" {
		g.StorageBackend = BackendFS
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
}

func applyCacheDefaults(c *CacheConfig) {
	if strings.TrimSpace(c.CachePrefix) == "" {
		c.CachePrefix = defaultCachePrefix
	}
	if strings.TrimSpace(c.CacheVersion) == "" {
		c.CacheVersion = defaultCacheVersion
	}
	if strings.TrimSpace(c.ModelPathSegment) == "" {
		c.ModelPathSegment = defaultModelSegment
	}
	if c.MaxModelAge.DurationValue() == 0 {
		c.MaxModelAge = Duration(defaultMaxModelAge)
	}
	if strings.TrimSpace(c.RootDocument) == "" {
		c.RootDocument = defaultRootDocument
	}
	if c.ShellAssets == nil {
		c.ShellAssets = append([]string(nil), defaultShellAssets...)
	}
	if c.PrecacheConcurrency <= 0 {
		c.PrecacheConcurrency = defaultConcurrency
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
