package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	switch g.Mode {
	case ModeReverse, ModeForward:
	default:
		return newFieldError("Mode", "仅支持 reverse/forward")
	}
	if err := validateOrigin(g.Origin); err != nil {
		return fmt.Errorf("Origin: %w", err)
	}
	switch g.StorageBackend {
	case BackendFS, BackendSQLite:
		if g.StoragePath == "" {
			return newFieldError("StoragePath", "不能为空")
		}
	case BackendMemory:
	default:
		return newFieldError("StorageBackend", "仅支持 fs/sqlite/memory")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("UpstreamTimeout", "必须大于 0")
	}

	cc := c.Cache
	if strings.ContainsAny(cc.CachePrefix, "/\\ ") {
		return newFieldError("CachePrefix", "不允许包含路径分隔符或空格")
	}
	if strings.ContainsAny(cc.CacheVersion, "/\\ ") {
		return newFieldError("CacheVersion", "不允许包含路径分隔符或空格")
	}
	if !strings.HasPrefix(cc.ModelPathSegment, "/") {
		return newFieldError("ModelPathSegment", "必须以 / 开头")
	}
	if cc.MaxModelAge.DurationValue() <= 0 {
		return newFieldError("MaxModelAge", "必须大于 0")
	}
	if cc.PrecacheConcurrency <= 0 {
		return newFieldError("PrecacheConcurrency", "必须大于 0")
	}
	if err := validateRelative(cc.RootDocument); err != nil {
		return newFieldError("RootDocument", err.Error())
	}
	for i, asset := range cc.ShellAssets {
		if err := validateRelative(asset); err != nil {
			return newFieldError(indexedField("ShellAssets", i), err.Error())
		}
	}

	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少应用源地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，源地址: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("源地址缺少 Host: %s", raw)
	}
	return nil
}

// validateRelative 拒绝带协议或 Host 的清单项，预缓存资源必须与应用同源。
func validateRelative(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "" || parsed.Host != "" {
		return errors.New("必须为相对地址")
	}
	return nil
}

// OriginURL 返回应用源地址，末尾补齐 "/" 以便相对地址按目录解析。
func (c *Config) OriginURL() *url.URL {
	parsed, err := url.Parse(c.Global.Origin)
	if err != nil {
		return nil
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed
}

// ResolveAsset 将清单中的相对地址解析为绝对 URL。
func (c *Config) ResolveAsset(rel string) string {
	base := c.OriginURL()
	if base == nil {
		return rel
	}
	ref, err := url.Parse(rel)
	if err != nil {
		return rel
	}
	return base.ResolveReference(ref).String()
}

// ShellURLs 返回预缓存清单的绝对地址列表，顺序与配置一致。
func (c *Config) ShellURLs() []string {
	result := make([]string, 0, len(c.Cache.ShellAssets))
	for _, asset := range c.Cache.ShellAssets {
		result = append(result, c.ResolveAsset(asset))
	}
	return result
}
