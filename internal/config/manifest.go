package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// shellManifest 是预缓存清单文件的结构：
//
//	assets:
//	  - ./
//	  - ./index.html
type shellManifest struct {
	Assets []string `yaml:"assets"`
}

// LoadManifest 读取 YAML 清单，返回去空白后的资源相对地址，保持原始顺序。
func LoadManifest(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取预缓存清单失败: %w", err)
	}

	var manifest shellManifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("解析预缓存清单失败: %w", err)
	}

	assets := make([]string, 0, len(manifest.Assets))
	for _, asset := range manifest.Assets {
		if trimmed := strings.TrimSpace(asset); trimmed != "" {
			assets = append(assets, trimmed)
		}
	}
	return assets, nil
}
