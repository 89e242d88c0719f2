package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Catalog 定义配比策略档位的查询接口。
type Catalog interface {
	Resolve(name string) (Profile, bool)
	Names() []string
}

// Profile 描述一个命名的配比档位,约束单一资产占组合的百分比区间。
type Profile struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MinPct      int    `json:"min_pct"`
	MaxPct      int    `json:"max_pct"`
}

// Valid 检查档位边界是否构成合法区间。
func (p Profile) Valid() bool {
	if p.MinPct < 0 || p.MinPct > 100 {
		return false
	}
	if p.MaxPct <= 0 || p.MaxPct > 100 {
		return false
	}
	return p.MinPct <= p.MaxPct
}

// StaticCatalog 以内存列表提供档位检索能力。
type StaticCatalog struct {
	profiles map[string]Profile
	order    []string
}

// NewStaticCatalog 创建静态档位目录。非法档位被丢弃,重名以后者为准。
func NewStaticCatalog(profiles []Profile) *StaticCatalog {
	catalog := &StaticCatalog{profiles: make(map[string]Profile, len(profiles))}
	for _, profile := range profiles {
		name := normalizeName(profile.Name)
		if name == "" || !profile.Valid() {
			continue
		}
		if _, ok := catalog.profiles[name]; !ok {
			catalog.order = append(catalog.order, name)
		}
		profile.Name = name
		catalog.profiles[name] = profile
	}
	return catalog
}

// LoadStaticCatalog 从 JSON 文件加载档位目录。
func LoadStaticCatalog(path string) (*StaticCatalog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("策略目录文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析策略目录路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取策略目录文件失败: %w", err)
	}
	defer file.Close()

	var profiles []Profile
	if err := json.NewDecoder(file).Decode(&profiles); err != nil {
		return nil, fmt.Errorf("解析策略目录文件失败: %w", err)
	}

	return NewStaticCatalog(profiles), nil
}

// Default 返回内置的三个档位。balanced 的边界与电路示例输入保持一致。
func Default() *StaticCatalog {
	return NewStaticCatalog([]Profile{
		{Name: "conservative", Description: "窄幅配比,强制高度分散", MinPct: 15, MaxPct: 35},
		{Name: "balanced", Description: "默认档位,适中的集中度上限", MinPct: 10, MaxPct: 40},
		{Name: "aggressive", Description: "允许单一资产高集中度", MinPct: 5, MaxPct: 60},
	})
}

// Resolve 按名称查找档位,名称匹配忽略大小写与首尾空白。
func (c *StaticCatalog) Resolve(name string) (Profile, bool) {
	if c == nil {
		return Profile{}, false
	}
	profile, ok := c.profiles[normalizeName(name)]
	return profile, ok
}

// Names 按加载顺序返回全部档位名。
func (c *StaticCatalog) Names() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.order...)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Ensure StaticCatalog 实现 Catalog 接口。
var _ Catalog = (*StaticCatalog)(nil)
