package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Provider 定义政策知识检索的通用接口。
type Provider interface {
	Query(region string, drought, flood bool) []Snippet
}

// Snippet 描述可供摘要引用的一段补贴政策知识。
type Snippet struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Regions  []string `json:"regions"`
	Hazards  []string `json:"hazards"`
	Keywords []string `json:"keywords"`
}

// StaticProvider 通过加载 JSON 文件提供静态知识检索能力。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

// NewStaticProvider 创建静态知识库实例。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{
		items:      items,
		maxResults: maxResults,
	}
}

// LoadStaticProvider 从 JSON 文件加载知识条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}
	defer file.Close()

	var entries []Snippet
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}

	return NewStaticProvider(entries, maxResults), nil
}

// Query 按灾区与灾害类型匹配政策条目。
func (p *StaticProvider) Query(region string, drought, flood bool) []Snippet {
	if p == nil {
		return nil
	}

	region = strings.ToLower(strings.TrimSpace(region))

	results := make([]Snippet, 0, p.maxResults)
	for _, item := range p.items {
		if matches(item, region, drought, flood) {
			results = append(results, item)
			if len(results) >= p.maxResults {
				break
			}
		}
	}
	return results
}

func matches(snippet Snippet, region string, drought, flood bool) bool {
	// 未限定区域的条目适用于所有灾区。
	if len(snippet.Regions) > 0 && !containsFold(snippet.Regions, region) {
		return false
	}
	if len(snippet.Hazards) == 0 {
		return true
	}
	for _, hazard := range snippet.Hazards {
		switch strings.ToLower(strings.TrimSpace(hazard)) {
		case "drought":
			if drought {
				return true
			}
		case "flood":
			if flood {
				return true
			}
		}
	}
	return false
}

func containsFold(values []string, needle string) bool {
	for _, value := range values {
		if strings.ToLower(strings.TrimSpace(value)) == needle {
			return true
		}
	}
	return false
}

// Ensure StaticProvider 实现 Provider 接口。
var _ Provider = (*StaticProvider)(nil)
