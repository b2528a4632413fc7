package model

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// DefinitionsFile 离线定义文件格式
type DefinitionsFile struct {
	Collections []Collection `json:"collections"`
}

// LoadDefinitionsFile 读取 JSON 定义文件，echo 与元素按 position 排序
func LoadDefinitionsFile(path string) ([]Collection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions file: %w", err)
	}
	var f DefinitionsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse definitions file %s: %w", path, err)
	}
	for i := range f.Collections {
		SortCollection(&f.Collections[i])
	}
	return f.Collections, nil
}

// SortCollection 按 position 排序 echo 和元素
func SortCollection(c *Collection) {
	sort.SliceStable(c.Echoes, func(i, j int) bool { return c.Echoes[i].Position < c.Echoes[j].Position })
	for i := range c.Echoes {
		els := c.Echoes[i].Elements
		sort.SliceStable(els, func(a, b int) bool { return els[a].Position < els[b].Position })
	}
}
