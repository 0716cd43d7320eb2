package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Meta 文件自带的文档元数据，字段为空表示未提供
type Meta struct {
	ID              string `yaml:"id"`
	Title           string `yaml:"title"`
	Publisher       string `yaml:"publisher"`
	PublicationYear string `yaml:"year"`
	SourceURL       string `yaml:"url"`
}

// Document 读取结果
type Document struct {
	// Text 供切块的正文，段落之间以空行分隔
	Text string
	Meta Meta
}

// Loader 读取一种文件格式
type Loader interface {
	Load(ctx context.Context, path string) (*Document, error)

	// SupportedTypes 返回处理的扩展名（小写，含点）
	SupportedTypes() []string
}

// Registry 按扩展名把 Load 路由到对应的 Loader
type Registry struct {
	mu      sync.RWMutex
	loaders map[string]Loader
}

// NewRegistry 创建包含内置 loader 的注册表
func NewRegistry() *Registry {
	r := &Registry{loaders: make(map[string]Loader)}
	for _, l := range []Loader{NewTextLoader(), NewMarkdownLoader()} {
		for _, ext := range l.SupportedTypes() {
			r.loaders[ext] = l
		}
	}
	return r
}

// Register 添加或替换扩展名对应的 loader，ext 需包含前导点
func (r *Registry) Register(ext string, l Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[strings.ToLower(ext)] = l
}

// Load 按扩展名选择 loader
func (r *Registry) Load(ctx context.Context, path string) (*Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return nil, fmt.Errorf("loader: cannot determine file type for %q (no extension)", path)
	}

	r.mu.RLock()
	l, ok := r.loaders[ext]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("loader: no loader registered for extension %q", ext)
	}

	doc, err := l.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(doc.Text) == "" {
		return nil, fmt.Errorf("loader: %s has no text", filepath.Base(path))
	}
	return doc, nil
}

// SupportedTypes 返回所有已注册的扩展名（已排序）
func (r *Registry) SupportedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.loaders))
	for ext := range r.loaders {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
