// Package loader 把待入库的文件读成纯文本正文与可选元数据。
//
// 内置格式：
//   - 纯文本 (.txt)
//   - Markdown (.md, .markdown)，支持 YAML front matter
//
// 按扩展名路由：
//
//	registry := loader.NewRegistry()
//	doc, err := registry.Load(ctx, "/data/fojr-2023.md")
//
// front matter 中的 id、title、publisher、year、url 用作文档元数据的默认值。
package loader
