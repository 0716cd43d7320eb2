package loader

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontMatterDelim = "---"

// MarkdownLoader 读取 Markdown：解析 YAML front matter，标题转为独立段落，
// 去掉代码围栏标记。没有 front matter title 时使用第一个一级标题。
type MarkdownLoader struct{}

// NewMarkdownLoader 创建 Markdown loader
func NewMarkdownLoader() *MarkdownLoader {
	return &MarkdownLoader{}
}

// Load 读取并转换为纯文本
func (l *MarkdownLoader) Load(ctx context.Context, path string) (*Document, error) {
	text, err := readText(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("markdown loader: %w", err)
	}

	body, front, err := splitFrontMatter(text)
	if err != nil {
		return nil, fmt.Errorf("markdown loader: %s: %w", path, err)
	}

	doc := &Document{}
	if front != "" {
		if err := yaml.Unmarshal([]byte(front), &doc.Meta); err != nil {
			return nil, fmt.Errorf("markdown loader: front matter of %s: %w", path, err)
		}
	}

	var (
		out     []string
		inFence bool
		firstH1 string
	)
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if !inFence {
			if heading, level := parseHeading(line); heading != "" {
				if level == 1 && firstH1 == "" {
					firstH1 = heading
				}
				// 标题单独成段，切块时优先在此处断开
				out = append(out, "", heading, "")
				continue
			}
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("markdown loader: reading %s: %w", path, err)
	}

	if doc.Meta.Title == "" {
		doc.Meta.Title = firstH1
	}
	doc.Text = collapseBlankLines(out)
	return doc, nil
}

// SupportedTypes 返回 .md 与 .markdown
func (l *MarkdownLoader) SupportedTypes() []string {
	return []string{".md", ".markdown"}
}

// splitFrontMatter 分离开头的 --- 块。没有 front matter 时 front 为空。
func splitFrontMatter(s string) (body, front string, err error) {
	if !strings.HasPrefix(s, frontMatterDelim+"\n") {
		return s, "", nil
	}
	rest := s[len(frontMatterDelim)+1:]
	end := strings.Index(rest, "\n"+frontMatterDelim)
	if end < 0 {
		return "", "", fmt.Errorf("unterminated front matter")
	}
	front = rest[:end]
	body = strings.TrimPrefix(rest[end+len(frontMatterDelim)+1:], "\n")
	return body, front, nil
}

// parseHeading 识别 ATX 标题（# Heading），返回标题文本与级别
func parseHeading(line string) (heading string, level int) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return "", 0
	}
	for _, ch := range trimmed {
		if ch != '#' {
			break
		}
		level++
	}
	if level > 6 {
		return "", 0
	}
	heading = strings.TrimSpace(strings.TrimRight(trimmed[level:], "#"))
	if heading == "" {
		return "", 0
	}
	return heading, level
}

// collapseBlankLines 合并连续空行并去掉首尾空白
func collapseBlankLines(lines []string) string {
	var b strings.Builder
	pending := false
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			pending = true
			continue
		}
		if pending && b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(line)
		b.WriteString("\n")
		pending = false
	}
	return strings.TrimSpace(b.String())
}
