package loader

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// TextLoader 整个文件作为正文
type TextLoader struct{}

func NewTextLoader() *TextLoader { return &TextLoader{} }

func (l *TextLoader) Load(ctx context.Context, path string) (*Document, error) {
	text, err := readText(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("text loader: %w", err)
	}
	return &Document{Text: text}, nil
}

func (l *TextLoader) SupportedTypes() []string { return []string{".txt"} }

// readText 读取 UTF-8 文本：去掉 BOM，换行统一为 \n。非 UTF-8 内容直接报错，
// 否则乱码会被切块并写入索引。
func readText(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%s is not valid UTF-8", path)
	}
	return normalizeNewlines(string(data)), nil
}

var newlineReplacer = strings.NewReplacer("\r\n", "\n", "\r", "\n")

func normalizeNewlines(s string) string {
	return newlineReplacer.Replace(s)
}
