package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// TextLoader 读取纯文本或 Markdown 文件，换页符作为分页标记。
type TextLoader struct{}

// Load 实现 Loader 接口。
func (TextLoader) Load(_ context.Context, src Source) (*Result, error) {
	data, err := io.ReadAll(io.NewSectionReader(src.Data, 0, src.Size))
	if err != nil {
		return nil, extractionError(src.Filename, fmt.Errorf("读取文本失败: %w", err))
	}
	if !utf8.Valid(data) {
		return nil, extractionError(src.Filename, errors.New("文件不是有效的 UTF-8 文本"))
	}
	res, err := collect(strings.Split(string(data), "\f"))
	if err != nil {
		return nil, extractionError(src.Filename, err)
	}
	return res, nil
}
