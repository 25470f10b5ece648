// Package loader 从二进制文档中逐页提取文本。
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNoPages 表示文档中没有任何可提取文本的页面。
var ErrNoPages = errors.New("no extractable pages")

// ExtractionError 表示文档无法解析或没有可提取的文本，属于文档级致命错误。
type ExtractionError struct {
	Filename string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("文本提取失败 (%s): %v", e.Filename, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Source 描述一个待解析的文档。
type Source struct {
	Filename string
	Data     io.ReaderAt
	Size     int64
}

// Page 是一页提取后的文本，Number 从 1 开始。
type Page struct {
	Number int
	Text   string
}

// Result 中的 Pages 只包含非空页面，PageCount 为文档的总页数。
type Result struct {
	Pages     []Page
	PageCount int
}

// Loader 是文档解析器的统一接口。
type Loader interface {
	Load(ctx context.Context, src Source) (*Result, error)
}

func extractionError(filename string, err error) error {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return err
	}
	return &ExtractionError{Filename: filename, Err: err}
}

// collect 对逐页文本做清洗并组装 Result，没有非空页面时返回 ErrNoPages。
func collect(texts []string) (*Result, error) {
	res := &Result{PageCount: len(texts)}
	for i, t := range texts {
		t = SanitizeText(t)
		if t == "" {
			continue
		}
		res.Pages = append(res.Pages, Page{Number: i + 1, Text: t})
	}
	if len(res.Pages) == 0 {
		return nil, ErrNoPages
	}
	return res, nil
}

// SanitizeText 去除 NUL 及除换行、回车、制表符以外的控制字符。
func SanitizeText(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		if ch == '\n' || ch == '\r' || ch == '\t' {
			b.WriteRune(ch)
			continue
		}
		if ch < 0x20 || ch == 0x7f || ch == '�' {
			continue
		}
		b.WriteRune(ch)
	}
	return strings.TrimSpace(b.String())
}
