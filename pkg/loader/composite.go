package loader

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"

	"manual-smart-go/pkg/log"
)

var pdfMagic = []byte("%PDF-")

// Composite 根据文件头与扩展名选择具体的 Loader。
// PDF 未提取到任何文本（例如扫描件）且配置了 Tika 时，改用 Tika 重试。
type Composite struct {
	PDF  Loader
	Text Loader
	Tika Loader // 可为 nil
}

// NewComposite 创建默认组合；tika 为 nil 时不启用兜底。
func NewComposite(tika Loader) *Composite {
	return &Composite{PDF: NewPDFLoader(), Text: TextLoader{}, Tika: tika}
}

// Load 实现 Loader 接口。
func (c *Composite) Load(ctx context.Context, src Source) (*Result, error) {
	switch {
	case isPDF(src):
		res, err := c.PDF.Load(ctx, src)
		if err == nil || c.Tika == nil || !errors.Is(err, ErrNoPages) {
			return res, err
		}
		log.Warnf("[Loader] PDF 中未提取到文本, 尝试使用 Tika 兜底, file: %s", src.Filename)
		return c.Tika.Load(ctx, src)
	case isText(src.Filename):
		return c.Text.Load(ctx, src)
	case c.Tika != nil:
		return c.Tika.Load(ctx, src)
	default:
		return nil, extractionError(src.Filename, errors.New("不支持的文件类型"))
	}
}

func isPDF(src Source) bool {
	head := make([]byte, 1024)
	n, _ := src.Data.ReadAt(head, 0)
	if bytes.Contains(head[:n], pdfMagic) {
		return true
	}
	return strings.EqualFold(filepath.Ext(src.Filename), ".pdf")
}

func isText(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md", ".markdown":
		return true
	}
	return false
}
