package loader

import (
	"context"
	"fmt"

	"manual-smart-go/pkg/log"

	"github.com/ledongthuc/pdf"
)

// PDFLoader 使用 ledongthuc/pdf 逐页提取 PDF 文本。
type PDFLoader struct{}

// NewPDFLoader 创建 PDFLoader。
func NewPDFLoader() *PDFLoader {
	return &PDFLoader{}
}

// Load 实现 Loader 接口。每次只解析一页，页面之间检查 ctx 是否已取消。
func (l *PDFLoader) Load(ctx context.Context, src Source) (res *Result, err error) {
	// 损坏的内容流会让底层库 panic
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, extractionError(src.Filename, fmt.Errorf("解析 PDF 时发生 panic: %v", r))
		}
	}()

	reader, err := pdf.NewReader(src.Data, src.Size)
	if err != nil {
		return nil, extractionError(src.Filename, fmt.Errorf("打开 PDF 失败: %w", err))
	}

	n := reader.NumPage()
	texts := make([]string, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, perr := page.GetPlainText(nil)
		if perr != nil {
			log.Warnf("[PDFLoader] 第 %d 页文本提取失败, 跳过, file: %s, error: %v", i, src.Filename, perr)
			continue
		}
		texts[i-1] = text
	}

	res, err = collect(texts)
	if err != nil {
		return nil, extractionError(src.Filename, err)
	}
	log.Infof("[PDFLoader] PDF 解析完成, file: %s, 总页数: %d, 有效页数: %d", src.Filename, res.PageCount, len(res.Pages))
	return res, nil
}
