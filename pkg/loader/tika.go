package loader

import (
	"context"
	"errors"
	"io"

	"manual-smart-go/pkg/tika"
)

// TikaLoader 通过 Tika 服务提取文本，适用于 PDF 以外的格式以及扫描件兜底。
type TikaLoader struct {
	client *tika.Client
}

// NewTikaLoader 创建 TikaLoader。
func NewTikaLoader(client *tika.Client) *TikaLoader {
	return &TikaLoader{client: client}
}

// Load 实现 Loader 接口。
func (l *TikaLoader) Load(ctx context.Context, src Source) (*Result, error) {
	if !l.client.Enabled() {
		return nil, extractionError(src.Filename, errors.New("未配置 Tika 服务"))
	}
	pages, err := l.client.ExtractPages(ctx, io.NewSectionReader(src.Data, 0, src.Size), src.Filename)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, extractionError(src.Filename, err)
	}
	res, err := collect(pages)
	if err != nil {
		return nil, extractionError(src.Filename, err)
	}
	return res, nil
}
