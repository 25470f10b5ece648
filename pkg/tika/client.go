// Package tika 提供了一个与 Apache Tika 服务器交互的客户端。
package tika

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"manual-smart-go/internal/config"

	"github.com/PuerkitoBio/goquery"
)

// Client 是 Tika 服务器的客户端。
type Client struct {
	serverURL  string
	httpClient *http.Client
}

// NewClient 创建一个新的 Tika 客户端实例。
func NewClient(cfg config.TikaConfig) *Client {
	return &Client{
		serverURL:  strings.TrimRight(cfg.ServerURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// Enabled 表示是否配置了 Tika 服务地址。
func (c *Client) Enabled() bool {
	return c != nil && c.serverURL != ""
}

// ExtractText 自动根据文件后缀推断 MIME 类型，并调用 Tika 提取纯文本。
func (c *Client) ExtractText(ctx context.Context, fileReader io.Reader, fileName string) (string, error) {
	body, err := c.extract(ctx, fileReader, fileName, "text/plain")
	if err != nil {
		return "", err
	}
	defer body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, body); err != nil {
		return "", fmt.Errorf("读取 Tika 响应失败: %w", err)
	}
	return buf.String(), nil
}

// ExtractPages 以 XHTML 形式调用 Tika，按 <div class="page"> 切分为逐页文本。
// Word、HTML 等没有分页信息的格式整份视为一页。
func (c *Client) ExtractPages(ctx context.Context, fileReader io.Reader, fileName string) ([]string, error) {
	body, err := c.extract(ctx, fileReader, fileName, "text/html")
	if err != nil {
		return nil, err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("读取 Tika 响应失败: %w", err)
	}
	// 自闭合的 <title/> 按 HTML 规则解析会吞掉其后的全部内容
	raw = bytes.ReplaceAll(raw, []byte("<title/>"), []byte("<title></title>"))
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("解析 Tika XHTML 失败: %w", err)
	}

	pages := doc.Find("div.page")
	if pages.Length() == 0 {
		return []string{pageText(doc.Find("body"))}, nil
	}
	out := make([]string, 0, pages.Length())
	pages.Each(func(_ int, s *goquery.Selection) {
		out = append(out, pageText(s))
	})
	return out, nil
}

func (c *Client) extract(ctx context.Context, fileReader io.Reader, fileName, accept string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.serverURL+"/tika", fileReader)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Content-Type", detectMimeType(fileName))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用 Tika 失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("Tika 返回错误 [%d]: %s", resp.StatusCode, string(body))
	}
	return resp.Body, nil
}

const blockSelector = "p,h1,h2,h3,h4,h5,h6,li,pre,td,th"

// pageText 逐段取出文本并以换行连接；不含段落元素时退回整体文本。
func pageText(s *goquery.Selection) string {
	var parts []string
	s.Find(blockSelector).Each(func(_ int, b *goquery.Selection) {
		if b.ParentsUntilSelection(s).Filter(blockSelector).Length() > 0 {
			return
		}
		if t := strings.TrimSpace(b.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		return strings.TrimSpace(s.Text())
	}
	return strings.Join(parts, "\n")
}

// detectMimeType 根据文件扩展名判断 Content-Type
func detectMimeType(fileName string) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		return "application/octet-stream"
	}
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		return "application/octet-stream"
	}
	return mimeType
}
