// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"manual-smart-go/internal/config"
	"manual-smart-go/internal/model"
	"manual-smart-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Indexer 把手册分块写入 Elasticsearch，供检索子系统使用。
type Indexer struct {
	client    *elasticsearch.Client
	indexName string
	dims      int
}

// NewIndexer 初始化 Elasticsearch 客户端，并在索引不存在时创建它。
// dims 为向量维度，0 表示由 Elasticsearch 根据首个文档推断。
func NewIndexer(esCfg config.ElasticsearchConfig, dims int) (*Indexer, error) {
	cfg := elasticsearch.Config{
		Addresses: splitAddresses(esCfg.Addresses),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	idx := &Indexer{client: client, indexName: esCfg.IndexName, dims: dims}
	if err := idx.createIndexIfNotExists(context.Background()); err != nil {
		return nil, err
	}
	return idx, nil
}

func splitAddresses(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// mapping 返回分块索引的映射定义。
func (i *Indexer) mapping() string {
	vector := `{ "type": "dense_vector", "index": true, "similarity": "cosine" }`
	if i.dims > 0 {
		vector = fmt.Sprintf(`{ "type": "dense_vector", "dims": %d, "index": true, "similarity": "cosine" }`, i.dims)
	}
	return fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"chunk_id": { "type": "keyword" },
				"document_id": { "type": "keyword" },
				"chunk_index": { "type": "integer" },
				"content": { "type": "text" },
				"content_type": { "type": "keyword" },
				"page_number": { "type": "integer" },
				"section_title": { "type": "text" },
				"vector": %s,
				"model_version": { "type": "keyword" },
				"model_codes": { "type": "keyword" },
				"year_range": { "type": "keyword" },
				"category": { "type": "keyword" },
				"title": { "type": "text" }
			}
		}
	}`, vector)
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func (i *Indexer) createIndexIfNotExists(ctx context.Context) error {
	res, err := i.client.Indices.Exists([]string{i.indexName}, i.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", i.indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = i.client.Indices.Create(
		i.indexName,
		i.client.Indices.Create.WithBody(strings.NewReader(i.mapping())),
		i.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", i.indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", i.indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", i.indexName)
	return nil
}

// DeleteByDocument 删除某个手册在索引中的全部分块。
func (i *Indexer) DeleteByDocument(ctx context.Context, documentID string) error {
	query := fmt.Sprintf(`{"query":{"term":{"document_id":%q}}}`, documentID)
	refresh := true
	req := esapi.DeleteByQueryRequest{
		Index:     []string{i.indexName},
		Body:      strings.NewReader(query),
		Refresh:   &refresh,
		Conflicts: "proceed",
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("按文档删除索引失败: %s", res.String())
	}
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  struct {
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// BulkIndex 以 chunk_id 为文档 ID 批量写入分块。
func (i *Indexer) BulkIndex(ctx context.Context, chunks []model.EsChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	var body bytes.Buffer
	for _, c := range chunks {
		meta := map[string]map[string]string{"index": {"_index": i.indexName, "_id": c.ChunkID}}
		if err := json.NewEncoder(&body).Encode(meta); err != nil {
			return err
		}
		if err := json.NewEncoder(&body).Encode(c); err != nil {
			return err
		}
	}

	req := esapi.BulkRequest{Body: &body, Refresh: "true"}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("批量索引失败: %s", res.String())
	}

	var br bulkResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 32<<20)).Decode(&br); err != nil {
		return fmt.Errorf("解析批量索引响应失败: %w", err)
	}
	if !br.Errors {
		log.Infof("[ES] 批量索引成功, 分块数: %d", len(chunks))
		return nil
	}
	failed, reason := 0, ""
	for _, item := range br.Items {
		for _, r := range item {
			if r.Status >= 300 {
				failed++
				if reason == "" {
					reason = r.Error.Reason
				}
			}
		}
	}
	return fmt.Errorf("批量索引部分失败: %d/%d, 首个原因: %s", failed, len(chunks), reason)
}
