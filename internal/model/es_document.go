package model

// EsChunk 定义了存储在 Elasticsearch 中的分块文档结构，供检索子系统读取。
type EsChunk struct {
	ChunkID      string    `json:"chunk_id"` // 与 document_chunks.id 一致
	DocumentID   string    `json:"document_id"`
	ChunkIndex   int       `json:"chunk_index"`
	Content      string    `json:"content"`
	ContentType  string    `json:"content_type"`
	PageNumber   int       `json:"page_number"`
	SectionTitle string    `json:"section_title,omitempty"`
	Vector       []float32 `json:"vector,omitempty"` // 向量化失败的分块不带 vector 字段
	ModelVersion string    `json:"model_version"`
	ModelCodes   []string  `json:"model_codes"`
	YearRange    string    `json:"year_range,omitempty"`
	Category     string    `json:"category"`
	Title        string    `json:"title"`
}

// NewEsChunk 将持久化后的分块与所属文档投影为索引文档。
func NewEsChunk(doc *SourceDocument, c *Chunk, modelVersion string) EsChunk {
	es := EsChunk{
		ChunkID:      c.ID,
		DocumentID:   c.DocumentID,
		ChunkIndex:   c.ChunkIndex,
		Content:      c.Content,
		ContentType:  string(c.ContentType),
		PageNumber:   c.PageNumber,
		Vector:       c.Embedding,
		ModelVersion: modelVersion,
		ModelCodes:   []string(c.ModelCodes),
		Category:     string(doc.Category),
		Title:        doc.Title,
	}
	if c.SectionTitle != nil {
		es.SectionTitle = *c.SectionTitle
	}
	if c.YearRange != nil {
		es.YearRange = *c.YearRange
	}
	if es.ModelCodes == nil {
		es.ModelCodes = []string{}
	}
	return es
}
