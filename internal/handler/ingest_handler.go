// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"manual-smart-go/internal/pipeline"
	"manual-smart-go/internal/repository"
	"manual-smart-go/internal/service"
	"manual-smart-go/pkg/loader"
	"manual-smart-go/pkg/log"
	"manual-smart-go/pkg/storage"

	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// IngestHandler 负责处理所有与手册入库相关的 API 请求。
type IngestHandler struct {
	ingestService service.IngestService
}

// NewIngestHandler 创建一个新的 IngestHandler 实例。
func NewIngestHandler(ingestService service.IngestService) *IngestHandler {
	return &IngestHandler{ingestService: ingestService}
}

// Register 在给定路由组下注册入库相关的路由。
func (h *IngestHandler) Register(rg *gin.RouterGroup) {
	manuals := rg.Group("/manuals")
	{
		manuals.POST("/ingest", h.Ingest)
		manuals.GET("/status", h.GetStatus)
		manuals.GET("", h.ListDocuments)
		manuals.GET("/supported-types", h.GetSupportedFileTypes)
		manuals.GET("/:id/chunks", h.ListChunks)
		manuals.GET("/:id/download", h.GenerateDownloadURL)
	}
}

// IngestRequest 定义了入库 API 的 JSON 请求体结构。
type IngestRequest struct {
	Filename       string `json:"filename" form:"filename"`
	Bucket         string `json:"bucket" form:"bucket"`
	ObjectKey      string `json:"objectKey" form:"objectKey"`
	UploaderID     string `json:"uploaderId" form:"uploaderId"`
	Title          string `json:"title" form:"title"`
	Description    string `json:"description" form:"description"`
	Category       string `json:"category" form:"category"`
	YearRange      string `json:"yearRange" form:"yearRange"`
	TimeoutSeconds int    `json:"timeoutSeconds" form:"timeoutSeconds"`
}

func (r IngestRequest) toPipeline() pipeline.IngestRequest {
	return pipeline.IngestRequest{
		Filename:    r.Filename,
		Bucket:      r.Bucket,
		ObjectKey:   r.ObjectKey,
		UploaderID:  r.UploaderID,
		Title:       r.Title,
		Description: r.Description,
		Category:    r.Category,
		YearRange:   r.YearRange,
		Timeout:     time.Duration(r.TimeoutSeconds) * time.Second,
	}
}

// Ingest 处理入库请求。
// multipart 请求先把 file 字段上传到对象存储；async=true 时仅投递 Kafka 任务并返回 202。
func (h *IngestHandler) Ingest(c *gin.Context) {
	var body IngestRequest
	var req pipeline.IngestRequest

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		if err := c.ShouldBind(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的表单参数"})
			return
		}
		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少 file 字段"})
			return
		}
		file, err := fileHeader.Open()
		if err != nil {
			log.Errorf("[Ingest] 打开上传文件失败: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "读取上传文件失败"})
			return
		}
		defer file.Close()

		uploaded, err := h.ingestService.Upload(c.Request.Context(), fileHeader.Filename, file, fileHeader.Size)
		if err != nil {
			respondError(c, err)
			return
		}
		body.Filename = uploaded.Filename
		req = body.toPipeline()
		req.Bucket = uploaded.Bucket
		req.ObjectKey = uploaded.ObjectKey
	} else {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载"})
			return
		}
		req = body.toPipeline()
	}

	if async, _ := strconv.ParseBool(c.Query("async")); async {
		if err := h.ingestService.Enqueue(c.Request.Context(), req); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"code":    http.StatusAccepted,
			"message": "入库任务已提交",
			"data":    gin.H{"filename": req.Filename},
		})
		return
	}

	res, err := h.ingestService.Ingest(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	message := "入库成功"
	if res.Duplicate {
		message = "内容重复，返回已有文档"
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": message,
		"data":    res,
	})
}

// GetStatus 查询文件名对应文档的处理状态。
func (h *IngestHandler) GetStatus(c *gin.Context) {
	st, err := h.ingestService.GetStatus(c.Query("filename"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "获取处理状态成功",
		"data":    st,
	})
}

// ListDocuments 分页列出已登记的手册。
func (h *IngestHandler) ListDocuments(c *gin.Context) {
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}
	docs, err := h.ingestService.ListDocuments(c.Query("status"), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "获取手册列表成功",
		"data":    docs,
	})
}

// ListChunks 分页列出手册的分块。
func (h *IngestHandler) ListChunks(c *gin.Context) {
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}
	chunks, err := h.ingestService.ListChunks(c.Param("id"), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "获取分块列表成功",
		"data":    chunks,
	})
}

// GenerateDownloadURL 生成手册原始文件的下载链接。
func (h *IngestHandler) GenerateDownloadURL(c *gin.Context) {
	info, err := h.ingestService.GenerateDownloadURL(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "文件下载链接生成成功",
		"data":    info,
	})
}

// GetSupportedFileTypes 返回可入库的文件类型。
func (h *IngestHandler) GetSupportedFileTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "获取支持的文件类型成功",
		"data":    h.ingestService.GetSupportedFileTypes(),
	})
}

func pagination(c *gin.Context) (limit, offset int, ok bool) {
	limit, offset = defaultPageSize, 0
	var err error
	if v := c.Query("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的 limit 参数"})
			return 0, 0, false
		}
	}
	if v := c.Query("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的 offset 参数"})
			return 0, 0, false
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return limit, offset, true
}

// respondError 将业务错误映射为 HTTP 状态码。
func respondError(c *gin.Context, err error) {
	var extractErr *loader.ExtractionError

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, storage.ErrObjectNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pipeline.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, pipeline.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, service.ErrQueueUnavailable):
		status = http.StatusServiceUnavailable
	case errors.As(err, &extractErr):
		status = http.StatusUnprocessableEntity
	}

	if status >= http.StatusInternalServerError {
		log.Errorf("[%s %s] 请求处理失败: %v", c.Request.Method, c.FullPath(), err)
	} else {
		log.Warnf("[%s %s] 请求处理失败: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{
		"code":    status,
		"message": err.Error(),
	})
}
