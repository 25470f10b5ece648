// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"fmt"
	"strings"
)

// ProcessingStatus 是文档入库状态机的取值。
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// CanTransitionTo 判断状态迁移是否合法。
// completed -> processing 表示同名文档的重新处理。
func (s ProcessingStatus) CanTransitionTo(next ProcessingStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	case StatusFailed, StatusCompleted:
		return next == StatusProcessing
	}
	return false
}

// Terminal 表示本轮处理已结束。
func (s ProcessingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid 判断是否为已知状态。
func (s ProcessingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Category 是手册的分类。
type Category string

const (
	CategoryOperator     Category = "operator"
	CategoryService      Category = "service"
	CategoryParts        Category = "parts"
	CategoryWorkshop     Category = "workshop"
	CategoryTechnical    Category = "technical"
	CategoryMaintenance  Category = "maintenance"
	CategoryElectrical   Category = "electrical"
	CategoryHydraulic    Category = "hydraulic"
	CategoryEngine       Category = "engine"
	CategoryTransmission Category = "transmission"
	CategoryDrivetrain   Category = "drivetrain"
	CategoryGeneral      Category = "general"
)

// Categories 按声明顺序列出全部分类。
var Categories = []Category{
	CategoryOperator, CategoryService, CategoryParts, CategoryWorkshop,
	CategoryTechnical, CategoryMaintenance, CategoryElectrical, CategoryHydraulic,
	CategoryEngine, CategoryTransmission, CategoryDrivetrain, CategoryGeneral,
}

// Valid 判断分类是否属于已知枚举。
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory 解析调用方传入的分类覆盖值（大小写不敏感）。
func ParseCategory(raw string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	if !c.Valid() {
		return "", fmt.Errorf("未知的手册分类: %q", raw)
	}
	return c, nil
}

// ContentType 是分块内容的类型。
type ContentType string

const (
	ContentText           ContentType = "text"
	ContentTable          ContentType = "table"
	ContentProcedure      ContentType = "procedure"
	ContentDiagramCaption ContentType = "diagram_caption"
)
