// Package metadata 从文件名和首页文本中推断手册的结构化标签。
package metadata

import (
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"manual-smart-go/internal/model"
)

const (
	minYear = 1950
	maxYear = 2030
)

// Result 是一次元数据提取的结果。
// Incomplete 为 true 表示未识别出型号或年份，调用方按默认值继续。
type Result struct {
	ModelCodes []string
	YearRange  *string
	Category   model.Category
	Incomplete bool
}

// ModelCodeRule 描述一类型号的匹配方式。Accept 为 nil 时接受所有匹配；
// Canonical 为 nil 时原样保留匹配文本。
type ModelCodeRule struct {
	Name      string
	Pattern   *regexp.Regexp
	Accept    func(match string) bool
	Canonical func(match string) string
}

// CategoryRule 是一条 (关键词集合 -> 分类) 规则，任一关键词命中即生效。
type CategoryRule struct {
	Category model.Category
	Keywords []string
}

// LegacySeries 是已知的三位数老款 Unimog 系列号。
var LegacySeries = []string{
	"401", "402", "403", "404", "406", "411", "413", "416", "417",
	"418", "419", "421", "424", "425", "426", "427", "431", "435", "437",
}

// DefaultModelCodeRules 按优先级排列。
var DefaultModelCodeRules = []ModelCodeRule{
	{
		Name:    "u-series",
		Pattern: regexp.MustCompile(`U\d{2,4}[A-Z]?`),
	},
	{
		Name:      "flu-419",
		Pattern:   regexp.MustCompile(`FLU[ -]?419`),
		Canonical: func(string) string { return "FLU 419" },
	},
	{
		Name:    "legacy",
		Pattern: regexp.MustCompile(`\d{3}`),
		Accept:  func(m string) bool { return slices.Contains(LegacySeries, m) },
	},
	{
		Name:      "mb-trac",
		Pattern:   regexp.MustCompile(`MB[ -]?[Tt]rac(?:[ -]?\d{3,4})?`),
		Canonical: canonicalMBTrac,
	},
	{
		Name:      "see",
		Pattern:   regexp.MustCompile(`Unimog[ -]SEE`),
		Canonical: func(string) string { return "SEE" },
	},
	{
		Name:    "zetros",
		Pattern: regexp.MustCompile(`Zetros`),
	},
}

// DefaultCategoryRules 的顺序即冲突时的优先级，第一条命中的规则胜出。
var DefaultCategoryRules = []CategoryRule{
	{model.CategoryOperator, []string{"operator", "owner's manual", "owners manual", "operating instructions", "betriebsanleitung"}},
	{model.CategoryService, []string{"service"}},
	{model.CategoryParts, []string{"parts", "spare part", "ersatzteil"}},
	{model.CategoryWorkshop, []string{"workshop", "werkstatt", "repair manual"}},
	{model.CategoryTechnical, []string{"technical", "specification", "data sheet"}},
	{model.CategoryMaintenance, []string{"maintenance", "lubrication", "wartung"}},
	{model.CategoryElectrical, []string{"electrical", "wiring"}},
	{model.CategoryHydraulic, []string{"hydraulic"}},
	{model.CategoryEngine, []string{"engine", "motor"}},
	{model.CategoryTransmission, []string{"transmission", "gearbox", "getriebe"}},
	{model.CategoryDrivetrain, []string{"drivetrain", "axle", "portal", "driveline"}},
}

var digitRun = regexp.MustCompile(`\d+`)

// Extractor 执行元数据提取，本身无状态，可并发使用。
type Extractor struct {
	modelRules    []ModelCodeRule
	categoryRules []CategoryRule
}

// Option 用于定制 Extractor。
type Option func(*Extractor)

// WithModelCodeRules 替换型号规则。
func WithModelCodeRules(rules []ModelCodeRule) Option {
	return func(e *Extractor) { e.modelRules = rules }
}

// WithCategoryRules 替换分类规则。
func WithCategoryRules(rules []CategoryRule) Option {
	return func(e *Extractor) { e.categoryRules = rules }
}

// NewExtractor 创建使用默认规则的 Extractor。
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		modelRules:    DefaultModelCodeRules,
		categoryRules: DefaultCategoryRules,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract 从文件名与样本文本中提取型号、年份范围与分类，从不返回错误。
func (e *Extractor) Extract(filename, sample string) Result {
	text := filename + "\n" + sample

	res := Result{
		ModelCodes: e.modelCodes(text),
		YearRange:  yearRange(text),
		Category:   e.category(text),
	}
	res.Incomplete = len(res.ModelCodes) == 0 || res.YearRange == nil
	return res
}

func (e *Extractor) modelCodes(text string) []string {
	seen := make(map[string]struct{})
	codes := []string{}
	// 已被高优先级规则占用的区间，低优先级规则不再匹配其中的文本
	var taken [][]int
	for _, rule := range e.modelRules {
		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			if !isBoundary(text, loc[0], loc[1]) || overlaps(taken, loc) {
				continue
			}
			m := text[loc[0]:loc[1]]
			if rule.Accept != nil && !rule.Accept(m) {
				continue
			}
			taken = append(taken, loc)
			if rule.Canonical != nil {
				m = rule.Canonical(m)
			}
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			codes = append(codes, m)
		}
	}
	slices.Sort(codes)
	return codes
}

func overlaps(spans [][]int, loc []int) bool {
	for _, s := range spans {
		if loc[0] < s[1] && s[0] < loc[1] {
			return true
		}
	}
	return false
}

func (e *Extractor) category(text string) model.Category {
	lower := strings.ToLower(normalizeSeparators(text))
	for _, rule := range e.categoryRules {
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, kw) {
				return rule.Category
			}
		}
	}
	return model.CategoryGeneral
}

func yearRange(text string) *string {
	lo, hi := 0, 0
	for _, loc := range digitRun.FindAllStringIndex(text, -1) {
		if loc[1]-loc[0] != 4 {
			continue
		}
		// "U1980" 之类的型号不是年份
		if loc[0] > 0 && isAlnum(text[loc[0]-1]) {
			continue
		}
		if loc[1] < len(text) && unicode.IsLetter(rune(text[loc[1]])) {
			continue
		}
		y, err := strconv.Atoi(text[loc[0]:loc[1]])
		if err != nil || y < minYear || y > maxYear {
			continue
		}
		if lo == 0 || y < lo {
			lo = y
		}
		if y > hi {
			hi = y
		}
	}
	if lo == 0 {
		return nil
	}
	s := strconv.Itoa(lo)
	if hi != lo {
		s += "-" + strconv.Itoa(hi)
	}
	return &s
}

// isBoundary 要求匹配两侧不是字母或数字；'_'、'-'、'.'、'/' 等均视为分隔符。
func isBoundary(text string, start, end int) bool {
	if start > 0 && isAlnum(text[start-1]) {
		return false
	}
	if end < len(text) && isAlnum(text[end]) {
		return false
	}
	return true
}

func isAlnum(b byte) bool {
	return b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

func canonicalMBTrac(m string) string {
	digits := strings.TrimLeftFunc(m[len("MB"):], func(r rune) bool { return !unicode.IsDigit(r) })
	if digits == "" {
		return "MB-trac"
	}
	return "MB-trac " + digits
}

func normalizeSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '_' || r == '-' || r == '.' {
			return ' '
		}
		return r
	}, s)
}

// TitleFromFilename 去掉扩展名，并把 '_'、'-'、'.' 替换为空格。
func TitleFromFilename(filename string) string {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.Join(strings.Fields(normalizeSeparators(base)), " ")
}
