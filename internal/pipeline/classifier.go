package pipeline

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"manual-smart-go/internal/model"
)

// Classifier 判断分块的内容类型并识别页面的章节标题，检测规则可替换。
type Classifier interface {
	ContentType(chunk string) model.ContentType
	SectionTitle(pageText string) *string
}

// ContentRule 是一条内容类型规则，Match 返回 true 时规则生效。
type ContentRule struct {
	Type  model.ContentType
	Match func(lines []string) bool
}

const maxSectionTitleLen = 255

var (
	columnRow   = regexp.MustCompile(`\S(?: {2,}|\t+)\S+(?: {2,}|\t+)\S`)
	stepLine    = regexp.MustCompile(`^(?:\d{1,2}[.)]|[a-z][.)]|\([a-z0-9]\)|(?i:step)\s*\d+[:.)]?)\s+\S`)
	captionLine = regexp.MustCompile(`^(?i:fig\.|figure|diagram|illustration|abb\.|bild)\s*\d+`)

	multiLevelHeading = regexp.MustCompile(`^\d+(?:\.\d+)+\.?\s+\S`)
	numberedCapsHead  = regexp.MustCompile(`^\d+\.?\s+[A-Z][A-Z0-9 ,/&()-]{2,}$`)
)

// DefaultContentRules 依次检测表格、操作步骤与插图说明，均不命中时为普通文本。
var DefaultContentRules = []ContentRule{
	{Type: model.ContentTable, Match: looksLikeTable},
	{Type: model.ContentProcedure, Match: looksLikeProcedure},
	{Type: model.ContentDiagramCaption, Match: hasCaption},
}

// RuleClassifier 是基于正则规则的默认实现。
type RuleClassifier struct {
	Rules []ContentRule
}

// NewRuleClassifier 创建使用默认规则的分类器。
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{Rules: DefaultContentRules}
}

// ContentType 返回第一条命中规则的类型。
func (c *RuleClassifier) ContentType(chunk string) model.ContentType {
	lines := nonEmptyLines(chunk)
	for _, r := range c.Rules {
		if r.Match(lines) {
			return r.Type
		}
	}
	return model.ContentText
}

// SectionTitle 返回页面中第一行编号标题或全大写标题，找不到时返回 nil。
func (c *RuleClassifier) SectionTitle(pageText string) *string {
	for _, line := range nonEmptyLines(pageText) {
		if isHeading(line) {
			title := line
			if utf8.RuneCountInString(title) > maxSectionTitleLen {
				title = string([]rune(title)[:maxSectionTitleLen])
			}
			return &title
		}
	}
	return nil
}

func nonEmptyLines(text string) []string {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func looksLikeTable(lines []string) bool {
	pipes, columns := 0, 0
	for _, l := range lines {
		if strings.Count(l, "|") >= 2 {
			pipes++
		}
		if columnRow.MatchString(l) {
			columns++
		}
	}
	return pipes >= 2 || columns >= 3
}

func looksLikeProcedure(lines []string) bool {
	steps := 0
	for _, l := range lines {
		if stepLine.MatchString(l) {
			steps++
		}
	}
	return steps >= 2
}

func hasCaption(lines []string) bool {
	for _, l := range lines {
		if captionLine.MatchString(l) {
			return true
		}
	}
	return false
}

func isHeading(line string) bool {
	if utf8.RuneCountInString(line) > 120 {
		return false
	}
	if multiLevelHeading.MatchString(line) || numberedCapsHead.MatchString(line) {
		return true
	}
	return isAllCaps(line)
}

// isAllCaps 要求至少 4 个字母且全部为大写，并且不以句号结尾。
func isAllCaps(line string) bool {
	if strings.HasSuffix(line, ".") {
		return false
	}
	letters := 0
	for _, r := range line {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	return letters >= 4
}
