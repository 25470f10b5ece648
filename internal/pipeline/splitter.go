package pipeline

import (
	"iter"
	"strings"
	"unicode/utf8"

	"manual-smart-go/internal/config"
)

// DefaultSeparators 按优先级从高到低排列，空字符串表示按字符硬切。
var DefaultSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", "; ", ", ", " ", ""}

// Splitter 按分隔符优先级递归切分文本，再贪心合并为带重叠的分块。
// 相同的输入和参数总是得到相同的分块序列。
type Splitter struct {
	ChunkSize      int
	ChunkOverlap   int
	MinChunkLength int
	Separators     []string
}

// NewSplitter 从入库配置构造 Splitter。
func NewSplitter(cfg config.IngestionConfig) Splitter {
	return Splitter{
		ChunkSize:      cfg.ChunkSize,
		ChunkOverlap:   cfg.ChunkOverlap,
		MinChunkLength: cfg.MinChunkLength,
		Separators:     DefaultSeparators,
	}
}

// budget 是分块正文的长度上限，加上重叠前缀后不超过 ChunkSize。
func (s Splitter) budget() int {
	b := s.ChunkSize - max(s.ChunkOverlap, 0)
	if b <= 0 {
		return s.ChunkSize
	}
	return b
}

func (s Splitter) separators() []string {
	if len(s.Separators) == 0 {
		return DefaultSeparators
	}
	return s.Separators
}

// Split 返回一个惰性的分块序列，可重复遍历。
func (s Splitter) Split(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		if s.ChunkSize <= 0 || strings.TrimSpace(text) == "" {
			return
		}
		budget := s.budget()

		var (
			body    strings.Builder
			bodyLen int
			prev    string
		)
		// 重叠前缀总是取自紧邻的上一段正文，即使那一段因过短被丢弃
		emit := func() bool {
			b := body.String()
			body.Reset()
			bodyLen = 0
			before := prev
			prev = b
			if utf8.RuneCountInString(strings.TrimSpace(b)) < s.MinChunkLength {
				return true
			}
			chunk := b
			if before != "" && s.ChunkOverlap > 0 {
				chunk = tail(before, s.ChunkOverlap) + b
			}
			chunk = strings.TrimSpace(chunk)
			if chunk == "" {
				return true
			}
			return yield(chunk)
		}

		cont := s.atoms(text, s.separators(), budget, func(atom string) bool {
			n := utf8.RuneCountInString(atom)
			if bodyLen > 0 && bodyLen+n > budget {
				if !emit() {
					return false
				}
			}
			body.WriteString(atom)
			bodyLen += n
			return true
		})
		if cont && bodyLen > 0 {
			emit()
		}
	}
}

// Chunks 是 Split 的切片形式。
func (s Splitter) Chunks(text string) []string {
	var out []string
	for c := range s.Split(text) {
		out = append(out, c)
	}
	return out
}

// atoms 把 text 切成不超过 budget 个字符的片段，分隔符保留在左侧片段末尾，不丢失任何文本。
func (s Splitter) atoms(text string, seps []string, budget int, yield func(string) bool) bool {
	if utf8.RuneCountInString(text) <= budget {
		return yield(text)
	}

	i := 0
	for i < len(seps) && seps[i] != "" && !strings.Contains(text, seps[i]) {
		i++
	}
	if i == len(seps) || seps[i] == "" {
		return hardSplit(text, budget, yield)
	}

	for _, piece := range strings.SplitAfter(text, seps[i]) {
		if piece == "" {
			continue
		}
		if !s.atoms(piece, seps[i+1:], budget, yield) {
			return false
		}
	}
	return true
}

func hardSplit(text string, budget int, yield func(string) bool) bool {
	runes := []rune(text)
	for start := 0; start < len(runes); start += budget {
		end := min(start+budget, len(runes))
		if !yield(string(runes[start:end])) {
			return false
		}
	}
	return true
}

// tail 返回 s 末尾的 n 个字符。
func tail(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[len(runes)-n:])
}
