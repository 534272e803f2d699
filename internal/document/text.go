package document

import (
	"strings"
)

// DefaultLinesPerPage はフォームフィードの無いテキストを分割する既定の行数です。
const DefaultLinesPerPage = 50

// TextSource はメモリ上のページ列です。
type TextSource struct {
	pages []string
}

// NewTextSource は pages をそのままページ列とする TextSource を作成します。
func NewTextSource(pages []string) *TextSource {
	copied := make([]string, len(pages))
	copy(copied, pages)
	return &TextSource{pages: copied}
}

// ParseText はプレーンテキストをページに分割します。
// フォームフィード(\f)を含む場合はそれを区切りとし、含まない場合は linesPerPage 行ごとに区切ります。
func ParseText(data []byte, linesPerPage int) *TextSource {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return &TextSource{}
	}

	if strings.Contains(text, "\f") {
		pages := strings.Split(text, "\f")
		if strings.TrimSpace(pages[len(pages)-1]) == "" {
			pages = pages[:len(pages)-1]
		}
		return &TextSource{pages: pages}
	}

	if linesPerPage <= 0 {
		linesPerPage = DefaultLinesPerPage
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	pages := make([]string, 0, len(lines)/linesPerPage+1)
	for start := 0; start < len(lines); start += linesPerPage {
		end := start + linesPerPage
		if end > len(lines) {
			end = len(lines)
		}
		pages = append(pages, strings.Join(lines[start:end], "\n"))
	}
	return &TextSource{pages: pages}
}

// TotalPages はページ数を返します。
func (s *TextSource) TotalPages() int {
	return len(s.pages)
}

// ExtractPage は index ページのテキストを返します。
func (s *TextSource) ExtractPage(index int) (string, error) {
	if err := checkIndex(index, len(s.pages)); err != nil {
		return "", err
	}
	return s.pages[index], nil
}
