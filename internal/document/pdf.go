package document

import (
	"fmt"
	"os"
	"sync"

	"github.com/ledongthuc/pdf"
)

// PDFSource は PDF からページ単位でプレーンテキストを抽出します。
type PDFSource struct {
	mu     sync.Mutex
	file   *os.File
	reader *pdf.Reader
	total  int
}

// OpenPDF は path の PDF を開きます。呼び出し側で Close してください。
func OpenPDF(path string) (src *PDFSource, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("open pdf %s: %v", path, r)
		}
	}()
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	return &PDFSource{file: f, reader: r, total: r.NumPage()}, nil
}

// TotalPages はページ数を返します。
func (s *PDFSource) TotalPages() int {
	return s.total
}

// ExtractPage は index ページのテキストを返します。壊れたページは ExtractionError になります。
func (s *PDFSource) ExtractPage(index int) (text string, err error) {
	if err := checkIndex(index, s.total); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = &ExtractionError{Page: index, Err: fmt.Errorf("%v", r)}
		}
	}()

	p := s.reader.Page(index + 1)
	if p.V.IsNull() {
		return "", nil
	}
	text, err = p.GetPlainText(nil)
	if err != nil {
		return "", &ExtractionError{Page: index, Err: err}
	}
	return text, nil
}

// Close は PDF ファイルを閉じます。
func (s *PDFSource) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
