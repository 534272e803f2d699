// Package document はアップロードされたファイルをページ単位のテキスト列として扱います。
package document

import (
	"errors"
	"fmt"
)

// Kind はページソースの種類です。
type Kind string

const (
	KindPDF  Kind = "pdf"
	KindEPUB Kind = "epub"
	KindText Kind = "text"
)

// PageSource は順序付きのページテキストを提供します。index は0始まりです。
type PageSource interface {
	TotalPages() int
	ExtractPage(index int) (string, error)
}

var (
	// ErrUnsupported はサポート外のファイル形式を表します。
	ErrUnsupported = errors.New("unsupported document type")
	// ErrPageExtraction はページからテキストを取り出せなかったことを表します。
	ErrPageExtraction = errors.New("page extraction failed")
)

// ExtractionError は特定ページの抽出失敗です。
type ExtractionError struct {
	Page int
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract page %d: %v", e.Page+1, e.Err)
}

func (e *ExtractionError) Is(target error) bool {
	return target == ErrPageExtraction
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

func checkIndex(index, total int) error {
	if index < 0 || index >= total {
		return &ExtractionError{Page: index, Err: fmt.Errorf("page index out of range [0,%d)", total)}
	}
	return nil
}
