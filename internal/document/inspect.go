package document

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

// Info はアップロードされたファイルの基本メタデータです。
type Info struct {
	Kind       Kind   `json:"kind"`
	MIME       string `json:"mime"`
	Extension  string `json:"extension"`
	TotalPages int    `json:"totalPages"`
}

// Detect は拡張子と内容からファイル種別を判定します。
// 対応するのは PDF, EPUB, プレーンテキストで、それ以外は ErrUnsupported になります。
func Detect(name string, data []byte) (Kind, string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	mtype := mimetype.Detect(data)

	switch {
	case mtype.Is("application/pdf"):
		if ext != ".pdf" {
			return "", mtype.String(), fmt.Errorf("%w: pdf content with %q extension", ErrUnsupported, ext)
		}
		return KindPDF, mtype.String(), nil
	case ext == ".epub" && hasAncestor(mtype, "application/zip"):
		// mimetype エントリが先頭に無い EPUB も zip として受け付け、構造は Inspect で検証する
		return KindEPUB, mtype.String(), nil
	case ext == ".txt" && hasAncestor(mtype, "text/plain"):
		return KindText, mtype.String(), nil
	default:
		return "", mtype.String(), fmt.Errorf("%w: %s (%s)", ErrUnsupported, ext, mtype.String())
	}
}

func hasAncestor(mtype *mimetype.MIME, want string) bool {
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is(want) {
			return true
		}
	}
	return false
}

// Inspect は保存済みファイルを検査してページ数を返します。
// PDF は pdfcpu でページ数を検証します。
func Inspect(path string, kind Kind, data []byte, linesPerPage int) (*Info, error) {
	info := &Info{Kind: kind, Extension: strings.ToLower(filepath.Ext(path))}
	switch kind {
	case KindPDF:
		info.MIME = "application/pdf"
		pages, err := pdfapi.PageCountFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid pdf: %v", ErrUnsupported, err)
		}
		info.TotalPages = pages
	case KindEPUB:
		info.MIME = "application/epub+zip"
		src, err := ParseEPUB(data)
		if err != nil {
			return nil, err
		}
		info.TotalPages = src.TotalPages()
	case KindText:
		info.MIME = "text/plain"
		info.TotalPages = ParseText(data, linesPerPage).TotalPages()
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, kind)
	}
	return info, nil
}

// Open は kind に応じた PageSource を開きます。close は常に非 nil です。
func Open(path string, kind Kind, data []byte, linesPerPage int) (PageSource, func() error, error) {
	switch kind {
	case KindPDF:
		src, err := OpenPDF(path)
		if err != nil {
			return nil, func() error { return nil }, err
		}
		return src, src.Close, nil
	case KindEPUB:
		src, err := OpenEPUB(path)
		if err != nil {
			return nil, func() error { return nil }, err
		}
		return src, src.Close, nil
	case KindText:
		return ParseText(data, linesPerPage), func() error { return nil }, nil
	default:
		return nil, func() error { return nil }, fmt.Errorf("%w: %s", ErrUnsupported, kind)
	}
}
