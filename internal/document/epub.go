package document

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const epubContainerPath = "META-INF/container.xml"

// maxEPUBEntrySize は1つの XHTML 文書として読み込む上限です。
const maxEPUBEntrySize = 32 << 20

// EPUBSource は EPUB の spine に並んだ文書を1つずつページとして扱います。
type EPUBSource struct {
	mu     sync.Mutex
	closer io.Closer
	files  map[string]*zip.File
	pages  []string // spine 順の文書パス
}

// OpenEPUB は filename の EPUB を開きます。呼び出し側で Close してください。
func OpenEPUB(filename string) (*EPUBSource, error) {
	rc, err := zip.OpenReader(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid epub: %v", ErrUnsupported, err)
	}
	src, err := newEPUBSource(&rc.Reader)
	if err != nil {
		rc.Close()
		return nil, err
	}
	src.closer = rc
	return src, nil
}

// ParseEPUB はメモリ上の EPUB を読み込みます。
func ParseEPUB(data []byte) (*EPUBSource, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid epub: %v", ErrUnsupported, err)
	}
	return newEPUBSource(zr)
}

type epubContainer struct {
	Rootfiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

type epubPackage struct {
	Manifest []struct {
		ID        string `xml:"id,attr"`
		Href      string `xml:"href,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"manifest>item"`
	Spine []struct {
		IDRef string `xml:"idref,attr"`
	} `xml:"spine>itemref"`
}

func newEPUBSource(zr *zip.Reader) (*EPUBSource, error) {
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	var container epubContainer
	if err := decodeEPUBXML(files, epubContainerPath, &container); err != nil {
		return nil, err
	}
	opfPath := ""
	for _, rf := range container.Rootfiles {
		if rf.FullPath != "" && (rf.MediaType == "" || rf.MediaType == "application/oebps-package+xml") {
			opfPath = rf.FullPath
			break
		}
	}
	if opfPath == "" {
		return nil, fmt.Errorf("%w: invalid epub: no package document", ErrUnsupported)
	}

	var pkg epubPackage
	if err := decodeEPUBXML(files, opfPath, &pkg); err != nil {
		return nil, err
	}

	type item struct{ href, mediaType string }
	manifest := make(map[string]item, len(pkg.Manifest))
	for _, it := range pkg.Manifest {
		manifest[it.ID] = item{href: it.Href, mediaType: it.MediaType}
	}

	base := path.Dir(opfPath)
	pages := make([]string, 0, len(pkg.Spine))
	for _, ref := range pkg.Spine {
		it, ok := manifest[ref.IDRef]
		if !ok || !isEPUBDocument(it.mediaType) {
			continue
		}
		href := it.href
		if unescaped, err := url.PathUnescape(href); err == nil {
			href = unescaped
		}
		pages = append(pages, path.Join(base, href))
	}
	return &EPUBSource{files: files, pages: pages}, nil
}

func decodeEPUBXML(files map[string]*zip.File, name string, v any) error {
	f, ok := files[name]
	if !ok {
		return fmt.Errorf("%w: invalid epub: missing %s", ErrUnsupported, name)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: invalid epub: %v", ErrUnsupported, err)
	}
	defer rc.Close()
	if err := xml.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid epub: parse %s: %v", ErrUnsupported, name, err)
	}
	return nil
}

func isEPUBDocument(mediaType string) bool {
	switch mediaType {
	case "application/xhtml+xml", "text/html":
		return true
	default:
		return false
	}
}

// TotalPages はページ数を返します。
func (s *EPUBSource) TotalPages() int {
	return len(s.pages)
}

// ExtractPage は index 番目の文書の本文をプレーンテキストで返します。
func (s *EPUBSource) ExtractPage(index int) (string, error) {
	if err := checkIndex(index, len(s.pages)); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := s.pages[index]
	f, ok := s.files[name]
	if !ok {
		return "", &ExtractionError{Page: index, Err: fmt.Errorf("missing %s", name)}
	}
	rc, err := f.Open()
	if err != nil {
		return "", &ExtractionError{Page: index, Err: err}
	}
	defer rc.Close()

	doc, err := html.Parse(io.LimitReader(rc, maxEPUBEntrySize))
	if err != nil {
		return "", &ExtractionError{Page: index, Err: err}
	}
	return htmlText(doc), nil
}

// Close は EPUB ファイルを閉じます。
func (s *EPUBSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// htmlText は body 内のテキストを段落ごとの行にして返します。
func htmlText(doc *html.Node) string {
	root := findElement(doc, atom.Body)
	if root == nil {
		root = doc
	}

	var (
		lines []string
		line  strings.Builder
	)
	flush := func() {
		if text := strings.Join(strings.Fields(line.String()), " "); text != "" {
			lines = append(lines, text)
		}
		line.Reset()
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			line.WriteString(n.Data)
			return
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Head, atom.Title:
				return
			case atom.Br:
				flush()
				return
			}
		}
		block := n.Type == html.ElementNode && isBlockElement(n.DataAtom)
		if block {
			flush()
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			flush()
		}
	}
	walk(root)
	flush()
	return strings.Join(lines, "\n")
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func isBlockElement(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Blockquote, atom.Pre,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Li, atom.Ul, atom.Ol, atom.Dt, atom.Dd, atom.Tr, atom.Table,
		atom.Figcaption, atom.Header, atom.Footer, atom.Aside, atom.Hr:
		return true
	default:
		return false
	}
}
