package document

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type epubChapter struct {
	id        string
	body      string
	mediaType string
}

// buildEPUB は chapters を spine 順に並べた最小構成の EPUB を作ります。
func buildEPUB(t *testing.T, chapters []epubChapter) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	require.NoError(t, err)
	_, err = w.Write([]byte("application/epub+zip"))
	require.NoError(t, err)

	write := func(name, content string) {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}

	write("META-INF/container.xml", `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`)

	var manifest, spine strings.Builder
	for _, ch := range chapters {
		mediaType := ch.mediaType
		if mediaType == "" {
			mediaType = "application/xhtml+xml"
		}
		href := "text/" + ch.id + ".xhtml"
		fmt.Fprintf(&manifest, `<item id="%s" href="%s" media-type="%s"/>`, ch.id, href, mediaType)
		fmt.Fprintf(&spine, `<itemref idref="%s"/>`, ch.id)
		write("OEBPS/"+href, `<?xml version="1.0" encoding="utf-8"?>
<html xmlns="http://www.w3.org/1999/xhtml"><head><title>ignored</title><style>p{}</style></head>
<body>`+ch.body+`</body></html>`)
	}
	write("OEBPS/content.opf", `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <manifest>`+manifest.String()+`</manifest>
  <spine>`+spine.String()+`</spine>
</package>`)

	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestParseEPUBSpineOrder(t *testing.T) {
	t.Parallel()

	data := buildEPUB(t, []epubChapter{
		{id: "ch2", body: "<h1>Chapter Two</h1><p>Second   chapter\n text.</p>"},
		{id: "cover", body: "", mediaType: "image/jpeg"},
		{id: "ch1", body: "<p>First <em>chapter</em>.</p><p>Line one<br/>Line two</p><script>var x = 1;</script>"},
	})

	src, err := ParseEPUB(data)
	require.NoError(t, err)
	require.Equal(t, 2, src.TotalPages())

	page, err := src.ExtractPage(0)
	require.NoError(t, err)
	assert.Equal(t, "Chapter Two\nSecond chapter text.", page)

	page, err = src.ExtractPage(1)
	require.NoError(t, err)
	assert.Equal(t, "First chapter.\nLine one\nLine two", page)

	_, err = src.ExtractPage(2)
	assert.ErrorIs(t, err, ErrPageExtraction)
}

func TestParseEPUBInvalid(t *testing.T) {
	t.Parallel()

	_, err := ParseEPUB([]byte("not a zip"))
	assert.ErrorIs(t, err, ErrUnsupported)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err = zw.Create("chapter.xhtml")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = ParseEPUB(buf.Bytes())
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestInspectAndOpenEPUB(t *testing.T) {
	t.Parallel()

	data := buildEPUB(t, []epubChapter{
		{id: "c1", body: "<p>Hello.</p>"},
		{id: "c2", body: "<p>World.</p>"},
	})
	path := filepath.Join(t.TempDir(), "book.epub")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	info, err := Inspect(path, KindEPUB, data, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, info.TotalPages)
	assert.Equal(t, "application/epub+zip", info.MIME)

	src, closeFn, err := Open(path, KindEPUB, nil, 0)
	require.NoError(t, err)
	defer func() { assert.NoError(t, closeFn()) }()

	require.Equal(t, 2, src.TotalPages())
	page, err := src.ExtractPage(1)
	require.NoError(t, err)
	assert.Equal(t, "World.", page)
}
