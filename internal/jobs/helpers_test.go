package jobs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yourusername/paper-lingo/internal/cache"
	"github.com/yourusername/paper-lingo/internal/checkpoint"
	"github.com/yourusername/paper-lingo/internal/document"
)

// fakeBackend は呼び出し回数を数える決定的な翻訳バックエンドです。
type fakeBackend struct {
	mu    sync.Mutex
	calls map[string]int
	fail  func(ctx context.Context, text string) error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{calls: make(map[string]int)}
}

func (b *fakeBackend) Transform(ctx context.Context, text string) (string, error) {
	b.mu.Lock()
	b.calls[text]++
	fail := b.fail
	b.mu.Unlock()

	if fail != nil {
		if err := fail(ctx, text); err != nil {
			return "", err
		}
	}
	return "T(" + text + ")", nil
}

func (b *fakeBackend) setFail(fn func(ctx context.Context, text string) error) {
	b.mu.Lock()
	b.fail = fn
	b.mu.Unlock()
}

func (b *fakeBackend) total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		n += c
	}
	return n
}

func (b *fakeBackend) count(text string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[text]
}

// failingSource は指定ページの抽出を失敗させる PageSource です。
type failingSource struct {
	document.PageSource
	failAt int
}

func (s *failingSource) ExtractPage(index int) (string, error) {
	if index == s.failAt {
		return "", &document.ExtractionError{Page: index, Err: errors.New("broken page")}
	}
	return s.PageSource.ExtractPage(index)
}

type testEnv struct {
	dir         string
	backend     *fakeBackend
	cache       *cache.FileStore
	checkpoints *checkpoint.FileStore
	processor   *Processor
}

func newTestEnv(t *testing.T, maxChunk int) *testEnv {
	t.Helper()
	dir := t.TempDir()

	store, err := cache.OpenFileStore(filepath.Join(dir, "cache"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	cps, err := checkpoint.NewFileStore(filepath.Join(dir, "outputs"), nil)
	require.NoError(t, err)

	backend := newFakeBackend()
	return &testEnv{
		dir:         dir,
		backend:     backend,
		cache:       store,
		checkpoints: cps,
		processor:   NewProcessor(store, cps, backend, ProcessorOptions{MaxChunkSize: maxChunk}, nil, nil),
	}
}

func (e *testEnv) request(id string, pages []string) Request {
	return Request{
		Identity:   id,
		Source:     document.NewTextSource(pages),
		OutputPath: e.outputPath(id),
	}
}

func (e *testEnv) outputPath(id string) string {
	return filepath.Join(e.dir, "outputs", id+"_hi.txt")
}

func (e *testEnv) loadCheckpoint(t *testing.T, id string) *checkpoint.Checkpoint {
	t.Helper()
	cp, err := e.checkpoints.Load(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, cp)
	return cp
}

func numberedPages(n int) []string {
	pages := make([]string, n)
	for i := range pages {
		pages[i] = fmt.Sprintf("Sentence number %d on its page.", i+1)
	}
	return pages
}

func expectedOutput(pages []string) string {
	var sb strings.Builder
	for i, p := range pages {
		if strings.TrimSpace(p) == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n--- Page %d ---\nT(%s)\n\n", i+1, p)
	}
	return sb.String()
}
