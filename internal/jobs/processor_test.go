package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/paper-lingo/internal/checkpoint"
	"github.com/yourusername/paper-lingo/internal/document"
	"github.com/yourusername/paper-lingo/internal/transform"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestProcessSkipsEmptyPage(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, DefaultMaxChunkSize)
	pages := []string{"Hello.", "", "World."}

	res := env.processor.Process(context.Background(), env.request("job-a", pages), nil)

	require.NoError(t, res.Err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 3, res.Completed)

	out := readFile(t, res.OutputPath)
	assert.Equal(t, "\n--- Page 1 ---\nT(Hello.)\n\n\n--- Page 3 ---\nT(World.)\n\n", out)
	assert.Equal(t, 2, strings.Count(out, "--- Page "))
	assert.NotContains(t, out, "--- Page 2 ---")

	assert.Equal(t, 2, env.backend.total())
	assert.Equal(t, 0, env.backend.count(""))

	cp := env.loadCheckpoint(t, "job-a")
	assert.Equal(t, 2, cp.LastCompletedPage)
	assert.Equal(t, checkpoint.StatusCompleted, cp.Status)
	assert.Equal(t, int64(len(out)), cp.OutputSize)
}

func TestProcessCompletedIsNoop(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, DefaultMaxChunkSize)
	pages := numberedPages(3)

	first := env.processor.Process(context.Background(), env.request("job-a", pages), nil)
	require.Equal(t, StatusCompleted, first.Status)
	calls := env.backend.total()
	before := readFile(t, first.OutputPath)

	// キャッシュを消してもバックエンドは呼ばれない
	require.NoError(t, env.cache.Clear(context.Background()))

	second := env.processor.Process(context.Background(), env.request("job-a", pages), nil)
	require.NoError(t, second.Err)
	assert.Equal(t, StatusCompleted, second.Status)
	assert.Equal(t, calls, env.backend.total())
	assert.Equal(t, before, readFile(t, second.OutputPath))
}

func TestProcessResumeIsByteIdentical(t *testing.T) {
	t.Parallel()

	pages := numberedPages(5)
	ref := newTestEnv(t, DefaultMaxChunkSize)
	refRes := ref.processor.Process(context.Background(), ref.request("job", pages), nil)
	require.Equal(t, StatusCompleted, refRes.Status)
	want := readFile(t, refRes.OutputPath)
	require.Equal(t, expectedOutput(pages), want)

	for k := 0; k < len(pages)-1; k++ {
		t.Run(fmt.Sprintf("interrupted_after_page_%d", k), func(t *testing.T) {
			env := newTestEnv(t, DefaultMaxChunkSize)

			req := env.request("job", pages)
			req.Source = &failingSource{PageSource: req.Source, failAt: k + 1}
			res := env.processor.Process(context.Background(), req, nil)
			require.Equal(t, StatusFailed, res.Status)
			assert.Equal(t, k, env.loadCheckpoint(t, "job").LastCompletedPage)

			callsBefore := env.backend.total()
			res = env.processor.Process(context.Background(), env.request("job", pages), nil)
			require.NoError(t, res.Err)
			require.Equal(t, StatusCompleted, res.Status)

			assert.Equal(t, want, readFile(t, res.OutputPath))
			assert.Equal(t, len(pages)-1-k, env.backend.total()-callsBefore)
			for i := 0; i <= k; i++ {
				assert.Equal(t, 1, env.backend.count(pages[i]), "page %d translated again", i)
			}
		})
	}
}

func TestProcessTransformFailureThenResume(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, DefaultMaxChunkSize)
	pages := numberedPages(5)
	client := &transform.RetryingClient{
		Backend:     env.backend,
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
	}
	processor := NewProcessor(env.cache, env.checkpoints, client, ProcessorOptions{}, nil, nil)

	env.backend.setFail(func(ctx context.Context, text string) error {
		if text == pages[2] {
			return errors.New("backend unavailable")
		}
		return nil
	})

	res := processor.Process(context.Background(), env.request("job", pages), nil)
	require.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 2, res.Completed)
	assert.ErrorIs(t, res.Err, transform.ErrTransformUnavailable)

	var pageErr *PageError
	require.ErrorAs(t, res.Err, &pageErr)
	assert.Equal(t, 2, pageErr.Page)
	assert.Equal(t, 3, env.backend.count(pages[2]))

	cp := env.loadCheckpoint(t, "job")
	assert.Equal(t, 1, cp.LastCompletedPage)
	assert.Equal(t, checkpoint.StatusFailed, cp.Status)
	assert.NotEmpty(t, cp.Error)
	assert.Equal(t, expectedOutput(pages[:2]), readFile(t, res.OutputPath))

	env.backend.setFail(nil)
	res = processor.Process(context.Background(), env.request("job", pages), nil)
	require.NoError(t, res.Err)
	assert.Equal(t, StatusCompleted, res.Status)

	cp = env.loadCheckpoint(t, "job")
	assert.Equal(t, 4, cp.LastCompletedPage)
	assert.Equal(t, checkpoint.StatusCompleted, cp.Status)
	assert.Empty(t, cp.Error)
	assert.Equal(t, expectedOutput(pages), readFile(t, res.OutputPath))
	assert.Equal(t, 1, env.backend.count(pages[0]))
}

func TestProcessCacheSharedAcrossJobs(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, DefaultMaxChunkSize)

	res := env.processor.Process(context.Background(), env.request("job-a", []string{"Shared text.", "Only A."}), nil)
	require.Equal(t, StatusCompleted, res.Status)
	res = env.processor.Process(context.Background(), env.request("job-b", []string{"Only B.", "Shared text."}), nil)
	require.Equal(t, StatusCompleted, res.Status)

	assert.Equal(t, 1, env.backend.count("Shared text."))
	assert.Equal(t, 3, env.backend.total())
	assert.Contains(t, readFile(t, env.outputPath("job-b")), "\n--- Page 2 ---\nT(Shared text.)\n\n")
}

func TestProcessSplitsOversizedPage(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 10)
	res := env.processor.Process(context.Background(), env.request("job", []string{"aaa bbb ccc ddd eee", "short"}), nil)
	require.NoError(t, res.Err)

	assert.Equal(t,
		"\n--- Page 1 ---\nT(aaa bbb) T(ccc ddd) T(eee)\n\n\n--- Page 2 ---\nT(short)\n\n",
		readFile(t, res.OutputPath))
	assert.Equal(t, 1, env.backend.count("ccc ddd"))
}

func TestProcessKeepsShortPageIntact(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, DefaultMaxChunkSize)
	res := env.processor.Process(context.Background(), env.request("job", []string{"line one\nline two"}), nil)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, env.backend.count("line one\nline two"))
}

func TestProcessZeroPages(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, DefaultMaxChunkSize)
	res := env.processor.Process(context.Background(), env.request("empty", nil), nil)

	require.NoError(t, res.Err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Empty(t, readFile(t, res.OutputPath))
	assert.Equal(t, 0, env.backend.total())

	cp := env.loadCheckpoint(t, "empty")
	assert.Equal(t, checkpoint.NoPage, cp.LastCompletedPage)
	assert.Equal(t, checkpoint.StatusCompleted, cp.Status)
}

func TestProcessCheckpointWinsOverHint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, DefaultMaxChunkSize)
	pages := numberedPages(4)

	req := env.request("job", pages)
	req.Source = &failingSource{PageSource: req.Source, failAt: 2}
	require.Equal(t, StatusFailed, env.processor.Process(context.Background(), req, nil).Status)

	req = env.request("job", pages)
	req.ResumeHint = 0
	res := env.processor.Process(context.Background(), req, nil)
	require.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 1, env.backend.count(pages[0]))
	assert.Equal(t, expectedOutput(pages), readFile(t, res.OutputPath))

	env2 := newTestEnv(t, DefaultMaxChunkSize)
	req = env2.request("job", pages)
	req.ResumeHint = 3
	res = env2.processor.Process(context.Background(), req, nil)
	require.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 4, env2.backend.total())
}

func TestProcessTruncatesUncheckpointedWrite(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, DefaultMaxChunkSize)
	pages := numberedPages(3)

	req := env.request("job", pages)
	req.Source = &failingSource{PageSource: req.Source, failAt: 1}
	res := env.processor.Process(context.Background(), req, nil)
	require.Equal(t, StatusFailed, res.Status)

	// ページ2を書いた直後、チェックポイント保存前に落ちた状態を再現する
	f, err := os.OpenFile(res.OutputPath, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("\n--- Page 2 ---\nT(half written")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	res = env.processor.Process(context.Background(), env.request("job", pages), nil)
	require.NoError(t, res.Err)
	assert.Equal(t, expectedOutput(pages), readFile(t, res.OutputPath))
}

func TestProcessMissingOutputOnResume(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, DefaultMaxChunkSize)
	pages := numberedPages(3)

	req := env.request("job", pages)
	req.Source = &failingSource{PageSource: req.Source, failAt: 2}
	res := env.processor.Process(context.Background(), req, nil)
	require.Equal(t, StatusFailed, res.Status)
	require.NoError(t, os.Remove(res.OutputPath))

	calls := env.backend.total()
	res = env.processor.Process(context.Background(), env.request("job", pages), nil)
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, ErrOutputMissing)
	assert.Equal(t, calls, env.backend.total())

	_, err := os.Stat(res.OutputPath)
	assert.True(t, os.IsNotExist(err))
}

func TestProcessPageExtractionFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, DefaultMaxChunkSize)
	req := env.request("job", numberedPages(3))
	req.Source = &failingSource{PageSource: req.Source, failAt: 0}

	res := env.processor.Process(context.Background(), req, nil)
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, document.ErrPageExtraction)
	assert.Equal(t, checkpoint.NoPage, env.loadCheckpoint(t, "job").LastCompletedPage)
}

func TestProcessCancelBetweenPages(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, DefaultMaxChunkSize)
	pages := numberedPages(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.backend.setFail(func(_ context.Context, text string) error {
		if text == pages[1] {
			cancel()
		}
		return nil
	})

	res := env.processor.Process(ctx, env.request("job", pages), nil)
	assert.Equal(t, StatusCanceled, res.Status)
	assert.Equal(t, 2, res.Completed)
	assert.ErrorIs(t, res.Err, context.Canceled)

	cp := env.loadCheckpoint(t, "job")
	assert.Equal(t, 1, cp.LastCompletedPage)
	assert.Equal(t, checkpoint.StatusCanceled, cp.Status)

	env.backend.setFail(nil)
	res = env.processor.Process(context.Background(), env.request("job", pages), nil)
	require.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, expectedOutput(pages), readFile(t, res.OutputPath))
}

func TestProcessEmitsProgress(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, DefaultMaxChunkSize)
	events := make(chan Progress, 16)

	res := env.processor.Process(context.Background(), env.request("job", []string{"a", "b"}), events)
	close(events)
	require.Equal(t, StatusCompleted, res.Status)

	var got []Progress
	for ev := range events {
		got = append(got, ev)
	}
	assert.Equal(t, []Progress{
		{Completed: 0, Total: 2, Phase: PhaseProcessing},
		{Completed: 1, Total: 2, Phase: PhaseCompleted},
		{Completed: 1, Total: 2, Phase: PhaseProcessing},
		{Completed: 2, Total: 2, Phase: PhaseCompleted},
	}, got)
}
