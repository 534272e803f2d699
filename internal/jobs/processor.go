package jobs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/yourusername/paper-lingo/internal/cache"
	"github.com/yourusername/paper-lingo/internal/checkpoint"
	"github.com/yourusername/paper-lingo/internal/document"
	"github.com/yourusername/paper-lingo/internal/observability"
	"github.com/yourusername/paper-lingo/internal/transform"
)

// Request は1回の処理実行の入力です。
type Request struct {
	Identity   string
	Source     document.PageSource
	OutputPath string
	// ResumeHint は呼び出し側が想定する再開位置です。再開位置は常にチェックポイントから決まります。
	ResumeHint int
}

// Result は処理実行の終了結果です。
type Result struct {
	Status     Status
	OutputPath string
	Completed  int
	Total      int
	Err        error
}

// ProcessorOptions は Processor の設定です。
type ProcessorOptions struct {
	MaxChunkSize int
}

// Processor はページを順に翻訳し、ページごとに成果物とチェックポイントを更新します。
type Processor struct {
	cache       cache.Store
	checkpoints checkpoint.Store
	client      transform.Backend
	maxChunk    int
	logger      *log.Logger
	metrics     *observability.Metrics

	inflight singleflight.Group
}

// NewProcessor は Processor を作成します。client には通常 transform.RetryingClient を渡します。
func NewProcessor(store cache.Store, checkpoints checkpoint.Store, client transform.Backend, opts ProcessorOptions, logger *log.Logger, metrics *observability.Metrics) *Processor {
	maxChunk := opts.MaxChunkSize
	if maxChunk <= 0 {
		maxChunk = DefaultMaxChunkSize
	}
	return &Processor{
		cache:       store,
		checkpoints: checkpoints,
		client:      client,
		maxChunk:    maxChunk,
		logger:      logger,
		metrics:     metrics,
	}
}

// run は1回の Process 呼び出しの状態です。
type run struct {
	p      *Processor
	req    Request
	events chan<- Progress
	total  int
	// persist はキャンセル後もチェックポイントを書けるようにキャンセルを切り離したコンテキスト。
	persist context.Context
}

// Process は req.Identity のジョブをチェックポイントの位置から最後まで処理します。
// events が nil でなければページ開始時と完了時に Progress を送ります。
func (p *Processor) Process(ctx context.Context, req Request, events chan<- Progress) Result {
	r := &run{
		p:       p,
		req:     req,
		events:  events,
		total:   req.Source.TotalPages(),
		persist: context.WithoutCancel(ctx),
	}
	return r.execute(ctx)
}

func (r *run) execute(ctx context.Context) Result {
	id := r.req.Identity

	cp, err := r.p.checkpoints.Load(r.persist, id)
	if err != nil {
		return r.result(StatusFailed, 0, fmt.Errorf("load checkpoint: %w", err))
	}
	resume := cp.ResumePoint()
	if r.req.ResumeHint != resume {
		r.p.logf("[job:%s] resume hint %d ignored, checkpoint says %d", id, r.req.ResumeHint, resume)
	}

	if resume >= r.total {
		return r.alreadyDone(cp)
	}

	f, size, err := r.openOutput(cp, resume)
	if err != nil {
		return r.result(StatusFailed, resume, err)
	}
	defer f.Close()

	if resume > 0 {
		r.p.logf("[job:%s] resuming from page %d/%d", id, resume+1, r.total)
	}

	for page := resume; page < r.total; page++ {
		if ctx.Err() != nil {
			return r.stop(page, size, StatusCanceled, ctx.Err())
		}

		r.emit(Progress{Completed: page, Total: r.total, Phase: PhaseProcessing})

		written, err := r.processPage(ctx, f, page)
		if err != nil {
			if ctx.Err() != nil && isContextErr(err) {
				return r.stop(page, size, StatusCanceled, ctx.Err())
			}
			return r.stop(page, size, StatusFailed, &PageError{Page: page, Err: err})
		}

		if err := r.save(page, size+written, checkpoint.StatusInProgress, ""); err != nil {
			return r.stop(page, size, StatusFailed, &PageError{Page: page, Err: err})
		}
		size += written

		r.p.metrics.PageCompleted()
		r.emit(Progress{Completed: page + 1, Total: r.total, Phase: PhaseCompleted})
	}

	if err := r.save(r.total-1, size, checkpoint.StatusCompleted, ""); err != nil {
		return r.result(StatusFailed, r.total, fmt.Errorf("save checkpoint: %w", err))
	}
	r.p.logf("[job:%s] completed %d pages", id, r.total)
	return r.result(StatusCompleted, r.total, nil)
}

// alreadyDone は全ページ処理済みのジョブを翻訳せずに完了扱いにします。
func (r *run) alreadyDone(cp *checkpoint.Checkpoint) Result {
	var size int64
	if cp == nil {
		// ページが無いドキュメントは空の成果物で完了する
		f, err := createOutput(r.req.OutputPath)
		if err != nil {
			return r.result(StatusFailed, 0, err)
		}
		f.Close()
	} else {
		size = cp.OutputSize
	}
	if cp == nil || cp.Status != checkpoint.StatusCompleted {
		if err := r.save(r.total-1, size, checkpoint.StatusCompleted, ""); err != nil {
			return r.result(StatusFailed, r.total, fmt.Errorf("save checkpoint: %w", err))
		}
	}
	return r.result(StatusCompleted, r.total, nil)
}

// openOutput は成果物を開きます。再開時はチェックポイント時点のサイズまで切り詰め、
// チェックポイント後に書かれたページが重複しないようにします。
func (r *run) openOutput(cp *checkpoint.Checkpoint, resume int) (*os.File, int64, error) {
	path := r.req.OutputPath
	if resume == 0 {
		f, err := createOutput(path)
		return f, 0, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: %s", ErrOutputMissing, path)
		}
		return nil, 0, fmt.Errorf("open output: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat output: %w", err)
	}
	if info.Size() < cp.OutputSize {
		f.Close()
		return nil, 0, fmt.Errorf("%w: %s has %d bytes, checkpoint recorded %d", ErrOutputMissing, path, info.Size(), cp.OutputSize)
	}
	if info.Size() > cp.OutputSize {
		r.p.logf("[job:%s] truncating output from %d to %d bytes", r.req.Identity, info.Size(), cp.OutputSize)
		if err := f.Truncate(cp.OutputSize); err != nil {
			f.Close()
			return nil, 0, fmt.Errorf("truncate output: %w", err)
		}
	}
	return f, cp.OutputSize, nil
}

func createOutput(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	return f, nil
}

// processPage は1ページを翻訳して書き込み、書き込んだバイト数を返します。
// 空白のみのページは何も書きません。
func (r *run) processPage(ctx context.Context, f *os.File, page int) (int64, error) {
	text, err := r.req.Source.ExtractPage(page)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(text) == "" {
		return 0, nil
	}

	translated, err := r.p.translatePage(ctx, text)
	if err != nil {
		return 0, err
	}

	block := fmt.Sprintf("\n--- Page %d ---\n%s\n\n", page+1, translated)
	n, err := f.WriteString(block)
	if err != nil {
		return 0, fmt.Errorf("write output: %w", err)
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("sync output: %w", err)
	}
	return int64(n), nil
}

// stop は page を未完了としてチェックポイントを保存し、終了結果を返します。
func (r *run) stop(page int, size int64, status Status, cause error) Result {
	cpStatus := checkpoint.StatusFailed
	if status == StatusCanceled {
		cpStatus = checkpoint.StatusCanceled
		r.p.logf("[job:%s] canceled before page %d/%d", r.req.Identity, page+1, r.total)
	} else {
		r.p.logf("[job:%s] failed: %v", r.req.Identity, cause)
	}
	if err := r.save(page-1, size, cpStatus, cause.Error()); err != nil {
		r.p.logf("[job:%s] failed to save checkpoint after %s: %v", r.req.Identity, status, err)
	}
	return r.result(status, page, cause)
}

func (r *run) save(last int, size int64, status checkpoint.Status, errMsg string) error {
	return r.p.checkpoints.Save(r.persist, &checkpoint.Checkpoint{
		Identity:          r.req.Identity,
		TotalPages:        r.total,
		LastCompletedPage: last,
		Status:            status,
		OutputPath:        r.req.OutputPath,
		OutputSize:        size,
		Error:             errMsg,
	})
}

func (r *run) emit(ev Progress) {
	if r.events != nil {
		r.events <- ev
	}
}

func (r *run) result(status Status, completed int, err error) Result {
	return Result{
		Status:     status,
		OutputPath: r.req.OutputPath,
		Completed:  completed,
		Total:      r.total,
		Err:        err,
	}
}

// translatePage は上限を超えるページだけを単語境界で分割し、訳文を空白1つで連結します。
func (p *Processor) translatePage(ctx context.Context, text string) (string, error) {
	if utf8.RuneCountInString(text) <= p.maxChunk {
		return p.translateChunk(ctx, text)
	}
	chunks := SplitChunks(text, p.maxChunk)
	outs := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		out, err := p.translateChunk(ctx, chunk)
		if err != nil {
			return "", err
		}
		outs = append(outs, out)
	}
	return strings.Join(outs, " "), nil
}

// translateChunk はキャッシュを参照し、無ければ翻訳してキャッシュへ書いてから返します。
// 同じチャンクの同時翻訳は1回の呼び出しにまとめます。
func (p *Processor) translateChunk(ctx context.Context, chunk string) (string, error) {
	key := cache.Fingerprint(chunk)
	if out, ok := p.cache.Get(key); ok {
		p.metrics.CacheLookup(true)
		return out, nil
	}
	p.metrics.CacheLookup(false)

	v, err, _ := p.inflight.Do(key, func() (any, error) {
		if out, ok := p.cache.Get(key); ok {
			return out, nil
		}
		return p.transformAndStore(ctx, key, chunk)
	})
	if err != nil && ctx.Err() == nil && isContextErr(err) {
		// 共有した呼び出し元がキャンセルされただけなので自分で呼び直す
		return p.transformAndStore(ctx, key, chunk)
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (p *Processor) transformAndStore(ctx context.Context, key, chunk string) (string, error) {
	out, err := p.client.Transform(ctx, chunk)
	if err != nil {
		return "", err
	}
	if err := p.cache.Put(context.WithoutCancel(ctx), key, out); err != nil {
		p.logf("failed to store translation in cache: %v", err)
	}
	return out, nil
}

func (p *Processor) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
