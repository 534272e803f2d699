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
	"time"

	"github.com/yourusername/paper-lingo/internal/cache"
	"github.com/yourusername/paper-lingo/internal/checkpoint"
	"github.com/yourusername/paper-lingo/internal/document"
	"github.com/yourusername/paper-lingo/internal/identity"
	"github.com/yourusername/paper-lingo/internal/observability"
	"github.com/yourusername/paper-lingo/internal/storage"
)

const (
	mirrorTimeout = 2 * time.Minute
	// 直前の実行の後片付けが終わるまで Dispatch を再試行する間隔と回数
	dispatchRetryInterval = 50 * time.Millisecond
	dispatchRetries       = 40
)

// Notifier はジョブ状態の変化を購読者へ配信します。
type Notifier interface {
	Publish(view JobView)
}

// ServiceConfig は Service の依存関係と設定です。
type ServiceConfig struct {
	Registry    *Registry
	Processor   *Processor
	Cache       cache.Store
	Checkpoints checkpoint.Store
	Local       *storage.Local
	// Mirror が nil の場合は GCS への複製を行いません。
	Mirror   storage.Mirror
	Notifier Notifier
	// NewDispatcher が nil の場合は LocalDispatcher を使います。
	NewDispatcher func(run Runner) (Dispatcher, error)

	// OutputLabel は成果物名の接尾辞です（例: hi, hinglish）。
	OutputLabel  string
	LinesPerPage int
	MaxFileSize  int64

	Logger  *log.Logger
	Metrics *observability.Metrics
}

// Service は Web 層に公開するジョブ操作をまとめたものです。
type Service struct {
	registry    *Registry
	processor   *Processor
	cache       cache.Store
	checkpoints checkpoint.Store
	local       *storage.Local
	mirror      storage.Mirror
	notifier    Notifier
	dispatcher  Dispatcher

	outputLabel  string
	linesPerPage int
	maxFileSize  int64

	logger  *log.Logger
	metrics *observability.Metrics
}

// SubmitOptions は SubmitJob の追加指定です。
type SubmitOptions struct {
	// ForceRestart はチェックポイントと成果物を消して最初からやり直します。
	ForceRestart bool
}

// Submission は SubmitJob の結果です。
type Submission struct {
	Identity    string `json:"jobId"`
	Filename    string `json:"filename"`
	TotalPages  int    `json:"totalPages"`
	ResumeFrom  int    `json:"resumeFrom"`
	HasProgress bool   `json:"hasProgress"`
	Created     bool   `json:"created"`
	Status      Status `json:"status"`
}

// Artifact はダウンロード用に開いた成果物です。呼び出し側で File を閉じてください。
type Artifact struct {
	Path         string
	DownloadName string
	Size         int64
	File         *os.File
}

// NewService は Service を作成します。
func NewService(cfg ServiceConfig) (*Service, error) {
	switch {
	case cfg.Registry == nil:
		return nil, errors.New("registry is nil")
	case cfg.Processor == nil:
		return nil, errors.New("processor is nil")
	case cfg.Cache == nil:
		return nil, errors.New("cache is nil")
	case cfg.Checkpoints == nil:
		return nil, errors.New("checkpoint store is nil")
	case cfg.Local == nil:
		return nil, errors.New("local storage is nil")
	case cfg.OutputLabel == "":
		return nil, errors.New("output label is required")
	}

	s := &Service{
		registry:     cfg.Registry,
		processor:    cfg.Processor,
		cache:        cfg.Cache,
		checkpoints:  cfg.Checkpoints,
		local:        cfg.Local,
		mirror:       cfg.Mirror,
		notifier:     cfg.Notifier,
		outputLabel:  cfg.OutputLabel,
		linesPerPage: cfg.LinesPerPage,
		maxFileSize:  cfg.MaxFileSize,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
	}

	if cfg.NewDispatcher == nil {
		s.dispatcher = NewLocalDispatcher(s.run, cfg.Logger)
	} else {
		d, err := cfg.NewDispatcher(s.run)
		if err != nil {
			return nil, fmt.Errorf("create dispatcher: %w", err)
		}
		s.dispatcher = d
	}
	return s, nil
}

// SubmitJob はアップロードを保存し、ジョブを登録して再開位置を返します。処理は開始しません。
func (s *Service) SubmitJob(ctx context.Context, name string, content []byte, opts SubmitOptions) (*Submission, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, fmt.Errorf("%w: filename is required", ErrInvalidInput)
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrInvalidInput)
	}
	if s.maxFileSize > 0 && int64(len(content)) > s.maxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, len(content), s.maxFileSize)
	}

	kind, _, err := document.Detect(name, content)
	if err != nil {
		return nil, err
	}

	id := identity.Compute(name, content).String()
	// アップロードやチェックポイントを書き換える間は、この ID の Start を拒否させる
	if err := s.registry.Reserve(id); err != nil {
		return nil, err
	}
	defer s.registry.Release(id)

	sourcePath, err := s.local.SaveUpload(id, filepath.Ext(name), content)
	if err != nil {
		return nil, err
	}
	info, err := document.Inspect(sourcePath, kind, content, s.linesPerPage)
	if err != nil {
		return nil, err
	}

	outputPath := s.local.OutputPath(id, s.outputLabel)
	if opts.ForceRestart {
		if err := s.checkpoints.Clear(ctx, id); err != nil {
			return nil, fmt.Errorf("clear checkpoint: %w", err)
		}
		if err := storage.RemoveFile(outputPath); err != nil {
			return nil, fmt.Errorf("remove output: %w", err)
		}
		s.logf("[job:%s] progress cleared by force restart", id)
	}

	cp, err := s.checkpoints.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	resume := cp.ResumePoint()
	if resume > info.TotalPages {
		resume = info.TotalPages
	}

	status := StatusSubmitted
	if cp != nil && cp.Status == checkpoint.StatusCompleted && resume >= info.TotalPages {
		status = StatusCompleted
	}

	outcome, view, err := s.registry.Submit(Job{
		Identity:   id,
		Filename:   name,
		SourcePath: sourcePath,
		Kind:       kind,
		TotalPages: info.TotalPages,
		Status:     status,
		Completed:  resume,
		OutputPath: outputPath,
	})
	if err != nil {
		return nil, err
	}
	s.publish(view)

	return &Submission{
		Identity:    id,
		Filename:    name,
		TotalPages:  info.TotalPages,
		ResumeFrom:  resume,
		HasProgress: cp != nil && resume > 0,
		Created:     outcome == Created,
		Status:      view.Status,
	}, nil
}

// StartJob はジョブをバックグラウンドで開始します。
func (s *Service) StartJob(ctx context.Context, id string) error {
	view, err := s.registry.Start(id)
	if err != nil {
		return err
	}
	s.metrics.JobStarted()
	s.publish(view)

	if err := s.dispatch(ctx, id); err != nil {
		s.finish(id, Result{Status: StatusFailed, Completed: view.Completed, Err: err})
		if errors.Is(err, ErrJobAlreadyRunning) {
			return err
		}
		return fmt.Errorf("dispatch job: %w", err)
	}
	s.logf("[job:%s] started", id)
	return nil
}

// dispatch は Dispatcher にジョブを渡します。
// レジストリ上は終了済みでも前回の実行がまだ Dispatcher に残っている間は再試行します。
func (s *Service) dispatch(ctx context.Context, id string) error {
	var err error
	for i := 0; i < dispatchRetries; i++ {
		err = s.dispatcher.Dispatch(ctx, id)
		if !errors.Is(err, ErrJobAlreadyRunning) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dispatchRetryInterval):
		}
	}
	return err
}

// PollJob はジョブの現在状態を返します。
func (s *Service) PollJob(id string) (JobView, error) {
	return s.registry.Get(id)
}

// ListJobs は登録済みジョブの一覧を返します。
func (s *Service) ListJobs() []JobView {
	return s.registry.List()
}

// FetchOutput は完了したジョブの成果物を開きます。
func (s *Service) FetchOutput(id string) (*Artifact, error) {
	job, err := s.registry.Lookup(id)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusCompleted {
		return nil, ErrNotReady
	}

	f, err := os.Open(job.OutputPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrOutputMissing, job.OutputPath)
		}
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	base := strings.TrimSuffix(job.Filename, filepath.Ext(job.Filename))
	return &Artifact{
		Path:         job.OutputPath,
		DownloadName: fmt.Sprintf("%s_%s.txt", base, s.outputLabel),
		Size:         info.Size(),
		File:         f,
	}, nil
}

// CancelJob は処理中のジョブにページ間での停止を要求します。
// 要求はレジストリに残るため、まだ Dispatcher に渡っていない実行も開始時に停止します。
func (s *Service) CancelJob(id string) error {
	if _, err := s.registry.RequestCancel(id); err != nil {
		return err
	}
	if !s.dispatcher.Cancel(id) {
		s.logf("[job:%s] cancel recorded before dispatch", id)
		return nil
	}
	s.logf("[job:%s] cancel requested", id)
	return nil
}

// ClearCache は翻訳キャッシュを全件削除します。
func (s *Service) ClearCache(ctx context.Context) error {
	if err := s.cache.Clear(ctx); err != nil {
		return err
	}
	s.logf("translation cache cleared")
	return nil
}

// CacheSize はキャッシュのエントリ数を返します。
func (s *Service) CacheSize() int {
	return s.cache.Len()
}

// Shutdown は実行中のジョブを止めて終了を待ちます。
func (s *Service) Shutdown(ctx context.Context) error {
	return s.dispatcher.Shutdown(ctx)
}

// run は Dispatcher から呼ばれ、1ジョブを処理して結果をレジストリへ記録します。
func (s *Service) run(ctx context.Context, id string) {
	job, err := s.registry.Lookup(id)
	if err != nil {
		s.logf("[job:%s] skipped: %v", id, err)
		return
	}

	var data []byte
	if job.Kind == document.KindText {
		data, err = os.ReadFile(job.SourcePath)
		if err != nil {
			s.finish(id, Result{Status: StatusFailed, Completed: job.Completed, Err: fmt.Errorf("read source: %w", err)})
			return
		}
	}
	source, closeSource, err := document.Open(job.SourcePath, job.Kind, data, s.linesPerPage)
	if err != nil {
		s.finish(id, Result{Status: StatusFailed, Completed: job.Completed, Err: err})
		return
	}
	defer closeSource()

	// 登録時のページ数は別のパーサーで数えているため、実際に処理する文書の値に合わせる
	if total := source.TotalPages(); total != job.TotalPages {
		if view, err := s.registry.SetTotal(id, total); err == nil {
			s.logf("[job:%s] total pages adjusted %d -> %d", id, job.TotalPages, total)
			s.publish(view)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.registry.CancelRequested(id) {
		cancel()
	}

	events := make(chan Progress, 8)
	pumpDone := make(chan struct{})
	go s.pump(id, events, pumpDone)

	res := s.processor.Process(ctx, Request{
		Identity:   id,
		Source:     source,
		OutputPath: job.OutputPath,
		ResumeHint: job.Completed,
	}, events)
	close(events)
	<-pumpDone

	s.finish(id, res)
}

// pump は Processor からの進捗をレジストリと購読者へ反映します。
func (s *Service) pump(id string, events <-chan Progress, done chan<- struct{}) {
	defer close(done)
	for ev := range events {
		view, err := s.registry.UpdateProgress(id, ev.Completed, ev.Phase)
		if err != nil {
			continue
		}
		s.publish(view)
	}
}

func (s *Service) finish(id string, res Result) {
	if res.Status == StatusCompleted && s.mirror != nil {
		s.mirrorOutput(id, res.OutputPath)
	}

	errMsg := ""
	if res.Err != nil {
		errMsg = res.Err.Error()
	}
	view, err := s.registry.Finish(id, res.Status, res.Completed, errMsg, res.OutputPath)
	if err != nil {
		s.logf("[job:%s] failed to record result: %v", id, err)
		return
	}
	s.metrics.JobFinished(string(res.Status))
	s.publish(view)
	s.logf("[job:%s] finished status=%s pages=%d/%d", id, res.Status, res.Completed, res.Total)
}

// mirrorOutput は成果物を GCS に複製します。失敗してもジョブは完了扱いのままです。
func (s *Service) mirrorOutput(id, path string) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	uri, err := s.mirror.Upload(ctx, id, path)
	if err != nil {
		s.logf("[job:%s] mirror upload failed: %v", id, err)
		return
	}
	s.logf("[job:%s] mirrored to %s", id, uri)
}

func (s *Service) publish(view JobView) {
	if s.notifier != nil {
		s.notifier.Publish(view)
	}
}

func (s *Service) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
