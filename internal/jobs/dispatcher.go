package jobs

import (
	"context"
	"log"
	"sync"
)

// Runner は1ジョブを最後まで実行します。ctx のキャンセルはページ間で検知されます。
type Runner func(ctx context.Context, id string)

// Dispatcher はジョブをリクエスト処理とは別の実行コンテキストで走らせます。
type Dispatcher interface {
	Dispatch(ctx context.Context, id string) error
	Cancel(id string) bool
	Shutdown(ctx context.Context) error
}

// LocalDispatcher はジョブごとに goroutine を1つ起動します。
type LocalDispatcher struct {
	run    Runner
	logger *log.Logger

	base       context.Context
	cancelBase context.CancelFunc

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewLocalDispatcher は LocalDispatcher を作成します。
func NewLocalDispatcher(run Runner, logger *log.Logger) *LocalDispatcher {
	base, cancel := context.WithCancel(context.Background())
	return &LocalDispatcher{
		run:        run,
		logger:     logger,
		base:       base,
		cancelBase: cancel,
		running:    make(map[string]context.CancelFunc),
	}
}

// Dispatch は id のジョブをバックグラウンドで開始します。
// リクエストの ctx とは切り離して実行します。
func (d *LocalDispatcher) Dispatch(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.base.Err() != nil {
		return context.Canceled
	}
	if _, ok := d.running[id]; ok {
		return ErrJobAlreadyRunning
	}

	ctx, cancel := context.WithCancel(d.base)
	d.running[id] = cancel
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			delete(d.running, id)
			d.mu.Unlock()
			cancel()
		}()
		d.run(ctx, id)
	}()
	return nil
}

// Cancel は実行中のジョブにキャンセルを通知します。
func (d *LocalDispatcher) Cancel(id string) bool {
	d.mu.Lock()
	cancel, ok := d.running[id]
	d.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Shutdown は実行中の全ジョブをキャンセルし、終了を待ちます。
func (d *LocalDispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.cancelBase()
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
