package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hibiken/asynq"
)

const (
	taskTypeTranslate = "translate:run"
	queueName         = "translate"
	// taskTimeout は1ジョブの最大実行時間です。長い書籍でも打ち切られない値にしています。
	taskTimeout = 24 * time.Hour
)

// TaskPayload は翻訳ジョブのペイロードです。
type TaskPayload struct {
	JobID string `json:"jobId"`
}

// QueueDispatcher は Asynq のキューを通してジョブを実行します。
// サーバーは同じプロセス内で起動し、タスクIDにはジョブIDを使います。
type QueueDispatcher struct {
	client    *asynq.Client
	server    *asynq.Server
	inspector *asynq.Inspector
	mux       *asynq.ServeMux
	run       Runner
	logger    *log.Logger

	mu       sync.Mutex
	active   map[string]context.CancelFunc
	canceled map[string]bool
}

// QueueOptions は QueueDispatcher の設定です。
type QueueOptions struct {
	RedisURL    string
	Concurrency int
}

// NewQueueDispatcher は QueueDispatcher を初期化し、ワーカーを起動します。
func NewQueueDispatcher(opts QueueOptions, run Runner, logger *log.Logger) (*QueueDispatcher, error) {
	if run == nil {
		return nil, errors.New("runner is nil")
	}
	redisOpt, err := asynq.ParseRedisURI(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	d := newQueueDispatcher(redisOpt, opts.Concurrency, run, logger)
	if err := d.server.Start(d.mux); err != nil {
		d.client.Close()
		d.inspector.Close()
		return nil, fmt.Errorf("start asynq server: %w", err)
	}
	return d, nil
}

// newQueueDispatcher はワーカーを起動せずに QueueDispatcher を組み立てます。
func newQueueDispatcher(redisOpt asynq.RedisConnOpt, concurrency int, run Runner, logger *log.Logger) *QueueDispatcher {
	if concurrency <= 0 {
		concurrency = 4
	}

	d := &QueueDispatcher{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		server: asynq.NewServer(
			redisOpt,
			asynq.Config{
				Concurrency: concurrency,
				Queues: map[string]int{
					queueName: 1,
				},
				ShutdownTimeout: 30 * time.Second,
			},
		),
		mux:      asynq.NewServeMux(),
		run:      run,
		logger:   logger,
		active:   make(map[string]context.CancelFunc),
		canceled: make(map[string]bool),
	}
	d.mux.HandleFunc(taskTypeTranslate, d.handleTranslateTask)
	return d
}

// Dispatch はジョブをキューに投入します。
// 同じIDのタスクが完了済みやアーカイブ済みで残っている場合は削除してから投入し直します。
func (d *QueueDispatcher) Dispatch(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("job id is required")
	}
	body, err := json.Marshal(&TaskPayload{JobID: id})
	if err != nil {
		return err
	}

	d.mu.Lock()
	delete(d.canceled, id)
	d.mu.Unlock()

	err = d.enqueue(ctx, id, body)
	if !errors.Is(err, asynq.ErrTaskIDConflict) {
		return err
	}
	if !d.clearFinishedTask(id) {
		return ErrJobAlreadyRunning
	}
	err = d.enqueue(ctx, id, body)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return ErrJobAlreadyRunning
	}
	return err
}

func (d *QueueDispatcher) enqueue(ctx context.Context, id string, body []byte) error {
	task := asynq.NewTask(taskTypeTranslate, body)
	_, err := d.client.EnqueueContext(ctx, task,
		asynq.Queue(queueName),
		asynq.TaskID(id),
		asynq.MaxRetry(0),
		asynq.Timeout(taskTimeout),
	)
	return err
}

// clearFinishedTask は id のタスクがもう実行されないものなら削除し、投入し直せるかを返します。
// プロセスが処理中に落ちたタスクはリトライ上限0のためアーカイブに残ります。
func (d *QueueDispatcher) clearFinishedTask(id string) bool {
	info, err := d.inspector.GetTaskInfo(queueName, id)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return true
		}
		d.logf("[job:%s] failed to inspect task: %v", id, err)
		return false
	}

	switch info.State {
	case asynq.TaskStateArchived, asynq.TaskStateCompleted:
		if err := d.inspector.DeleteTask(queueName, id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
			d.logf("[job:%s] failed to delete %s task: %v", id, info.State, err)
			return false
		}
		d.logf("[job:%s] removed %s task before re-enqueue", id, info.State)
		return true
	default:
		return false
	}
}

// Cancel は実行中または待機中のジョブにキャンセルを通知します。
func (d *QueueDispatcher) Cancel(id string) bool {
	d.mu.Lock()
	if cancel, ok := d.active[id]; ok {
		d.mu.Unlock()
		cancel()
		return true
	}
	d.mu.Unlock()

	info, err := d.inspector.GetTaskInfo(queueName, id)
	if err != nil {
		return false
	}
	switch info.State {
	case asynq.TaskStateActive:
		// 別プロセスのワーカーが処理中
		if err := d.inspector.CancelProcessing(id); err != nil {
			d.logf("[job:%s] failed to cancel task: %v", id, err)
			return false
		}
		return true
	case asynq.TaskStatePending, asynq.TaskStateScheduled, asynq.TaskStateRetry:
		// 取り出された時点で即座にキャンセル状態で終わらせる
		d.mu.Lock()
		d.canceled[id] = true
		d.mu.Unlock()
		return true
	default:
		return false
	}
}

// Shutdown は実行中のジョブをキャンセルし、サーバーとクライアントを閉じます。
func (d *QueueDispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	for _, cancel := range d.active {
		cancel()
	}
	d.mu.Unlock()

	d.server.Shutdown()
	return errors.Join(d.client.Close(), d.inspector.Close())
}

func (d *QueueDispatcher) handleTranslateTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		d.logf("invalid translate task payload: %v", err)
		return nil
	}
	if payload.JobID == "" {
		d.logf("missing jobId in translate task payload")
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.mu.Lock()
	d.active[payload.JobID] = cancel
	if d.canceled[payload.JobID] {
		delete(d.canceled, payload.JobID)
		cancel()
	}
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.active, payload.JobID)
		d.mu.Unlock()
	}()

	// 結果はレジストリとチェックポイントに記録済みなので、Asynq 側では再試行させない
	d.run(ctx, payload.JobID)
	return nil
}

func (d *QueueDispatcher) logf(format string, args ...any) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
