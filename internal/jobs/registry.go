package jobs

import (
	"sort"
	"sync"
	"time"
)

// SubmitOutcome は Submit の結果です。
type SubmitOutcome int

const (
	Created SubmitOutcome = iota
	Existing
)

// Registry はジョブIDからジョブ状態への対応を保持します。
// すべての読み書きは1つのロックで保護され、ロック中にブロッキング処理は行いません。
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*Job
	// reserved は SubmitJob がアップロードやチェックポイントを書き換えている最中のIDです。
	reserved map[string]struct{}
	now      func() time.Time
}

// NewRegistry は空の Registry を作成します。
func NewRegistry() *Registry {
	return &Registry{
		jobs:     make(map[string]*Job),
		reserved: make(map[string]struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Reserve は id をディスク上の準備のために確保します。
// 処理中または確保済みの場合は ErrJobAlreadyRunning を返します。
// 確保している間は Start も ErrJobAlreadyRunning で拒否されます。
func (r *Registry) Reserve(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.reserved[id]; ok {
		return ErrJobAlreadyRunning
	}
	if job, ok := r.jobs[id]; ok && job.Status == StatusProcessing {
		return ErrJobAlreadyRunning
	}
	r.reserved[id] = struct{}{}
	return nil
}

// Release は Reserve で確保した id を解放します。
func (r *Registry) Release(id string) {
	r.mu.Lock()
	delete(r.reserved, id)
	r.mu.Unlock()
}

// Submit はジョブを登録します。同じIDが処理中の場合は ErrJobAlreadyRunning を返します。
func (r *Registry) Submit(job Job) (SubmitOutcome, JobView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	outcome := Created
	if existing, ok := r.jobs[job.Identity]; ok {
		if existing.Status == StatusProcessing {
			return Existing, existing.view(), ErrJobAlreadyRunning
		}
		outcome = Existing
	}
	if job.Status == "" {
		job.Status = StatusSubmitted
	}
	job.UpdatedAt = r.now()
	stored := job
	r.jobs[job.Identity] = &stored
	return outcome, stored.view(), nil
}

// Start はジョブを processing に遷移させます。
func (r *Registry) Start(id string) (JobView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return JobView{}, ErrJobNotFound
	}
	if _, ok := r.reserved[id]; ok || job.Status == StatusProcessing {
		return job.view(), ErrJobAlreadyRunning
	}
	job.Status = StatusProcessing
	job.Phase = ""
	job.Error = ""
	job.cancelRequested = false
	job.UpdatedAt = r.now()
	return job.view(), nil
}

// RequestCancel は処理中のジョブに停止要求を記録します。
// 要求は次の Start まで残り、まだ Dispatcher に渡っていない実行も開始時にこれを見て止まります。
func (r *Registry) RequestCancel(id string) (JobView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return JobView{}, ErrJobNotFound
	}
	if job.Status != StatusProcessing {
		return job.view(), ErrJobNotRunning
	}
	job.cancelRequested = true
	return job.view(), nil
}

// CancelRequested は現在の実行に停止要求が出ているかを返します。
func (r *Registry) CancelRequested(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	return ok && job.cancelRequested
}

// SetTotal は開いた文書から得た総ページ数で登録内容を更新します。
func (r *Registry) SetTotal(id string, total int) (JobView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return JobView{}, ErrJobNotFound
	}
	job.TotalPages = total
	if job.Completed > total {
		job.Completed = total
	}
	job.UpdatedAt = r.now()
	return job.view(), nil
}

// UpdateProgress は完了ページ数と進捗フェーズを更新します。
func (r *Registry) UpdateProgress(id string, completed int, phase Phase) (JobView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return JobView{}, ErrJobNotFound
	}
	job.Completed = completed
	job.Phase = phase
	job.UpdatedAt = r.now()
	return job.view(), nil
}

// Finish は終了状態を記録します。
func (r *Registry) Finish(id string, status Status, completed int, errMsg, outputPath string) (JobView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return JobView{}, ErrJobNotFound
	}
	job.Status = status
	job.Completed = completed
	job.Error = errMsg
	if outputPath != "" {
		job.OutputPath = outputPath
	}
	job.UpdatedAt = r.now()
	return job.view(), nil
}

// Get はジョブのスナップショットを返します。
func (r *Registry) Get(id string) (JobView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return JobView{}, ErrJobNotFound
	}
	return job.view(), nil
}

// Lookup は内部状態のコピーを返します。
func (r *Registry) Lookup(id string) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *job, nil
}

// List は全ジョブのスナップショットをID順で返します。
func (r *Registry) List() []JobView {
	r.mu.Lock()
	views := make([]JobView, 0, len(r.jobs))
	for _, job := range r.jobs {
		views = append(views, job.view())
	}
	r.mu.Unlock()

	sort.Slice(views, func(i, j int) bool { return views[i].JobID < views[j].JobID })
	return views
}
