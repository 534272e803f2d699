package jobs

import (
	"time"

	"github.com/yourusername/paper-lingo/internal/document"
)

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusSubmitted  Status = "submitted"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Phase は直近の進捗通知がページ処理の開始か完了かを表します。
type Phase string

const (
	PhaseProcessing Phase = "processing"
	PhaseCompleted  Phase = "completed"
)

// Job はレジストリが保持するジョブの状態です。
type Job struct {
	Identity   string
	Filename   string
	SourcePath string
	Kind       document.Kind
	TotalPages int
	Status     Status
	Completed  int
	Phase      Phase
	Error      string
	OutputPath string
	UpdatedAt  time.Time

	cancelRequested bool
}

// JobView は呼び出し側へ返すジョブのスナップショットです。
type JobView struct {
	JobID     string    `json:"jobId"`
	Filename  string    `json:"filename"`
	Status    Status    `json:"status"`
	Completed int       `json:"completed"`
	Total     int       `json:"total"`
	Phase     Phase     `json:"phase,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (j *Job) view() JobView {
	return JobView{
		JobID:     j.Identity,
		Filename:  j.Filename,
		Status:    j.Status,
		Completed: j.Completed,
		Total:     j.TotalPages,
		Phase:     j.Phase,
		Error:     j.Error,
		UpdatedAt: j.UpdatedAt,
	}
}

// Progress は処理中のページ進捗です。Completed は完了済みページ数です。
type Progress struct {
	Completed int
	Total     int
	Phase     Phase
}
