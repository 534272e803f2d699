// Package checkpoint はジョブごとの再開位置を永続化します。
//
// last_completed_page はそのページの出力が fsync された後にのみ進みます。
// 読み込めないチェックポイントは「進捗なし」として扱い、処理を止めません。
package checkpoint

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"
)

// Status はチェックポイント上の実行状態です。
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// NoPage は完了ページが無いことを表す last_completed_page の値です。
const NoPage = -1

// Checkpoint は1ジョブ分の永続化された進捗です。
type Checkpoint struct {
	Identity          string    `json:"identity" firestore:"identity"`
	TotalPages        int       `json:"total_pages" firestore:"total_pages"`
	LastCompletedPage int       `json:"last_completed_page" firestore:"last_completed_page"`
	Status            Status    `json:"status" firestore:"status"`
	OutputPath        string    `json:"output_path" firestore:"output_path"`
	OutputSize        int64     `json:"output_size" firestore:"output_size"`
	Error             string    `json:"error,omitempty" firestore:"error,omitempty"`
	UpdatedAt         time.Time `json:"updated_at" firestore:"updated_at"`
}

// ResumePoint は次に処理すべきページ番号（0始まり）を返します。
func (c *Checkpoint) ResumePoint() int {
	if c == nil {
		return 0
	}
	return c.LastCompletedPage + 1
}

// Store はチェックポイントの保存先です。
// Load は存在しない場合に nil, nil を返します。
type Store interface {
	Load(ctx context.Context, id string) (*Checkpoint, error)
	Save(ctx context.Context, cp *Checkpoint) error
	Clear(ctx context.Context, id string) error
}

var errInvalidID = errors.New("checkpoint id is invalid")

func validateID(id string) error {
	if strings.TrimSpace(id) == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return errInvalidID
	}
	return nil
}

func logf(logger *log.Logger, format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
