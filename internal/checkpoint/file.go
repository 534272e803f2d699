package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/yourusername/paper-lingo/internal/storage"
)

// FileStore は <dir>/<id>_progress.json にチェックポイントを保存します。
type FileStore struct {
	dir    string
	logger *log.Logger
}

// NewFileStore は FileStore を作成します。
func NewFileStore(dir string, logger *log.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("checkpoint dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// Path は id に対応するチェックポイントファイルのパスを返します。
func (s *FileStore) Path(id string) string {
	return filepath.Join(s.dir, id+"_progress.json")
}

// Load はチェックポイントを読み込みます。
func (s *FileStore) Load(ctx context.Context, id string) (*Checkpoint, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(id))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logf(s.logger, "[job:%s] checkpoint unreadable, ignoring: %v", id, err)
		}
		return nil, nil
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		logf(s.logger, "[job:%s] checkpoint corrupt, ignoring: %v", id, err)
		return nil, nil
	}
	return &cp, nil
}

// Save はチェックポイントを上書き保存します。
func (s *FileStore) Save(ctx context.Context, cp *Checkpoint) error {
	if cp == nil {
		return errors.New("checkpoint is nil")
	}
	if err := validateID(cp.Identity); err != nil {
		return err
	}
	cp.UpdatedAt = time.Now().UTC()
	payload, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return storage.WriteFileAtomic(s.Path(cp.Identity), payload, 0o644)
}

// Clear はチェックポイントを削除します。存在しない場合も成功します。
func (s *FileStore) Clear(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := os.Remove(s.Path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}
