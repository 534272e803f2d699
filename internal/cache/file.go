package cache

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/yourusername/paper-lingo/internal/storage"
)

const (
	logFileName = "translations.jsonl"
	// compactMinRecords 未満のログは重複があっても圧縮しない
	compactMinRecords = 1024
	maxRecordSize     = 16 << 20
)

type record struct {
	Key  string `json:"k"`
	Text string `json:"v"`
}

// FileStore はキャッシュを JSON Lines の追記ログに保存します。
// 起動時にログを再生し、重複が増えたらスナップショットで置き換えます。
type FileStore struct {
	path   string
	logger *log.Logger

	// writeMu は追記と圧縮を直列化する
	writeMu sync.Mutex
	f       *os.File
	records int

	mu      sync.RWMutex
	entries map[string]string
}

// OpenFileStore は dir 配下のキャッシュログを再生して FileStore を返します。
// 壊れた行は読み飛ばし、末尾の書きかけの行も含めて次の圧縮で取り除きます。
func OpenFileStore(dir string, logger *log.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("cache dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	s := &FileStore{
		path:    filepath.Join(dir, logFileName),
		logger:  logger,
		entries: make(map[string]string),
	}

	skipped, err := s.replay()
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		logf(logger, "cache log %s had %d unreadable records, compacting", s.path, skipped)
	}
	if skipped > 0 || s.needsCompaction() {
		if err := s.compact(); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open cache log: %w", err)
	}
	s.f = f
	return s, nil
}

func (s *FileStore) replay() (int, error) {
	f, err := os.Open(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("read cache log: %w", err)
	}
	defer f.Close()

	skipped := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxRecordSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil || rec.Key == "" {
			skipped++
			continue
		}
		s.entries[rec.Key] = rec.Text
		s.records++
	}
	if err := scanner.Err(); err != nil {
		// 以降の行は読めないので、読めた分だけで続行する
		logf(s.logger, "cache log %s truncated at unreadable record: %v", s.path, err)
		skipped++
	}
	return skipped, nil
}

// Get はキャッシュ済みの翻訳を返します。
func (s *FileStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok := s.entries[key]
	return text, ok
}

// Put は翻訳結果をログへ追記します。
func (s *FileStore) Put(ctx context.Context, key, text string) error {
	line, err := json.Marshal(record{Key: key, Text: text})
	if err != nil {
		return fmt.Errorf("encode cache record: %w", err)
	}
	line = append(line, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.f == nil {
		return errors.New("cache store is closed")
	}
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("append cache record: %w", err)
	}
	s.records++

	s.mu.Lock()
	s.entries[key] = text
	s.mu.Unlock()

	if s.needsCompaction() {
		if err := s.compactAndReopen(); err != nil {
			logf(s.logger, "cache compaction failed: %v", err)
		}
	}
	return nil
}

// Clear はキャッシュを全件削除します。
func (s *FileStore) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.entries = make(map[string]string)
	s.mu.Unlock()

	if s.f != nil {
		if err := s.f.Truncate(0); err != nil {
			return fmt.Errorf("truncate cache log: %w", err)
		}
	}
	s.records = 0
	return nil
}

// Len は保持しているエントリ数を返します。
func (s *FileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close はログファイルを閉じます。
func (s *FileStore) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *FileStore) needsCompaction() bool {
	s.mu.RLock()
	live := len(s.entries)
	s.mu.RUnlock()
	return s.records >= compactMinRecords && s.records > 2*live
}

// compact は現在のエントリだけを含むログでファイルを置き換えます。writeMu を保持して呼びます。
func (s *FileStore) compact() error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	s.mu.RLock()
	for k, v := range s.entries {
		if err := enc.Encode(record{Key: k, Text: v}); err != nil {
			s.mu.RUnlock()
			return fmt.Errorf("encode cache record: %w", err)
		}
	}
	n := len(s.entries)
	s.mu.RUnlock()

	if err := storage.WriteFileAtomic(s.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write cache snapshot: %w", err)
	}
	s.records = n
	return nil
}

func (s *FileStore) compactAndReopen() error {
	if err := s.compact(); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopen cache log: %w", err)
	}
	old := s.f
	s.f = f
	if old != nil {
		_ = old.Close()
	}
	return nil
}
