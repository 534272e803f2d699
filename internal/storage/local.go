// Package storage はアップロードと成果物のファイル配置、および GCS へのミラーを提供します。
//
// ローカル配置:
//   - アップロード: <UPLOAD_DIR>/<jobID><ext>
//   - 成果物:       <OUTPUT_DIR>/<jobID>_<label>.txt（label は hi, hinglish など）
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Local はローカルファイルシステム上の配置を管理します。
type Local struct {
	uploadDir string
	outputDir string
}

// NewLocal はディレクトリを作成して Local を返します。
func NewLocal(uploadDir, outputDir string) (*Local, error) {
	if uploadDir == "" || outputDir == "" {
		return nil, errors.New("upload and output dirs are required")
	}
	for _, dir := range []string{uploadDir, outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}
	return &Local{uploadDir: uploadDir, outputDir: outputDir}, nil
}

// OutputDir は成果物ディレクトリを返します。
func (l *Local) OutputDir() string {
	return l.outputDir
}

// UploadPath はアップロードの保存先を返します。
func (l *Local) UploadPath(jobID, ext string) string {
	return filepath.Join(l.uploadDir, jobID+strings.ToLower(ext))
}

// OutputPath は成果物の保存先を返します。
func (l *Local) OutputPath(jobID, label string) string {
	return filepath.Join(l.outputDir, fmt.Sprintf("%s_%s.txt", jobID, label))
}

// SaveUpload はアップロード内容を保存し、そのパスを返します。
// 同じ jobID は同じ内容なので既存ファイルは上書きして構いません。
func (l *Local) SaveUpload(jobID, ext string, data []byte) (string, error) {
	if jobID == "" {
		return "", errors.New("jobID is required")
	}
	path := l.UploadPath(jobID, ext)
	if err := WriteFileAtomic(path, data, 0o640); err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	return path, nil
}

// RemoveFile は path を削除します。存在しない場合も成功します。
func RemoveFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
