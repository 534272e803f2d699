package storage

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"net/http"
	"os"
	"path"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// Mirror は完成した成果物を外部ストレージへ複製します。
type Mirror interface {
	Upload(ctx context.Context, jobID, localPath string) (string, error)
}

const gcsPrefix = "translations"

// GCSMirror は成果物を gs://<bucket>/translations/<jobID>.txt へ複製します。
type GCSMirror struct {
	bucket     *gcs.BucketHandle
	bucketName string
}

// NewGCSMirror は GCSMirror を作成します。
func NewGCSMirror(client *gcs.Client, bucket string) (*GCSMirror, error) {
	if client == nil {
		return nil, errors.New("storage client is nil")
	}
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return &GCSMirror{bucket: client.Bucket(bucket), bucketName: bucket}, nil
}

// ObjectName は jobID のオブジェクト名を返します。
func ObjectName(jobID string) string {
	return path.Join(gcsPrefix, jobID+".txt")
}

// Upload は localPath を GCS へ書き込み、gs:// URI を返します。
// 同じ内容のオブジェクトが既にある場合は書き込みを省略します。
func (m *GCSMirror) Upload(ctx context.Context, jobID, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	crc, size, err := checksum(f)
	if err != nil {
		return "", fmt.Errorf("checksum artifact: %w", err)
	}

	objectName := ObjectName(jobID)
	uri := fmt.Sprintf("gs://%s/%s", m.bucketName, objectName)
	obj := m.bucket.Object(objectName)

	var cond gcs.Conditions
	attrs, err := obj.Attrs(ctx)
	switch {
	case errors.Is(err, gcs.ErrObjectNotExist):
		cond = gcs.Conditions{DoesNotExist: true}
	case err != nil:
		return "", fmt.Errorf("failed to read GCS object attrs: %w", err)
	case attrs.Size == size && attrs.CRC32C == crc:
		return uri, nil
	default:
		cond = gcs.Conditions{GenerationMatch: attrs.Generation}
	}

	w := obj.If(cond).NewWriter(ctx)
	w.ContentType = "text/plain; charset=utf-8"
	w.CRC32C = crc
	w.SendCRC32C = true

	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		if isPreconditionFailed(err) {
			return uri, nil
		}
		return "", fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		// 別の書き込みが先に完了した
		if isPreconditionFailed(err) {
			return uri, nil
		}
		return "", fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return uri, nil
}

// checksum は f の CRC32C とサイズを計算し、読み取り位置を先頭に戻します。
func checksum(f *os.File) (uint32, int64, error) {
	h := crc32.New(crc32.MakeTable(crc32.Castagnoli))
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, 0, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, 0, err
	}
	return h.Sum32(), n, nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
