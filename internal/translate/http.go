// Package translate は翻訳ジョブの HTTP ハンドラーを提供します。
package translate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/paper-lingo/internal/document"
	"github.com/yourusername/paper-lingo/internal/jobs"
)

// Service は Web 層が利用するジョブ操作です。
type Service interface {
	SubmitJob(ctx context.Context, name string, content []byte, opts jobs.SubmitOptions) (*jobs.Submission, error)
	StartJob(ctx context.Context, id string) error
	PollJob(id string) (jobs.JobView, error)
	ListJobs() []jobs.JobView
	FetchOutput(id string) (*jobs.Artifact, error)
	CancelJob(id string) error
	ClearCache(ctx context.Context) error
	CacheSize() int
}

// Subscriber はジョブ更新の WebSocket 配信を受け持ちます。
type Subscriber interface {
	ServeWS(w http.ResponseWriter, r *http.Request, jobID string, initial []jobs.JobView)
}

// HandlerOptions はハンドラーの設定です。
type HandlerOptions struct {
	// MaxFileSize はアップロードの上限バイト数です。0 以下なら無制限です。
	MaxFileSize int64
}

// RegisterRoutes は /api/translate 配下のルートを登録します。
func RegisterRoutes(group *gin.RouterGroup, svc Service, sub Subscriber, opts HandlerOptions) {
	group.POST("/upload", UploadHandler(svc, opts))
	group.GET("/jobs", ListHandler(svc))
	group.POST("/jobs/:id/start", StartHandler(svc))
	group.GET("/jobs/:id", PollHandler(svc))
	group.GET("/jobs/:id/download", DownloadHandler(svc))
	group.POST("/jobs/:id/cancel", CancelHandler(svc))
	if sub != nil {
		group.GET("/jobs/:id/events", EventsHandler(svc, sub))
	}
	group.GET("/cache", CacheStatsHandler(svc))
	group.DELETE("/cache", ClearCacheHandler(svc))
}

// UploadHandler は POST /api/translate/upload のハンドラーを返します。
func UploadHandler(svc Service, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if opts.MaxFileSize > 0 {
			// multipart のヘッダー分の余裕を持たせる
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, opts.MaxFileSize+1<<20)
		}

		form, err := c.MultipartForm()
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				respondWithError(c, jobs.ErrFileTooLarge)
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "multipart/form-data でファイルを送信してください。",
			})
			return
		}
		defer form.RemoveAll()

		file, err := extractSingleFile(form)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": err.Error(),
			})
			return
		}
		if opts.MaxFileSize > 0 && file.Size > opts.MaxFileSize {
			respondWithError(c, jobs.ErrFileTooLarge)
			return
		}

		forceRestart, err := parseBool(c.PostForm("force_restart"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "force_restart は true または false で指定してください。",
			})
			return
		}

		content, err := readFileHeader(file)
		if err != nil {
			respondWithError(c, err)
			return
		}

		submission, err := svc.SubmitJob(c.Request.Context(), file.Filename, content, jobs.SubmitOptions{ForceRestart: forceRestart})
		if err != nil {
			respondWithError(c, err)
			return
		}

		status := http.StatusOK
		if submission.Created {
			status = http.StatusCreated
		}
		c.JSON(status, submission)
	}
}

// ListHandler は GET /api/translate/jobs のハンドラーを返します。
func ListHandler(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"jobs": svc.ListJobs()})
	}
}

// StartHandler は POST /api/translate/jobs/:id/start のハンドラーを返します。
func StartHandler(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := svc.StartJob(c.Request.Context(), id); err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"jobId": id, "status": jobs.StatusProcessing})
	}
}

// PollHandler は GET /api/translate/jobs/:id のハンドラーを返します。
func PollHandler(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := svc.PollJob(c.Param("id"))
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

// DownloadHandler は GET /api/translate/jobs/:id/download のハンドラーを返します。
func DownloadHandler(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		artifact, err := svc.FetchOutput(id)
		if err != nil {
			respondWithError(c, err)
			return
		}
		defer artifact.File.Close()

		streamArtifact(c, id, artifact)
	}
}

// CancelHandler は POST /api/translate/jobs/:id/cancel のハンドラーを返します。
func CancelHandler(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := svc.CancelJob(id); err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"jobId": id, "message": "キャンセルを受け付けました。"})
	}
}

// EventsHandler は GET /api/translate/jobs/:id/events のハンドラーを返します。
// 接続直後に現在の状態を送り、以降は更新のたびに1メッセージを送ります。
func EventsHandler(svc Service, sub Subscriber) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		view, err := svc.PollJob(id)
		if err != nil {
			respondWithError(c, err)
			return
		}
		sub.ServeWS(c.Writer, c.Request, id, []jobs.JobView{view})
	}
}

// CacheStatsHandler は GET /api/translate/cache のハンドラーを返します。
func CacheStatsHandler(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"entries": svc.CacheSize()})
	}
}

// ClearCacheHandler は DELETE /api/translate/cache のハンドラーを返します。
func ClearCacheHandler(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.ClearCache(c.Request.Context()); err != nil {
			respondWithError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func respondWithError(c *gin.Context, err error) {
	status, code, message := classifyError(err)
	c.JSON(status, gin.H{
		"code":    code,
		"message": message,
	})
}

func classifyError(err error) (int, string, string) {
	switch {
	case errors.Is(err, jobs.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_INPUT", "ファイル名と内容を指定してください。"
	case errors.Is(err, document.ErrUnsupported):
		return http.StatusBadRequest, "UNSUPPORTED_FILE", "対応していないファイル形式です。PDF, EPUB またはテキストファイルを選択してください。"
	case errors.Is(err, jobs.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, "LIMIT_EXCEEDED", "ファイルサイズが上限を超えています。"
	case errors.Is(err, jobs.ErrJobAlreadyRunning):
		return http.StatusConflict, "JOB_ALREADY_RUNNING", "このジョブは既に処理中です。"
	case errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound, "JOB_NOT_FOUND", "ジョブが見つかりません。ファイルを再度アップロードしてください。"
	case errors.Is(err, jobs.ErrNotReady):
		return http.StatusConflict, "NOT_READY", "翻訳はまだ完了していません。"
	case errors.Is(err, jobs.ErrOutputMissing):
		return http.StatusNotFound, "OUTPUT_MISSING", "翻訳結果のファイルが見つかりません。最初からやり直してください。"
	case errors.Is(err, jobs.ErrJobNotRunning):
		return http.StatusConflict, "JOB_NOT_RUNNING", "処理中のジョブではありません。"
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, "REQUEST_CANCELED", "リクエストがキャンセルされました。"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "サーバー内部でエラーが発生しました。"
	}
}

func extractSingleFile(form *multipart.Form) (*multipart.FileHeader, error) {
	if form == nil {
		return nil, errors.New("翻訳するファイルを選択してください。")
	}
	if file := form.File["file"]; len(file) > 0 {
		return file[0], nil
	}
	if file := form.File["file[]"]; len(file) > 0 {
		return file[0], nil
	}
	return nil, errors.New("翻訳するファイルを選択してください。")
}

func readFileHeader(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return data, nil
}

func parseBool(raw string) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}

func streamArtifact(c *gin.Context, id string, artifact *jobs.Artifact) {
	const contentType = "text/plain; charset=utf-8"
	encodedName := url.PathEscape(artifact.DownloadName)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", artifact.DownloadName, encodedName))
	c.Header("Cache-Control", "no-store")
	c.Header("X-Job-Id", id)
	c.DataFromReader(http.StatusOK, artifact.Size, contentType, artifact.File, nil)
}
