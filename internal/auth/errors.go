package auth

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// 認証まわりの失敗です。翻訳 API と同じ {code, message} 形式で返します。
var (
	ErrUnauthorized       = errors.New("login required")
	ErrSessionExpired     = errors.New("session expired")
	ErrSessionIdle        = errors.New("session idle timeout")
	ErrCSRFMissing        = errors.New("csrf token missing")
	ErrCSRFInvalid        = errors.New("csrf token mismatch")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMisconfigured      = errors.New("auth is not configured")
)

// LockedError はログイン試行の上限に達したことを表します。
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return "too many login attempts, retry after " + e.RetryAfter.String()
}

func classifyError(err error) (int, string, string) {
	var locked *LockedError
	switch {
	case errors.As(err, &locked):
		return http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "一定時間後に再度お試しください"
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "ユーザー名またはパスワードが正しくありません"
	case errors.Is(err, ErrSessionExpired):
		return http.StatusUnauthorized, "SESSION_EXPIRED", "セッションの有効期限が切れました"
	case errors.Is(err, ErrSessionIdle):
		return http.StatusUnauthorized, "SESSION_IDLE_TIMEOUT", "しばらく操作がなかったため再ログインしてください"
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED", "ログインが必要です"
	case errors.Is(err, ErrCSRFMissing):
		return http.StatusForbidden, "CSRF_MISSING", "CSRF トークンが設定されていません"
	case errors.Is(err, ErrCSRFInvalid):
		return http.StatusForbidden, "CSRF_INVALID", "CSRF トークンが一致しません"
	case errors.Is(err, ErrMisconfigured):
		return http.StatusInternalServerError, "SERVER_MISCONFIGURATION", "認証の設定が不足しています"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "サーバー内部でエラーが発生しました。"
	}
}

// abortWithError はリクエストを中断してエラー応答を返します。
// extra はレスポンスに追加するフィールドです。
func abortWithError(c *gin.Context, err error, extra gin.H) {
	status, code, message := classifyError(err)
	body := gin.H{
		"code":    code,
		"message": message,
	}
	for k, v := range extra {
		body[k] = v
	}

	var locked *LockedError
	if errors.As(err, &locked) {
		seconds := int64(locked.RetryAfter / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		// Retry-After は秒数で返す
		c.Header("Retry-After", strconv.FormatInt(seconds, 10))
		body["retryAfterSeconds"] = seconds
	}
	c.AbortWithStatusJSON(status, body)
}
