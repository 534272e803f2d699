// Package auth は翻訳 API を守るセッションログインと CSRF 検証を提供します。
// APP_USERNAME が未設定の構成では、すべてのミドルウェアが素通しになります。
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/paper-lingo/internal/config"
)

const (
	SessionCookieName    = "pl_session"
	sessionKeyUser       = "auth_user"
	sessionKeyIssuedAt   = "issued_at"
	sessionKeyLastActive = "last_activity"
	sessionKeyCSRF       = "csrf_token"

	csrfHeader = "X-CSRF-Token"
)

var (
	maxSessionLifetime = 12 * time.Hour
	// 最終操作時刻はポーリングや進捗の購読でも更新されます。
	idleTimeout        = 30 * time.Minute
	loginWindow        = 15 * time.Minute
	lockDuration       = 10 * time.Minute
	maxLoginAttempts   = 5
)

// SessionMaxAgeSeconds はクッキーの MaxAge に利用する秒数を返します。
func SessionMaxAgeSeconds() int {
	return int(maxSessionLifetime.Seconds())
}

// ContextUserKey は、ハンドラー間でログイン済みユーザー名を共有するためのキーです。
const ContextUserKey = "auth.user"

// Manager はログイン状態の検証とログイン試行の制限を行います。
type Manager struct {
	username     string
	passwordHash []byte
	limiter      *attemptLimiter
	now          func() time.Time
}

// NewManager は設定の APP_USERNAME / APP_PASSWORD_HASH から Manager を作成します。
func NewManager(cfg *config.Config) *Manager {
	m := &Manager{
		limiter: newAttemptLimiter(loginWindow, lockDuration, maxLoginAttempts),
		now:     time.Now,
	}
	if cfg != nil {
		m.username = cfg.AppUsername
		m.passwordHash = []byte(cfg.AppPasswordHash)
	}
	return m
}

// Enabled はログインが必要な構成かどうかを返します。
func (m *Manager) Enabled() bool {
	return m.username != ""
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// sessionResponse はログイン状態の問い合わせ結果です。
type sessionResponse struct {
	AuthEnabled bool       `json:"authEnabled"`
	User        string     `json:"user,omitempty"`
	CSRFToken   string     `json:"csrfToken,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// Login は /auth/login のハンドラーです。成功すると CSRF トークンをヘッダーで返します。
func (m *Manager) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "username と password を JSON で送ってください",
		})
		return
	}
	if !m.Enabled() || len(m.passwordHash) == 0 {
		abortWithError(c, ErrMisconfigured, nil)
		return
	}

	ip := c.ClientIP()
	if err := m.limiter.check(ip); err != nil {
		abortWithError(c, err, nil)
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Username), []byte(m.username)) != 1 ||
		bcrypt.CompareHashAndPassword(m.passwordHash, []byte(req.Password)) != nil {
		remaining := m.limiter.fail(ip)
		abortWithError(c, ErrInvalidCredentials, gin.H{"remainingAttempts": remaining})
		return
	}
	m.limiter.reset(ip)

	token, err := generateToken()
	if err != nil {
		abortWithError(c, fmt.Errorf("generate csrf token: %w", err), nil)
		return
	}

	session := sessions.Default(c)
	now := m.now()
	session.Clear()
	session.Set(sessionKeyUser, m.username)
	session.Set(sessionKeyIssuedAt, now.Unix())
	session.Set(sessionKeyLastActive, now.Unix())
	session.Set(sessionKeyCSRF, token)
	if err := session.Save(); err != nil {
		abortWithError(c, fmt.Errorf("save session: %w", err), nil)
		return
	}

	c.Header(csrfHeader, token)
	c.Status(http.StatusNoContent)
}

// Logout は /auth/logout のハンドラーです。
func (m *Manager) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		abortWithError(c, fmt.Errorf("clear session: %w", err), nil)
		return
	}
	c.Status(http.StatusNoContent)
}

// Session は /auth/session のハンドラーです。
// 画面の再読み込み後に CSRF トークンを取り直すために使います。
func (m *Manager) Session(c *gin.Context) {
	if !m.Enabled() {
		c.JSON(http.StatusOK, sessionResponse{AuthEnabled: false})
		return
	}

	session := sessions.Default(c)
	user, err := m.authenticate(session)
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	token, _ := session.Get(sessionKeyCSRF).(string)
	expiresAt := readUnix(session.Get(sessionKeyIssuedAt)).Add(maxSessionLifetime).UTC()
	c.JSON(http.StatusOK, sessionResponse{
		AuthEnabled: true,
		User:        user,
		CSRFToken:   token,
		ExpiresAt:   &expiresAt,
	})
}

// RequireLogin はセッションを検証するミドルウェアを返します。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}

		session := sessions.Default(c)
		user, err := m.authenticate(session)
		if err != nil {
			abortWithError(c, err, nil)
			return
		}
		c.Set(ContextUserKey, user)
		c.Next()
	}
}

// authenticate はセッションの期限を確認し、有効なら最終操作時刻を更新します。
// 期限切れのセッションは破棄します。
func (m *Manager) authenticate(session sessions.Session) (string, error) {
	user, ok := session.Get(sessionKeyUser).(string)
	if !ok || user == "" || user != m.username {
		return "", ErrUnauthorized
	}

	now := m.now()
	issuedAt := readUnix(session.Get(sessionKeyIssuedAt))
	lastActive := readUnix(session.Get(sessionKeyLastActive))

	var err error
	switch {
	case issuedAt.IsZero() || now.Sub(issuedAt) > maxSessionLifetime:
		err = ErrSessionExpired
	case lastActive.IsZero() || now.Sub(lastActive) > idleTimeout:
		err = ErrSessionIdle
	}
	if err != nil {
		session.Clear()
		_ = session.Save()
		return "", err
	}

	session.Set(sessionKeyLastActive, now.Unix())
	_ = session.Save()
	return user, nil
}

// VerifyCSRF は状態を変えるリクエストの X-CSRF-Token ヘッダーを検証します。
// 進捗の WebSocket やダウンロードは GET なので対象外です。
func (m *Manager) VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() || isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}

		session := sessions.Default(c)
		expected, ok := session.Get(sessionKeyCSRF).(string)
		if !ok || expected == "" {
			abortWithError(c, ErrCSRFMissing, nil)
			return
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(c.GetHeader(csrfHeader))) != 1 {
			abortWithError(c, ErrCSRFInvalid, nil)
			return
		}
		c.Next()
	}
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func readUnix(v interface{}) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
