// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yourusername/paper-lingo/internal/auth"
	"github.com/yourusername/paper-lingo/internal/config"
	"github.com/yourusername/paper-lingo/internal/jobs"
	"github.com/yourusername/paper-lingo/internal/observability"
	"github.com/yourusername/paper-lingo/internal/stream"
	"github.com/yourusername/paper-lingo/internal/translate"
)

const (
	requestIDHeader = "X-Request-Id"
	shutdownTimeout = 30 * time.Second
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.Default()
	metrics := observability.NewMetrics()
	hub := stream.NewHub(logger)

	svc, resources, err := setupService(ctx, cfg, logger, metrics, hub)
	if err != nil {
		log.Fatalf("Failed to set up translation service: %v", err)
	}

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()
	router.Use(requestID())

	// セッションストアの設定
	sessionSecret := cfg.SessionSecret
	if sessionSecret == "" {
		// 認証なしの開発環境ではプロセスごとの使い捨て鍵で署名する
		sessionSecret = uuid.NewString()
	}
	store := cookie.NewStore([]byte(sessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, store))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	origins := strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowOrigins = origins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-CSRF-Token", // CSRF保護用ヘッダー
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token", requestIDHeader, "X-Job-Id"}
	router.Use(cors.New(corsConfig))

	// ルーティングの設定
	setupRoutes(router, cfg, svc, hub, metrics)

	addr := ":" + cfg.Port
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Starting API server on %s (mode: %s, auth: %t)", addr, cfg.GinMode, cfg.AuthEnabled())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown: %v", err)
	}
	// 実行中のジョブはページ境界で止まり、キャンセル状態のチェックポイントを残す
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Printf("Job shutdown: %v", err)
	}
	resources.Close()
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "paper-lingo-api",
		"version": "0.1.0",
	})
}

// requestID はリクエストごとに ID を払い出し、レスポンスヘッダーに載せます。
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, svc *jobs.Service, hub *stream.Hub, metrics *observability.Metrics) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	authManager := auth.NewManager(cfg)

	api := router.Group("/api")
	{
		authRoutes := api.Group("/auth")
		{
			// ログイン時はセッション未生成なので CSRF 検証は不要
			authRoutes.POST("/login", authManager.Login)
			authRoutes.GET("/session", authManager.Session)
			authRoutes.POST("/logout",
				authManager.RequireLogin(),
				authManager.VerifyCSRF(),
				authManager.Logout,
			)
		}

		protected := api.Group("/translate")
		protected.Use(authManager.RequireLogin(), authManager.VerifyCSRF())
		translate.RegisterRoutes(protected, svc, hub, translate.HandlerOptions{MaxFileSize: cfg.MaxFileSize})
	}
}
