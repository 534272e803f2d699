// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// バックエンドの種類
const (
	BackendFile      = "file"
	BackendRedis     = "redis"
	BackendFirestore = "firestore"

	TransformGoogle = "google"
	TransformVertex = "vertex"

	ScriptNative = "native"
	ScriptLatin  = "latin"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// アプリケーション設定
	AppUsername     string // ログイン用ユーザー名（空なら認証なし）
	AppPasswordHash string // bcryptでハッシュ化されたパスワード
	SessionSecret   string // セッション署名用の秘密鍵

	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ファイル制限と保存先
	MaxFileSize int64  // 単一ファイルの最大サイズ（バイト）
	UploadDir   string // アップロードの保存先
	OutputDir   string // 翻訳結果とチェックポイントの保存先
	CacheDir    string // 翻訳キャッシュの保存先

	// 翻訳設定
	MaxChunkSize         int    // 1回の翻訳呼び出しに渡す最大文字数
	TextLinesPerPage     int    // 改ページのないテキストを1ページとみなす行数
	TransformBackend     string // google または vertex
	TranslateEndpoint    string // google バックエンドのエンドポイント
	SourceLang           string // 翻訳元言語
	TargetLang           string // 翻訳先言語
	TargetScript         string // native または latin（latin ならデーヴァナーガリーをローマ字化）
	TransformTimeout     time.Duration
	TransformMaxAttempts int
	TransformBaseDelay   time.Duration
	CacheBackend         string // file または redis
	CheckpointBackend    string // file, redis, firestore
	CheckpointCollection string // Firestore のコレクション名
	RedisURL             string // キャッシュ/チェックポイント用Redis接続URL

	// ジョブ/キュー設定
	QueueRedisURL    string // Asynq用Redis接続URL（空ならプロセス内で実行）
	QueueConcurrency int    // Asynqワーカーの同時実行数

	// GCP設定（本番環境用）
	GCPProject   string // GCPプロジェクトID
	VertexRegion string // Vertex AI のリージョン
	VertexModel  string // Vertex AI のモデル名
	GCSBucket    string // 成果物を複製する Google Cloud Storage バケット名
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// アプリケーション設定
		AppUsername:     getEnv("APP_USERNAME", ""),
		AppPasswordHash: getEnv("APP_PASSWORD_HASH", ""),
		SessionSecret:   getEnv("SESSION_SECRET", ""),

		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// ファイル制限と保存先
		MaxFileSize: getEnvAsInt64("MAX_FILE_SIZE", 50*1024*1024), // 50MB
		UploadDir:   getEnv("UPLOAD_DIR", "./data/uploads"),
		OutputDir:   getEnv("OUTPUT_DIR", "./data/outputs"),
		CacheDir:    getEnv("CACHE_DIR", "./data/cache"),

		// 翻訳設定
		MaxChunkSize:         getEnvAsInt("MAX_CHUNK_SIZE", 4000),
		TextLinesPerPage:     getEnvAsInt("TEXT_LINES_PER_PAGE", 50),
		TransformBackend:     strings.ToLower(getEnv("TRANSFORM_BACKEND", TransformGoogle)),
		TranslateEndpoint:    getEnv("TRANSLATE_ENDPOINT", ""),
		SourceLang:           getEnv("SOURCE_LANG", "en"),
		TargetLang:           getEnv("TARGET_LANG", "hi"),
		TargetScript:         strings.ToLower(getEnv("TARGET_SCRIPT", ScriptNative)),
		TransformTimeout:     time.Duration(getEnvAsInt("TRANSFORM_TIMEOUT_SECONDS", 30)) * time.Second,
		TransformMaxAttempts: getEnvAsInt("TRANSFORM_MAX_ATTEMPTS", 3),
		TransformBaseDelay:   time.Duration(getEnvAsInt("TRANSFORM_BASE_DELAY_MS", 1000)) * time.Millisecond,
		CacheBackend:         strings.ToLower(getEnv("CACHE_BACKEND", BackendFile)),
		CheckpointBackend:    strings.ToLower(getEnv("CHECKPOINT_BACKEND", BackendFile)),
		CheckpointCollection: getEnv("CHECKPOINT_COLLECTION", "checkpoints"),
		RedisURL:             getEnv("REDIS_URL", ""),

		// ジョブ/キュー設定
		QueueRedisURL:    getEnv("QUEUE_REDIS_URL", ""),
		QueueConcurrency: getEnvAsInt("QUEUE_CONCURRENCY", 4),

		// GCP設定
		GCPProject:   getEnv("GCP_PROJECT", ""),
		VertexRegion: getEnv("VERTEX_REGION", "us-central1"),
		VertexModel:  getEnv("VERTEX_MODEL", ""),
		GCSBucket:    getEnv("GCS_BUCKET", ""),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// AuthEnabled はログインが必要な構成かどうかを返します。
func (c *Config) AuthEnabled() bool {
	return c.AppUsername != ""
}

// Romanize は翻訳結果をラテン文字に書き換えるかどうかを返します。
func (c *Config) Romanize() bool {
	return c.TargetScript == ScriptLatin
}

// OutputLabel は成果物のファイル名に付けるラベルを返します。
// ヒンディー語をローマ字化する場合は hinglish になります。
func (c *Config) OutputLabel() string {
	if !c.Romanize() {
		return c.TargetLang
	}
	if c.TargetLang == "hi" {
		return "hinglish"
	}
	return c.TargetLang + "_latn"
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	// ローカル開発では認証設定は任意
	if c.GinMode == "release" || c.AuthEnabled() {
		if c.AppUsername == "" {
			return fmt.Errorf("APP_USERNAME is required in release mode")
		}
		if c.AppPasswordHash == "" {
			return fmt.Errorf("APP_PASSWORD_HASH is required when APP_USERNAME is set")
		}
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required when APP_USERNAME is set")
		}
	}

	if c.TargetLang == "" {
		return fmt.Errorf("TARGET_LANG is required")
	}
	if c.MaxChunkSize <= 0 {
		return fmt.Errorf("MAX_CHUNK_SIZE must be positive, got %d", c.MaxChunkSize)
	}
	if c.TransformMaxAttempts <= 0 {
		return fmt.Errorf("TRANSFORM_MAX_ATTEMPTS must be positive, got %d", c.TransformMaxAttempts)
	}

	switch c.TargetScript {
	case ScriptNative, ScriptLatin:
	default:
		return fmt.Errorf("unknown TARGET_SCRIPT %q", c.TargetScript)
	}

	switch c.TransformBackend {
	case TransformGoogle:
	case TransformVertex:
		if c.GCPProject == "" {
			return fmt.Errorf("GCP_PROJECT is required for TRANSFORM_BACKEND=vertex")
		}
	default:
		return fmt.Errorf("unknown TRANSFORM_BACKEND %q", c.TransformBackend)
	}

	switch c.CacheBackend {
	case BackendFile:
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for CACHE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.CacheBackend)
	}

	switch c.CheckpointBackend {
	case BackendFile:
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for CHECKPOINT_BACKEND=redis")
		}
	case BackendFirestore:
		if c.GCPProject == "" {
			return fmt.Errorf("GCP_PROJECT is required for CHECKPOINT_BACKEND=firestore")
		}
	default:
		return fmt.Errorf("unknown CHECKPOINT_BACKEND %q", c.CheckpointBackend)
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
