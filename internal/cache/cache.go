// Package cache はチャンク本文のハッシュをキーに翻訳結果を保持します。
// キャッシュは全ジョブで共有され、明示的な Clear 以外で無効化されません。
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
)

// Store は翻訳結果キャッシュです。
// Get はメモリ上の参照のみでネットワークを待ちません。
type Store interface {
	Get(key string) (string, bool)
	Put(ctx context.Context, key, text string) error
	Clear(ctx context.Context) error
	Len() int
}

// Fingerprint はチャンク本文のキャッシュキーを返します。
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func logf(logger *log.Logger, format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
