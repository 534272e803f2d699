// Package identity はドキュメント名と内容からジョブIDを導出します。
package identity

import (
	"crypto/sha256"
	"encoding/hex"
)

// Token はドキュメントを一意に識別する16進文字列です。
type Token string

// String は Token を文字列として返します。
func (t Token) String() string {
	return string(t)
}

// Compute は name と content から決定的な Token を計算します。
// 名前が変わっても、内容が1バイトでも変わっても異なる Token になります。
func Compute(name string, content []byte) Token {
	contentSum := sha256.Sum256(content)
	sum := sha256.Sum256([]byte(name + "_" + hex.EncodeToString(contentSum[:])))
	return Token(hex.EncodeToString(sum[:]))
}
