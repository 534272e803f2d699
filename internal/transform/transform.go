// Package transform は外部の翻訳バックエンドと、その呼び出しを再試行するクライアントを提供します。
package transform

import (
	"context"
	"errors"
	"fmt"
)

// Backend は text を翻訳して返す外部呼び出しです。
// 再試行しても成功しない失敗は Permanent でラップして返します。
type Backend interface {
	Transform(ctx context.Context, text string) (string, error)
}

// BackendFunc は関数を Backend として扱うためのアダプターです。
type BackendFunc func(ctx context.Context, text string) (string, error)

// Transform は f(ctx, text) を呼び出します。
func (f BackendFunc) Transform(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// ErrTransformUnavailable は再試行を使い切ったことを表します。
var ErrTransformUnavailable = errors.New("transform unavailable")

// UnavailableError は再試行上限に達した際のエラーで、最後の原因を保持します。
type UnavailableError struct {
	Attempts int
	Cause    error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("transform unavailable after %d attempts: %v", e.Attempts, e.Cause)
}

// Is は errors.Is(err, ErrTransformUnavailable) を成立させます。
func (e *UnavailableError) Is(target error) bool {
	return target == ErrTransformUnavailable
}

func (e *UnavailableError) Unwrap() error {
	return e.Cause
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent は再試行しても結果が変わらない失敗として err をマークします。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent は err が Permanent でマークされているかを返します。
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
