package transform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultGoogleEndpoint は無償の gtx 翻訳エンドポイントです。
const DefaultGoogleEndpoint = "https://translate.googleapis.com/translate_a/single"

// GoogleOptions は GoogleBackend の設定です。
type GoogleOptions struct {
	Endpoint   string
	SourceLang string
	TargetLang string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// GoogleBackend は Google 翻訳の gtx エンドポイントを呼び出します。
type GoogleBackend struct {
	endpoint string
	source   string
	target   string
	client   *http.Client
}

// NewGoogleBackend は GoogleBackend を作成します。
func NewGoogleBackend(opts GoogleOptions) *GoogleBackend {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultGoogleEndpoint
	}
	source := opts.SourceLang
	if source == "" {
		source = "auto"
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &GoogleBackend{
		endpoint: endpoint,
		source:   source,
		target:   opts.TargetLang,
		client:   client,
	}
}

// Transform は text を翻訳します。
func (b *GoogleBackend) Transform(ctx context.Context, text string) (string, error) {
	if b.target == "" {
		return "", Permanent(errors.New("target language is not configured"))
	}

	query := url.Values{}
	query.Set("client", "gtx")
	query.Set("sl", b.source)
	query.Set("tl", b.target)
	query.Set("dt", "t")
	query.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return "", Permanent(fmt.Errorf("build request: %w", err))
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("translate request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("read translate response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("translate endpoint returned %d", resp.StatusCode)
		if isPermanentStatus(resp.StatusCode) {
			return "", Permanent(err)
		}
		return "", err
	}

	return parseGTXResponse(body)
}

func isPermanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}

// parseGTXResponse は [[["訳文","原文",...],...],...] 形式の応答から訳文を連結します。
func parseGTXResponse(body []byte) (string, error) {
	var payload []json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode translate response: %w", err)
	}
	if len(payload) == 0 {
		return "", errors.New("translate response is empty")
	}

	var segments [][]any
	if err := json.Unmarshal(payload[0], &segments); err != nil {
		return "", fmt.Errorf("decode translate segments: %w", err)
	}

	var sb strings.Builder
	for _, seg := range segments {
		if len(seg) == 0 {
			continue
		}
		if s, ok := seg[0].(string); ok {
			sb.WriteString(s)
		}
	}
	return sb.String(), nil
}
