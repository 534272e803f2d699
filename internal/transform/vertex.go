package transform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultVertexModel は VertexBackend が既定で使う Gemini モデルです。
const DefaultVertexModel = "gemini-1.5-pro"

const vertexSystemPrompt = "You are a professional translator. Translate the text the user sends from %s to %s. " +
	"Preserve paragraph breaks, numbers and proper nouns. " +
	"Return ONLY the translated text, without preambles, notes or code fences."

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// VertexOptions は VertexBackend の設定です。
type VertexOptions struct {
	ProjectID  string
	Region     string
	Model      string
	SourceLang string
	TargetLang string
}

// VertexBackend は Vertex AI の Gemini モデルで翻訳します。
type VertexBackend struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewVertexBackend は Vertex AI クライアントを作成します。
func NewVertexBackend(ctx context.Context, opts VertexOptions) (*VertexBackend, error) {
	if opts.ProjectID == "" || opts.Region == "" {
		return nil, errors.New("vertex backend: projectID and region cannot be empty")
	}
	if opts.TargetLang == "" {
		return nil, errors.New("vertex backend: target language is required")
	}
	client, err := genai.NewClient(ctx, opts.ProjectID, opts.Region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	name := opts.Model
	if name == "" {
		name = DefaultVertexModel
	}
	source := opts.SourceLang
	if source == "" {
		source = "the source language"
	}

	model := client.GenerativeModel(name)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(fmt.Sprintf(vertexSystemPrompt, source, opts.TargetLang))},
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.0),
	}

	return &VertexBackend{client: client, model: model}, nil
}

// Transform は text を翻訳します。
func (b *VertexBackend) Transform(ctx context.Context, text string) (string, error) {
	resp, err := b.model.GenerateContent(ctx, genai.Text(text))
	if err != nil {
		return "", classifyVertexError(err)
	}

	out := extractText(resp)
	if out == "" {
		return "", Permanent(errors.New("gemini returned no text"))
	}
	if isRefusal(out) {
		return "", Permanent(fmt.Errorf("gemini response indicates refusal: %q", truncate(out, 120)))
	}
	return out, nil
}

// Close は Vertex AI クライアントを閉じます。
func (b *VertexBackend) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}

func classifyVertexError(err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return Permanent(fmt.Errorf("gemini blocked the request: %w", err))
	}
	switch status.Code(err) {
	case codes.InvalidArgument, codes.PermissionDenied, codes.Unauthenticated, codes.NotFound:
		return Permanent(fmt.Errorf("generate content: %w", err))
	}
	return fmt.Errorf("generate content: %w", err)
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	out := strings.TrimSpace(sb.String())
	out = strings.TrimPrefix(out, "```text")
	out = strings.TrimPrefix(out, "```")
	out = strings.TrimSuffix(out, "```")
	return strings.TrimSpace(out)
}

func isRefusal(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
