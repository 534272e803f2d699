package transform

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRomanize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"conjunct with virama", "नमस्ते", "namaste"},
		{"anusvara and long vowel", "हिंदी", "hi.mdii"},
		{"danda", "भारत।", "bhaarata|"},
		{"digits", "२०२४", "2024"},
		{"combining nukta", "ज\u093Cरूर", "zaruura"},
		{"precomposed nukta", "\u095Bरूर", "zaruura"},
		{"vowel after inherent a", "कई", "ka{}ii"},
		{"latin passes through", "Page 1: नमस्ते", "Page 1: namaste"},
		{"no devanagari", "already latin", "already latin"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Romanize(tc.in))
		})
	}
}

func TestRomanizingBackend(t *testing.T) {
	t.Parallel()

	backend := NewRomanizingBackend(BackendFunc(func(ctx context.Context, text string) (string, error) {
		return "नमस्ते " + text, nil
	}))

	out, err := backend.Transform(context.Background(), "world")
	require.NoError(t, err)
	assert.Equal(t, "namaste world", out)
}

func TestRomanizingBackendKeepsPermanentErrors(t *testing.T) {
	t.Parallel()

	rejected := errors.New("rejected")
	backend := NewRomanizingBackend(BackendFunc(func(ctx context.Context, text string) (string, error) {
		return "", Permanent(rejected)
	}))

	client := fastClient(backend)
	_, err := client.Transform(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, rejected)
}
