package jobs

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxChunkSize は1回の翻訳呼び出しに渡す最大文字数です。
const DefaultMaxChunkSize = 4000

// SplitChunks は text を単語境界で区切り、各チャンクが maxRunes 文字以下になるよう貪欲に詰めます。
// maxRunes を超える単語は単独のチャンクになります。単語の途中では分割しません。
func SplitChunks(text string, maxRunes int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if maxRunes <= 0 {
		return []string{strings.Join(words, " ")}
	}

	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	for _, w := range words {
		wl := utf8.RuneCountInString(w)
		switch {
		case curLen == 0:
			cur.WriteString(w)
			curLen = wl
		case curLen+1+wl <= maxRunes:
			cur.WriteByte(' ')
			cur.WriteString(w)
			curLen += 1 + wl
		default:
			chunks = append(chunks, cur.String())
			cur.Reset()
			cur.WriteString(w)
			curLen = wl
		}
	}
	if curLen > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}
