package transform

import (
	"context"
	"strings"
)

// RomanizingBackend は内側の Backend の結果に含まれるデーヴァナーガリー文字を
// Velthuis 方式のラテン文字に書き換えます。
// それ以外の文字はそのまま残します。
type RomanizingBackend struct {
	Backend Backend
}

// NewRomanizingBackend は backend の出力をローマ字化する Backend を返します。
func NewRomanizingBackend(backend Backend) *RomanizingBackend {
	return &RomanizingBackend{Backend: backend}
}

// Transform は内側の Backend を呼び出し、その結果をローマ字化します。
// 内側のエラーは Permanent のマークを含めてそのまま返します。
func (b *RomanizingBackend) Transform(ctx context.Context, text string) (string, error) {
	out, err := b.Backend.Transform(ctx, text)
	if err != nil {
		return "", err
	}
	return Romanize(out), nil
}

const (
	devaVirama = '्'
	devaNukta  = '़'
)

var devaConsonants = map[rune]string{
	'क': "k", 'ख': "kh", 'ग': "g", 'घ': "gh", 'ङ': "\"n",
	'च': "c", 'छ': "ch", 'ज': "j", 'झ': "jh", 'ञ': "~n",
	'ट': ".t", 'ठ': ".th", 'ड': ".d", 'ढ': ".dh", 'ण': ".n",
	'त': "t", 'थ': "th", 'द': "d", 'ध': "dh", 'न': "n",
	'प': "p", 'फ': "ph", 'ब': "b", 'भ': "bh", 'म': "m",
	'य': "y", 'र': "r", 'ल': "l", 'ळ': "L", 'व': "v",
	'श': "\"s", 'ष': ".s", 'स': "s", 'ह': "h",
	'\u0958': "q", '\u0959': ".kh", '\u095A': ".g", '\u095B': "z",
	'\u095C': "R", '\u095D': "Rh", '\u095E': "f", '\u095F': ".y",
}

// 基底子音 + ヌクタを合成済みの子音に対応付けます。
var devaNuktaForms = map[rune]rune{
	'क': '\u0958', 'ख': '\u0959', 'ग': '\u095A', 'ज': '\u095B',
	'ड': '\u095C', 'ढ': '\u095D', 'फ': '\u095E', 'य': '\u095F',
}

var devaVowels = map[rune]string{
	'अ': "a", 'आ': "aa", 'इ': "i", 'ई': "ii", 'उ': "u", 'ऊ': "uu",
	'ऋ': ".r", 'ॠ': ".R", 'ऌ': ".l", 'ए': "e", 'ऐ': "ai", 'ओ': "o", 'औ': "au",
	'ऍ': "e", 'ऑ': "o",
}

var devaVowelSigns = map[rune]string{
	'ा': "aa", 'ि': "i", 'ी': "ii", 'ु': "u", 'ू': "uu",
	'ृ': ".r", 'ॄ': ".R", 'े': "e", 'ै': "ai", 'ो': "o", 'ौ': "au",
	'ॅ': "e", 'ॉ': "o",
}

var devaSigns = map[rune]string{
	'ं': ".m", 'ः': ".h", 'ँ': "/", 'ऽ': ".a", 'ॐ': "O.m",
	'।': "|", '॥': "||",
}

// Romanize はデーヴァナーガリー文字を Velthuis 方式で書き換えます。
// 子音の後に母音記号もヴィラーマもなければ内在母音 a を補います。
func Romanize(s string) string {
	if !containsDevanagari(s) {
		return s
	}
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	// 直前に内在母音 a を出力したかどうか。続く独立母音との間には {} を挟む。
	inherent := false
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == devaNukta {
			continue
		}
		if cons, ok := devaConsonants[r]; ok {
			if i+1 < len(runes) && runes[i+1] == devaNukta {
				if composed, ok := devaNuktaForms[r]; ok {
					cons = devaConsonants[composed]
				}
				i++
			}
			b.WriteString(cons)
			inherent = false
			if i+1 < len(runes) {
				next := runes[i+1]
				if next == devaVirama {
					i++
					continue
				}
				if sign, ok := devaVowelSigns[next]; ok {
					b.WriteString(sign)
					i++
					continue
				}
			}
			b.WriteByte('a')
			inherent = true
			continue
		}
		if v, ok := devaVowels[r]; ok {
			if inherent && strings.ContainsRune("aiu", rune(v[0])) {
				b.WriteString("{}")
			}
			b.WriteString(v)
			inherent = false
			continue
		}
		inherent = false
		if sign, ok := devaVowelSigns[r]; ok {
			b.WriteString(sign)
			continue
		}
		if sign, ok := devaSigns[r]; ok {
			b.WriteString(sign)
			continue
		}
		if r >= '०' && r <= '९' {
			b.WriteRune('0' + (r - '०'))
			continue
		}
		if r == devaVirama {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func containsDevanagari(s string) bool {
	for _, r := range s {
		if r >= 'ऀ' && r <= 'ॿ' {
			return true
		}
	}
	return false
}
