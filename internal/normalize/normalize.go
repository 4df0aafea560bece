// Package normalize strips decorative characters from raw utterance text so
// that only speakable content reaches a voice backend.
//
// Clean is a pure function with no failure mode: any input produces a string,
// possibly empty. Callers drop empty results silently.
package normalize

import (
	"strings"
	"unicode"
)

// emojiRanges covers the Unicode blocks commonly used for emoji and other
// decorative pictographs that have no speakable form.
var emojiRanges = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x2190, Hi: 0x21FF, Stride: 1}, // arrows
		{Lo: 0x2600, Hi: 0x26FF, Stride: 1}, // miscellaneous symbols
		{Lo: 0x2700, Hi: 0x27BF, Stride: 1}, // dingbats
		{Lo: 0x2B00, Hi: 0x2BFF, Stride: 1}, // misc symbols and arrows
		{Lo: 0xFE00, Hi: 0xFE0F, Stride: 1}, // variation selectors
	},
	R32: []unicode.Range32{
		{Lo: 0x1F000, Hi: 0x1F02F, Stride: 1}, // mahjong tiles
		{Lo: 0x1F0A0, Hi: 0x1F0FF, Stride: 1}, // playing cards
		{Lo: 0x1F1E6, Hi: 0x1F1FF, Stride: 1}, // regional indicators (flags)
		{Lo: 0x1F300, Hi: 0x1F5FF, Stride: 1}, // misc symbols and pictographs
		{Lo: 0x1F600, Hi: 0x1F64F, Stride: 1}, // emoticons
		{Lo: 0x1F680, Hi: 0x1F6FF, Stride: 1}, // transport and map symbols
		{Lo: 0x1F900, Hi: 0x1F9FF, Stride: 1}, // supplemental symbols
		{Lo: 0x1FA00, Hi: 0x1FAFF, Stride: 1}, // extended pictographs
	},
}

// markupChars are markdown emphasis and structure characters that carry no
// spoken content.
const markupChars = "*_~`#<>|"

// Clean returns text with emoji, markdown emphasis characters, and redundant
// whitespace removed. Leading and trailing whitespace is trimmed. Clean is
// idempotent: Clean(Clean(s)) == Clean(s).
func Clean(text string) string {
	if text == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case unicode.Is(emojiRanges, r):
			// Replace with a space so adjacent words do not fuse.
			b.WriteByte(' ')
		case r == 0x200D: // zero-width joiner used in emoji sequences
		case strings.ContainsRune(markupChars, r):
		default:
			b.WriteRune(r)
		}
	}

	// Collapse runs of whitespace and trim the ends.
	return strings.Join(strings.Fields(b.String()), " ")
}
