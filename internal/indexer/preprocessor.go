package indexer

import (
	"strings"
	"unicode"
)

// Preprocess normalizes extracted text before chunking: control and replacement characters are dropped,
// whitespace runs collapse to one space, and the result is trimmed.
func Preprocess(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	pendingSpace := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case unicode.IsControl(r), r == '\ufffd':
			continue
		default:
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}
