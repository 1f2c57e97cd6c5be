package responder

import (
	"html"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/width"
)

// Group chats get a short preview of program output.
const (
	groupMaxLines   = 3
	groupMaxColumns = groupMaxLines * 72
)

var minimalEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// escapeText escapes text for the platform's HTML parse mode.
func escapeText(s string) string {
	return minimalEscaper.Replace(s)
}

// escapeAttr escapes a value placed inside a double-quoted attribute.
func escapeAttr(s string) string {
	return html.EscapeString(s)
}

// runeWidth returns the display width of r, counting East Asian wide,
// fullwidth, and ambiguous characters as two columns.
func runeWidth(r rune) int {
	switch width.LookupRune(r).Kind() {
	case width.EastAsianWide, width.EastAsianFullwidth, width.EastAsianAmbiguous:
		return 2
	default:
		return 1
	}
}

// stringWidth sums runeWidth over s.
func stringWidth(s string) int {
	n := 0
	for _, r := range s {
		n += runeWidth(r)
	}
	return n
}

// truncateOutput cuts output after maxLines lines or maxColumns display
// columns, whichever comes first, and marks the cut with "...".
// When the column limit is hit, enough trailing characters are dropped to
// make room for the marker.
func truncateOutput(output string, maxLines, maxColumns int) string {
	lines, columns := 0, 0
	for pos, r := range output {
		columns += runeWidth(r)
		if columns > maxColumns {
			prefix := output[:pos]
			freed := 0
			for prefix != "" {
				last, size := utf8.DecodeLastRuneInString(prefix)
				prefix = prefix[:len(prefix)-size]
				freed += runeWidth(last)
				if freed >= 3 {
					return prefix + "..."
				}
			}
			return "..."
		}
		if r == '\n' {
			lines++
			if lines == maxLines {
				return output[:pos] + "..."
			}
		}
	}
	return output
}
