package responder

import (
	_ "embed"
	"regexp"
	"strings"
	"unicode"
)

//go:embed prelude.rs
var prelude string

var (
	reInnerAttr   = regexp.MustCompile(`^#\s*!\s*\[[^\]]*\]`)
	reExternCrate = regexp.MustCompile(`^(?:#\s*\[[^\]]*\]\s*)*extern\s+crate\s+[\p{L}\p{N}_]+\s*;`)
)

var quoteNormalizer = strings.NewReplacer(
	"“", `"`, "”", `"`, "„", `"`,
	"‘", "'", "’", "'",
)

// wrapCode turns a snippet into a complete program.
//
// Code that already has a main function, or is sent with --bare, is passed
// through untouched. Otherwise crate-level items (inner attributes and
// extern crate declarations) are hoisted out, the rest becomes the body of
// main, and a snippet that doesn't print anything has its value printed
// with {:?}. Typographic quotes are replaced with ASCII ones unless raw.
func wrapCode(code string, bare, raw bool) string {
	if bare || strings.Contains(code, "fn main()") {
		return code
	}

	header, body := splitHeader(code)
	if !strings.Contains(body, "println!") && !strings.Contains(body, "print!") {
		body = "println!(\"{:?}\", {\n        " + body + "\n    })"
	}
	if !raw {
		body = quoteNormalizer.Replace(body)
	}

	var b strings.Builder
	b.WriteString("#![allow(dead_code)]\n")
	b.WriteString("#![allow(unused_imports)]\n")
	b.WriteString(header)
	b.WriteString("\n")
	b.WriteString(prelude)
	b.WriteString("fn main() -> Result<(), Box<dyn std::error::Error>> {\n")
	b.WriteString("    " + body + ";\n")
	b.WriteString("    Ok(())\n")
	b.WriteString("}\n")
	return b.String()
}

// splitHeader separates leading inner attributes and extern crate items
// from the rest of the snippet.
func splitHeader(code string) (header, body string) {
	pos := skipSpace(code, 0)
	for {
		rest := code[pos:]
		loc := reInnerAttr.FindStringIndex(rest)
		if loc == nil {
			loc = reExternCrate.FindStringIndex(rest)
		}
		if loc == nil {
			break
		}
		pos = skipSpace(code, pos+loc[1])
	}
	return code[:pos], code[pos:]
}

func skipSpace(s string, pos int) int {
	for pos < len(s) {
		r := rune(s[pos])
		if r >= 0x80 || !unicode.IsSpace(r) {
			break
		}
		pos++
	}
	return pos
}
