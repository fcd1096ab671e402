package feed

import (
	"html"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// typographicReplacer maps entities that survive a first decoding pass (double
// encoded input) and the typographic glyphs themselves to plain text.
var typographicReplacer = strings.NewReplacer(
	"&rsquo;", "'", "\u2019", "'",
	"&lsquo;", "'", "\u2018", "'",
	"&ldquo;", `"`, "\u201c", `"`,
	"&rdquo;", `"`, "\u201d", `"`,
	"&quot;", `"`, "&#34;", `"`, "&#39;", "'",
	"&ndash;", "-", "\u2013", "-",
	"&mdash;", "\u2014",
	"&hellip;", "\u2026",
	"&amp;", "&",
	"&nbsp;", " ", "\u00a0", " ",
)

// CleanTitle decodes HTML entities, normalizes typographic punctuation to
// ASCII, composes Unicode to NFC and collapses whitespace.
func CleanTitle(raw string) string {
	s := html.UnescapeString(raw)
	s = typographicReplacer.Replace(s)
	s = norm.NFC.String(s)
	return strings.Join(strings.Fields(s), " ")
}
