package resolve

import (
	"strings"
	"unicode"
)

// abbreviations rewrites tokens to the short forms UK odds sites print, so
// "Man United" and "Manchester United" reduce to the same string.
var abbreviations = map[string]string{
	"united":     "utd",
	"manchester": "man",
	"saint":      "st",
}

// droppedTokens are club suffixes that carry no identity.
var droppedTokens = map[string]bool{
	"fc": true,
	"sc": true,
}

// Normalize reduces a team name to a comparable form: lowercased,
// punctuation removed, FC/SC tokens dropped, a trailing "City" dropped,
// abbreviations applied, whitespace collapsed.
func Normalize(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '\'' || r == '.':
			// Deleted outright so "Nott'm" and "St." stay single tokens.
		default:
			b.WriteRune(' ')
		}
	}

	tokens := strings.Fields(b.String())
	out := tokens[:0]
	for _, tok := range tokens {
		if droppedTokens[tok] {
			continue
		}
		if short, ok := abbreviations[tok]; ok {
			tok = short
		}
		out = append(out, tok)
	}
	if n := len(out); n > 1 && out[n-1] == "city" {
		out = out[:n-1]
	}
	return strings.Join(out, " ")
}

// AliasText is the form stored in team alias rows: lowercased with
// whitespace collapsed but tokens intact, so operators can still read where
// an alias came from.
func AliasText(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
