// File: internal/extract/code.go

// Package extract implements the multi-strategy code-extraction pipeline.
// Strategies are independent, side-effect-free reads over page content,
// tried in fixed confidence order until one yields a valid code.
package extract

import "regexp"

// codeScan finds code-shaped tokens inside arbitrary text.
var codeScan = regexp.MustCompile(`\b([A-Z0-9]{6})\b`)

// codeExact accepts only a bare code-shaped token.
var codeExact = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// falsePositives rejects six-character words the challenge pages use as UI
// text. These match the code shape but are never codes.
var falsePositives = regexp.MustCompile(`^(SUBMIT|SCROLL|CLICKS?|REVEAL|BUTTON|HIDDEN|STEP\d+|HELLOA|CANVAS|MOVING|COMPLE|DECODE|STRING|BASE64|PLEASE|SELECT|OPTION|WINDOW|DOCUME|FUNCTI|RETURN|OBJECT|SCRIPT|TYPEOF|NUMBER|LENGTH|FILTER|CONCAT|IMPORT|EXPORT|MODULE|REQUIR)$`)

// ValidCode reports whether the candidate has the exact code shape and is
// not a known UI word.
func ValidCode(candidate string) bool {
	return codeExact.MatchString(candidate) && !falsePositives.MatchString(candidate)
}

// FindCodes returns every valid code-shaped token in the text, in order of
// appearance, without duplicates.
func FindCodes(text string) []string {
	seen := make(map[string]bool)
	var codes []string
	for _, m := range codeScan.FindAllStringSubmatch(text, -1) {
		c := m[1]
		if !ValidCode(c) || seen[c] {
			continue
		}
		seen[c] = true
		codes = append(codes, c)
	}
	return codes
}
