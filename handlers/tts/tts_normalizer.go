package tts

import (
	"regexp"
	"strings"
)

func normalizeTextForTTS(text string, expandAbbreviations bool) string {
	text = removeMarkdown(text)
	if expandAbbreviations {
		text = expandMedical(text)
	}
	text = removeEmojis(text)
	text = multipleSpacesRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func removeMarkdown(text string) string {
	text = linkRegex.ReplaceAllString(text, "$1")
	text = headingRegex.ReplaceAllString(text, "")
	text = bulletRegex.ReplaceAllString(text, "")
	return emphasisRegex.ReplaceAllString(text, "")
}

func removeEmojis(text string) string {
	return emojiRegex.ReplaceAllString(text, "")
}

func expandMedical(text string) string {
	for _, r := range abbreviations {
		text = r.pattern.ReplaceAllString(text, r.spoken)
	}
	return text
}

type abbreviation struct {
	pattern *regexp.Regexp
	spoken  string
}

// Order matters: units bound to a number go before bare acronyms, and the
// degree forms go before emoji removal strips the degree sign.
var abbreviations = []abbreviation{
	{regexp.MustCompile(`(\d)\s*°\s*F\b`), "$1 degrees Fahrenheit"},
	{regexp.MustCompile(`(\d)\s*°\s*C\b`), "$1 degrees Celsius"},
	{regexp.MustCompile(`(\d)\s*mmHg\b`), "$1 millimeters of mercury"},
	{regexp.MustCompile(`(\d)\s*mcg\b`), "$1 micrograms"},
	{regexp.MustCompile(`(\d)\s*mg\b`), "$1 milligrams"},
	{regexp.MustCompile(`(\d)\s*m[lL]\b`), "$1 milliliters"},
	{regexp.MustCompile(`(\d)\s*kg\b`), "$1 kilograms"},
	{regexp.MustCompile(`(\d)\s*bpm\b`), "$1 beats per minute"},
	{regexp.MustCompile(`(\d)\s*-\s*(\d)`), "$1 to $2"},
	{regexp.MustCompile(`\s*/\s*day\b`), " per day"},
	{regexp.MustCompile(`\s*/\s*week\b`), " per week"},
	{regexp.MustCompile(`\bDr\.`), "Doctor"},
	{regexp.MustCompile(`\be\.g\.`), "for example"},
	{regexp.MustCompile(`\bi\.e\.`), "that is"},
	{regexp.MustCompile(`\bvs\.?\s`), "versus "},
	{regexp.MustCompile(`\bapprox\.`), "approximately"},
	{regexp.MustCompile(`\bb\.i\.d\.`), "twice daily"},
	{regexp.MustCompile(`\bt\.i\.d\.`), "three times daily"},
	{regexp.MustCompile(`\bBP\b`), "blood pressure"},
	{regexp.MustCompile(`\bHR\b`), "heart rate"},
	{regexp.MustCompile(`\bER\b`), "emergency room"},
	{regexp.MustCompile(`\bGP\b`), "general practitioner"},
	{regexp.MustCompile(`\bOTC\b`), "over the counter"},
	{regexp.MustCompile(`\bPRN\b`), "as needed"},
}

var (
	linkRegex           = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	headingRegex        = regexp.MustCompile(`(?m)^\s*#{1,6}\s*`)
	bulletRegex         = regexp.MustCompile(`(?m)^\s*[-*+•]\s+`)
	emphasisRegex       = regexp.MustCompile("\\*\\*|__|~~|`|\\*")
	emojiRegex          = regexp.MustCompile(`[\p{So}\p{Sk}\p{Cs}\x{FE0F}\x{200D}]`)
	multipleSpacesRegex = regexp.MustCompile(`\s+`)
)

// A period right after one of these words does not end a sentence.
var nonTerminal = map[string]struct{}{
	"dr": {}, "mr": {}, "mrs": {}, "ms": {}, "st": {}, "vs": {}, "approx": {},
	"e.g": {}, "i.e": {}, "b.i.d": {}, "t.i.d": {},
}

// splitSentence returns the first complete sentence in buf that is at least
// minLen long, and the rest. ok is false when buf holds no such sentence.
func splitSentence(buf string, minLen int) (sentence, rest string, ok bool) {
	for i := 0; i < len(buf)-1; i++ {
		c := buf[i]
		if c == '\n' {
			if i >= minLen && strings.TrimSpace(buf[:i]) != "" {
				return buf[:i], buf[i+1:], true
			}
			continue
		}
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		next := buf[i+1]
		if next != ' ' && next != '\n' && next != '\t' {
			continue
		}
		if c == '.' && isNonTerminal(buf[:i]) {
			continue
		}
		if i+1 < minLen {
			continue
		}
		return buf[:i+1], buf[i+1:], true
	}
	return "", buf, false
}

func isNonTerminal(head string) bool {
	word := head
	if idx := strings.LastIndexAny(head, " \n\t("); idx >= 0 {
		word = head[idx+1:]
	}
	_, ok := nonTerminal[strings.ToLower(word)]
	return ok
}

// splitAtWord cuts buf at the last space before max, for run-on text.
func splitAtWord(buf string, max int) (head, rest string) {
	if len(buf) <= max {
		return buf, ""
	}
	cut := strings.LastIndexAny(buf[:max], ",;: ")
	if cut <= 0 {
		return buf[:max], buf[max:]
	}
	return buf[:cut+1], buf[cut+1:]
}
