package text

import (
	"regexp"
	"strings"
)

type INormalizer interface {
	Normalize(text string) string
}

type Language string

const (
	ENGLISH Language = "en"
	SPANISH Language = "es"
)

// Fillers are hesitation sounds and backchannels that carry no request on
// their own. A transcript made only of these does not start a turn.
var Fillers = map[Language][]string{
	ENGLISH: {
		"uh", "um", "umm", "uhm", "ah", "er", "erm", "eh", "hm", "hmm", "hmmm", "mm", "mhm",
		"uh-huh", "huh", "oh", "ooh", "ahh",
	},
	SPANISH: {
		"eh", "em", "este", "pues", "mmm", "ah", "oh",
	},
}

var punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s-]+`)

// FillerFilter strips filler words from transcripts.
type FillerFilter struct {
	fillers map[string]struct{}
}

func NewFillerFilter(language Language) *FillerFilter {
	f := &FillerFilter{fillers: make(map[string]struct{})}
	for _, w := range Fillers[language] {
		f.fillers[w] = struct{}{}
	}
	return f
}

// Normalize lowercases, drops punctuation and removes filler tokens.
func (f *FillerFilter) Normalize(input string) string {
	input = punctuation.ReplaceAllString(strings.ToLower(input), "")

	var kept []string
	for _, w := range strings.Fields(input) {
		if _, filler := f.fillers[strings.Trim(w, "-")]; !filler {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

// IsFillerOnly reports whether text has no content besides fillers.
func (f *FillerFilter) IsFillerOnly(text string) bool {
	return f.Normalize(text) == ""
}
