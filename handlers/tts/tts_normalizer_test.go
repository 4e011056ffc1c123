package tts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTextForTTS(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"markdown", "## Next steps\n- **Rest** and drink `water`", "Next steps Rest and drink water"},
		{"link", "See [the guide](https://example.com) today.", "See the guide today."},
		{"emoji", "Feel better soon 😊🌟", "Feel better soon"},
		{"dose", "Take 500mg twice a day.", "Take 500 milligrams twice a day."},
		{"range", "Take 1-2 tablets every 4-6 hours.", "Take 1 to 2 tablets every 4 to 6 hours."},
		{"temperature", "A fever above 38°C needs attention.", "A fever above 38 degrees Celsius needs attention."},
		{"acronym", "Check your BP at the ER.", "Check your blood pressure at the emergency room."},
		{"pressure", "120/80 mmHg is normal.", "120/80 millimeters of mercury is normal."},
		{"title", "Dr. ARIA here.", "Doctor ARIA here."},
		{"latin", "Fluids, e.g. water, help.", "Fluids, for example water, help."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, normalizeTextForTTS(tc.in, true))
		})
	}
}

func TestNormalizeWithoutAbbreviations(t *testing.T) {
	assert.Equal(t, "Take 500mg.", normalizeTextForTTS("Take *500mg*.", false))
}

func TestSplitSentence(t *testing.T) {
	s, rest, ok := splitSentence("Dr. Smith said hello. How are", 12)
	assert.True(t, ok)
	assert.Equal(t, "Dr. Smith said hello.", s)
	assert.Equal(t, " How are", rest)

	_, _, ok = splitSentence("Ok. Then", 12)
	assert.False(t, ok)

	_, _, ok = splitSentence("It costs 1.5 dollars", 5)
	assert.False(t, ok)

	s, _, ok = splitSentence("First line is long enough\nsecond", 12)
	assert.True(t, ok)
	assert.Equal(t, "First line is long enough", s)
}

func TestSplitAtWord(t *testing.T) {
	head, rest := splitAtWord("alpha beta gamma", 12)
	assert.Equal(t, "alpha beta ", head)
	assert.Equal(t, "gamma", rest)
}
