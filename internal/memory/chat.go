package memory

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ChatLine is one utterance of a conversation. It encodes as a
// [speaker, text] pair.
type ChatLine struct {
	Name string
	Text string
}

func (c ChatLine) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{c.Name, c.Text})
}

func (c *ChatLine) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("decode chat line: %w", err)
	}
	c.Name, c.Text = pair[0], pair[1]
	return nil
}

func (c ChatLine) String() string {
	return c.Name + ": " + c.Text
}

// Transcript renders lines as "name: text", one per line.
func Transcript(lines []ChatLine) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = l.String()
	}
	return strings.Join(parts, "\n")
}

// TranscriptRunes counts the characters spoken across lines.
func TranscriptRunes(lines []ChatLine) int {
	n := 0
	for _, l := range lines {
		n += utf8.RuneCountInString(l.Text)
	}
	return n
}
