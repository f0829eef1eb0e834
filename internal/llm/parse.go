package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var errNoMatch = errors.New("no match in response")

// matchFirst returns the first capture group of the first pattern matching
// any line of response, trying patterns in order.
func matchFirst(response string, patterns ...*regexp.Regexp) (string, error) {
	lines := responseLines(response)
	for _, re := range patterns {
		for _, line := range lines {
			if m := re.FindStringSubmatch(line); m != nil {
				return strings.TrimSpace(m[len(m)-1]), nil
			}
		}
	}
	return "", errNoMatch
}

// matchLast is matchFirst scanning lines bottom-up, for answers that close a
// reasoning block.
func matchLast(response string, patterns ...*regexp.Regexp) (string, error) {
	lines := responseLines(response)
	for _, re := range patterns {
		for i := len(lines) - 1; i >= 0; i-- {
			all := re.FindAllStringSubmatch(lines[i], -1)
			if len(all) > 0 {
				m := all[len(all)-1]
				return strings.TrimSpace(m[len(m)-1]), nil
			}
		}
	}
	return "", errNoMatch
}

// matchAll collects the capture groups of every line matched by the first
// pattern that matches anything.
func matchAll(response string, patterns ...*regexp.Regexp) [][]string {
	lines := responseLines(response)
	for _, re := range patterns {
		var out [][]string
		for _, line := range lines {
			if m := re.FindStringSubmatch(line); m != nil {
				groups := make([]string, len(m)-1)
				for i, g := range m[1:] {
					groups[i] = strings.TrimSpace(g)
				}
				out = append(out, groups)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func responseLines(response string) []string {
	var out []string
	for _, l := range strings.Split(response, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

var numberedLine = []*regexp.Regexp{
	regexp.MustCompile(`^\d{1,2}[.)]\s+(.+?)\.?$`),
}

// parseNumbered reads "1. item" or "1) item" lines.
func parseNumbered(response string) ([]string, error) {
	rows := matchAll(response, numberedLine...)
	if len(rows) == 0 {
		return nil, fmt.Errorf("numbered list: %w", errNoMatch)
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if r[0] != "" {
			out = append(out, r[0])
		}
	}
	return out, nil
}

var scorePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rating[:：\s]+(\d{1,2})`),
	regexp.MustCompile(`(\d{1,2})`),
}

// parseScore reads a 1-10 rating, preferring an explicit "Rating: N".
func parseScore(response string) (int, error) {
	s, err := matchLast(response, scorePatterns...)
	if err != nil {
		return 0, fmt.Errorf("rating: %w", err)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("rating: %w", err)
	}
	return min(max(n, 1), 10), nil
}

var noWord = regexp.MustCompile(`(?i)\bno\b|\bnot\b`)

// parseYesNo treats any "no"/"not" as a negative answer.
func parseYesNo(response string) (bool, error) {
	if strings.TrimSpace(response) == "" {
		return false, fmt.Errorf("yes/no: empty response")
	}
	return !noWord.MatchString(response), nil
}

// extractJSON decodes the first {...} block of response into v.
func extractJSON(response string, v any) error {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in response")
	}
	if err := json.Unmarshal([]byte(response[start:end+1]), v); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// cleanText trims quotes and blank lines from free text.
func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\n\n", "\n")
	return strings.Trim(s, " \n\t\"'“”‘’")
}

// parseText accepts any non-empty response.
func parseText(response string) (string, error) {
	s := cleanText(response)
	if s == "" {
		return "", fmt.Errorf("empty response")
	}
	return s, nil
}

// pick returns the candidate named by answer: exact match first, then the
// candidate answer starts with, then the one it contains.
func pick(answer string, candidates []string) (string, bool) {
	answer = strings.Trim(strings.TrimSpace(answer), ".<>\"'")
	for _, c := range candidates {
		if strings.EqualFold(answer, c) {
			return c, true
		}
	}
	for _, c := range candidates {
		if strings.HasPrefix(strings.ToLower(answer), strings.ToLower(c)) {
			return c, true
		}
	}
	for _, c := range candidates {
		if strings.Contains(strings.ToLower(answer), strings.ToLower(c)) {
			return c, true
		}
	}
	return "", false
}
