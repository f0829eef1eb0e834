package llm

import (
	"fmt"
	"maps"
	"math/rand"
	"regexp"
	"slices"
	"strings"
)

var (
	goTo     = regexp.MustCompile(`(?i)should go to[:：\s]*(.+?)\.?$`)
	answerIs = regexp.MustCompile(`(?i)(?:answer|object) is[:：\s]*(.+?)\.?$`)
	anyLine  = regexp.MustCompile(`^(.+?)\.?$`)
)

// SectorQuery is the context for choosing a sector of the world.
type SectorQuery struct {
	Name          string
	DailyPlan     string
	LiveSector    string
	LiveArenas    []string
	CurrentSector string
	CurrentArenas []string
	Sectors       []string
	ArenaSector   map[string]string // arena name to the sector holding it
	Plan          string
	SubPlan       string
}

// DetermineSector asks which sector the agent should head to. An answer
// naming an arena resolves to that arena's sector; anything else falls back
// to a random known sector.
func DetermineSector(q SectorQuery, rng *rand.Rand) Request[string] {
	var b strings.Builder
	fmt.Fprintf(&b, "%s lives in %s, which has the following areas: %s.\n", q.Name, q.LiveSector, strings.Join(q.LiveArenas, ", "))
	fmt.Fprintf(&b, "%s is currently in %s, which has the following areas: %s.\n", q.Name, q.CurrentSector, strings.Join(q.CurrentArenas, ", "))
	fmt.Fprintf(&b, "%s\n", q.DailyPlan)
	fmt.Fprintf(&b, "Areas %s can go to: %s.\n", q.Name, strings.Join(q.Sectors, ", "))
	b.WriteString("* Stay in the current area if the activity can be done there.\n")
	b.WriteString("* Only go to someone else's home if the activity requires it.\n")
	fmt.Fprintf(&b, "%s is planning to %s. For \"%s\", %s should go to: <area>\n", q.Name, q.Plan, q.SubPlan, q.Name)

	failsafe := randomChoice(rng, q.Sectors)
	return Request[string]{
		Kind:      KindDetermineSector,
		Prompt:    b.String(),
		MaxTokens: 64,
		Parse: func(response string) (string, error) {
			answer, err := matchFirst(response, goTo, anyLine)
			if err != nil {
				return "", fmt.Errorf("sector: %w", err)
			}
			if s, ok := pick(answer, q.Sectors); ok {
				return s, nil
			}
			if a, ok := pick(answer, slices.Sorted(maps.Keys(q.ArenaSector))); ok {
				return q.ArenaSector[a], nil
			}
			return failsafe, nil
		},
		Failsafe: failsafe,
	}
}

// ArenaQuery is the context for choosing an arena inside a sector.
type ArenaQuery struct {
	Name      string
	DailyPlan string
	Sector    string
	Arenas    []string
	Plan      string
	SubPlan   string
}

// DetermineArena asks which arena of q.Sector fits the activity.
func DetermineArena(q ArenaQuery, rng *rand.Rand) Request[string] {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is going to %s, which has the following areas: %s.\n", q.Name, q.Sector, strings.Join(q.Arenas, ", "))
	fmt.Fprintf(&b, "%s\n", q.DailyPlan)
	b.WriteString("* Stay in the current area if the activity can be done there.\n")
	fmt.Fprintf(&b, "%s is planning to %s. For \"%s\", %s should go to: <area in %s>\n", q.Name, q.Plan, q.SubPlan, q.Name, q.Sector)

	failsafe := randomChoice(rng, q.Arenas)
	return Request[string]{
		Kind:      KindDetermineArena,
		Prompt:    b.String(),
		MaxTokens: 64,
		Parse: func(response string) (string, error) {
			answer, err := matchFirst(response, goTo, anyLine)
			if err != nil {
				return "", fmt.Errorf("arena: %w", err)
			}
			if a, ok := pick(answer, q.Arenas); ok {
				return a, nil
			}
			return failsafe, nil
		},
		Failsafe: failsafe,
	}
}

// DetermineObject asks which object fits activity.
func DetermineObject(activity string, objects []string, rng *rand.Rand) Request[string] {
	var b strings.Builder
	fmt.Fprintf(&b, "Current activity: %s\n", activity)
	fmt.Fprintf(&b, "Objects available: %s\n", strings.Join(objects, ", "))
	b.WriteString("Pick the single most relevant object from the list. Answer: the object is: <object>\n")

	failsafe := randomChoice(rng, objects)
	return Request[string]{
		Kind:      KindDetermineObject,
		Prompt:    b.String(),
		MaxTokens: 64,
		Parse: func(response string) (string, error) {
			answer, err := matchFirst(response, answerIs, anyLine)
			if err != nil {
				return "", fmt.Errorf("object: %w", err)
			}
			if o, ok := pick(answer, objects); ok {
				return o, nil
			}
			return failsafe, nil
		},
		Failsafe: failsafe,
	}
}

// DescribeObject asks what state object is in while name performs action.
func DescribeObject(name, object, action string) Request[string] {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: describe the state of the object while it is being used.\n")
	fmt.Fprintf(&b, "%s is %s using the %s.\n", name, action, object)
	fmt.Fprintf(&b, "Answer with one line in the form \"<%s> <state>\", e.g. \"<bed> being slept in\".\n", object)

	objectLine := regexp.MustCompile(`^<` + regexp.QuoteMeta(object) + `>\s*(.+?)\.?$`)
	return Request[string]{
		Kind:      KindDescribeObject,
		Prompt:    b.String(),
		MaxTokens: 64,
		Parse: func(response string) (string, error) {
			s, err := matchFirst(response, objectLine, anyLine)
			if err != nil || s == "" {
				return "", fmt.Errorf("object state: %w", errNoMatch)
			}
			return strings.Trim(s, "<>"), nil
		},
		Failsafe: "idle",
	}
}

var emojiRun = regexp.MustCompile(`[\x{1F300}-\x{1F5FF}\x{1F600}-\x{1F64F}\x{1F680}-\x{1F6FF}\x{1F700}-\x{1F77F}\x{1F780}-\x{1F7FF}\x{1F800}-\x{1F8FF}\x{1F900}-\x{1F9FF}\x{1FA00}-\x{1FAFF}\x{2702}-\x{27B0}]`)

// maxEmoji caps how many pictographs an action carries.
const maxEmoji = 3

// DescribeEmoji asks for up to three emoji summarizing action. It is tried
// once.
func DescribeEmoji(action string) Request[string] {
	return Request[string]{
		Kind:      KindDescribeEmoji,
		Prompt:    fmt.Sprintf("Convert the action \"%s\" into one to three emoji. Answer: Emoji: <emoji>\n", action),
		MaxTokens: 16,
		Attempts:  1,
		Parse: func(response string) (string, error) {
			found := emojiRun.FindAllString(response, maxEmoji)
			if len(found) == 0 {
				return "", fmt.Errorf("emoji: %w", errNoMatch)
			}
			return strings.Join(found, ""), nil
		},
		Failsafe: "💭",
	}
}
