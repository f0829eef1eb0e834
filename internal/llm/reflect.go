package llm

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"

	"github.com/talgya/ville/internal/memory"
)

func poignancy(kind Kind, p Persona, describe, subject string, rng *rand.Rand) Request[int] {
	var b strings.Builder
	b.WriteString(p.Describe())
	fmt.Fprintf(&b, "\nOn a scale of 1 to 10, where 1 is purely mundane (e.g. brushing teeth, making the bed) and 10 is extremely poignant (e.g. a break up, college acceptance), rate the likely poignancy of the following %s for %s.\n", subject, p.Name)
	fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(subject[:1])+subject[1:], describe)
	b.WriteString("Answer with \"Rating: <1-10>\".\n")
	return Request[int]{
		Kind:      kind,
		System:    p.system(),
		Prompt:    b.String(),
		MaxTokens: 32,
		Parse:     parseScore,
		Failsafe:  randomScore(rng),
	}
}

// PoignancyEvent asks how important an observed event is.
func PoignancyEvent(p Persona, describe string, rng *rand.Rand) Request[int] {
	return poignancy(KindPoignancyEvent, p, describe, "event", rng)
}

// PoignancyChat asks how important a conversation is.
func PoignancyChat(p Persona, describe string, rng *rand.Rand) Request[int] {
	return poignancy(KindPoignancyChat, p, describe, "conversation", rng)
}

// ReflectFocus asks for n high-level questions raised by the statements.
func ReflectFocus(name string, statements []string, n int) Request[[]string] {
	var b strings.Builder
	b.WriteString(enumerate(statements))
	fmt.Fprintf(&b, "\nGiven only the information above, what are the %d most salient high-level questions we can answer about the subjects in the statements? One numbered question per line.\n", n)
	return Request[[]string]{
		Kind:   KindReflectFocus,
		Prompt: b.String(),
		Parse:  parseNumbered,
		Failsafe: []string{
			fmt.Sprintf("Who is %s?", name),
			fmt.Sprintf("Where does %s live?", name),
			fmt.Sprintf("What is %s doing today?", name),
		},
	}
}

// Insight is a reflected statement and the ids of the memories it cites.
type Insight struct {
	Text     string
	Evidence []string
}

var insightLine = regexp.MustCompile(`^\d{1,2}[.)]?\s+(.+?)\s*\((?:because of|evidence)[:：\s]*([\d,\s]+)\)\s*\.?$`)

// ReflectInsights asks for n insights over nodes, each citing statement
// numbers that map back to node ids.
func ReflectInsights(name string, nodes []memory.Concept, n int) Request[[]Insight] {
	var b strings.Builder
	b.WriteString(enumerate(describes(nodes)))
	fmt.Fprintf(&b, "\nWhat %d high-level insights can you infer from the statements above? One numbered line each, citing statement numbers, e.g.\n", n)
	b.WriteString("1. <insight> (because of 1, 5, 3)\n")

	var failsafe []Insight
	if len(nodes) > 0 {
		failsafe = []Insight{{Text: name + " is thinking about what to do next", Evidence: []string{nodes[0].ID}}}
	}
	return Request[[]Insight]{
		Kind:   KindReflectInsights,
		Prompt: b.String(),
		Parse: func(response string) ([]Insight, error) {
			rows := matchAll(response, insightLine)
			if len(rows) == 0 {
				return nil, fmt.Errorf("insights: %w", errNoMatch)
			}
			out := make([]Insight, 0, len(rows))
			for _, row := range rows {
				in := Insight{Text: strings.TrimSuffix(row[0], ".")}
				for _, f := range strings.Split(row[1], ",") {
					i, err := strconv.Atoi(strings.TrimSpace(f))
					if err != nil || i < 0 || i >= len(nodes) {
						continue
					}
					in.Evidence = append(in.Evidence, nodes[i].ID)
				}
				out = append(out, in)
			}
			return out, nil
		},
		Failsafe: failsafe,
	}
}

// ReflectChatPlanning asks what the agent should remember from a
// conversation for their own plans.
func ReflectChatPlanning(name string, chats []memory.ChatLine) Request[string] {
	return Request[string]{
		Kind: KindReflectChatPlan,
		Prompt: fmt.Sprintf("[Conversation]\n%s\n\nWrite down if there is anything from the conversation that %s needs to remember for their planning, from %s's perspective, in one sentence.\n",
			memory.Transcript(chats), name, name),
		Parse:    parseText,
		Failsafe: name + " had a conversation",
	}
}

// ReflectChatMemory asks what was memorable about a conversation.
func ReflectChatMemory(name string, chats []memory.ChatLine) Request[string] {
	return Request[string]{
		Kind: KindReflectChatMemory,
		Prompt: fmt.Sprintf("[Conversation]\n%s\n\nWhat was interesting to %s about the conversation? Answer in one sentence that completes \"%s ...\".\n",
			memory.Transcript(chats), name, name),
		Parse: func(response string) (string, error) {
			s, err := parseText(response)
			if err != nil {
				return "", err
			}
			return strings.TrimPrefix(s, name+" "), nil
		},
		Failsafe: "had a conversation",
	}
}
