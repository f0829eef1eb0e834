package llm

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/talgya/ville/internal/memory"
)

const noConversation = "[The conversation has not started yet]"

// Persona is the identity block shared by every prompt about one agent.
type Persona struct {
	Name      string
	Age       int
	Innate    string
	Learned   string
	Lifestyle string
	DailyPlan string
	Currently string
	Date      string // e.g. "Monday February 13"
}

// Describe renders the persona summary used at the top of most prompts.
func (p Persona) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", p.Name)
	fmt.Fprintf(&b, "Age: %d\n", p.Age)
	fmt.Fprintf(&b, "Innate traits: %s\n", p.Innate)
	fmt.Fprintf(&b, "Learned traits: %s\n", p.Learned)
	fmt.Fprintf(&b, "Lifestyle: %s\n", p.Lifestyle)
	fmt.Fprintf(&b, "Daily plan requirement: %s\n", p.DailyPlan)
	fmt.Fprintf(&b, "Current date: %s\n", p.Date)
	fmt.Fprintf(&b, "Currently: %s\n", p.Currently)
	return b.String()
}

func (p Persona) system() string {
	return fmt.Sprintf("You are simulating %s, a resident of a small town. Answer in plain English and follow the requested format exactly.", p.Name)
}

func conversationText(chats []memory.ChatLine) string {
	if len(chats) == 0 {
		return noConversation
	}
	return memory.Transcript(chats)
}

func enumerate(lines []string) string {
	var b strings.Builder
	for i, l := range lines {
		fmt.Fprintf(&b, "%d. %s\n", i, l)
	}
	return b.String()
}

func describes(nodes []memory.Concept) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Describe()
	}
	return out
}

func randomScore(rng *rand.Rand) int {
	if rng == nil {
		return 5
	}
	return rng.Intn(10) + 1
}

func randomChoice(rng *rand.Rand, items []string) string {
	switch {
	case len(items) == 0:
		return ""
	case rng == nil:
		return items[0]
	}
	return items[rng.Intn(len(items))]
}
