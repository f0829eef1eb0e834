package agents

import (
	"fmt"
	"slices"
	"time"

	"github.com/talgya/ville/internal/llm"
	"github.com/talgya/ville/internal/memory"
)

const (
	reflectFocusQuestions = 3
	reflectInsights       = 5
)

// reflect turns accumulated poignancy into thoughts once it crosses the
// configured ceiling, then resets the counter and the chat buffer.
func (a *Agent) reflect() error {
	if a.poignancy < a.cfg.Think.PoignancyMax {
		return nil
	}
	events, err := a.associate.RetrieveEvents("")
	if err != nil {
		return err
	}
	thoughts, err := a.associate.RetrieveThoughts("")
	if err != nil {
		return err
	}
	nodes := slices.Concat(events, thoughts)
	if len(nodes) == 0 {
		return nil
	}
	a.logger.Info("reflecting", "poignancy", a.poignancy, "ceiling", a.cfg.Think.PoignancyMax, "concepts", len(nodes))

	slices.SortStableFunc(nodes, func(x, y memory.Concept) int { return y.Access.Compare(x.Access) })
	nodes = nodes[:min(len(nodes), a.associate.Config().MaxImportance)]

	statements := make([]string, len(nodes))
	for i, n := range nodes {
		statements[i] = n.Describe()
	}
	focus := llm.Ask(a.env.Oracle, llm.ReflectFocus(a.Name, statements, reflectFocusQuestions))
	results, err := a.associate.RetrieveFocusEach(a.env.Clock.Now(), focus, 0)
	if err != nil {
		return err
	}
	for _, r := range results {
		for _, in := range llm.Ask(a.env.Oracle, llm.ReflectInsights(a.Name, r.Concepts, reflectInsights)) {
			if err := a.addThought(in.Text, in.Evidence); err != nil {
				return err
			}
		}
	}

	if len(a.chats) > 0 {
		evidence, err := a.chatEvidence()
		if err != nil {
			return err
		}
		plan := llm.Ask(a.env.Oracle, llm.ReflectChatPlanning(a.Name, a.chats))
		if err := a.addThought(fmt.Sprintf("For %s's planning: %s", a.Name, plan), evidence); err != nil {
			return err
		}
		memo := llm.Ask(a.env.Oracle, llm.ReflectChatMemory(a.Name, a.chats))
		if err := a.addThought(a.Name+" "+memo, evidence); err != nil {
			return err
		}
	}
	a.poignancy = 0
	a.chats = nil
	return nil
}

// chatEvidence collects one chat memory id per conversation partner.
func (a *Agent) chatEvidence() ([]string, error) {
	var evidence []string
	seen := map[string]bool{a.Name: true}
	for _, c := range a.chats {
		if seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		chats, err := a.associate.RetrieveChats(c.Name)
		if err != nil {
			return nil, err
		}
		if len(chats) > 0 {
			evidence = append(evidence, chats[len(chats)-1].ID)
		}
	}
	return evidence, nil
}

func (a *Agent) addThought(text string, evidence []string) error {
	e := makeEvent(a.Name, text, a.tile().Address)
	_, err := a.addConcept(memory.TypeThought, e, a.env.Clock.Now(), time.Time{}, evidence)
	return err
}
