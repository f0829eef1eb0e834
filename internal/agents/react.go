package agents

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/talgya/ville/internal/clock"
	"github.com/talgya/ville/internal/event"
	"github.com/talgya/ville/internal/llm"
	"github.com/talgya/ville/internal/memory"
)

const (
	chatCooldown     = 60  // minutes between two chats of the same pair
	chatContextSpan  = 480 // minutes of past chats fed to chat generation
	runesPerMinute   = 240
	lateHour         = 23
	relationMemories = 50
	utterMemories    = 15
)

// relation is what the agent recalls about a perceived concept.
type relation struct {
	focus    memory.Concept
	events   []memory.Concept
	thoughts []memory.Concept
}

func (a *Agent) relate(c memory.Concept) (relation, error) {
	r := relation{focus: c}
	var err error
	if r.events, err = a.associate.RetrieveEvents(c.Describe()); err != nil {
		return r, err
	}
	if r.thoughts, err = a.associate.RetrieveThoughts(c.Describe()); err != nil {
		return r, err
	}
	return r, nil
}

func (r relation) describes() ([]string, []string) {
	events := make([]string, len(r.events))
	for i, c := range r.events {
		events[i] = c.Describe()
	}
	thoughts := make([]string, len(r.thoughts))
	for i, c := range r.thoughts {
		thoughts[i] = c.Describe()
	}
	return events, thoughts
}

// react picks one perceived concept, preferring other agents, and tries to
// chat with or wait for its subject. It reports whether either happened.
func (a *Agent) react(agents map[string]*Agent) (bool, error) {
	live := slices.DeleteFunc(slices.Clone(a.concepts), func(c memory.Concept) bool {
		_, ok := agents[c.Event.Subject]
		return !ok
	})
	candidates := live
	if len(candidates) == 0 {
		candidates = slices.DeleteFunc(slices.Clone(a.concepts), func(c memory.Concept) bool {
			return strings.Contains(c.Describe(), event.ObjectIdle)
		})
	}
	if len(candidates) == 0 {
		return false, nil
	}
	focus := candidates[a.env.Rand.Intn(len(candidates))]
	other, ok := agents[focus.Event.Subject]
	if !ok || other == a {
		return false, nil
	}

	rel, err := a.relate(focus)
	if err != nil {
		return false, err
	}
	if chatted, err := a.chatWith(other, rel); err != nil || chatted {
		return chatted, err
	}
	return a.waitOther(other, rel)
}

// skipReact is true late at night or when either party is asleep, waiting,
// or has nowhere to be.
func (a *Agent) skipReact(other *Agent) bool {
	skip := func(e event.Event) bool {
		if len(e.Address) == 0 || strings.Contains(e.GetDescribe(false), event.ObjectSleeping) {
			return true
		}
		return e.Predicate == event.PredicateWaiting
	}
	if a.env.Clock.Hour() >= lateHour {
		return true
	}
	return skip(a.event()) || skip(other.event())
}

// chattedRecently reports whether a holds a chat with other younger than the
// cooldown.
func (a *Agent) chattedRecently(other string) (memory.Concept, bool, error) {
	last, ok, err := a.associate.LastChatWith(other)
	if err != nil || !ok {
		return last, false, err
	}
	return last, a.env.Clock.DeltaMinutes(last.Create) < chatCooldown, nil
}

func (a *Agent) chatWith(other *Agent, rel relation) (bool, error) {
	if len(a.schedule.Plans) == 0 || len(other.schedule.Plans) == 0 {
		return false, nil
	}
	if a.skipReact(other) || len(other.path) > 0 {
		return false, nil
	}
	if a.event().Fit("", event.PredicateChat, "") || other.event().Fit("", event.PredicateChat, "") {
		return false, nil
	}

	last, recent, err := a.chattedRecently(other.Name)
	if err != nil || recent {
		return false, err
	}
	if _, recent, err := other.chattedRecently(a.Name); err != nil || recent {
		return false, err
	}

	events, thoughts := rel.describes()
	ctx := llm.ChatContext{
		Agent:       a.Name,
		Other:       other.Name,
		AgentStatus: a.travelStatus(),
		OtherStatus: other.travelStatus(),
		Events:      events,
		Thoughts:    thoughts,
		Date:        a.env.Clock.Now().Format(time.DateTime),
	}
	if last.ID != "" {
		ctx.LastChat = fmt.Sprintf("%s and %s last talked at %s about %s.", a.Name, other.Name, last.Create.Format(clock.StampLayout), last.Event.Describe)
	}
	if !llm.Ask(a.env.Oracle, llm.DecideChat(ctx)) {
		return false, nil
	}

	a.logger.Info("starting chat", "with", other.Name)
	start := a.env.Clock.Now()
	relations := [2]string{}
	for i, pair := range [2][2]*Agent{{a, other}, {other, a}} {
		memories, err := pair[0].memoriesOf(pair[1].Name)
		if err != nil {
			return false, err
		}
		relations[i] = llm.Ask(a.env.Oracle, llm.SummarizeRelation(pair[0].Name, pair[1].Name, memories))
	}

	chats, err := a.converse(other, relations)
	if err != nil {
		return false, err
	}

	key := fmt.Sprintf("%s -> %s @ %s", a.Name, other.Name, strings.Join(a.event().Address, ", "))
	a.env.Conversation.Record(a.env.Clock.Stamp(), key, chats)
	a.logger.Info("chat finished", "with", other.Name, "lines", len(chats))

	summary := llm.Ask(a.env.Oracle, llm.SummarizeChats(chats))
	duration := memory.TranscriptRunes(chats) / runesPerMinute
	if err := a.scheduleChat(chats, summary, start, duration, other); err != nil {
		return false, err
	}
	if err := other.scheduleChat(chats, summary, start, duration, a); err != nil {
		return false, err
	}
	return true, nil
}

// converse runs the turn-taking exchange, initiator first in each round.
func (a *Agent) converse(other *Agent, relations [2]string) ([]memory.ChatLine, error) {
	var chats []memory.ChatLine
	for i := 0; i < a.cfg.ChatIter; i++ {
		text, err := a.utter(other, relations[0], chats)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			if llm.Ask(a.env.Oracle, llm.CheckRepeat(a.Name, chats, text)) {
				break
			}
			chats = append(chats, memory.ChatLine{Name: a.Name, Text: text})
			if llm.Ask(a.env.Oracle, llm.DecideChatTerminate(a.Name, other.Name, chats)) {
				break
			}
		} else {
			chats = append(chats, memory.ChatLine{Name: a.Name, Text: text})
		}

		text, err = other.utter(a, relations[1], chats)
		if err != nil {
			return nil, err
		}
		if i > 0 && llm.Ask(a.env.Oracle, llm.CheckRepeat(other.Name, chats, text)) {
			break
		}
		chats = append(chats, memory.ChatLine{Name: other.Name, Text: text})
		if llm.Ask(a.env.Oracle, llm.DecideChatTerminate(other.Name, a.Name, chats)) {
			break
		}
	}
	return chats, nil
}

// memoriesOf lists what a remembers about name.
func (a *Agent) memoriesOf(name string) ([]string, error) {
	nodes, err := a.associate.RetrieveFocus(a.env.Clock.Now(), []string{name}, relationMemories)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Describe()
	}
	return out, nil
}

// utter produces a's next line in the conversation with other.
func (a *Agent) utter(other *Agent, rel string, chats []memory.ChatLine) (string, error) {
	now := a.env.Clock.Now()
	focus := []string{rel, other.event().GetDescribe(true)}
	if n := len(chats); n > 4 {
		recent := make([]string, 0, 4)
		for _, c := range chats[n-4:] {
			recent = append(recent, c.String())
		}
		focus = append(focus, strings.Join(recent, "; "))
	}
	nodes, err := a.associate.RetrieveFocus(now, focus, utterMemories)
	if err != nil {
		return "", err
	}
	past, err := a.associate.RetrieveChats(other.Name)
	if err != nil {
		return "", err
	}
	var history strings.Builder
	for _, c := range past {
		delta := a.env.Clock.DeltaMinutes(c.Create)
		if delta > chatContextSpan {
			continue
		}
		fmt.Fprintf(&history, "%d minutes ago, %s and %s had a conversation. %s\n", delta, a.Name, other.Name, c.Describe())
	}

	address := a.tile().Address
	location := strings.Join(address[max(len(address)-2, 0):], ", ")
	turn := llm.ChatTurn{
		Persona:   a.persona(),
		Other:     other.Name,
		PastChats: history.String(),
		Location:  location,
		Time:      now.Format(clock.TimeLayout),
		Situation: fmt.Sprintf("%s is %s when seeing %s %s.", a.Name, a.event().GetDescribe(false), other.Name, other.event().GetDescribe(false)),
		Chats:     chats,
	}
	for _, n := range nodes {
		turn.Memories = append(turn.Memories, n.Describe())
	}
	return llm.Ask(a.env.Oracle, llm.GenerateChat(turn)), nil
}

// scheduleChat stores the conversation as a chat memory and makes it a's
// current action.
func (a *Agent) scheduleChat(chats []memory.ChatLine, summary string, start time.Time, duration int, other *Agent) error {
	a.chats = append(a.chats, chats...)
	e := event.New(a.Name, event.PredicateChat, other.Name, a.tile().Address)
	e.Describe = summary
	e.Emoji = "💬"
	if _, err := a.addConcept(memory.TypeChat, e, start, time.Time{}, nil); err != nil {
		return err
	}
	return a.reviseSchedule(e, start, duration)
}

// waitOther lets a pause until other finishes when both want the same place.
func (a *Agent) waitOther(other *Agent, rel relation) (bool, error) {
	if a.skipReact(other) || len(a.path) == 0 {
		return false, nil
	}
	if a.event().AddressString() != strings.Join(other.tile().Address, ":") {
		return false, nil
	}

	events, thoughts := rel.describes()
	ctx := llm.WaitContext{
		Agent:       a.Name,
		Other:       other.Name,
		AgentStatus: a.placeStatus(),
		OtherStatus: other.placeStatus(),
		AgentAction: a.event().GetDescribe(false),
		OtherAction: other.event().GetDescribe(false),
		Events:      events,
		Thoughts:    thoughts,
		Date:        a.env.Clock.Now().Format(time.DateTime),
	}
	if !llm.Ask(a.env.Oracle, llm.DecideWait(ctx)) {
		return false, nil
	}

	a.logger.Info("waiting", "for", other.Name)
	start := a.env.Clock.Now()
	duration := max(clock.Minutes(other.action.End().Sub(start)), 0)
	e := event.New(a.Name, event.PredicateWaiting, a.event().GetDescribe(false), a.event().Address)
	e.Emoji = "⌛"
	if err := a.reviseSchedule(e, start, duration); err != nil {
		return false, err
	}
	a.path = nil
	return true, nil
}

func (a *Agent) travelStatus() string {
	if len(a.path) > 0 {
		return fmt.Sprintf("%s is on the way to %s", a.Name, a.event().GetDescribe(false))
	}
	return a.event().GetDescribe(true)
}

func (a *Agent) placeStatus() string {
	e := a.event()
	loc := ""
	if n := len(e.Address); n >= 2 {
		loc = fmt.Sprintf(" at %s in %s", e.Address[n-1], e.Address[n-2])
	}
	if len(a.path) == 0 {
		return fmt.Sprintf("%s is already %s%s", a.Name, e.GetDescribe(false), loc)
	}
	return fmt.Sprintf("%s is on the way to %s%s", a.Name, e.GetDescribe(false), loc)
}
