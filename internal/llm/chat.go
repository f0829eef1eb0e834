package llm

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/talgya/ville/internal/memory"
)

// ChatContext is what the initiator knows when deciding to talk.
type ChatContext struct {
	Agent       string
	Other       string
	AgentStatus string
	OtherStatus string
	Events      []string
	Thoughts    []string
	Date        string
	LastChat    string // summary of the previous chat between the pair, if any
}

// DecideChat asks whether Agent starts a conversation with Other.
func DecideChat(c ChatContext) Request[bool] {
	var b strings.Builder
	fmt.Fprintf(&b, "Context: %s\n%s\n\n", strings.Join(c.Events, ". "), strings.Join(c.Thoughts, ". "))
	fmt.Fprintf(&b, "It is now %s.", c.Date)
	if c.LastChat != "" {
		fmt.Fprintf(&b, " %s", c.LastChat)
	}
	fmt.Fprintf(&b, "\n%s.\n%s.\n", c.AgentStatus, c.OtherStatus)
	fmt.Fprintf(&b, "Question: would %s start a conversation with %s? Reason step by step, then answer yes or no on the last line.\n", c.Agent, c.Other)
	return Request[bool]{
		Kind:     KindDecideChat,
		Prompt:   b.String(),
		Parse:    lastLineYesNo,
		Failsafe: false,
	}
}

func lastLineYesNo(response string) (bool, error) {
	lines := responseLines(response)
	if len(lines) == 0 {
		return false, fmt.Errorf("yes/no: empty response")
	}
	return parseYesNo(lines[len(lines)-1])
}

// DecideChatTerminate asks whether the conversation has run its course.
func DecideChatTerminate(agent, other string, chats []memory.ChatLine) Request[bool] {
	var b strings.Builder
	fmt.Fprintf(&b, "Conversation between %s and %s:\n%s\n\n", agent, other, conversationText(chats))
	fmt.Fprintf(&b, "Has the topic of this conversation been exhausted, or is it awkward to keep talking? Answer yes or no.\n")
	return Request[bool]{
		Kind:      KindDecideTerminate,
		Prompt:    b.String(),
		MaxTokens: 32,
		Parse:     parseYesNo,
		Failsafe:  false,
	}
}

// WaitContext is what the agent knows when another agent blocks its target.
type WaitContext struct {
	Agent       string
	Other       string
	AgentStatus string
	OtherStatus string
	AgentAction string
	OtherAction string
	Events      []string
	Thoughts    []string
	Date        string
}

var optionA = regexp.MustCompile(`(?i)option\s*a\b`)

const waitExample = `Context: Jane is Liz's housemate. Jane and Liz exchanged a conversation about saying good morning at 07:05am, October 25, 2022.
Right now, it is 07:09 am, October 25, 2022.
Jane is on the way to using the bathroom right now.
Liz is already using the bathroom.
Jane wants to use the bathroom and Liz is already using it. It would be odd for both to use it at the same time.
Option A: Jane waits for Liz to finish using the bathroom.
Option B: Jane goes ahead with using the bathroom.
Answer: Option A`

// DecideWait asks whether Agent waits for Other to finish before going on.
func DecideWait(c WaitContext) Request[bool] {
	var b strings.Builder
	b.WriteString(waitExample)
	b.WriteString("\n\n---\n")
	fmt.Fprintf(&b, "Context: %s\n%s\n", strings.Join(c.Events, ". "), strings.Join(c.Thoughts, ". "))
	fmt.Fprintf(&b, "Right now, it is %s.\n%s\n%s\n", c.Date, c.AgentStatus, c.OtherStatus)
	fmt.Fprintf(&b, "Option A: %s waits for %s to finish %s.\n", c.Agent, c.Other, c.OtherAction)
	fmt.Fprintf(&b, "Option B: %s goes ahead with %s.\n", c.Agent, c.AgentAction)
	b.WriteString("Reason step by step, then finish with \"Answer: Option A\" or \"Answer: Option B\".\n")
	return Request[bool]{
		Kind:   KindDecideWait,
		Prompt: b.String(),
		Parse: func(response string) (bool, error) {
			if strings.TrimSpace(response) == "" {
				return false, fmt.Errorf("wait: empty response")
			}
			return optionA.MatchString(response), nil
		},
		Failsafe: false,
	}
}

// SummarizeRelation asks how agent relates to other given agent's memories.
func SummarizeRelation(agent, other string, memories []string) Request[string] {
	var b strings.Builder
	b.WriteString(enumerate(memories))
	fmt.Fprintf(&b, "\nBased on the statements above, summarize %s and %s's relationship in one sentence.\n", agent, other)
	return Request[string]{
		Kind:     KindSummarizeRelation,
		Prompt:   b.String(),
		Parse:    parseText,
		Failsafe: agent + " is looking at " + other,
	}
}

// ChatTurn is the context for one utterance.
type ChatTurn struct {
	Persona   Persona
	Other     string
	Memories  []string
	PastChats string // recent conversations between the pair
	Location  string
	Time      string
	Situation string
	Chats     []memory.ChatLine
}

// GenerateChat asks for Persona's next utterance as {"<name>": "<text>"}.
func GenerateChat(t ChatTurn) Request[string] {
	name := t.Persona.Name
	var b strings.Builder
	b.WriteString(t.Persona.Describe())
	fmt.Fprintf(&b, "\nHere is the memory in %s's head:\n- %s\n", name, strings.Join(t.Memories, "\n- "))
	if t.PastChats != "" {
		fmt.Fprintf(&b, "\nPast context:\n\"\"\"\n%s\"\"\"\n", t.PastChats)
	}
	fmt.Fprintf(&b, "\nCurrent location: %s\nCurrent time: %s\nCurrent context: %s\n", t.Location, t.Time, t.Situation)
	fmt.Fprintf(&b, "\n%s and %s are chatting. Here is their conversation so far:\n%s\n\n", name, t.Other, conversationText(t.Chats))
	fmt.Fprintf(&b, "What would %s say next? Answer only with JSON: {\"%s\": \"<utterance>\"}\n", name, name)
	return Request[string]{
		Kind:   KindGenerateChat,
		System: t.Persona.system(),
		Prompt: b.String(),
		Parse: func(response string) (string, error) {
			var out map[string]string
			if err := extractJSON(response, &out); err != nil {
				return "", err
			}
			text, ok := out[name]
			if !ok {
				return "", fmt.Errorf("utterance: no entry for %s", name)
			}
			return parseText(text)
		},
		Failsafe: "Hmm",
	}
}

// CheckRepeat asks whether content merely repeats the conversation.
func CheckRepeat(agent string, chats []memory.ChatLine, content string) Request[bool] {
	var b strings.Builder
	fmt.Fprintf(&b, "Conversation so far:\n%s\n\n", conversationText(chats))
	fmt.Fprintf(&b, "Next line:\n%s: %s\n\n", agent, content)
	fmt.Fprintf(&b, "Does the next line repeat something %s already said, with no new information? Answer yes or no.\n", agent)
	return Request[bool]{
		Kind:      KindCheckRepeat,
		Prompt:    b.String(),
		MaxTokens: 32,
		Parse:     parseYesNo,
		Failsafe:  false,
	}
}

// SummarizeChats asks for a one-line summary of a conversation.
func SummarizeChats(chats []memory.ChatLine) Request[string] {
	failsafe := "an unanswered remark"
	switch {
	case len(chats) > 1:
		failsafe = fmt.Sprintf("a casual conversation between %s and %s", chats[0].Name, chats[1].Name)
	case len(chats) == 1:
		failsafe = fmt.Sprintf("%s said something that got no reply", chats[0].Name)
	}
	return Request[string]{
		Kind:     KindSummarizeChats,
		Prompt:   fmt.Sprintf("Conversation:\n%s\n\nSummarize the conversation in one short sentence.\n", conversationText(chats)),
		Parse:    parseText,
		Failsafe: failsafe,
	}
}
