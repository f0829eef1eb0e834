package agents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"

	"github.com/talgya/ville/internal/clock"
	"github.com/talgya/ville/internal/llm"
	"github.com/talgya/ville/internal/memory"
	"github.com/talgya/ville/internal/world"
)

// Env is the shared context every agent of one simulation runs against.
// Agents tick one at a time, so nothing here is locked.
type Env struct {
	Grid         *world.Grid
	Clock        *clock.Clock
	Oracle       *llm.Oracle
	Conversation ConversationLog
	Rand         *rand.Rand
	Logger       *slog.Logger

	// Claims maps a target tile to the agent that planned a path onto it
	// during the current tick. The engine clears it before each tick.
	Claims map[world.Coord]string
}

// Claim records that name is heading for c this tick.
func (e *Env) Claim(c world.Coord, name string) {
	if e.Claims == nil {
		e.Claims = make(map[world.Coord]string)
	}
	e.Claims[c] = name
}

// ClaimedByOther reports whether an agent other than name claimed c this tick.
func (e *Env) ClaimedByOther(c world.Coord, name string) bool {
	owner, ok := e.Claims[c]
	return ok && owner != name
}

// ResetClaims forgets the targets claimed during the previous tick.
func (e *Env) ResetClaims() {
	clear(e.Claims)
}

// Conversation is one logged transcript, keyed "a -> b @ address".
type Conversation struct {
	Key   string
	Chats []memory.ChatLine
}

// MarshalJSON writes the conversation as {key: chats}.
func (c Conversation) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string][]memory.ChatLine{c.Key: c.Chats})
}

// UnmarshalJSON reads a single-entry {key: chats} object.
func (c *Conversation) UnmarshalJSON(data []byte) error {
	var m map[string][]memory.ChatLine
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("decode conversation: %w", err)
	}
	if len(m) != 1 {
		return fmt.Errorf("decode conversation: want one entry, got %d", len(m))
	}
	for k, v := range m {
		c.Key, c.Chats = k, v
	}
	return nil
}

// ConversationLog maps a simulated timestamp to the conversations that
// started then.
type ConversationLog map[string][]Conversation

// Record appends a transcript under stamp.
func (l ConversationLog) Record(stamp, key string, chats []memory.ChatLine) {
	l[stamp] = append(l[stamp], Conversation{Key: key, Chats: slices.Clone(chats)})
}

// Len is the number of logged conversations.
func (l ConversationLog) Len() int {
	n := 0
	for _, cs := range l {
		n += len(cs)
	}
	return n
}
