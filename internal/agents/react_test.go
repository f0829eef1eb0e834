package agents

import (
	"maps"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/ville/internal/event"
	"github.com/talgya/ville/internal/memory"
	"github.com/talgya/ville/internal/world"
)

const (
	keyDecideChat = "start a conversation with"
	keyRepeat     = "Does the next line repeat"
	keyTerminate  = "Has the topic of this conversation"
	klausLine     = "Hi Maria! Have you finished the stream overlay yet?"
	mariaLine     = "Almost, I am testing it tonight here at the cafe."
)

func chatScript() *script {
	return newScript(map[string]string{
		keyDecideChat:                        "They are friends and both are free.\nyes",
		"What would Klaus Mueller say next":  `{"Klaus Mueller": "` + klausLine + `"}`,
		"What would Maria Lopez say next":    `{"Maria Lopez": "` + mariaLine + `"}`,
		keyRepeat:                            "no",
		keyTerminate:                         "no",
		"Summarize the conversation":         "Klaus and Maria talk about her stream",
		"rate the likely poignancy":          "Rating: 4",
	})
}

func cafePair(t *testing.T, s *script) (*Env, *Agent, *Agent) {
	t.Helper()
	env := newEnv(t, s, at(10, 0))
	klaus := spawn(t, env, testConfig("Klaus Mueller", world.Coord{X: 8, Y: 2}))
	maria := spawn(t, env, testConfig("Maria Lopez", world.Coord{X: 9, Y: 2}))
	for _, a := range []*Agent{klaus, maria} {
		_, _, err := a.makeSchedule()
		require.NoError(t, err)
	}
	return env, klaus, maria
}

func idle(a *Agent) {
	a.action = event.NewAction(event.Idle(a.Name, a.tile().Address), nil, a.env.Clock.Now(), 0)
}

func TestChatWith_RecordsConversation(t *testing.T) {
	s := chatScript()
	env, klaus, maria := cafePair(t, s)

	ok, err := klaus.chatWith(maria, relation{})
	require.NoError(t, err)
	require.True(t, ok)

	convs := env.Conversation["20240213-10:00"]
	require.Len(t, convs, 1)
	assert.Equal(t, "Klaus Mueller -> Maria Lopez @ ville, cafe, seating", convs[0].Key)
	chats := convs[0].Chats
	require.Len(t, chats, 2*klaus.cfg.ChatIter)
	for i, c := range chats {
		if i%2 == 0 {
			assert.Equal(t, memory.ChatLine{Name: "Klaus Mueller", Text: klausLine}, c)
		} else {
			assert.Equal(t, memory.ChatLine{Name: "Maria Lopez", Text: mariaLine}, c)
		}
	}

	duration := memory.TranscriptRunes(chats) / runesPerMinute
	for _, pair := range [][2]*Agent{{klaus, maria}, {maria, klaus}} {
		a, other := pair[0], pair[1]
		act := a.Action()
		assert.True(t, act.Event.Fit(a.Name, event.PredicateChat, other.Name))
		assert.Equal(t, "Klaus and Maria talk about her stream", act.Event.Describe)
		assert.Equal(t, "💬", act.Event.Emoji)
		assert.Equal(t, duration, act.Duration)
		assert.Len(t, a.chats, len(chats))

		last, found, err := a.associate.LastChatWith(other.Name)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, at(10, 0), last.Create)
	}
}

func TestChatWith_Cooldown(t *testing.T) {
	s := chatScript()
	env, klaus, maria := cafePair(t, s)

	ok, err := klaus.chatWith(maria, relation{})
	require.NoError(t, err)
	require.True(t, ok)
	asked := s.calls[keyDecideChat]

	// already talking
	ok, err = maria.chatWith(klaus, relation{})
	require.NoError(t, err)
	assert.False(t, ok)

	env.Clock.Forward(30)
	idle(klaus)
	idle(maria)
	for _, pair := range [][2]*Agent{{klaus, maria}, {maria, klaus}} {
		ok, err = pair[0].chatWith(pair[1], relation{})
		require.NoError(t, err)
		assert.False(t, ok, "%s chatted again within the cooldown", pair[0].Name)
	}
	assert.Equal(t, asked, s.calls[keyDecideChat], "cooldown is checked before asking")

	env.Clock.Forward(31)
	ok, err = maria.chatWith(klaus, relation{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, env.Conversation, 2)
}

func TestChatWith_TopicEndsEarly(t *testing.T) {
	s := chatScript()
	s.rules[keyTerminate] = "yes"
	env, klaus, maria := cafePair(t, s)
	before := maps.Clone(s.calls)

	ok, err := klaus.chatWith(maria, relation{})
	require.NoError(t, err)
	require.True(t, ok)

	convs := env.Conversation["20240213-10:00"]
	require.Len(t, convs, 1)
	assert.Equal(t, []memory.ChatLine{
		{Name: "Klaus Mueller", Text: klausLine},
		{Name: "Maria Lopez", Text: mariaLine},
	}, convs[0].Chats)
	// the responder checks after its first reply; the opener only from round two
	assert.Equal(t, 1, s.calls[keyTerminate]-before[keyTerminate])
	assert.Zero(t, s.calls[keyRepeat]-before[keyRepeat])
}

func TestChatWith_RepeatEndsEarly(t *testing.T) {
	s := chatScript()
	s.rules[keyRepeat] = "yes"
	env, klaus, maria := cafePair(t, s)
	before := maps.Clone(s.calls)

	ok, err := klaus.chatWith(maria, relation{})
	require.NoError(t, err)
	require.True(t, ok)

	convs := env.Conversation["20240213-10:00"]
	require.Len(t, convs, 1)
	assert.Len(t, convs[0].Chats, 2, "the repeated line is dropped")
	assert.Equal(t, 1, s.calls[keyRepeat]-before[keyRepeat])
	assert.Equal(t, 1, s.calls[keyTerminate]-before[keyTerminate])
	assert.Equal(t, 2, s.calls["What would Klaus Mueller say next"]-before["What would Klaus Mueller say next"])
	assert.Equal(t, 1, s.calls["What would Maria Lopez say next"]-before["What would Maria Lopez say next"])
}

func TestChatWith_DeclinedByOracle(t *testing.T) {
	_, klaus, maria := cafePair(t, newScript(nil))

	ok, err := klaus.chatWith(maria, relation{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, klaus.env.Conversation)
	assert.Equal(t, event.ObjectIdle, klaus.Action().Event.Object)
}

func TestSkipReact(t *testing.T) {
	tests := []struct {
		name  string
		hour  int
		setup func(a, b *Agent)
		want  bool
	}{
		{"free", 10, func(a, b *Agent) {}, false},
		{"late", 23, func(a, b *Agent) {}, true},
		{"other asleep", 10, func(a, b *Agent) {
			b.action.Event = event.New(b.Name, event.PredicateIs, event.ObjectSleeping, b.tile().Address)
		}, true},
		{"waiting", 10, func(a, b *Agent) {
			a.action.Event = event.New(a.Name, event.PredicateWaiting, "using the counter", a.tile().Address)
		}, true},
		{"nowhere", 10, func(a, b *Agent) { a.action.Event.Address = nil }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t, nil, at(tt.hour, 30))
			a := spawn(t, env, testConfig("Klaus Mueller", world.Coord{X: 8, Y: 2}))
			b := spawn(t, env, testConfig("Maria Lopez", world.Coord{X: 9, Y: 2}))
			tt.setup(a, b)
			assert.Equal(t, tt.want, a.skipReact(b))
		})
	}
}

func TestWaitOther(t *testing.T) {
	s := newScript(map[string]string{"goes ahead with": "Maria is cooking.\nAnswer: Option A"})
	env := newEnv(t, s, at(10, 0))
	klaus := spawn(t, env, testConfig("Klaus Mueller", world.Coord{X: 2, Y: 2}))
	maria := spawn(t, env, testConfig("Maria Lopez", stove))
	for _, a := range []*Agent{klaus, maria} {
		_, _, err := a.makeSchedule()
		require.NoError(t, err)
	}

	kitchen := []string{"ville", "house", "kitchen", "stove"}
	doing(maria, "cooking lunch", kitchen, 30)
	env.Clock.Forward(5)
	doing(klaus, "making tea", kitchen, 10)
	klaus.path = []world.Coord{{X: 3, Y: 2}, {X: 4, Y: 2}, stove}

	ok, err := klaus.waitOther(maria, relation{})
	require.NoError(t, err)
	require.True(t, ok)

	act := klaus.Action()
	assert.Equal(t, event.PredicateWaiting, act.Event.Predicate)
	assert.Equal(t, "⌛", act.Event.Emoji)
	assert.Equal(t, kitchen, act.Event.Address)
	assert.Equal(t, 25, act.Duration)
	assert.Empty(t, klaus.path)
	assert.Nil(t, klaus.findPath(population(klaus, maria)), "a waiting agent stays put")

	// no path, nothing to wait for
	ok, err = maria.waitOther(klaus, relation{})
	require.NoError(t, err)
	assert.False(t, ok)
}
