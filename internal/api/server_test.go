package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/ville/internal/agents"
	"github.com/talgya/ville/internal/engine"
	"github.com/talgya/ville/internal/llm"
	"github.com/talgya/ville/internal/memory"
	"github.com/talgya/ville/internal/world"
)

type fakeSim struct {
	state engine.State
	frame engine.Frame
	log   agents.ConversationLog
}

func (f *fakeSim) State() engine.State                  { return f.state }
func (f *fakeSim) Frame() engine.Frame                  { return f.frame }
func (f *fakeSim) Conversation() agents.ConversationLog { return f.log }

type fakeEngine struct {
	mu    sync.Mutex
	speed float64
}

func (f *fakeEngine) Speed() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.speed
}

func (f *fakeEngine) SetSpeed(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.speed = v
}

func (f *fakeEngine) Running() bool { return true }
func (f *fakeEngine) Steps() int    { return 3 }

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	log := agents.ConversationLog{}
	log.Record("20240213-10:00", "Klaus Mueller -> Maria Lopez @ ville, cafe, seating", []memory.ChatLine{{Name: "Klaus Mueller", Text: "Hi"}})
	sim := &fakeSim{
		state: engine.State{
			RunID: "run-1",
			Name:  "the-ville",
			Step:  3,
			Time:  "20240213-10:00",
			Agents: []agents.Summary{
				{Name: "Klaus Mueller", Coord: world.Coord{X: 8, Y: 2}, Action: "Klaus Mueller is drinking coffee", Awake: true},
				{Name: "Maria Lopez", Coord: world.Coord{X: 9, Y: 2}, Awake: true},
			},
			Conversations: 1,
			Oracle:        map[llm.Kind]llm.KindStats{"describe_emoji": {Requests: 2, Successes: 1, Failsafes: 1}},
		},
		frame: engine.Frame{Step: 3, Time: "20240213-09:50"},
		log:   log,
	}
	s := &Server{Sim: sim, Eng: &fakeEngine{speed: 1}, AdminKey: "secret"}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestServer_Status(t *testing.T) {
	_, ts := newTestServer(t)
	var status map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/status", &status))
	assert.Equal(t, "the-ville", status["name"])
	assert.EqualValues(t, 3, status["step"])
	assert.EqualValues(t, 2, status["agents"])
	assert.Equal(t, true, status["running"])
}

func TestServer_Agents(t *testing.T) {
	_, ts := newTestServer(t)

	var list []agents.Summary
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/agents", &list))
	assert.Len(t, list, 2)

	var one agents.Summary
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/agent/Klaus%20Mueller", &one))
	assert.Equal(t, world.Coord{X: 8, Y: 2}, one.Coord)

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/v1/agent/Nobody", &one))
}

func TestServer_ConversationsAndOracle(t *testing.T) {
	_, ts := newTestServer(t)

	var log agents.ConversationLog
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/conversations", &log))
	assert.Equal(t, 1, log.Len())

	at := agents.ConversationLog{}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/conversations?time=20240213-09:00", &at))
	assert.Zero(t, at.Len())

	var stats map[llm.Kind]llm.KindStats
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/oracle", &stats))
	assert.Equal(t, llm.KindStats{Requests: 2, Successes: 1, Failsafes: 1}, stats["describe_emoji"])
}

func TestServer_Speed(t *testing.T) {
	s, ts := newTestServer(t)
	post := func(token, body string) int {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/speed", strings.NewReader(body))
		require.NoError(t, err)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusUnauthorized, post("", `{"speed": 2}`))
	assert.Equal(t, http.StatusUnauthorized, post("wrong", `{"speed": 2}`))
	assert.Equal(t, http.StatusBadRequest, post("secret", `{"speed": -1}`))
	assert.Equal(t, http.StatusBadRequest, post("secret", `not json`))
	assert.Equal(t, http.StatusOK, post("secret", `{"speed": 2.5}`))
	assert.Equal(t, 2.5, s.Eng.Speed())

	var got map[string]float64
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/speed", &got))
	assert.Equal(t, 2.5, got["speed"])

	s.AdminKey = ""
	assert.Equal(t, http.StatusForbidden, post("secret", `{"speed": 1}`))
}

func TestServer_StreamPublishesFrames(t *testing.T) {
	s, ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() engine.Frame {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var f engine.Frame
		require.NoError(t, conn.ReadJSON(&f))
		return f
	}
	assert.Equal(t, 3, read().Step, "the latest frame arrives first")

	frame := engine.Frame{Step: 4, Time: "20240213-10:00", Records: []agents.PlanRecord{{Name: "Klaus Mueller"}}}
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.subs) == 1
	}, time.Second, 10*time.Millisecond)
	s.Publish(frame)
	got := read()
	assert.Equal(t, 4, got.Step)
	require.Len(t, got.Records, 1)
	assert.Equal(t, "Klaus Mueller", got.Records[0].Name)
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2024, 2, 13, 10, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("5.6.7.8"), "buckets are per client")
	assert.Equal(t, 61, rl.RetryAfter("1.2.3.4"))

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("1.2.3.4"))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", clientIP(r))
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(r))
}
