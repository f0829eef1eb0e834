package llm

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/talgya/ville/internal/retry"
)

// Kind names a request variant. Stats are kept per kind.
type Kind string

const (
	KindPoignancyEvent    Kind = "poignancy_event"
	KindPoignancyChat     Kind = "poignancy_chat"
	KindWakeUp            Kind = "wake_up"
	KindScheduleInit      Kind = "schedule_init"
	KindScheduleDaily     Kind = "schedule_daily"
	KindScheduleDecompose Kind = "schedule_decompose"
	KindScheduleRevise    Kind = "schedule_revise"
	KindDetermineSector   Kind = "determine_sector"
	KindDetermineArena    Kind = "determine_arena"
	KindDetermineObject   Kind = "determine_object"
	KindDescribeObject    Kind = "describe_object"
	KindDescribeEmoji     Kind = "describe_emoji"
	KindDecideChat        Kind = "decide_chat"
	KindDecideTerminate   Kind = "decide_chat_terminate"
	KindDecideWait        Kind = "decide_wait"
	KindSummarizeRelation Kind = "summarize_relation"
	KindGenerateChat      Kind = "generate_chat"
	KindCheckRepeat       Kind = "generate_chat_check_repeat"
	KindSummarizeChats    Kind = "summarize_chats"
	KindReflectFocus      Kind = "reflect_focus"
	KindReflectInsights   Kind = "reflect_insights"
	KindReflectChatPlan   Kind = "reflect_chat_planning"
	KindReflectChatMemory Kind = "reflect_chat_memory"
	KindRetrievePlan      Kind = "retrieve_plan"
	KindRetrieveThought   Kind = "retrieve_thought"
	KindRetrieveCurrently Kind = "retrieve_currently"
)

const defaultMaxTokens = 512

// Request is one oracle question: the prompt, how to read the answer and
// what to use when no answer can be read.
type Request[T any] struct {
	Kind      Kind
	System    string
	Prompt    string
	MaxTokens int
	Attempts  int // overrides the oracle policy when > 0
	Parse     func(response string) (T, error)
	Failsafe  T
}

// KindStats counts calls for one request kind. Requests counts every
// completion attempt; each Ask ends in exactly one success or failsafe.
type KindStats struct {
	Requests  int `json:"requests"`
	Successes int `json:"successes"`
	Failsafes int `json:"failsafes"`
}

func (s KindStats) String() string {
	return fmt.Sprintf("S:%d,F:%d/R:%d", s.Successes, s.Failsafes, s.Requests)
}

// Oracle resolves requests against a Completer with a retry policy. A nil
// or disabled completer makes every request return its failsafe.
type Oracle struct {
	completer Completer
	policy    retry.Policy
	logger    *slog.Logger

	mu    sync.Mutex
	stats map[Kind]*KindStats
}

// NewOracle creates an oracle. logger may be nil.
func NewOracle(completer Completer, policy retry.Policy, logger *slog.Logger) *Oracle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Oracle{
		completer: completer,
		policy:    policy,
		logger:    logger,
		stats:     make(map[Kind]*KindStats),
	}
}

// Enabled reports whether requests reach a backend.
func (o *Oracle) Enabled() bool {
	if o == nil || o.completer == nil {
		return false
	}
	if e, ok := o.completer.(interface{ Enabled() bool }); ok {
		return e.Enabled()
	}
	return true
}

// Stats returns a copy of the per-kind counters.
func (o *Oracle) Stats() map[Kind]KindStats {
	if o == nil {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[Kind]KindStats, len(o.stats))
	for k, s := range o.stats {
		out[k] = *s
	}
	return out
}

// Kinds lists the kinds asked so far, sorted.
func (o *Oracle) Kinds() []Kind {
	stats := o.Stats()
	return slices.Sorted(maps.Keys(stats))
}

func (o *Oracle) record(kind Kind, requests int, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, found := o.stats[kind]
	if !found {
		s = &KindStats{}
		o.stats[kind] = s
	}
	s.Requests += requests
	if ok {
		s.Successes++
	} else {
		s.Failsafes++
	}
}

// Ask resolves r. Failures to complete or parse are retried per the oracle
// policy; once exhausted the failsafe is returned. Ask never fails.
func Ask[T any](o *Oracle, r Request[T]) T {
	if !o.Enabled() {
		if o != nil {
			o.record(r.Kind, 0, false)
		}
		return r.Failsafe
	}
	policy := o.policy
	if r.Attempts > 0 {
		policy = policy.WithAttempts(r.Attempts)
	}
	maxTokens := r.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	requests := 0
	v, err := retry.OrFallback(policy, r.Failsafe, func(attempt int) (T, error) {
		var zero T
		requests++
		response, err := o.completer.Complete(r.System, r.Prompt, maxTokens)
		if err != nil {
			return zero, err
		}
		o.logger.Debug("oracle response", "kind", r.Kind, "attempt", attempt, "response", response)
		if r.Parse == nil {
			return zero, fmt.Errorf("%s: no parser", r.Kind)
		}
		return r.Parse(response)
	})
	if err != nil {
		o.record(r.Kind, requests, false)
		o.logger.Warn("oracle failsafe", "kind", r.Kind, "error", err)
		return v
	}
	o.record(r.Kind, requests, true)
	return v
}
