package memory

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/talgya/ville/internal/clock"
)

// ErrEmptySchedule is returned when a plan is requested before the day's
// schedule exists.
var ErrEmptySchedule = errors.New("empty schedule")

// MinutesPerDay bounds the last plan of a day.
const MinutesPerDay = 24 * 60

// Plan is one slot of the daily schedule. Start and Duration are minutes
// since midnight.
type Plan struct {
	Idx       int    `json:"idx"`
	Describe  string `json:"describe"`
	Start     int    `json:"start"`
	Duration  int    `json:"duration"`
	Decompose []Plan `json:"decompose,omitempty"`
}

// End is Start plus Duration.
func (p Plan) End() int { return p.Start + p.Duration }

// SleepLike reports whether the plan mentions sleeping or bed.
func (p Plan) SleepLike() bool {
	d := strings.ToLower(p.Describe)
	return strings.Contains(d, "sleep") || strings.Contains(d, "bed")
}

// SleepSlot reports whether the top-level slot puts the agent to sleep.
func (p Plan) SleepSlot() bool {
	return strings.Contains(strings.ToLower(p.Describe), "sleep")
}

// Schedule is an agent's plan for one calendar day.
type Schedule struct {
	Create    time.Time `json:"create"`
	Plans     []Plan    `json:"daily_schedule"`
	Diversity int       `json:"-"`
	MaxTry    int       `json:"-"`
}

// NewSchedule returns an empty schedule.
func NewSchedule(diversity, maxTry int) *Schedule {
	return &Schedule{Diversity: diversity, MaxTry: maxTry}
}

// Reset starts a new day at now, dropping the previous day's plans.
func (s *Schedule) Reset(now time.Time) {
	s.Create = now
	s.Plans = nil
}

// Scheduled reports whether a schedule exists for the day of now.
func (s *Schedule) Scheduled(now time.Time) bool {
	if len(s.Plans) == 0 {
		return false
	}
	return clock.SameDay(s.Create, now)
}

// AddPlan appends a plan that starts where the previous one ends.
func (s *Schedule) AddPlan(describe string, duration int) Plan {
	start := 0
	if n := len(s.Plans); n > 0 {
		start = s.Plans[n-1].End()
	}
	p := Plan{Idx: len(s.Plans), Describe: describe, Start: start, Duration: duration}
	s.Plans = append(s.Plans, p)
	return p
}

// ExtendPlan appends like AddPlan but merges into the previous plan when its
// description is identical.
func (s *Schedule) ExtendPlan(describe string, duration int) Plan {
	if n := len(s.Plans); n > 0 && s.Plans[n-1].Describe == describe {
		s.Plans[n-1].Duration += duration
		return s.Plans[n-1]
	}
	return s.AddPlan(describe, duration)
}

// CurrentPlan returns the active top-level plan and, when it has been
// decomposed, the active sub-plan (otherwise the plan itself). Past the last
// window both values are the last plan.
func (s *Schedule) CurrentPlan(minutes int) (Plan, Plan, error) {
	if len(s.Plans) == 0 {
		return Plan{}, Plan{}, ErrEmptySchedule
	}
	for _, p := range s.Plans {
		if p.End() <= minutes {
			continue
		}
		for _, sub := range p.Decompose {
			if sub.End() <= minutes {
				continue
			}
			return p, sub, nil
		}
		return p, p, nil
	}
	last := s.Plans[len(s.Plans)-1]
	return last, last, nil
}

// ShouldDecompose decides whether a plan needs a finer breakdown. Plans
// already decomposed never do; sleep-like plans only when an hour or shorter.
func (s *Schedule) ShouldDecompose(p Plan) bool {
	if len(p.Decompose) > 0 {
		return false
	}
	if !p.SleepLike() {
		return true
	}
	return p.Duration <= 60
}

// SetDecompose replaces the breakdown of plan idx. Sub-plan starts are laid
// out back to back from the plan's start.
func (s *Schedule) SetDecompose(idx int, steps []Plan) error {
	if idx < 0 || idx >= len(s.Plans) {
		return fmt.Errorf("decompose plan %d: out of range", idx)
	}
	start := s.Plans[idx].Start
	out := make([]Plan, len(steps))
	for i, st := range steps {
		out[i] = Plan{Idx: i, Describe: st.Describe, Start: start, Duration: st.Duration}
		start += st.Duration
	}
	s.Plans[idx].Decompose = out
	return nil
}

// ReviseDecompose replaces the breakdown of plan idx with steps that carry
// their own starts. Steps are ordered by start and re-indexed.
func (s *Schedule) ReviseDecompose(idx int, steps []Plan) error {
	if idx < 0 || idx >= len(s.Plans) {
		return fmt.Errorf("revise plan %d: out of range", idx)
	}
	out := slices.Clone(steps)
	slices.SortStableFunc(out, func(a, b Plan) int { return a.Start - b.Start })
	for i := range out {
		out[i].Idx = i
		out[i].Decompose = nil
	}
	s.Plans[idx].Decompose = out
	return nil
}

// Stamps renders a plan window as "15:04~15:04" relative to the day of t.
func Stamps(p Plan, day time.Time) string {
	y, m, d := day.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	start := midnight.Add(time.Duration(p.Start) * time.Minute)
	end := midnight.Add(time.Duration(p.End()) * time.Minute)
	return start.Format(clock.TimeLayout) + "~" + end.Format(clock.TimeLayout)
}

func (s *Schedule) String() string {
	var b strings.Builder
	for _, p := range s.Plans {
		fmt.Fprintf(&b, "%s: %s\n", Stamps(p, s.Create), p.Describe)
		for _, sub := range p.Decompose {
			fmt.Fprintf(&b, "  %s: %s\n", Stamps(sub, s.Create), sub.Describe)
		}
	}
	return b.String()
}
