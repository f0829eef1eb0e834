package llm

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/ville/internal/clock"
	"github.com/talgya/ville/internal/event"
	"github.com/talgya/ville/internal/memory"
)

// Hours at or after this one are never accepted as a wake-up time.
const maxWakeHour = 11

var wakePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d{1,2}):00`),
	regexp.MustCompile(`(\d{1,2})`),
}

// WakeUp asks for the hour the agent gets up.
func WakeUp(p Persona) Request[int] {
	var b strings.Builder
	b.WriteString(p.Describe())
	fmt.Fprintf(&b, "\nIn general, %s\n", p.Lifestyle)
	fmt.Fprintf(&b, "What hour does %s wake up today? Answer with a single time such as \"7:00\".\n", p.Name)
	return Request[int]{
		Kind:      KindWakeUp,
		System:    p.system(),
		Prompt:    b.String(),
		MaxTokens: 32,
		Parse: func(response string) (int, error) {
			s, err := matchFirst(response, wakePatterns...)
			if err != nil {
				return 0, fmt.Errorf("wake up: %w", err)
			}
			h, err := strconv.Atoi(s)
			if err != nil {
				return 0, fmt.Errorf("wake up: %w", err)
			}
			return min(h, maxWakeHour), nil
		},
		Failsafe: 6,
	}
}

// ScheduleInit asks for a rough outline of the day starting at wakeUp.
func ScheduleInit(p Persona, wakeUp int) Request[[]string] {
	var b strings.Builder
	b.WriteString(p.Describe())
	fmt.Fprintf(&b, "\nIn general, %s\n", p.Lifestyle)
	fmt.Fprintf(&b, "Today %s wakes up at %d:00. List %s's plan for today in broad strokes, one numbered item per line with the time, e.g. \"1. wake up and complete the morning routine at 6:00 am\".\n",
		p.Name, wakeUp, p.Name)
	return Request[[]string]{
		Kind:   KindScheduleInit,
		System: p.system(),
		Prompt: b.String(),
		Parse:  parseNumbered,
		Failsafe: []string{
			"wake up and complete the morning routine at 6:00 am",
			"eat breakfast at 7:00 am",
			"read a book from 8:00 am to 12:00 pm",
			"have lunch at 12:00 pm",
			"take a nap from 1:00 pm to 4:00 pm",
			"relax and watch TV from 7:00 pm to 8:00 pm",
			"go to bed at 11:00 pm",
		},
	}
}

var hourlyLine = regexp.MustCompile(`^\[(\d{1,2}):(\d{2})\]\s*(.+?)\.?$`)

// minHourlySlots is how many filled slots a daily schedule must contain.
const minHourlySlots = 5

// ScheduleDaily asks for an activity per hour from wakeUp to midnight. The
// result maps the slot start (minutes since midnight) to its activity.
func ScheduleDaily(p Persona, wakeUp int, outline []string) Request[map[int]string] {
	var b strings.Builder
	b.WriteString(p.Describe())
	fmt.Fprintf(&b, "\nHere is %s's plan for today in broad strokes: %s\n\n", p.Name, strings.Join(outline, "; "))
	b.WriteString("Fill in every <activity> slot below, keeping the \"[H:MM]\" prefix on each line:\n")
	for h := 0; h < 24; h++ {
		if h < wakeUp {
			fmt.Fprintf(&b, "[%d:00] sleeping\n", h)
			continue
		}
		fmt.Fprintf(&b, "[%d:00] <activity>\n", h)
	}

	failsafe := map[int]string{}
	for h, activity := range map[int]string{
		6: "wake up and complete the morning routine", 7: "eat breakfast",
		8: "read a book", 9: "read a book", 10: "read a book", 11: "read a book",
		12: "have lunch", 13: "take a nap", 14: "take a nap", 15: "take a nap",
		16: "continue working", 17: "continue working", 18: "go back home",
		19: "relax and watch TV", 20: "relax and watch TV", 21: "read before bed",
		22: "get ready for bed", 23: "sleeping",
	} {
		failsafe[h*60] = activity
	}

	return Request[map[int]string]{
		Kind:      KindScheduleDaily,
		System:    p.system(),
		Prompt:    b.String(),
		MaxTokens: 1024,
		Parse: func(response string) (map[int]string, error) {
			out := map[int]string{}
			for _, row := range matchAll(response, hourlyLine) {
				h, _ := strconv.Atoi(row[0])
				m, _ := strconv.Atoi(row[1])
				activity := strings.TrimPrefix(row[2], p.Name+" ")
				if h >= 24 || m >= 60 || activity == "" || strings.Contains(activity, "<activity>") {
					continue
				}
				out[h*60+m] = activity
			}
			if len(out) < minHourlySlots {
				return nil, fmt.Errorf("daily schedule: only %d slots", len(out))
			}
			return out, nil
		},
		Failsafe: failsafe,
	}
}

var decomposeLine = regexp.MustCompile(`^\d{1,2}\)\s*(.+?)\s*\(duration in minutes[:：\s]+(\d{1,3})`)

// ScheduleDecompose asks for the sub-activities of plan. Missing minutes are
// filled with the plan itself and overshoot is trimmed, so durations always
// sum to plan.Duration.
func ScheduleDecompose(p Persona, plan memory.Plan, plans []memory.Plan, day time.Time) Request[[]memory.Plan] {
	var context []string
	for i := max(plan.Idx-1, 0); i < min(plan.Idx+2, len(plans)); i++ {
		context = append(context, fmt.Sprintf("%s, %s plans to %s", memory.Stamps(plans[i], day), p.Name, plans[i].Describe))
	}
	increment := max(plan.Duration/100*5, 5)

	var b strings.Builder
	b.WriteString(p.Describe())
	fmt.Fprintf(&b, "\nToday's schedule around now: %s.\n", strings.Join(context, "; "))
	fmt.Fprintf(&b, "Break %s's activity \"%s\" during %s into subtasks of roughly %d minutes. One numbered line per subtask in the form:\n",
		p.Name, plan.Describe, memory.Stamps(plan, day), increment)
	fmt.Fprintf(&b, "1) %s is <subtask> (duration in minutes: <n>, minutes left: <m>)\n", p.Name)

	return Request[[]memory.Plan]{
		Kind:   KindScheduleDecompose,
		System: p.system(),
		Prompt: b.String(),
		Parse: func(response string) ([]memory.Plan, error) {
			rows := matchAll(response, decomposeLine)
			if len(rows) == 0 {
				return nil, fmt.Errorf("decompose: %w", errNoMatch)
			}
			var out []memory.Plan
			left := plan.Duration
			for _, row := range rows {
				d, _ := strconv.Atoi(row[1])
				d = min(d, left)
				if d <= 0 {
					continue
				}
				describe := strings.TrimSuffix(row[0], ".")
				describe = strings.TrimPrefix(describe, p.Name+" is ")
				describe = strings.TrimPrefix(describe, p.Name+" ")
				out = append(out, memory.Plan{Describe: describe, Duration: d})
				left -= d
			}
			if left > 0 {
				out = append(out, memory.Plan{Describe: plan.Describe, Duration: left})
			}
			return out, nil
		},
		Failsafe: chunkPlan(plan, 10),
	}
}

// chunkPlan splits plan into step-minute pieces; the remainder joins the
// last piece.
func chunkPlan(plan memory.Plan, step int) []memory.Plan {
	n := plan.Duration / step
	if n == 0 {
		return []memory.Plan{{Describe: plan.Describe, Duration: plan.Duration}}
	}
	out := make([]memory.Plan, n)
	for i := range out {
		out[i] = memory.Plan{Describe: plan.Describe, Duration: step}
	}
	out[n-1].Duration += plan.Duration - n*step
	return out
}

var reviseLine = regexp.MustCompile(`^\[(\d{1,2}):(\d{2})\s*(?:-|~|to)\s*(\d{1,2}):(\d{2})\]\s*(.+)$`)

// ScheduleRevise asks to rewrite the decomposition of plan around an
// unplanned action starting inside it.
func ScheduleRevise(p Persona, plan memory.Plan, act event.Action, day time.Time) Request[[]memory.Plan] {
	actStart := clock.DailyMinutes(act.Start)
	actEnd := actStart + act.Duration
	stamp := func(start, end int, describe string) string {
		return fmt.Sprintf("[%s] %s", memory.Stamps(memory.Plan{Start: start, Duration: end - start}, day), describe)
	}

	var original, revised []string
	for _, sub := range plan.Decompose {
		original = append(original, stamp(sub.Start, sub.End(), sub.Describe))
		switch {
		case sub.End() <= actStart:
			revised = append(revised, stamp(sub.Start, sub.End(), sub.Describe))
		case sub.Start <= actStart:
			revised = append(revised,
				stamp(sub.Start, actStart, sub.Describe),
				stamp(actStart, actEnd, act.Event.GetDescribe(false)))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s planned the following for %s:\n%s\n\n", p.Name, memory.Stamps(plan, day), strings.Join(original, "\n"))
	fmt.Fprintf(&b, "But %s unexpectedly ended up %s for %d minutes.\n", p.Name, act.Event.GetDescribe(true), act.Duration)
	fmt.Fprintf(&b, "Revise the plan to end at %s. Keep the lines below and continue in the same \"[HH:MM ~ HH:MM] activity\" format:\n%s\n",
		memory.Stamps(memory.Plan{Start: plan.End()}, day)[:5], strings.Join(revised, "\n"))

	return Request[[]memory.Plan]{
		Kind:   KindScheduleRevise,
		System: p.system(),
		Prompt: b.String(),
		Parse: func(response string) ([]memory.Plan, error) {
			var out []memory.Plan
			for _, row := range matchAll(response, reviseLine) {
				sh, _ := strconv.Atoi(row[0])
				sm, _ := strconv.Atoi(row[1])
				eh, _ := strconv.Atoi(row[2])
				em, _ := strconv.Atoi(row[3])
				start, end := sh*60+sm, eh*60+em
				if end <= start {
					continue
				}
				out = append(out, memory.Plan{Describe: row[4], Start: start, Duration: end - start})
			}
			if len(out) == 0 {
				return nil, fmt.Errorf("revise: %w", errNoMatch)
			}
			return out, nil
		},
		Failsafe: plan.Decompose,
	}
}

const statementLayout = "2006-01-02 15:04"

func statements(nodes []memory.Concept) string {
	var b strings.Builder
	for _, n := range nodes {
		fmt.Fprintf(&b, "%s: %s\n", n.Create.Format(statementLayout), n.Describe())
	}
	return b.String()
}

// RetrievePlan asks which remembered statements matter for today's plan.
func RetrievePlan(name, date string, nodes []memory.Concept, rng *rand.Rand) Request[[]string] {
	var b strings.Builder
	b.WriteString(statements(nodes))
	fmt.Fprintf(&b, "\nGiven the statements above, is there anything %s should remember as they plan for %s? List up to 5 numbered items.\n", name, date)

	all := describes(nodes)
	var failsafe []string
	for i := 0; i < 5 && len(all) > 0; i++ {
		failsafe = append(failsafe, randomChoice(rng, all))
	}
	return Request[[]string]{
		Kind:     KindRetrievePlan,
		Prompt:   b.String(),
		Parse:    parseNumbered,
		Failsafe: failsafe,
	}
}

// RetrieveThought asks how the agent feels about recent days.
func RetrieveThought(name string, nodes []memory.Concept) Request[string] {
	var b strings.Builder
	b.WriteString(statements(nodes))
	fmt.Fprintf(&b, "\nGiven the statements above, how might we summarize %s's feelings about their days up to now? Answer in one or two sentences.\n", name)
	return Request[string]{
		Kind:     KindRetrieveThought,
		Prompt:   b.String(),
		Parse:    parseText,
		Failsafe: name + " should follow yesterday's schedule",
	}
}

var statusLine = regexp.MustCompile(`(?i)^status:\s*(.+?)\.?$`)

// RetrieveCurrently asks for an updated status line for today.
func RetrieveCurrently(name, currently, yesterday, today string, plan []string, thought string) Request[string] {
	var b strings.Builder
	fmt.Fprintf(&b, "%s's status on %s:\n%s\n\n", name, yesterday, currently)
	fmt.Fprintf(&b, "%s's thoughts at the end of %s:\n%s\n%s\n\n", name, yesterday, strings.Join(plan, ". "), thought)
	fmt.Fprintf(&b, "It is now %s. Write %s's status for today in the third person, reflecting the thoughts above. Answer with one line starting with \"Status: \".\n", today, name)
	return Request[string]{
		Kind:   KindRetrieveCurrently,
		Prompt: b.String(),
		Parse: func(response string) (string, error) {
			return matchFirst(response, statusLine)
		},
		Failsafe: currently,
	}
}
