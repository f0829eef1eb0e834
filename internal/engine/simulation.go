package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/talgya/ville/internal/agents"
	"github.com/talgya/ville/internal/llm"
	"github.com/talgya/ville/internal/persistence"
	"github.com/talgya/ville/internal/world"
)

// Options tunes a simulation.
type Options struct {
	RunID         string
	Name          string
	Stride        int    // minutes the clock moves after each step
	MovePerTick   int    // path tiles walked per step; 0 jumps to the end of the path
	CheckpointDir string // empty disables checkpoints
}

// Frame is what one step produced.
type Frame struct {
	Step    int                 `json:"step"`
	Time    string              `json:"time"`
	Records []agents.PlanRecord `json:"records"`
}

// State is the observable state after the latest step.
type State struct {
	RunID         string                     `json:"run_id"`
	Name          string                     `json:"name"`
	Step          int                        `json:"step"`
	Time          string                     `json:"time"` // when the next step runs
	Agents        []agents.Summary           `json:"agents"`
	Conversations int                        `json:"conversations"`
	Oracle        map[llm.Kind]llm.KindStats `json:"oracle"`
}

// Simulation owns the shared world and ticks every agent in a fixed order.
// Step is not safe for concurrent use; State, Frame and Conversation are.
type Simulation struct {
	Env    *agents.Env
	Agents []*agents.Agent
	Options

	// OnStep is called after each successful step.
	OnStep func(Frame)

	step   int
	status map[string]agents.Status
	index  map[string]*agents.Agent
	logger *slog.Logger

	mu           sync.RWMutex
	state        State
	frame        Frame
	conversation agents.ConversationLog
}

// NewSimulation wires agents, in the order given, into a simulation.
func NewSimulation(env *agents.Env, list []*agents.Agent, opts Options) (*Simulation, error) {
	if len(list) == 0 {
		return nil, errors.New("simulation: no agents")
	}
	if opts.Stride < 0 || opts.MovePerTick < 0 {
		return nil, fmt.Errorf("simulation: stride %d and move_per_tick %d must not be negative", opts.Stride, opts.MovePerTick)
	}
	s := &Simulation{
		Env:     env,
		Agents:  list,
		Options: opts,
		status:  make(map[string]agents.Status, len(list)),
		index:   make(map[string]*agents.Agent, len(list)),
		logger:  env.Logger.With("run", opts.Name),
	}
	for _, a := range list {
		if _, dup := s.index[a.Name]; dup {
			return nil, fmt.Errorf("simulation: duplicate agent %q", a.Name)
		}
		s.index[a.Name] = a
		s.status[a.Name] = agents.Status{Coord: a.Coord()}
	}
	s.publish(Frame{})
	return s, nil
}

// Resume continues after cp. The clock must already point at the next step.
func (s *Simulation) Resume(cp persistence.Checkpoint) {
	s.step = cp.Step
	for name, st := range cp.Status {
		if _, ok := s.index[name]; ok {
			s.status[name] = agents.Status{Coord: st.Coord, Path: slices.Clone(st.Path)}
		}
	}
	s.publish(Frame{Step: cp.Step, Time: cp.Time})
}

// Step runs every agent once, in order, then checkpoints and moves the clock.
// A failing agent aborts the step before anything is persisted.
func (s *Simulation) Step() (Frame, error) {
	stamp := s.Env.Clock.Stamp()
	n := s.step + 1
	s.logger.Info("simulate step", "step", n, "time", stamp)

	frame := Frame{Step: n, Time: stamp, Records: make([]agents.PlanRecord, 0, len(s.Agents))}
	s.Env.ResetClaims()
	for _, a := range s.Agents {
		rec, err := a.Think(s.status[a.Name], s.index)
		if err != nil {
			return Frame{}, fmt.Errorf("step %d: %w", n, err)
		}
		s.status[a.Name] = advance(a.Coord(), rec.Path, s.MovePerTick)
		frame.Records = append(frame.Records, rec)
		s.logger.Debug("agent stepped", "agent", a.Name, "action", a.Action().Event.GetDescribe(true), "path", len(rec.Path))
	}

	if err := s.checkpoint(frame); err != nil {
		return Frame{}, err
	}
	s.step = n
	if s.Stride > 0 {
		s.Env.Clock.Forward(s.Stride)
	}
	s.publish(frame)
	if s.OnStep != nil {
		s.OnStep(frame)
	}
	return frame, nil
}

// advance walks k tiles of path, or all of it when k is 0.
func advance(coord world.Coord, path []world.Coord, k int) agents.Status {
	switch {
	case len(path) == 0:
		return agents.Status{Coord: coord}
	case k <= 0 || k >= len(path):
		return agents.Status{Coord: path[len(path)-1]}
	}
	return agents.Status{Coord: path[k-1], Path: slices.Clone(path[k:])}
}

// Checkpoint builds the checkpoint of the current state.
func (s *Simulation) Checkpoint(frame Frame) persistence.Checkpoint {
	cp := persistence.Checkpoint{
		RunID:  s.RunID,
		Name:   s.Name,
		Time:   frame.Time,
		Step:   frame.Step,
		Stride: s.Stride,
		Agents: make(map[string]agents.Snapshot, len(s.Agents)),
		Status: make(map[string]agents.Status, len(s.Agents)),
	}
	for _, a := range s.Agents {
		cp.Agents[a.Name] = a.Snapshot()
		cp.Status[a.Name] = s.status[a.Name]
	}
	return cp
}

func (s *Simulation) checkpoint(frame Frame) error {
	if s.CheckpointDir == "" {
		return nil
	}
	path, size, err := persistence.WriteCheckpoint(s.CheckpointDir, s.Checkpoint(frame))
	if err != nil {
		return fmt.Errorf("step %d: %w", frame.Step, err)
	}
	if err := persistence.WriteConversation(s.CheckpointDir, s.Env.Conversation); err != nil {
		return fmt.Errorf("step %d: %w", frame.Step, err)
	}
	s.logger.Debug("checkpoint saved", "path", path, "size", humanize.Bytes(uint64(size)))
	return nil
}

func (s *Simulation) publish(frame Frame) {
	state := State{
		RunID:         s.RunID,
		Name:          s.Name,
		Step:          s.step,
		Time:          s.Env.Clock.Stamp(),
		Agents:        make([]agents.Summary, 0, len(s.Agents)),
		Conversations: s.Env.Conversation.Len(),
		Oracle:        s.Env.Oracle.Stats(),
	}
	for _, a := range s.Agents {
		state.Agents = append(state.Agents, a.Summary())
	}
	log := maps.Clone(s.Env.Conversation)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.frame = frame
	s.conversation = log
}

// CurrentStep is the number of completed steps.
func (s *Simulation) CurrentStep() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Step
}

// State returns the state published after the latest step.
func (s *Simulation) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Frame returns the latest step's records.
func (s *Simulation) Frame() Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame
}

// Conversation returns the conversation log as of the latest step.
func (s *Simulation) Conversation() agents.ConversationLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversation
}
