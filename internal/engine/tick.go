// Package engine drives the simulation. A Simulation runs one step across
// every agent; an Engine paces steps.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const pausePoll = 100 * time.Millisecond

// Engine drives the simulation forward one step at a time.
type Engine struct {
	Interval time.Duration // wall time per step at speed 1; 0 runs flat out
	MaxSteps int           // steps to run before stopping; 0 is unbounded

	// OnTick runs step n (1-based within this run). An error stops the engine.
	OnTick func(n int) error

	mu      sync.Mutex
	speed   float64
	running atomic.Bool
	steps   atomic.Int64
}

// NewEngine creates an engine at speed 1 with no pacing.
func NewEngine() *Engine {
	return &Engine{speed: 1}
}

// Speed is the pacing multiplier; 0 means paused.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the pacing multiplier.
func (e *Engine) SetSpeed(speed float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speed = max(speed, 0)
}

// Running reports whether Run is looping.
func (e *Engine) Running() bool { return e.running.Load() }

// Steps is the number of steps run so far.
func (e *Engine) Steps() int { return int(e.steps.Load()) }

// Run loops until Stop is called, ctx is done, MaxSteps is reached or a step
// fails. Only a failed step yields an error.
func (e *Engine) Run(ctx context.Context) error {
	e.running.Store(true)
	defer e.running.Store(false)
	slog.Info("simulation engine started", "max_steps", e.MaxSteps, "speed", e.Speed(), "interval", e.Interval)

	for e.running.Load() && ctx.Err() == nil {
		if e.MaxSteps > 0 && e.Steps() >= e.MaxSteps {
			break
		}
		speed := e.Speed()
		if speed <= 0 {
			wait(ctx, pausePoll)
			continue
		}

		start := time.Now()
		n := int(e.steps.Add(1))
		if e.OnTick != nil {
			if err := e.OnTick(n); err != nil {
				slog.Error("simulation step failed", "step", n, "error", err)
				return fmt.Errorf("step %d: %w", n, err)
			}
		}

		target := time.Duration(float64(e.Interval) / speed)
		if elapsed := time.Since(start); elapsed < target {
			wait(ctx, target-elapsed)
		}
	}

	slog.Info("simulation engine stopped", "steps", e.Steps())
	return nil
}

// Stop halts the loop after the current step.
func (e *Engine) Stop() {
	e.running.Store(false)
}

func wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
