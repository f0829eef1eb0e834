package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/talgya/ville/internal/agents"
	"github.com/talgya/ville/internal/api"
	"github.com/talgya/ville/internal/clock"
	"github.com/talgya/ville/internal/config"
	"github.com/talgya/ville/internal/engine"
	"github.com/talgya/ville/internal/index"
	"github.com/talgya/ville/internal/llm"
	"github.com/talgya/ville/internal/persistence"
	"github.com/talgya/ville/internal/world"
)

const embedDim = 256

var (
	configPath string
	resume     bool
	steps      int
	stride     int
	port       int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the simulation",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("steps") {
			cfg.Sim.Steps = steps
		}
		if flags.Changed("stride") {
			cfg.Sim.Stride = stride
		}
		if flags.Changed("port") {
			cfg.Sim.Port = port
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&configPath, "config", "configs/example.yaml", "Path to the YAML config")
	f.BoolVar(&resume, "resume", false, "Continue from the newest checkpoint")
	f.IntVar(&steps, "steps", 0, "Steps to run (overrides sim.steps; 0 runs until stopped)")
	f.IntVar(&stride, "stride", 0, "Simulated minutes per step (overrides sim.stride)")
	f.IntVar(&port, "port", 0, "Status API port (overrides sim.port; 0 disables)")
}

func run(ctx context.Context, cfg *config.Config) error {
	slog.Info("ville: generative agents simulation", "name", cfg.Sim.Name, "config", configPath)

	configs, err := cfg.AgentConfigs()
	if err != nil {
		return err
	}

	// ── World ─────────────────────────────────────────────────────────
	boot, err := loadWorld(cfg, configs)
	if err != nil {
		return err
	}
	grid, err := world.NewGrid(boot)
	if err != nil {
		return fmt.Errorf("build grid: %w", err)
	}
	slog.Info("world ready", "world", boot.Describe(), "addresses", grid.Addresses())

	// ── Checkpoint ────────────────────────────────────────────────────
	var cp *persistence.Checkpoint
	dir := cfg.Sim.CheckpointDir
	if dir != "" {
		latest, err := persistence.LatestCheckpoint(dir)
		switch {
		case errors.Is(err, persistence.ErrNoCheckpoint):
			if resume {
				slog.Warn("no checkpoint to resume from, starting fresh", "dir", dir)
			}
		case err != nil:
			return err
		case !resume:
			return fmt.Errorf("%s holds a previous run (%s); pass --resume or choose another sim.checkpoint_dir", dir, filepath.Base(latest))
		default:
			loaded, err := persistence.ReadCheckpoint(latest)
			if err != nil {
				return err
			}
			cp = &loaded
		}
	}

	// ── Clock ─────────────────────────────────────────────────────────
	clk, err := clock.Parse(cfg.Sim.Start)
	if err != nil {
		return err
	}
	runID := uuid.NewString()
	conversation := agents.ConversationLog{}
	if cp != nil {
		if clk, err = clock.Parse(cp.Time); err != nil {
			return err
		}
		clk.Forward(cp.Stride)
		if cp.RunID != "" {
			runID = cp.RunID
		}
		if conversation, err = persistence.ReadConversation(dir); err != nil {
			return err
		}
		slog.Info("resuming", "run_id", runID, "step", cp.Step, "time", clk.Stamp(), "conversations", conversation.Len())
	}
	startTime := clk.Now()

	// ── Oracle ────────────────────────────────────────────────────────
	var completer llm.Completer
	if cfg.LLM.Provider == "anthropic" {
		if client := llm.NewClient(os.Getenv("ANTHROPIC_API_KEY"), cfg.LLM.Model, cfg.LLM.MaxPerMin); client != nil {
			client.MaxTokens = cfg.LLM.MaxTokens
			completer = client
			slog.Info("LLM client enabled", "model", client.Model())
		} else {
			slog.Warn("ANTHROPIC_API_KEY not set; every oracle request returns its failsafe")
		}
	}

	seed := cfg.Sim.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	env := &agents.Env{
		Grid:         grid,
		Clock:        clk,
		Oracle:       llm.NewOracle(completer, cfg.LLM.Policy(), slog.Default()),
		Conversation: conversation,
		Rand:         rand.New(rand.NewSource(seed)),
		Logger:       slog.Default(),
	}

	// ── Agents ────────────────────────────────────────────────────────
	list := make([]*agents.Agent, 0, len(configs))
	for _, ac := range configs {
		path, err := indexPath(dir, ac.Name)
		if err != nil {
			return err
		}
		store, err := index.Open(path, index.NewHashEmbedder(embedDim), cfg.LLM.Policy())
		if err != nil {
			return fmt.Errorf("open index for %s: %w", ac.Name, err)
		}
		defer store.Close()

		var a *agents.Agent
		if snap, ok := checkpointed(cp, ac.Name); ok {
			a, err = agents.Restore(ac, env, store, snap)
		} else {
			a, err = agents.New(ac, env, store)
		}
		if err != nil {
			return err
		}
		list = append(list, a)
	}

	// ── Simulation ────────────────────────────────────────────────────
	sim, err := engine.NewSimulation(env, list, engine.Options{
		RunID:         runID,
		Name:          cfg.Sim.Name,
		Stride:        cfg.Sim.Stride,
		MovePerTick:   cfg.Sim.MovePerTick,
		CheckpointDir: dir,
	})
	if err != nil {
		return err
	}
	if cp != nil {
		sim.Resume(*cp)
	}

	eng := engine.NewEngine()
	eng.Interval, _ = cfg.Interval()
	eng.MaxSteps = cfg.Sim.Steps
	eng.OnTick = func(int) error {
		_, err := sim.Step()
		return err
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.Sim.Port > 0 {
		adminKey := os.Getenv("VILLE_ADMIN_KEY")
		if adminKey == "" {
			slog.Warn("VILLE_ADMIN_KEY not set; admin POST endpoints will be disabled")
		}
		server := &api.Server{Sim: sim, Eng: eng, Port: cfg.Sim.Port, AdminKey: adminKey}
		server.Start()
		sim.OnStep = server.Publish
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				slog.Error("HTTP shutdown", "error", err)
			}
		}()
		fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.Sim.Port)
	}

	fmt.Printf("\n%s is alive: %d agents, run %s.\n", cfg.Sim.Name, len(list), runID)
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	runErr := eng.Run(ctx)
	report(sim, env.Oracle, startTime, env.Clock.Now())
	return runErr
}

// loadWorld reads sim.world, or generates a village with one house per agent.
func loadWorld(cfg *config.Config, configs []agents.Config) (*world.Bootstrap, error) {
	if cfg.Sim.World != "" {
		return world.LoadBootstrap(cfg.Sim.World)
	}
	gen := world.DefaultGenConfig()
	gen.Seed = cfg.Sim.Seed
	gen.Residents = make([]string, len(configs))
	for i, ac := range configs {
		gen.Residents[i] = ac.Name
	}
	slog.Info("no sim.world set, generating the demo village", "seed", gen.Seed)
	return world.Generate(gen), nil
}

func checkpointed(cp *persistence.Checkpoint, name string) (agents.Snapshot, bool) {
	if cp == nil {
		return agents.Snapshot{}, false
	}
	snap, ok := cp.Agents[name]
	if !ok {
		slog.Warn("agent missing from checkpoint, starting fresh", "agent", name)
	}
	return snap, ok
}

// indexPath keeps each agent's semantic store next to the checkpoints.
func indexPath(dir, name string) (string, error) {
	if dir == "" {
		return ":memory:", nil
	}
	idx := filepath.Join(dir, "index")
	if err := os.MkdirAll(idx, 0o755); err != nil {
		return "", fmt.Errorf("create index dir: %w", err)
	}
	file := strings.ToLower(strings.Join(strings.Fields(name), "_")) + ".db"
	return filepath.Join(idx, file), nil
}

func report(sim *engine.Simulation, oracle *llm.Oracle, start, end time.Time) {
	state := sim.State()
	fmt.Printf("\nSimulation stopped at step %s (%s), %s of simulated time, %s conversations.\n",
		humanize.Comma(int64(state.Step)), state.Time,
		strings.TrimSpace(humanize.RelTime(start, end, "", "")), humanize.Comma(int64(state.Conversations)))
	for _, kind := range oracle.Kinds() {
		slog.Info("oracle", "kind", kind, "stats", state.Oracle[kind].String())
	}
}
