package agents

import (
	"fmt"

	"github.com/talgya/ville/internal/memory"
	"github.com/talgya/ville/internal/world"
)

// Scratch is the fixed persona text fed to every prompt.
type Scratch struct {
	Age       int    `yaml:"age" json:"age"`
	Innate    string `yaml:"innate" json:"innate"`
	Learned   string `yaml:"learned" json:"learned"`
	Lifestyle string `yaml:"lifestyle" json:"lifestyle"`
	DailyPlan string `yaml:"daily_plan" json:"daily_plan"`
}

// PerceptConfig bounds what an agent notices each tick.
type PerceptConfig struct {
	VisionR      int `yaml:"vision_r" json:"vision_r"`
	AttBandwidth int `yaml:"att_bandwidth" json:"att_bandwidth"`
}

// ThinkConfig sets the reflection threshold.
type ThinkConfig struct {
	PoignancyMax int `yaml:"poignancy_max" json:"poignancy_max"`
}

// ScheduleConfig tunes daily schedule generation.
type ScheduleConfig struct {
	Diversity int `yaml:"diversity" json:"diversity"`
	MaxTry    int `yaml:"max_try" json:"max_try"`
}

// SpatialConfig seeds an agent's knowledge of places.
type SpatialConfig struct {
	Tree    *memory.Tree        `yaml:"tree" json:"tree"`
	Address map[string][]string `yaml:"address" json:"address"`
}

// Config describes one agent at bootstrap.
type Config struct {
	Name      string                 `yaml:"name" json:"name"`
	Coord     world.Coord            `yaml:"coord" json:"coord"`
	Currently string                 `yaml:"currently" json:"currently"`
	Scratch   Scratch                `yaml:"scratch" json:"scratch"`
	Percept   PerceptConfig          `yaml:"percept" json:"percept"`
	Think     ThinkConfig            `yaml:"think" json:"think"`
	ChatIter  int                    `yaml:"chat_iter" json:"chat_iter"`
	Schedule  ScheduleConfig         `yaml:"schedule" json:"schedule"`
	Associate memory.AssociateConfig `yaml:"associate" json:"associate"`
	Spatial   SpatialConfig          `yaml:"spatial" json:"spatial"`
}

// DefaultConfig returns the agent_base defaults.
func DefaultConfig() Config {
	return Config{
		Percept:   PerceptConfig{VisionR: 8, AttBandwidth: 8},
		Think:     ThinkConfig{PoignancyMax: 150},
		ChatIter:  4,
		Schedule:  ScheduleConfig{Diversity: 5, MaxTry: 5},
		Associate: memory.DefaultAssociateConfig(),
	}
}

// Validate checks the fields the cognitive loop depends on.
func (c Config) Validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("agent: name is required")
	case c.Percept.VisionR < 0:
		return fmt.Errorf("agent %s: vision_r must not be negative", c.Name)
	case c.Percept.AttBandwidth <= 0:
		return fmt.Errorf("agent %s: att_bandwidth must be positive", c.Name)
	case c.Think.PoignancyMax <= 0:
		return fmt.Errorf("agent %s: poignancy_max must be positive", c.Name)
	case c.ChatIter <= 0:
		return fmt.Errorf("agent %s: chat_iter must be positive", c.Name)
	case c.Schedule.MaxTry <= 0:
		return fmt.Errorf("agent %s: schedule max_try must be positive", c.Name)
	case c.Associate.Retention <= 0:
		return fmt.Errorf("agent %s: associate retention must be positive", c.Name)
	}
	return nil
}
