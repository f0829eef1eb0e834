// Package persistence stores per-step checkpoints and the conversation log as
// zstd-compressed JSON files in a run directory.
package persistence

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/ville/internal/agents"
)

const (
	checkpointPrefix = "simulate-"
	checkpointExt    = ".json.zst"
	conversationFile = "conversation.json.zst"
)

// ErrNoCheckpoint is returned when a run directory holds no checkpoint.
var ErrNoCheckpoint = errors.New("no checkpoint")

// Checkpoint is the state of a run after one step.
type Checkpoint struct {
	RunID  string                     `json:"run_id"`
	Name   string                     `json:"name"`
	Time   string                     `json:"time"` // clock stamp the step ran at
	Step   int                        `json:"step"`
	Stride int                        `json:"stride"`
	Agents map[string]agents.Snapshot `json:"agents"`
	Status map[string]agents.Status   `json:"status"` // where each agent resumes
}

// CheckpointName is the file name of the checkpoint taken at stamp.
func CheckpointName(stamp string) string {
	return checkpointPrefix + strings.ReplaceAll(stamp, ":", "") + checkpointExt
}

// WriteCheckpoint stores cp in dir and returns the file path and its size.
func WriteCheckpoint(dir string, cp Checkpoint) (string, int64, error) {
	path := filepath.Join(dir, CheckpointName(cp.Time))
	size, err := writeJSON(path, cp)
	if err != nil {
		return "", 0, fmt.Errorf("write checkpoint: %w", err)
	}
	return path, size, nil
}

// ReadCheckpoint loads the checkpoint at path.
func ReadCheckpoint(path string) (Checkpoint, error) {
	var cp Checkpoint
	if err := readJSON(path, &cp); err != nil {
		return cp, fmt.Errorf("read checkpoint: %w", err)
	}
	return cp, nil
}

// LatestCheckpoint returns the path of the newest checkpoint in dir.
func LatestCheckpoint(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoCheckpoint
	}
	if err != nil {
		return "", fmt.Errorf("list checkpoints: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), checkpointPrefix) && strings.HasSuffix(e.Name(), checkpointExt) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", ErrNoCheckpoint
	}
	slices.Sort(names)
	return filepath.Join(dir, names[len(names)-1]), nil
}

// WriteConversation replaces the run's conversation log.
func WriteConversation(dir string, log agents.ConversationLog) error {
	if _, err := writeJSON(filepath.Join(dir, conversationFile), log); err != nil {
		return fmt.Errorf("write conversation: %w", err)
	}
	return nil
}

// ReadConversation loads the run's conversation log. A run without one yields
// an empty log.
func ReadConversation(dir string) (agents.ConversationLog, error) {
	log := agents.ConversationLog{}
	err := readJSON(filepath.Join(dir, conversationFile), &log)
	if errors.Is(err, os.ErrNotExist) {
		return agents.ConversationLog{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read conversation: %w", err)
	}
	return log, nil
}

// writeJSON encodes v into a temporary file and renames it over path.
func writeJSON(path string, v any) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path))
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	enc, err := zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		tmp.Close()
		return 0, err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)
	if err := json.NewEncoder(bw).Encode(v); err != nil {
		enc.Close()
		tmp.Close()
		return 0, fmt.Errorf("encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		tmp.Close()
		return 0, err
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		return 0, err
	}
	info, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func readJSON(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	if err := json.NewDecoder(bufio.NewReaderSize(dec, 64*1024)).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
