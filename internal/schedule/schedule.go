// Package schedule decides crawl due-ness per source and persists run
// markers. State is a small JSON file mapping source to last-run time,
// rewritten whole on every update.
package schedule

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/deltaguita/market-tracker/internal/models"
)

// sourceState is the persisted per-source entry.
type sourceState struct {
	LastRunTime string `json:"last_run_time"`
}

// Tracker persists last-run times per source and computes due-ness.
type Tracker struct {
	path string
}

// NewTracker creates a tracker backed by the JSON state file at path.
func NewTracker(path string) *Tracker {
	return &Tracker{path: path}
}

// LastRun returns the recorded last-run time for source, or nil when the
// source has never run.
func (t *Tracker) LastRun(source models.Source) (*time.Time, error) {
	state, err := t.load()
	if err != nil {
		return nil, err
	}

	entry, ok := state[string(source)]
	if !ok || entry.LastRunTime == "" {
		return nil, nil
	}

	lastRun, err := time.Parse(time.RFC3339, entry.LastRunTime)
	if err != nil {
		// A corrupt entry is treated as never-run rather than blocking the
		// source forever.
		return nil, nil
	}
	return &lastRun, nil
}

// RecordRun overwrites source's entry with when, leaving other sources
// untouched.
func (t *Tracker) RecordRun(source models.Source, when time.Time) error {
	state, err := t.load()
	if err != nil {
		return err
	}

	state[string(source)] = sourceState{LastRunTime: when.Format(time.RFC3339)}
	return t.save(state)
}

// IsDue reports whether source should run at now. A source with no recorded
// run is due (first run). The boundary is inclusive: elapsed time exactly
// equal to the interval counts as due.
func (t *Tracker) IsDue(source models.Source, intervalHours int, now time.Time) (bool, error) {
	lastRun, err := t.LastRun(source)
	if err != nil {
		return false, err
	}
	if lastRun == nil {
		return true, nil
	}
	return now.Sub(*lastRun) >= time.Duration(intervalHours)*time.Hour, nil
}

// NextRunTime returns when source is next due, or nil when it has never run.
func (t *Tracker) NextRunTime(source models.Source, intervalHours int) (*time.Time, error) {
	lastRun, err := t.LastRun(source)
	if err != nil {
		return nil, err
	}
	if lastRun == nil {
		return nil, nil
	}
	next := lastRun.Add(time.Duration(intervalHours) * time.Hour)
	return &next, nil
}

// TimeUntilNextRun returns the remaining wait for source, or nil when it has
// never run. Zero or negative means already due.
func (t *Tracker) TimeUntilNextRun(source models.Source, intervalHours int, now time.Time) (*time.Duration, error) {
	next, err := t.NextRunTime(source, intervalHours)
	if err != nil || next == nil {
		return nil, err
	}
	remaining := next.Sub(now)
	return &remaining, nil
}

// Clear removes one source's entry.
func (t *Tracker) Clear(source models.Source) error {
	state, err := t.load()
	if err != nil {
		return err
	}
	if _, ok := state[string(source)]; !ok {
		return nil
	}
	delete(state, string(source))
	return t.save(state)
}

// ClearAll removes the entire persisted state.
func (t *Tracker) ClearAll() error {
	err := os.Remove(t.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove schedule state: %w", err)
	}
	return nil
}

func (t *Tracker) load() (map[string]sourceState, error) {
	data, err := os.ReadFile(t.path)
	if os.IsNotExist(err) {
		return map[string]sourceState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read schedule state: %w", err)
	}

	var state map[string]sourceState
	if err := json.Unmarshal(data, &state); err != nil {
		// Unreadable state means no usable history; start over.
		return map[string]sourceState{}, nil
	}
	if state == nil {
		state = map[string]sourceState{}
	}
	return state, nil
}

func (t *Tracker) save(state map[string]sourceState) error {
	if dir := filepath.Dir(t.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create schedule state dir: %w", err)
		}
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(t.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write schedule state: %w", err)
	}
	return nil
}
