package schedule

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/deltaguita/market-tracker/internal/models"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	return NewTracker(filepath.Join(t.TempDir(), "schedule_state.json"))
}

func TestTracker_FirstRunIsDue(t *testing.T) {
	tracker := newTestTracker(t)

	due, err := tracker.IsDue(models.SourceMercariJP, 4, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !due {
		t.Error("source with no recorded run should be due")
	}

	next, err := tracker.NextRunTime(models.SourceMercariJP, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != nil {
		t.Errorf("expected unknown next run time, got %v", next)
	}

	until, err := tracker.TimeUntilNextRun(models.SourceMercariJP, 4, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if until != nil {
		t.Errorf("expected unknown time until next run, got %v", until)
	}
}

func TestTracker_BoundaryInclusive(t *testing.T) {
	tracker := newTestTracker(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if err := tracker.RecordRun(models.SourceMercariJP, base); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"exactly at interval", base.Add(4 * time.Hour), true},
		{"one minute early", base.Add(4*time.Hour - time.Minute), false},
		{"well past interval", base.Add(9 * time.Hour), true},
		{"immediately after run", base.Add(time.Second), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			due, err := tracker.IsDue(models.SourceMercariJP, 4, tt.now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if due != tt.want {
				t.Errorf("IsDue at %v = %v, want %v", tt.now, due, tt.want)
			}
		})
	}
}

func TestTracker_RecordRunLeavesOtherSourcesAlone(t *testing.T) {
	tracker := newTestTracker(t)

	t1 := time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	if err := tracker.RecordRun(models.SourceMercariJP, t1); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := tracker.RecordRun(models.SourceAmazonUS, t2); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	jp, err := tracker.LastRun(models.SourceMercariJP)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if jp == nil || !jp.Equal(t1) {
		t.Errorf("mercari last run = %v, want %v", jp, t1)
	}

	// Overwrite one source; the other is untouched.
	t3 := t1.Add(12 * time.Hour)
	if err := tracker.RecordRun(models.SourceMercariJP, t3); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	jp, _ = tracker.LastRun(models.SourceMercariJP)
	us, _ := tracker.LastRun(models.SourceAmazonUS)
	if jp == nil || !jp.Equal(t3) {
		t.Errorf("mercari last run = %v, want %v", jp, t3)
	}
	if us == nil || !us.Equal(t2) {
		t.Errorf("amazon last run = %v, want %v", us, t2)
	}
}

func TestTracker_NextRunAndRemaining(t *testing.T) {
	tracker := newTestTracker(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if err := tracker.RecordRun(models.SourceAmazonUS, base); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	next, err := tracker.NextRunTime(models.SourceAmazonUS, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next == nil || !next.Equal(base.Add(8*time.Hour)) {
		t.Errorf("next run = %v, want %v", next, base.Add(8*time.Hour))
	}

	until, err := tracker.TimeUntilNextRun(models.SourceAmazonUS, 8, base.Add(5*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if until == nil || *until != 3*time.Hour {
		t.Errorf("time until next run = %v, want 3h", until)
	}
}

func TestTracker_Clear(t *testing.T) {
	tracker := newTestTracker(t)

	now := time.Now()
	tracker.RecordRun(models.SourceMercariJP, now)
	tracker.RecordRun(models.SourceAmazonUS, now)

	if err := tracker.Clear(models.SourceMercariJP); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	jp, _ := tracker.LastRun(models.SourceMercariJP)
	us, _ := tracker.LastRun(models.SourceAmazonUS)
	if jp != nil {
		t.Error("cleared source still has a last run")
	}
	if us == nil {
		t.Error("untouched source lost its last run")
	}

	if err := tracker.ClearAll(); err != nil {
		t.Fatalf("clear all failed: %v", err)
	}
	us, _ = tracker.LastRun(models.SourceAmazonUS)
	if us != nil {
		t.Error("state survived ClearAll")
	}

	// Clearing a missing file or source is not an error.
	if err := tracker.ClearAll(); err != nil {
		t.Errorf("second ClearAll errored: %v", err)
	}
	if err := tracker.Clear(models.SourceAmazonUS); err != nil {
		t.Errorf("clearing absent source errored: %v", err)
	}
}
