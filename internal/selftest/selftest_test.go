package selftest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joss/aaroh/internal/config"
)

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	schedules := filepath.Join(dir, "schedules")
	if err := os.MkdirAll(filepath.Join(schedules, "rock"), 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(schedules, "warmup.yaml"), []byte("events: []\n"), 0o644)
	os.WriteFile(filepath.Join(schedules, "rock", "riff.json"), []byte("{}"), 0o644)
	os.WriteFile(filepath.Join(schedules, "notes.txt"), []byte("skip"), 0o644)

	s := config.Defaults()
	s.DBPath = filepath.Join(dir, "data", "aaroh.db")
	s.SchedulesDir = schedules

	env := Check(s, filepath.Join(dir, "config.toml"))

	if !env.DBDirWritable {
		t.Errorf("archive dir should be writable, errors: %v", env.Errors)
	}
	if env.ScheduleFiles != 2 {
		t.Errorf("expected 2 schedule files, got %d", env.ScheduleFiles)
	}
	if env.ConfigFound {
		t.Error("config file does not exist")
	}
	if !env.IsHealthy() {
		t.Errorf("expected healthy, got errors %v", env.Errors)
	}
}

func TestCheckMissingSchedules(t *testing.T) {
	dir := t.TempDir()
	s := config.Defaults()
	s.DBPath = filepath.Join(dir, "aaroh.db")
	s.SchedulesDir = filepath.Join(dir, "nope")

	env := Check(s, "")

	found := false
	for _, w := range env.Warnings {
		if strings.Contains(w, "Schedules directory") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected schedules warning, got %v", env.Warnings)
	}
}

func TestEnvironmentSummary(t *testing.T) {
	env := &Environment{
		HasTTY:        false,
		ConfigFile:    "/home/u/.aaroh/config.toml",
		ConfigFound:   true,
		DBDir:         "/home/u/.aaroh/data",
		DBDirWritable: true,
		SchedulesDir:  "/home/u/.aaroh/schedules",
		ScheduleFiles: 3,
		Warnings:      []string{"Microphone unavailable: no device"},
	}

	summary := env.Summary()

	if !strings.Contains(summary, "AAROH ENVIRONMENT CHECK") {
		t.Error("Summary should have header")
	}
	if !strings.Contains(summary, "/home/u/.aaroh/config.toml") {
		t.Error("Summary should show config file")
	}
	if !strings.Contains(summary, "plain output") {
		t.Error("Summary should mention plain output when no TTY")
	}
	if !strings.Contains(summary, "3 file(s)") {
		t.Error("Summary should count schedules")
	}
	if !strings.Contains(summary, "Microphone unavailable") {
		t.Error("Summary should show warnings")
	}
	if !strings.Contains(summary, "Status: HEALTHY") {
		t.Error("Summary should report healthy")
	}
}

func TestQuickCheck(t *testing.T) {
	tests := []struct {
		name     string
		env      *Environment
		contains string
	}{
		{
			name:     "file only",
			env:      &Environment{ScheduleFiles: 2},
			contains: "input:file-only schedules:2",
		},
		{
			name:     "with microphone",
			env:      &Environment{Microphone: "Built-in Microphone"},
			contains: "input:mic",
		},
		{
			name:     "unhealthy",
			env:      &Environment{Errors: []string{"Archive directory is not writable"}},
			contains: "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.env.QuickCheck()
			if !strings.Contains(result, tt.contains) {
				t.Errorf("QuickCheck() = %q, want to contain %q", result, tt.contains)
			}
		})
	}
}

func TestCanRecord(t *testing.T) {
	env := &Environment{Microphone: "USB Mic"}
	if !env.CanRecord() {
		t.Error("Should be able to record with a microphone")
	}

	env.Microphone = ""
	if env.CanRecord() {
		t.Error("Should not record without a microphone")
	}

	env.Microphone = "USB Mic"
	env.Errors = []string{"broken"}
	if env.CanRecord() {
		t.Error("Should not record when unhealthy")
	}
}
