// Package selftest provides runtime environment validation and self-diagnostics.
package selftest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/joss/aaroh/internal/capture"
	"github.com/joss/aaroh/internal/config"
	"github.com/joss/aaroh/internal/schedule"
)

// Environment describes the local setup a practice run depends on.
type Environment struct {
	HasTTY        bool
	ConfigFile    string
	ConfigFound   bool
	DBDir         string
	DBDirWritable bool
	SchedulesDir  string
	ScheduleFiles int
	Microphone    string // default input device, "" when unavailable
	Warnings      []string
	Errors        []string
}

// Check inspects the environment for the given settings.
func Check(s config.Settings, configFile string) *Environment {
	env := &Environment{
		ConfigFile:   configFile,
		DBDir:        filepath.Dir(s.DBPath),
		SchedulesDir: s.SchedulesDir,
	}

	// TTY detection
	env.HasTTY = term.IsTerminal(int(os.Stdout.Fd()))

	env.checkConfig()
	env.checkStorage()
	env.checkSchedules()
	env.checkMicrophone()
	return env
}

func (e *Environment) checkConfig() {
	if e.ConfigFile == "" {
		return
	}
	if _, err := os.Stat(e.ConfigFile); err == nil {
		e.ConfigFound = true
	}
}

func (e *Environment) checkStorage() {
	if err := config.EnsureDir(e.DBDir); err != nil {
		e.Errors = append(e.Errors, fmt.Sprintf("Archive directory %s: %v", e.DBDir, err))
		return
	}
	probe, err := os.CreateTemp(e.DBDir, ".doctor-*")
	if err != nil {
		e.Errors = append(e.Errors, fmt.Sprintf("Archive directory %s is not writable", e.DBDir))
		return
	}
	probe.Close()
	os.Remove(probe.Name())
	e.DBDirWritable = true
}

func (e *Environment) checkSchedules() {
	if _, err := os.Stat(e.SchedulesDir); err != nil {
		e.Warnings = append(e.Warnings, fmt.Sprintf("Schedules directory %s not found", e.SchedulesDir))
		return
	}
	files, err := schedule.Glob(e.SchedulesDir, "**/*")
	if err != nil {
		e.Warnings = append(e.Warnings, fmt.Sprintf("Scan schedules: %v", err))
		return
	}
	e.ScheduleFiles = len(files)
	if e.ScheduleFiles == 0 {
		e.Warnings = append(e.Warnings, "No schedule files found; import one with 'aaroh schedule import'")
	}
}

func (e *Environment) checkMicrophone() {
	name, err := capture.DefaultInputDevice()
	if err != nil {
		e.Warnings = append(e.Warnings, fmt.Sprintf("Microphone unavailable: %v", err))
		return
	}
	e.Microphone = name
}

// IsHealthy returns true if sessions can be recorded and archived.
func (e *Environment) IsHealthy() bool {
	return len(e.Errors) == 0
}

// CanRecord returns true if live microphone practice is possible.
func (e *Environment) CanRecord() bool {
	return e.IsHealthy() && e.Microphone != ""
}

// Summary returns a human-readable summary.
func (e *Environment) Summary() string {
	var sb strings.Builder

	sb.WriteString("AAROH ENVIRONMENT CHECK\n")
	sb.WriteString(strings.Repeat("─", 40) + "\n")

	ttyStatus := "No (plain output)"
	if e.HasTTY {
		ttyStatus = "Yes (live view available)"
	}
	sb.WriteString(fmt.Sprintf("TTY:          %s\n", ttyStatus))

	cfgStatus := "defaults"
	if e.ConfigFound {
		cfgStatus = e.ConfigFile
	}
	sb.WriteString(fmt.Sprintf("Config:       %s\n", cfgStatus))

	dbStatus := "NOT WRITABLE"
	if e.DBDirWritable {
		dbStatus = "OK"
	}
	sb.WriteString(fmt.Sprintf("Archive:      %s (%s)\n", e.DBDir, dbStatus))
	sb.WriteString(fmt.Sprintf("Schedules:    %d file(s) in %s\n", e.ScheduleFiles, e.SchedulesDir))

	mic := "Not available"
	if e.Microphone != "" {
		mic = e.Microphone
	}
	sb.WriteString(fmt.Sprintf("Microphone:   %s\n", mic))

	if len(e.Warnings) > 0 {
		sb.WriteString("\nWarnings:\n")
		for _, w := range e.Warnings {
			sb.WriteString(fmt.Sprintf("  ⚠ %s\n", w))
		}
	}

	if len(e.Errors) > 0 {
		sb.WriteString("\nErrors:\n")
		for _, err := range e.Errors {
			sb.WriteString(fmt.Sprintf("  ✗ %s\n", err))
		}
	}

	sb.WriteString("\n")
	if e.IsHealthy() {
		sb.WriteString("Status: HEALTHY\n")
	} else {
		sb.WriteString("Status: UNHEALTHY - fix errors above\n")
	}

	return sb.String()
}

// QuickCheck returns a one-line status suitable for non-verbose output.
func (e *Environment) QuickCheck() string {
	if !e.IsHealthy() {
		return fmt.Sprintf("Environment unhealthy: %s", strings.Join(e.Errors, "; "))
	}

	input := "file-only"
	if e.Microphone != "" {
		input = "mic"
	}
	return fmt.Sprintf("input:%s schedules:%d", input, e.ScheduleFiles)
}
