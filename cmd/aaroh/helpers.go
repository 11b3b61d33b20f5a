package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joss/aaroh/internal/config"
	"github.com/joss/aaroh/internal/recognizer"
	"github.com/joss/aaroh/internal/schedule"
	"github.com/joss/aaroh/internal/store"
)

// exitOnError prints the error and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// openStore opens the SQLite archive, creating its directory.
func openStore() (*store.SQLite, error) {
	if err := config.EnsureDir(filepath.Dir(settings.DBPath)); err != nil {
		return nil, err
	}
	return store.OpenSQLite(settings.DBPath)
}

// scheduleProvider looks up references in the schedules directory, then
// in the store.
func scheduleProvider(st store.ScheduleStore) schedule.Provider {
	chain := schedule.Chain{schedule.DirProvider{Dir: settings.SchedulesDir}}
	if st != nil {
		chain = append(chain, schedule.StoreProvider{Store: st})
	}
	return chain
}

// newRecognizer builds the configured recognizer collaborator.
func newRecognizer() (recognizer.Recognizer, error) {
	switch settings.RecognizerMode {
	case "http":
		return recognizer.NewHTTP(settings.RecognizerURL), nil
	case "chroma":
		return recognizer.NewChroma(), nil
	default:
		return nil, fmt.Errorf("unknown recognizer mode %q (want http or chroma)", settings.RecognizerMode)
	}
}

// lookupSchedule resolves a reference locally, for display.
func lookupSchedule(ctx context.Context, ref string) (*schedule.Schedule, error) {
	st, err := openStore()
	if err != nil {
		return scheduleProvider(nil).Schedule(ctx, ref)
	}
	defer st.Close()
	return scheduleProvider(st).Schedule(ctx, ref)
}
