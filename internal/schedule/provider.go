package schedule

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joss/aaroh/internal/store"
)

// DirProvider resolves references to files in a directory:
// ref.json, ref.yaml, ref.yml or ref.toml, in that order.
type DirProvider struct {
	Dir string
}

var lookupExts = []string{".json", ".yaml", ".yml", ".toml"}

// Schedule implements Provider.
func (p DirProvider) Schedule(ctx context.Context, ref string) (*Schedule, error) {
	if err := ctx.Err(); err != nil {
		return nil, &UnavailableError{Ref: ref, Err: err}
	}
	if ref == "" || strings.ContainsAny(ref, `/\`) || ref == "." || ref == ".." {
		return nil, &UnavailableError{Ref: ref, Err: errors.New("invalid reference")}
	}

	for _, ext := range lookupExts {
		path := filepath.Join(p.Dir, ref+ext)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		s, err := LoadFile(path)
		if err != nil {
			return nil, &UnavailableError{Ref: ref, Err: err}
		}
		return s, nil
	}
	return nil, &UnavailableError{Ref: ref, Err: os.ErrNotExist}
}

// StoreProvider resolves references from the schedule table.
type StoreProvider struct {
	Store store.ScheduleStore
}

// Schedule implements Provider.
func (p StoreProvider) Schedule(ctx context.Context, ref string) (*Schedule, error) {
	rec, err := p.Store.GetSchedule(ctx, ref)
	if err != nil {
		return nil, &UnavailableError{Ref: ref, Err: err}
	}
	s, err := New(rec.Ref, rec.Title, rec.Events)
	if err != nil {
		return nil, &UnavailableError{Ref: ref, Err: err}
	}
	return s, nil
}

// Chain tries each provider in turn and returns the first schedule found.
// The error of the last provider is returned when none has it.
type Chain []Provider

// Schedule implements Provider.
func (c Chain) Schedule(ctx context.Context, ref string) (*Schedule, error) {
	err := error(&UnavailableError{Ref: ref})
	for _, p := range c {
		var s *Schedule
		s, err = p.Schedule(ctx, ref)
		if err == nil {
			return s, nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, err
}

// Import loads each file and stores it under its file-name reference.
func Import(ctx context.Context, st store.ScheduleStore, paths []string) ([]*Schedule, error) {
	var out []*Schedule
	for _, path := range paths {
		s, err := LoadFile(path)
		if err != nil {
			return out, err
		}
		rec := &store.ScheduleRecord{
			Ref:    s.Ref,
			Title:  s.Title,
			Source: path,
			Events: s.Events,
		}
		if err := st.PutSchedule(ctx, rec); err != nil {
			return out, fmt.Errorf("store %s: %w", s.Ref, err)
		}
		out = append(out, s)
	}
	return out, nil
}
