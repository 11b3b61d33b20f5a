// Package backup exports and restores the practice archive as a gzipped tarball.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joss/aaroh/internal/domain"
	"github.com/joss/aaroh/internal/store"
)

// Kind names one section of a backup.
type Kind string

const (
	KindSchedules Kind = "schedules"
	KindSessions  Kind = "sessions"
	KindAll       Kind = "all"
)

const formatVersion = "1"

// Metadata describes a backup file.
type Metadata struct {
	Version     string            `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	Description string            `json:"description,omitempty"`
	Kinds       []Kind            `json:"kinds"`
	Counts      map[string]int    `json:"counts"`
	Checksums   map[string]string `json:"checksums"`
}

// Result counts what an import restored and what it left alone.
type Result struct {
	Metadata *Metadata
	Restored map[string]int
	Skipped  map[string]int
}

// Store is everything a backup reads from and writes to.
type Store interface {
	store.ScheduleStore
	store.Archive
	store.ArchiveReader
}

type scheduleEntry struct {
	Ref       string              `json:"ref"`
	Title     string              `json:"title,omitempty"`
	Source    string              `json:"source,omitempty"`
	Events    []domain.ChordEvent `json:"events"`
	CreatedAt time.Time           `json:"created_at"`
}

type sessionEntry struct {
	Session  domain.Session   `json:"session"`
	Summary  *domain.Summary  `json:"summary,omitempty"`
	Verdicts []domain.Verdict `json:"verdicts"`
}

// Manager handles backup operations against one store.
type Manager struct {
	st  Store
	Now func() time.Time
}

// NewManager creates a backup manager.
func NewManager(st Store) *Manager {
	return &Manager{st: st, Now: time.Now}
}

func expand(kinds []Kind) []Kind {
	if len(kinds) == 0 || contains(kinds, KindAll) {
		return []Kind{KindSchedules, KindSessions}
	}
	return kinds
}

// Export writes the requested sections to outputPath.
func (m *Manager) Export(ctx context.Context, kinds []Kind, outputPath, description string) (*Metadata, error) {
	kinds = expand(kinds)

	file, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("creating backup file: %w", err)
	}
	defer file.Close()

	gzw := gzip.NewWriter(file)
	tw := tar.NewWriter(gzw)

	meta := &Metadata{
		Version:     formatVersion,
		CreatedAt:   m.Now().UTC(),
		Description: description,
		Kinds:       kinds,
		Counts:      make(map[string]int),
		Checksums:   make(map[string]string),
	}

	for _, k := range kinds {
		data, count, err := m.exportKind(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("exporting %s: %w", k, err)
		}
		name := string(k) + ".json"
		if err := addToTar(tw, name, data, meta.CreatedAt); err != nil {
			return nil, fmt.Errorf("adding %s to tar: %w", k, err)
		}
		meta.Counts[string(k)] = count
		meta.Checksums[name] = checksum(data)
	}

	metaJSON, _ := json.MarshalIndent(meta, "", "  ")
	if err := addToTar(tw, "metadata.json", metaJSON, meta.CreatedAt); err != nil {
		return nil, fmt.Errorf("adding metadata: %w", err)
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gzw.Close(); err != nil {
		return nil, err
	}
	return meta, file.Close()
}

func (m *Manager) exportKind(ctx context.Context, k Kind) ([]byte, int, error) {
	switch k {
	case KindSchedules:
		recs, err := m.st.ListSchedules(ctx, store.Filter{})
		if err != nil {
			return nil, 0, err
		}
		entries := make([]scheduleEntry, 0, len(recs))
		for _, r := range recs {
			entries = append(entries, scheduleEntry{
				Ref:       r.Ref,
				Title:     r.Title,
				Source:    r.Source,
				Events:    r.Events,
				CreatedAt: r.CreatedAt,
			})
		}
		data, err := json.MarshalIndent(entries, "", "  ")
		return data, len(entries), err

	case KindSessions:
		recs, err := m.st.ListSessions(ctx, store.Filter{})
		if err != nil {
			return nil, 0, err
		}
		entries := make([]sessionEntry, 0, len(recs))
		for _, r := range recs {
			verdicts, err := m.st.Verdicts(ctx, r.Session.ID)
			if err != nil {
				return nil, 0, fmt.Errorf("verdicts for %s: %w", r.Session.ID, err)
			}
			entries = append(entries, sessionEntry{Session: r.Session, Summary: r.Summary, Verdicts: verdicts})
		}
		data, err := json.MarshalIndent(entries, "", "  ")
		return data, len(entries), err
	}
	return nil, 0, fmt.Errorf("unknown kind: %s", k)
}

// Import restores the requested sections from inputPath. Records that already
// exist are skipped unless overwrite is set.
func (m *Manager) Import(ctx context.Context, inputPath string, kinds []Kind, overwrite bool) (*Result, error) {
	meta, files, err := read(inputPath)
	if err != nil {
		return nil, err
	}

	if len(kinds) == 0 || contains(kinds, KindAll) {
		kinds = meta.Kinds
	}

	res := &Result{Metadata: meta, Restored: make(map[string]int), Skipped: make(map[string]int)}
	for _, k := range kinds {
		name := string(k) + ".json"
		data, ok := files[name]
		if !ok {
			continue
		}
		if want, ok := meta.Checksums[name]; ok && want != checksum(data) {
			return nil, fmt.Errorf("%s: checksum mismatch", name)
		}

		var restored, skipped int
		switch k {
		case KindSchedules:
			restored, skipped, err = m.importSchedules(ctx, data, overwrite)
		case KindSessions:
			restored, skipped, err = m.importSessions(ctx, data, overwrite)
		default:
			err = fmt.Errorf("unknown kind: %s", k)
		}
		if err != nil {
			return nil, fmt.Errorf("importing %s: %w", k, err)
		}
		res.Restored[string(k)] = restored
		res.Skipped[string(k)] = skipped
	}
	return res, nil
}

func (m *Manager) importSchedules(ctx context.Context, data []byte, overwrite bool) (int, int, error) {
	var entries []scheduleEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return 0, 0, err
	}
	var restored, skipped int
	for _, e := range entries {
		if !overwrite {
			if _, err := m.st.GetSchedule(ctx, e.Ref); err == nil {
				skipped++
				continue
			} else if !store.IsNotFound(err) {
				return restored, skipped, err
			}
		}
		rec := &store.ScheduleRecord{Ref: e.Ref, Title: e.Title, Source: e.Source, Events: e.Events, CreatedAt: e.CreatedAt}
		if err := m.st.PutSchedule(ctx, rec); err != nil {
			return restored, skipped, fmt.Errorf("schedule %s: %w", e.Ref, err)
		}
		restored++
	}
	return restored, skipped, nil
}

func (m *Manager) importSessions(ctx context.Context, data []byte, overwrite bool) (int, int, error) {
	var entries []sessionEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return 0, 0, err
	}
	var restored, skipped int
	for _, e := range entries {
		if !overwrite {
			if _, err := m.st.GetSession(ctx, e.Session.ID); err == nil {
				skipped++
				continue
			} else if !store.IsNotFound(err) {
				return restored, skipped, err
			}
		}
		sess := e.Session
		if err := m.st.SaveSession(ctx, &sess); err != nil {
			return restored, skipped, fmt.Errorf("session %s: %w", sess.ID, err)
		}
		for _, v := range e.Verdicts {
			if err := m.st.SaveVerdict(ctx, v); err != nil {
				return restored, skipped, fmt.Errorf("session %s verdict %d: %w", sess.ID, v.Sequence, err)
			}
		}
		if e.Summary != nil {
			if err := m.st.SaveSummary(ctx, e.Summary); err != nil {
				return restored, skipped, fmt.Errorf("session %s summary: %w", sess.ID, err)
			}
		}
		restored++
	}
	return restored, skipped, nil
}

// List shows the metadata of a backup without importing it.
func List(inputPath string) (*Metadata, error) {
	meta, _, err := read(inputPath)
	return meta, err
}

func read(inputPath string) (*Metadata, map[string][]byte, error) {
	file, err := os.Open(inputPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening backup: %w", err)
	}
	defer file.Close()

	gzr, err := gzip.NewReader(file)
	if err != nil {
		return nil, nil, fmt.Errorf("reading backup: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	files := make(map[string][]byte)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, nil, err
		}
		files[header.Name] = data
	}

	raw, ok := files["metadata.json"]
	if !ok {
		return nil, nil, fmt.Errorf("metadata not found")
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, nil, fmt.Errorf("parsing metadata: %w", err)
	}
	if meta.Version != formatVersion {
		return nil, nil, fmt.Errorf("unsupported backup version %q", meta.Version)
	}
	return &meta, files, nil
}

func addToTar(tw *tar.Writer, name string, data []byte, mod time.Time) error {
	header := &tar.Header{
		Name:    name,
		Mode:    0644,
		Size:    int64(len(data)),
		ModTime: mod,
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func contains(kinds []Kind, k Kind) bool {
	for _, x := range kinds {
		if x == k {
			return true
		}
	}
	return false
}
