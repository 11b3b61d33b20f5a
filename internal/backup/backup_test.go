package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/aaroh/internal/domain"
	"github.com/joss/aaroh/internal/store"
)

func openStore(t *testing.T, name string) *store.SQLite {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), name))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seed(t *testing.T, db *store.SQLite) {
	t.Helper()
	ctx := context.Background()
	started := time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)

	require.NoError(t, db.PutSchedule(ctx, &store.ScheduleRecord{
		Ref:   "wonderwall",
		Title: "Wonderwall",
		Events: []domain.ChordEvent{
			{Index: 0, Chord: "Em", Start: 0, Duration: 2},
			{Index: 1, Chord: "G", Start: 2, Duration: 2},
		},
	}))

	sess := &domain.Session{
		ID:            "sess-1",
		State:         domain.StateCompleted,
		ScheduleRef:   "wonderwall",
		ChunkDuration: time.Second,
		StartedAt:     started,
		EndedAt:       started.Add(4 * time.Second),
	}
	require.NoError(t, db.SaveSession(ctx, sess))
	require.NoError(t, db.SaveVerdict(ctx, domain.Verdict{
		SessionID: "sess-1", Sequence: 0, DetectedChord: "Em", ExpectedChord: "Em",
		Correct: true, Timestamp: started.Add(time.Second),
	}))
	require.NoError(t, db.SaveVerdict(ctx, domain.Verdict{
		SessionID: "sess-1", Sequence: 1, DetectedChord: "C", ExpectedChord: "G",
		EventIndex: 1, Timestamp: started.Add(3 * time.Second),
	}))
	require.NoError(t, db.SaveSummary(ctx, &domain.Summary{
		SessionID: "sess-1", Accuracy: 50, TotalChords: 2, CorrectChords: 1, Mistakes: 1,
		Level: domain.LevelFor(50), Final: true,
	}))
}

func TestExportAndList(t *testing.T) {
	src := openStore(t, "src.db")
	seed(t, src)

	out := filepath.Join(t.TempDir(), "archive.tar.gz")
	meta, err := NewManager(src).Export(context.Background(), []Kind{KindAll}, out, "nightly")
	require.NoError(t, err)

	assert.Equal(t, []Kind{KindSchedules, KindSessions}, meta.Kinds)
	assert.Equal(t, 1, meta.Counts["schedules"])
	assert.Equal(t, 1, meta.Counts["sessions"])
	assert.Len(t, meta.Checksums, 2)

	listed, err := List(out)
	require.NoError(t, err)
	assert.Equal(t, "nightly", listed.Description)
	assert.Equal(t, meta.Counts, listed.Counts)
	assert.Equal(t, meta.Checksums, listed.Checksums)
}

func TestImportRestoresArchive(t *testing.T) {
	ctx := context.Background()
	src := openStore(t, "src.db")
	seed(t, src)

	out := filepath.Join(t.TempDir(), "archive.tar.gz")
	_, err := NewManager(src).Export(ctx, nil, out, "")
	require.NoError(t, err)

	dst := openStore(t, "dst.db")
	res, err := NewManager(dst).Import(ctx, out, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Restored["schedules"])
	assert.Equal(t, 1, res.Restored["sessions"])

	sched, err := dst.GetSchedule(ctx, "wonderwall")
	require.NoError(t, err)
	require.Len(t, sched.Events, 2)
	assert.Equal(t, "G", sched.Events[1].Chord)

	rec, err := dst.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, rec.Session.State)
	require.NotNil(t, rec.Summary)
	assert.Equal(t, 50.0, rec.Summary.Accuracy)

	verdicts, err := dst.Verdicts(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, verdicts, 2)
	assert.Equal(t, "C", verdicts[1].DetectedChord)
	assert.False(t, verdicts[1].Correct)
}

func TestImportSkipsExistingUnlessOverwrite(t *testing.T) {
	ctx := context.Background()
	src := openStore(t, "src.db")
	seed(t, src)

	out := filepath.Join(t.TempDir(), "archive.tar.gz")
	_, err := NewManager(src).Export(ctx, []Kind{KindSchedules}, out, "")
	require.NoError(t, err)

	dst := openStore(t, "dst.db")
	require.NoError(t, dst.PutSchedule(ctx, &store.ScheduleRecord{
		Ref:    "wonderwall",
		Title:  "local edit",
		Events: []domain.ChordEvent{{Index: 0, Chord: "D", Duration: 1}},
	}))

	m := NewManager(dst)
	res, err := m.Import(ctx, out, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Restored["schedules"])
	assert.Equal(t, 1, res.Skipped["schedules"])

	sched, err := dst.GetSchedule(ctx, "wonderwall")
	require.NoError(t, err)
	assert.Equal(t, "local edit", sched.Title)

	res, err = m.Import(ctx, out, []Kind{KindSchedules}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Restored["schedules"])

	sched, err = dst.GetSchedule(ctx, "wonderwall")
	require.NoError(t, err)
	assert.Equal(t, "Wonderwall", sched.Title)
}

func writeTarball(t *testing.T, files map[string][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crafted.tar.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gzw := gzip.NewWriter(f)
	tw := tar.NewWriter(gzw)
	for name, data := range files {
		require.NoError(t, addToTar(tw, name, data, time.Now()))
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gzw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestImportRejectsChecksumMismatch(t *testing.T) {
	meta, _ := json.Marshal(Metadata{
		Version:   formatVersion,
		Kinds:     []Kind{KindSchedules},
		Checksums: map[string]string{"schedules.json": checksum([]byte("[]"))},
	})
	path := writeTarball(t, map[string][]byte{
		"metadata.json":  meta,
		"schedules.json": []byte(`[{"ref":"x","events":[]}]`),
	})

	_, err := NewManager(openStore(t, "dst.db")).Import(context.Background(), path, nil, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestListErrors(t *testing.T) {
	_, err := List(filepath.Join(t.TempDir(), "missing.tar.gz"))
	assert.Error(t, err)

	path := writeTarball(t, map[string][]byte{"schedules.json": []byte("[]")})
	_, err = List(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metadata not found")

	meta, _ := json.Marshal(Metadata{Version: "99"})
	path = writeTarball(t, map[string][]byte{"metadata.json": meta})
	_, err = List(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported backup version")
}
