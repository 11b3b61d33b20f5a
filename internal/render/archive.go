package render

import (
	"time"

	"github.com/joss/aaroh/internal/domain"
	"github.com/joss/aaroh/internal/store"
)

// Archive renders archived sessions and stored schedules.
type Archive struct {
	*Writer
}

// NewArchive creates an Archive renderer writing to stdout.
func NewArchive() *Archive {
	return &Archive{Writer: Stdout()}
}

// Sessions renders a session listing, newest first as given.
func (a *Archive) Sessions(records []*store.SessionRecord) {
	if len(records) == 0 {
		a.Empty("No sessions archived")
		return
	}

	a.Header("SESSIONS (%d)", len(records))
	for _, rec := range records {
		s := rec.Session
		line := StateIcon(s.State) + " " + s.ID + "  " + s.StartedAt.Local().Format("2006-01-02 15:04") + "  " + s.ScheduleRef
		if rec.Summary != nil {
			a.Println("%s  %.2f%% %s", line, rec.Summary.Accuracy, rec.Summary.Level)
		} else {
			a.Println("%s  [%s]", line, s.State)
		}
		if s.Reason != "" && s.State == domain.StateFailed {
			a.Nested("%s", Truncate(s.Reason, 70))
		}
	}
}

// Session renders one archived session with its verdict log.
func (a *Archive) Session(rec *store.SessionRecord, verdicts []domain.Verdict, r *Renderer) {
	s := rec.Session
	a.Header("SESSION %s", s.ID)
	a.Field("Schedule", "%s", s.ScheduleRef)
	a.Field("State", "%s %s", StateIcon(s.State), s.State)
	a.Field("Started", "%s", s.StartedAt.Local().Format(time.RFC3339))
	if !s.EndedAt.IsZero() {
		a.Field("Duration", "%s", FormatDuration(s.Elapsed(time.Now())))
	}
	a.Field("Chunks", "%s each", FormatDuration(s.ChunkDuration))
	if s.Reason != "" {
		a.Field("Reason", "%s", s.Reason)
	}

	if len(verdicts) > 0 {
		a.Section("Verdicts")
		for _, v := range verdicts {
			a.Print("  %s", r.Verdict(v))
		}
	}

	if rec.Summary != nil {
		a.Line()
		a.Print("%s", r.Summary(*rec.Summary))
	}
}

// Schedules renders stored schedules.
func (a *Archive) Schedules(records []*store.ScheduleRecord) {
	if len(records) == 0 {
		a.Empty("No schedules stored")
		return
	}

	a.Header("SCHEDULES (%d)", len(records))
	for _, rec := range records {
		a.Item("%-20s %3d chords  %s", rec.Ref, len(rec.Events), Truncate(rec.Title, 40))
	}
}

// Schedule renders the chord events of one schedule.
func (a *Archive) Schedule(rec *store.ScheduleRecord) {
	title := rec.Title
	if title == "" {
		title = rec.Ref
	}
	a.Header("%s", title)
	if rec.Source != "" {
		a.Field("Source", "%s", rec.Source)
		a.Line()
	}
	for _, e := range rec.Events {
		a.Item("%3d  %6.2fs  +%.2fs  %s", e.Index, e.Start, e.Duration, e.Chord)
	}
}
