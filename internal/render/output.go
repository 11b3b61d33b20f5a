package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/joss/aaroh/internal/domain"
)

// Renderer formats live session output. Plain mode emits one
// key=value line per item for piping.
type Renderer struct {
	pretty bool
}

// New creates a new renderer.
func New(pretty bool) *Renderer {
	return &Renderer{pretty: pretty}
}

// Verdict formats one recognition verdict.
func (r *Renderer) Verdict(v domain.Verdict) string {
	if !r.pretty {
		return fmt.Sprintf("seq=%d detected=%s expected=%s correct=%v failure=%q\n",
			v.Sequence, v.Label(), v.ExpectedChord, v.Correct, v.Failure)
	}

	seq := color.HiBlackString("#%-3d", v.Sequence)
	switch {
	case v.Failure != "":
		return fmt.Sprintf("%s %s %s\n", color.YellowString("!"), seq, color.YellowString(v.Failure))
	case !v.Matched():
		return fmt.Sprintf("%s %s %-6s %s\n", color.HiBlackString("·"), seq, v.Label(), color.HiBlackString("(nothing scheduled)"))
	case v.Correct:
		return fmt.Sprintf("%s %s %s\n", color.GreenString("✓"), seq, color.GreenString(v.Label()))
	default:
		return fmt.Sprintf("%s %s %-6s expected %s\n", color.RedString("✗"), seq, color.RedString(v.Label()), color.CyanString(v.ExpectedChord))
	}
}

// Status formats an advisory status message.
func (r *Renderer) Status(msg string) string {
	if r.pretty {
		return color.HiBlackString("… %s", msg) + "\n"
	}
	return fmt.Sprintf("status=%q\n", msg)
}

// Summary formats the sealed summary of a session.
func (r *Renderer) Summary(s domain.Summary) string {
	var sb strings.Builder

	if !r.pretty {
		fmt.Fprintf(&sb, "session=%s accuracy=%.2f total=%d correct=%d mistakes=%d unmatched=%d level=%s best=%s worst=%s gaps=%d\n",
			s.SessionID, s.Accuracy, s.TotalChords, s.CorrectChords, s.Mistakes, s.Unmatched, s.Level, s.BestChord, s.WorstChord, len(s.Gaps))
		return sb.String()
	}

	sb.WriteString(color.CyanString("Session Summary\n"))
	sb.WriteString(strings.Repeat("─", 40) + "\n")
	fmt.Fprintf(&sb, "  Accuracy:  %s %s\n", accuracy(s.Accuracy), color.HiBlackString("(%s %s)", LevelIcon(s.Level), s.Level))
	fmt.Fprintf(&sb, "  Chords:    %d scheduled, %d correct, %d mistakes\n", s.TotalChords, s.CorrectChords, s.Mistakes)
	if s.Unmatched > 0 {
		fmt.Fprintf(&sb, "  Unmatched: %d\n", s.Unmatched)
	}
	if s.BestChord != "" {
		fmt.Fprintf(&sb, "  Best:      %s\n", color.GreenString(s.BestChord))
	}
	if s.WorstChord != "" {
		fmt.Fprintf(&sb, "  Worst:     %s\n", color.RedString(s.WorstChord))
	}

	if len(s.TransitionsWrong) > 0 {
		sb.WriteString("\n  Wrong transitions:\n")
		for _, t := range s.TransitionsWrong.Sorted() {
			fmt.Fprintf(&sb, "    %s → %s  ×%d\n", t.From, t.To, s.TransitionsWrong[t])
		}
	}

	if len(s.MissingChords) > 0 {
		sb.WriteString("\n  Never played:\n")
		for _, e := range s.MissingChords {
			fmt.Fprintf(&sb, "    %s %s\n", color.YellowString(e.Chord), color.HiBlackString("at %.1fs", e.Start))
		}
	}

	if len(s.Gaps) > 0 {
		fmt.Fprintf(&sb, "\n  %s\n", color.HiBlackString("%d chunk(s) lost in transit", len(s.Gaps)))
	}
	return sb.String()
}

func accuracy(pct float64) string {
	text := fmt.Sprintf("%.2f%%", pct)
	switch domain.LevelFor(pct) {
	case domain.LevelAdvanced:
		return color.GreenString(text)
	case domain.LevelIntermediate:
		return color.YellowString(text)
	default:
		return color.RedString(text)
	}
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
