// Package render provides output formatting for CLI commands.
package render

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/joss/aaroh/internal/domain"
)

// fieldWidth is the label column used by Field.
const fieldWidth = 10

// Writer formats CLI listings: headers, sections, indented items and
// label/value fields.
type Writer struct {
	out io.Writer
}

// NewWriter creates a Writer that writes to the given io.Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{out: w}
}

// Stdout returns a Writer that writes to os.Stdout.
func Stdout() *Writer {
	return NewWriter(os.Stdout)
}

func (w *Writer) Print(format string, args ...any) {
	fmt.Fprintf(w.out, format, args...)
}

func (w *Writer) Println(format string, args ...any) {
	fmt.Fprintf(w.out, format+"\n", args...)
}

// Line writes a blank line.
func (w *Writer) Line() {
	fmt.Fprintln(w.out)
}

// Header writes an upper-cased title followed by a blank line.
func (w *Writer) Header(title string, args ...any) {
	if len(args) > 0 {
		title = fmt.Sprintf(title, args...)
	}
	fmt.Fprintf(w.out, "%s\n\n", strings.ToUpper(title))
}

// Section writes a blank line and an upper-cased "TITLE:" line.
func (w *Writer) Section(title string) {
	fmt.Fprintf(w.out, "\n%s:\n", strings.ToUpper(title))
}

// Item writes an indented line.
func (w *Writer) Item(format string, args ...any) {
	w.Println("  "+format, args...)
}

// Field writes an indented "Label:  value" line with the values aligned.
func (w *Writer) Field(label, format string, args ...any) {
	w.Println("  %-*s %s", fieldWidth, label+":", fmt.Sprintf(format, args...))
}

// Nested writes a line hanging off the previous item.
func (w *Writer) Nested(format string, args ...any) {
	w.Println("    └─ "+format, args...)
}

// Empty writes the message shown for an empty listing.
func (w *Writer) Empty(msg string) {
	fmt.Fprintln(w.out, msg)
}

// Counts writes one "name: n" item per key, sorted by name.
func (w *Writer) Counts(counts map[string]int) {
	if len(counts) == 0 {
		w.Item("none")
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		w.Item("%s: %d", k, counts[k])
	}
}

// StateIcon returns icon for a session state.
func StateIcon(state domain.SessionState) string {
	switch state {
	case domain.StateCompleted:
		return "✓"
	case domain.StateFailed:
		return "✗"
	case domain.StateRecording, domain.StateFinalizing:
		return "●"
	default:
		return "•"
	}
}

// LevelIcon returns icon for a skill level.
func LevelIcon(level domain.Level) string {
	switch level {
	case domain.LevelBeginner:
		return "○"
	case domain.LevelIntermediate:
		return "◐"
	case domain.LevelAdvanced:
		return "●"
	default:
		return "•"
	}
}

// Truncate shortens s to at most max runes, marking the cut with "...".
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
