package schedule

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/joss/aaroh/internal/domain"
)

// Format is a schedule file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

var extFormats = map[string]Format{
	".json": FormatJSON,
	".yaml": FormatYAML,
	".yml":  FormatYAML,
	".toml": FormatTOML,
}

// FormatOf returns the format implied by a file extension.
func FormatOf(path string) (Format, bool) {
	f, ok := extFormats[strings.ToLower(filepath.Ext(path))]
	return f, ok
}

// document is the on-disk shape of a schedule. JSON and YAML files may
// also hold a bare list of events, which is what the analysis service
// returns for an ideal take.
type document struct {
	Title  string              `json:"title" yaml:"title" toml:"title"`
	Chords []domain.ChordEvent `json:"chords" yaml:"chords" toml:"chords"`
}

// Decode parses a schedule document.
func Decode(data []byte, format Format) (title string, events []domain.ChordEvent, err error) {
	var doc document
	switch format {
	case FormatJSON:
		if bytes.HasPrefix(bytes.TrimSpace(data), []byte("[")) {
			err = json.Unmarshal(data, &doc.Chords)
		} else {
			err = json.Unmarshal(data, &doc)
		}
	case FormatYAML:
		var node yaml.Node
		if err = yaml.Unmarshal(data, &node); err != nil {
			break
		}
		switch {
		case len(node.Content) == 0:
		case node.Content[0].Kind == yaml.SequenceNode:
			err = node.Content[0].Decode(&doc.Chords)
		default:
			err = node.Content[0].Decode(&doc)
		}
	case FormatTOML:
		_, err = toml.Decode(string(data), &doc)
	default:
		return "", nil, fmt.Errorf("unsupported schedule format %q", format)
	}
	if err != nil {
		return "", nil, fmt.Errorf("decode %s schedule: %w", format, err)
	}
	return doc.Title, doc.Chords, nil
}

// Encode writes a schedule in the given format.
func Encode(s *Schedule, format Format) ([]byte, error) {
	doc := document{Title: s.Title, Chords: s.Events}
	switch format {
	case FormatJSON:
		return json.MarshalIndent(doc, "", "  ")
	case FormatYAML:
		return yaml.Marshal(doc)
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unsupported schedule format %q", format)
}

// RefFromPath derives a schedule reference from a file name.
func RefFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// LoadFile reads and validates a schedule file. The reference is the file
// name without extension; a missing title defaults to the reference.
func LoadFile(path string) (*Schedule, error) {
	format, ok := FormatOf(path)
	if !ok {
		return nil, fmt.Errorf("unsupported schedule file %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	title, events, err := Decode(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	ref := RefFromPath(path)
	if title == "" {
		title = ref
	}
	return New(ref, title, events)
}

// Glob expands doublestar patterns relative to root into schedule files,
// skipping directories and unsupported extensions. Results are sorted and
// de-duplicated.
func Glob(root string, patterns ...string) ([]string, error) {
	seen := map[string]bool{}
	var matches []string

	fsys := os.DirFS(root)
	for _, pattern := range patterns {
		pattern = filepath.ToSlash(pattern)
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid pattern %q", pattern)
		}
		err := doublestar.GlobWalk(fsys, pattern, func(path string, d fs.DirEntry) error {
			if d.IsDir() {
				return nil
			}
			if _, ok := FormatOf(path); !ok {
				return nil
			}
			full := filepath.Join(root, path)
			if !seen[full] {
				seen[full] = true
				matches = append(matches, full)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
	}

	sort.Strings(matches)
	return matches, nil
}
