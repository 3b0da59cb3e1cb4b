// Package script models lesson scripts: loading source files with
// their metadata headers, admitting them through the sandbox, and
// serving versioned compiled artifacts to the orchestrator.
package script

import (
	"time"

	"github.com/roach88/lectern/internal/sandbox"
)

// Metadata is the frontmatter header of a lesson file. The engine
// treats it as opaque beyond schema checking; unknown fields are
// preserved in Raw.
type Metadata struct {
	Title          string   `yaml:"title" json:"title,omitempty"`
	Description    string   `yaml:"description" json:"description,omitempty"`
	Difficulty     string   `yaml:"difficulty" json:"difficulty,omitempty"`
	TargetGestures []string `yaml:"target_gestures" json:"target_gestures,omitempty"`

	// Raw holds the full decoded frontmatter, including fields the
	// engine does not interpret.
	Raw map[string]any `yaml:"-" json:"-"`
}

// Script is one immutable, versioned unit of lesson code. A hot reload
// publishes a new Script; it never mutates an existing one. Sessions
// pin the version they started with.
type Script struct {
	// ID is the NFC-normalized slug, taken from the file name.
	ID string

	// Version is assigned by the registry on publish, monotonic per
	// id starting at 1. Zero means not yet published.
	Version int64

	// Source is the full file content, frontmatter included.
	Source string

	// SHA256 is the hex digest of Source. Reloads with an unchanged
	// digest are skipped.
	SHA256 string

	// Artifact is the admitted compiled form.
	Artifact *sandbox.Artifact

	// Metadata is the parsed frontmatter.
	Metadata Metadata

	// Path is the source file location, empty for scripts loaded
	// from memory.
	Path string

	// LoadedAt is when this version was loaded from source.
	LoadedAt time.Time
}

// Hooks returns the declared hook set.
func (s *Script) Hooks() sandbox.HookSet {
	return s.Artifact.Hooks
}
