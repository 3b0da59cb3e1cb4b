package script

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/lectern/internal/sandbox"
)

// SourceExt is the lesson file extension.
const SourceExt = ".lua"

// script ids are slugs: lowercase letters, digits, underscore, hyphen.
var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// NormalizeID NFC-normalizes a candidate script id and checks the slug
// shape. Returns the normalized id.
func NormalizeID(id string) (string, error) {
	id = norm.NFC.String(strings.TrimSpace(id))
	if !idPattern.MatchString(id) {
		return "", fmt.Errorf("invalid script id %q: want lowercase slug (a-z, 0-9, _, -)", id)
	}
	return id, nil
}

// LoadResult pairs a lesson path with either its loaded Script or the
// validation errors that rejected it.
type LoadResult struct {
	Path   string
	Script *Script
	Errors []sandbox.ValidationError
}

// Valid reports whether the lesson was admitted.
func (r LoadResult) Valid() bool {
	return r.Script != nil
}

// LoadFile reads, parses, and admits a single lesson file. The script
// id is the file's base name. The returned Script has no Version yet;
// the registry assigns one on publish.
func LoadFile(path string) (*Script, []sandbox.ValidationError) {
	base := strings.TrimSuffix(filepath.Base(path), SourceExt)
	id, err := NormalizeID(base)
	if err != nil {
		return nil, []sandbox.ValidationError{{
			Code:    sandbox.ErrScriptID,
			Message: err.Error(),
		}}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []sandbox.ValidationError{{
			Code:     sandbox.ErrScriptID,
			Message:  fmt.Sprintf("read %s: %v", path, err),
			ScriptID: id,
		}}
	}
	if len(data) > sandbox.MaxSourceBytes {
		return nil, []sandbox.ValidationError{{
			Code:     sandbox.ErrSourceTooLarge,
			Message:  fmt.Sprintf("source is %d bytes, limit is %d", len(data), sandbox.MaxSourceBytes),
			ScriptID: id,
		}}
	}
	source := string(data)

	meta, err := parseMetadata(source)
	if err != nil {
		return nil, []sandbox.ValidationError{{
			Code:     sandbox.ErrMetadata,
			Message:  err.Error(),
			ScriptID: id,
		}}
	}

	artifact, verrs := sandbox.Admit(id, source)
	if len(verrs) > 0 {
		return nil, verrs
	}

	digest := sha256.Sum256(data)
	return &Script{
		ID:       id,
		Source:   source,
		SHA256:   hex.EncodeToString(digest[:]),
		Artifact: artifact,
		Metadata: meta,
		Path:     path,
		LoadedAt: time.Now().UTC(),
	}, nil
}

// LoadDir loads every lesson file in dir (non-recursive), in name
// order. Invalid lessons are reported in their LoadResult rather than
// aborting the scan, so one broken lesson never hides the rest.
func LoadDir(dir string) ([]LoadResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read lesson directory: %w", err)
	}

	var results []LoadResult
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), SourceExt) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		sc, verrs := LoadFile(path)
		results = append(results, LoadResult{Path: path, Script: sc, Errors: verrs})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Path < results[j].Path
	})
	return results, nil
}
