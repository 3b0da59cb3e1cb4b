package script

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// frontmatter fence, as it appears on its own line at the top of a
// lesson file:
//
//	-- ---
//	-- title: Counting Fingers
//	-- difficulty: beginner
//	-- ---
const fenceLine = "-- ---"

// splitFrontmatter extracts the YAML text between comment fences at the
// top of source. Returns the YAML (without comment prefixes), whether a
// header was present, and an error for an unterminated fence. Blank
// lines before the opening fence are tolerated.
func splitFrontmatter(source string) (string, bool, error) {
	lines := strings.Split(source, "\n")

	start := -1
	for i, line := range lines {
		trimmed := strings.TrimRight(line, " \t\r")
		if trimmed == "" {
			continue
		}
		if trimmed == fenceLine {
			start = i
		}
		break
	}
	if start < 0 {
		return "", false, nil
	}

	var buf strings.Builder
	for _, line := range lines[start+1:] {
		trimmed := strings.TrimRight(line, " \t\r")
		if trimmed == fenceLine {
			return buf.String(), true, nil
		}
		if !strings.HasPrefix(trimmed, "--") {
			return "", false, fmt.Errorf("frontmatter interrupted by non-comment line %q", line)
		}
		content := strings.TrimPrefix(trimmed, "--")
		content = strings.TrimPrefix(content, " ")
		buf.WriteString(content)
		buf.WriteByte('\n')
	}
	return "", false, fmt.Errorf("unterminated frontmatter: missing closing %q", fenceLine)
}

// parseMetadata decodes and schema-checks the frontmatter header.
// Missing frontmatter yields empty metadata, which is legal.
func parseMetadata(source string) (Metadata, error) {
	yamlText, has, err := splitFrontmatter(source)
	if err != nil {
		return Metadata{}, err
	}
	if !has {
		return Metadata{Raw: map[string]any{}}, nil
	}

	raw := map[string]any{}
	if err := yaml.Unmarshal([]byte(yamlText), &raw); err != nil {
		return Metadata{}, fmt.Errorf("invalid frontmatter YAML: %w", err)
	}
	if err := validateMetadata(raw); err != nil {
		return Metadata{}, err
	}

	var meta Metadata
	if err := yaml.Unmarshal([]byte(yamlText), &meta); err != nil {
		return Metadata{}, fmt.Errorf("invalid frontmatter YAML: %w", err)
	}
	meta.Raw = raw
	return meta, nil
}
