package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetadata_FullHeader(t *testing.T) {
	source := `-- ---
-- title: Counting Fingers
-- description: Count fingers to 100%
-- difficulty: beginner
-- target_gestures: [open_palm, fist]
-- author: chandra
-- ---
on_start(function() end)
`
	meta, err := parseMetadata(source)
	require.NoError(t, err)
	assert.Equal(t, "Counting Fingers", meta.Title)
	assert.Equal(t, "Count fingers to 100%", meta.Description)
	assert.Equal(t, "beginner", meta.Difficulty)
	assert.Equal(t, []string{"open_palm", "fist"}, meta.TargetGestures)
	// Unknown fields are preserved.
	assert.Equal(t, "chandra", meta.Raw["author"])
}

func TestParseMetadata_NoHeaderIsLegal(t *testing.T) {
	meta, err := parseMetadata("on_start(function() end)\n")
	require.NoError(t, err)
	assert.Empty(t, meta.Title)
	assert.Empty(t, meta.Raw)
}

func TestParseMetadata_LeadingBlankLines(t *testing.T) {
	source := "\n\n-- ---\n-- title: Late Header\n-- ---\n"
	meta, err := parseMetadata(source)
	require.NoError(t, err)
	assert.Equal(t, "Late Header", meta.Title)
}

func TestParseMetadata_Unterminated(t *testing.T) {
	_, err := parseMetadata("-- ---\n-- title: Broken\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unterminated")
}

func TestParseMetadata_InterruptedByCode(t *testing.T) {
	_, err := parseMetadata("-- ---\n-- title: Broken\nlocal x = 1\n-- ---\n")
	require.Error(t, err)
}

func TestParseMetadata_BadYAML(t *testing.T) {
	_, err := parseMetadata("-- ---\n-- title: [unclosed\n-- ---\n")
	require.Error(t, err)
}

func TestParseMetadata_SchemaViolations(t *testing.T) {
	cases := []string{
		"-- ---\n-- difficulty: impossible\n-- ---\n",
		"-- ---\n-- title: 42\n-- ---\n",
		"-- ---\n-- target_gestures: notalist\n-- ---\n",
	}
	for _, src := range cases {
		_, err := parseMetadata(src)
		assert.Error(t, err, "source: %q", src)
	}
}
