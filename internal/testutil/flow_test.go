package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequentialIDGenerator(t *testing.T) {
	g := NewSequentialIDGenerator("lesson")
	assert.Equal(t, "lesson-001", g.NewID())
	assert.Equal(t, "lesson-002", g.NewID())

	g.Reset()
	assert.Equal(t, "lesson-001", g.NewID())
}

func TestSequentialIDGenerator_DefaultPrefix(t *testing.T) {
	g := NewSequentialIDGenerator("")
	assert.Equal(t, "sess-001", g.NewID())
}
