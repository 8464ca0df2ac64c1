package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brand-asset-orchestrator/internal/models"
)

func TestParseRectangle(t *testing.T) {
	r, err := parseRectangle("10, 20,300,400")
	require.NoError(t, err)
	assert.Equal(t, models.Rectangle{10, 20, 300, 400}, r)

	for _, bad := range []string{"", "1,2,3", "a,b,c,d", "1,2,3,4,5"} {
		_, err := parseRectangle(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestCommandsHaveUsage(t *testing.T) {
	seen := map[string]bool{}
	for _, c := range commands {
		assert.False(t, seen[c.name], "duplicate command %s", c.name)
		seen[c.name] = true
		assert.Contains(t, c.usage, c.name)
		assert.NotNil(t, c.run)
	}
}
