package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringUsesLinkerValues(t *testing.T) {
	v, c, d := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = v, c, d })

	Version, Commit, Date = "v1.4.0", "abcdef0", "2026-10-01T12:00:00Z"
	assert.Equal(t, "v1.4.0 (abcdef0, 2026-10-01T12:00:00Z)", String())

	Date = ""
	assert.Equal(t, "v1.4.0 (abcdef0)", String())
}

func TestStringWithoutLinkerValues(t *testing.T) {
	c := Commit
	t.Cleanup(func() { Commit = c })
	Commit = ""
	assert.Contains(t, String(), "dev (")
}
