package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/diffuservo/internal/control"
)

func TestReadThemes_SkipsBlankAndComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "themes.txt")
	content := "# portraits\na red fox\n\n  a lighthouse at dusk  \n#skip me\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	themes, err := readThemes(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a red fox", "a lighthouse at dusk"}, themes)
}

func TestReadThemes_MissingFile(t *testing.T) {
	_, err := readThemes(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}

func TestParseLock(t *testing.T) {
	tier, err := parseLock("")
	require.NoError(t, err)
	assert.Equal(t, control.Tier(""), tier)

	tier, err = parseLock("anime")
	require.NoError(t, err)
	assert.Equal(t, control.TierStylized, tier)

	_, err = parseLock("watercolor")
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
