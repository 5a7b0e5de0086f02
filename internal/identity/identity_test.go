package identity

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileProvider_IDIsStableAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terminal.id")
	p := FileProvider{Path: path}

	first, err := p.TerminalID()
	assert.NoError(t, err)
	assert.NotEmpty(t, first)

	second, err := p.TerminalID()
	assert.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFileProvider_DistinctPathsMintDistinctIDs(t *testing.T) {
	dir := t.TempDir()
	a, err := FileProvider{Path: filepath.Join(dir, "a.id")}.TerminalID()
	assert.NoError(t, err)
	b, err := FileProvider{Path: filepath.Join(dir, "b.id")}.TerminalID()
	assert.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestStatic(t *testing.T) {
	id, err := Static("till-9").TerminalID()
	assert.NoError(t, err)
	assert.Equal(t, "till-9", id)
}
