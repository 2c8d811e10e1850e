package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greybox/hackcore/domain/process"
)

func TestLoadBalance_MissingFileFallsBackToDefaults(t *testing.T) {
	table, caps, err := LoadBalance(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, process.DefaultBalanceTable(), table)
	assert.True(t, caps.CPU > 0)
}

func TestLoadBalance_ParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "balance.yaml")
	content := `
kinds:
  scan:
    base_seconds: 12
    min_seconds: 2
    cpu: 40
    ram: 40
    cpu_divisor: 400
    net_divisor: 100
    difficulty_mul: 0.01
default_caps:
  cpu: 2000
  ram: 4096
  net: 1000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	table, caps, err := LoadBalance(path)
	require.NoError(t, err)

	cfg, ok := table[process.KindScan]
	require.True(t, ok)
	assert.Equal(t, 12.0, cfg.BaseSeconds)
	assert.Equal(t, process.Units(40), cfg.Shape.CPU)

	assert.Equal(t, process.Units(2000), caps.CPU)
	assert.Equal(t, process.Units(4096), caps.RAM)
}
