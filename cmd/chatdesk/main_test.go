package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"config", "model", "base-url", "journal", "debug", "no-telemetry"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}

func TestRootCommandMissingConfigFile(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.toml")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}
