package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/contentengine/config"
)

func TestRunDemo_CompletesEndToEnd(t *testing.T) {
	cmd := &cobra.Command{Use: "demo", RunE: runDemo}
	require.NoError(t, runDemo(cmd, nil))
}

func TestOpenWorkspace_InMemory(t *testing.T) {
	cfg := config.LoadFromEnv()
	cfg.Session.InMemory = true

	coord, closeFn, err := openWorkspace(cfg)
	require.NoError(t, err)
	require.NotNil(t, coord)
	require.NoError(t, closeFn())
}
