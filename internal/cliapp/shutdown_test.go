package cliapp

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdown_RunsCleanupOnceInReverseOrder(t *testing.T) {
	app := &App{logger: testLogger()}
	var order []string
	app.cleanup.push("database", func(context.Context) error {
		order = append(order, "database")
		return nil
	})
	app.cleanup.push("metrics endpoint", func(context.Context) error {
		order = append(order, "metrics endpoint")
		return errors.New("already closed")
	})

	require.NoError(t, app.Shutdown(context.Background()))
	require.NoError(t, app.Shutdown(context.Background()))

	assert.Equal(t, []string{"metrics endpoint", "database"}, order)
}

func TestInit_FailureReleasesAcquiredResources(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := testConfig()
	cfg.Run.DryRun = true
	cfg.Observability.MetricsEnabled = true
	cfg.Observability.MetricsAddr = taken.Addr().String()
	cfg.Batching.BulkGeneratedValues = "skip"

	app, err := New(cfg, testLogger())
	require.NoError(t, err)
	err = app.Init(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics endpoint")
	assert.False(t, app.initialized)
	assert.Empty(t, app.cleanup.items)
}
