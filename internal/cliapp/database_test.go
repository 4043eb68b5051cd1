package cliapp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForDatabase(t *testing.T) {
	refused := errors.New("connection refused")

	t.Run("single attempt without timeout", func(t *testing.T) {
		calls := 0
		err := waitForDatabase(context.Background(), testConfig(), testLogger(), func(context.Context) error {
			calls++
			return refused
		})
		assert.ErrorIs(t, err, refused)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries until the database answers", func(t *testing.T) {
		cfg := testConfig()
		cfg.Database.ConnectionTimeout = 5 * time.Second
		cfg.Database.ConnectionRetryInterval = time.Millisecond

		calls := 0
		err := waitForDatabase(context.Background(), cfg, testLogger(), func(context.Context) error {
			calls++
			if calls < 3 {
				return refused
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after the timeout", func(t *testing.T) {
		cfg := testConfig()
		cfg.Database.ConnectionTimeout = 5 * time.Millisecond
		cfg.Database.ConnectionRetryInterval = time.Millisecond

		err := waitForDatabase(context.Background(), cfg, testLogger(), func(context.Context) error {
			return refused
		})
		assert.ErrorIs(t, err, refused)
		assert.Contains(t, err.Error(), "database not available after")
	})

	t.Run("stops when the context is cancelled", func(t *testing.T) {
		cfg := testConfig()
		cfg.Database.ConnectionTimeout = time.Minute
		cfg.Database.ConnectionRetryInterval = time.Hour

		ctx, cancel := context.WithCancel(context.Background())
		err := waitForDatabase(ctx, cfg, testLogger(), func(context.Context) error {
			cancel()
			return refused
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestConnectPostgres_RejectsBadDSN(t *testing.T) {
	cfg := testConfig()
	cfg.Database.Driver = "postgres"
	cfg.Database.ConnectionString = "postgres://u@h:5432/db?sslmode=bogus"

	_, err := connectPostgres(context.Background(), cfg)
	assert.Error(t, err)
}
