package cliapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelemetryDisabledByDefault(t *testing.T) {
	cfg := testConfig()

	logger, provider, err := InitLogger(cfg)
	require.NoError(t, err)
	assert.NotNil(t, logger)
	assert.Nil(t, provider)

	meter, batchMetrics, runMetrics, err := initMetrics(cfg, testLogger())
	require.NoError(t, err)
	assert.Nil(t, meter)
	assert.Nil(t, batchMetrics)
	assert.Nil(t, runMetrics)

	tracer, err := initTracing(cfg, testLogger())
	require.NoError(t, err)
	assert.Nil(t, tracer)

	srv, ln, err := newMetricsServer(cfg, testLogger())
	require.NoError(t, err)
	assert.Nil(t, srv)
	assert.Nil(t, ln)
}

func TestNewMetricsServer_BindsListener(t *testing.T) {
	cfg := testConfig()
	cfg.Observability.MetricsEnabled = true
	cfg.Observability.MetricsAddr = "127.0.0.1:0"

	srv, ln, err := newMetricsServer(cfg, testLogger())
	require.NoError(t, err)
	require.NotNil(t, srv)
	defer ln.Close()
	assert.NotEmpty(t, ln.Addr().String())
}
