// Package config loads configuration from files, env vars, and flags, and validates it.
package config

import (
	"fmt"
	"time"

	"dmlbatch/internal/batch"
	"dmlbatch/internal/observability"
	"dmlbatch/internal/sqlgen"
)

// Config holds the application configuration.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Batching      BatchingConfig      `mapstructure:"batching"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Run           RunConfig           `mapstructure:"run"`
}

// PoolConfig holds connection pool parameters.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// DatabaseTLSConfig holds TLS configuration for database connections.
type DatabaseTLSConfig struct {
	// Mode is one of off, skip-verify, verify-ca, verify-full.
	Mode string `mapstructure:"mode"`

	CAFile string `mapstructure:"ca_file"`
	// CAFileEnv names an environment variable holding the CA file path.
	CAFileEnv string `mapstructure:"ca_file_env"`

	CertFile    string `mapstructure:"cert_file"`
	CertFileEnv string `mapstructure:"cert_file_env"`
	KeyFile     string `mapstructure:"key_file"`
	KeyFileEnv  string `mapstructure:"key_file_env"`

	// ServerName overrides the name used for verification; defaults to the host.
	ServerName string `mapstructure:"server_name"`
}

// DatabaseConfig holds database connection parameters.
type DatabaseConfig struct {
	// Driver selects the SQL dialect and transport: mysql or postgres.
	Driver string `mapstructure:"driver"`

	// ConnectionString is a complete DSN. When set it overrides the discrete fields.
	ConnectionString string `mapstructure:"dsn"`
	// ConnectionStringFile is a path to a file containing the DSN; "@-" reads stdin.
	ConnectionStringFile string `mapstructure:"dsn_file"`

	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	PasswordFile   string `mapstructure:"password_file"`
	PasswordPrompt bool   `mapstructure:"password_prompt"`
	Database       string `mapstructure:"database"`

	TLS  DatabaseTLSConfig `mapstructure:"tls"`
	Pool PoolConfig        `mapstructure:"pool"`

	// ConnectionTimeout is the max time to wait for the database on startup.
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	// ConnectionRetryInterval is the initial interval between connection retries.
	ConnectionRetryInterval time.Duration `mapstructure:"connection_retry_interval"`
}

// BatchingConfig holds batch limits and result read-back behavior.
type BatchingConfig struct {
	// MaxBatchSize optionally lowers the row ceiling; it must be positive when set.
	MaxBatchSize        *int `mapstructure:"max_batch_size"`
	MaxRowCount         int  `mapstructure:"max_row_count"`
	MaxParameterCount   int  `mapstructure:"max_parameter_count"`
	NetworkPacketSize   int  `mapstructure:"network_packet_size"`
	MaxScriptLength     int  `mapstructure:"max_script_length"`
	LengthCheckInterval int  `mapstructure:"length_check_interval"`
	HeadroomDivisor     int  `mapstructure:"length_check_headroom_divisor"`

	CheckAffectedRows    bool `mapstructure:"check_affected_rows"`
	BulkIdentityReadback bool `mapstructure:"bulk_identity_readback"`
	// BulkGeneratedValues is fail or skip.
	BulkGeneratedValues string `mapstructure:"bulk_generated_values"`
}

// Options converts the section into batch limits.
func (b BatchingConfig) Options() batch.Options {
	return batch.Options{
		MaxBatchSize:        b.MaxBatchSize,
		MaxRowCount:         b.MaxRowCount,
		MaxParameterCount:   b.MaxParameterCount,
		NetworkPacketSize:   b.NetworkPacketSize,
		MaxScriptLength:     b.MaxScriptLength,
		LengthCheckInterval: b.LengthCheckInterval,
		HeadroomDivisor:     b.HeadroomDivisor,
	}
}

// RendererOptions converts the section into renderer options.
func (b BatchingConfig) RendererOptions() sqlgen.Options {
	return sqlgen.Options{
		CheckAffectedRows:       b.CheckAffectedRows,
		BulkIdentityConsecutive: b.BulkIdentityReadback,
	}
}

// Mapper returns the result-set mapper for the configured read-back policy.
func (b BatchingConfig) Mapper() (batch.Mapper, error) {
	policy, err := batch.ParseBulkReadbackPolicy(b.BulkGeneratedValues)
	if err != nil {
		return batch.Mapper{}, err
	}
	return batch.Mapper{Policy: policy}, nil
}

// RunConfig controls a single invocation.
type RunConfig struct {
	// Changeset is the path of the YAML changeset; "-" reads stdin.
	Changeset string `mapstructure:"changeset"`
	DryRun    bool   `mapstructure:"dry_run"`
	// Output is yaml or json.
	Output string `mapstructure:"output"`
	// Transaction wraps the whole run in one database transaction.
	Transaction bool          `mapstructure:"transaction"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`           // debug, info, warn, error
	Format         string `mapstructure:"format"`          // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"` // Enable OTLP log export
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName      string        `mapstructure:"service_name"`
	ServiceVersion   string        `mapstructure:"service_version"`
	Environment      string        `mapstructure:"environment"`
	MetricsEnabled   bool          `mapstructure:"metrics_enabled"`
	MetricsAddr      string        `mapstructure:"metrics_addr"`
	TracingEnabled   bool          `mapstructure:"tracing_enabled"`
	TraceSampleRatio float64       `mapstructure:"trace_sample_ratio"`
	Logging          LoggingConfig `mapstructure:"logging"`

	// Global OTLP settings (defaults for all signals)
	OTLP OTLPConfig `mapstructure:"otlp"`

	// Signal-specific overrides (optional)
	Traces *OTLPConfig `mapstructure:"traces,omitempty"`
	Logs   *OTLPConfig `mapstructure:"logs,omitempty"`
}

// OTLPConfig holds OTLP exporter configuration
type OTLPConfig struct {
	Endpoint          string            `mapstructure:"endpoint"`
	Protocol          string            `mapstructure:"protocol"` // "grpc", "http/protobuf"
	Insecure          bool              `mapstructure:"insecure"`
	TLSCertFile       string            `mapstructure:"tls_cert_file"`
	TLSClientCertFile string            `mapstructure:"tls_client_cert_file"`
	TLSClientKeyFile  string            `mapstructure:"tls_client_key_file"`
	Headers           map[string]string `mapstructure:"headers"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Compression       string            `mapstructure:"compression"` // "none", "gzip"
	RetryEnabled      bool              `mapstructure:"retry_enabled"`
	RetryMaxAttempts  int               `mapstructure:"retry_max_attempts"`
}

// GetTracesConfig returns the effective OTLP config for traces
func (c *ObservabilityConfig) GetTracesConfig() OTLPConfig {
	if c.Traces != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Traces)
	}
	return c.OTLP
}

// GetLogsConfig returns the effective OTLP config for logs
func (c *ObservabilityConfig) GetLogsConfig() OTLPConfig {
	if c.Logs != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Logs)
	}
	return c.OTLP
}

// Telemetry builds the provider configuration for one signal.
func (c *ObservabilityConfig) Telemetry(otlp OTLPConfig) observability.Config {
	return observability.Config{
		ServiceName:      c.ServiceName,
		ServiceVersion:   c.ServiceVersion,
		Environment:      c.Environment,
		TraceSampleRatio: c.TraceSampleRatio,
		OTLPConfig: observability.OTLPExporterConfig{
			Endpoint:          otlp.Endpoint,
			Protocol:          otlp.Protocol,
			Insecure:          otlp.Insecure,
			TLSCertFile:       otlp.TLSCertFile,
			TLSClientCertFile: otlp.TLSClientCertFile,
			TLSClientKeyFile:  otlp.TLSClientKeyFile,
			Headers:           otlp.Headers,
			Timeout:           otlp.Timeout,
			Compression:       otlp.Compression,
			RetryEnabled:      otlp.RetryEnabled,
			RetryMaxAttempts:  otlp.RetryMaxAttempts,
		},
	}
}

// mergeOTLPConfigs overlays the non-zero fields of a signal override on the global settings.
func mergeOTLPConfigs(base OTLPConfig, override OTLPConfig) OTLPConfig {
	result := base

	if override.Endpoint != "" {
		result.Endpoint = override.Endpoint
	}
	if override.Protocol != "" {
		result.Protocol = override.Protocol
	}
	// Insecure cannot be told apart from an explicit false, so the override always wins.
	result.Insecure = override.Insecure

	if override.TLSCertFile != "" {
		result.TLSCertFile = override.TLSCertFile
	}
	if override.TLSClientCertFile != "" {
		result.TLSClientCertFile = override.TLSClientCertFile
	}
	if override.TLSClientKeyFile != "" {
		result.TLSClientKeyFile = override.TLSClientKeyFile
	}

	if override.Headers != nil {
		result.Headers = make(map[string]string, len(base.Headers)+len(override.Headers))
		for k, v := range base.Headers {
			result.Headers[k] = v
		}
		for k, v := range override.Headers {
			result.Headers[k] = v
		}
	}

	if override.Timeout != 0 {
		result.Timeout = override.Timeout
	}
	if override.Compression != "" {
		result.Compression = override.Compression
	}
	if override.RetryMaxAttempts != 0 {
		result.RetryEnabled = override.RetryEnabled
		result.RetryMaxAttempts = override.RetryMaxAttempts
	}

	return result
}

// Dialect returns the SQL dialect for the configured driver.
func (d *DatabaseConfig) Dialect() (sqlgen.Dialect, error) {
	dialect, err := sqlgen.ParseDialect(d.Driver)
	if err != nil {
		return "", fmt.Errorf("database.driver: %w", err)
	}
	return dialect, nil
}
