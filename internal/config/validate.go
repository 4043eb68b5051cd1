package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"dmlbatch/internal/batch"
	"dmlbatch/internal/sqlgen"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) addError(field, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Hint: hint})
}

func (r *ValidationResult) addWarning(field, message, hint string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: message, Hint: hint})
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	c.Database.validate(result)
	c.Batching.validate(result)
	c.Run.validate(result)
	c.Observability.validate(result)

	if dialect, err := c.Database.Dialect(); err == nil && dialect == sqlgen.DialectPostgres && c.Batching.BulkIdentityReadback {
		result.addWarning("batching.bulk_identity_readback",
			"has no effect for postgres",
			"RETURNING already reads generated values per row")
	}

	return result
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	if _, err := d.Dialect(); err != nil {
		result.addError("database.driver", fmt.Sprintf("unsupported driver %q", d.Driver), "valid values are: mysql, tidb, postgres")
		return
	}

	if d.ConnectionString == "" && (d.Port < 1 || d.Port > 65535) {
		result.addError("database.port", fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port), "")
	}
	if _, err := d.DSN(); err != nil {
		result.addError("database.dsn", err.Error(), "set a valid connection string for the configured driver")
	}

	d.TLS.validate(result)

	if d.Pool.MaxOpen < 0 {
		result.addError("database.pool.max_open", "max_open cannot be negative", "")
	}
	if d.Pool.MaxIdle < 0 {
		result.addError("database.pool.max_idle", "max_idle cannot be negative", "")
	}
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		result.addWarning("database.pool.max_idle", "max_idle is greater than max_open", "idle connections will be limited to max_open")
	}

	if d.ConnectionTimeout < 0 {
		result.addError("database.connection_timeout", "connection_timeout cannot be negative", "")
	}
	if d.ConnectionRetryInterval < 0 {
		result.addError("database.connection_retry_interval", "connection_retry_interval cannot be negative", "")
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval == 0 {
		result.addError("database.connection_retry_interval",
			"connection_retry_interval must be greater than 0 when connection_timeout is set",
			"set a retry interval such as 2s, or set connection_timeout to 0 to disable retries")
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval > d.ConnectionTimeout {
		result.addWarning("database.connection_retry_interval",
			"connection_retry_interval is greater than connection_timeout",
			"only one connection attempt will be made")
	}
}

func (t *DatabaseTLSConfig) validate(result *ValidationResult) {
	validModes := map[string]bool{"": true, "off": true, "skip-verify": true, "verify-ca": true, "verify-full": true}
	if !validModes[t.Mode] {
		result.addError("database.tls.mode", fmt.Sprintf("invalid TLS mode %q", t.Mode), "valid values are: off, skip-verify, verify-ca, verify-full")
	}
	if (t.Mode == "verify-ca" || t.Mode == "verify-full") && t.resolveCAFile() == "" {
		result.addWarning("database.tls.ca_file", "no CA file configured", "the system certificate pool will be used")
	}
	if (t.resolveCertFile() == "") != (t.resolveKeyFile() == "") {
		result.addError("database.tls.cert_file", "cert_file and key_file must be set together", "")
	}
	if t.Mode == "skip-verify" {
		result.addWarning("database.tls.mode", "skip-verify disables server certificate verification", "use verify-ca or verify-full outside development")
	}
}

func (b *BatchingConfig) validate(result *ValidationResult) {
	if b.MaxBatchSize != nil && *b.MaxBatchSize <= 0 {
		result.addError("batching.max_batch_size",
			fmt.Sprintf("max_batch_size must be a positive integer, got %d", *b.MaxBatchSize),
			"remove the setting to use max_row_count")
	}
	if b.MaxBatchSize != nil && b.MaxRowCount > 0 && *b.MaxBatchSize > b.MaxRowCount {
		result.addWarning("batching.max_batch_size",
			fmt.Sprintf("max_batch_size %d exceeds max_row_count %d", *b.MaxBatchSize, b.MaxRowCount),
			"batches are capped at max_row_count")
	}

	if b.MaxRowCount > batch.DefaultMaxRowCount {
		result.addWarning("batching.max_row_count",
			fmt.Sprintf("max_row_count %d exceeds the ceiling of %d", b.MaxRowCount, batch.DefaultMaxRowCount),
			fmt.Sprintf("batches are capped at %d commands", batch.DefaultMaxRowCount))
	}

	nonNegative := []struct {
		field string
		value int
	}{
		{"batching.max_row_count", b.MaxRowCount},
		{"batching.max_parameter_count", b.MaxParameterCount},
		{"batching.network_packet_size", b.NetworkPacketSize},
		{"batching.max_script_length", b.MaxScriptLength},
		{"batching.length_check_interval", b.LengthCheckInterval},
		{"batching.length_check_headroom_divisor", b.HeadroomDivisor},
	}
	for _, nn := range nonNegative {
		if nn.value < 0 {
			result.addError(nn.field, fmt.Sprintf("must not be negative, got %d", nn.value), "use 0 for the default")
		}
	}
	if b.MaxParameterCount == 1 {
		result.addError("batching.max_parameter_count", "must leave room for at least one bound parameter", "")
	}

	if _, err := batch.ParseBulkReadbackPolicy(b.BulkGeneratedValues); err != nil {
		result.addError("batching.bulk_generated_values", err.Error(), "valid values are: fail, skip")
	}
}

func (r *RunConfig) validate(result *ValidationResult) {
	switch r.Output {
	case "", "yaml", "json":
	default:
		result.addError("run.output", fmt.Sprintf("invalid output format %q", r.Output), "valid values are: yaml, json")
	}
	if r.Timeout < 0 {
		result.addError("run.timeout", "timeout cannot be negative", "")
	}
	if r.DryRun && r.Transaction {
		result.addWarning("run.transaction", "ignored for dry runs", "")
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.addError("observability.logging.level", fmt.Sprintf("invalid log level %q", o.Logging.Level), "valid values are: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.addError("observability.logging.format", fmt.Sprintf("invalid log format %q", o.Logging.Format), "valid values are: json, text")
	}

	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.addError("observability.trace_sample_ratio", fmt.Sprintf("ratio %v is outside 0.0-1.0", o.TraceSampleRatio), "")
	}
	if o.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(o.MetricsAddr); err != nil {
			result.addError("observability.metrics_addr", fmt.Sprintf("invalid listen address %q", o.MetricsAddr), "use host:port or :port")
		}
		if !o.MetricsEnabled {
			result.addWarning("observability.metrics_addr", "set but metrics are disabled", "enable observability.metrics_enabled")
		}
	}

	o.OTLP.validate("observability.otlp", result)
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.addError(prefix+".protocol", fmt.Sprintf("invalid OTLP protocol %q", o.Protocol), "valid values are: grpc, http/protobuf")
	}

	if o.Protocol == "http/protobuf" && !validOTLPEndpoint(o.Endpoint) {
		result.addError(prefix+".endpoint", fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint), "use host:port or a full URL")
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.addError(prefix+".compression", fmt.Sprintf("invalid OTLP compression %q", o.Compression), "valid values are: none, gzip")
	}

	if o.RetryMaxAttempts < 0 {
		result.addError(prefix+".retry_max_attempts", "retry_max_attempts cannot be negative", "")
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
