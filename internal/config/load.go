package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"dmlbatch/internal/batch"
)

// EnvPrefix prefixes every environment variable, e.g. DMLBATCH_DATABASE_HOST.
const EnvPrefix = "DMLBATCH"

// stdin is swapped in tests.
var stdin io.Reader = os.Stdin

// NewFlagSet defines all command line flags using canonical snake_case keys.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)

	fs.StringP("config", "c", "", "Config file path")
	fs.Bool("version", false, "Print version and exit")

	fs.String("database.driver", "", "Database driver (mysql, postgres)")
	fs.String("database.dsn", "", "Complete DSN; overrides the discrete connection fields")
	fs.String("database.dsn_file", "", "Path to file containing the DSN (use @- for stdin)")
	fs.String("database.host", "", "Database host")
	fs.Int("database.port", 0, "Database port")
	fs.String("database.user", "", "Database user")
	fs.String("database.password", "", "Database password")
	fs.String("database.password_file", "", "Path to file containing database password (use @- for stdin)")
	fs.Bool("database.password_prompt", false, "Prompt for database password securely")
	fs.String("database.database", "", "Database name")
	fs.String("database.tls.mode", "", "TLS mode (off, skip-verify, verify-ca, verify-full)")
	fs.String("database.tls.ca_file", "", "Path to CA certificate for server verification")
	fs.String("database.tls.cert_file", "", "Path to client certificate for mTLS")
	fs.String("database.tls.key_file", "", "Path to client private key for mTLS")
	fs.String("database.tls.server_name", "", "Override TLS server name for verification")
	fs.Int("database.pool.max_open", 0, "Maximum open database connections")
	fs.Int("database.pool.max_idle", 0, "Maximum idle connections in pool")
	fs.Duration("database.pool.max_lifetime", 0, "Connection max lifetime (e.g. 5m, 30s)")
	fs.Duration("database.connection_timeout", 0, "Max time to wait for database on startup (0 = fail immediately)")
	fs.Duration("database.connection_retry_interval", 0, "Initial interval between connection retries")

	fs.Int("batching.max_batch_size", 0, "Maximum commands per batch (must be positive)")
	fs.Int("batching.max_row_count", 0, "Hard ceiling on commands per batch")
	fs.Int("batching.max_parameter_count", 0, "Maximum bound parameters per batch")
	fs.Int("batching.network_packet_size", 0, "Network packet size the script length limit derives from")
	fs.Int("batching.max_script_length", 0, "Maximum command text length in bytes (overrides the packet-derived limit)")
	fs.Int("batching.length_check_interval", 0, "Admissions before the first script length measurement")
	fs.Int("batching.length_check_headroom_divisor", 0, "Divisor applied to the estimated remaining capacity")
	fs.Bool("batching.check_affected_rows", false, "Verify affected row counts of updates and deletes")
	fs.Bool("batching.bulk_identity_readback", false, "Read generated identities back from multi-row inserts")
	fs.String("batching.bulk_generated_values", "", "Policy when bulk generated values cannot be read back (fail, skip)")

	fs.String("run.changeset", "", "Path to the changeset file (use - for stdin)")
	fs.Bool("run.dry_run", false, "Plan batches without executing them")
	fs.String("run.output", "", "Output format (yaml, json)")
	fs.Bool("run.transaction", false, "Run all batches in one transaction")
	fs.Duration("run.timeout", 0, "Overall run timeout (0 = none)")

	fs.String("observability.service_name", "", "Service name for observability")
	fs.String("observability.environment", "", "Environment name (dev, staging, prod)")
	fs.Bool("observability.metrics_enabled", false, "Enable metrics collection")
	fs.String("observability.metrics_addr", "", "Listen address for the Prometheus endpoint (empty = do not serve)")
	fs.Bool("observability.tracing_enabled", false, "Enable distributed tracing")
	fs.Float64("observability.trace_sample_ratio", 0, "Trace sampling ratio from 0.0 to 1.0")
	fs.String("observability.logging.level", "", "Log level (debug, info, warn, error)")
	fs.String("observability.logging.format", "", "Log format (json, text)")
	fs.Bool("observability.logging.exports_enabled", false, "Enable OTLP log export")
	fs.String("observability.otlp.endpoint", "", "OTLP endpoint for all signals (e.g., localhost:4317)")
	fs.String("observability.otlp.protocol", "", "OTLP protocol for all signals (grpc, http/protobuf)")
	fs.Bool("observability.otlp.insecure", false, "Use insecure connection (no TLS)")
	fs.Duration("observability.otlp.timeout", 0, "OTLP export timeout")
	fs.String("observability.otlp.compression", "", "OTLP compression (none, gzip)")

	return fs
}

// Load parses args and resolves configuration with the precedence
// flags > environment > config file > defaults. A single positional argument
// is taken as the changeset path.
func Load(args []string) (*Config, error) {
	fs := NewFlagSet("dmlbatch")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return LoadFromFlags(fs)
}

// LoadFromFlags resolves configuration from an already parsed flag set.
func LoadFromFlags(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	cfgPath, _ := fs.GetString("config")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("dmlbatch")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/dmlbatch/")
		v.AddConfigPath("$HOME/.dmlbatch")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if cfgPath != "" {
			return nil, fmt.Errorf("failed to read config file %q: %w", cfgPath, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// No default, so the key is unknown to AutomaticEnv until bound.
	_ = v.BindEnv("batching.max_batch_size")

	bindChangedFlagsToViper(fs, v)
	if fs.NArg() > 0 && !fs.Changed("run.changeset") {
		v.Set("run.changeset", fs.Arg(0))
	}
	if err := validateSingleStdinSource(v); err != nil {
		return nil, err
	}

	if v.GetString("database.dsn") == "" && v.GetString("database.dsn_file") != "" {
		dsn, err := readSecretFile(v.GetString("database.dsn_file"))
		if err != nil {
			return nil, fmt.Errorf("failed to read database DSN file: %w", err)
		}
		v.Set("database.dsn", dsn)
	}
	if v.GetString("database.password") == "" && v.GetString("database.password_file") != "" {
		pwd, err := readSecretFile(v.GetString("database.password_file"))
		if err != nil {
			return nil, fmt.Errorf("failed to read database password file: %w", err)
		}
		v.Set("database.password", pwd)
	}
	if v.GetString("database.password") == "" && v.GetBool("database.password_prompt") {
		pwd, err := promptPassword()
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		v.Set("database.password", pwd)
	}

	var cfg Config
	if err := v.UnmarshalExact(
		&cfg,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		),
	); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Database.Port == 0 {
		cfg.Database.Port = defaultPort(cfg.Database.Driver)
	}
	return &cfg, nil
}

// bindChangedFlagsToViper copies only explicitly-set flags into Viper,
// preserving precedence: flags > env > file > defaults.
func bindChangedFlagsToViper(fs *pflag.FlagSet, v *viper.Viper) {
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "version" {
			return
		}

		switch f.Value.Type() {
		case "string":
			val, _ := fs.GetString(f.Name)
			v.Set(f.Name, val)
		case "int":
			val, _ := fs.GetInt(f.Name)
			v.Set(f.Name, val)
		case "bool":
			val, _ := fs.GetBool(f.Name)
			v.Set(f.Name, val)
		case "float64":
			val, _ := fs.GetFloat64(f.Name)
			v.Set(f.Name, val)
		case "duration":
			val, _ := fs.GetDuration(f.Name)
			v.Set(f.Name, val)
		default:
			v.Set(f.Name, f.Value.String())
		}
	})
}

// setDefaults sets default values (lowest precedence).
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.dsn_file", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.password_file", "")
	v.SetDefault("database.password_prompt", false)
	v.SetDefault("database.database", "test")
	v.SetDefault("database.tls.mode", "")
	v.SetDefault("database.tls.ca_file", "")
	v.SetDefault("database.tls.ca_file_env", "")
	v.SetDefault("database.tls.cert_file", "")
	v.SetDefault("database.tls.cert_file_env", "")
	v.SetDefault("database.tls.key_file", "")
	v.SetDefault("database.tls.key_file_env", "")
	v.SetDefault("database.tls.server_name", "")
	v.SetDefault("database.pool.max_open", 4)
	v.SetDefault("database.pool.max_idle", 2)
	v.SetDefault("database.pool.max_lifetime", 5*time.Minute)
	v.SetDefault("database.connection_timeout", 30*time.Second)
	v.SetDefault("database.connection_retry_interval", 2*time.Second)

	v.SetDefault("batching.max_row_count", batch.DefaultMaxRowCount)
	v.SetDefault("batching.max_parameter_count", batch.DefaultMaxParameterCount)
	v.SetDefault("batching.network_packet_size", batch.DefaultNetworkPacketSize)
	v.SetDefault("batching.max_script_length", 0)
	v.SetDefault("batching.length_check_interval", batch.DefaultLengthCheckInterval)
	v.SetDefault("batching.length_check_headroom_divisor", batch.DefaultHeadroomDivisor)
	v.SetDefault("batching.check_affected_rows", true)
	v.SetDefault("batching.bulk_identity_readback", false)
	v.SetDefault("batching.bulk_generated_values", "fail")

	v.SetDefault("run.changeset", "")
	v.SetDefault("run.dry_run", false)
	v.SetDefault("run.output", "yaml")
	v.SetDefault("run.transaction", false)
	v.SetDefault("run.timeout", time.Duration(0))

	v.SetDefault("observability.service_name", "dmlbatch")
	v.SetDefault("observability.service_version", "")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.metrics_addr", "")
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.trace_sample_ratio", 1.0)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.logging.exports_enabled", false)
	v.SetDefault("observability.otlp.endpoint", "localhost:4317")
	v.SetDefault("observability.otlp.protocol", "grpc")
	v.SetDefault("observability.otlp.insecure", false)
	v.SetDefault("observability.otlp.tls_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_key_file", "")
	v.SetDefault("observability.otlp.timeout", 10*time.Second)
	v.SetDefault("observability.otlp.compression", "gzip")
	v.SetDefault("observability.otlp.retry_enabled", true)
	v.SetDefault("observability.otlp.retry_max_attempts", 3)
}

func defaultPort(driver string) int {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pgx":
		return 5432
	default:
		return 4000
	}
}

// promptPassword prompts the user for a password without echoing to terminal.
func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Enter database password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(bytePassword), nil
}

func readSecretFile(path string) (string, error) {
	var data []byte
	var err error

	if path == "@-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// validateSingleStdinSource rejects configurations where more than one
// setting would consume standard input.
func validateSingleStdinSource(v *viper.Viper) error {
	sources := map[string]string{
		"database.dsn_file":      "@-",
		"database.password_file": "@-",
		"run.changeset":          "-",
	}

	var configured []string
	for _, key := range []string{"database.dsn_file", "database.password_file", "run.changeset"} {
		if strings.TrimSpace(v.GetString(key)) == sources[key] {
			configured = append(configured, key)
		}
	}

	if len(configured) > 1 {
		return fmt.Errorf(
			"multiple settings read from stdin (%s); only one stdin source is allowed",
			strings.Join(configured, ", "),
		)
	}
	return nil
}
