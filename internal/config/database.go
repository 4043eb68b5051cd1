package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"

	"dmlbatch/internal/sqlgen"
)

// tlsConfigName is the name used to register custom TLS configs with the MySQL driver.
const tlsConfigName = "dmlbatch-custom"

// DSN returns the connection string for the configured driver.
func (d *DatabaseConfig) DSN() (string, error) {
	dialect, err := d.Dialect()
	if err != nil {
		return "", err
	}
	if dialect == sqlgen.DialectPostgres {
		return d.PostgresDSN()
	}
	return d.MySQLDSN()
}

// MySQLDSN returns a go-sql-driver/mysql DSN. Batches run as one
// multi-statement query with client-side interpolation, and affected row
// counts report matched rows so unchanged updates still verify.
func (d *DatabaseConfig) MySQLDSN() (string, error) {
	var cfg *mysql.Config
	if d.ConnectionString != "" {
		parsed, err := mysql.ParseDSN(d.ConnectionString)
		if err != nil {
			return "", fmt.Errorf("database.dsn is invalid: %w", err)
		}
		cfg = parsed
	} else {
		cfg = mysql.NewConfig()
		cfg.User = d.User
		cfg.Passwd = d.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
		cfg.DBName = d.Database
	}

	cfg.MultiStatements = true
	cfg.InterpolateParams = true
	cfg.ClientFoundRows = true
	cfg.ParseTime = true
	if cfg.Loc == nil || cfg.Loc == time.Local {
		cfg.Loc = time.UTC
	}
	if tlsParam := d.effectiveTLSParam(); tlsParam != "" && cfg.TLSConfig == "" {
		cfg.TLSConfig = tlsParam
	}
	return cfg.FormatDSN(), nil
}

// PostgresDSN returns a libpq-style URL validated with pgx.
func (d *DatabaseConfig) PostgresDSN() (string, error) {
	dsn := d.ConnectionString
	if dsn == "" {
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(d.User, d.Password),
			Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
			Path:   "/" + d.Database,
		}
		q := url.Values{}
		if mode := d.postgresSSLMode(); mode != "" {
			q.Set("sslmode", mode)
		}
		if ca := d.TLS.resolveCAFile(); ca != "" {
			q.Set("sslrootcert", ca)
		}
		if cert, key := d.TLS.resolveCertFile(), d.TLS.resolveKeyFile(); cert != "" && key != "" {
			q.Set("sslcert", cert)
			q.Set("sslkey", key)
		}
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	if _, err := pgx.ParseConfig(dsn); err != nil {
		return "", fmt.Errorf("database.dsn is invalid: %w", err)
	}
	return dsn, nil
}

func (d *DatabaseConfig) postgresSSLMode() string {
	switch d.TLS.Mode {
	case "off":
		return "disable"
	case "skip-verify":
		return "require"
	case "verify-ca", "verify-full":
		return d.TLS.Mode
	default:
		return ""
	}
}

// effectiveTLSParam returns the MySQL tls parameter, or empty when none is configured.
func (d *DatabaseConfig) effectiveTLSParam() string {
	switch d.TLS.Mode {
	case "":
		return ""
	case "off":
		return "false"
	case "skip-verify":
		return "skip-verify"
	case "verify-ca", "verify-full":
		return tlsConfigName
	default:
		return d.TLS.Mode
	}
}

// RegisterTLS registers a custom TLS configuration with the MySQL driver.
// Must be called before opening a MySQL connection in verify-ca or verify-full mode.
func (d *DatabaseConfig) RegisterTLS() error {
	if d.TLS.Mode != "verify-ca" && d.TLS.Mode != "verify-full" {
		return nil
	}

	tlsCfg, err := d.buildTLSConfig()
	if err != nil {
		return fmt.Errorf("failed to build TLS config: %w", err)
	}
	if err := mysql.RegisterTLSConfig(tlsConfigName, tlsCfg); err != nil {
		return fmt.Errorf("failed to register TLS config: %w", err)
	}
	return nil
}

func (d *DatabaseConfig) buildTLSConfig() (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	caFile := d.TLS.resolveCAFile()
	certFile := d.TLS.resolveCertFile()
	keyFile := d.TLS.resolveKeyFile()

	if caFile != "" {
		caCert, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %q: %w", caFile, err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate from %q", caFile)
		}
		tlsCfg.RootCAs = certPool
	}

	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	} else if certFile != "" || keyFile != "" {
		return nil, fmt.Errorf("both cert_file and key_file must be specified for client certificate authentication")
	}

	if d.TLS.Mode == "verify-full" {
		tlsCfg.ServerName = d.TLS.ServerName
		if tlsCfg.ServerName == "" {
			tlsCfg.ServerName = d.Host
		}
	}
	return tlsCfg, nil
}

func resolveEnvPath(envName, fallback string) string {
	if envName != "" {
		if path := strings.TrimSpace(os.Getenv(envName)); path != "" {
			return path
		}
	}
	return fallback
}

func (t *DatabaseTLSConfig) resolveCAFile() string   { return resolveEnvPath(t.CAFileEnv, t.CAFile) }
func (t *DatabaseTLSConfig) resolveCertFile() string { return resolveEnvPath(t.CertFileEnv, t.CertFile) }
func (t *DatabaseTLSConfig) resolveKeyFile() string  { return resolveEnvPath(t.KeyFileEnv, t.KeyFile) }
