// Package config provides functionality for managing configuration options
// for the application using command-line flags, a JSON file and environment
// variables.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Options holds the configuration values for the server.
type Options struct {
	// Port defines the server's listening address (ip:port).
	Port string `json:"port"`

	// DatabaseDSN holds the PostgreSQL connection string.
	DatabaseDSN string `json:"database_dsn"`

	// RedisAddr is the shared clock store address. Empty keeps the clock
	// store in process memory.
	RedisAddr string `json:"redis_addr"`

	// RedisPassword authenticates against RedisAddr.
	RedisPassword string `json:"redis_password"`

	// LockAfterMinutes is the default idle timeout, at least 1.
	LockAfterMinutes int `json:"lock_after_minutes"`

	// PollInterval is the fallback idle re-check period of every tab.
	PollInterval Duration `json:"poll_interval"`

	// CredentialTimeout bounds each credential store call.
	CredentialTimeout Duration `json:"credential_timeout"`

	// AuditRetention is how long lock audit events are kept.
	AuditRetention Duration `json:"audit_retention"`

	// TabIdleTTL is how long a tab may stay silent before it is reaped.
	TabIdleTTL Duration `json:"tab_idle_ttl"`

	// TLSCert, TLSKey and TLSClientCA are the server certificate, its key
	// and the CA that signs operator certificates.
	TLSCert     string `json:"tls_cert"`
	TLSKey      string `json:"tls_key"`
	TLSClientCA string `json:"tls_client_ca"`

	// LogLevel is a zap level name.
	LogLevel string `json:"log_level"`

	// Config is the path to the Config file.
	Config string `json:"-"`
}

// Duration is a time.Duration written as "90s" or "12h" in the config file.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"1m\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func defaults() *Options {
	return &Options{
		Port:              "localhost:8080",
		LockAfterMinutes:  15,
		PollInterval:      Duration(time.Minute),
		CredentialTimeout: Duration(8 * time.Second),
		AuditRetention:    Duration(90 * 24 * time.Hour),
		TabIdleTTL:        Duration(12 * time.Hour),
		TLSCert:           "certs/server.crt",
		TLSKey:            "certs/server.key",
		TLSClientCA:       "certs/ca.crt",
		LogLevel:          "info",
		Config:            "config.json",
	}
}

// Parse reads os.Args and the environment. It exits on invalid input.
func Parse() *Options {
	opts, err := Load(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return opts
}

// Load builds the options from defaults, then the JSON config file, then
// flags given in args, then environment variables read through getenv.
func Load(args []string, getenv func(string) string) (*Options, error) {
	opts := defaults()

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	flagged := defaults()
	fs.StringVar(&flagged.Port, "a", flagged.Port, "run on ip:port server")
	fs.StringVar(&flagged.DatabaseDSN, "d", "", "db address")
	fs.StringVar(&flagged.RedisAddr, "r", "", "redis address for the shared clock store (empty: in memory)")
	fs.IntVar(&flagged.LockAfterMinutes, "l", flagged.LockAfterMinutes, "idle timeout in minutes")
	fs.Func("poll", "idle re-check interval", durationFlag(&flagged.PollInterval))
	fs.Func("ct", "credential store call timeout", durationFlag(&flagged.CredentialTimeout))
	fs.StringVar(&flagged.LogLevel, "log-level", flagged.LogLevel, "log level")
	fs.StringVar(&flagged.Config, "config", flagged.Config, "path to config file")
	fs.StringVar(&flagged.Config, "c", flagged.Config, "path to config file (shorthand)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	opts.Config = flagged.Config
	if configPath := getenv("CONFIG"); configPath != "" {
		opts.Config = configPath
	}
	if err := readFile(opts.Config, opts); err != nil {
		return nil, err
	}

	// explicitly set flags win over the file
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "a":
			opts.Port = flagged.Port
		case "d":
			opts.DatabaseDSN = flagged.DatabaseDSN
		case "r":
			opts.RedisAddr = flagged.RedisAddr
		case "l":
			opts.LockAfterMinutes = flagged.LockAfterMinutes
		case "poll":
			opts.PollInterval = flagged.PollInterval
		case "ct":
			opts.CredentialTimeout = flagged.CredentialTimeout
		case "log-level":
			opts.LogLevel = flagged.LogLevel
		}
	})

	if err := applyEnv(opts, getenv); err != nil {
		return nil, err
	}
	return opts, opts.validate()
}

func readFile(path string, opts *Options) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error while reading config file: %w", err)
	}
	if err := json.Unmarshal(data, opts); err != nil {
		return fmt.Errorf("error while parsing config file: %w", err)
	}
	return nil
}

func applyEnv(opts *Options, getenv func(string) string) error {
	str := map[string]*string{
		"SERVER_ADDRESS": &opts.Port,
		"DATABASE_DSN":   &opts.DatabaseDSN,
		"REDIS_ADDR":     &opts.RedisAddr,
		"REDIS_PASSWORD": &opts.RedisPassword,
		"TLS_CERT":       &opts.TLSCert,
		"TLS_KEY":        &opts.TLSKey,
		"TLS_CLIENT_CA":  &opts.TLSClientCA,
		"LOG_LEVEL":      &opts.LogLevel,
	}
	for name, dst := range str {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}

	dur := map[string]*Duration{
		"POLL_INTERVAL":      &opts.PollInterval,
		"CREDENTIAL_TIMEOUT": &opts.CredentialTimeout,
		"AUDIT_RETENTION":    &opts.AuditRetention,
		"TAB_IDLE_TTL":       &opts.TabIdleTTL,
	}
	for name, dst := range dur {
		if v := getenv(name); v != "" {
			if err := durationFlag(dst)(v); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}

	if v := getenv("LOCK_AFTER_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LOCK_AFTER_MINUTES: %w", err)
		}
		opts.LockAfterMinutes = n
	}
	return nil
}

func (o *Options) validate() error {
	if o.LockAfterMinutes < 1 {
		o.LockAfterMinutes = 1
	}
	for name, d := range map[string]Duration{
		"poll interval":      o.PollInterval,
		"credential timeout": o.CredentialTimeout,
		"audit retention":    o.AuditRetention,
		"tab idle ttl":       o.TabIdleTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

func durationFlag(dst *Duration) func(string) error {
	return func(s string) error {
		d, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*dst = Duration(d)
		return nil
	}
}
