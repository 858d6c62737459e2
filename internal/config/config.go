// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// insecureKey is the all-zero development encryption key. Fatal in production.
const insecureKey = "0000000000000000000000000000000000000000000000000000000000000000"

// Reveal policies for credential disclosure.
const (
	RevealOnce   = "once"
	RevealRepeat = "repeat"
)

// minReconcileInterval is the floor for the expiry sweep; anything tighter
// just burns the target engine with introspection queries.
const minReconcileInterval = 10 * time.Second

// Config holds the configuration for the access-control service.
type Config struct {
	LedgerDBPath string // path to the SQLite ledger file (system of record)
	TargetDSN    string // PostgreSQL DSN of the managed target cluster
	ListenAddr   string // HTTP listen address (default ":8080")
	TLSCertFile  string // TLS certificate file path (optional)
	TLSKeyFile   string // TLS private key file path (optional)
	// AllowInsecureHTTP permits a non-TLS listener in production, for trusted
	// TLS termination in front of the service.
	AllowInsecureHTTP bool

	// EncryptionKeys maps key version → 64-char hex (32-byte AES key). The
	// active version seals new credentials; the rest only unseal old ones.
	EncryptionKeys   map[string]string
	ActiveKeyVersion string

	ReconcileInterval time.Duration // expiry sweep cadence (default 60s, floor 10s)
	RevealPolicy      string        // "once" (default) or "repeat"
	OperatorHeader    string        // trusted-proxy operator identity header

	ExecutorTimeout time.Duration // per-statement budget against the target engine
	RetryAttempts   int           // retry budget for transient infrastructure errors
	RetryInterval   time.Duration // pause between retries

	LogLevel string // log level: debug, info, warn, error (default "info")
	Env      string // environment: "development" (default) or "production"

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 100)
	RateLimitBurst int     // burst capacity (default 200)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// RevealRepeatAllowed returns true when the reveal policy permits repeated
// disclosure of the same credential reference.
func (c *Config) RevealRepeatAllowed() bool {
	return c.RevealPolicy == RevealRepeat
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		LedgerDBPath:   os.Getenv("LEDGER_DB_PATH"),
		TargetDSN:      os.Getenv("TARGET_DSN"),
		ListenAddr:     os.Getenv("LISTEN_ADDR"),
		TLSCertFile:    os.Getenv("TLS_CERT_FILE"),
		TLSKeyFile:     os.Getenv("TLS_KEY_FILE"),
		RevealPolicy:   strings.ToLower(strings.TrimSpace(os.Getenv("REVEAL_POLICY"))),
		OperatorHeader: os.Getenv("OPERATOR_HEADER"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
		Env:            os.Getenv("ENV"),
	}

	var err error
	cfg.EncryptionKeys, cfg.ActiveKeyVersion, err = parseEncryptionKeys(
		os.Getenv("ENCRYPTION_KEYS"), os.Getenv("ACTIVE_KEY_VERSION"))
	if err != nil {
		return nil, err
	}

	if cfg.ReconcileInterval, err = parseDurationEnv("RECONCILE_INTERVAL", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.ExecutorTimeout, err = parseDurationEnv("EXECUTOR_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryInterval, err = parseDurationEnv("RETRY_INTERVAL", 500*time.Millisecond); err != nil {
		return nil, err
	}

	if v := os.Getenv("RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("RETRY_ATTEMPTS must be a non-negative integer, got %q", v)
		}
		cfg.RetryAttempts = n
	} else {
		cfg.RetryAttempts = 3
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return nil, fmt.Errorf("RATE_LIMIT_RPS must be a non-negative number, got %q", v)
		}
		cfg.RateLimitRPS = f
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("RATE_LIMIT_BURST must be a non-negative integer, got %q", v)
		}
		cfg.RateLimitBurst = n
	}

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = origins
	}
	if strings.EqualFold(os.Getenv("ALLOW_INSECURE_HTTP"), "true") {
		cfg.AllowInsecureHTTP = true
	}

	// Defaults
	if cfg.LedgerDBPath == "" {
		cfg.LedgerDBPath = "gatekeeper.sqlite"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return nil, fmt.Errorf("both TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	switch cfg.RevealPolicy {
	case "":
		cfg.RevealPolicy = RevealOnce
	case RevealOnce, RevealRepeat:
	default:
		return nil, fmt.Errorf("REVEAL_POLICY must be %q or %q, got %q", RevealOnce, RevealRepeat, cfg.RevealPolicy)
	}
	if cfg.OperatorHeader == "" {
		cfg.OperatorHeader = "X-Operator"
	}
	if cfg.ReconcileInterval < minReconcileInterval {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf(
			"RECONCILE_INTERVAL below the %s floor — clamped", minReconcileInterval))
		cfg.ReconcileInterval = minReconcileInterval
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 200
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.TargetDSN == "" {
		cfg.Warnings = append(cfg.Warnings, "TARGET_DSN not set — target engine operations will fail until configured")
	}
	if cfg.EncryptionKeys[cfg.ActiveKeyVersion] == insecureKey {
		cfg.Warnings = append(cfg.Warnings, "ENCRYPTION_KEYS not set — using insecure default. Set ENCRYPTION_KEYS in production!")
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if cfg.TargetDSN == "" {
			return nil, fmt.Errorf("TARGET_DSN must be set in production (ENV=production)")
		}
		if cfg.EncryptionKeys[cfg.ActiveKeyVersion] == insecureKey {
			return nil, fmt.Errorf("ENCRYPTION_KEYS must be set in production (ENV=production)")
		}
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
		if cfg.TLSCertFile == "" && !cfg.AllowInsecureHTTP {
			return nil, fmt.Errorf("TLS_CERT_FILE/TLS_KEY_FILE must be set in production unless ALLOW_INSECURE_HTTP=true")
		}
		if cfg.RevealPolicy == RevealRepeat {
			cfg.Warnings = append(cfg.Warnings, "REVEAL_POLICY=repeat weakens disclosure auditing — prefer \"once\" in production")
		}
	}

	return cfg, nil
}

// parseEncryptionKeys parses comma-separated "version:hex" pairs. With no
// keys configured an insecure all-zero development key is installed under
// version "v0" and a warning is expected from the caller side via defaults.
func parseEncryptionKeys(raw, active string) (map[string]string, string, error) {
	keys := make(map[string]string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if active != "" && active != "v0" {
			return nil, "", fmt.Errorf("ACTIVE_KEY_VERSION %q set but ENCRYPTION_KEYS is empty", active)
		}
		keys["v0"] = insecureKey
		return keys, "v0", nil
	}

	var first string
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		version, hexKey, ok := strings.Cut(pair, ":")
		version = strings.TrimSpace(version)
		hexKey = strings.TrimSpace(hexKey)
		if !ok || version == "" || hexKey == "" {
			return nil, "", fmt.Errorf("ENCRYPTION_KEYS entry %q is not version:hex", pair)
		}
		if _, dup := keys[version]; dup {
			return nil, "", fmt.Errorf("ENCRYPTION_KEYS has duplicate version %q", version)
		}
		if first == "" {
			first = version
		}
		keys[version] = hexKey
	}
	if len(keys) == 0 {
		return nil, "", fmt.Errorf("ENCRYPTION_KEYS is set but contains no version:hex pairs")
	}

	if active == "" {
		if len(keys) > 1 {
			return nil, "", fmt.Errorf("ACTIVE_KEY_VERSION is required when ENCRYPTION_KEYS has multiple versions")
		}
		active = first
	}
	if _, ok := keys[active]; !ok {
		return nil, "", fmt.Errorf("ACTIVE_KEY_VERSION %q is not present in ENCRYPTION_KEYS", active)
	}
	return keys, active, nil
}

func parseDurationEnv(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", key, v)
	}
	return d, nil
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = stripQuotes(value)
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
