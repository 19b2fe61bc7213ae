package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"cms_migrator/internal/db"
	"cms_migrator/internal/ledger"
)

const (
	envPrefix         = "CMSMIGRATE"
	defaultConfigName = "cmsmigrate"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Config struct {
	Engine string
	DSN    string
	// SearchPaths are migration roots, highest priority first.
	SearchPaths []string
	LedgerTable string
	// AllowSchemaChanges is the safety gate. Nothing is written unless it is set.
	AllowSchemaChanges bool
	// AllowDrift downgrades a modified applied migration to a warning.
	AllowDrift  bool
	LogLevel    string
	LogFormat   string
	HTTPAddress string
	// File is the config file that was read, empty when none was found.
	File string
}

// Load reads configuration from path (or ./cmsmigrate.yaml when path is
// empty), a .env file next to it and CMSMIGRATE_* environment variables, in
// increasing order of precedence. Variables already set in the environment
// win over the .env file.
func Load(fs afero.Fs, path string) (Config, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	v := viper.New()
	v.SetFs(fs)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	dir := "."
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		dir = filepath.Dir(path)
	} else {
		v.SetConfigName(defaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if err := loadDotEnv(fs, filepath.Join(dir, ".env")); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Engine:             strings.ToLower(v.GetString("engine")),
		DSN:                v.GetString("dsn"),
		SearchPaths:        stringList(v.Get("search_paths")),
		LedgerTable:        v.GetString("ledger_table"),
		AllowSchemaChanges: v.GetBool("allow_schema_changes"),
		AllowDrift:         v.GetBool("allow_drift"),
		LogLevel:           v.GetString("log_level"),
		LogFormat:          strings.ToLower(v.GetString("log_format")),
		HTTPAddress:        v.GetString("http_addr"),
		File:               v.ConfigFileUsed(),
	}
	if cfg.DSN == "" {
		cfg.DSN = os.Getenv("DATABASE_URL")
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine", "")
	v.SetDefault("dsn", "")
	v.SetDefault("search_paths", []string{"migrations"})
	v.SetDefault("ledger_table", ledger.DefaultTable)
	v.SetDefault("allow_schema_changes", false)
	v.SetDefault("allow_drift", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("http_addr", ":8080")
}

func (c Config) Validate() error {
	if c.Engine == "" {
		return errors.New("engine is required (CMSMIGRATE_ENGINE)")
	}
	if _, err := db.Lookup(c.Engine); err != nil {
		return err
	}
	if c.DSN == "" {
		return errors.New("dsn is required (CMSMIGRATE_DSN or DATABASE_URL)")
	}
	if len(c.SearchPaths) == 0 {
		return errors.New("at least one search path is required (CMSMIGRATE_SEARCH_PATHS)")
	}
	if !identPattern.MatchString(c.LedgerTable) {
		return fmt.Errorf("ledger_table %q is not a valid table name", c.LedgerTable)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// Dialect resolves the configured engine. Call Validate first.
func (c Config) Dialect() (db.Dialect, error) {
	return db.Lookup(c.Engine)
}

func loadDotEnv(fs afero.Fs, path string) error {
	f, err := fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	values, err := godotenv.Parse(f)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for k, val := range values {
		if _, ok := os.LookupEnv(k); !ok {
			_ = os.Setenv(k, val)
		}
	}
	return nil
}

// stringList accepts a YAML list or a comma separated string as set through
// the environment.
func stringList(raw any) []string {
	switch t := raw.(type) {
	case string:
		return splitAndTrim(t)
	case []string:
		return trimAll(t)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
		return trimAll(out)
	default:
		return nil
	}
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func splitAndTrim(input string) []string {
	if input == "" {
		return nil
	}
	return trimAll(strings.Split(input, ","))
}
