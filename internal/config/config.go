package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alexjbarnes/remotesync/internal/engine"
)

// optionsFileName is the optional per-directory policy file. Values set
// there override environment variables, so a sync root can pin its own
// policy regardless of how the daemon is launched.
const optionsFileName = "remotesync.yaml"

// Config holds all configuration for remotesync.
type Config struct {
	// Local sync root. Required.
	SyncDir string `env:"SYNC_DIR"`

	// Remote backend. ServiceType also feeds the ledger profile id.
	ServiceType string `env:"SERVICE_TYPE" envDefault:"dirstore"`
	RemoteDir   string `env:"REMOTE_DIR"`

	// End-to-end encryption. Password and salt are required for any
	// method other than none.
	Password         string                  `env:"E2E_PASSWORD"`
	EncryptionMethod engine.EncryptionMethod `env:"ENCRYPTION_METHOD" envDefault:"none"`
	EncryptionSalt   string                  `env:"ENCRYPTION_SALT"`

	// Sync policy.
	ConflictAction          engine.ConflictAction    `env:"CONFLICT_ACTION" envDefault:"keep-newer"`
	SyncDirection           engine.SyncDirection     `env:"SYNC_DIRECTION" envDefault:"bidirectional"`
	EmptyFolderPolicy       engine.EmptyFolderPolicy `env:"HOW_TO_CLEAN_EMPTY_FOLDER" envDefault:"skip"`
	SkipSizeLargerThan      int64                    `env:"SKIP_SIZE_LARGER_THAN" envDefault:"-1"`
	IgnorePaths             []string                 `env:"IGNORE_PATHS"`
	SyncConfigDir           bool                     `env:"SYNC_CONFIG_DIR" envDefault:"false"`
	SyncUnderscoreItems     bool                     `env:"SYNC_UNDERSCORE_ITEMS" envDefault:"false"`
	ConfigDirName           string                   `env:"CONFIG_DIR_NAME" envDefault:".obsidian"`
	Concurrency             int                      `env:"CONCURRENCY" envDefault:"5"`
	ProtectModifyPercentage float64                  `env:"PROTECT_MODIFY_PERCENTAGE" envDefault:"50"`

	// Triggers.
	SyncOnSave   bool          `env:"SYNC_ON_SAVE" envDefault:"false"`
	SyncInterval time.Duration `env:"SYNC_INTERVAL" envDefault:"0"`

	// History ledger.
	HistoryRetentionDays int    `env:"HISTORY_RETENTION_DAYS" envDefault:"90"`
	StateDB              string `env:"STATE_DB"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// fileOptions mirrors the policy subset settable in remotesync.yaml.
// Pointers distinguish "absent" from zero values.
type fileOptions struct {
	ConflictAction          *string  `yaml:"conflictAction"`
	SyncDirection           *string  `yaml:"syncDirection"`
	HowToCleanEmptyFolder   *string  `yaml:"howToCleanEmptyFolder"`
	SkipSizeLargerThan      *int64   `yaml:"skipSizeLargerThan"`
	IgnorePaths             []string `yaml:"ignorePaths"`
	SyncConfigDir           *bool    `yaml:"syncConfigDir"`
	SyncUnderscoreItems     *bool    `yaml:"syncUnderscoreItems"`
	ConfigDirName           *string  `yaml:"configDirName"`
	Concurrency             *int     `yaml:"concurrency"`
	ProtectModifyPercentage *float64 `yaml:"protectModifyPercentage"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the encryption password to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables, then overlays
// the optional remotesync.yaml options file from the sync root.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Resolve directories to absolute paths at startup: the traversal
	// checks downstream compare string prefixes and need them absolute.
	for _, dir := range []*string{&cfg.SyncDir, &cfg.RemoteDir} {
		if *dir == "" {
			continue
		}

		abs, err := filepath.Abs(*dir)
		if err != nil {
			return nil, fmt.Errorf("resolving %s to absolute path: %w", *dir, err)
		}

		*dir = abs
	}

	if cfg.SyncDir != "" {
		if err := cfg.applyOptionsFile(filepath.Join(cfg.SyncDir, optionsFileName)); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// applyOptionsFile overlays values from the yaml options file when it
// exists. A missing file is not an error; a malformed one is.
func (c *Config) applyOptionsFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path derived from the configured sync root
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("reading options file: %w", err)
	}

	var opts fileOptions
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if opts.ConflictAction != nil {
		c.ConflictAction = engine.ConflictAction(*opts.ConflictAction)
	}

	if opts.SyncDirection != nil {
		c.SyncDirection = engine.SyncDirection(*opts.SyncDirection)
	}

	if opts.HowToCleanEmptyFolder != nil {
		c.EmptyFolderPolicy = engine.EmptyFolderPolicy(*opts.HowToCleanEmptyFolder)
	}

	if opts.SkipSizeLargerThan != nil {
		c.SkipSizeLargerThan = *opts.SkipSizeLargerThan
	}

	if len(opts.IgnorePaths) > 0 {
		c.IgnorePaths = opts.IgnorePaths
	}

	if opts.SyncConfigDir != nil {
		c.SyncConfigDir = *opts.SyncConfigDir
	}

	if opts.SyncUnderscoreItems != nil {
		c.SyncUnderscoreItems = *opts.SyncUnderscoreItems
	}

	if opts.ConfigDirName != nil {
		c.ConfigDirName = *opts.ConfigDirName
	}

	if opts.Concurrency != nil {
		c.Concurrency = *opts.Concurrency
	}

	if opts.ProtectModifyPercentage != nil {
		c.ProtectModifyPercentage = *opts.ProtectModifyPercentage
	}

	return nil
}

func (c *Config) validate() error {
	if c.SyncDir == "" {
		return fmt.Errorf("SYNC_DIR is required")
	}

	if c.ServiceType == "" {
		return fmt.Errorf("SERVICE_TYPE must not be empty")
	}

	if c.ServiceType == "dirstore" && c.RemoteDir == "" {
		return fmt.Errorf("REMOTE_DIR is required for the dirstore service")
	}

	if _, err := engine.ParseConflictAction(string(c.ConflictAction)); err != nil {
		return err
	}

	if _, err := engine.ParseSyncDirection(string(c.SyncDirection)); err != nil {
		return err
	}

	if _, err := engine.ParseEmptyFolderPolicy(string(c.EmptyFolderPolicy)); err != nil {
		return err
	}

	switch c.EncryptionMethod {
	case engine.MethodNone:
	case engine.MethodNameAndContent, engine.MethodContentOnly:
		if c.Password == "" {
			return fmt.Errorf("E2E_PASSWORD is required when encryption is enabled")
		}

		if c.EncryptionSalt == "" {
			return fmt.Errorf("ENCRYPTION_SALT is required when encryption is enabled")
		}
	default:
		return fmt.Errorf("unknown encryption method %q", c.EncryptionMethod)
	}

	if c.Concurrency <= 0 {
		return fmt.Errorf("CONCURRENCY must be positive, got %d", c.Concurrency)
	}

	if c.ProtectModifyPercentage < 0 || c.ProtectModifyPercentage > 100 {
		return fmt.Errorf("PROTECT_MODIFY_PERCENTAGE must be in [0, 100], got %g", c.ProtectModifyPercentage)
	}

	if c.HistoryRetentionDays < 0 {
		return fmt.Errorf("HISTORY_RETENTION_DAYS must not be negative, got %d", c.HistoryRetentionDays)
	}

	if c.SyncInterval < 0 {
		return fmt.Errorf("SYNC_INTERVAL must not be negative, got %s", c.SyncInterval)
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// AssembleOptions maps the exclusion policy into engine terms.
func (c *Config) AssembleOptions() engine.AssembleOptions {
	return engine.AssembleOptions{
		SyncConfigDir:       c.SyncConfigDir,
		ConfigDirName:       c.ConfigDirName,
		SyncUnderscoreItems: c.SyncUnderscoreItems,
		IgnorePaths:         c.IgnorePaths,
	}
}
