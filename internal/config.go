package internal

import (
	"fmt"
	"log/slog"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/obsidian2bookstack/internal/bookstack"
	"github.com/starford/obsidian2bookstack/internal/engine"
	"github.com/starford/obsidian2bookstack/internal/hierarchy"
)

// Fold policies accepted by mapping.fold.
const (
	FoldPrefix  = string(hierarchy.FoldPrefix)
	FoldFlatten = string(hierarchy.FoldFlatten)
)

var httpURL = regexp.MustCompile(`^https?://[^\s/]+`)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app" toml:"app"`
	Vault     VaultConfig       `yaml:"vault" toml:"vault"`
	BookStack BookStackConfig   `yaml:"bookstack" toml:"bookstack"`
	Mapping   MappingConfig     `yaml:"mapping" toml:"mapping"`
	Sync      SyncConfig        `yaml:"sync" toml:"sync"`
	Ledger    LedgerConfig      `yaml:"ledger" toml:"ledger"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Vault.Validate(); err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	if err := c.BookStack.Validate(); err != nil {
		return fmt.Errorf("bookstack: %w", err)
	}
	if err := c.Mapping.Validate(); err != nil {
		return fmt.Errorf("mapping: %w", err)
	}
	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := c.Ledger.Validate(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level" toml:"log_level"`
	// LogFile, when set, receives the logs instead of stderr and is rotated.
	LogFile string `yaml:"log_file" toml:"log_file"`
}

// VaultConfig holds the vault location and scan filters.
type VaultConfig struct {
	Path           string   `yaml:"path" toml:"path"`
	Ignore         []string `yaml:"ignore" toml:"ignore"`
	ExcludeShelves []string `yaml:"exclude_shelves" toml:"exclude_shelves"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// BookStackConfig holds the wiki endpoint, credentials and client limits.
type BookStackConfig struct {
	URL           string        `yaml:"url" toml:"url"`
	TokenID       string        `yaml:"token_id" toml:"token_id"`
	TokenSecret   string        `yaml:"token_secret" toml:"token_secret"`
	RatePerSecond float64       `yaml:"rate_per_second" toml:"rate_per_second"`
	Burst         int           `yaml:"burst" toml:"burst"`
	MaxAttempts   int           `yaml:"max_attempts" toml:"max_attempts"`
	Timeout       time.Duration `yaml:"timeout" toml:"timeout"`
	PageSize      int           `yaml:"page_size" toml:"page_size"`
}

// Validate validates the BookStack configuration.
func (c *BookStackConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.Required, validation.Match(httpURL).Error("must be an http(s) URL")),
		validation.Field(&c.TokenID, validation.Required),
		validation.Field(&c.TokenSecret, validation.Required),
		validation.Field(&c.RatePerSecond, validation.Min(0.0)),
		validation.Field(&c.Burst, validation.Min(0)),
		validation.Field(&c.MaxAttempts, validation.Required, validation.Min(1), validation.Max(20)),
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.PageSize, validation.Required, validation.Min(1), validation.Max(500)),
	)
}

// LogValue keeps the token out of the logs.
func (c BookStackConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("url", c.URL),
		slog.Bool("token_set", c.TokenID != "" && c.TokenSecret != ""),
		slog.Float64("rate_per_second", c.RatePerSecond),
		slog.Int("max_attempts", c.MaxAttempts),
		slog.Duration("timeout", c.Timeout),
	)
}

// Client converts the configuration into client settings.
func (c *BookStackConfig) Client(logger *slog.Logger) bookstack.Config {
	return bookstack.Config{
		BaseURL:       c.URL,
		TokenID:       c.TokenID,
		TokenSecret:   c.TokenSecret,
		RatePerSecond: c.RatePerSecond,
		Burst:         c.Burst,
		MaxAttempts:   c.MaxAttempts,
		Timeout:       c.Timeout,
		PageSize:      c.PageSize,
		Logger:        logger,
	}
}

// MappingConfig controls how folders become shelves, books and chapters.
type MappingConfig struct {
	DefaultBook string `yaml:"default_book" toml:"default_book"`
	Fold        string `yaml:"fold" toml:"fold"`
}

// Validate validates the mapping configuration.
func (c *MappingConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DefaultBook, validation.Required),
		validation.Field(&c.Fold, validation.Required, validation.In(FoldPrefix, FoldFlatten)),
	)
}

// SyncConfig holds the engine limits.
type SyncConfig struct {
	Workers      int           `yaml:"workers" toml:"workers"`
	DrainTimeout time.Duration `yaml:"drain_timeout" toml:"drain_timeout"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Workers, validation.Required, validation.Min(1), validation.Max(64)),
		validation.Field(&c.DrainTimeout, validation.Min(time.Duration(0))),
	)
}

// LedgerConfig holds the run ledger database location.
type LedgerConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// Validate validates the ledger configuration.
func (c *LedgerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// Engine converts the configuration into engine settings.
func (c *Config) Engine() engine.Config {
	return engine.Config{
		Ignore: c.Vault.Ignore,
		Mapping: hierarchy.Options{
			DefaultBook:    c.Mapping.DefaultBook,
			Fold:           hierarchy.FoldPolicy(c.Mapping.Fold),
			ExcludeShelves: c.Vault.ExcludeShelves,
		},
		Workers:      c.Sync.Workers,
		DrainTimeout: c.Sync.DrainTimeout,
	}
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
		},
		Vault: VaultConfig{
			Path:   "./vault",
			Ignore: []string{".obsidian", ".trash", ".git"},
		},
		BookStack: BookStackConfig{
			RatePerSecond: 2,
			Burst:         4,
			MaxAttempts:   5,
			Timeout:       30 * time.Second,
			PageSize:      100,
		},
		Mapping: MappingConfig{
			DefaultBook: "Vault",
			Fold:        FoldPrefix,
		},
		Sync: SyncConfig{
			Workers:      4,
			DrainTimeout: 30 * time.Second,
		},
		Ledger: LedgerConfig{
			Path: "./obsidian2bookstack.db",
		},
	}
}
