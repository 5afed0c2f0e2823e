package internal

import (
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/deepnote/internal/research"
	"github.com/starford/deepnote/internal/vault"
)

// PlaceholderAPIKey is the value shipped in the example .env file.
const PlaceholderAPIKey = "your_openai_api_key_here"

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Vault    VaultConfig       `yaml:"vault"`
	Queue    QueueConfig       `yaml:"queue"`
	SQLite   SQLiteConfig      `yaml:"sqlite"`
	OpenAI   OpenAIConfig      `yaml:"openai"`
	Pipeline PipelineConfig    `yaml:"pipeline"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.Queue.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.OpenAI.Validate(); err != nil {
		return err
	}
	return c.Pipeline.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
}

// VaultConfig holds the path to the Markdown vault directory.
type VaultConfig struct {
	Path string `yaml:"path"`
	// Template is the vault-relative note template, never indexed.
	Template string `yaml:"template"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// QueueConfig holds the path of the research queue file.
type QueueConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the queue configuration.
func (c *QueueConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// OpenAIConfig configures the research and classifier models.
//
// APIKey may stay empty for commands that never call the API
// (queue --list, --clear, --check).
type OpenAIConfig struct {
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	ResearchModel   string        `yaml:"research_model"`
	ClassifierModel string        `yaml:"classifier_model"`
	Timeout         time.Duration `yaml:"timeout"`
}

// Validate validates the OpenAI configuration.
func (c *OpenAIConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.ResearchModel, validation.Required),
		validation.Field(&c.ClassifierModel, validation.Required),
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Second)),
	)
}

// CheckAPIKey reports whether a usable key is configured.
func (c *OpenAIConfig) CheckAPIKey() error {
	switch c.APIKey {
	case "":
		return errors.New("openai: api key is not set (OPENAI_API_KEY)")
	case PlaceholderAPIKey:
		return errors.New("openai: api key is still the placeholder value")
	}
	return nil
}

// Research returns the collaborator settings.
func (c *OpenAIConfig) Research() research.Config {
	return research.Config{
		APIKey:          c.APIKey,
		BaseURL:         c.BaseURL,
		ResearchModel:   c.ResearchModel,
		ClassifierModel: c.ClassifierModel,
		Timeout:         c.Timeout,
	}
}

// PipelineConfig holds research pipeline settings.
type PipelineConfig struct {
	CollisionPolicy string `yaml:"collision_policy"`
}

// Validate validates the pipeline configuration.
func (c *PipelineConfig) Validate() error {
	if c.CollisionPolicy == "" {
		c.CollisionPolicy = string(vault.PolicySkip)
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.CollisionPolicy, validation.In(
			string(vault.PolicySkip), string(vault.PolicyOverwrite), string(vault.PolicyVersion),
		)),
	)
}

// Policy returns the parsed collision policy.
func (c *PipelineConfig) Policy() vault.Policy {
	p, err := vault.ParsePolicy(c.CollisionPolicy)
	if err != nil {
		return vault.PolicySkip
	}
	return p
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelWarn,
		},
		Vault: VaultConfig{
			Path:     "./vault",
			Template: vault.DefaultTemplateName,
		},
		Queue: QueueConfig{
			Path: "./queue.txt",
		},
		SQLite: SQLiteConfig{
			Path: filepath.Join(".", "deepnote.db"),
		},
		OpenAI: OpenAIConfig{
			BaseURL:         research.DefaultBaseURL,
			ResearchModel:   research.DefaultResearchModel,
			ClassifierModel: research.DefaultClassifierModel,
			Timeout:         research.DefaultTimeout,
		},
		Pipeline: PipelineConfig{
			CollisionPolicy: string(vault.PolicySkip),
		},
	}
}
