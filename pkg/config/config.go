/*
Package config manages the TOML config of the popcomplete helper.
*/
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/bastiangx/popcomplete/internal/utils"
	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
)

// Auto trigger modes.
const (
	AutoTriggerAlways  = "always"
	AutoTriggerNone    = "none"
	AutoTriggerTrigger = "trigger"
)

// Config holds the entire config structure
type Config struct {
	Complete CompleteConfig `toml:"complete"`
	Sources  SourcesConfig  `toml:"sources"`
}

// CompleteConfig holds the session options.
type CompleteConfig struct {
	AutoTrigger             string `toml:"auto_trigger"`
	MinTriggerInputLength   int    `toml:"min_trigger_input_length"`
	KeepCompleteOpt         bool   `toml:"keep_completeopt"`
	AcceptOnCommitCharacter bool   `toml:"accept_on_commit_character"`
	EnablePreview           bool   `toml:"enable_preview"`
	MaxPreviewWidth         int    `toml:"max_preview_width"`
	TriggerAfterInsertEnter bool   `toml:"trigger_after_insert_enter"`
	NoSelectFirst           bool   `toml:"no_select_first"`
	NumberSelect            bool   `toml:"number_select"`
	MaxItems                int    `toml:"max_items"`
	TimeoutMs               int    `toml:"timeout_ms"`
	SnippetIndicator        string `toml:"snippet_indicator"`
	LabelMaxLength          int    `toml:"label_max_length"`
	LocalityBonus           bool   `toml:"locality_bonus"`
	IncompleteSettleMs      int    `toml:"incomplete_settle_ms"`
	AcceptSettleMs          int    `toml:"accept_settle_ms"`
	PreviewSettleMs         int    `toml:"preview_settle_ms"`
}

// SourcesConfig holds provider options.
type SourcesConfig struct {
	Disabled           []string          `toml:"disabled"`
	DictionaryDir      string            `toml:"dictionary_dir"`
	DictionaryPageSize int               `toml:"dictionary_page_size"`
	AroundPriority     int               `toml:"around_priority"`
	DictionaryPriority int               `toml:"dictionary_priority"`
	WordChars          map[string]string `toml:"word_chars"`
}

func (c CompleteConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c CompleteConfig) IncompleteSettle() time.Duration {
	return time.Duration(c.IncompleteSettleMs) * time.Millisecond
}

func (c CompleteConfig) AcceptSettle() time.Duration {
	return time.Duration(c.AcceptSettleMs) * time.Millisecond
}

func (c CompleteConfig) PreviewSettle() time.Duration {
	return time.Duration(c.PreviewSettleMs) * time.Millisecond
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Complete: CompleteConfig{
			AutoTrigger:             AutoTriggerAlways,
			MinTriggerInputLength:   1,
			KeepCompleteOpt:         false,
			AcceptOnCommitCharacter: false,
			EnablePreview:           false,
			MaxPreviewWidth:         50,
			TriggerAfterInsertEnter: false,
			NoSelectFirst:           true,
			NumberSelect:            false,
			MaxItems:                50,
			TimeoutMs:               500,
			SnippetIndicator:        "~",
			LabelMaxLength:          200,
			LocalityBonus:           true,
			IncompleteSettleMs:      20,
			AcceptSettleMs:          50,
			PreviewSettleMs:         10,
		},
		Sources: SourcesConfig{
			Disabled:           []string{},
			DictionaryDir:      "",
			DictionaryPageSize: 200,
			AroundPriority:     1,
			DictionaryPriority: 5,
			WordChars:          map[string]string{"css": "-"},
		},
	}
}

// Validate rejects values the controller cannot work with.
func (c *Config) Validate() error {
	switch c.Complete.AutoTrigger {
	case AutoTriggerAlways, AutoTriggerNone, AutoTriggerTrigger:
	default:
		return errors.WithHint(
			errors.Newf("invalid auto_trigger %q", c.Complete.AutoTrigger),
			"use one of always, none, trigger")
	}
	if c.Complete.MaxItems <= 0 {
		return errors.WithHint(errors.Newf("invalid max_items %d", c.Complete.MaxItems), "max_items must be positive")
	}
	if c.Complete.MinTriggerInputLength < 0 {
		return errors.Newf("invalid min_trigger_input_length %d", c.Complete.MinTriggerInputLength)
	}
	return nil
}

// GetDefaultConfigPath returns the default path for config.toml
func GetDefaultConfigPath() (string, error) {
	pr, err := utils.NewPathResolver()
	if err != nil {
		return "", err
	}
	return pr.ConfigPath("config.toml"), nil
}

// LoadConfigWithPriority loads config with priority:
// 1. Custom path from --config flag
// 2. Default path: [UserConfigDir]/popcomplete/config.toml
// 3. Builtin defaults
func LoadConfigWithPriority(customConfigPath string) (*Config, string, error) {
	if customConfigPath != "" {
		if _, statErr := os.Stat(customConfigPath); statErr == nil {
			config, err := LoadConfig(customConfigPath)
			if err != nil {
				log.Warnf("Failed to load custom config from %s: %v. Trying default path...", customConfigPath, err)
			} else {
				log.Debugf("Loaded config from custom path: %s", customConfigPath)
				return config, customConfigPath, nil
			}
		} else {
			log.Warnf("Custom config file not found at %s: %v. Trying default path...", customConfigPath, statErr)
		}
	}
	defaultPath, err := GetDefaultConfigPath()
	if err != nil {
		log.Warnf("Failed to determine default config path: %v. Using built-in defaults...", err)
		return DefaultConfig(), "", nil
	}

	config, err := InitConfig(defaultPath)
	if err != nil {
		log.Warnf("Failed to load/create config at default path %s: %v. Using builtin defaults...", defaultPath, err)
		return DefaultConfig(), "", nil
	}
	log.Debugf("Loaded config from default path: %s", defaultPath)
	return config, defaultPath, nil
}

// InitConfig loads config from file or creates default if missing
func InitConfig(configPath string) (*Config, error) {
	configDir := filepath.Dir(configPath)
	if err := utils.EnsureDir(configDir); err != nil {
		log.Warnf("Failed to create config directory %s: %v. Using built-in defaults...", configDir, err)
		return DefaultConfig(), nil
	}

	if utils.Missing(configPath) {
		config := DefaultConfig()
		if err := SaveConfig(config, configPath); err != nil {
			log.Warnf("Failed to create default config file at %s: %v. Using built-in defaults...", configPath, err)
			return DefaultConfig(), nil
		}
		log.Debugf("Created default config file at: %s", configPath)
		return config, nil
	}
	return LoadConfig(configPath)
}

// LoadConfig loads from a TOML file. A file that does not parse as a whole
// is recovered section by section; invalid values are an error.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()
	if err := utils.LoadTOMLFile(configPath, config); err != nil {
		config = tryPartialParse(configPath)
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config %s", configPath)
	}
	return config, nil
}

// tryPartialParse keeps every value that can be read with the right type and
// defaults the rest.
func tryPartialParse(configPath string) *Config {
	config := DefaultConfig()

	tempConfig, err := utils.ParseTOMLWithRecovery(configPath)
	if err != nil {
		log.Warnf("Could not parse any valid configuration from %s: %v. Using all defaults.", configPath, err)
		return config
	}
	if section, ok := utils.ExtractSection(tempConfig, "complete"); ok {
		extractCompleteConfig(section, &config.Complete)
	}
	if section, ok := utils.ExtractSection(tempConfig, "sources"); ok {
		extractSourcesConfig(section, &config.Sources)
	}
	return config
}

func extractCompleteConfig(data map[string]any, c *CompleteConfig) {
	if val, ok := utils.ExtractString(data, "auto_trigger"); ok {
		c.AutoTrigger = val
	}
	if val, ok := utils.ExtractString(data, "snippet_indicator"); ok {
		c.SnippetIndicator = val
	}
	ints := map[string]*int{
		"min_trigger_input_length": &c.MinTriggerInputLength,
		"max_preview_width":        &c.MaxPreviewWidth,
		"max_items":                &c.MaxItems,
		"timeout_ms":               &c.TimeoutMs,
		"label_max_length":         &c.LabelMaxLength,
		"incomplete_settle_ms":     &c.IncompleteSettleMs,
		"accept_settle_ms":         &c.AcceptSettleMs,
		"preview_settle_ms":        &c.PreviewSettleMs,
	}
	for key, dst := range ints {
		if val, ok := utils.ExtractInt64(data, key); ok {
			*dst = val
		}
	}
	bools := map[string]*bool{
		"keep_completeopt":           &c.KeepCompleteOpt,
		"accept_on_commit_character": &c.AcceptOnCommitCharacter,
		"enable_preview":             &c.EnablePreview,
		"trigger_after_insert_enter": &c.TriggerAfterInsertEnter,
		"no_select_first":            &c.NoSelectFirst,
		"number_select":              &c.NumberSelect,
		"locality_bonus":             &c.LocalityBonus,
	}
	for key, dst := range bools {
		if val, ok := utils.ExtractBool(data, key); ok {
			*dst = val
		}
	}
}

func extractSourcesConfig(data map[string]any, s *SourcesConfig) {
	if val, ok := utils.ExtractStrings(data, "disabled"); ok {
		s.Disabled = val
	}
	if val, ok := utils.ExtractString(data, "dictionary_dir"); ok {
		s.DictionaryDir = val
	}
	if val, ok := utils.ExtractInt64(data, "dictionary_page_size"); ok {
		s.DictionaryPageSize = val
	}
	if val, ok := utils.ExtractInt64(data, "around_priority"); ok {
		s.AroundPriority = val
	}
	if val, ok := utils.ExtractInt64(data, "dictionary_priority"); ok {
		s.DictionaryPriority = val
	}
	if val, ok := utils.ExtractStringMap(data, "word_chars"); ok {
		s.WordChars = val
	}
}

// SaveConfig saves into a TOML file
func SaveConfig(config *Config, configPath string) error {
	return utils.WriteTOML(configPath, config)
}

// GetActiveConfigPath returns the absolute path of loaded config file
func GetActiveConfigPath(configPath string) string {
	if configPath == "" {
		if defaultPath, err := GetDefaultConfigPath(); err == nil {
			return defaultPath
		}
		return "unknown"
	}
	return utils.AbsPath(configPath)
}
