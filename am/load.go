package am

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var globalConfig *Config
var viperInstance *viper.Viper

// ProjectConfigName is the file searched for from the working directory upward
const ProjectConfigName = "pulseq.toml"

// Load reads the pulseq configuration using Viper.
// The result is cached; call Reset to force a reload.
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	config, err := LoadWithViper(v)
	if err != nil {
		return nil, err
	}

	globalConfig = config
	return globalConfig, nil
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyEnvOverrides(&config)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path.
// Environment variables still take precedence over the file.
func LoadFromFile(configPath string) (*Config, error) {
	v := newViper()

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}
	resetSources()
	fileViper := viper.New()
	fileViper.SetConfigFile(configPath)
	fileViper.SetConfigType("toml")
	if err := fileViper.ReadInConfig(); err == nil {
		// v.AllSettings includes defaults; only keys set in the file count
		trackSources(fileViper.AllSettings(), "", SourceInfo{Source: SourceFile, Path: configPath})
	}
	loadedFiles = []string{configPath}

	config, err := LoadWithViper(v)
	if err != nil {
		return nil, fmt.Errorf("invalid config in %s: %w", configPath, err)
	}

	globalConfig = config
	viperInstance = v
	return config, nil
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viperInstance = nil
	resetSources()
}

// newViper returns a Viper with defaults and environment binding
func newViper() *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix("PULSEQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	BindSensitiveEnvVars(v)
	SetDefaults(v)
	return v
}

// initViper initializes Viper with configuration sources and defaults
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := newViper()
	resetSources()
	mergeConfigFiles(v)

	viperInstance = v
	return v
}

// applyEnvOverrides handles overrides that do not follow the PULSEQ_ prefix
func applyEnvOverrides(c *Config) {
	// DB_PATH wins over every file for local development
	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		c.Database.Path = dbPath
	}
}

// findProjectConfig walks up from the working directory looking for pulseq.toml
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		candidate := filepath.Join(dir, ProjectConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// mergeConfigFiles merges configuration files in precedence order.
// Precedence (lowest to highest): system < user < project < env vars
func mergeConfigFiles(v *viper.Viper) {
	type candidate struct {
		path   string
		source ConfigSource
	}
	candidates := []candidate{{"/etc/pulseq/config.toml", SourceSystem}}

	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, candidate{filepath.Join(homeDir, ".pulseq", "config.toml"), SourceUser})
	}
	if projectConfig := findProjectConfig(); projectConfig != "" {
		candidates = append(candidates, candidate{projectConfig, SourceProject})
	}

	for _, c := range candidates {
		if _, err := os.Stat(c.path); err != nil {
			continue
		}

		fileViper := viper.New()
		fileViper.SetConfigFile(c.path)
		fileViper.SetConfigType("toml")
		if err := fileViper.ReadInConfig(); err != nil {
			continue
		}

		// MergeConfigMap keeps env vars above file values
		_ = v.MergeConfigMap(fileViper.AllSettings())
		trackSources(fileViper.AllSettings(), "", SourceInfo{Source: c.source, Path: c.path})
		loadedFiles = append(loadedFiles, c.path)
	}
}
