package am

import (
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/teranos/pulseq/errors"
)

// ConfigSource represents where a configuration value came from
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceSystem      ConfigSource = "system"      // /etc/pulseq/config.toml
	SourceUser        ConfigSource = "user"        // ~/.pulseq/config.toml
	SourceProject     ConfigSource = "project"     // nearest pulseq.toml
	SourceFile        ConfigSource = "file"        // --config path
	SourceEnvironment ConfigSource = "environment" // PULSEQ_*, DB_PATH, DATABASE_URL, RABBITMQ_URL
)

// SourceInfo tracks where a configuration value originated
type SourceInfo struct {
	Source ConfigSource // The type of config source (default, system, user, etc.)
	Path   string       // File path or environment variable name
}

// SettingInfo contains metadata about a configuration setting
type SettingInfo struct {
	Key        string       `json:"key"`
	Value      interface{}  `json:"value"`
	Source     ConfigSource `json:"source"`
	SourcePath string       `json:"source_path,omitempty"` // File path or env var name
}

// ConfigIntrospection provides metadata about the active configuration
type ConfigIntrospection struct {
	Files    []string      `json:"files"`    // Config files merged, lowest precedence first
	Settings []SettingInfo `json:"settings"` // All settings with sources
}

var (
	sourcesMu   sync.Mutex
	sources     = map[string]SourceInfo{}
	loadedFiles []string
)

func resetSources() {
	sourcesMu.Lock()
	defer sourcesMu.Unlock()
	sources = map[string]SourceInfo{}
	loadedFiles = nil
}

// trackSources records info for every leaf key in settings. Later calls win,
// matching merge order.
func trackSources(settings map[string]interface{}, prefix string, info SourceInfo) {
	sourcesMu.Lock()
	defer sourcesMu.Unlock()
	trackSourcesLocked(settings, prefix, info)
}

func trackSourcesLocked(settings map[string]interface{}, prefix string, info SourceInfo) {
	for key, value := range settings {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			trackSourcesLocked(nested, fullKey, info)
			continue
		}
		sources[fullKey] = info
	}
}

// GetViper returns the Viper instance behind the loaded configuration
func GetViper() *viper.Viper {
	return initViper()
}

// GetConfigIntrospection returns every effective setting with the source
// that supplied it.
func GetConfigIntrospection() (*ConfigIntrospection, error) {
	if _, err := Load(); err != nil {
		return nil, errors.Wrap(err, "failed to load config for introspection")
	}
	v := GetViper()

	sourcesMu.Lock()
	defer sourcesMu.Unlock()

	introspection := &ConfigIntrospection{
		Files:    append([]string(nil), loadedFiles...),
		Settings: make([]SettingInfo, 0),
	}
	flattenSettingsWithSources(v.AllSettings(), "", introspection, sources)
	return introspection, nil
}

// flattenSettingsWithSources flattens settings and assigns sources from sourceMap
func flattenSettingsWithSources(settings map[string]interface{}, prefix string, introspection *ConfigIntrospection, sourceMap map[string]SourceInfo) {
	// Sort keys for deterministic iteration
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := settings[key]
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}

		if nestedMap, ok := value.(map[string]interface{}); ok {
			flattenSettingsWithSources(nestedMap, fullKey, introspection, sourceMap)
			continue
		}

		sourceInfo := SourceInfo{Source: SourceDefault, Path: "built-in default"}
		if si, ok := sourceMap[fullKey]; ok {
			sourceInfo = si
		}

		if envKey := envOverride(fullKey); envKey != "" {
			sourceInfo = SourceInfo{Source: SourceEnvironment, Path: envKey}
		}

		introspection.Settings = append(introspection.Settings, SettingInfo{
			Key:        fullKey,
			Value:      value,
			Source:     sourceInfo.Source,
			SourcePath: sourceInfo.Path,
		})
	}
}

// envOverride returns the environment variable that sets key, if any
func envOverride(key string) string {
	if key == "database.path" && os.Getenv("DB_PATH") != "" {
		return "DB_PATH"
	}
	envKey := "PULSEQ_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	if os.Getenv(envKey) != "" {
		return envKey
	}
	if key == "database.url" && os.Getenv("DATABASE_URL") != "" {
		return "DATABASE_URL"
	}
	if key == "events.amqp_url" && os.Getenv("RABBITMQ_URL") != "" {
		return "RABBITMQ_URL"
	}
	return ""
}

// LoadedFiles returns the config files merged by the last load, lowest
// precedence first.
func LoadedFiles() []string {
	sourcesMu.Lock()
	defer sourcesMu.Unlock()
	return append([]string(nil), loadedFiles...)
}
