package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// LoadWithSecrets loads configuration the way Load does, layering an
// optional secrets file between the main config file and the
// environment. Precedence: ENV > secrets file > config file > defaults.
//
// Discovery order for the secrets file:
//  1. <ENV_PREFIX>_SECRETS_FILE, when set (must name a readable file);
//  2. secrets.<ext> next to the main config file;
//  3. secrets.yaml / secrets.yml / secrets.json / secrets.toml in the
//     working directory.
//
// The second return value holds only the values that came from the
// secrets file, so callers can mask exactly those when rendering the
// merged configuration.
func (l *ViperLoader) LoadWithSecrets() (*Config, *Config, error) {
	v := viper.New()
	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	secrets, err := l.mergeSecretsLayer(v)
	if err != nil {
		return nil, nil, err
	}

	v.SetEnvPrefix(l.envPrefix)
	l.bindLegacyEnvVars()
	l.bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := l.Validate(&cfg); err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, secrets, nil
}

// mergeSecretsLayer merges the discovered secrets file into v and
// returns the typed secrets on their own. A missing file is not an
// error; a file named by <ENV_PREFIX>_SECRETS_FILE that cannot be used
// is.
func (l *ViperLoader) mergeSecretsLayer(v *viper.Viper) (*Config, error) {
	path, err := l.secretsFilePath()
	if err != nil || path == "" {
		return nil, err
	}

	sv := viper.New()
	sv.SetConfigFile(path)
	if err := sv.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read secrets file %s: %w", path, err)
	}

	var secrets Config
	if err := sv.Unmarshal(&secrets); err != nil {
		return nil, fmt.Errorf("failed to unmarshal secrets file %s: %w", path, err)
	}
	if err := v.MergeConfigMap(sv.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to merge secrets: %w", err)
	}
	return &secrets, nil
}

// secretsFilePath resolves which secrets file to load, if any. An
// explicit env override wins and is checked strictly; the fallback
// candidates are probed in order and skipped silently when absent.
func (l *ViperLoader) secretsFilePath() (string, error) {
	envName := l.prefixedEnv("SECRETS_FILE")
	if raw, ok := os.LookupEnv(envName); ok {
		path := strings.TrimSpace(raw)
		if path == "" {
			return "", fmt.Errorf("%s is set but empty", envName)
		}
		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("%s points to an inaccessible file %s: %w", envName, path, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("%s must point to a file, got directory %s", envName, path)
		}
		return path, nil
	}

	var candidates []string
	if l.configFile != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(l.configFile), "secrets"+filepath.Ext(l.configFile)))
	}
	for _, ext := range []string{".yaml", ".yml", ".json", ".toml"} {
		candidates = append(candidates, "secrets"+ext)
	}
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", nil
}
