package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/sploot/media-clustering/errors"
)

var globalSettings *Settings
var viperInstance *viper.Viper

// Load reads the service configuration using Viper.
// Precedence: defaults < config file < SPLOOT_* environment variables.
func Load() (*Settings, error) {
	if globalSettings != nil {
		return globalSettings, nil
	}

	v := initViper()

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	globalSettings = &settings
	return globalSettings, nil
}

// LoadFromFile loads configuration from a specific file path.
// Used by the CLI when --config is passed.
func LoadFromFile(configPath string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	SetDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", configPath)
	}

	return &settings, nil
}

// Reset clears the cached configuration (useful for testing).
func Reset() {
	globalSettings = nil
	viperInstance = nil
}

func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()
	bindEnv(v)
	SetDefaults(v)

	// Optional config file next to the working directory. Missing file is
	// fine; env vars and defaults carry local development.
	v.SetConfigName("sploot-media")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/sploot-media")
	_ = v.ReadInConfig()

	viperInstance = v
	return v
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("SPLOOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}
