package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/poiesic/embedvector/core"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "EMBEDVECTOR_"

// Load builds the configuration from defaults, the YAML file at path and the
// environment, in increasing precedence. An empty path skips the file; a
// path that does not exist is an error.
//
// Environment variables map onto keys by splitting on the first underscore
// after the prefix:
//
//	EMBEDVECTOR_BATCH_LOT_SIZE   -> batch.lot_size
//	EMBEDVECTOR_PROVIDER_API_KEY -> provider.api_key
//
// OPENAI_API_KEY is used when no API key is configured otherwise.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, core.FileOperationFailed("stat config", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: failed to load config file %s: %w", core.ErrConfiguration, path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal config: %w", core.ErrConfiguration, err)
	}
	if cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps EMBEDVECTOR_SECTION_FIELD_NAME to section.field_name.
// Variables without a field part are ignored.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok || field == "" {
		return ""
	}
	return section + "." + field
}

// IsMissingFile reports whether err came from a config path that does not exist.
func IsMissingFile(err error) bool {
	return errors.Is(err, core.ErrFileOperationFailed) && errors.Is(err, os.ErrNotExist)
}
