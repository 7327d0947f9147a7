package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/matzehuels/eqrender/pkg/errors"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "EQRENDER_"

// FileNames are the config file names searched in the working directory,
// in order.
var FileNames = []string{"eqrender.yaml", "eqrender.yml", "eqrender.toml"}

// flagKeys maps flag names that do not follow the kebab → snake rule.
var flagKeys = map[string]string{
	"addr":       "serve.addr",
	"rate-limit": "serve.rate_limit",
	"max-body":   "serve.max_body",
}

// Load loads configuration from defaults, the config file, environment
// variables and flags. cfgFile may be empty, in which case FileNames are
// searched in the working directory (--workdir or EQRENDER_WORKDIR).
// Only flags that were explicitly set override earlier layers.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	path := findConfigFile(cfgFile, workdirHint(flags))
	if path != "" {
		if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
			if os.IsNotExist(err) {
				return nil, errors.Wrap(errors.ErrCodeFileNotFound, err, "config file %s not found", path)
			}
			return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "error reading config file %s", path)
		}
	}

	// 3. Environment: EQRENDER_TEMPLATES_DIR -> templates_dir,
	// EQRENDER_SERVE__ADDR -> serve.addr
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, interface{}) {
		key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
		key = strings.ReplaceAll(key, "__", ".")
		if key == "latex_args" {
			return key, strings.Fields(value)
		}
		return key, value
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags, highest priority
	if flags != nil {
		known := defaults()
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			if _, ok := known[key]; !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	cfg, err := decode(k)
	if err != nil {
		return nil, err
	}
	cfg.ConfigFile = path
	return cfg, nil
}

func decode(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "unable to decode config")
	}
	return &cfg, nil
}

// findConfigFile returns the explicit path, or the first of FileNames that
// exists in dir.
func findConfigFile(explicit, dir string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range FileNames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func workdirHint(flags *pflag.FlagSet) string {
	if flags != nil && flags.Changed("workdir") {
		if v, err := flags.GetString("workdir"); err == nil && v != "" {
			return v
		}
	}
	if v := os.Getenv(EnvPrefix + "WORKDIR"); v != "" {
		return v
	}
	return DefaultWorkdir
}

func parserFor(path string) koanf.Parser {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return TOMLParser()
	}
	return yaml.Parser()
}
