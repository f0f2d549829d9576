package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// envPrefix scopes environment overrides, e.g. MIMIC_BROKER_API_KEY.
const envPrefix = "MIMIC"

// envKeys may be supplied through the environment instead of a config file.
var envKeys = []string{
	"feed.token",
	"broker.api_key",
	"broker.api_secret",
	"broker.base_url",
	"database.path",
}

// Load reads the YAML file at path together with every file it pulls in
// through include:, overlays MIMIC_* environment values, fills defaults for
// keys nobody set and validates the result.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config: path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	stack := &layerStack{loaded: make(map[string]bool)}
	if err := stack.push(abs); err != nil {
		return nil, err
	}
	v, err := stack.merge()
	if err != nil {
		return nil, err
	}
	if err := overlayEnv(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.applyDefaults(explicitKeys(v))
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// layer is one parsed config file.
type layer struct {
	path     string
	settings map[string]any
}

// layerStack orders config files for merging: a file's includes precede it,
// so the including file has the last word. A file reached twice is merged once.
type layerStack struct {
	layers []layer
	loaded map[string]bool
	chain  []string
}

func (s *layerStack) push(path string) error {
	path = filepath.Clean(path)
	if slices.Contains(s.chain, path) {
		return fmt.Errorf("config: include cycle detected: %s", strings.Join(append(s.chain, path), " -> "))
	}
	if s.loaded[path] {
		return nil
	}
	settings, err := readSettings(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	includes, err := includePaths(settings["include"])
	if err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	delete(settings, "include")

	s.chain = append(s.chain, path)
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := s.push(inc); err != nil {
			return err
		}
	}
	s.chain = s.chain[:len(s.chain)-1]

	s.loaded[path] = true
	s.layers = append(s.layers, layer{path: path, settings: settings})
	return nil
}

func (s *layerStack) merge() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	for _, l := range s.layers {
		if err := v.MergeConfigMap(l.settings); err != nil {
			return nil, fmt.Errorf("config: merge %s: %w", l.path, err)
		}
	}
	return v, nil
}

func readSettings(path string) (map[string]any, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return v.AllSettings(), nil
}

// includePaths accepts a single path or a list of paths.
func includePaths(raw any) ([]string, error) {
	var items []any
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case string:
		items = []any{val}
	case []any:
		items = val
	case []string:
		for _, s := range val {
			items = append(items, s)
		}
	default:
		return nil, fmt.Errorf("include must be a path or a list of paths, got %T", raw)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		p, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("include entries must be strings, got %T", item)
		}
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

func overlayEnv(v *viper.Viper) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("config: bind env for %s: %w", key, err)
		}
	}
	return nil
}

// explicitKeys lists the leaves a file or the environment actually set, so a
// default never replaces an explicit zero.
func explicitKeys(v *viper.Viper) keySet {
	keys := make(keySet)
	for _, k := range v.AllKeys() {
		if v.IsSet(k) {
			keys.mark(k)
		}
	}
	return keys
}
