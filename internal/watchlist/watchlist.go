// Package watchlist loads the parties whose filings are mirrored. The file is
// YAML; in serve mode it is watched and reloaded on change.
package watchlist

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"mimic/internal/feed"
	"mimic/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Party is one watched filer. Aliases cover the other spellings the feed uses.
type Party struct {
	Name    string   `mapstructure:"name" yaml:"name"`
	Aliases []string `mapstructure:"aliases" yaml:"aliases"`
	Note    string   `mapstructure:"note" yaml:"note"`
}

// FileConfig maps the watch list file.
type FileConfig struct {
	Parties []Party `mapstructure:"parties" yaml:"parties"`
}

// Snapshot is an immutable view of the list.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Parties  []Party
	keys     map[string]string
}

// Watching reports whether party, after normalization, is on the list. An
// empty list watches everyone.
func (s Snapshot) Watching(party string) bool {
	if len(s.keys) == 0 {
		return true
	}
	_, ok := s.keys[feed.NormalizeParty(party)]
	return ok
}

// Canonical returns the configured name for party.
func (s Snapshot) Canonical(party string) (string, bool) {
	name, ok := s.keys[feed.NormalizeParty(party)]
	return name, ok
}

type ChangeListener func(Snapshot)

// Registry holds the current snapshot.
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// Load reads path once.
func Load(path string) (*Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("watch list requires path")
	}
	r := &Registry{path: path}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Watch reloads the list whenever the file changes. A broken edit keeps the
// previous snapshot.
func (r *Registry) Watch() error {
	v := viper.New()
	v.SetConfigFile(r.path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read watch list failed: %w", err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("watch list reload failed (%s): %v", evt.Op, err)
			return
		}
		r.notify()
	})
	v.WatchConfig()
	r.mu.Lock()
	r.v = v
	r.mu.Unlock()
	return nil
}

func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

func (r *Registry) Watching(party string) bool {
	return r.Snapshot().Watching(party)
}

func (r *Registry) reload() error {
	cfg, err := readFile(r.path)
	if err != nil {
		return err
	}
	parties, keys, err := build(cfg)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Parties:  parties,
		keys:     keys,
	}
	r.mu.Unlock()
	logger.Infof("watch list loaded %d parties from %s", len(parties), filepath.Base(r.path))
	return nil
}

func (r *Registry) notify() {
	r.mu.RLock()
	snap := r.snapshot
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

func build(cfg FileConfig) ([]Party, map[string]string, error) {
	keys := make(map[string]string)
	parties := make([]Party, 0, len(cfg.Parties))
	for i, p := range cfg.Parties {
		name := strings.Join(strings.Fields(p.Name), " ")
		if name == "" {
			return nil, nil, fmt.Errorf("watch list entry %d has no name", i+1)
		}
		p.Name = name
		for _, n := range append([]string{name}, p.Aliases...) {
			key := feed.NormalizeParty(n)
			if key == "" {
				continue
			}
			if other, dup := keys[key]; dup && other != name {
				return nil, nil, fmt.Errorf("watch list alias %q used by %q and %q", n, other, name)
			}
			keys[key] = name
		}
		parties = append(parties, p)
	}
	return parties, keys, nil
}

func readFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read watch list failed: %w", err)
	}
	var cfg FileConfig
	if len(bytes.TrimSpace(raw)) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse watch list failed: %w", err)
	}
	return cfg, nil
}
