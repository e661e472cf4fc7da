package toolhost

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/shlex"
	"github.com/oklog/ulid/v2"

	kokoroErrors "github.com/harunnryd/kokoro/internal/errors"
	"github.com/harunnryd/kokoro/internal/store"
)

const registrySettingKey = "toolhost.registry"

// HostConfig describes one external tool-host program.
type HostConfig struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Command         string            `json:"command"`
	Args            []string          `json:"args,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
	Enabled         bool              `json:"enabled"`
	TriggerKeywords []string          `json:"trigger_keywords,omitempty"`
	Description     string            `json:"description,omitempty"`
}

// Registry persists the tool-host configuration set as a single settings
// value. Host names are unique.
type Registry struct {
	store *store.Store
}

func NewRegistry(s *store.Store) *Registry {
	return &Registry{store: s}
}

// Add registers a host. A command carrying arguments inline is split with
// shell-style quoting.
func (r *Registry) Add(cfg HostConfig) (*HostConfig, error) {
	if cfg.Name == "" {
		return nil, kokoroErrors.InvalidInput("tool host name is required")
	}
	if cfg.Command == "" {
		return nil, kokoroErrors.InvalidInput("tool host command is required")
	}

	if len(cfg.Args) == 0 && strings.ContainsAny(cfg.Command, " \t") {
		parts, err := shlex.Split(cfg.Command)
		if err != nil {
			return nil, kokoroErrors.InvalidInput(fmt.Sprintf("unparseable command: %v", err))
		}
		cfg.Command = parts[0]
		cfg.Args = parts[1:]
	}

	configs, err := r.List()
	if err != nil {
		return nil, err
	}
	for _, existing := range configs {
		if existing.Name == cfg.Name {
			return nil, kokoroErrors.InvalidInput(fmt.Sprintf("tool host %q already registered", cfg.Name))
		}
	}

	if cfg.ID == "" {
		cfg.ID = ulid.Make().String()
	}
	configs = append(configs, cfg)
	if err := r.save(configs); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Update replaces the stored config with the same id.
func (r *Registry) Update(cfg HostConfig) error {
	configs, err := r.List()
	if err != nil {
		return err
	}
	for i, existing := range configs {
		if existing.ID == cfg.ID {
			for j, other := range configs {
				if j != i && other.Name == cfg.Name {
					return kokoroErrors.InvalidInput(fmt.Sprintf("tool host %q already registered", cfg.Name))
				}
			}
			configs[i] = cfg
			return r.save(configs)
		}
	}
	return kokoroErrors.NotFound("tool host " + cfg.ID)
}

// Remove deletes the config with the given id.
func (r *Registry) Remove(id string) error {
	configs, err := r.List()
	if err != nil {
		return err
	}
	for i, existing := range configs {
		if existing.ID == id {
			configs = append(configs[:i], configs[i+1:]...)
			return r.save(configs)
		}
	}
	return kokoroErrors.NotFound("tool host " + id)
}

// List returns every stored config.
func (r *Registry) List() ([]HostConfig, error) {
	raw, err := r.store.GetSetting(registrySettingKey)
	if err != nil {
		if errors.Is(err, kokoroErrors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var configs []HostConfig
	if err := json.Unmarshal([]byte(raw), &configs); err != nil {
		return nil, kokoroErrors.Wrap(err, "decode tool host registry")
	}
	return configs, nil
}

// Get returns the config with the given id.
func (r *Registry) Get(id string) (*HostConfig, error) {
	configs, err := r.List()
	if err != nil {
		return nil, err
	}
	for _, cfg := range configs {
		if cfg.ID == id {
			return &cfg, nil
		}
	}
	return nil, kokoroErrors.NotFound("tool host " + id)
}

// GetByName returns the config with the given name.
func (r *Registry) GetByName(name string) (*HostConfig, error) {
	configs, err := r.List()
	if err != nil {
		return nil, err
	}
	for _, cfg := range configs {
		if cfg.Name == name {
			return &cfg, nil
		}
	}
	return nil, kokoroErrors.NotFound("tool host " + name)
}

func (r *Registry) save(configs []HostConfig) error {
	b, err := json.Marshal(configs)
	if err != nil {
		return kokoroErrors.Wrap(err, "encode tool host registry")
	}
	return r.store.SetSetting(registrySettingKey, string(b))
}
