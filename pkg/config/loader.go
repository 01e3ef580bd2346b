package config

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load reads parley.yaml and tools.yaml from configDir, merges built-in
// defaults and tools, validates referential integrity, and returns an
// immutable snapshot ready to swap into the registry.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand {{.VAR}} environment templates
//  3. Merge built-in tools with user-defined tools (user overrides)
//  4. Merge defaults (user YAML over built-in)
//  5. Assign ids from map keys; derive domain agent lists
//  6. Compute the snapshot hash
//  7. Validate everything, fail-fast
func Load(ctx context.Context, configDir string) (*Snapshot, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Loading configuration")

	snap, err := load(ctx, configDir)
	if err != nil {
		return nil, err
	}

	if err := validateSnapshot(snap); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration loaded",
		"domains", len(snap.domains),
		"agents", len(snap.agents),
		"tools", len(snap.tools),
		"hash", snap.HashHex())

	return snap, nil
}

func load(_ context.Context, configDir string) (*Snapshot, error) {
	loader := &configLoader{configDir: configDir}

	main, err := loader.loadParleyYAML()
	if err != nil {
		return nil, NewLoadError("parley.yaml", err)
	}

	userTools, err := loader.loadToolsYAML()
	if err != nil {
		return nil, NewLoadError("tools.yaml", err)
	}

	builtin := GetBuiltinConfig()
	tools := mergeTools(builtin.Tools, userTools)

	// Defaults: user YAML overrides built-in, unset fields keep built-in values
	defaults, err := builtinDefaults()
	if err != nil {
		return nil, err
	}
	if err := mergo.Merge(defaults, main.Defaults, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge defaults: %w", err)
	}

	applyRetentionDefaults(&main.System.Retention)
	applySlackDefaults(&main.System.Slack)

	// Map keys are the canonical ids
	for id, d := range main.Domains {
		d.ID = id
		if d.Name == "" {
			d.Name = id
		}
	}
	for id, a := range main.Agents {
		a.ID = id
		if a.Name == "" {
			a.Name = id
		}
		if a.State == "" {
			a.State = AgentStateProduction
		}
	}
	for id, t := range tools {
		t.ID = id
		if t.Name == "" {
			t.Name = id
		}
	}

	deriveDomainAgents(main.Domains, main.Agents)

	hash, err := computeHash(main, tools)
	if err != nil {
		return nil, fmt.Errorf("failed to hash configuration: %w", err)
	}

	return &Snapshot{
		System:   main.System,
		Defaults: *defaults,
		domains:  main.Domains,
		agents:   main.Agents,
		tools:    tools,
		hash:     hash,
		loadedAt: time.Now().UTC(),
	}, nil
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// expandEnv passes content through unchanged on template errors so the
	// YAML parser produces the clearer message
	data = expandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

func (l *configLoader) loadParleyYAML() (*parleyFile, error) {
	var f parleyFile
	f.Domains = make(map[string]*DomainConfig)
	f.Agents = make(map[string]*AgentConfig)

	if err := l.loadYAML("parley.yaml", &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// loadToolsYAML reads tools.yaml. A missing file is fine: the built-in
// tool set alone is a valid configuration.
func (l *configLoader) loadToolsYAML() (map[string]*ToolConfig, error) {
	var f toolsFile
	f.Tools = make(map[string]*ToolConfig)

	if err := l.loadYAML("tools.yaml", &f); err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			return f.Tools, nil
		}
		return nil, err
	}
	return f.Tools, nil
}

// mergeTools merges built-in and user-defined tool configurations.
// User-defined tools override built-in tools with the same id.
func mergeTools(builtin map[string]ToolConfig, user map[string]*ToolConfig) map[string]*ToolConfig {
	result := make(map[string]*ToolConfig, len(builtin)+len(user))
	for id, tool := range builtin {
		toolCopy := tool
		result[id] = &toolCopy
	}
	for id, tool := range user {
		result[id] = tool
	}
	return result
}

// deriveDomainAgents unions each domain's explicit agent_ids with the agents
// that declare the domain, deduplicated and sorted for deterministic hashing.
func deriveDomainAgents(domains map[string]*DomainConfig, agents map[string]*AgentConfig) {
	byDomain := make(map[string]map[string]bool)
	for _, d := range domains {
		set := make(map[string]bool, len(d.AgentIDs))
		for _, id := range d.AgentIDs {
			set[id] = true
		}
		byDomain[d.ID] = set
	}
	for id, a := range agents {
		if set, ok := byDomain[a.DomainID]; ok {
			set[id] = true
		}
	}
	for _, d := range domains {
		set := byDomain[d.ID]
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		d.AgentIDs = ids
	}
}

// computeHash produces a stable digest of the full configuration.
// encoding/json sorts map keys, so identical input yields an identical hash.
func computeHash(main *parleyFile, tools map[string]*ToolConfig) ([]byte, error) {
	payload := struct {
		System   SystemConfig
		Defaults Defaults
		Domains  map[string]*DomainConfig
		Agents   map[string]*AgentConfig
		Tools    map[string]*ToolConfig
	}{
		System:   main.System,
		Defaults: main.Defaults,
		Domains:  main.Domains,
		Agents:   main.Agents,
		Tools:    tools,
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(b)
	return sum[:], nil
}
