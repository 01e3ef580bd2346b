package config

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is an immutable view of the full configuration. Readers hold a
// *Snapshot for the duration of one operation; a concurrent reload never
// mutates it.
type Snapshot struct {
	System   SystemConfig
	Defaults Defaults

	domains map[string]*DomainConfig
	agents  map[string]*AgentConfig
	tools   map[string]*ToolConfig

	hash     []byte
	loadedAt time.Time
}

// GetDomain retrieves a domain by id.
func (s *Snapshot) GetDomain(id string) (*DomainConfig, error) {
	d, ok := s.domains[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDomainNotFound, id)
	}
	return d, nil
}

// GetAgent retrieves an agent by id.
func (s *Snapshot) GetAgent(id string) (*AgentConfig, error) {
	a, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return a, nil
}

// GetTool retrieves a tool by id.
func (s *Snapshot) GetTool(id string) (*ToolConfig, error) {
	t, ok := s.tools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, id)
	}
	return t, nil
}

// AgentsForDomain returns the agents owned by a domain in agent-id order.
func (s *Snapshot) AgentsForDomain(id string) ([]*AgentConfig, error) {
	d, ok := s.domains[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDomainNotFound, id)
	}
	agents := make([]*AgentConfig, 0, len(d.AgentIDs))
	for _, agentID := range d.AgentIDs {
		if a, ok := s.agents[agentID]; ok {
			agents = append(agents, a)
		}
	}
	return agents, nil
}

// Domains returns all domains (copy of the map; values are shared).
func (s *Snapshot) Domains() map[string]*DomainConfig {
	result := make(map[string]*DomainConfig, len(s.domains))
	for k, v := range s.domains {
		result[k] = v
	}
	return result
}

// Tools returns all tools (copy of the map; values are shared).
func (s *Snapshot) Tools() map[string]*ToolConfig {
	result := make(map[string]*ToolConfig, len(s.tools))
	for k, v := range s.tools {
		result[k] = v
	}
	return result
}

// Hash returns the digest computed over the loaded configuration.
func (s *Snapshot) Hash() []byte {
	out := make([]byte, len(s.hash))
	copy(out, s.hash)
	return out
}

// HashHex returns the hash as a hex string for logs and the sync endpoint.
func (s *Snapshot) HashHex() string {
	return hex.EncodeToString(s.hash)
}

// LoadedAt returns when this snapshot was built.
func (s *Snapshot) LoadedAt() time.Time {
	return s.loadedAt
}

// MaxHandoffsFor resolves the handoff cap for a domain: domain override,
// else merged defaults.
func (s *Snapshot) MaxHandoffsFor(d *DomainConfig) int {
	if d.MaxHandoffs > 0 {
		return d.MaxHandoffs
	}
	return s.Defaults.MaxHandoffs
}

// MinConfidenceFor resolves the supervisor confidence floor for a domain.
func (s *Snapshot) MinConfidenceFor(d *DomainConfig) float64 {
	if d.MinConfidence > 0 {
		return d.MinConfidence
	}
	return s.Defaults.MinConfidence
}

// ToolTimeoutFor resolves the handler deadline for a tool.
func (s *Snapshot) ToolTimeoutFor(t *ToolConfig) time.Duration {
	ms := t.TimeoutMs
	if ms <= 0 {
		ms = s.Defaults.ToolTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

// Status describes the registry for GET /v1/config/status.
type Status struct {
	Hash        string    `json:"hash"`
	LoadedAt    time.Time `json:"loaded_at"`
	Domains     int       `json:"domains"`
	Agents      int       `json:"agents"`
	Tools       int       `json:"tools"`
	LastError   string    `json:"last_error,omitempty"`
	LastAttempt time.Time `json:"last_attempt,omitempty"`
}

// Registry owns the active snapshot. Reads are a single atomic pointer load;
// Reload builds and validates a whole new snapshot before swapping, so
// readers never observe a half-loaded state. A failed reload keeps the
// previous snapshot and records the error.
type Registry struct {
	configDir string

	snap atomic.Pointer[Snapshot]

	mu          sync.Mutex // serializes reloads, guards the fields below
	lastErr     string
	lastAttempt time.Time
}

// NewRegistry loads the initial snapshot from configDir.
func NewRegistry(ctx context.Context, configDir string) (*Registry, error) {
	snap, err := Load(ctx, configDir)
	if err != nil {
		return nil, err
	}
	r := &Registry{configDir: configDir}
	r.snap.Store(snap)
	return r, nil
}

// Snapshot returns the active configuration. Never nil after NewRegistry.
func (r *Registry) Snapshot() *Snapshot {
	return r.snap.Load()
}

// Reload re-runs the loader and atomically swaps the snapshot on success.
// On failure the previous snapshot stays active and the error is both
// returned and retained for Status.
func (r *Registry) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastAttempt = time.Now().UTC()

	snap, err := Load(ctx, r.configDir)
	if err != nil {
		r.lastErr = err.Error()
		slog.Error("Configuration reload failed, keeping previous snapshot",
			"config_dir", r.configDir, "error", err)
		return err
	}

	prev := r.snap.Load()
	if prev != nil && prev.HashHex() == snap.HashHex() {
		slog.Info("Configuration unchanged", "hash", snap.HashHex())
	} else {
		slog.Info("Configuration reloaded",
			"hash", snap.HashHex(),
			"domains", len(snap.domains),
			"agents", len(snap.agents),
			"tools", len(snap.tools))
	}

	r.snap.Store(snap)
	r.lastErr = ""
	return nil
}

// Status reports the active snapshot plus the outcome of the last reload attempt.
func (r *Registry) Status() Status {
	snap := r.snap.Load()

	r.mu.Lock()
	lastErr, lastAttempt := r.lastErr, r.lastAttempt
	r.mu.Unlock()

	return Status{
		Hash:        snap.HashHex(),
		LoadedAt:    snap.LoadedAt(),
		Domains:     len(snap.domains),
		Agents:      len(snap.agents),
		Tools:       len(snap.tools),
		LastError:   lastErr,
		LastAttempt: lastAttempt,
	}
}

// ConfigDir returns the directory the registry loads from.
func (r *Registry) ConfigDir() string {
	return r.configDir
}
