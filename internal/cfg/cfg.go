// Package cfg implements the project-wide JSON-backed configuration
// singleton from SPEC_FULL.md's AMBIENT STACK, following the global
// mutex-protected singleton and atomic per-subsystem Update* functions of
// the teacher's pkg/config/config.go. Unlike the state documents in
// internal/statestore, config.json is written once at init (optionally
// compiled from a human-authored sprinty.yaml bootstrap file) and mutated
// only through the typed setters below.
package cfg

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"sprinty/internal/breaker"
	"sprinty/internal/ratelimit"
	"sprinty/internal/sprint"
)

// SprintConfig mirrors sprint.Config in a JSON/YAML-friendly shape.
type SprintConfig struct {
	MaxLoopsPlanning       int `json:"max_loops_planning" yaml:"max_loops_planning"`
	MaxLoopsImplementation int `json:"max_loops_implementation" yaml:"max_loops_implementation"`
	MaxLoopsQA             int `json:"max_loops_qa" yaml:"max_loops_qa"`
	MaxLoopsReview         int `json:"max_loops_review" yaml:"max_loops_review"`
	ReworkLimit            int `json:"rework_limit" yaml:"rework_limit"`
	MaxSprints             int `json:"max_sprints" yaml:"max_sprints"`
	MaxFinalQAAttempts     int `json:"max_final_qa_attempts" yaml:"max_final_qa_attempts"`
}

// BreakerConfig mirrors breaker.Config.
type BreakerConfig struct {
	NoProgressThreshold int `json:"no_progress_threshold" yaml:"no_progress_threshold"`
	SameErrorThreshold  int `json:"same_error_threshold" yaml:"same_error_threshold"`
}

// AgentConfig holds agent-driver tuning.
type AgentConfig struct {
	Flavor          string `json:"flavor" yaml:"flavor"`
	Model           string `json:"model" yaml:"model"`
	MaxRetries      int    `json:"max_retries" yaml:"max_retries"`
	BaseDelaySec    int    `json:"base_delay_sec" yaml:"base_delay_sec"`
	TimeoutSec      int    `json:"timeout_sec" yaml:"timeout_sec"`
	MaxPromptTokens int    `json:"max_prompt_tokens" yaml:"max_prompt_tokens"`
}

// RateLimitConfig holds the hourly call cap.
type RateLimitConfig struct {
	MaxCallsPerHour int `json:"max_calls_per_hour" yaml:"max_calls_per_hour"`
}

// Config is the full persisted config.json document.
type Config struct {
	SchemaVersion int             `json:"schema_version"`
	ProjectName   string          `json:"project_name"`
	Sprint        SprintConfig    `json:"sprint"`
	Breaker       BreakerConfig   `json:"breaker"`
	Agent         AgentConfig     `json:"agent"`
	RateLimit     RateLimitConfig `json:"rate_limit"`
}

const schemaVersion = 1

// Default returns the spec's default configuration.
func Default(projectName string) Config {
	return Config{
		SchemaVersion: schemaVersion,
		ProjectName:   projectName,
		Sprint: SprintConfig{
			MaxLoopsPlanning:       sprint.DefaultMaxLoops[sprint.PhasePlanning],
			MaxLoopsImplementation: sprint.DefaultMaxLoops[sprint.PhaseImplementation],
			MaxLoopsQA:             sprint.DefaultMaxLoops[sprint.PhaseQA],
			MaxLoopsReview:         sprint.DefaultMaxLoops[sprint.PhaseReview],
			ReworkLimit:            sprint.DefaultReworkLimit,
			MaxSprints:             sprint.DefaultMaxSprints,
			MaxFinalQAAttempts:     sprint.DefaultMaxFinalQAAttempts,
		},
		Breaker: BreakerConfig{
			NoProgressThreshold: breaker.DefaultNoProgressThreshold,
			SameErrorThreshold:  breaker.DefaultSameErrorThreshold,
		},
		Agent: AgentConfig{
			Flavor:          "opencode",
			MaxRetries:      3,
			BaseDelaySec:    2,
			TimeoutSec:      600,
			MaxPromptTokens: 50000,
		},
		RateLimit: RateLimitConfig{
			MaxCallsPerHour: ratelimit.DefaultMaxCallsPerHour,
		},
	}
}

// SprintMachineConfig converts the persisted sprint section into sprint.Config.
func (c Config) SprintMachineConfig() sprint.Config {
	return sprint.Config{
		MaxLoops: map[sprint.Phase]int{
			sprint.PhasePlanning:       c.Sprint.MaxLoopsPlanning,
			sprint.PhaseImplementation: c.Sprint.MaxLoopsImplementation,
			sprint.PhaseQA:             c.Sprint.MaxLoopsQA,
			sprint.PhaseReview:         c.Sprint.MaxLoopsReview,
		},
		ReworkLimit:        c.Sprint.ReworkLimit,
		MaxSprints:         c.Sprint.MaxSprints,
		MaxFinalQAAttempts: c.Sprint.MaxFinalQAAttempts,
	}
}

// BreakerMachineConfig converts the persisted breaker section into breaker.Config.
func (c Config) BreakerMachineConfig() breaker.Config {
	return breaker.Config{
		NoProgressThreshold: c.Breaker.NoProgressThreshold,
		SameErrorThreshold:  c.Breaker.SameErrorThreshold,
	}
}

// Store is the global mutex-protected config singleton, bound to one
// config.json path for the life of the process. Unlike statestore.Store, it
// keeps the last-loaded value cached in memory so Get never touches
// disk on the hot path; Update* functions write through.
type Store struct {
	mu   sync.RWMutex
	path string
	cfg  Config
}

// Load reads path into a new Store. If the file does not exist, the Store
// starts with the zero Config; callers typically follow a missing file with
// Init before calling Get.
func Load(path string) (*Store, error) {
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("cfg: read %s: %w", path, err)
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("cfg: parse %s: %w", path, err)
	}
	s.cfg = c
	return s, nil
}

// Init writes the default config (merged with the optional sprinty.yaml
// bootstrap file at bootstrapYAMLPath) to path, refusing to overwrite an
// existing file.
func Init(path, projectName, bootstrapYAMLPath string) (*Store, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("cfg: %s already exists", path)
	}
	c := Default(projectName)
	if bootstrapYAMLPath != "" {
		if data, err := os.ReadFile(bootstrapYAMLPath); err == nil {
			if err := yaml.Unmarshal(data, &c); err != nil {
				return nil, fmt.Errorf("cfg: parse bootstrap %s: %w", bootstrapYAMLPath, err)
			}
			c.SchemaVersion = schemaVersion
			c.ProjectName = projectName
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("cfg: read bootstrap %s: %w", bootstrapYAMLPath, err)
		}
	}
	s := &Store{path: path, cfg: c}
	if err := s.persist(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns a copy of the current config. Always by value, matching the
// teacher's GetConfig() contract: callers cannot mutate the singleton
// without going through an Update* method.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// UpdateSprint atomically replaces the sprint section and persists.
func (s *Store) UpdateSprint(sc SprintConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Sprint = sc
	return s.persist()
}

// UpdateBreaker atomically replaces the breaker section and persists.
func (s *Store) UpdateBreaker(bc BreakerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Breaker = bc
	return s.persist()
}

// UpdateAgent atomically replaces the agent section and persists.
func (s *Store) UpdateAgent(ac AgentConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Agent = ac
	return s.persist()
}

// UpdateRateLimit atomically replaces the rate-limit section and persists.
func (s *Store) UpdateRateLimit(rc RateLimitConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.RateLimit = rc
	return s.persist()
}

// persist writes s.cfg to s.path via temp-file-then-rename, matching the
// atomicity discipline of internal/statestore even though config.json is a
// distinct document class (§3: "distinct from state").
func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cfg: marshal: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cfg: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("cfg: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("cfg: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("cfg: fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cfg: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("cfg: rename: %w", err)
	}
	return nil
}
