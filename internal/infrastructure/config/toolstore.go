package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/atelier-ai/atelier/internal/domain/tool"
	"go.uber.org/zap"
)

// ToolsConfig is the runtime-mutable tool configuration. It is persisted as
// a JSON file and held in memory copy-on-write: readers always see a
// consistent snapshot, writers swap in a new value atomically.
type ToolsConfig struct {
	Enabled map[string]bool `json:"enabled"`
	Files   FilesSection    `json:"files"`
	Shell   ShellSection    `json:"shell"`
	Search  SearchSection   `json:"search"`
}

// FilesSection bounds file tools.
type FilesSection struct {
	MaxBytes int `json:"max_bytes"`
}

// ShellSection is the shell gate configuration.
type ShellSection struct {
	Allowlist            []string `json:"allowlist"`
	TimeoutSec           int      `json:"timeout_sec"`
	MaxOutput            int      `json:"max_output"`
	PermissionTimeoutSec int      `json:"permission_timeout_sec"`
}

// SearchSection configures the web search tool.
type SearchSection struct {
	Provider    string  `json:"provider"`
	APIKey      string  `json:"api_key,omitempty"`
	MaxResults  int     `json:"max_results"`
	SearchDepth string  `json:"search_depth"`
	MinScore    float64 `json:"min_score"`
}

// DefaultToolsConfig returns the shipped defaults.
func DefaultToolsConfig() ToolsConfig {
	return ToolsConfig{
		Enabled: map[string]bool{
			"read_file":  true,
			"write_file": true,
			"run_shell":  true,
			"search":     true,
			"calculator": false,
		},
		Files: FilesSection{MaxBytes: 20000},
		Shell: ShellSection{
			Allowlist:            []string{"npm", "npx", "pnpm", "yarn", "node", "python", "pip", "git", "rg"},
			TimeoutSec:           30,
			MaxOutput:            20000,
			PermissionTimeoutSec: 300,
		},
		Search: SearchSection{
			Provider:    "tavily",
			MaxResults:  5,
			SearchDepth: "basic",
			MinScore:    0.4,
		},
	}
}

// ToolStore owns the copy-on-write tools config and its file persistence.
// It implements tool.ConfigView for the policy gates.
type ToolStore struct {
	path    string
	current atomic.Value // ToolsConfig
	writeMu sync.Mutex
	logger  *zap.Logger
}

// NewToolStore loads (or creates) the tools config file at path.
func NewToolStore(path string, logger *zap.Logger) (*ToolStore, error) {
	s := &ToolStore{path: path, logger: logger}
	cfg, err := s.loadFile()
	if err != nil {
		return nil, err
	}
	if cfg.Search.APIKey == "" {
		cfg.Search.APIKey = os.Getenv("TAVILY_API_KEY")
	}
	s.current.Store(cfg)
	return s, nil
}

// Snapshot returns the current config value.
func (s *ToolStore) Snapshot() ToolsConfig {
	return s.current.Load().(ToolsConfig)
}

// Shell implements tool.ConfigView.
func (s *ToolStore) Shell() tool.ShellSettings {
	cfg := s.Snapshot()
	return tool.ShellSettings{
		Allowlist:            append([]string(nil), cfg.Shell.Allowlist...),
		TimeoutSec:           cfg.Shell.TimeoutSec,
		MaxOutput:            cfg.Shell.MaxOutput,
		PermissionTimeoutSec: cfg.Shell.PermissionTimeoutSec,
	}
}

// Files implements tool.ConfigView.
func (s *ToolStore) Files() tool.FilesSettings {
	return tool.FilesSettings{MaxBytes: s.Snapshot().Files.MaxBytes}
}

// Search returns the search section.
func (s *ToolStore) Search() SearchSection {
	return s.Snapshot().Search
}

// Enabled reports whether the named tool is enabled.
func (s *ToolStore) Enabled(name string) bool {
	return s.Snapshot().Enabled[name]
}

// AppendShellAllowlist adds a command basename to the allowlist and persists
// the updated config. Already-present entries are a no-op.
func (s *ToolStore) AppendShellAllowlist(name string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil
	}
	return s.update(func(cfg *ToolsConfig) {
		for _, item := range cfg.Shell.Allowlist {
			if strings.EqualFold(item, name) {
				return
			}
		}
		cfg.Shell.Allowlist = append(cfg.Shell.Allowlist, name)
	})
}

// Patch merges a JSON object into the persisted config and reloads.
func (s *ToolStore) Patch(patch map[string]interface{}) (ToolsConfig, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current := map[string]interface{}{}
	if data, err := os.ReadFile(s.path); err == nil {
		_ = json.Unmarshal(data, &current)
	}
	merged := deepMerge(current, patch)
	if err := s.writeFile(merged); err != nil {
		return s.Snapshot(), err
	}
	cfg, err := s.loadFile()
	if err != nil {
		return s.Snapshot(), err
	}
	s.current.Store(cfg)
	return cfg, nil
}

// Reload re-reads the file, used by the fsnotify watcher.
func (s *ToolStore) Reload() error {
	cfg, err := s.loadFile()
	if err != nil {
		return err
	}
	s.current.Store(cfg)
	return nil
}

// Path returns the backing file path.
func (s *ToolStore) Path() string { return s.path }

func (s *ToolStore) update(mutate func(*ToolsConfig)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cfg := s.Snapshot()
	cfg.Shell.Allowlist = append([]string(nil), cfg.Shell.Allowlist...)
	mutate(&cfg)

	raw := map[string]interface{}{}
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := s.writeFile(raw); err != nil {
		return err
	}
	s.current.Store(cfg)
	return nil
}

func (s *ToolStore) loadFile() (ToolsConfig, error) {
	cfg := DefaultToolsConfig()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read tools config: %w", err)
	}
	var fileCfg ToolsConfig
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return cfg, fmt.Errorf("parse tools config: %w", err)
	}
	mergeToolsConfig(&cfg, fileCfg)
	return cfg, nil
}

func (s *ToolStore) writeFile(raw map[string]interface{}) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

// mergeToolsConfig overlays file values onto the defaults.
func mergeToolsConfig(base *ToolsConfig, over ToolsConfig) {
	for name, enabled := range over.Enabled {
		base.Enabled[name] = enabled
	}
	if over.Files.MaxBytes > 0 {
		base.Files.MaxBytes = over.Files.MaxBytes
	}
	if over.Shell.Allowlist != nil {
		base.Shell.Allowlist = over.Shell.Allowlist
	}
	if over.Shell.TimeoutSec > 0 {
		base.Shell.TimeoutSec = over.Shell.TimeoutSec
	}
	if over.Shell.MaxOutput > 0 {
		base.Shell.MaxOutput = over.Shell.MaxOutput
	}
	if over.Shell.PermissionTimeoutSec > 0 {
		base.Shell.PermissionTimeoutSec = over.Shell.PermissionTimeoutSec
	}
	if over.Search.Provider != "" {
		base.Search.Provider = over.Search.Provider
	}
	if over.Search.APIKey != "" {
		base.Search.APIKey = over.Search.APIKey
	}
	if over.Search.MaxResults > 0 {
		base.Search.MaxResults = over.Search.MaxResults
	}
	if over.Search.SearchDepth != "" {
		base.Search.SearchDepth = over.Search.SearchDepth
	}
	if over.Search.MinScore > 0 {
		base.Search.MinScore = over.Search.MinScore
	}
}

func deepMerge(base, override map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if sub, ok := v.(map[string]interface{}); ok {
			if existing, ok := result[k].(map[string]interface{}); ok {
				result[k] = deepMerge(existing, sub)
				continue
			}
		}
		result[k] = v
	}
	return result
}

var _ tool.ConfigView = (*ToolStore)(nil)
