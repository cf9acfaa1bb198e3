package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"
)

// Settings are the runtime copier settings editable from the dashboard.
// They are persisted as config.json in the data directory, surviving
// restarts independently of environment configuration.
type Settings struct {
	Pairs    []CopyPair   `json:"pairs"`
	Defaults CopySettings `json:"settings"`
}

// CopyPair binds a master account to a copier account.
type CopyPair struct {
	MasterAccount string   `json:"master_account"`
	CopierAccount string   `json:"copier_account"`
	Symbols       []string `json:"symbols,omitempty"` // empty = all symbols
}

// CopySettings mirror the dashboard settings form.
type CopySettings struct {
	CopyIntervalMs  int    `json:"copy_interval"`
	RetryAttempts   int    `json:"retry_attempts"`
	Slippage        int    `json:"slippage"`
	FillingMode     string `json:"filling_mode"`
	CopyCloses      bool   `json:"copy_closes"`
	CommentTracking bool   `json:"comment_tracking"`
}

// SettingsStore reads and writes the persisted settings file.
type SettingsStore struct {
	path string
	mu   sync.Mutex
}

// NewSettingsStore creates a store rooted at dataDir, creating the
// directory and a default config.json if missing.
func NewSettingsStore(dataDir string, defaults CopySettings) (*SettingsStore, error) {
	err := os.MkdirAll(dataDir, 0o755)
	if err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	store := &SettingsStore{path: filepath.Join(dataDir, "config.json")}

	_, err = os.Stat(store.path)
	if os.IsNotExist(err) {
		err = store.Save(&Settings{Pairs: []CopyPair{}, Defaults: defaults})
		if err != nil {
			return nil, fmt.Errorf("write default settings: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat settings file: %w", err)
	}

	return store, nil
}

// Load reads the settings file.
func (s *SettingsStore) Load() (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var settings Settings
	err = json.Unmarshal(data, &settings)
	if err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}

	if settings.Pairs == nil {
		settings.Pairs = []CopyPair{}
	}

	return &settings, nil
}

// Save writes the settings file atomically (write temp, rename).
func (s *SettingsStore) Save(settings *Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	tmp := s.path + ".tmp"
	err = os.WriteFile(tmp, data, 0o644)
	if err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	err = os.Rename(tmp, s.path)
	if err != nil {
		return fmt.Errorf("rename settings: %w", err)
	}

	return nil
}

// SettingsFromConfig derives the persisted defaults from env config.
func SettingsFromConfig(c *Config) CopySettings {
	return CopySettings{
		CopyIntervalMs:  int(c.CopyInterval.Milliseconds()),
		RetryAttempts:   c.MaxRetries,
		Slippage:        c.SlippagePoints,
		FillingMode:     c.FillingMode,
		CopyCloses:      c.CopyCloses,
		CommentTracking: c.CommentTracking,
	}
}
