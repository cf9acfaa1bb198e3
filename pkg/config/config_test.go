package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.HTTPPort != "5000" {
		t.Errorf("expected HTTPPort 5000, got %s", cfg.HTTPPort)
	}
	if cfg.AdapterMode != "sim" {
		t.Errorf("expected AdapterMode sim, got %s", cfg.AdapterMode)
	}
	if cfg.CopyRatio != 1.0 {
		t.Errorf("expected CopyRatio 1.0, got %f", cfg.CopyRatio)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("expected MaxRetries 3, got %d", cfg.MaxRetries)
	}
	if cfg.SlippagePoints != 20 {
		t.Errorf("expected SlippagePoints 20, got %d", cfg.SlippagePoints)
	}
	if cfg.FillingMode != "FOK" {
		t.Errorf("expected FillingMode FOK, got %s", cfg.FillingMode)
	}
	if !cfg.CopyCloses {
		t.Error("expected CopyCloses true by default")
	}
	if !cfg.CommentTracking {
		t.Error("expected CommentTracking true by default")
	}
	if cfg.CopyInterval != 50*time.Millisecond {
		t.Errorf("expected CopyInterval 50ms, got %v", cfg.CopyInterval)
	}
	if cfg.WorkerCount != 8 {
		t.Errorf("expected WorkerCount 8, got %d", cfg.WorkerCount)
	}
	if cfg.StorageMode != "console" {
		t.Errorf("expected StorageMode console, got %s", cfg.StorageMode)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	os.Setenv("COPY_RATIO", "0.5")
	os.Setenv("COPY_MAX_RETRIES", "5")
	os.Setenv("COPY_FILLING_MODE", "IOC")
	os.Setenv("COPY_CLOSES", "false")
	t.Cleanup(func() {
		os.Unsetenv("COPY_RATIO")
		os.Unsetenv("COPY_MAX_RETRIES")
		os.Unsetenv("COPY_FILLING_MODE")
		os.Unsetenv("COPY_CLOSES")
	})

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.CopyRatio != 0.5 {
		t.Errorf("expected CopyRatio 0.5, got %f", cfg.CopyRatio)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("expected MaxRetries 5, got %d", cfg.MaxRetries)
	}
	if cfg.FillingMode != "IOC" {
		t.Errorf("expected FillingMode IOC, got %s", cfg.FillingMode)
	}
	if cfg.CopyCloses {
		t.Error("expected CopyCloses false")
	}
}

func TestLoadFromEnv_CopierBridges(t *testing.T) {
	os.Setenv("ADAPTER_MODE", "bridge")
	os.Setenv("COPIER_BRIDGES", "child-1=http://localhost:8801, child-2=http://localhost:8802")
	t.Cleanup(func() {
		os.Unsetenv("ADAPTER_MODE")
		os.Unsetenv("COPIER_BRIDGES")
	})

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(cfg.CopierBridges) != 2 {
		t.Fatalf("expected 2 bridges, got %d", len(cfg.CopierBridges))
	}
	if cfg.CopierBridges[0].AccountID != "child-1" || cfg.CopierBridges[0].URL != "http://localhost:8801" {
		t.Errorf("unexpected first bridge: %+v", cfg.CopierBridges[0])
	}
	if cfg.CopierBridges[1].AccountID != "child-2" {
		t.Errorf("unexpected second bridge: %+v", cfg.CopierBridges[1])
	}
}

func TestLoadFromEnv_BridgeModeRequiresCopiers(t *testing.T) {
	os.Setenv("ADAPTER_MODE", "bridge")
	t.Cleanup(func() {
		os.Unsetenv("ADAPTER_MODE")
	})

	_, err := LoadFromEnv()
	if err == nil {
		t.Fatal("expected error for bridge mode without COPIER_BRIDGES")
	}
}

func TestLoadFromEnv_InvalidBridgeEntry(t *testing.T) {
	os.Setenv("ADAPTER_MODE", "bridge")
	os.Setenv("COPIER_BRIDGES", "no-equals-sign")
	t.Cleanup(func() {
		os.Unsetenv("ADAPTER_MODE")
		os.Unsetenv("COPIER_BRIDGES")
	})

	_, err := LoadFromEnv()
	if err == nil {
		t.Fatal("expected error for malformed COPIER_BRIDGES entry")
	}
}

func TestLoadFromEnv_DuplicateBridgeAccount(t *testing.T) {
	os.Setenv("ADAPTER_MODE", "bridge")
	os.Setenv("COPIER_BRIDGES", "child-1=http://a,child-1=http://b")
	t.Cleanup(func() {
		os.Unsetenv("ADAPTER_MODE")
		os.Unsetenv("COPIER_BRIDGES")
	})

	_, err := LoadFromEnv()
	if err == nil {
		t.Fatal("expected error for duplicate bridge account id")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"bad adapter mode", func(c *Config) { c.AdapterMode = "paper" }, true},
		{"no sizing rule", func(c *Config) { c.CopyRatio = 0; c.CopyFixedLot = 0 }, true},
		{"fixed lot only", func(c *Config) { c.CopyRatio = 0; c.CopyFixedLot = 0.1 }, false},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, true},
		{"inverted backoff", func(c *Config) { c.RetryBackoffMin = time.Second; c.RetryBackoffMax = time.Millisecond }, true},
		{"bad filling mode", func(c *Config) { c.FillingMode = "GTC" }, true},
		{"zero workers", func(c *Config) { c.WorkerCount = 0 }, true},
		{"bad storage mode", func(c *Config) { c.StorageMode = "redis" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFromEnv()
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

func TestSettingsStore(t *testing.T) {
	dir := t.TempDir()

	defaults := CopySettings{
		CopyIntervalMs:  50,
		RetryAttempts:   3,
		Slippage:        20,
		FillingMode:     "FOK",
		CopyCloses:      true,
		CommentTracking: true,
	}

	store, err := NewSettingsStore(dir, defaults)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	// A fresh store materializes the defaults.
	settings, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Defaults != defaults {
		t.Errorf("expected defaults %+v, got %+v", defaults, settings.Defaults)
	}
	if settings.Pairs == nil {
		t.Error("expected empty pairs slice, got nil")
	}

	// Round trip an edit.
	settings.Defaults.Slippage = 30
	settings.Pairs = append(settings.Pairs, CopyPair{
		MasterAccount: "master-1",
		CopierAccount: "child-1",
	})
	if err := store.Save(settings); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded, err := store.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Defaults.Slippage != 30 {
		t.Errorf("expected slippage 30, got %d", reloaded.Defaults.Slippage)
	}
	if len(reloaded.Pairs) != 1 || reloaded.Pairs[0].CopierAccount != "child-1" {
		t.Errorf("unexpected pairs: %+v", reloaded.Pairs)
	}

	// A second store over the same directory keeps the edits.
	again, err := NewSettingsStore(dir, defaults)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	persisted, err := again.Load()
	if err != nil {
		t.Fatalf("load after reopen: %v", err)
	}
	if persisted.Defaults.Slippage != 30 {
		t.Errorf("expected persisted slippage 30, got %d", persisted.Defaults.Slippage)
	}
}
