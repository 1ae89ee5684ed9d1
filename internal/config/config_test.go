package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg := Load(writeConfig(t, "server:\n  host: 127.0.0.1\n"))

	if cfg.Server.Port != 3000 {
		t.Fatalf("default port = %d", cfg.Server.Port)
	}
	if cfg.Search.DefaultCount != 5 || cfg.Search.MaxCount != 20 {
		t.Fatalf("search defaults wrong: %+v", cfg.Search)
	}
	if cfg.Search.EarlyReturnMs != 15000 {
		t.Fatalf("early return default = %d", cfg.Search.EarlyReturnMs)
	}
	if cfg.Cache.ValidForMinutes != 60 || cfg.Cache.RetentionDays != 7 {
		t.Fatalf("cache defaults wrong: %+v", cfg.Cache)
	}
	if cfg.Browser.TimeoutMs != 30000 || cfg.Browser.SettleMs != 2000 {
		t.Fatalf("browser defaults wrong: %+v", cfg.Browser)
	}
	if cfg.Screenshot.Dir == "" || cfg.Screenshot.RetentionHours != 48 {
		t.Fatalf("screenshot defaults wrong: %+v", cfg.Screenshot)
	}
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	cfg := Load(writeConfig(t, `
server:
  port: 8081
search:
  defaultCount: 3
  maxCount: 10
cache:
  validForMinutes: 5
`))

	if cfg.Server.Port != 8081 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
	if cfg.Search.DefaultCount != 3 || cfg.Search.MaxCount != 10 {
		t.Fatalf("search config wrong: %+v", cfg.Search)
	}
	if cfg.Cache.ValidForMinutes != 5 {
		t.Fatalf("cache config wrong: %+v", cfg.Cache)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SEARXNG_INSTANCE_URL", "http://searx.internal:8888")
	t.Setenv("PORT", "9000")

	cfg := Load(writeConfig(t, "searxng:\n  baseURL: http://file-value\nserver:\n  port: 3000\n"))

	if cfg.Searxng.BaseURL != "http://searx.internal:8888" {
		t.Fatalf("env base URL not applied: %q", cfg.Searxng.BaseURL)
	}
	if cfg.Server.Port != 9000 {
		t.Fatalf("env port not applied: %d", cfg.Server.Port)
	}
}
