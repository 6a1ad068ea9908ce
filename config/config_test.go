package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Address != ":8000" || cfg.Search.Provider != "tavily" || cfg.Memory.Backend != "inmemory" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Registry.SweepCron != "*/5 * * * *" || cfg.Agents.PortTimeout != 30*time.Second {
		t.Fatalf("unexpected defaults %+v %+v", cfg.Registry, cfg.Agents)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "*" {
		t.Fatalf("expected wildcard origin, got %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Validator.MaxClaims != 5 || cfg.Summarizer.MaxSources != 8 || cfg.Research.MaxSources != 10 {
		t.Fatalf("unexpected stage defaults")
	}
}

func TestLoadConfigEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("RESEARCHD_SEARCH_PROVIDER", "Serper")
	t.Setenv("SERPER_API_KEY", "serper-key")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, http://b.example")
	t.Setenv("RESEARCHD_REGISTRY_RETENTION", "2h")
	t.Setenv("RESEARCHD_VALIDATOR_VERIFY_WITH_SEARCH", "true")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Fatalf("OPENAI_API_KEY not bound: %q", cfg.LLM.APIKey)
	}
	if cfg.Search.Provider != "serper" || cfg.Search.APIKey() != "serper-key" {
		t.Fatalf("unexpected search config %+v", cfg.Search)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "http://b.example" {
		t.Fatalf("unexpected origins %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Registry.Retention != 2*time.Hour || !cfg.Validator.VerifyWithSearch {
		t.Fatalf("env overrides not applied: %+v %+v", cfg.Registry, cfg.Validator)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"server":{"address":"9000"},"registry":{"max_tasks":7},"memory":{"backend":"none"}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Address != ":9000" || cfg.Registry.MaxTasks != 7 || cfg.Memory.Backend != "none" {
		t.Fatalf("file values not applied: %+v", cfg)
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatalf("an explicit missing file must fail")
	}
}

func TestValidateRejectsBadSections(t *testing.T) {
	cases := map[string]string{
		"RESEARCHD_MEMORY_BACKEND":      "redis",
		"RESEARCHD_SEARCH_PROVIDER":     "bing",
		"RESEARCHD_REGISTRY_SWEEP_CRON": "not a cron",
		"RESEARCHD_TELEMETRY_ENABLED":   "true",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			chdir(t, t.TempDir())
			t.Setenv("REDIS_URL", "")
			t.Setenv(key, value)
			if _, err := LoadConfig(""); err == nil {
				t.Fatalf("%s=%s should be rejected", key, value)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("RESEARCHD_DOTENV_PROBE=loaded\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("RESEARCHD_DOTENV_PROBE", "")
	os.Unsetenv("RESEARCHD_DOTENV_PROBE")
	if err := LoadDotEnv(filepath.Join(dir, "absent.env"), path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("RESEARCHD_DOTENV_PROBE"); got != "loaded" {
		t.Fatalf("expected value from .env, got %q", got)
	}
}

// chdir changes the working directory for the duration of the test,
// restoring it on cleanup (equivalent of testing.T.Chdir, Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore Chdir: %v", err)
		}
	})
}
