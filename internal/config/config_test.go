package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ENVIRONMENT", "BASE_URL", "API_URL", "PORT", "LOG_LEVEL", "DEBUG",
		"AI_PROVIDER", "OPENROUTER_API_KEY", "OPENROUTER_MODEL_NAME", "ARK_API_KEY", "Model",
		"STORAGE_DRIVER", "BPMNCTL_TRANSPORT", "CORS_ALLOWED_ORIGINS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.App.Environment != EnvDevelopment {
		t.Fatalf("expected dev environment, got %s", cfg.App.Environment)
	}
	if cfg.App.BaseURL != "http://localhost:8000" {
		t.Fatalf("unexpected base url: %s", cfg.App.BaseURL)
	}
	if cfg.App.APIURL != "http://localhost:8000/api" {
		t.Fatalf("unexpected api url: %s", cfg.App.APIURL)
	}
	if cfg.Server.Addr != ":8000" {
		t.Fatalf("unexpected addr: %s", cfg.Server.Addr)
	}
	if cfg.Log.Level != "INFO" {
		t.Fatalf("unexpected log level: %s", cfg.Log.Level)
	}
	if cfg.AI.Enabled() {
		t.Fatal("expected AI disabled without credentials")
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "*" {
		t.Fatalf("expected wildcard origins in dev, got %v", cfg.Server.AllowedOrigins)
	}
}

func TestLoadRejectsUnknownEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "staging")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown environment")
	}
}

func TestLoadEnvironmentIsCaseInsensitive(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "TEST")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if !cfg.App.IsTest() {
		t.Fatalf("expected test environment, got %s", cfg.App.Environment)
	}
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "verbose")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestProductionForcesDebugOffAndMinimumInfo(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "prod")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DEBUG", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Log.Debug {
		t.Fatal("expected debug disabled in prod")
	}
	if cfg.Log.Level != "INFO" {
		t.Fatalf("expected INFO in prod, got %s", cfg.Log.Level)
	}
	if cfg.Server.AllowedOrigins[0] != cfg.App.BaseURL {
		t.Fatalf("expected origin restricted to base url, got %v", cfg.Server.AllowedOrigins)
	}
}

func TestOpenRouterProviderInferredFromKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENROUTER_API_KEY", "sk-or-0123456789")
	t.Setenv("OPENROUTER_MODEL_NAME", "openai/gpt-4o-mini")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.AI.Provider != ProviderOpenRouter {
		t.Fatalf("expected openrouter provider, got %s", cfg.AI.Provider)
	}
	if !cfg.AI.Enabled() {
		t.Fatal("expected AI enabled")
	}
}

func TestOpenRouterKeyTooShort(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENROUTER_API_KEY", "short")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for short api key")
	}
}

func TestInvalidPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "80 80")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for port containing spaces")
	}
}

func TestLoadClientTransport(t *testing.T) {
	clearEnv(t)
	t.Setenv("BPMNCTL_TRANSPORT", "query")
	t.Setenv("BPMNCTL_SESSION_FILE", "/tmp/session.toml")

	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("LoadClient err: %v", err)
	}
	if cfg.Transport != TransportQuery {
		t.Fatalf("expected query transport, got %s", cfg.Transport)
	}
	if cfg.SessionFile != "/tmp/session.toml" {
		t.Fatalf("unexpected session file: %s", cfg.SessionFile)
	}

	t.Setenv("BPMNCTL_TRANSPORT", "carrier-pigeon")
	if _, err := LoadClient(); err == nil {
		t.Fatal("expected error for unknown transport")
	}
}

func TestLoadDotEnvOnlyInDev(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("DOTENV_PROBE=loaded\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("DOTENV_PROBE", "")
	os.Unsetenv("DOTENV_PROBE")

	t.Setenv("ENVIRONMENT", "prod")
	if loaded, err := LoadDotEnv(path); err != nil || loaded {
		t.Fatalf("expected .env skipped in prod, got loaded=%v err=%v", loaded, err)
	}
	if os.Getenv("DOTENV_PROBE") != "" {
		t.Fatal("expected probe unset in prod")
	}

	t.Setenv("ENVIRONMENT", "dev")
	if loaded, err := LoadDotEnv(path); err != nil || !loaded {
		t.Fatalf("expected .env loaded in dev, got loaded=%v err=%v", loaded, err)
	}
	if os.Getenv("DOTENV_PROBE") != "loaded" {
		t.Fatalf("expected probe loaded, got %q", os.Getenv("DOTENV_PROBE"))
	}

	if loaded, err := LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil || loaded {
		t.Fatalf("expected missing .env ignored, got loaded=%v err=%v", loaded, err)
	}
}
