package config

import (
	"os"
	"reflect"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{
		"GEMINI_API_KEY": "test-key",
	})
	defer cleanup()

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":8080" {
			t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
		}
		if cfg.RateLimit != 5 {
			t.Errorf("RateLimit = %d, want 5", cfg.RateLimit)
		}
		if cfg.RateWindow != 24*time.Hour {
			t.Errorf("RateWindow = %v, want 24h", cfg.RateWindow)
		}
		if cfg.MaxMediaDuration != 2*time.Hour {
			t.Errorf("MaxMediaDuration = %v, want 2h", cfg.MaxMediaDuration)
		}
		if cfg.PollInterval != 5*time.Second {
			t.Errorf("PollInterval = %v, want 5s", cfg.PollInterval)
		}
		if cfg.TrustedProxyHeader != "X-Forwarded-For" {
			t.Errorf("TrustedProxyHeader = %q", cfg.TrustedProxyHeader)
		}
		if len(cfg.Models) != 3 || cfg.Models[0] != "gemini-2.5-flash" {
			t.Errorf("Models = %v", cfg.Models)
		}
		if cfg.MockMode {
			t.Error("MockMode = true, want false")
		}
	})

	t.Run("cli_overrides_take_priority", func(t *testing.T) {
		cfg, err := Load(Overrides{
			EnvFile:     "nonexistent.env",
			HTTPAddr:    ":9090",
			LogLevel:    "debug",
			DatabaseURL: "postgres://override/db",
			MockMode:    true,
		})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":9090" {
			t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
		if cfg.DatabaseURL != "postgres://override/db" {
			t.Errorf("DatabaseURL = %q, want override", cfg.DatabaseURL)
		}
		if !cfg.MockMode {
			t.Error("MockMode = false, want true")
		}
	})
}

func TestLoadModelList(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{
		"GEMINI_API_KEY": "test-key",
		"MODELS":         " model-a, ,model-b,model-a ,model-c",
	})
	defer cleanup()

	cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"model-a", "model-b", "model-c"}
	if !reflect.DeepEqual(cfg.Models, want) {
		t.Errorf("Models = %v, want %v", cfg.Models, want)
	}
}

func TestLoadMissingAPIKey(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{
		"GEMINI_API_KEY": "",
		"MOCK_MODE":      "false",
	})
	defer cleanup()
	os.Unsetenv("GEMINI_API_KEY")

	if _, err := Load(Overrides{EnvFile: "nonexistent.env"}); err == nil {
		t.Error("expected error when GEMINI_API_KEY is missing outside mock mode")
	}

	// Mock mode does not need a credential.
	if _, err := Load(Overrides{EnvFile: "nonexistent.env", MockMode: true}); err != nil {
		t.Errorf("mock mode: unexpected error %v", err)
	}
}

func TestLoadInvalidLimits(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{
		"GEMINI_API_KEY": "test-key",
		"RATE_LIMIT":     "0",
	})
	defer cleanup()

	if _, err := Load(Overrides{EnvFile: "nonexistent.env"}); err == nil {
		t.Error("expected error for RATE_LIMIT=0")
	}
}

// setEnvs sets environment variables and returns a cleanup function.
func setEnvs(t *testing.T, envs map[string]string) func() {
	t.Helper()
	originals := make(map[string]string)
	unset := make([]string, 0)

	for k, v := range envs {
		if orig, ok := os.LookupEnv(k); ok {
			originals[k] = orig
		} else {
			unset = append(unset, k)
		}
		os.Setenv(k, v)
	}

	return func() {
		for k, v := range originals {
			os.Setenv(k, v)
		}
		for _, k := range unset {
			os.Unsetenv(k)
		}
	}
}
