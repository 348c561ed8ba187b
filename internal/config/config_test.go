package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable Load reads so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for name := range legacyEnv {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
	for name := range canonicalEnv {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
	t.Chdir(t.TempDir())
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("OPENAI_API_KEY", "sk-test")

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Server.Port != 8082 {
			t.Errorf("Server.Port = %v, want 8082", cfg.Server.Port)
		}
		if cfg.Primary.Model != "gpt-4o" {
			t.Errorf("Primary.Model = %q, want gpt-4o", cfg.Primary.Model)
		}
		if cfg.Secondary.Model != "gpt-4o-mini" {
			t.Errorf("Secondary.Model = %q, want gpt-4o-mini", cfg.Secondary.Model)
		}
		if cfg.Primary.APIKey != "sk-test" || cfg.Secondary.APIKey != "sk-test" {
			t.Errorf("tier keys = %q/%q, want shared key", cfg.Primary.APIKey, cfg.Secondary.APIKey)
		}
		if cfg.Primary.BaseURL != "https://api.openai.com/v1" {
			t.Errorf("Primary.BaseURL = %q", cfg.Primary.BaseURL)
		}
		if cfg.Limits.MinTokens != 100 || cfg.Limits.MaxTokens != 8196 {
			t.Errorf("Limits = %+v, want {100 8196}", cfg.Limits)
		}
		if cfg.Upstream.RequestTimeout != 90*time.Second {
			t.Errorf("Upstream.RequestTimeout = %v, want 90s", cfg.Upstream.RequestTimeout)
		}
		if cfg.Routing.SecondaryMarker != "haiku" {
			t.Errorf("Routing.SecondaryMarker = %q, want haiku", cfg.Routing.SecondaryMarker)
		}
		if len(cfg.Routing.NativePrefixes) != 2 {
			t.Errorf("Routing.NativePrefixes = %v", cfg.Routing.NativePrefixes)
		}
	})

	t.Run("env overrides", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("OPENAI_API_KEY", "sk-test")
		t.Setenv("PORT", "9000")
		t.Setenv("REQUEST_TIMEOUT", "30")
		t.Setenv("PING_INTERVAL", "2500ms")
		t.Setenv("MAX_TOKENS_LIMIT", "4096")

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Server.Port != 9000 {
			t.Errorf("Server.Port = %v, want 9000", cfg.Server.Port)
		}
		if cfg.Upstream.RequestTimeout != 30*time.Second {
			t.Errorf("Upstream.RequestTimeout = %v, want 30s", cfg.Upstream.RequestTimeout)
		}
		if cfg.Upstream.PingInterval != 2500*time.Millisecond {
			t.Errorf("Upstream.PingInterval = %v, want 2.5s", cfg.Upstream.PingInterval)
		}
		if cfg.Limits.MaxTokens != 4096 {
			t.Errorf("Limits.MaxTokens = %v, want 4096", cfg.Limits.MaxTokens)
		}
	})

	t.Run("tier variables win over legacy aliases", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("OPENAI_API_KEY", "sk-shared")
		t.Setenv("BIG_MODEL", "gpt-legacy")
		t.Setenv("BIG_MODEL_NAME", "gpt-4.1")
		t.Setenv("SMALL_MODEL", "gpt-small-legacy")
		t.Setenv("SMALL_MODEL_API_KEY", "sk-small")
		t.Setenv("SMALL_MODEL_BASE_URL", "https://small.example.com/v1")

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Primary.Model != "gpt-4.1" {
			t.Errorf("Primary.Model = %q, want gpt-4.1", cfg.Primary.Model)
		}
		if cfg.Secondary.Model != "gpt-small-legacy" {
			t.Errorf("Secondary.Model = %q, want gpt-small-legacy", cfg.Secondary.Model)
		}
		if cfg.Primary.APIKey != "sk-shared" {
			t.Errorf("Primary.APIKey = %q, want sk-shared", cfg.Primary.APIKey)
		}
		if cfg.Secondary.APIKey != "sk-small" {
			t.Errorf("Secondary.APIKey = %q, want sk-small", cfg.Secondary.APIKey)
		}
		if cfg.Secondary.BaseURL != "https://small.example.com/v1" {
			t.Errorf("Secondary.BaseURL = %q", cfg.Secondary.BaseURL)
		}
	})

	t.Run("yaml file with substitution", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("TEST_PRIMARY_KEY", "sk-from-env")

		path := filepath.Join(t.TempDir(), "bridge.yaml")
		content := `
server:
  port: 7000
openai:
  api_key: sk-file
primary:
  api_key: ${TEST_PRIMARY_KEY}
  model: gpt-4.1
  base_url: https://example.openai.azure.com/openai/deployments/x
  azure_api_version: "2024-06-01"
routing:
  secondary_marker: mini
`
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Server.Port != 7000 {
			t.Errorf("Server.Port = %v, want 7000", cfg.Server.Port)
		}
		if cfg.Primary.APIKey != "sk-from-env" {
			t.Errorf("Primary.APIKey = %q, want sk-from-env", cfg.Primary.APIKey)
		}
		if cfg.Secondary.APIKey != "sk-file" {
			t.Errorf("Secondary.APIKey = %q, want sk-file", cfg.Secondary.APIKey)
		}
		if cfg.Primary.APIVersion != "2024-06-01" {
			t.Errorf("Primary.APIVersion = %q, want 2024-06-01", cfg.Primary.APIVersion)
		}
		if cfg.Secondary.APIVersion != "" {
			t.Errorf("Secondary.APIVersion = %q, want empty", cfg.Secondary.APIVersion)
		}
		if cfg.Routing.SecondaryMarker != "mini" {
			t.Errorf("Routing.SecondaryMarker = %q, want mini", cfg.Routing.SecondaryMarker)
		}
	})

	t.Run("explicit missing file", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("OPENAI_API_KEY", "sk-test")

		if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Error("Load() with a missing explicit file should fail")
		}
	})
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing api key",
			env:     map[string]string{},
			wantErr: "APIKey",
		},
		{
			name: "max below min",
			env: map[string]string{
				"OPENAI_API_KEY":   "sk-test",
				"MIN_TOKENS_LIMIT": "500",
				"MAX_TOKENS_LIMIT": "100",
			},
			wantErr: "MaxTokens",
		},
		{
			name: "bad log format",
			env: map[string]string{
				"OPENAI_API_KEY": "sk-test",
				"LOG_FORMAT":     "xml",
			},
			wantErr: "Format",
		},
		{
			name: "bad base url",
			env: map[string]string{
				"OPENAI_API_KEY":     "sk-test",
				"BIG_MODEL_BASE_URL": "not a url",
			},
			wantErr: "BaseURL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load("")
			if err == nil {
				t.Fatal("Load() error = nil, want validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "test-value")
	t.Setenv("ANOTHER_VAR", "another")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "simple substitution",
			input: "${TEST_VAR}",
			want:  "test-value",
		},
		{
			name:  "multiple substitutions",
			input: "${TEST_VAR}-${ANOTHER_VAR}",
			want:  "test-value-another",
		},
		{
			name:  "no substitution",
			input: "plain-text",
			want:  "plain-text",
		},
		{
			name:  "undefined var",
			input: "${UNDEFINED_VAR_FOR_TEST}",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := substituteEnvVars(tt.input); got != tt.want {
				t.Errorf("substituteEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestStoreReload(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	path := filepath.Join(t.TempDir(), "bridge.yaml")
	write := func(model string) {
		t.Helper()
		if err := os.WriteFile(path, []byte("primary:\n  model: "+model+"\n"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write("gpt-4o")

	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	before := store.Current()

	var notified *Config
	store.OnReload(func(c *Config) { notified = c })

	write("gpt-4.1")
	if err := store.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	if got := store.Current().Primary.Model; got != "gpt-4.1" {
		t.Errorf("Current().Primary.Model = %q, want gpt-4.1", got)
	}
	if before.Primary.Model != "gpt-4o" {
		t.Errorf("earlier snapshot changed to %q", before.Primary.Model)
	}
	if notified != store.Current() {
		t.Error("OnReload listener did not receive the new snapshot")
	}

	// A broken file keeps the previous snapshot.
	if err := os.WriteFile(path, []byte("limits:\n  min_tokens: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := store.Reload(); err == nil {
		t.Error("Reload() with invalid config should fail")
	}
	if got := store.Current().Primary.Model; got != "gpt-4.1" {
		t.Errorf("Current().Primary.Model after failed reload = %q, want gpt-4.1", got)
	}
}

func TestStaticStore(t *testing.T) {
	cfg := &Config{Primary: TierConfig{Model: "m"}}
	store := NewStaticStore(cfg)
	if err := store.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if store.Current() != cfg {
		t.Error("static store replaced its snapshot")
	}
}

func TestStoreWatchPath(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	tests := []struct {
		name        string
		explicit    bool
		defaultFile bool
		want        string
	}{
		{name: "explicit file", explicit: true, want: "bridge.yaml"},
		{name: "default file present", defaultFile: true, want: DefaultConfigFile},
		{name: "no file", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())

			path := ""
			if tt.explicit {
				path = "bridge.yaml"
				if err := os.WriteFile(path, []byte("primary:\n  model: gpt-4o\n"), 0o600); err != nil {
					t.Fatal(err)
				}
			}
			if tt.defaultFile {
				if err := os.WriteFile(DefaultConfigFile, []byte("primary:\n  model: gpt-4o\n"), 0o600); err != nil {
					t.Fatal(err)
				}
			}

			store, err := NewStore(path, nil)
			if err != nil {
				t.Fatalf("NewStore() error = %v", err)
			}
			got := store.WatchPath()
			if tt.want == "" {
				if got != "" {
					t.Errorf("WatchPath() = %q, want empty", got)
				}
				return
			}
			if !filepath.IsAbs(got) || filepath.Base(got) != tt.want {
				t.Errorf("WatchPath() = %q, want absolute path to %s", got, tt.want)
			}
		})
	}
}

func TestStoreWatchReloadsDefaultFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Chdir(t.TempDir())

	if err := os.WriteFile(DefaultConfigFile, []byte("primary:\n  model: gpt-4o\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	store, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- store.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register before the write.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(DefaultConfigFile, []byte("primary:\n  model: gpt-4.1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for store.Current().Primary.Model != "gpt-4.1" {
		if time.Now().After(deadline) {
			t.Fatalf("Primary.Model = %q after write, want gpt-4.1", store.Current().Primary.Model)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
