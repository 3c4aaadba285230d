package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "a11yscout", cfg.Server.Name)
	assert.Equal(t, "a11yscout.log", cfg.Server.LogFile)
	assert.Equal(t, "https://example.com", cfg.Target.URL)
	assert.False(t, cfg.Target.BasicAuth.Enabled)
	assert.Equal(t, ProviderGroq, cfg.LLM.Provider)
	assert.Equal(t, "llama-3.1-8b-instant", cfg.LLM.Model)
	assert.Equal(t, "GROQ_API_KEY", cfg.LLM.APIKeyEnv)
	assert.Equal(t, 1024, cfg.LLM.MaxTokens)
	assert.Equal(t, ProbeModeLocal, cfg.Probes.Mode)
	assert.Equal(t, "reports", cfg.Reports.Dir)
	assert.False(t, cfg.Agent.ConcurrentDispatch)
	assert.Equal(t, 3000, cfg.HTTP.Port)
	assert.True(t, cfg.Mangle.Enable)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.Equal(t, "config path is required", err.Error())
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoadValidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
server:
  name: "audit-test"
target:
  url: "https://shop.example.org"
  basic_auth:
    enabled: true
    username: "qa"
    password: "secret"
browser:
  headless: false
  default_navigation_timeout: "20s"
llm:
  provider: gemini
  model: gemini-2.5-flash
  api_key_env: GEMINI_API_KEY
agent:
  concurrent_dispatch: true
reports:
  dir: "/var/lib/a11y"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "audit-test", cfg.Server.Name)
	assert.Equal(t, "https://shop.example.org", cfg.Target.URL)
	assert.True(t, cfg.Target.BasicAuth.Enabled)
	assert.Equal(t, "qa", cfg.Target.BasicAuth.Username)
	assert.False(t, cfg.Browser.IsHeadless())
	assert.Equal(t, 20*time.Second, cfg.Browser.NavigationTimeout())
	assert.Equal(t, ProviderGemini, cfg.LLM.Provider)
	assert.True(t, cfg.Agent.ConcurrentDispatch)
	assert.Equal(t, "/var/lib/a11y", cfg.Reports.Dir)
	// untouched defaults survive the overlay
	assert.Equal(t, 1024, cfg.LLM.MaxTokens)
	assert.Equal(t, 1920, cfg.Browser.GetViewportWidth())
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, "server: [unclosed")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"missing name", func(c *Config) { c.Server.Name = "" }, "server.name is required"},
		{"missing target", func(c *Config) { c.Target.URL = "  " }, "target.url is required"},
		{"basic auth without user", func(c *Config) { c.Target.BasicAuth.Enabled = true }, "username is required"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "openai" }, "llm.provider"},
		{"remote without base", func(c *Config) { c.Probes.Mode = ProbeModeRemote }, "remote_base_url"},
		{"remote with base", func(c *Config) {
			c.Probes.Mode = ProbeModeRemote
			c.Probes.RemoteBaseURL = "http://localhost:3000"
		}, ""},
		{"unknown mode", func(c *Config) { c.Probes.Mode = "hybrid" }, "probes.mode"},
		{"missing reports dir", func(c *Config) { c.Reports.Dir = "" }, "reports.dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	assert.Equal(t, 30*time.Second, BrowserConfig{}.NavigationTimeout())
	assert.Equal(t, 30*time.Second, BrowserConfig{DefaultNavigationTimeout: "bogus"}.NavigationTimeout())
	assert.Equal(t, 5*time.Second, BrowserConfig{DefaultNavigationTimeout: "5s"}.NavigationTimeout())

	assert.Equal(t, 60*time.Second, LLMConfig{}.RequestTimeout())
	assert.Equal(t, 90*time.Second, LLMConfig{Timeout: "90s"}.RequestTimeout())
	assert.Equal(t, 1024, LLMConfig{}.GetMaxTokens())
	assert.Equal(t, 256, LLMConfig{MaxTokens: 256}.GetMaxTokens())
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("A11Y_TEST_KEY", "from-env")

	assert.Equal(t, "inline", LLMConfig{APIKey: "inline", APIKeyEnv: "A11Y_TEST_KEY"}.ResolveAPIKey())
	assert.Equal(t, "from-env", LLMConfig{APIKeyEnv: "A11Y_TEST_KEY"}.ResolveAPIKey())
	assert.Empty(t, LLMConfig{}.ResolveAPIKey())
}

func TestHTTPAddress(t *testing.T) {
	assert.Equal(t, "localhost:3000", HTTPConfig{Host: "localhost"}.Address())
	assert.Equal(t, "0.0.0.0:8080", HTTPConfig{Host: "0.0.0.0", Port: 8080}.Address())
}

func TestDiscoverWorkspace(t *testing.T) {
	t.Run("found in start dir", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, WorkspaceDirName, WorkspaceConfigFile), "")

		found, err := DiscoverWorkspace(root)
		require.NoError(t, err)
		assert.Equal(t, root, found)
	})

	t.Run("walks up", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, WorkspaceDirName, WorkspaceConfigFile), "")
		nested := filepath.Join(root, "a", "b", "c")
		require.NoError(t, os.MkdirAll(nested, 0755))

		found, err := DiscoverWorkspace(nested)
		require.NoError(t, err)
		assert.Equal(t, root, found)
	})

	t.Run("not found", func(t *testing.T) {
		found, err := DiscoverWorkspace(t.TempDir())
		require.NoError(t, err)
		assert.Empty(t, found)
	})
}

func TestLoadWithWorkspace(t *testing.T) {
	t.Run("disabled uses defaults", func(t *testing.T) {
		cfg, wsDir, err := LoadWithWorkspace("", WorkspaceOptions{Disable: true})
		require.NoError(t, err)
		assert.Empty(t, wsDir)
		assert.Equal(t, "a11yscout", cfg.Server.Name)
	})

	t.Run("workspace overrides defaults and resolves paths", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, WorkspaceDirName, WorkspaceConfigFile), `
target:
  url: "https://ws.example.com"
agent:
  trace_dir: "traces"
`)

		cfg, wsDir, err := LoadWithWorkspace("", WorkspaceOptions{ExplicitDir: root})
		require.NoError(t, err)
		assert.Equal(t, root, wsDir)
		assert.Equal(t, "https://ws.example.com", cfg.Target.URL)
		assert.Equal(t, filepath.Join(root, WorkspaceDirName, "traces"), cfg.Agent.TraceDir)
		assert.Equal(t, filepath.Join(root, WorkspaceDirName, "reports"), cfg.Reports.Dir)
	})

	t.Run("explicit overrides workspace", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, WorkspaceDirName, WorkspaceConfigFile), `
target:
  url: "https://ws.example.com"
`)
		explicit := filepath.Join(root, "explicit.yaml")
		writeFile(t, explicit, `
target:
  url: "https://explicit.example.com"
`)

		cfg, _, err := LoadWithWorkspace(explicit, WorkspaceOptions{ExplicitDir: root})
		require.NoError(t, err)
		assert.Equal(t, "https://explicit.example.com", cfg.Target.URL)
	})

	t.Run("absolute paths untouched", func(t *testing.T) {
		root := t.TempDir()
		abs := filepath.Join(t.TempDir(), "out")
		writeFile(t, filepath.Join(root, WorkspaceDirName, WorkspaceConfigFile), "reports:\n  dir: \""+filepath.ToSlash(abs)+"\"\n")

		cfg, _, err := LoadWithWorkspace("", WorkspaceOptions{ExplicitDir: root})
		require.NoError(t, err)
		assert.Equal(t, filepath.ToSlash(abs), filepath.ToSlash(cfg.Reports.Dir))
	})
}

func TestInitWorkspace(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, InitWorkspace(root))

	wsDir := filepath.Join(root, WorkspaceDirName)
	for _, dir := range []string{wsDir, filepath.Join(wsDir, "reports"), filepath.Join(wsDir, "traces")} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	data, err := os.ReadFile(filepath.Join(wsDir, WorkspaceConfigFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "target:")

	// template must stay loadable
	_, _, err = LoadWithWorkspace("", WorkspaceOptions{ExplicitDir: root})
	assert.NoError(t, err)

	err = InitWorkspace(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}
