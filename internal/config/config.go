package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level a11yscout config.
	WorkspaceDirName = ".a11yscout"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// Supported language-model providers.
const (
	ProviderGroq   = "groq"
	ProviderGemini = "gemini"
)

// Probe execution modes.
const (
	ProbeModeLocal  = "local"
	ProbeModeRemote = "remote"
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for the audit server and agent.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Target  TargetConfig  `yaml:"target"`
	Browser BrowserConfig `yaml:"browser"`
	LLM     LLMConfig     `yaml:"llm"`
	Axe     AxeConfig     `yaml:"axe"`
	Probes  ProbesConfig  `yaml:"probes"`
	Agent   AgentConfig   `yaml:"agent"`
	Reports ReportsConfig `yaml:"reports"`
	MCP     MCPConfig     `yaml:"mcp"`
	HTTP    HTTPConfig    `yaml:"http"`
	Mangle  MangleConfig  `yaml:"mangle"`
}

type ServerConfig struct {
	Name     string `yaml:"name"`
	Version  string `yaml:"version"`
	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`
}

// TargetConfig names the page under audit.
type TargetConfig struct {
	URL       string          `yaml:"url"`
	BasicAuth BasicAuthConfig `yaml:"basic_auth"`
}

type BasicAuthConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command (e.g., ["chromium", "--no-sandbox"]).
	Launch []string `yaml:"launch"`
	// AutoStart controls whether the browser is launched/attached at startup.
	AutoStart bool `yaml:"auto_start"`
	// Headless controls whether Chrome runs in headless mode (default: true).
	Headless *bool `yaml:"headless"`
	// Default navigation timeout (e.g., "30s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	ViewportWidth            int    `yaml:"viewport_width"`
	ViewportHeight           int    `yaml:"viewport_height"`
}

// LLMConfig selects the completion provider used for intent resolution and synthesis.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// APIKey wins over APIKeyEnv when both are set.
	APIKey      string  `yaml:"api_key"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Timeout     string  `yaml:"timeout"`
}

// AxeConfig tells the scanner where to load axe-core from. ScriptPath wins over ScriptURL.
type AxeConfig struct {
	ScriptURL  string `yaml:"script_url"`
	ScriptPath string `yaml:"script_path"`
}

type ProbesConfig struct {
	// Mode is "local" (drive the browser in-process) or "remote" (POST to another server's /tools/<name>).
	Mode          string `yaml:"mode"`
	RemoteBaseURL string `yaml:"remote_base_url"`
}

type AgentConfig struct {
	ConcurrentDispatch bool `yaml:"concurrent_dispatch"`
	// TraceDir enables per-cycle JSONL traces of state transitions.
	TraceDir string `yaml:"trace_dir"`
}

type ReportsConfig struct {
	Dir string `yaml:"dir"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MangleConfig controls the embedded findings store.
type MangleConfig struct {
	Enable          bool `yaml:"enable"`
	FactBufferLimit int  `yaml:"fact_buffer_limit"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:     "a11yscout",
			Version:  "0.1.0",
			LogFile:  "a11yscout.log",
			LogLevel: "info",
		},
		Target: TargetConfig{
			URL: "https://example.com",
		},
		Browser: BrowserConfig{
			AutoStart:                true,
			DefaultNavigationTimeout: "30s",
			ViewportWidth:            1920,
			ViewportHeight:           1080,
		},
		LLM: LLMConfig{
			Provider:    ProviderGroq,
			Model:       "llama-3.1-8b-instant",
			APIKeyEnv:   "GROQ_API_KEY",
			Temperature: 0,
			MaxTokens:   1024,
			Timeout:     "60s",
		},
		Axe: AxeConfig{
			ScriptURL: "https://cdnjs.cloudflare.com/ajax/libs/axe-core/4.10.2/axe.min.js",
		},
		Probes: ProbesConfig{
			Mode: ProbeModeLocal,
		},
		Reports: ReportsConfig{
			Dir: "reports",
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Host:    "localhost",
			Port:    3000,
		},
		Mangle: MangleConfig{
			Enable:          true,
			FactBufferLimit: 4096,
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .a11yscout/config.yaml file.
// Returns the workspace root directory (parent of .a11yscout/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .a11yscout/config.yaml <- explicit --config <- CLI flags
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, cfg.Validate()
}

// InitWorkspace creates a .a11yscout/ directory with template files at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	dirs := []string{
		wsDir,
		filepath.Join(wsDir, "reports"),
		filepath.Join(wsDir, "traces"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	templateConfig := `# a11yscout project-level configuration
# Values here override defaults but are overridden by --config and CLI flags.

# target:
#   url: "https://example.com"
#   basic_auth:
#     enabled: false
#     username: ""
#     password: ""

# llm:
#   provider: groq            # groq | gemini
#   model: llama-3.1-8b-instant
#   api_key_env: GROQ_API_KEY

# reports:
#   dir: "reports"

# agent:
#   concurrent_dispatch: false
#   trace_dir: "traces"
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	gitignoreContent := "# Generated audit output - do not version control\nreports/\ntraces/\n"
	gitignorePath := filepath.Join(wsDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte(gitignoreContent), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, WorkspaceDirName, p)
	}

	cfg.Server.LogFile = resolve(cfg.Server.LogFile)
	cfg.Reports.Dir = resolve(cfg.Reports.Dir)
	cfg.Agent.TraceDir = resolve(cfg.Agent.TraceDir)
	cfg.Axe.ScriptPath = resolve(cfg.Axe.ScriptPath)
	return cfg
}

// Validate ensures required fields exist so the server can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if strings.TrimSpace(c.Target.URL) == "" {
		return errors.New("target.url is required")
	}
	if c.Target.BasicAuth.Enabled && c.Target.BasicAuth.Username == "" {
		return errors.New("target.basic_auth.username is required when basic auth is enabled")
	}
	switch c.LLM.Provider {
	case ProviderGroq, ProviderGemini:
	default:
		return fmt.Errorf("llm.provider must be %q or %q, got %q", ProviderGroq, ProviderGemini, c.LLM.Provider)
	}
	switch c.Probes.Mode {
	case ProbeModeLocal:
		// With neither debugger_url nor launch set, Rod's launcher locates a browser itself.
	case ProbeModeRemote:
		if c.Probes.RemoteBaseURL == "" {
			return errors.New("probes.remote_base_url is required in remote mode")
		}
	default:
		return fmt.Errorf("probes.mode must be %q or %q, got %q", ProbeModeLocal, ProbeModeRemote, c.Probes.Mode)
	}
	if c.Reports.Dir == "" {
		return errors.New("reports.dir is required")
	}
	return nil
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	if b.DefaultNavigationTimeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(b.DefaultNavigationTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1920
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 1080
	}
	return b.ViewportHeight
}

// ResolveAPIKey returns the configured key, falling back to the named environment variable.
// This is the only place process environment is consulted for credentials.
func (l LLMConfig) ResolveAPIKey() string {
	if l.APIKey != "" {
		return l.APIKey
	}
	if l.APIKeyEnv != "" {
		return os.Getenv(l.APIKeyEnv)
	}
	return ""
}

// RequestTimeout returns the per-call timeout for the completion client.
func (l LLMConfig) RequestTimeout() time.Duration {
	if l.Timeout == "" {
		return 60 * time.Second
	}
	d, err := time.ParseDuration(l.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetMaxTokens returns the completion token cap (default: 1024).
func (l LLMConfig) GetMaxTokens() int {
	if l.MaxTokens <= 0 {
		return 1024
	}
	return l.MaxTokens
}

// Address returns host:port for the HTTP API.
func (h HTTPConfig) Address() string {
	port := h.Port
	if port <= 0 {
		port = 3000
	}
	return fmt.Sprintf("%s:%d", h.Host, port)
}
