// Package config loads agentflow's startup settings: the optional
// agentflow.toml overlay, the .env file, the agent credential and the
// system prompt.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"agentflow/internal/agent"
	"agentflow/internal/logging"
)

const (
	// FileName is the config file looked up in the tool directory.
	FileName = "agentflow.toml"
	// CredentialKey is the environment key holding the agent API key.
	CredentialKey = "CURSOR_API_KEY"

	defaultPromptFile  = "coding_prompt.txt"
	defaultEnvFile     = ".env"
	defaultProjectRoot = ".."
)

var (
	// ErrMissingCredential means CURSOR_API_KEY is in neither .env nor the
	// environment.
	ErrMissingCredential = errors.New(CredentialKey + " not set")
	// ErrMissingPromptFile means the system prompt file does not exist.
	ErrMissingPromptFile = errors.New("prompt file not found")
)

// Config holds resolved settings. Paths are absolute.
type Config struct {
	Dir          string // tool directory holding .env, the prompt file and agentflow.toml
	Agent        string
	AgentArgs    []string
	Model        string
	ProjectRoot  string
	Transport    agent.Transport
	TurnTimeout  time.Duration
	PromptFile   string
	EnvFile      string
	LogLevel     log.Level
	Env          map[string]string // entries read from EnvFile
	APIKey       string
	SystemPrompt string
}

type fileConfig struct {
	Agent       *string   `toml:"agent"`
	AgentArgs   *[]string `toml:"agent_args"`
	Model       *string   `toml:"model"`
	ProjectRoot *string   `toml:"project_root"`
	Transport   *string   `toml:"transport"`
	TurnTimeout *string   `toml:"turn_timeout"`
	PromptFile  *string   `toml:"prompt_file"`
	EnvFile     *string   `toml:"env_file"`
	LogLevel    *string   `toml:"log_level"`
}

// Load resolves settings for the tool directory dir. configPath names an
// explicit config file; when empty, dir/agentflow.toml is used if present.
func Load(dir, configPath string) (*Config, error) {
	return load(dir, configPath, os.LookupEnv)
}

func load(dir, configPath string, lookupEnv func(string) (string, bool)) (*Config, error) {
	if dir == "" {
		dir = "."
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve tool directory: %w", err)
	}

	raw := rawConfig{
		agent:       agent.DefaultBinary,
		projectRoot: defaultProjectRoot,
		transport:   string(agent.TransportPipe),
		promptFile:  defaultPromptFile,
		envFile:     defaultEnvFile,
	}

	required := configPath != ""
	if configPath == "" {
		configPath = filepath.Join(absDir, FileName)
	}
	if err := overlayFromFile(&raw, configPath, required); err != nil {
		return nil, err
	}

	cfg, err := raw.resolve(absDir)
	if err != nil {
		return nil, err
	}

	env, err := readEnvFile(cfg.EnvFile)
	if err != nil {
		return nil, err
	}
	cfg.Env = env

	cfg.APIKey = strings.TrimSpace(env[CredentialKey])
	if cfg.APIKey == "" {
		if v, ok := lookupEnv(CredentialKey); ok {
			cfg.APIKey = strings.TrimSpace(v)
		}
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: add it to %s", ErrMissingCredential, cfg.EnvFile)
	}

	prompt, err := os.ReadFile(cfg.PromptFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingPromptFile, cfg.PromptFile)
		}
		return nil, fmt.Errorf("read prompt file: %w", err)
	}
	cfg.SystemPrompt = strings.TrimSpace(string(prompt))

	return cfg, nil
}

// ChildEnv returns the variables added to the agent's inherited environment:
// every .env entry plus the credential.
func (c *Config) ChildEnv() map[string]string {
	env := make(map[string]string, len(c.Env)+1)
	for k, v := range c.Env {
		env[k] = v
	}
	env[CredentialKey] = c.APIKey
	return env
}

// rawConfig holds settings before validation.
type rawConfig struct {
	agent       string
	agentArgs   []string
	model       string
	projectRoot string
	transport   string
	turnTimeout string
	promptFile  string
	envFile     string
	logLevel    string
}

func overlayFromFile(raw *rawConfig, path string, required bool) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	md, err := toml.DecodeFile(path, &decoded)
	if err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown key %q in %q", undecoded[0].String(), path)
	}

	if decoded.Agent != nil {
		raw.agent = strings.TrimSpace(*decoded.Agent)
	}
	if decoded.AgentArgs != nil {
		raw.agentArgs = append([]string(nil), (*decoded.AgentArgs)...)
	}
	if decoded.Model != nil {
		raw.model = strings.TrimSpace(*decoded.Model)
	}
	if decoded.ProjectRoot != nil {
		raw.projectRoot = strings.TrimSpace(*decoded.ProjectRoot)
	}
	if decoded.Transport != nil {
		raw.transport = *decoded.Transport
	}
	if decoded.TurnTimeout != nil {
		raw.turnTimeout = strings.TrimSpace(*decoded.TurnTimeout)
	}
	if decoded.PromptFile != nil {
		raw.promptFile = strings.TrimSpace(*decoded.PromptFile)
	}
	if decoded.EnvFile != nil {
		raw.envFile = strings.TrimSpace(*decoded.EnvFile)
	}
	if decoded.LogLevel != nil {
		raw.logLevel = *decoded.LogLevel
	}
	return nil
}

func (r rawConfig) resolve(dir string) (*Config, error) {
	transport, err := agent.ParseTransport(r.transport)
	if err != nil {
		return nil, fmt.Errorf("config transport: %w", err)
	}
	level, err := logging.ParseLevel(r.logLevel)
	if err != nil {
		return nil, fmt.Errorf("config log_level: %w", err)
	}

	var timeout time.Duration
	if r.turnTimeout != "" {
		timeout, err = time.ParseDuration(r.turnTimeout)
		if err != nil {
			return nil, fmt.Errorf("parse turn_timeout: %w", err)
		}
		if timeout < 0 {
			return nil, fmt.Errorf("turn_timeout must not be negative, got %s", timeout)
		}
	}

	binary := r.agent
	if binary == "" {
		binary = agent.DefaultBinary
	}

	return &Config{
		Dir:         dir,
		Agent:       binary,
		AgentArgs:   r.agentArgs,
		Model:       r.model,
		ProjectRoot: resolvePath(dir, r.projectRoot, defaultProjectRoot),
		Transport:   transport,
		TurnTimeout: timeout,
		PromptFile:  resolvePath(dir, r.promptFile, defaultPromptFile),
		EnvFile:     resolvePath(dir, r.envFile, defaultEnvFile),
		LogLevel:    level,
	}, nil
}

// resolvePath makes p absolute relative to dir, falling back to def when p
// is empty.
func resolvePath(dir, p, def string) string {
	if p == "" {
		p = def
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(dir, p)
}

// readEnvFile parses a .env file without touching the process environment.
// A missing file yields no entries.
func readEnvFile(path string) (map[string]string, error) {
	env, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read env file %q: %w", path, err)
	}
	return env, nil
}
