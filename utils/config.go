package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration.
// It is built once at startup and passed by value into each component.
type Config struct {
	Reddit     RedditConfig     `json:"reddit" mapstructure:"reddit"`
	Monitor    MonitorConfig    `json:"monitor" mapstructure:"monitor"`
	Inbox      InboxConfig      `json:"inbox" mapstructure:"inbox"`
	Generation GenerationConfig `json:"generation" mapstructure:"generation"`
	Retrieval  RetrievalConfig  `json:"retrieval" mapstructure:"retrieval"`
	Scoring    ScoringConfig    `json:"scoring" mapstructure:"scoring"`
	Notify     NotifyConfig     `json:"notify" mapstructure:"notify"`
	Schedule   ScheduleConfig   `json:"schedule" mapstructure:"schedule"`
	Data       DataConfig       `json:"data" mapstructure:"data"`
	Logging    LoggingConfig    `json:"logging" mapstructure:"logging"`
	Server     ServerConfig     `json:"server" mapstructure:"server"`
}

// RedditConfig holds feed/inbox credentials
type RedditConfig struct {
	ClientID     string        `json:"client_id" mapstructure:"client_id"`
	ClientSecret string        `json:"client_secret" mapstructure:"client_secret"`
	RefreshToken string        `json:"refresh_token" mapstructure:"refresh_token"`
	Username     string        `json:"username" mapstructure:"username"`
	UserAgent    string        `json:"user_agent" mapstructure:"user_agent"`
	BaseURL      string        `json:"base_url" mapstructure:"base_url"`
	TokenURL     string        `json:"token_url" mapstructure:"token_url"`
	Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`
}

// Configured reports whether the feed and inbox can be polled.
func (c RedditConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
}

// MonitorConfig configures the source poller
type MonitorConfig struct {
	Subreddits []string `json:"subreddits" mapstructure:"subreddits"`
	Keywords   []string `json:"keywords" mapstructure:"keywords"`
	FetchLimit int      `json:"fetch_limit" mapstructure:"fetch_limit"`
}

// InboxConfig configures the conversation poller
type InboxConfig struct {
	FetchLimit int `json:"fetch_limit" mapstructure:"fetch_limit"`
	// Identity is the participant-facing handle named in the compliance footer.
	// Falls back to reddit.username.
	Identity string `json:"identity" mapstructure:"identity"`
}

// ProviderConfig represents LLM provider configuration
type ProviderConfig struct {
	DisplayName string  `json:"display_name" mapstructure:"display_name"`
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	BaseURL     string  `json:"base_url" mapstructure:"base_url"`
	Model       string  `json:"model" mapstructure:"model"`
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
}

// GenerationConfig configures the provider fallback chain
type GenerationConfig struct {
	Order       []string                  `json:"order" mapstructure:"order"`
	Providers   map[string]ProviderConfig `json:"providers" mapstructure:"providers"`
	Timeout     time.Duration             `json:"timeout" mapstructure:"timeout"`
	Placeholder string                    `json:"placeholder" mapstructure:"placeholder"`
}

// EmbeddingConfig configures the dense retrieval embedder
type EmbeddingConfig struct {
	APIKey string `json:"api_key" mapstructure:"api_key"`
	Model  string `json:"model" mapstructure:"model"`
}

// RetrievalConfig configures the knowledge store and retrieval engine
type RetrievalConfig struct {
	// Strategy is one of "auto", "dense", "lexical".
	Strategy     string          `json:"strategy" mapstructure:"strategy"`
	KnowledgeDir string          `json:"knowledge_dir" mapstructure:"knowledge_dir"`
	TopK         int             `json:"top_k" mapstructure:"top_k"`
	Embedding    EmbeddingConfig `json:"embedding" mapstructure:"embedding"`
}

// ScoringConfig selects the lead scorer
type ScoringConfig struct {
	// Strategy is "fixed" or "llm".
	Strategy     string  `json:"strategy" mapstructure:"strategy"`
	DefaultScore float64 `json:"default_score" mapstructure:"default_score"`
}

// NotifyConfig configures outbound alerts
type NotifyConfig struct {
	DiscordWebhookURL string        `json:"discord_webhook_url" mapstructure:"discord_webhook_url"`
	Timeout           time.Duration `json:"timeout" mapstructure:"timeout"`
}

// BandConfig is one piece of a weighted piecewise-random interval
type BandConfig struct {
	Weight float64       `json:"weight" mapstructure:"weight"`
	Min    time.Duration `json:"min" mapstructure:"min"`
	Max    time.Duration `json:"max" mapstructure:"max"`
}

// ScheduleConfig configures the two polling loops
type ScheduleConfig struct {
	MonitorBands []BandConfig  `json:"monitor_bands" mapstructure:"monitor_bands"`
	InboxBands   []BandConfig  `json:"inbox_bands" mapstructure:"inbox_bands"`
	TickTimeout  time.Duration `json:"tick_timeout" mapstructure:"tick_timeout"`
}

// DataConfig represents data storage configuration
type DataConfig struct {
	Driver string `json:"driver" mapstructure:"driver"`
	DBPath string `json:"db_path" mapstructure:"db_path"`
}

// LoggingConfig configures the zap logger
type LoggingConfig struct {
	Level string `json:"level" mapstructure:"level"`
	File  string `json:"file" mapstructure:"file"`
	JSON  bool   `json:"json" mapstructure:"json"`
}

// ServerConfig configures the optional collector HTTP surface
type ServerConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// Placeholder is the reply used when no generation provider succeeds.
const Placeholder = "I'm currently away but I've received your message. I'll get back to you shortly!"

// envAliases maps config keys to the environment variable names used by
// existing deployments.
var envAliases = map[string]string{
	"reddit.client_id":                     "REDDIT_CLIENT_ID",
	"reddit.client_secret":                 "REDDIT_CLIENT_SECRET",
	"reddit.refresh_token":                 "REDDIT_REFRESH_TOKEN",
	"reddit.username":                      "REDDIT_USERNAME",
	"generation.providers.gemini.api_key":  "GOOGLE_AI_API_KEY",
	"generation.providers.groq.api_key":    "GROQ_API_KEY",
	"generation.providers.openai.api_key":  "OPENAI_API_KEY",
	"generation.providers.claude.api_key":  "ANTHROPIC_API_KEY",
	"generation.providers.ollama.base_url": "OLLAMA_BASE_URL",
	"retrieval.embedding.api_key":          "GOOGLE_AI_API_KEY",
	"notify.discord_webhook_url":           "DISCORD_WEBHOOK_URL",
}

// DefaultConfig returns the built-in configuration
func DefaultConfig() Config {
	return Config{
		Reddit: RedditConfig{
			BaseURL:  "https://oauth.reddit.com",
			TokenURL: "https://www.reddit.com/api/v1/access_token",
			Timeout:  20 * time.Second,
		},
		Monitor: MonitorConfig{
			Subreddits: []string{
				"sales", "remote_sales", "freelance_sales", "salesjobs",
				"sidehustle", "marketing", "entrepreneur", "remote",
				"workfromhome", "jobbit",
			},
			Keywords: []string{
				"commission", "sales", "remote work", "freelance",
				"side hustle", "earn money", "work from home", "closer", "appointment setter",
			},
			FetchLimit: 20,
		},
		Inbox: InboxConfig{
			FetchLimit: 10,
		},
		Generation: GenerationConfig{
			Order: []string{"gemini", "groq", "openai", "claude", "ollama"},
			Providers: map[string]ProviderConfig{
				"gemini": {
					DisplayName: "Gemini",
					Model:       "gemini-1.5-flash",
					MaxTokens:   1024,
					Temperature: 0.7,
					Enabled:     true,
				},
				"groq": {
					DisplayName: "Groq",
					BaseURL:     "https://api.groq.com/openai/v1",
					Model:       "llama3-8b-8192",
					MaxTokens:   1024,
					Temperature: 0.7,
					Enabled:     true,
				},
				"openai": {
					DisplayName: "OpenAI",
					BaseURL:     "https://api.openai.com/v1",
					Model:       "gpt-4o-mini",
					MaxTokens:   1024,
					Temperature: 0.7,
					Enabled:     true,
				},
				"claude": {
					DisplayName: "Claude",
					BaseURL:     "https://api.anthropic.com/v1",
					Model:       "claude-3-5-haiku-20241022",
					MaxTokens:   1024,
					Temperature: 0.7,
					Enabled:     true,
				},
				"ollama": {
					DisplayName: "Ollama",
					Model:       "llama3",
					Enabled:     true,
				},
			},
			Timeout:     45 * time.Second,
			Placeholder: Placeholder,
		},
		Retrieval: RetrievalConfig{
			Strategy:     "auto",
			KnowledgeDir: "data/rag-knowledge",
			TopK:         2,
			Embedding: EmbeddingConfig{
				Model: "gemini-embedding-001",
			},
		},
		Scoring: ScoringConfig{
			Strategy:     "fixed",
			DefaultScore: 80,
		},
		Notify: NotifyConfig{
			Timeout: 10 * time.Second,
		},
		Schedule: ScheduleConfig{
			MonitorBands: []BandConfig{
				{Weight: 0.7, Min: 300 * time.Second, Max: 480 * time.Second},
				{Weight: 0.2, Min: 180 * time.Second, Max: 300 * time.Second},
				{Weight: 0.1, Min: 480 * time.Second, Max: 720 * time.Second},
			},
			InboxBands: []BandConfig{
				{Weight: 0.7, Min: 50 * time.Second, Max: 80 * time.Second},
				{Weight: 0.2, Min: 30 * time.Second, Max: 50 * time.Second},
				{Weight: 0.1, Min: 80 * time.Second, Max: 150 * time.Second},
			},
			TickTimeout: 5 * time.Minute,
		},
		Data: DataConfig{
			Driver: "sqlite3",
			DBPath: "./data/leadstore.sqlite",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig builds the configuration from defaults, an optional config file
// and the environment. An empty configPath skips the file.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix("LEADPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		if err := v.BindEnv(key, "LEADPILOT_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if config.Data.DBPath != "" && config.Data.DBPath != ":memory:" {
		config.Data.DBPath = expandPath(config.Data.DBPath)
	}
	if config.Retrieval.KnowledgeDir != "" {
		config.Retrieval.KnowledgeDir = expandPath(config.Retrieval.KnowledgeDir)
	}
	if config.Inbox.Identity == "" {
		config.Inbox.Identity = config.Reddit.Username
	}
	if config.Generation.Placeholder == "" {
		config.Generation.Placeholder = Placeholder
	}

	return &config, nil
}

// setDefaults registers every leaf of the default config with viper so that
// AutomaticEnv can override any of them.
func setDefaults(v *viper.Viper, def Config) {
	data, _ := json.Marshal(def)
	var tree map[string]any
	_ = json.Unmarshal(data, &tree)
	walkDefaults(v, "", tree)

	// durations and bands marshal to numbers; register the typed values instead
	v.SetDefault("reddit.timeout", def.Reddit.Timeout)
	v.SetDefault("generation.timeout", def.Generation.Timeout)
	v.SetDefault("notify.timeout", def.Notify.Timeout)
	v.SetDefault("schedule.tick_timeout", def.Schedule.TickTimeout)
	v.SetDefault("schedule.monitor_bands", def.Schedule.MonitorBands)
	v.SetDefault("schedule.inbox_bands", def.Schedule.InboxBands)
}

func walkDefaults(v *viper.Viper, prefix string, node map[string]any) {
	for key, value := range node {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if child, ok := value.(map[string]any); ok {
			walkDefaults(v, full, child)
			continue
		}
		v.SetDefault(full, value)
	}
}

// Gaps lists the features disabled by missing configuration.
func (c Config) Gaps() []string {
	var gaps []string
	if !c.Reddit.Configured() {
		gaps = append(gaps, "reddit credentials missing: lead and inbox polling disabled")
	}
	if c.Notify.DiscordWebhookURL == "" {
		gaps = append(gaps, "notification webhook missing: notifications disabled")
	}
	configured := 0
	for _, name := range c.Generation.Order {
		if p, ok := c.Generation.Providers[name]; ok && p.Enabled && (p.APIKey != "" || (name == "ollama" && p.BaseURL != "")) {
			configured++
		}
	}
	if configured == 0 {
		gaps = append(gaps, "no generation provider configured: replies use the placeholder text")
	}
	if c.Inbox.Identity == "" {
		gaps = append(gaps, "participant-facing identity missing: compliance footer names no account")
	}
	return gaps
}

// SaveConfig saves configuration to file
func SaveConfig(configPath string, config *Config) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// expandPath expands ~ and relative paths
func expandPath(path string) string {
	if len(path) == 0 {
		return path
	}

	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	absPath, err := filepath.Abs(path)
	if err == nil {
		return absPath
	}

	return path
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "./config/leadpilot.json"
	}

	return filepath.Join(configDir, "leadpilot", "config.json")
}

// EnsureDefaultConfig creates a default config file if it doesn't exist
func EnsureDefaultConfig(configPath string) (string, error) {
	if configPath == "" {
		configPath = GetConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil {
		return configPath, nil
	}

	defaultConfig := DefaultConfig()
	if err := SaveConfig(configPath, &defaultConfig); err != nil {
		return "", err
	}

	return configPath, nil
}
