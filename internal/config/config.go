package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrMissing is returned by Validate when a required value is not set.
var ErrMissing = errors.New("required configuration missing")

// Config holds the application configuration
type Config struct {
	LogLevel string         `mapstructure:"log_level"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Mail     MailConfig     `mapstructure:"mail"`
	IMessage IMessageConfig `mapstructure:"imessage"`
	Journal  JournalConfig  `mapstructure:"journal"`
}

// LLMConfig holds the generation service configuration
type LLMConfig struct {
	Provider         string        `mapstructure:"provider"`
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	Model            string        `mapstructure:"model"`
	SystemPromptFile string        `mapstructure:"system_prompt_file"`
	Timeout          time.Duration `mapstructure:"timeout"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	MaxInputChars    int           `mapstructure:"max_input_chars"`
}

// AuthConfig holds the mail credential configuration
type AuthConfig struct {
	TenantID     string `mapstructure:"tenant_id"`
	ClientID     string `mapstructure:"client_id"`
	CacheBackend string `mapstructure:"cache_backend"`
	CachePath    string `mapstructure:"cache_path"`
	DeviceCode   bool   `mapstructure:"device_code"`
}

// MailConfig holds the remote mail source configuration
type MailConfig struct {
	Address        string   `mapstructure:"address"`
	GraphURL       string   `mapstructure:"graph_url"`
	MaxItems       int      `mapstructure:"max_items"`
	ThreadItems    int      `mapstructure:"thread_items"`
	AllowedDomains []string `mapstructure:"allowed_domains"`
}

// IMessageConfig holds the local message store configuration
type IMessageConfig struct {
	DBPath       string        `mapstructure:"db_path"`
	Lookback     time.Duration `mapstructure:"lookback"`
	Window       int           `mapstructure:"window"`
	ContextItems int           `mapstructure:"context_items"`
}

// JournalConfig holds the draft journal configuration
type JournalConfig struct {
	OutputDir    string `mapstructure:"output_dir"`
	ExcerptChars int    `mapstructure:"excerpt_chars"`
}

// legacyEnv maps config keys to the environment variables earlier
// releases documented.
var legacyEnv = map[string]string{
	"auth.tenant_id":         "OVENMITT_TENANT_ID",
	"auth.client_id":         "OVENMITT_CLIENT_ID",
	"auth.cache_path":        "OVENMITT_TOKEN_CACHE",
	"mail.address":           "OVENMITT_EMAIL",
	"llm.base_url":           "OVENMITT_OLLAMA_URL",
	"llm.model":              "OVENMITT_OLLAMA_MODEL",
	"llm.system_prompt_file": "OVENMITT_SYSTEM_PROMPT_FILE",
	"journal.output_dir":     "OVENMITT_OUTPUT_DIR",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("llm.provider", "ollama")
	v.SetDefault("llm.base_url", "http://localhost:11434")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "qwen2.5:32b")
	v.SetDefault("llm.system_prompt_file", "~/.ovenmitt_prompt.txt")
	v.SetDefault("llm.timeout", 120*time.Second)
	v.SetDefault("llm.probe_timeout", 5*time.Second)
	v.SetDefault("llm.max_input_chars", 0)

	v.SetDefault("auth.client_id", "d3590ed6-52b3-4102-aeff-aad2292ab01c")
	v.SetDefault("auth.cache_backend", "file")
	v.SetDefault("auth.cache_path", "~/.ovenmitt_token_cache.json")
	v.SetDefault("auth.device_code", false)

	v.SetDefault("mail.graph_url", "https://graph.microsoft.com/v1.0")
	v.SetDefault("mail.max_items", 10)
	v.SetDefault("mail.thread_items", 5)
	v.SetDefault("mail.allowed_domains", []string{})

	v.SetDefault("imessage.db_path", "~/Library/Messages/chat.db")
	v.SetDefault("imessage.lookback", 7*24*time.Hour)
	v.SetDefault("imessage.window", 20)
	v.SetDefault("imessage.context_items", 5)

	v.SetDefault("journal.output_dir", "~/ovenmitt_drafts")
	v.SetDefault("journal.excerpt_chars", 500)
}

// Load builds the configuration from defaults, an optional YAML file, a .env
// file and the environment, in increasing order of precedence. path may be
// empty, in which case CONFIG_PATH and the standard locations are searched.
func Load(path string) (*Config, error) {
	// a missing .env is the common case
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ovenmitt")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "ovenmitt"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("OVENMITT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "OVENMITT_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Auth.CachePath = ExpandHome(c.Auth.CachePath)
	c.LLM.SystemPromptFile = ExpandHome(c.LLM.SystemPromptFile)
	c.IMessage.DBPath = ExpandHome(c.IMessage.DBPath)
	c.Journal.OutputDir = ExpandHome(c.Journal.OutputDir)

	// OVENMITT_OLLAMA_URL historically pointed at the chat endpoint itself.
	c.LLM.BaseURL = strings.TrimSuffix(strings.TrimSuffix(c.LLM.BaseURL, "/"), "/api/chat")
	c.LLM.Provider = strings.ToLower(c.LLM.Provider)
	c.Auth.CacheBackend = strings.ToLower(c.Auth.CacheBackend)

	domains := c.Mail.AllowedDomains[:0]
	for _, d := range c.Mail.AllowedDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			domains = append(domains, d)
		}
	}
	c.Mail.AllowedDomains = domains
}

// Validate reports missing values needed by the selected work. Mail values
// are only required when the mail source or the auth-only mode will run;
// generation values only when drafts will be produced.
func (c *Config) Validate(needMail, needGeneration bool) error {
	var missing []string
	if needMail {
		if c.Auth.TenantID == "" {
			missing = append(missing, "OVENMITT_TENANT_ID")
		}
		if c.Mail.Address == "" {
			missing = append(missing, "OVENMITT_EMAIL")
		}
	}
	if needGeneration && c.LLM.Model == "" {
		missing = append(missing, "OVENMITT_OLLAMA_MODEL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s not set", ErrMissing, strings.Join(missing, ", "))
	}
	if needMail {
		switch c.Auth.CacheBackend {
		case "file", "keyring":
		default:
			return fmt.Errorf("unknown auth.cache_backend %q", c.Auth.CacheBackend)
		}
	}
	if needGeneration {
		switch c.LLM.Provider {
		case "ollama", "openai":
		default:
			return fmt.Errorf("unknown llm.provider %q", c.LLM.Provider)
		}
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
