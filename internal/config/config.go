package config

import (
	"os"
	"path/filepath"
	"strings"

	"log/slog"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Models     ModelsConfig     `koanf:"models"`
	Extraction ExtractionConfig `koanf:"extraction"`
	Session    SessionConfig    `koanf:"session"`
	Webhook    WebhookConfig    `koanf:"webhook"`
	Store      StoreConfig      `koanf:"store"`
	Retention  RetentionConfig  `koanf:"retention"`
	Alerts     AlertsConfig     `koanf:"alerts"`
}

type ServerConfig struct {
	Port            int    `koanf:"port"`
	LogLevel        string `koanf:"log_level"`
	ReadTimeout     string `koanf:"read_timeout"`
	WriteTimeout    string `koanf:"write_timeout"`
	IdleTimeout     string `koanf:"idle_timeout"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

type ModelsConfig struct {
	Default             string          `koanf:"default"`
	Fallback            string          `koanf:"fallback"`
	MaxFallbackAttempts int             `koanf:"max_fallback_attempts"`
	Registry            []ModelRegistry `koanf:"registry"`
}

type ModelRegistry struct {
	Name           string `koanf:"name"`
	Provider       string `koanf:"provider"`
	BaseURL        string `koanf:"base_url"`
	APIKey         string `koanf:"api_key"`
	RequestTimeout string `koanf:"request_timeout"`
}

type ExtractionConfig struct {
	Model               string `koanf:"model"`
	ConfidenceThreshold int    `koanf:"confidence_threshold"`
	RequestTimeout      string `koanf:"request_timeout"`
}

type SessionConfig struct {
	IdleTimeout string `koanf:"idle_timeout"`
}

type WebhookConfig struct {
	Workers           int     `koanf:"workers"`
	QueueSize         int     `koanf:"queue_size"`
	RequestTimeout    string  `koanf:"request_timeout"`
	MaxAttempts       int     `koanf:"max_attempts"`
	RetryBackoff      string  `koanf:"retry_backoff"`
	ShutdownTimeout   string  `koanf:"shutdown_timeout"`
	HealthWindow      int     `koanf:"health_window"`
	HealthWarning     float64 `koanf:"health_warning"`
	HealthCritical    float64 `koanf:"health_critical"`
	HealthIncludeTest bool    `koanf:"health_include_test"`
}

type StoreConfig struct {
	Path string `koanf:"path"`
}

type RetentionConfig struct {
	SweepSchedule string `koanf:"sweep_schedule"`
}

type AlertsConfig struct {
	Slack    SlackAlertConfig    `koanf:"slack"`
	Telegram TelegramAlertConfig `koanf:"telegram"`
}

type SlackAlertConfig struct {
	Enabled  bool   `koanf:"enabled"`
	BotToken string `koanf:"bot_token"`
	Channel  string `koanf:"channel"`
}

type TelegramAlertConfig struct {
	Enabled  bool   `koanf:"enabled"`
	BotToken string `koanf:"bot_token"`
	ChatID   int64  `koanf:"chat_id"`
}

const (
	DefaultServerPort            = 8080
	DefaultServerLogLevel        = "info"
	DefaultServerReadTimeout     = "10s"
	DefaultServerWriteTimeout    = "10s"
	DefaultServerIdleTimeout     = "60s"
	DefaultServerShutdownTimeout = "5s"

	DefaultModelDefault             = "gpt-4o-mini"
	DefaultModelFallback            = "claude-3-haiku"
	DefaultModelMaxFallbackAttempts = 2
	DefaultOpenAIBaseURL            = "https://api.openai.com/v1"
	DefaultOllamaBaseURL            = "http://localhost:11434/v1"
	DefaultOllamaAPIKey             = "ollama"
	DefaultModelRequestTimeout      = "60s"

	DefaultExtractionModel               = DefaultModelDefault
	DefaultExtractionConfidenceThreshold = 70
	DefaultExtractionRequestTimeout      = "30s"

	DefaultSessionIdleTimeout = "30m"

	DefaultWebhookWorkers           = 4
	DefaultWebhookQueueSize         = 256
	DefaultWebhookRequestTimeout    = "10s"
	DefaultWebhookMaxAttempts       = 3
	DefaultWebhookRetryBackoff      = "2s"
	DefaultWebhookShutdownTimeout   = "30s"
	DefaultWebhookHealthWindow      = 20
	DefaultWebhookHealthWarning     = 0.9
	DefaultWebhookHealthCritical    = 0.5
	DefaultWebhookHealthIncludeTest = false

	DefaultStorePath = "parley.db"

	DefaultRetentionSweepSchedule = "*/5 * * * *"
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	// Hardcoded Defaults
	defaults := map[string]interface{}{
		"server.port":                     DefaultServerPort,
		"server.log_level":                DefaultServerLogLevel,
		"server.read_timeout":             DefaultServerReadTimeout,
		"server.write_timeout":            DefaultServerWriteTimeout,
		"server.idle_timeout":             DefaultServerIdleTimeout,
		"server.shutdown_timeout":         DefaultServerShutdownTimeout,
		"models.default":                  DefaultModelDefault,
		"models.fallback":                 DefaultModelFallback,
		"models.max_fallback_attempts":    DefaultModelMaxFallbackAttempts,
		"models.registry": []ModelRegistry{
			{Name: DefaultModelDefault, Provider: "openai"},
			{Name: DefaultModelFallback, Provider: "anthropic"},
		},
		"extraction.model":                DefaultExtractionModel,
		"extraction.confidence_threshold": DefaultExtractionConfidenceThreshold,
		"extraction.request_timeout":      DefaultExtractionRequestTimeout,
		"session.idle_timeout":            DefaultSessionIdleTimeout,
		"webhook.workers":                 DefaultWebhookWorkers,
		"webhook.queue_size":              DefaultWebhookQueueSize,
		"webhook.request_timeout":         DefaultWebhookRequestTimeout,
		"webhook.max_attempts":            DefaultWebhookMaxAttempts,
		"webhook.retry_backoff":           DefaultWebhookRetryBackoff,
		"webhook.shutdown_timeout":        DefaultWebhookShutdownTimeout,
		"webhook.health_window":           DefaultWebhookHealthWindow,
		"webhook.health_warning":          DefaultWebhookHealthWarning,
		"webhook.health_critical":         DefaultWebhookHealthCritical,
		"webhook.health_include_test":     DefaultWebhookHealthIncludeTest,
		"store.path":                      DefaultStorePath,
		"retention.sweep_schedule":        DefaultRetentionSweepSchedule,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// Config file loading
	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".parley", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// Environment Variables
	k.Load(env.Provider("PARLEY_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "PARLEY_")), "_", ".", -1)
	}), nil)

	// CLI Flags
	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for i, m := range cfg.Models.Registry {
		if m.Provider == "" {
			cfg.Models.Registry[i].Provider = "openai"
		}
	}

	// Post-Process: Inject standard Env Vars if missing
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "openai" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "anthropic" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "gemini" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}

	return &cfg, nil
}
