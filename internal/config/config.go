package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultExternalHTTPTimeout = 30 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

const (
	StoreSupabase = "supabase"
	StoreSQLite   = "sqlite"
)

type Config struct {
	ListenAddr         string   `yaml:"listen_addr"`
	ModelDir           string   `yaml:"model_dir"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	LLMProvider               string `yaml:"llm_provider"`
	LLMModel                  string `yaml:"llm_model"`
	LLMBaseURL                string `yaml:"llm_base_url"`
	AnthropicAPIKey           string `yaml:"anthropic_api_key"`
	OpenAIAPIKey              string `yaml:"openai_api_key"`
	ExplanationTimeoutSeconds int    `yaml:"explanation_timeout_seconds"`

	StoreBackend        string `yaml:"store_backend"`
	SupabaseURL         string `yaml:"supabase_url"`
	SupabaseServiceKey  string `yaml:"supabase_service_key"`
	SupabaseTable       string `yaml:"supabase_table"`
	DBPath              string `yaml:"db_path"`
	StoreTimeoutSeconds int    `yaml:"store_timeout_seconds"`
	RecordPredictions   bool   `yaml:"record_predictions"`

	ExternalHTTPTimeoutSeconds int `yaml:"external_http_timeout_seconds"`

	SlackBotToken   string `yaml:"slack_bot_token"`
	DigestChannelID string `yaml:"digest_channel_id"`
	DigestSchedule  string `yaml:"digest_schedule"`
	Timezone        string `yaml:"timezone"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

func LoadConfig() Config {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	envOverride(&cfg.ListenAddr, "LISTEN_ADDR")
	envOverride(&cfg.ModelDir, "MODEL_DIR")
	envOverrideList(&cfg.CORSAllowedOrigins, "CORS_ALLOWED_ORIGINS")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.LLMBaseURL, "LLM_BASE_URL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverrideInt(&cfg.ExplanationTimeoutSeconds, "EXPLANATION_TIMEOUT_SECONDS")
	envOverride(&cfg.StoreBackend, "STORE_BACKEND")
	envOverride(&cfg.SupabaseURL, "SUPABASE_URL")
	envOverride(&cfg.SupabaseServiceKey, "SUPABASE_SERVICE_KEY")
	envOverride(&cfg.SupabaseTable, "SUPABASE_TABLE")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverrideInt(&cfg.StoreTimeoutSeconds, "STORE_TIMEOUT_SECONDS")
	envOverrideBool(&cfg.RecordPredictions, "RECORD_PREDICTIONS")
	envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.DigestChannelID, "DIGEST_CHANNEL_ID")
	envOverrideAllowEmpty(&cfg.DigestSchedule, "DIGEST_SCHEDULE")
	envOverride(&cfg.Timezone, "TIMEZONE")

	applyDefaults(&cfg)

	if err := validate(cfg); err != nil {
		log.Fatalf("%v", err)
	}

	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			log.Printf("WARNING: anthropic_api_key is not set; explanations will be unavailable")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			log.Printf("WARNING: openai_api_key is not set; explanations will be unavailable")
		}
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Fatalf("invalid timezone '%s': %v", cfg.Timezone, err)
		}
		cfg.Location = loc
	}

	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8000"
	}
	if cfg.ModelDir == "" {
		cfg.ModelDir = "./model"
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"http://localhost:3000"}
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	if cfg.ExplanationTimeoutSeconds == 0 {
		cfg.ExplanationTimeoutSeconds = 8
	}
	if cfg.StoreBackend == "" {
		if cfg.SupabaseURL != "" {
			cfg.StoreBackend = StoreSupabase
		} else {
			cfg.StoreBackend = StoreSQLite
		}
	}
	if cfg.SupabaseTable == "" {
		cfg.SupabaseTable = "predictions"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./riskapi.db"
	}
	if cfg.StoreTimeoutSeconds == 0 {
		cfg.StoreTimeoutSeconds = 5
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
}

func validate(cfg Config) error {
	switch cfg.LLMProvider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("llm_provider must be 'anthropic' or 'openai', got '%s'", cfg.LLMProvider)
	}
	switch cfg.StoreBackend {
	case StoreSupabase:
		if cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" {
			return fmt.Errorf("supabase_url and supabase_service_key are required when store_backend=supabase")
		}
	case StoreSQLite:
	default:
		return fmt.Errorf("store_backend must be 'supabase' or 'sqlite', got '%s'", cfg.StoreBackend)
	}
	for _, origin := range cfg.CORSAllowedOrigins {
		if origin == "*" || strings.HasPrefix(origin, "http://") || strings.HasPrefix(origin, "https://") {
			continue
		}
		return fmt.Errorf("invalid cors_allowed_origins entry '%s': must start with http:// or https://", origin)
	}
	if cfg.ExplanationTimeoutSeconds < 1 {
		return fmt.Errorf("invalid explanation_timeout_seconds '%d': must be >= 1", cfg.ExplanationTimeoutSeconds)
	}
	if cfg.StoreTimeoutSeconds < 1 {
		return fmt.Errorf("invalid store_timeout_seconds '%d': must be >= 1", cfg.StoreTimeoutSeconds)
	}
	if cfg.ExternalHTTPTimeoutSeconds < 5 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 5", cfg.ExternalHTTPTimeoutSeconds)
	}
	digestFields := map[string]string{
		"slack_bot_token":   cfg.SlackBotToken,
		"digest_channel_id": cfg.DigestChannelID,
	}
	if strings.TrimSpace(cfg.DigestSchedule) != "" {
		for name, val := range digestFields {
			if val == "" {
				return fmt.Errorf("digest_schedule is set but '%s' is not", name)
			}
		}
	}
	return nil
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideList(field *[]string, envKey string) {
	val := os.Getenv(envKey)
	if val == "" {
		return
	}
	*field = nil
	for _, item := range strings.Split(val, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			*field = append(*field, item)
		}
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideBool(field *bool, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = strings.EqualFold(val, "true") || val == "1"
	}
}

func (c Config) ExplanationTimeout() time.Duration {
	return time.Duration(c.ExplanationTimeoutSeconds) * time.Second
}

func (c Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutSeconds) * time.Second
}

func (c Config) DigestConfigured() bool {
	return strings.TrimSpace(c.DigestSchedule) != "" && c.SlackBotToken != "" && c.DigestChannelID != ""
}

// LLMConfigured reports whether the selected provider has a key.
func (c Config) LLMConfigured() bool {
	switch c.LLMProvider {
	case "openai":
		return c.OpenAIAPIKey != ""
	default:
		return c.AnthropicAPIKey != ""
	}
}
