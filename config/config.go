package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the assistant service.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Docs        DocsConfig        `mapstructure:"docs"`
	VectorStore VectorStoreConfig `mapstructure:"vectorstore"`
	Provider    ProviderConfig    `mapstructure:"provider"`
	Ingest      IngestConfig      `mapstructure:"ingest"`
	Chat        ChatConfig        `mapstructure:"chat"`
	Jobs        JobsConfig        `mapstructure:"jobs"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address     string `mapstructure:"address"`
	PromptsFile string `mapstructure:"prompts_file"`
}

// DocsConfig locates the uploaded PDF library and the URL registry file.
type DocsConfig struct {
	Folder      string `mapstructure:"folder"`
	URLRegistry string `mapstructure:"url_registry"`
}

// VectorStoreConfig describes the remote Chroma deployment.
type VectorStoreConfig struct {
	Host       string `mapstructure:"host"`
	Port       string `mapstructure:"port"`
	Tenant     string `mapstructure:"tenant"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

func (v VectorStoreConfig) Validate() error {
	if v.Host == "" || v.Port == "" {
		return fmt.Errorf("vectorstore.host and vectorstore.port must be set")
	}
	if v.Collection == "" {
		return fmt.Errorf("vectorstore.collection must be set")
	}
	return nil
}

// ProviderConfig configures the external LLM/embedding provider.
type ProviderConfig struct {
	Type            string        `mapstructure:"type"` // openai
	APIKey          string        `mapstructure:"api_key"`
	CompletionModel string        `mapstructure:"completion_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

func (p ProviderConfig) Validate() error {
	if p.Type != "openai" {
		return fmt.Errorf("provider.type %q is not supported", p.Type)
	}
	if p.APIKey == "" {
		return fmt.Errorf("provider.api_key must be set (or HEALTHASSIST_PROVIDER_API_KEY)")
	}
	return nil
}

// IngestConfig tunes chunking, fetching and index writes.
type IngestConfig struct {
	ChunkSize     int           `mapstructure:"chunk_size"`
	ChunkOverlap  int           `mapstructure:"chunk_overlap"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	FetchRetries  int           `mapstructure:"fetch_retries"`
	FetchBackoff  time.Duration `mapstructure:"fetch_backoff"`
	MinContentLen int           `mapstructure:"min_content_len"`
	BatchSize     int           `mapstructure:"batch_size"`
	BatchDelay    time.Duration `mapstructure:"batch_delay"`
	BatchRetries  int           `mapstructure:"batch_retries"`
	BatchBackoff  time.Duration `mapstructure:"batch_backoff"`
}

func (i IngestConfig) Validate() error {
	if i.ChunkSize <= 0 {
		return fmt.Errorf("ingest.chunk_size must be > 0")
	}
	if i.ChunkOverlap < 0 || i.ChunkOverlap >= i.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap must be in [0, chunk_size)")
	}
	return nil
}

// ChatConfig controls session storage and history retention.
type ChatConfig struct {
	Store          string        `mapstructure:"store"` // inmemory | redis
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
	HistoryCap     int           `mapstructure:"history_cap"`
	TopK           int           `mapstructure:"top_k"`
	MaxContextLen  int           `mapstructure:"max_context_len"`
	Redis          RedisConfig   `mapstructure:"redis"`
}

// RedisConfig connects the optional redis-backed session store.
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Pass string `mapstructure:"pass"`
	DB   int    `mapstructure:"db"`
}

func (c ChatConfig) Validate() error {
	switch c.Store {
	case "inmemory":
	case "redis":
		if c.Redis.Host == "" || c.Redis.Port == "" {
			return fmt.Errorf("chat.redis.host and chat.redis.port must be set for the redis store")
		}
	default:
		return fmt.Errorf("chat.store %q is not supported (inmemory|redis)", c.Store)
	}
	return nil
}

// JobsConfig controls rebuild job retention.
type JobsConfig struct {
	Retention time.Duration `mapstructure:"retention"`
}

// LoadConfig reads the JSON config file (optional when path is empty) plus
// HEALTHASSIST_* env overrides, applies defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("server.address", ":8300")
	viper.SetDefault("server.prompts_file", "prompts.yaml")
	viper.SetDefault("docs.folder", "docs")
	viper.SetDefault("docs.url_registry", "url_documents.json")
	viper.SetDefault("vectorstore.host", "localhost")
	viper.SetDefault("vectorstore.port", "8000")
	viper.SetDefault("vectorstore.tenant", "default_tenant")
	viper.SetDefault("vectorstore.database", "default_database")
	viper.SetDefault("vectorstore.collection", "health_documents")
	viper.SetDefault("provider.type", "openai")
	viper.SetDefault("provider.completion_model", "gpt-4o-mini")
	viper.SetDefault("provider.embedding_model", "text-embedding-3-small")
	viper.SetDefault("provider.temperature", 0.7)
	viper.SetDefault("provider.max_tokens", 2048)
	viper.SetDefault("provider.timeout", time.Minute)
	viper.SetDefault("ingest.chunk_size", 1500)
	viper.SetDefault("ingest.chunk_overlap", 200)
	viper.SetDefault("ingest.fetch_timeout", 30*time.Second)
	viper.SetDefault("ingest.fetch_retries", 2)
	viper.SetDefault("ingest.fetch_backoff", time.Second)
	viper.SetDefault("ingest.min_content_len", 200)
	viper.SetDefault("ingest.batch_size", 10)
	viper.SetDefault("ingest.batch_delay", 200*time.Millisecond)
	viper.SetDefault("ingest.batch_retries", 3)
	viper.SetDefault("ingest.batch_backoff", time.Second)
	viper.SetDefault("chat.store", "inmemory")
	viper.SetDefault("chat.session_timeout", 30*time.Minute)
	viper.SetDefault("chat.history_cap", 10)
	viper.SetDefault("chat.top_k", 5)
	viper.SetDefault("chat.max_context_len", 8000)
	viper.SetDefault("jobs.retention", time.Hour)

	if path == "" {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("HEALTHASSIST")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// No config file is fine; defaults plus env cover everything.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.VectorStore.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Provider.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Ingest.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Chat.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
