package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads config.yaml (plus config.<env>.yaml overrides) and environment
// variables into a validated Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // optional overlay

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults fills unset fields with documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "factnews-core"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}
	if cfg.App.ListenAddr == "" {
		cfg.App.ListenAddr = ":8080"
	}
	if cfg.App.MetricsAddr == "" {
		cfg.App.MetricsAddr = ":9102"
	}
	if cfg.App.ArticlesPath == "" {
		cfg.App.ArticlesPath = "articles.json"
	}

	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.BatchSize <= 0 {
		cfg.Embedding.BatchSize = 100
	}
	if cfg.Embedding.Timeout <= 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Embedding.SnapshotPath == "" {
		cfg.Embedding.SnapshotPath = "chunk_embeddings.bin"
	}
	if cfg.Embedding.LockTimeout <= 0 {
		cfg.Embedding.LockTimeout = 2 * time.Second
	}
	if cfg.Embedding.ChunkTTL <= 0 {
		cfg.Embedding.ChunkTTL = 7 * 24 * time.Hour
	}
	if cfg.Embedding.QueryTTL <= 0 {
		cfg.Embedding.QueryTTL = 24 * time.Hour
	}

	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}
	for name, p := range cfg.Providers {
		if p.Timeout <= 0 {
			p.Timeout = 30 * time.Second
		}
		if p.MaxRetries <= 0 {
			p.MaxRetries = 3
		}
		if p.Temperature == nil {
			temp := 0.3
			p.Temperature = &temp
		}
		cfg.Providers[name] = p
	}

	if cfg.Council.GlobalTimeout <= 0 {
		cfg.Council.GlobalTimeout = 60 * time.Second
	}
	if cfg.Council.FastProvider == "" && len(cfg.Council.Members) > 0 {
		cfg.Council.FastProvider = cfg.Council.Members[0]
	}

	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = 20
	}
	if cfg.Retrieval.DiverseMax <= 0 {
		cfg.Retrieval.DiverseMax = 10
	}
	if cfg.Retrieval.RelevanceFloor == 0 {
		cfg.Retrieval.RelevanceFloor = 0.25
	}

	if cfg.Cache.ResponseTTL <= 0 {
		cfg.Cache.ResponseTTL = time.Hour
	}
	if cfg.Cache.MemoryMax <= 0 {
		cfg.Cache.MemoryMax = 100
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate rejects configurations the core cannot run with.
func Validate(cfg *Config) error {
	if len(cfg.Council.Members) == 0 {
		return fmt.Errorf("council.members must list at least one provider")
	}
	if cfg.Council.Judge == "" {
		return fmt.Errorf("council.judge must name a provider")
	}
	for _, name := range append(append([]string{}, cfg.Council.Members...), cfg.Council.Judge) {
		if _, ok := cfg.Providers[name]; !ok {
			return fmt.Errorf("council references unknown provider %q", name)
		}
	}
	if cfg.Council.FastProvider != "" {
		if _, ok := cfg.Providers[cfg.Council.FastProvider]; !ok {
			return fmt.Errorf("council.fast_provider references unknown provider %q", cfg.Council.FastProvider)
		}
	}
	for name, p := range cfg.Providers {
		if p.BaseURL == "" {
			return fmt.Errorf("provider %q missing base_url", name)
		}
		if p.Model == "" {
			return fmt.Errorf("provider %q missing model", name)
		}
	}
	if cfg.Retrieval.RelevanceFloor < 0 || cfg.Retrieval.RelevanceFloor > 1 {
		return fmt.Errorf("retrieval.relevance_floor must be in [0,1]")
	}
	return nil
}
