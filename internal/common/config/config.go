package config

import "time"

// Config is the main application configuration struct.
type Config struct {
	App       AppConfig                 `mapstructure:"app"`
	Redis     RedisConfig               `mapstructure:"redis"`
	Embedding EmbeddingConfig           `mapstructure:"embedding"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Council   CouncilConfig             `mapstructure:"council"`
	Retrieval RetrievalConfig           `mapstructure:"retrieval"`
	Cache     CacheConfig               `mapstructure:"cache"`
	Logging   LoggingConfig             `mapstructure:"logging"`
}

type AppConfig struct {
	Name         string `mapstructure:"name"`
	Version      string `mapstructure:"version"`
	Environment  string `mapstructure:"environment"`
	ListenAddr   string `mapstructure:"listen_addr"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
	ArticlesPath string `mapstructure:"articles_path"`
}

// RedisConfig configures the optional fast cache tier. An empty address
// disables the tier entirely; the system keeps serving without it.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a fast tier endpoint is configured at all.
func (r RedisConfig) Enabled() bool { return r.Address != "" }

// EmbeddingConfig selects the source-of-truth embedding service and the
// durable snapshot location.
type EmbeddingConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKeyEnv    string        `mapstructure:"api_key_env"`
	Model        string        `mapstructure:"model"`
	BatchSize    int           `mapstructure:"batch_size"`
	Timeout      time.Duration `mapstructure:"timeout"`
	SnapshotPath string        `mapstructure:"snapshot_path"`
	// LockTimeout bounds how long a reader waits for the snapshot lease
	// before falling back to the source-of-truth tier.
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
	ChunkTTL    time.Duration `mapstructure:"chunk_ttl"`
	QueryTTL    time.Duration `mapstructure:"query_ttl"`
}

// ProviderConfig describes one external completion service. All supported
// services expose OpenAI-compatible chat endpoints, so one implementation
// is parameterized by these fields.
type ProviderConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKeyEnv  string        `mapstructure:"api_key_env"`
	Model      string        `mapstructure:"model"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	// Temperature is a pointer so an explicit 0 survives defaulting.
	Temperature *float64 `mapstructure:"temperature"`
}

// CouncilConfig fixes the deliberation roster. Order matters: results are
// always reported in roster order so repeated runs are comparable.
type CouncilConfig struct {
	Members       []string      `mapstructure:"members"`
	Judge         string        `mapstructure:"judge"`
	FastProvider  string        `mapstructure:"fast_provider"`
	GlobalTimeout time.Duration `mapstructure:"global_timeout"`
}

type RetrievalConfig struct {
	TopK         int `mapstructure:"top_k"`
	DiverseMax   int `mapstructure:"diverse_max"`
	// RelevanceFloor is a cosine similarity cutoff. The default is not
	// calibrated against production traffic; set to 0 to disable.
	RelevanceFloor float64 `mapstructure:"relevance_floor"`
}

type CacheConfig struct {
	ResponseTTL time.Duration `mapstructure:"response_ttl"`
	MemoryMax   int           `mapstructure:"memory_max"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
