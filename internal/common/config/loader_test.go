package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Providers: map[string]ProviderConfig{
			"alpha": {BaseURL: "https://api.alpha.test/v1", Model: "alpha-1"},
			"beta":  {BaseURL: "https://api.beta.test/v1", Model: "beta-1"},
		},
		Council: CouncilConfig{
			Members: []string{"alpha", "beta"},
			Judge:   "alpha",
		},
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := validConfig()
	ApplyDefaults(cfg)

	assert.Equal(t, "factnews-core", cfg.App.Name)
	assert.Equal(t, ":8080", cfg.App.ListenAddr)
	assert.Equal(t, 100, cfg.Embedding.BatchSize)
	assert.Equal(t, 7*24*time.Hour, cfg.Embedding.ChunkTTL)
	assert.Equal(t, 24*time.Hour, cfg.Embedding.QueryTTL)
	assert.Equal(t, 60*time.Second, cfg.Council.GlobalTimeout)
	assert.Equal(t, "alpha", cfg.Council.FastProvider, "fast provider defaults to the first member")
	assert.Equal(t, 20, cfg.Retrieval.TopK)
	assert.Equal(t, 0.25, cfg.Retrieval.RelevanceFloor)
	assert.Equal(t, time.Hour, cfg.Cache.ResponseTTL)

	for name, p := range cfg.Providers {
		assert.Equal(t, 30*time.Second, p.Timeout, name)
		assert.Equal(t, 3, p.MaxRetries, name)
		require.NotNil(t, p.Temperature, name)
		assert.Equal(t, 0.3, *p.Temperature, name)
	}
}

func TestApplyDefaultsKeepsExplicitZeroTemperature(t *testing.T) {
	cfg := validConfig()
	zero := 0.0
	p := cfg.Providers["alpha"]
	p.Temperature = &zero
	cfg.Providers["alpha"] = p

	ApplyDefaults(cfg)

	require.NotNil(t, cfg.Providers["alpha"].Temperature)
	assert.Zero(t, *cfg.Providers["alpha"].Temperature)
	assert.Equal(t, 0.3, *cfg.Providers["beta"].Temperature, "unset providers still get the default")
}

func TestValidateAcceptsGoodConfig(t *testing.T) {
	cfg := validConfig()
	ApplyDefaults(cfg)
	assert.NoError(t, Validate(cfg))
}

func TestValidateRejectsEmptyRoster(t *testing.T) {
	cfg := validConfig()
	cfg.Council.Members = nil
	ApplyDefaults(cfg)
	require.Error(t, Validate(cfg))
}

func TestValidateRejectsMissingJudge(t *testing.T) {
	cfg := validConfig()
	cfg.Council.Judge = ""
	ApplyDefaults(cfg)
	require.Error(t, Validate(cfg))
}

func TestValidateRejectsUnknownMember(t *testing.T) {
	cfg := validConfig()
	cfg.Council.Members = append(cfg.Council.Members, "ghost")
	ApplyDefaults(cfg)
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestValidateRejectsProviderWithoutModel(t *testing.T) {
	cfg := validConfig()
	p := cfg.Providers["alpha"]
	p.Model = ""
	cfg.Providers["alpha"] = p
	ApplyDefaults(cfg)
	require.Error(t, Validate(cfg))
}

func TestValidateRejectsRelevanceFloorOutOfRange(t *testing.T) {
	cfg := validConfig()
	ApplyDefaults(cfg)
	cfg.Retrieval.RelevanceFloor = 1.5
	require.Error(t, Validate(cfg))
}
