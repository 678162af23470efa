// cmd/factnews-server/main.go
package main

import (
	"context"
	"encoding/json"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"factnews/internal/api"
	"factnews/internal/chunker"
	"factnews/internal/common/config"
	"factnews/internal/common/database"
	"factnews/internal/common/logger"
	"factnews/internal/common/observability"
	"factnews/internal/council"
	"factnews/internal/embedding"
	"factnews/internal/index"
	"factnews/internal/providers"
	"factnews/internal/respcache"
	"factnews/internal/retrieval"
	"factnews/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New("info", "console")
		fallback.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting factnews server...",
		zap.String("environment", cfg.App.Environment),
		zap.String("version", cfg.App.Version),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Fast cache tier (optional) ---
	rdb := database.NewRedis(cfg.Redis)
	defer rdb.Close()
	if rdb.Available() {
		if err := rdb.Ping(ctx); err != nil {
			zapLog.Warn("redis unreachable at startup, serving without fast tier", zap.Error(err))
		} else {
			zapLog.Info("Redis connected successfully")
		}
	} else {
		zapLog.Info("Redis not configured, fast tier disabled")
	}

	// --- Embedding tiers ---
	snapshot := embedding.NewSnapshot(cfg.Embedding.SnapshotPath, cfg.Embedding.LockTimeout)
	embedder := embedding.NewRESTEmbedder(
		cfg.Embedding.BaseURL,
		cfg.Embedding.APIKeyEnv,
		cfg.Embedding.Model,
		cfg.Embedding.BatchSize,
		cfg.Embedding.Timeout,
	)
	store := embedding.NewStore(rdb, snapshot, embedder, cfg.Embedding.ChunkTTL, cfg.Embedding.QueryTTL, log)
	defer store.Close()

	// --- Retrieval ---
	ix := index.New()
	engine := retrieval.NewEngine(store, ix, cfg.Retrieval.TopK, cfg.Retrieval.DiverseMax, cfg.Retrieval.RelevanceFloor, log)

	// --- Council ---
	registry := providers.NewRegistry(cfg.Providers, log)
	con := council.New(registry, cfg.Council, log, obs)
	zapLog.Info("Council assembled",
		zap.Strings("members", cfg.Council.Members),
		zap.String("judge", cfg.Council.Judge),
	)

	// --- Response cache and facade ---
	cache := respcache.New(rdb, cfg.Cache.ResponseTTL, cfg.Cache.MemoryMax, log)
	svc := service.New(chunker.New(0, chunker.DefaultOverlap, 0), store, ix, engine, con, cache, log)

	source := service.NewFileSource(cfg.App.ArticlesPath)
	if stats, err := svc.RefreshCorpus(ctx, source); err != nil {
		zapLog.Warn("initial corpus load failed, starting with empty index", zap.Error(err))
	} else {
		zapLog.Info("Corpus loaded",
			zap.Int("articles", stats.ArticlesIndexed),
			zap.Int("chunks", stats.ChunksCreated),
			zap.Int("sources", stats.Sources),
		)
	}

	// --- API Server ---
	mux := http.NewServeMux()
	api.NewServer(svc, source, log).Routes(mux)
	apiServer := &http.Server{
		Addr:         cfg.App.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}
	go func() {
		zapLog.Info("API server listening", zap.String("addr", cfg.App.ListenAddr))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("API server failed", zap.Error(err))
		}
	}()

	// --- Health & Metrics Server ---
	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "healthy",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.Handle("/metrics", promhttp.Handler())
		zapLog.Info("Health/Metrics server listening", zap.String("addr", cfg.App.MetricsAddr))
		if err := http.ListenAndServe(cfg.App.MetricsAddr, nil); err != nil {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("API server shutdown failed", zap.Error(err))
	}

	zapLog.Info("Server stopped gracefully")
}
