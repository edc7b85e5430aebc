package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"upldis/cfg"
	"upldis/pkg/secrets"
	"upldis/svc/api"
	"upldis/svc/cache"
	"upldis/svc/db"
	"upldis/svc/lim"
	"upldis/svc/svc"
	"upldis/svc/util"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-health" {
		os.Exit(healthCheck())
	}

	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().Str("service_version", c.ServiceVersion).Msg("starting upldis")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resolver, err := secrets.New(ctx, c.SecretsProvider)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize secrets provider")
		os.Exit(1)
	}
	if err := resolver.Apply(ctx, c); err != nil {
		util.Fatal().Err(err).Msg("failed to resolve secrets")
		os.Exit(1)
	}
	defer resolver.Wipe()

	var rdb *db.Redis
	if c.UsesRedis() {
		rdb, err = db.NewRedis(c.RedisURL, c)
		if err != nil {
			util.Fatal().Err(err).Msg("failed to connect to redis")
			os.Exit(1)
		}
		defer rdb.Close()
		util.Info().Msg("redis connected")
	}

	var (
		store db.Store
		sqlDB *db.SQLite
	)
	switch c.StoreBackend {
	case cfg.BackendSQLite:
		sqlDB, err = db.NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
		if err != nil {
			util.Fatal().Err(err).Msg("failed to initialize database")
			os.Exit(1)
		}
		defer sqlDB.Close()
		store = sqlDB
		util.Info().Str("path", c.DatabasePath).Msg("database initialized")
	case cfg.BackendRedis:
		store = rdb
	case cfg.BackendMemory:
		store = db.NewMemory()
		util.Warn().Msg("using in-memory store, uploads are lost on restart")
	}

	var (
		edge      cache.Edge = cache.Nop{}
		edgeProbe api.Pinger
	)
	switch c.CacheBackend {
	case cfg.BackendLRU:
		lru, err := cache.NewLRU(c.LRUCacheSize, c.LRUCacheBytes)
		if err != nil {
			util.Fatal().Err(err).Msg("failed to create LRU cache")
			os.Exit(1)
		}
		edge, edgeProbe = lru, lru
		util.Info().Int("size", c.LRUCacheSize).Int64("bytes", c.LRUCacheBytes).Msg("LRU edge cache initialized")
	case cfg.BackendRedis:
		re := cache.NewRedis(rdb)
		edge, edgeProbe = re, re
		util.Info().Msg("redis edge cache initialized")
	case cfg.BackendNone:
		util.Info().Msg("edge cache disabled")
	}

	pasteSvc := svc.NewPaste(store, edge, svc.NewStats(store), c.Limits)
	util.Info().
		Str("store", c.StoreBackend).
		Str("cache", c.CacheBackend).
		Msg("paste service initialized")

	var win lim.Window
	if rdb != nil {
		win = rdb
	}
	limiter := lim.New(c.RateLimit.RPM, c.RateLimit.Burst, win, c.TrustedProxies)
	defer limiter.Stop()
	util.Info().
		Int("rpm", c.RateLimit.RPM).
		Int("burst", c.RateLimit.Burst).
		Strs("trusted_proxies", c.TrustedProxies).
		Msg("rate limiter initialized")

	server := api.NewServer(c, pasteSvc, limiter, store, edgeProbe)

	var (
		stopWAL context.CancelFunc
		walDone chan struct{}
	)
	if sqlDB != nil {
		var walCtx context.Context
		walCtx, stopWAL = context.WithCancel(context.Background())
		walDone = make(chan struct{})
		go func() {
			defer close(walDone)
			sqlDB.MaintainWAL(walCtx, db.WALInterval)
		}()
		util.Info().Msg("WAL maintenance worker started")
		if err := svc.StartCleaner(ctx, sqlDB, c.CleanupInterval); err != nil {
			util.Error().Err(err).Msg("failed to start cleaner")
		} else {
			util.Info().Msg("expired upload cleanup worker started")
		}
	}

	util.Info().Str("port", c.Port).Str("environment", c.Environment).Msg("server starting")
	go func() {
		if err := server.StartAdmin(); err != nil {
			util.Error().Err(err).Msg("admin server failed")
		}
	}()
	go func() {
		if err := server.Start(); err != nil {
			util.Fatal().Err(err).Msg("server failed")
			os.Exit(1)
		}
	}()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	util.Info().Msg("shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		util.Error().Err(err).Msg("server shutdown error")
	}
	if stopWAL != nil {
		stopWAL()
		select {
		case <-walDone:
			util.Info().Msg("WAL maintenance stopped")
		case <-time.After(6 * time.Second):
			util.Warn().Msg("WAL maintenance did not stop gracefully")
		}
	}
	cancel()
	pasteSvc.Shutdown()
	util.Info().Msg("shutdown complete")
}

// healthCheck probes the admin listener of a running instance, for container
// health checks.
func healthCheck() int {
	port := os.Getenv("ADMIN_PORT")
	if port == "" {
		port = "9090"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://127.0.0.1:"+port+"/health", nil)
	if err != nil {
		return 1
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}
