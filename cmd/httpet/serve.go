package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/always-cache/httpet"
	registry "github.com/always-cache/httpet/pkg/animal-registry"
	assetstore "github.com/always-cache/httpet/pkg/asset-store"
	petstore "github.com/always-cache/httpet/pkg/pet-store"
	ratelimit "github.com/always-cache/httpet/pkg/rate-limit"
	"github.com/always-cache/httpet/pkg/stats"

	"github.com/google/gops/agent"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve status code pictures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			setupLogging(config)
			if err := config.Validate(); err != nil {
				log.Error().Err(err).Msg("Invalid configuration")
				return err
			}
			return serve(cmd.Context(), config)
		},
	}
	cmd.Flags().String("domain", "", "Base domain, e.g. httpet.org")
	cmd.Flags().String("addr", "", "Address to listen on")
	cmd.Flags().Int("port", 8080, "Port to listen on")
	cmd.Flags().String("images", "", "Asset root directory")
	cmd.Flags().String("db", "", "Pet DB file name (use 'memory' for in-memory db, 'none' to disable)")
	cmd.Flags().Bool("debug", false, "Verbosity: debug logging")
	return cmd
}

func serve(ctx context.Context, config httpet.FileConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if config.Gops {
		if err := agent.Listen(agent.Options{ShutdownCleanup: true}); err != nil {
			log.Warn().Err(err).Msg("Could not start gops agent")
		} else {
			defer agent.Close()
		}
	}

	var pets *petstore.Store
	syncPets := config.SyncPets
	if filename, ok := config.DatabaseFile(); ok {
		var err error
		if pets, err = petstore.Open(filename); err != nil {
			log.Error().Err(err).Msg("Could not open pet database")
			return err
		}
		defer pets.Close()
		// an in-memory database starts empty
		if filename == "" {
			syncPets = true
		}
	}

	recorders := stats.Multi{}
	var metrics http.Handler
	if config.Metrics {
		prom := stats.NewPrometheus()
		recorders = append(recorders, prom)
		metrics = prom.Handler()
	}
	if config.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", config.Redis.Addr).Msg("Redis is not reachable, statistics may be lost")
		}
		recorders = append(recorders, stats.NewRedis(rdb, stats.WithPrefix(config.Redis.Prefix), stats.WithTTL(config.Redis.TTL)))
	}

	var middlewares []func(http.Handler) http.Handler
	if config.RateLimit.Enabled {
		limits := ratelimit.NewStore(config.RateLimit.RPS, config.RateLimit.Burst)
		limits.StartJanitor(ctx)
		log.Info().Float64("rps", limits.RPS()).Int("burst", limits.Burst()).Msg("Rate limiting clients")
		middlewares = append(middlewares, ratelimit.Middleware(ratelimit.Options{
			Store:              limits,
			TrustXForwardedFor: config.RateLimit.TrustForwardedFor,
		}))
	}

	logger := log.Logger
	h, err := httpet.Create(ctx, httpet.Config{
		BaseDomain:     config.BaseDomain,
		AssetRoot:      config.AssetRoot,
		Store:          assetstore.NewCachedStore(assetstore.NewFSStore(config.AssetRoot), config.AssetCache.TTL, config.AssetCache.Entries),
		Pets:           pets,
		SyncPets:       syncPets,
		Stats:          recorders,
		MetricsHandler: metrics,
		CacheControl:   config.CacheControl,
		Middlewares:    middlewares,
		Logger:         &logger,
	})
	if err != nil {
		if pets != nil && errors.Is(err, registry.ErrNoAnimals) {
			log.Error().Err(err).Msg("No enabled pets, run 'httpet pets sync' or set syncPets")
		} else {
			log.Error().Err(err).Msg("Could not set up server")
		}
		return err
	}

	go reloadOnHangup(ctx, h)

	server := &http.Server{
		Addr:              config.Address(),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("Serving %s on %s from %s", config.BaseDomain, server.Addr, config.AssetRoot)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		log.Error().Err(err).Msg("Server stopped")
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// reloadOnHangup rebuilds the registry on SIGHUP.
func reloadOnHangup(ctx context.Context, h *httpet.Httpet) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := h.Reload(ctx); err != nil {
				log.Error().Err(err).Msg("Reload failed, keeping current animals")
			}
		}
	}
}
