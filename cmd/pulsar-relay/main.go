// Command pulsar-relay runs the full Pulsar Relay HTTP + WebSocket
// service, wiring storage, authorization, connection/poll management,
// and the publish pipeline the way the teacher's own main.go wires
// ssepg.New + svc.Attach into an http.Server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/mvdbeek/pulsar-relay/internal/authz"
	"github.com/mvdbeek/pulsar-relay/internal/config"
	"github.com/mvdbeek/pulsar-relay/internal/connmgr"
	"github.com/mvdbeek/pulsar-relay/internal/identity"
	"github.com/mvdbeek/pulsar-relay/internal/logging"
	"github.com/mvdbeek/pulsar-relay/internal/pollmgr"
	"github.com/mvdbeek/pulsar-relay/internal/publish"
	"github.com/mvdbeek/pulsar-relay/internal/storage"
	httptransport "github.com/mvdbeek/pulsar-relay/internal/transport/http"
	"github.com/mvdbeek/pulsar-relay/internal/transport/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := newStorageBackend(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage backend")
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Error().Err(err).Msg("error closing storage backend")
		}
	}()

	topicStore, err := newTopicStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize topic store")
	}

	oracle := authz.NewOracle(topicStore,
		authz.WithCacheTTL(cfg.AuthzCacheTTL),
		authz.WithCacheMaxEntries(cfg.AuthzCacheMaxEntries),
	)

	connMgr := connmgr.NewManager(
		connmgr.WithShardCount(cfg.ConnectionShardCount),
		connmgr.WithMaxConnections(cfg.MaxConnections),
	)
	pollMgr := pollmgr.NewManager(backend, oracle,
		pollmgr.WithMaxWaiters(cfg.MaxWaiters),
		pollmgr.WithWaiterBufferCapacity(cfg.WaiterBufferCapacity),
		pollmgr.WithTimeouts(cfg.PollDefaultTimeout, cfg.PollMinTimeout, cfg.PollMaxTimeout),
		pollmgr.WithSweep(cfg.WaiterSweepInterval, cfg.WaiterMaxAge),
	)
	pipeline := publish.NewPipeline(backend, oracle, connMgr, pollMgr, cfg.MaxPayloadBytes)

	// Development/test stand-in; real token verification is out of scope
	// per SPEC_FULL §1 and is expected to sit in front of this service.
	auth := identity.NewStaticAuthenticator()
	if devToken := os.Getenv("PULSAR_DEV_TOKEN"); devToken != "" {
		auth.Register(devToken, identity.Identity{
			UserID:  "dev",
			IsAdmin: true,
			Scopes:  map[identity.Scope]bool{identity.ScopeRead: true, identity.ScopeWrite: true, identity.ScopeAdmin: true},
		})
	}

	go pollMgr.RunSweep(ctx, log)

	mux := httptransport.NewMux(auth, topicStore, oracle, pipeline, pollMgr, backend, cfg.MaxPayloadBytes)

	wsHandler := ws.NewHandler(ws.Config{HeartbeatInterval: cfg.WSHeartbeatInterval}, auth, oracle, connMgr, log)
	mux.Handle("/ws", wsHandler)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       70 * time.Second,
	}

	servers := []*http.Server{srv}

	// A separate health listener survives saturation of the main
	// listener, the same split the teacher demonstrates in its own
	// separate-health example.
	if cfg.HealthAddr != "" {
		healthMux := httptransport.NewHealthMux(backend)
		healthSrv := &http.Server{
			Addr:              cfg.HealthAddr,
			Handler:           healthMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		servers = append(servers, healthSrv)
	}

	serverErrs := make(chan error, len(servers))
	for _, s := range servers {
		s := s
		go func() {
			log.Info().Str("addr", s.Addr).Msg("pulsar relay listening")
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrs <- err
				return
			}
			serverErrs <- nil
		}()
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serverErrs:
		if err != nil {
			log.Error().Err(err).Msg("server exited unexpectedly")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, s := range servers {
		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Str("addr", s.Addr).Msg("graceful shutdown failed")
		}
	}
}

func newStorageBackend(cfg config.Config) (storage.Backend, error) {
	switch cfg.StorageBackend {
	case config.StorageValkey:
		rcfg := storage.DefaultRedisConfig()
		rcfg.Host = cfg.ValkeyHost
		rcfg.Port = cfg.ValkeyPort
		rcfg.UseTLS = cfg.ValkeyUseTLS
		rcfg.MaxMessagesPerTopic = cfg.MaxMessagesPerTopic
		return storage.NewRedisBackend(rcfg), nil
	default:
		return storage.NewMemoryBackend(int(cfg.MaxMessagesPerTopic)), nil
	}
}

func newTopicStore(ctx context.Context, cfg config.Config) (authz.TopicStore, error) {
	switch cfg.TopicStoreBackend {
	case config.TopicStorePostgres:
		return authz.NewPostgresTopicStore(ctx, cfg.TopicStoreDSN)
	default:
		return authz.NewMemoryTopicStore(), nil
	}
}
