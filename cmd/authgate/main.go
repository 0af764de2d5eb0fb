package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"authgate/edge-service/internal/auth"
	"authgate/edge-service/internal/config"
	"authgate/edge-service/internal/httputil"
	"authgate/edge-service/internal/metrics"
	"authgate/edge-service/internal/proxy"
	"authgate/edge-service/internal/session"
	"authgate/edge-service/internal/user"
)

func main() {
	configFlag := flag.String("config", "", "path to config file (overrides AUTHGATE_CONFIG env var)")
	flag.Parse()

	// Config path: CLI flag > env var > default
	cfgPath := *configFlag
	if cfgPath == "" {
		cfgPath = os.Getenv("AUTHGATE_CONFIG")
	}
	if cfgPath == "" {
		cfgPath = "./config.yaml"
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			cfgPath = "./config.example.yaml"
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Logging.Level == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if cfg.Auth.Disabled {
		log.Warn().Msg("authentication is disabled")
	}
	log.Info().
		Str("config_path", cfgPath).
		Str("listen", cfg.Server.Listen).
		Str("api", cfg.Upstreams.API).
		Str("ui", cfg.Upstreams.UI).
		Str("session_store", cfg.Session.Store).
		Msg("authgate starting")

	// Stores are startup dependencies: the process must not serve traffic
	// without them.
	mongoCtx, cancel := context.WithTimeout(context.Background(), cfg.MongoConnectTimeout())
	defer cancel()
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.Mongo.URL))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create mongo client")
	}
	if err := client.Ping(mongoCtx, nil); err != nil {
		log.Fatal().Err(err).Str("url", cfg.Mongo.URL).Msg("failed to reach mongo")
	}
	db := client.Database(cfg.Mongo.Database)
	log.Info().Str("database", cfg.Mongo.Database).Msg("connected to mongo")

	users := user.NewMongoStore(db)

	var sessions session.Store
	var memStore *session.MemoryStore
	janitorDone := make(chan struct{})
	switch cfg.Session.Store {
	case "mongo":
		ms := session.NewMongoStore(db)
		if err := ms.EnsureIndexes(mongoCtx); err != nil {
			log.Fatal().Err(err).Msg("failed to prepare session collection")
		}
		sessions = ms
		go sweepSessions(ms, cfg.SessionTTL(), cfg.IdleEviction(), janitorDone)
	default:
		memStore = session.NewMemoryStore(cfg.SessionTTL(), cfg.IdleEviction())
		sessions = memStore
	}

	codec, err := session.NewCodec(cfg.Session.Secret, cfg.Session.CookieName, cfg.SessionTTL(), cfg.Session.CookieSecure)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create session codec")
	}

	forwarder, err := proxy.NewForwarder(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create forwarder")
	}

	authHandler := auth.NewHandler(users, sessions, codec, cfg.Auth.Disabled)

	r := chi.NewRouter()
	r.Use(httputil.RequestIDMiddleware(log.Logger))

	r.Get("/login", authHandler.GetLoginView)
	r.Post("/login", authHandler.HandleLogin)
	r.Get("/logout", authHandler.HandleLogout)
	r.Get("/session", authHandler.GetSessionStatus)

	decode := proxy.DecodeJSONBody(cfg.Limits.MaxBodyBytes)
	r.Handle("/api/*", authHandler.RequireSession(decode(forwarder.Handler(proxy.TargetAPI))))
	r.Handle("/*", authHandler.RequireSession(decode(forwarder.Handler(proxy.TargetUI))))

	// Metrics and health live on an internal listener; the public mux
	// forwards everything it does not recognize.
	metrics.MustRegister()
	var metricsSrv *http.Server
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		metricsSrv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		go func() {
			log.Info().Str("listen", cfg.Metrics.Listen).Msg("metrics listener started")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics listener error")
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           r,
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutMs) * time.Millisecond,
		IdleTimeout:       90 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info().Str("listen", cfg.Server.Listen).Msg("authgate listening")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Fatal().Err(err).Msg("server error")
	case sig := <-shutdown:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		close(janitorDone)
		if memStore != nil {
			memStore.Close()
		}
		if metricsSrv != nil {
			metricsSrv.Shutdown(ctx)
		}
		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
		if err := client.Disconnect(ctx); err != nil {
			log.Error().Err(err).Msg("mongo disconnect failed")
		}
		log.Info().Msg("shutdown complete")
	}
}

// sweepSessions evicts idle sessions from a store with no janitor of its
// own.
func sweepSessions(store session.Store, maxIdle, interval time.Duration, done <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			n, err := store.DeleteExpired(ctx, maxIdle)
			cancel()
			if err != nil {
				log.Error().Err(err).Msg("session sweep failed")
				continue
			}
			if n > 0 {
				metrics.SessionsEvicted.Add(float64(n))
				log.Debug().Int64("evicted", n).Msg("session sweep")
			}
		case <-done:
			return
		}
	}
}
