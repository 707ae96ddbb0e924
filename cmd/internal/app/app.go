// Package app wires the roomchat server runtime: config, logging, the bus and
// history backends, the room registry, HTTP routes and the realtime gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"roomchat/cmd/chat"
	"roomchat/cmd/identity"
	"roomchat/cmd/identity/ids"
	"roomchat/cmd/internal/bus"
	"roomchat/cmd/internal/history"
	"roomchat/cmd/internal/realtime"
	"roomchat/cmd/internal/room"
)

var errBusNotConnected = errors.New("bus not connected")

// App is the roomchat server runtime: it owns the shared bus connection, the
// history backend, the room registry and the HTTP server.
type App struct {
	cfg Config
	log Logger

	bus    bus.Client
	store  history.Store
	dbPool *pgxpool.Pool
	rooms  *room.Registry
	ws     *realtime.WSGateway

	checks []readinessCheck
}

// New constructs a fully wired App instance from config and logger. The bus
// is dialed once here; when that fails the server still starts and room
// sessions keep retrying, except for the jetstream history backend which
// needs the connection up front.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			a.closeBackends(context.Background())
		}
	}()

	busClient, natsClient := newBus(cfg, log)
	a.bus = busClient

	connectCtx, cancel := context.WithTimeout(ctx, cfg.BusConnectTimeout)
	err := busClient.Connect(connectCtx)
	cancel()
	if err != nil {
		if cfg.History == HistoryJetStream {
			return nil, fmt.Errorf("bus connect: %w", err)
		}
		log.Warn("bus.connect.deferred", "bus", cfg.Bus, "err", err)
	}

	a.checks = append(a.checks, readinessCheck{name: "bus", check: func(context.Context) error {
		if !a.bus.Connected() {
			return errBusNotConnected
		}
		return nil
	}})

	if err := a.openHistory(ctx, natsClient); err != nil {
		return nil, err
	}

	verifier, err := newVerifier(cfg)
	if err != nil {
		return nil, err
	}

	a.rooms = room.NewRegistry(room.Config{
		Namespace:          cfg.Namespace,
		Bus:                a.bus,
		Store:              a.store,
		Identity:           identity.ContextProvider{},
		Clock:              chat.NewClock(nil),
		StoreWriteTimeout:  cfg.StoreWriteTimeout,
		HistoryLoadTimeout: cfg.HistoryLoadTimeout,
		RetryMin:           cfg.SessionRetryMin,
		RetryMax:           cfg.SessionRetryMax,
		Logger:             log,
	})
	a.ws = realtime.NewWSGateway(log, a.rooms, verifier)

	ok = true
	return a, nil
}

func newBus(cfg Config, log Logger) (bus.Client, *bus.NATSClient) {
	if cfg.Bus == BusMemory {
		log.Info("bus.memory", "namespace", cfg.Namespace)
		return bus.NewMemoryBroker().NewClient(), nil
	}

	ncfg := bus.NATSConfig{
		URL:            cfg.NATSURL,
		Name:           ids.ClientName(cfg.NATSName),
		User:           cfg.NATSUser,
		Password:       cfg.NATSPassword,
		ConnectTimeout: cfg.BusConnectTimeout,
		ReconnectMin:   cfg.BusReconnectMin,
		ReconnectMax:   cfg.BusReconnectMax,
		Stream:         cfg.BusStream,
		Logger:         log,
	}
	if cfg.BusStream != "" {
		ncfg.StreamSubjects = []string{bus.Subject(chat.Topic(cfg.Namespace, ">"))}
	}
	c := bus.NewNATSClient(ncfg)
	return c, c
}

// openHistory builds the configured history backend. A database URL also
// opens the pool for readiness even when history lives elsewhere.
func (a *App) openHistory(ctx context.Context, natsClient *bus.NATSClient) error {
	cfg := a.cfg

	if cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return fmt.Errorf("db pool: %w", err)
		}
		a.dbPool = pool
		a.checks = append(a.checks, readinessCheck{name: "db", check: func(ctx context.Context) error {
			return PingDB(ctx, pool, 2*time.Second)
		}})
	}

	var (
		st  history.Store
		err error
	)
	switch cfg.History {
	case HistoryPostgres:
		pg, perr := history.NewPostgresStore(a.dbPool, history.WithSchema(cfg.DBSchema))
		if perr != nil {
			return perr
		}
		if cfg.DBAutoMigrate {
			if err := pg.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}
			a.log.Info("history.schema.ready", "schema", cfg.DBSchema)
		}
		st = pg
	case HistoryRedis:
		rs, rerr := history.NewRedisStore(ctx, cfg.RedisURL, a.log)
		if rerr != nil {
			return rerr
		}
		a.checks = append(a.checks, readinessCheck{name: "redis", check: rs.Ping})
		st = rs
	case HistoryJetStream:
		js, jerr := natsClient.JetStream()
		if jerr != nil {
			return jerr
		}
		st, err = history.NewJetStreamStore(ctx, js, cfg.KVBucket, a.log)
		if err != nil {
			return err
		}
	default:
		st = history.NewInMemoryStore(history.WithMemoryLogger(a.log))
	}

	a.store = history.Instrument(st, cfg.History)
	a.log.Info("history.open", "backend", cfg.History)
	return nil
}

// newVerifier returns nil in dev mode; the gateway then trusts hello payloads.
func newVerifier(cfg Config) (identity.Verifier, error) {
	if cfg.AuthMode != AuthPaseto {
		return nil, nil
	}
	v, err := identity.NewPasetoVerifier(cfg.PasetoPublicKeyHex, cfg.AuthIssuer, cfg.AuthClockSkew)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Handler returns the full HTTP handler chain.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.checks, a.ws.HandleWS)
	return WithSecurityHeaders(WithRequestLogging(mux, a.log))
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", base,
		"ws_url", wsBaseURL(base)+"/ws",
		"bus", a.cfg.Bus,
		"history", a.cfg.History,
		"auth_mode", a.cfg.AuthMode,
		"namespace", a.cfg.Namespace,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if runErr == nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			runErr = err
		}
	}

	a.Close(shutdownCtx)
	a.log.Info("server.stopped")
	return runErr
}

// Close releases every room session, then the bus and the backends.
func (a *App) Close(ctx context.Context) {
	if a.rooms != nil {
		if err := a.rooms.Shutdown(ctx); err != nil {
			a.log.Error("rooms.shutdown.fail", "err", err)
		}
	}
	a.closeBackends(ctx)
}

func (a *App) closeBackends(_ context.Context) {
	if a.bus != nil {
		a.bus.Disconnect()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Error("history.close.fail", "err", err)
		}
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
