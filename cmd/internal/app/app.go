// Package app wires the tether server: config, logging, stores, services and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"tether/cmd/identity"
	authapi "tether/cmd/internal/auth/api"
	"tether/cmd/internal/auth/tokens"
	"tether/cmd/internal/chat"
	"tether/cmd/internal/keys"
	"tether/cmd/internal/metrics"
	"tether/cmd/internal/pgdb"
	"tether/cmd/internal/realtime"
	"tether/cmd/internal/social"
	"tether/cmd/security/fieldcrypt"
	"tether/cmd/security/password"
	"tether/cmd/security/token"
)

// App owns the server, its services and the database pool.
type App struct {
	cfg     Config
	log     *slog.Logger
	pool    *pgxpool.Pool
	metrics *metrics.Metrics

	tokens  *tokens.Service
	gateway *realtime.Gateway
	auth    *authapi.Handler
}

type stores struct {
	users    identity.Store
	tokens   tokens.Store
	messages chat.MessageStore
	sessions chat.SessionStore
	keys     keys.Store
	social   social.Store
}

// New builds every component. With no database URL the app runs on memory stores.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, metrics: metrics.New()}

	st, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.wire(st); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) openStores(ctx context.Context) (stores, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.memory_stores")
		cs := chat.NewMemoryStore()
		return stores{
			users:    identity.NewMemoryStore(),
			tokens:   tokens.NewMemoryStore(),
			messages: cs,
			sessions: cs,
			keys:     keys.NewMemoryStore(),
			social:   social.NewMemoryStore(),
		}, nil
	}

	if a.cfg.DBMigrate {
		if err := Migrate(ctx, a.cfg.DatabaseURL); err != nil {
			return stores{}, err
		}
		a.log.Info("db.migrated")
	}
	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return stores{}, fmt.Errorf("db: %w", err)
	}
	a.pool = pool
	a.log.Info("db.enabled.postgres_stores")

	st, err := postgresStores(pool, pgdb.DefaultSchema)
	if err != nil {
		pool.Close()
		a.pool = nil
		return stores{}, err
	}
	return st, nil
}

func postgresStores(db pgdb.DB, schema string) (stores, error) {
	var (
		st  stores
		err error
	)
	if st.users, err = identity.NewPostgresStore(db, schema); err != nil {
		return stores{}, err
	}
	if st.tokens, err = tokens.NewPostgresStore(db, schema); err != nil {
		return stores{}, err
	}
	cs, err := chat.NewPostgresStore(db, schema)
	if err != nil {
		return stores{}, err
	}
	st.messages, st.sessions = cs, cs
	if st.keys, err = keys.NewPostgresStore(db, schema); err != nil {
		return stores{}, err
	}
	if st.social, err = social.NewPostgresStore(db, schema); err != nil {
		return stores{}, err
	}
	return st, nil
}

func (a *App) wire(st stores) error {
	hasher, err := password.FromEnv()
	if err != nil {
		return err
	}
	users := identity.NewService(a.log, st.users, hasher)

	tcfg, err := a.tokenConfig()
	if err != nil {
		return err
	}
	digester, err := token.DigesterFromEnv()
	if err != nil {
		return err
	}
	toks, err := tokens.NewService(a.log, tcfg, st.tokens, digester, tokens.WithMetrics(a.metrics))
	if err != nil {
		return err
	}
	a.tokens = toks

	cipher, err := a.fieldCipher()
	if err != nil {
		return err
	}
	engine, err := chat.NewEngine(a.log, st.messages, st.sessions, cipher, chat.WithMetrics(a.metrics))
	if err != nil {
		return err
	}

	a.gateway, err = realtime.NewGateway(a.log, realtime.LoadConfigFromEnv(), realtime.Deps{
		Auth:    toks,
		Chat:    engine,
		Social:  social.NewService(a.log, st.social, users, social.WithMetrics(a.metrics)),
		Keys:    keys.NewService(a.log, st.keys, cipher, keys.WithMetrics(a.metrics)),
		Users:   users,
		Metrics: a.metrics,
	})
	if err != nil {
		return err
	}

	a.auth, err = authapi.NewHandler(a.log, authapi.LoadConfigFromEnv(), users, toks, authapi.WithMetrics(a.metrics))
	return err
}

func (a *App) tokenConfig() (tokens.Config, error) {
	if !a.cfg.DevEphemeralKeys {
		return tokens.LoadConfigFromEnv()
	}
	cfg, generated, err := tokens.LoadDevConfigFromEnv()
	if err != nil {
		return tokens.Config{}, err
	}
	if generated {
		a.log.Warn("tokens.keys.ephemeral", "reason", "token keys not configured; tokens die with the process")
	}
	return cfg, nil
}

func (a *App) fieldCipher() (*fieldcrypt.Cipher, error) {
	c, err := fieldcrypt.FromEnv()
	if err == nil || !a.cfg.DevEphemeralKeys || !errors.Is(err, fieldcrypt.ErrKeyMissing) {
		return c, err
	}
	k, err := fieldcrypt.GenerateKeyHex()
	if err != nil {
		return nil, err
	}
	a.log.Warn("fieldcrypt.key.ephemeral", "reason", fieldcrypt.KeyEnv+" not configured; stored pointers die with the process")
	return fieldcrypt.NewFromHex(k)
}

// Handler returns the full HTTP handler including request logging.
func (a *App) Handler() http.Handler {
	mux := routes{
		log:     a.log,
		cfg:     a.cfg,
		pool:    a.pool,
		ws:      a.gateway,
		auth:    a.auth,
		metrics: a.metrics.Handler(),
	}.mux()
	return WithRequestLogging(mux, a.log, a.metrics)
}

// Run serves HTTP and sweeps refresh tokens until ctx is cancelled or either fails.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	g, gctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZero(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZero(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZero(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZero(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZero(a.cfg.MaxHeaderBytes, 1<<20),
		// Hijacked websocket connections end with the group.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.pool != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		return a.tokens.RunSweeper(gctx, nonZero(a.cfg.RefreshSweepInterval, 10*time.Minute))
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), nonZero(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()
	a.log.Info("server.stopped")
	return err
}

func (a *App) close() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

func nonZero[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}
