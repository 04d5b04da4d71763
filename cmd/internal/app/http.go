package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type routes struct {
	log     *slog.Logger
	cfg     Config
	pool    *pgxpool.Pool
	ws      http.Handler
	auth    interface{ Register(*http.ServeMux) }
	metrics http.Handler
}

func (rt routes) mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if rt.pool == nil {
			if rt.cfg.ReadinessRequireDB {
				http.Error(w, "db not configured", http.StatusServiceUnavailable)
				return
			}
		} else if err := PingDB(r.Context(), rt.pool, 2*time.Second); err != nil {
			rt.log.Warn("readyz.db.not_ready", "err", err)
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics)
	}
	if rt.auth != nil {
		rt.auth.Register(mux)
	}
	if rt.ws != nil {
		mux.Handle("/ws", rt.ws)
	}
	return mux
}
