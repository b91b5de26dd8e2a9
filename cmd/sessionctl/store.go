package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	session "github.com/swfrench/aerospike-session"
	"github.com/swfrench/aerospike-session/internal/config"
	"github.com/swfrench/aerospike-session/store"
	"github.com/swfrench/aerospike-session/store/aerospike"
	"github.com/swfrench/aerospike-session/store/instrumented"
	"github.com/swfrench/aerospike-session/store/memory"
	"github.com/swfrench/aerospike-session/store/redis"
	"golang.org/x/exp/slog"
)

// openStore connects to the backend selected by cfg, returning an
// instrumented store for sessions carrying D and a function releasing its
// connections.
func openStore[D any](cfg *config.Config, reg prometheus.Registerer) (store.SessionStore[*session.Session[D]], func(), error) {
	codec := store.JSONCodec[session.Session[D]]{}
	var (
		st      store.SessionStore[*session.Session[D]]
		closeFn func()
	)
	switch cfg.Backend {
	case config.BackendAerospike:
		client, err := aerospike.Dial(cfg.ConnOptions())
		if err != nil {
			return nil, nil, err
		}
		opts := cfg.StoreOptions()
		opts.Logger = slog.Default().With("backend", cfg.Backend)
		ast, err := aerospike.New[*session.Session[D]](client, codec, opts)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		st, closeFn = ast, ast.Close
	case config.BackendRedis:
		rc := goredis.NewClient(&goredis.Options{
			Addr: cfg.RedisAddr,
		})
		st = redis.New[*session.Session[D]](rc, codec, cfg.RedisPrefix, cfg.TTL())
		closeFn = func() {
			if err := rc.Close(); err != nil {
				slog.Warn("Failed to close Redis client", "error", err)
			}
		}
	case config.BackendMemory:
		st, closeFn = memory.New[*session.Session[D]](codec, cfg.TTL()), func() {}
	default:
		return nil, nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
	m, err := instrumented.NewMetrics(reg)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	slog.Debug("Opened session store", "backend", cfg.Backend, "ttl", cfg.TTL())
	return instrumented.Wrap[*session.Session[D]](st, cfg.Backend, m), closeFn, nil
}
