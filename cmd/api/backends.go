package main

import (
	"context"
	"database/sql"
	"log/slog"

	"claims-dialer/internal/agents"
	"claims-dialer/internal/audit"
	"claims-dialer/internal/callers"
	"claims-dialer/internal/calls"
	"claims-dialer/internal/config"
	"claims-dialer/internal/outcomes"
	"claims-dialer/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// backends holds the storage chosen by config: Postgres when DB_HOST is set,
// otherwise in-memory stores for local runs.
type backends struct {
	db  *sql.DB
	rdb *redis.Client

	calls    calls.Repository
	outcomes outcomes.Repository
	agents   agents.Store
	audit    audit.Repository
	callers  callers.Lookup
}

func openBackends(ctx context.Context, cfg config.Config, log *slog.Logger) (*backends, error) {
	be := &backends{}

	if cfg.Redis.Host != "" {
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			return nil, err
		}
		be.rdb = rdb
	}

	if cfg.DB.Host != "" {
		db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			be.Close()
			return nil, err
		}
		be.db = db
		be.calls = calls.NewPostgresRepo(db)
		be.outcomes = outcomes.NewPostgresRepo(db)
		be.agents = agents.NewPostgresStore(db)
		be.audit = audit.NewPostgresRepo(db)
		be.callers = callers.NewPostgres(db)
	} else {
		log.Warn("DB_HOST not set, using in-memory stores")
		mem := calls.NewMemoryRepo()
		be.calls = mem
		be.outcomes = outcomes.NewMemoryRepo(mem)
		be.agents = agents.NewMemoryStore()
		be.audit = audit.NewMemoryRepo()
		be.callers = callers.NewMemory()
	}

	if be.rdb != nil {
		be.callers = callers.NewCached(be.callers, be.rdb, 0, log)
	}
	return be, nil
}

func (b *backends) Close() {
	if b.db != nil {
		_ = b.db.Close()
	}
	if b.rdb != nil {
		_ = b.rdb.Close()
	}
}
