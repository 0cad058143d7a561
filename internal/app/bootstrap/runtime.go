package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/outreach-orchestrator/internal/config"
	"github.com/wolfman30/outreach-orchestrator/internal/inbox"
	"github.com/wolfman30/outreach-orchestrator/internal/leads"
	"github.com/wolfman30/outreach-orchestrator/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available; inbound claims disabled", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildInboundClaims returns the Redis claim store, or a nil Claims when Redis
// is off so the guard relies on the lead store alone.
func BuildInboundClaims(client *redis.Client, ttl time.Duration) inbox.Claims {
	if client == nil {
		return nil
	}
	return inbox.NewRedisClaims(client, ttl)
}

// BuildPostgresPool opens the pgx pool used by the lead store. It returns nil
// without a database URL.
func BuildPostgresPool(ctx context.Context, cfg *appconfig.Config) (*pgxpool.Pool, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	return pool, nil
}

// BuildLeadRepository picks the Postgres store when a pool is available and
// the in-memory store otherwise.
func BuildLeadRepository(pool *pgxpool.Pool, logger *logging.Logger) leads.Repository {
	if logger == nil {
		logger = logging.Default()
	}
	if pool == nil {
		logger.Warn("DATABASE_URL not set; leads are kept in memory")
		return leads.NewInMemoryRepository()
	}
	return leads.NewPostgresRepository(pool)
}

// BuildLedgerDB opens the database/sql handle for the job run ledger.
func BuildLedgerDB(cfg *appconfig.Config) (*sql.DB, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open ledger db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}
