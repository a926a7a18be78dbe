package postgresql

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/heptiolabs/healthcheck"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/omeid/pgerror"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"
)

// Config holds the connection settings for the backing PostgreSQL engine.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	BucketCacheSize int
}

// ConfigFromEnv reads the POSTGRES_* environment variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	var err error
	cfg.Host, err = env.GetAsString("POSTGRES_HOST", false, "db")
	if err != nil {
		return Config{}, err
	}
	cfg.Port, err = env.GetAsInt("POSTGRES_PORT", false, 5432)
	if err != nil {
		return Config{}, err
	}
	cfg.User, err = env.GetAsString("POSTGRES_USER", true, "")
	if err != nil {
		return Config{}, err
	}
	cfg.Password, err = env.GetAsString("POSTGRES_PASSWORD", true, "")
	if err != nil {
		return Config{}, err
	}
	cfg.Database, err = env.GetAsString("POSTGRES_DATABASE", true, "")
	if err != nil {
		return Config{}, err
	}
	cfg.SSLMode, err = env.GetAsString("POSTGRES_SSL_MODE", false, "require")
	if err != nil {
		return Config{}, err
	}
	cfg.BucketCacheSize, err = env.GetAsInt("POSTGRES_BUCKET_CACHE_SIZE", false, 1000)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// PgxIface is the subset of pgxpool.Pool the store uses. Tests substitute a
// pgxmock pool behind it.
type PgxIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Connection wraps the pgx pool together with the bucket-metadata cache.
type Connection struct {
	Db          PgxIface
	bucketCache *lru.ARCCache
}

// New opens the connection pool, verifies the engine is reachable and makes
// sure the bucket catalog table exists.
func New(ctx context.Context, cfg Config) (*Connection, error) {
	zap.S().Infof("Connecting to %s@%s:%d/%s [%s]", cfg.User, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)

	conString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	establishCtx, establishCncl := context.WithTimeout(ctx, 5*time.Second)
	defer establishCncl()
	db, err := pgxpool.New(establishCtx, conString)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection to postgres database: %w", err)
	}

	cache, err := lru.NewARC(cfg.BucketCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket cache: %w", err)
	}

	c := &Connection{Db: db, bucketCache: cache}
	if !c.IsAvailable() {
		return nil, errors.New("database is not available")
	}

	catalogCtx, catalogCncl := context.WithTimeout(ctx, 5*time.Second)
	defer catalogCncl()
	_, err = db.Exec(catalogCtx, `
		CREATE TABLE IF NOT EXISTS buckets
		(
			name         TEXT PRIMARY KEY,
			index_schema JSONB NOT NULL
		)`)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure bucket catalog table: %w", err)
	}

	return c, nil
}

// NewWithDB wraps an already-open pool (or a mock satisfying PgxIface)
// without touching the environment or the catalog. Used by tests and by
// callers that manage their own pool.
func NewWithDB(db PgxIface, bucketCacheSize int) (*Connection, error) {
	cache, err := lru.NewARC(bucketCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket cache: %w", err)
	}
	return &Connection{Db: db, bucketCache: cache}, nil
}

// IsAvailable returns whether the database answers a PING.
func (c *Connection) IsAvailable() bool {
	if c.Db == nil {
		return false
	}
	ctx, cncl := get5SecondContext()
	defer cncl()
	err := c.Db.Ping(ctx)
	if err != nil {
		zap.S().Debugf("Failed to ping database: %s", err)
		return false
	}
	return true
}

// Close shuts the pool down.
func (c *Connection) Close() {
	if c.Db != nil {
		c.Db.Close()
	}
}

// HealthCheck adapts IsAvailable to a healthcheck probe.
func (c *Connection) HealthCheck() healthcheck.Check {
	return func() error {
		if c.IsAvailable() {
			return nil
		}
		return errors.New("healthcheck failed to reach database")
	}
}

// logEngineError logs an engine failure before it is passed through to the
// caller, separating connection-class failures from statement failures.
func logEngineError(sqlStatement string, err error) {
	stackTrace := make([]byte, 1024*8)
	written := runtime.Stack(stackTrace, false)
	if e := pgerror.ConnectionException(err); e != nil {
		zap.S().Errorw(
			"PostgreSQL failed: ConnectionException",
			"error", err,
			"sqlStatement", sqlStatement,
			"stackTrace", string(stackTrace[:written]),
		)
	} else {
		zap.S().Errorw(
			"PostgreSQL failed.",
			"error", err,
			"sqlStatement", sqlStatement,
		)
	}
}

func get5SecondContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
