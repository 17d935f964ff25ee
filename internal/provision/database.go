package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/edvin/hostprov/internal/host"
)

// PingFunc opens a connection to dsn and verifies it answers.
type PingFunc func(ctx context.Context, dsn string) error

// PingPostgres connects with a short-lived pgx pool and pings the server.
func PingPostgres(ctx context.Context, dsn string) error {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parse database dsn: %w", err)
	}
	cfg.MaxConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create database pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// EnsureDatabaseReady waits for the database engine to accept connections.
// It only observes the host and never reports Changed.
type EnsureDatabaseReady struct {
	DSN      string
	Attempts int
	Interval time.Duration
	Ping     PingFunc
}

func (s EnsureDatabaseReady) Name() string { return "database ready" }

func (s EnsureDatabaseReady) Satisfied(ctx context.Context, _ host.Host) (bool, error) {
	ping := s.Ping
	if ping == nil {
		ping = PingPostgres
	}
	attempts := max(s.Attempts, 1)

	var lastErr error
	for i := range attempts {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = ping(pingCtx, s.DSN)
		cancel()
		if lastErr == nil {
			return true, nil
		}
		zerolog.Ctx(ctx).Debug().Err(lastErr).Int("attempt", i+1).Msg("database not ready")
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(s.Interval):
		}
	}
	return false, fmt.Errorf("%w: database not ready after %d attempts: %w", ErrNetworkFetch, attempts, lastErr)
}

func (s EnsureDatabaseReady) Apply(context.Context, host.Host) (Outcome, error) {
	return Unchanged, nil
}
