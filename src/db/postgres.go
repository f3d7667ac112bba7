package db

import (
	"context"
	"crypto/tls"
	"time"

	"age-classifier/src/config"

	"github.com/go-pg/pg/v10"
	"github.com/rs/zerolog"
)

// NewPostgresOpener returns an Opener that connects a go-pg pool bounded by
// the configured DBPoolMin and DBPoolMax and pings it before handing it out.
func NewPostgresOpener(cfg config.Config, logger zerolog.Logger) Opener {
	return func(ctx context.Context) (Pool, error) {
		if err := cfg.RequireDB(); err != nil {
			return nil, err
		}

		logger.Info().
			Str("host", cfg.DBHost).
			Str("db", cfg.DBName).
			Int("min", cfg.DBPoolMin).
			Int("max", cfg.DBPoolMax).
			Str("sslmode", cfg.DBSSLMode).
			Msg("creating connection pool")

		conn := pg.Connect(&pg.Options{
			Addr:         cfg.DBAddr(),
			User:         cfg.DBUser,
			Password:     cfg.DBPassword,
			Database:     cfg.DBName,
			PoolSize:     cfg.DBPoolMax,
			MinIdleConns: cfg.DBPoolMin,
			DialTimeout:  5 * time.Second,
			TLSConfig:    tlsConfig(cfg.DBSSLMode, cfg.DBHost),
		})

		// Print SQL queries to logger if loglevel is set to debug.
		conn.AddQueryHook(loggerHook{logger: logger})

		if err := conn.Ping(ctx); err != nil {
			_ = conn.Close()
			return nil, err
		}

		return &pgPool{db: conn}, nil
	}
}

// tlsConfig maps a libpq sslmode onto go-pg. go-pg cannot fall back to
// plaintext, so allow and prefer connect without TLS. verify-ca also checks
// the host name.
func tlsConfig(mode, host string) *tls.Config {
	switch mode {
	case "require":
		return &tls.Config{InsecureSkipVerify: true}
	case "verify-ca", "verify-full":
		return &tls.Config{ServerName: host}
	default:
		return nil
	}
}

type pgPool struct {
	db *pg.DB
}

func (p *pgPool) Acquire(ctx context.Context) (Conn, error) {
	return &pgConn{conn: p.db.Conn().WithContext(ctx)}, nil
}

func (p *pgPool) Close() error {
	return p.db.Close()
}

// pgConn pins a single pooled connection until Release.
type pgConn struct {
	conn *pg.Conn
}

func (c *pgConn) Insert(ctx context.Context, model interface{}) error {
	_, err := c.conn.ModelContext(ctx, model).Returning("id").Insert()
	return err
}

func (c *pgConn) Release() error {
	return c.conn.Close()
}

type loggerHook struct {
	logger zerolog.Logger
}

func (h loggerHook) BeforeQuery(ctx context.Context, evt *pg.QueryEvent) (context.Context, error) {
	if h.logger.GetLevel() > zerolog.DebugLevel {
		return ctx, nil
	}

	q, err := evt.FormattedQuery()
	if err != nil {
		return nil, err
	}

	h.logger.Debug().Msg(string(q))

	return ctx, nil
}

func (h loggerHook) AfterQuery(ctx context.Context, evt *pg.QueryEvent) error {
	if evt.Err != nil {
		h.logger.Debug().Err(evt.Err).Msg("query failed")
	}
	return nil
}
