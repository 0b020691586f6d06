// Package database opens per-request sessions against the reporting database.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/reportgen/reportgen/internal/config"
	"github.com/reportgen/reportgen/internal/secrets"
)

const pingTimeout = 5 * time.Second

type OpenFunc func(driver, dsn string) (*sql.DB, error)

// Dialer resolves credentials and opens a fresh single-connection session for
// every Acquire call.
type Dialer struct {
	Driver      string
	SSLMode     string
	Credentials secrets.Provider
	Open        OpenFunc
}

// Session owns one database handle and one connection. Close releases both.
type Session struct {
	db   *sql.DB
	conn *sql.Conn
}

func (s *Session) Conn() *sql.Conn {
	return s.conn
}

func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	var connErr error
	if s.conn != nil {
		connErr = s.conn.Close()
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	if connErr != nil {
		return fmt.Errorf("close connection: %w", connErr)
	}
	return nil
}

func (d *Dialer) Acquire(ctx context.Context) (*Session, error) {
	if d.Credentials == nil {
		return nil, fmt.Errorf("credentials provider is required")
	}
	creds, err := d.Credentials.DBCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve database credentials: %w", err)
	}
	dsn, err := BuildDSN(d.Driver, creds, d.SSLMode)
	if err != nil {
		return nil, err
	}

	open := d.Open
	if open == nil {
		open = sql.Open
	}
	db, err := open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &Session{db: db, conn: conn}, nil
}

// HealthCheck verifies that credentials can be resolved without opening a
// connection.
func (d *Dialer) HealthCheck(ctx context.Context) error {
	if d.Credentials == nil {
		return fmt.Errorf("credentials provider is required")
	}
	creds, err := d.Credentials.DBCredentials(ctx)
	if err != nil {
		return fmt.Errorf("resolve database credentials: %w", err)
	}
	return creds.Validate()
}

func BuildDSN(driver string, creds secrets.Credentials, sslMode string) (string, error) {
	if dsn := strings.TrimSpace(creds.DSN); dsn != "" {
		return dsn, nil
	}
	switch driver {
	case config.DriverPostgres:
		if err := creds.Validate(); err != nil {
			return "", err
		}
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(creds.User, creds.Password),
			Host:   net.JoinHostPort(creds.Host, creds.Port),
			Path:   "/" + creds.Name,
		}
		if sslMode != "" {
			u.RawQuery = url.Values{"sslmode": []string{sslMode}}.Encode()
		}
		return u.String(), nil
	case config.DriverDuckDB:
		// DB_NAME is the database file; empty means an in-memory database.
		return strings.TrimSpace(creds.Name), nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}
