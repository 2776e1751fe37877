package dbconnector

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

func NewConnector(cfg ConnectionConfig, opts ...Option) (DbConnector, error) {
	if strings.TrimSpace(string(cfg.Kind)) == "" {
		return nil, errors.New("connection type is required")
	}
	kind, err := ParseKind(string(cfg.Kind))
	if err != nil {
		return nil, err
	}
	dialect, err := DialectFor(kind)
	if err != nil {
		return nil, err
	}
	dsn := dialect.NormalizeDSN(cfg.DSN)
	if dsn == "" {
		dsn = dialect.BuildDSN(cfg)
	}
	if dsn == "" {
		return nil, fmt.Errorf("%s connection has no data source", kind.DisplayName())
	}
	db, err := openDatabase(dialect.DriverName(), dsn)
	if err != nil {
		return nil, err
	}
	cfg.Kind = kind
	return newSQLConnector(cfg, dialect, db, opts), nil
}

// NewConnectorWithDB wraps an already opened handle. The connector takes
// ownership and closes db on Close.
func NewConnectorWithDB(kind Kind, db *sql.DB, opts ...Option) (DbConnector, error) {
	dialect, err := DialectFor(kind)
	if err != nil {
		return nil, err
	}
	return newSQLConnector(ConnectionConfig{Kind: kind}, dialect, db, opts), nil
}

func newSQLConnector(cfg ConnectionConfig, dialect Dialect, db *sql.DB, opts []Option) *sqlConnector {
	o := options{
		limits: PageLimits{Default: DefaultPageSize, Max: MaxPageSize},
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &sqlConnector{cfg: cfg, dialect: dialect, db: db, opts: o}
}

func openDatabase(driverName, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	return db, nil
}
