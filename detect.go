package dbconnector

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// HeaderSize is how many leading bytes file detection needs.
const HeaderSize = 16

var sqliteMagic = []byte("SQLite format 3\x00")

func IsSQLiteHeader(header []byte) bool {
	return len(header) >= len(sqliteMagic) && bytes.Equal(header[:len(sqliteMagic)], sqliteMagic)
}

// DetectKindFromHeader classifies a database file by its leading bytes.
func DetectKindFromHeader(header []byte) (Kind, error) {
	switch {
	case IsSQLiteHeader(header):
		return KindSQLite, nil
	case len(header) >= 4 && header[0] == 0xFE && header[1] == 0xFE && header[2] == 0xFE && header[3] == 0xFE:
		return KindMySQL, nil
	case len(header) >= 6 && header[0] == 0x01 && header[1] == 0x0F && header[4] == 0x00 && header[5] == 0x01:
		return KindSQLServer, nil
	case len(header) >= 4 && bytes.Equal(header[:4], []byte("PGDB")):
		return KindPostgres, nil
	}
	return "", ErrUndetectable
}

func DetectKindFromReader(r io.Reader) (Kind, error) {
	header := make([]byte, HeaderSize)
	n, err := io.ReadFull(r, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("read header: %w", err)
	}
	return DetectKindFromHeader(header[:n])
}

func DetectKindFromFile(path string) (Kind, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return DetectKindFromReader(f)
}

// Checker reports whether dsn opens and answers as the given kind.
type Checker func(ctx context.Context, kind Kind, dsn string) error

// detectionOrder is the order connection strings are tried in.
var detectionOrder = []Kind{KindSQLite, KindMySQL, KindSQLServer, KindPostgres}

type Detector struct {
	Check   Checker
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewDetector(timeout time.Duration, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Detector{Check: PingCheck, Timeout: timeout, Logger: logger}
}

// DetectKind tries each engine in turn and returns the first one whose
// check succeeds.
func (d *Detector) DetectKind(ctx context.Context, connStr string) (Kind, error) {
	connStr = strings.TrimSpace(connStr)
	if connStr == "" {
		return "", ErrUndetectable
	}
	check := d.Check
	if check == nil {
		check = PingCheck
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	for _, kind := range detectionOrder {
		dsn := CandidateDSN(kind, connStr)
		if dsn == "" {
			continue
		}
		checkCtx := ctx
		cancel := func() {}
		if d.Timeout > 0 {
			checkCtx, cancel = context.WithTimeout(ctx, d.Timeout)
		}
		err := check(checkCtx, kind, dsn)
		cancel()
		if err == nil {
			logger.Info("detected database type", slog.String("type", string(kind)))
			return kind, nil
		}
		logger.Debug("check failed", slog.String("type", string(kind)), slog.Any("error", err))
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", ErrUndetectable
}

// CandidateDSN rewrites connStr into the form kind's driver expects.
// ADO-style "Server=...;Database=..." strings are mapped field by field.
func CandidateDSN(kind Kind, connStr string) string {
	dialect, err := DialectFor(kind)
	if err != nil {
		return ""
	}
	if kind == KindSQLite {
		return sqliteDialect{}.NormalizeDSN(strings.TrimPrefix(connStr, "file:"))
	}
	if cfg, ok := parseADO(connStr); ok {
		if kind == KindSQLServer {
			return connStr
		}
		return dialect.BuildDSN(cfg)
	}
	return dialect.NormalizeDSN(connStr)
}

// PingCheck opens the connection and pings it. SQLite is checked on disk
// only, since opening a missing path would create an empty database.
func PingCheck(ctx context.Context, kind Kind, dsn string) error {
	if kind == KindSQLite {
		path := strings.SplitN(dsn, "?", 2)[0]
		k, err := DetectKindFromFile(path)
		if err != nil {
			return err
		}
		if k != KindSQLite {
			return ErrUndetectable
		}
		return nil
	}
	dialect, err := DialectFor(kind)
	if err != nil {
		return err
	}
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.PingContext(ctx)
}

func parseADO(connStr string) (ConnectionConfig, bool) {
	if !strings.Contains(connStr, ";") || strings.Contains(connStr, "://") {
		return ConnectionConfig{}, false
	}
	var cfg ConnectionConfig
	found := false
	for _, part := range strings.Split(connStr, ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "server", "host", "data source", "address":
			host, port, _ := strings.Cut(value, ",")
			if h, p, ok := strings.Cut(host, ":"); ok && port == "" {
				host, port = h, p
			}
			cfg.Host = strings.TrimPrefix(host, "tcp:")
			if n, err := strconv.Atoi(strings.TrimSpace(port)); err == nil {
				cfg.Port = n
			}
			found = true
		case "port":
			if n, err := strconv.Atoi(value); err == nil {
				cfg.Port = n
			}
		case "database", "initial catalog":
			cfg.Database = value
		case "user id", "uid", "user", "username":
			cfg.User = value
		case "password", "pwd":
			cfg.Password = value
		case "sslmode", "ssl mode":
			cfg.SSLMode = value
		}
	}
	return cfg, found
}
