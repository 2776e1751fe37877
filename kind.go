package dbconnector

import (
	"fmt"
	"strings"
)

// Kind names a database engine a connection points at.
type Kind string

const (
	KindSQLite    Kind = "sqlite"
	KindMySQL     Kind = "mysql"
	KindPostgres  Kind = "postgres"
	KindSQLServer Kind = "sqlserver"
	KindOracle    Kind = "oracle"
)

var kindAliases = map[string]Kind{
	"sqlite":     KindSQLite,
	"sqlite3":    KindSQLite,
	"mysql":      KindMySQL,
	"mariadb":    KindMySQL,
	"postgres":   KindPostgres,
	"postgresql": KindPostgres,
	"pg":         KindPostgres,
	"sqlserver":  KindSQLServer,
	"mssql":      KindSQLServer,
	"sql server": KindSQLServer,
	"oracle":     KindOracle,
}

func ParseKind(s string) (Kind, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return "", fmt.Errorf("database kind is required: %w", ErrUnsupportedKind)
	}
	if kind, ok := kindAliases[key]; ok {
		return kind, nil
	}
	return "", fmt.Errorf("unsupported database type %q: %w", s, ErrUnsupportedKind)
}

func (k Kind) String() string {
	return string(k)
}

func (k Kind) DisplayName() string {
	switch k {
	case KindSQLite:
		return "SQLite"
	case KindMySQL:
		return "MySQL"
	case KindPostgres:
		return "PostgreSQL"
	case KindSQLServer:
		return "SQL Server"
	case KindOracle:
		return "Oracle"
	default:
		return string(k)
	}
}

// UnmarshalText accepts any alias understood by ParseKind, so stored
// records written with display names ("PostgreSQL") still load.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k), nil
}
