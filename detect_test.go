package dbconnector

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSQLiteHeader(t *testing.T) {
	assert.True(t, IsSQLiteHeader([]byte("SQLite format 3\x00\x10\x00")))
	assert.True(t, IsSQLiteHeader([]byte("SQLite format 3\x00")))
	assert.False(t, IsSQLiteHeader([]byte("SQLite format 3")))
	assert.False(t, IsSQLiteHeader([]byte("SQLite format 4\x00")))
	assert.False(t, IsSQLiteHeader(nil))
}

func TestDetectKindFromHeader(t *testing.T) {
	tests := []struct {
		name   string
		header []byte
		want   Kind
	}{
		{"sqlite", []byte("SQLite format 3\x00"), KindSQLite},
		{"mysql", []byte{0xFE, 0xFE, 0xFE, 0xFE, 0x00}, KindMySQL},
		{"sqlserver", []byte{0x01, 0x0F, 0x33, 0x44, 0x00, 0x01}, KindSQLServer},
		{"postgres", []byte("PGDB\x00\x00"), KindPostgres},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectKindFromHeader(tt.header)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	_, err := DetectKindFromHeader([]byte("plain text file"))
	assert.True(t, errors.Is(err, ErrUndetectable))
}

func TestDetectKindFromReaderShortInput(t *testing.T) {
	kind, err := DetectKindFromReader(bytes.NewReader([]byte("PGDB")))
	require.NoError(t, err)
	assert.Equal(t, KindPostgres, kind)

	_, err = DetectKindFromReader(bytes.NewReader(nil))
	assert.True(t, errors.Is(err, ErrUndetectable))
}

func TestDetectKindFromRealSQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "real.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	kind, err := DetectKindFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, KindSQLite, kind)
}

func TestDetectorTriesKindsInOrder(t *testing.T) {
	var tried []Kind
	d := &Detector{Check: func(ctx context.Context, kind Kind, dsn string) error {
		tried = append(tried, kind)
		if kind == KindPostgres {
			return nil
		}
		return errors.New("refused")
	}}

	kind, err := d.DetectKind(context.Background(), "host=localhost user=app dbname=app sslmode=disable")
	require.NoError(t, err)
	assert.Equal(t, KindPostgres, kind)
	assert.Equal(t, []Kind{KindSQLite, KindMySQL, KindSQLServer, KindPostgres}, tried)
}

func TestDetectorStopsAtFirstMatch(t *testing.T) {
	var tried []Kind
	d := &Detector{Check: func(ctx context.Context, kind Kind, dsn string) error {
		tried = append(tried, kind)
		if kind == KindMySQL {
			return nil
		}
		return errors.New("refused")
	}}
	kind, err := d.DetectKind(context.Background(), "Server=db;Database=shop;Uid=app;Pwd=secret")
	require.NoError(t, err)
	assert.Equal(t, KindMySQL, kind)
	assert.Equal(t, []Kind{KindSQLite, KindMySQL}, tried)
}

func TestDetectorUndetectable(t *testing.T) {
	d := &Detector{Check: func(context.Context, Kind, string) error { return errors.New("refused") }}
	_, err := d.DetectKind(context.Background(), "nothing")
	assert.True(t, errors.Is(err, ErrUndetectable))

	_, err = d.DetectKind(context.Background(), "")
	assert.True(t, errors.Is(err, ErrUndetectable))
}

func TestPingCheckSQLiteDoesNotCreateFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.db")
	err := PingCheck(context.Background(), KindSQLite, CandidateDSN(KindSQLite, "Data Source="+path))
	assert.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPingCheckSQLiteAcceptsExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	d := NewDetector(0, nil)
	kind, err := d.DetectKind(context.Background(), "Data Source="+path)
	require.NoError(t, err)
	assert.Equal(t, KindSQLite, kind)
}

func TestCandidateDSN(t *testing.T) {
	assert.Equal(t, "/tmp/app.db", CandidateDSN(KindSQLite, "Data Source=/tmp/app.db;Version=3"))
	assert.Equal(t, "/tmp/app.db", CandidateDSN(KindSQLite, "file:/tmp/app.db"))
	assert.Equal(t, "app:secret@tcp(db:3306)/shop?parseTime=true", CandidateDSN(KindMySQL, "Server=db;Database=shop;Uid=app;Pwd=secret"))
	assert.Equal(t, "host=db port=5432 user=app password=secret dbname=shop sslmode=disable", CandidateDSN(KindPostgres, "Host=db;Database=shop;Username=app;Password=secret"))
	assert.Equal(t, "Server=db;Database=shop", CandidateDSN(KindSQLServer, "Server=db;Database=shop"))
	assert.Equal(t, "postgres://u@h/db", CandidateDSN(KindPostgres, "postgres://u@h/db"))
	assert.Equal(t, "", CandidateDSN(KindOracle, "anything"))
}
