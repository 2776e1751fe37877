package connections

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	dbconnector "project-echo"
)

// Connection is one registered database. Host holds a connection string, or
// the absolute path of a database file for SQLite.
type Connection struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Kind      dbconnector.Kind `json:"type"`
	Host      string           `json:"host"`
	Uploaded  bool             `json:"uploaded,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
	LastUsed  *time.Time       `json:"lastUsed,omitempty"`
}

func (c Connection) Config() dbconnector.ConnectionConfig {
	return dbconnector.ConnectionConfig{Kind: c.Kind, DSN: c.Host}
}

type Resolver interface {
	ResolveByRef(ctx context.Context, connectionRef string) (dbconnector.ConnectionConfig, error)
}

type Options struct {
	// Path is the registry JSON file.
	Path string
	// StorageDir receives copies of added database files.
	StorageDir    string
	EncryptionKey string
	Detector      *dbconnector.Detector
	Logger        *slog.Logger
}

// Registry is the set of known connections, persisted as a whole on every
// change. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	byID      map[string]Connection
	order     []string
	lastSaved []byte

	store      *fileStore
	enc        *aesGcmEncryptor
	storageDir string
	detector   *dbconnector.Detector
	logger     *slog.Logger
	now        func() time.Time
}

func Open(opts Options) (*Registry, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, fmt.Errorf("registry path is required: %w", ErrNotConfigured)
	}
	enc, err := newAesGcmEncryptor(opts.EncryptionKey)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	storageDir := opts.StorageDir
	if storageDir == "" {
		storageDir = filepath.Dir(opts.Path)
	}
	r := &Registry{
		byID:       map[string]Connection{},
		store:      &fileStore{path: opts.Path},
		enc:        enc,
		storageDir: storageDir,
		detector:   opts.Detector,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) Path() string {
	return r.store.path
}

func (r *Registry) List() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Connection, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

func (r *Registry) Get(id string) (Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byID[strings.TrimSpace(id)]
	if !ok {
		return Connection{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return conn, nil
}

// AddConnectionString registers a server connection. An empty kind is
// resolved by probing connStr with the detector.
func (r *Registry) AddConnectionString(ctx context.Context, name, kind, connStr string) (Connection, error) {
	connStr = strings.TrimSpace(connStr)
	if connStr == "" {
		return Connection{}, fmt.Errorf("connection string is required: %w", ErrInvalidInput)
	}
	k, err := r.resolveKind(ctx, kind, func() (dbconnector.Kind, error) {
		if r.detector == nil {
			return "", fmt.Errorf("type is required: %w", ErrInvalidInput)
		}
		return r.detector.DetectKind(ctx, connStr)
	})
	if err != nil {
		return Connection{}, err
	}
	if strings.TrimSpace(name) == "" {
		name = k.DisplayName() + " connection"
	}
	return r.add(Connection{Name: strings.TrimSpace(name), Kind: k, Host: connStr})
}

// AddFile copies a database file into the storage directory under a fresh
// UUID name. The file header decides the kind; a non-empty kind must agree
// with it.
func (r *Registry) AddFile(ctx context.Context, name, kind string, src io.Reader, filename string) (Connection, error) {
	if src == nil {
		return Connection{}, fmt.Errorf("file is required: %w", ErrInvalidInput)
	}
	if err := os.MkdirAll(r.storageDir, 0o755); err != nil {
		return Connection{}, fmt.Errorf("create storage dir: %w", err)
	}
	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".db"
	}
	target, err := filepath.Abs(filepath.Join(r.storageDir, uuid.NewString()+ext))
	if err != nil {
		return Connection{}, err
	}
	if err := copyFile(target, src); err != nil {
		return Connection{}, err
	}
	k, err := r.fileKind(ctx, kind, target)
	if err != nil {
		os.Remove(target)
		return Connection{}, err
	}
	if strings.TrimSpace(name) == "" {
		name = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}
	conn, err := r.add(Connection{Name: strings.TrimSpace(name), Kind: k, Host: target, Uploaded: true})
	if err != nil {
		os.Remove(target)
		return Connection{}, err
	}
	return conn, nil
}

func (r *Registry) AddFilePath(ctx context.Context, name, kind, path string) (Connection, error) {
	f, err := os.Open(path)
	if err != nil {
		return Connection{}, fmt.Errorf("open database file: %w", err)
	}
	defer f.Close()
	return r.AddFile(ctx, name, kind, f, filepath.Base(path))
}

func (r *Registry) fileKind(ctx context.Context, kind, path string) (dbconnector.Kind, error) {
	detected, detectErr := dbconnector.DetectKindFromFile(path)
	if strings.TrimSpace(kind) == "" {
		if detectErr != nil {
			return "", detectErr
		}
		r.logger.InfoContext(ctx, "detected connection type", slog.String("type", string(detected)))
		return detected, nil
	}
	declared, err := dbconnector.ParseKind(kind)
	if err != nil {
		return "", err
	}
	if detectErr != nil {
		return "", fmt.Errorf("file is not a %s database: %w: %w", declared.DisplayName(), ErrInvalidInput, detectErr)
	}
	if detected != declared {
		return "", fmt.Errorf("file is a %s database, not %s: %w", detected.DisplayName(), declared.DisplayName(), ErrInvalidInput)
	}
	return declared, nil
}

func (r *Registry) resolveKind(ctx context.Context, kind string, detect func() (dbconnector.Kind, error)) (dbconnector.Kind, error) {
	if strings.TrimSpace(kind) != "" {
		return dbconnector.ParseKind(kind)
	}
	k, err := detect()
	if err != nil {
		return "", err
	}
	r.logger.InfoContext(ctx, "detected connection type", slog.String("type", string(k)))
	return k, nil
}

func (r *Registry) add(conn Connection) (Connection, error) {
	conn.ID = uuid.NewString()
	conn.CreatedAt = r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[conn.ID] = conn
	r.order = append(r.order, conn.ID)
	if err := r.saveLocked(); err != nil {
		delete(r.byID, conn.ID)
		r.order = r.order[:len(r.order)-1]
		return Connection{}, err
	}
	r.logger.Info("connection added", slog.String("id", conn.ID), slog.String("type", string(conn.Kind)))
	return conn, nil
}

// Touch records that a connection was just used.
func (r *Registry) Touch(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	previous := conn.LastUsed
	now := r.now()
	conn.LastUsed = &now
	r.byID[id] = conn
	if err := r.saveLocked(); err != nil {
		conn.LastUsed = previous
		r.byID[id] = conn
		return err
	}
	return nil
}

// Remove forgets a connection and deletes its database file when the
// registry owns it.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	previousOrder := r.order
	order := make([]string, 0, len(r.order))
	for _, existing := range r.order {
		if existing != id {
			order = append(order, existing)
		}
	}
	delete(r.byID, id)
	r.order = order
	if err := r.saveLocked(); err != nil {
		r.byID[id] = conn
		r.order = previousOrder
		return err
	}
	if conn.Uploaded && r.owns(conn.Host) {
		if err := os.Remove(conn.Host); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("could not delete database file", slog.String("path", conn.Host), slog.Any("error", err))
		}
	}
	r.logger.Info("connection removed", slog.String("id", id))
	return nil
}

func (r *Registry) owns(path string) bool {
	dir, err := filepath.Abs(r.storageDir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(dir, path)
	return err == nil && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}

// Reload replaces the in-memory state with the file contents.
func (r *Registry) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.reloadLocked(false)
	return err
}

// reloadIfChanged skips files identical to the last write, so the watcher
// ignores the registry's own saves.
func (r *Registry) reloadIfChanged() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reloadLocked(true)
}

func (r *Registry) reloadLocked(skipUnchanged bool) (bool, error) {
	conns, raw, err := r.store.load()
	if err != nil {
		return false, err
	}
	if skipUnchanged && bytes.Equal(raw, r.lastSaved) {
		return false, nil
	}
	byID := make(map[string]Connection, len(conns))
	order := make([]string, 0, len(conns))
	for _, conn := range conns {
		if conn.ID == "" {
			continue
		}
		if _, dup := byID[conn.ID]; dup {
			continue
		}
		host, err := r.decrypt(conn.Host)
		if err != nil {
			return false, fmt.Errorf("decrypt connection %s: %w", conn.ID, err)
		}
		conn.Host = host
		byID[conn.ID] = conn
		order = append(order, conn.ID)
	}
	r.byID = byID
	r.order = order
	r.lastSaved = raw
	return true, nil
}

func (r *Registry) saveLocked() error {
	out := make([]Connection, 0, len(r.order))
	for _, id := range r.order {
		conn := r.byID[id]
		if r.enc != nil {
			sealed, err := r.enc.Encrypt(conn.Host)
			if err != nil {
				return fmt.Errorf("encrypt connection %s: %w", id, err)
			}
			conn.Host = sealed
		}
		out = append(out, conn)
	}
	data, err := r.store.save(out)
	if err != nil {
		return err
	}
	r.lastSaved = data
	return nil
}

func (r *Registry) decrypt(host string) (string, error) {
	if r.enc == nil {
		if strings.HasPrefix(host, encryptedPrefix) {
			return "", ErrBadKey
		}
		return host, nil
	}
	return r.enc.Decrypt(host)
}

// GetConnection returns the driver configuration for a registered id.
func (r *Registry) GetConnection(ctx context.Context, id string) (dbconnector.ConnectionConfig, error) {
	conn, err := r.Get(id)
	if err != nil {
		return dbconnector.ConnectionConfig{}, err
	}
	return conn.Config(), nil
}

// ResolveByRef is GetConnection plus validation and a last-used update.
func (r *Registry) ResolveByRef(ctx context.Context, connectionRef string) (dbconnector.ConnectionConfig, error) {
	ref := strings.TrimSpace(connectionRef)
	if ref == "" {
		return dbconnector.ConnectionConfig{}, ErrInvalidInput
	}
	cfg, err := r.GetConnection(ctx, ref)
	if err != nil {
		return dbconnector.ConnectionConfig{}, err
	}
	if err := r.Touch(ref); err != nil {
		r.logger.WarnContext(ctx, "could not record connection use", slog.String("id", ref), slog.Any("error", err))
	}
	return cfg, nil
}

func copyFile(target string, src io.Reader) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create database file: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(target)
		return fmt.Errorf("copy database file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(target)
		return fmt.Errorf("copy database file: %w", err)
	}
	return nil
}
