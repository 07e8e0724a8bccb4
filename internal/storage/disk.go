package storage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/ulikunitz/xz"
	"go.uber.org/zap"

	"github.com/gra-p2p/gra/internal/hash"
)

// DiskOptions configures a disk tier.
type DiskOptions struct {
	// MaxSize bounds the stored (uncompressed) bytes; 0 means unbounded.
	MaxSize int64
	// MinFreeSpace refuses writes when the filesystem has less free space.
	MinFreeSpace int64
	// Compress stores values xz-compressed.
	Compress bool
}

// Object describes a value held by the disk tier.
type Object struct {
	Key          string
	Size         int64
	AddedAt      time.Time
	LastAccessed time.Time
	AccessCount  int64
}

// Disk stores one file per key with a SQLite index used for listing and
// size accounting.
type Disk struct {
	basePath    string
	opts        DiskOptions
	db          *sql.DB
	mu          sync.RWMutex
	logger      *zap.Logger
	currentSize int64
	closed      bool
}

// NewDisk opens or creates a disk tier rooted at basePath.
func NewDisk(basePath string, opts DiskOptions, logger *zap.Logger) (*Disk, error) {
	objectsDir := filepath.Join(basePath, "objects")
	pendingDir := filepath.Join(basePath, "pending")

	for _, dir := range []string{objectsDir, pendingDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	dbPath := filepath.Join(basePath, "index.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	d := &Disk{
		basePath: basePath,
		opts:     opts,
		db:       db,
		logger:   logger,
	}

	if err := d.calculateSize(); err != nil {
		logger.Warn("Failed to calculate store size", zap.Error(err))
	}

	return d, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS objects (
			key TEXT PRIMARY KEY,
			size INTEGER NOT NULL,
			compressed INTEGER NOT NULL DEFAULT 0,
			added_at INTEGER NOT NULL,
			last_accessed INTEGER NOT NULL,
			access_count INTEGER DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_objects_last_accessed
		ON objects(last_accessed);
	`)
	return err
}

func (d *Disk) Name() string { return "disk" }

// Get reads the value stored under key.
func (d *Disk) Get(ctx context.Context, key string) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, ErrClosed
	}

	var compressed bool
	err := d.db.QueryRowContext(ctx, "SELECT compressed FROM objects WHERE key = ?", key).Scan(&compressed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	f, err := os.Open(d.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if compressed {
		xr, err := xz.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open xz stream: %w", err)
		}
		r = xr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}

	if _, err := d.db.ExecContext(ctx, `
		UPDATE objects
		SET last_accessed = ?, access_count = access_count + 1
		WHERE key = ?`,
		time.Now().Unix(), key); err != nil {
		d.logger.Warn("Failed to update access time", zap.Error(err))
	}

	return data, nil
}

// Put writes value under key, replacing any previous value.
func (d *Disk) Put(ctx context.Context, key string, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if key == "" {
		return ErrInvalidKey
	}

	var old int64
	err := d.db.QueryRowContext(ctx, "SELECT size FROM objects WHERE key = ?", key).Scan(&old)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	size := int64(len(value))
	if err := d.ensureSpace(size - old); err != nil {
		return err
	}

	name := d.fileName(key)
	pendingPath := filepath.Join(d.basePath, "pending", name)
	if err := d.writeFile(pendingPath, value); err != nil {
		os.Remove(pendingPath)
		return err
	}

	finalPath := d.objectPath(key)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0755); err != nil {
		os.Remove(pendingPath)
		return err
	}
	if err := os.Rename(pendingPath, finalPath); err != nil {
		os.Remove(pendingPath)
		return err
	}

	now := time.Now().Unix()
	_, err = d.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO objects
		(key, size, compressed, added_at, last_accessed, access_count)
		VALUES (?, ?, ?, ?, ?, 0)`,
		key, size, d.opts.Compress, now, now)
	if err != nil {
		return fmt.Errorf("failed to record object: %w", err)
	}

	d.currentSize += size - old
	d.logger.Debug("Stored object",
		zap.String("key", key),
		zap.Int64("size", size))

	return nil
}

func (d *Disk) writeFile(path string, value []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer f.Close()

	if !d.opts.Compress {
		if _, err := f.Write(value); err != nil {
			return fmt.Errorf("failed to write data: %w", err)
		}
		return f.Sync()
	}

	w, err := xz.NewWriter(f)
	if err != nil {
		return fmt.Errorf("failed to create xz writer: %w", err)
	}
	if _, err := io.Copy(w, bytes.NewReader(value)); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish xz stream: %w", err)
	}
	return f.Sync()
}

// Delete removes key.
func (d *Disk) Delete(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	var size int64
	err := d.db.QueryRowContext(ctx, "SELECT size FROM objects WHERE key = ?", key).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if err := os.Remove(d.objectPath(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	if _, err := d.db.ExecContext(ctx, "DELETE FROM objects WHERE key = ?", key); err != nil {
		return err
	}

	d.currentSize -= size
	return nil
}

// List returns the keys starting with prefix.
func (d *Disk) List(ctx context.Context, prefix string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, ErrClosed
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT key FROM objects
		WHERE substr(key, 1, ?) = ?
		ORDER BY key`, len(prefix), prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Stat returns index metadata for key.
func (d *Disk) Stat(ctx context.Context, key string) (*Object, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	obj := &Object{Key: key}
	var addedAt, lastAccessed int64
	err := d.db.QueryRowContext(ctx, `
		SELECT size, added_at, last_accessed, access_count
		FROM objects WHERE key = ?`, key).Scan(
		&obj.Size, &addedAt, &lastAccessed, &obj.AccessCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	obj.AddedAt = time.Unix(addedAt, 0)
	obj.LastAccessed = time.Unix(lastAccessed, 0)
	return obj, nil
}

// Size returns the stored bytes.
func (d *Disk) Size() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.currentSize
}

// Close closes the index database.
func (d *Disk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.db.Close()
}

// fileName maps a key to a fixed-width file name; keys can be longer than
// the filesystem allows.
func (d *Disk) fileName(key string) string {
	return hash.New([]byte(key), nil).Hex()
}

func (d *Disk) objectPath(key string) string {
	name := d.fileName(key)
	// Use first 2 chars as subdirectory for better filesystem performance
	return filepath.Join(d.basePath, "objects", name[:2], name)
}

func (d *Disk) calculateSize() error {
	var total int64
	err := d.db.QueryRow("SELECT COALESCE(SUM(size), 0) FROM objects").Scan(&total)
	if err != nil {
		return err
	}
	d.currentSize = total
	return nil
}

func (d *Disk) ensureSpace(needed int64) error {
	if needed <= 0 {
		return nil
	}
	if d.opts.MaxSize > 0 && d.currentSize+needed > d.opts.MaxSize {
		return ErrFull
	}
	if d.opts.MinFreeSpace > 0 {
		free, err := d.getDiskFreeSpace()
		if err != nil {
			d.logger.Debug("Failed to read free disk space", zap.Error(err))
			return nil
		}
		if free-needed < d.opts.MinFreeSpace {
			return ErrFull
		}
	}
	return nil
}
