// Package persist reads and writes configuration documents.
//
// Every write goes to a temporary file in the target directory which is
// synced and renamed over the target, so a failed or cancelled write leaves
// the previous file intact. Each operation runs under a timeout and reports
// failures as *Error.
package persist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/dshills/strata/internal/config/loader"
)

// DefaultTimeout bounds each file operation when no timeout is configured.
const DefaultTimeout = 5 * time.Second

// ExportFormat is stamped into exported documents.
const ExportFormat = "strata-export"

// Layer performs document I/O.
type Layer struct {
	backupDir string
	timeout   time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Layer.
type Option func(*Layer)

// WithBackupDir sets the directory holding backups.
func WithBackupDir(dir string) Option {
	return func(l *Layer) {
		l.backupDir = dir
	}
}

// WithTimeout sets the per-operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(l *Layer) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Layer) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock sets the time source for document stamps.
func WithClock(now func() time.Time) Option {
	return func(l *Layer) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a persistence layer.
func New(opts ...Option) *Layer {
	l := &Layer{
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// BackupDir returns the configured backup directory.
func (l *Layer) BackupDir() string {
	return l.backupDir
}

// Read loads the document at path. A missing file yields an *Error
// wrapping fs.ErrNotExist.
func (l *Layer) Read(ctx context.Context, path string) (Document, error) {
	var doc Document
	err := l.run(ctx, "read", path, func(ctx context.Context) error {
		var err error
		doc, err = readDocument(path)
		return err
	})
	return doc, err
}

// Write stores doc at path atomically.
func (l *Layer) Write(ctx context.Context, path string, doc Document) error {
	doc.SavedAt = Stamp(l.now())
	return l.run(ctx, "write", path, func(ctx context.Context) error {
		data, err := encodeDocument(path, doc)
		if err != nil {
			return err
		}
		return atomicWriteFile(ctx, path, data, 0o644)
	})
}

// Export stores doc at path marked as an export.
func (l *Layer) Export(ctx context.Context, path string, doc Document) error {
	stamp := Stamp(l.now())
	return l.run(ctx, "export", path, func(ctx context.Context) error {
		codec, err := loader.ForPath(path)
		if err != nil {
			return err
		}
		var data []byte
		if codec == loader.JSON {
			if data, err = codec.Encode(doc.ToMap()); err != nil {
				return err
			}
			if data, err = sjson.SetBytes(data, "format", ExportFormat); err != nil {
				return err
			}
			if data, err = sjson.SetBytes(data, "saved_at", stamp); err != nil {
				return err
			}
		} else {
			doc.Format = ExportFormat
			doc.SavedAt = stamp
			if data, err = codec.Encode(doc.ToMap()); err != nil {
				return err
			}
		}
		return atomicWriteFile(ctx, path, data, 0o644)
	})
}

// BackupInfo describes a stored backup.
type BackupInfo struct {
	ID      string
	Path    string
	Created time.Time
	Version string
}

// Backup stores doc in the backup directory and returns its info.
func (l *Layer) Backup(ctx context.Context, doc Document) (BackupInfo, error) {
	if l.backupDir == "" {
		return BackupInfo{}, &Error{Op: "backup", Err: ErrNoBackupDir}
	}

	created := l.now()
	info := BackupInfo{
		ID:      uuid.NewString(),
		Created: created,
		Version: doc.Version,
	}
	info.Path = l.backupPath(info.ID)
	doc.SavedAt = Stamp(created)

	err := l.run(ctx, "backup", info.Path, func(ctx context.Context) error {
		data, err := loader.JSON.Encode(doc.ToMap())
		if err != nil {
			return err
		}
		if err := os.MkdirAll(l.backupDir, 0o755); err != nil {
			return err
		}
		return atomicWriteFile(ctx, info.Path, data, 0o600)
	})
	if err != nil {
		return BackupInfo{}, err
	}
	l.logger.Debug("backup created", zap.String("id", info.ID), zap.String("path", info.Path))
	return info, nil
}

// ReadBackup loads the backup with the given id.
func (l *Layer) ReadBackup(ctx context.Context, id string) (Document, error) {
	if l.backupDir == "" {
		return Document{}, &Error{Op: "restore", Err: ErrNoBackupDir}
	}
	if _, err := uuid.Parse(id); err != nil {
		return Document{}, &Error{Op: "restore", Err: fmt.Errorf("%w: %s", ErrBackupNotFound, id)}
	}

	path := l.backupPath(id)
	var doc Document
	err := l.run(ctx, "restore", path, func(ctx context.Context) error {
		var err error
		doc, err = readDocument(path)
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrBackupNotFound, id)
		}
		return err
	})
	return doc, err
}

// ListBackups returns the stored backups, oldest first.
func (l *Layer) ListBackups() ([]BackupInfo, error) {
	if l.backupDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(l.backupDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &Error{Op: "list", Path: l.backupDir, Err: err}
	}

	var out []BackupInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if _, err := uuid.Parse(id); err != nil {
			continue
		}
		path := filepath.Join(l.backupDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			l.logger.Warn("unreadable backup", zap.String("path", path), zap.Error(err))
			continue
		}
		info := BackupInfo{ID: id, Path: path}
		res := gjson.GetManyBytes(data, "saved_at", "version")
		info.Created, _ = time.Parse(time.RFC3339, res[0].String())
		info.Version = res[1].String()
		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// RemoveBackup deletes a backup.
func (l *Layer) RemoveBackup(id string) error {
	if _, err := uuid.Parse(id); err != nil || l.backupDir == "" {
		return &Error{Op: "remove", Err: fmt.Errorf("%w: %s", ErrBackupNotFound, id)}
	}
	path := l.backupPath(id)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("%w: %s", ErrBackupNotFound, id)
		}
		return &Error{Op: "remove", Path: path, Err: err}
	}
	return nil
}

// PruneBackups removes the oldest backups so that at most keep remain.
func (l *Layer) PruneBackups(keep int) (int, error) {
	backups, err := l.ListBackups()
	if err != nil {
		return 0, err
	}
	removed := 0
	for i := 0; i < len(backups)-keep; i++ {
		if err := l.RemoveBackup(backups[i].ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (l *Layer) backupPath(id string) string {
	return filepath.Join(l.backupDir, id+".json")
}

// run executes fn under the layer timeout. fn receives the bounded context
// and must check it before committing.
func (l *Layer) run(ctx context.Context, op, path string, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err == nil {
		return nil
	}

	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	if !errors.Is(err, fs.ErrNotExist) {
		l.logger.Warn("persistence operation failed",
			zap.String("op", op),
			zap.String("path", path),
			zap.Error(err),
		)
	}
	return &Error{Op: op, Path: path, Err: err}
}

// Sniff reports the document version of JSON data without decoding it.
// Files written before versioning carry "_version" instead of "version".
func Sniff(data []byte) (string, bool) {
	if !gjson.ValidBytes(data) {
		return "", false
	}
	res := gjson.GetManyBytes(data, "version", "_version", "scopes")
	if !res[2].IsObject() {
		return "", false
	}
	if res[0].Exists() {
		return res[0].String(), true
	}
	return res[1].String(), true
}

func readDocument(path string) (Document, error) {
	codec, err := loader.ForPath(path)
	if err != nil {
		return Document{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	if codec == loader.JSON {
		if _, ok := Sniff(bytes.TrimSpace(data)); !ok {
			if _, derr := codec.Decode(data); derr != nil {
				return Document{}, derr
			}
			return Document{}, fmt.Errorf("%w: missing scopes", ErrInvalidDocument)
		}
	}
	m, err := codec.Decode(data)
	if err != nil {
		return Document{}, err
	}
	return DocumentFromMap(m)
}

func encodeDocument(path string, doc Document) ([]byte, error) {
	codec, err := loader.ForPath(path)
	if err != nil {
		return nil, err
	}
	return codec.Encode(doc.ToMap())
}

// atomicWriteFile writes data to a temp file in the target directory,
// syncs it, and renames it over path. The rename is skipped if ctx is done.
func atomicWriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := f.Name()

	success := false
	defer func() {
		if !success {
			f.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync data to disk: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, perm); err != nil {
		return fmt.Errorf("failed to set file permissions: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(tempPath, absPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
