package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/paulschiretz/pgl-tsbackup/pkg/plog"
	"github.com/paulschiretz/pgl-tsbackup/pkg/watermark"
)

// FileStore persists the watermark as backup.last_backup_time in the
// configuration file.
type FileStore struct {
	path string
	loc  *time.Location
	log  *plog.Logger
	mu   sync.Mutex
}

// StoreOption configures a FileStore.
type StoreOption func(*FileStore)

// WithStoreLogger sets the logger used for malformed watermark warnings.
func WithStoreLogger(l *plog.Logger) StoreOption { return func(s *FileStore) { s.log = l } }

// WithStoreLocation sets the zone the watermark text is interpreted in. Defaults to time.Local.
func WithStoreLocation(loc *time.Location) StoreOption { return func(s *FileStore) { s.loc = loc } }

// NewFileStore returns a store backed by the configuration file at path.
func NewFileStore(path string, opts ...StoreOption) *FileStore {
	s := &FileStore{path: path, loc: time.Local, log: plog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the stored watermark. A missing or empty value yields
// watermark.None(); so does a malformed one, which is logged at WARN.
// An environment override takes precedence over the file.
func (s *FileStore) Load(ctx context.Context) (watermark.Watermark, error) {
	if err := ctx.Err(); err != nil {
		return watermark.None(), err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	v := newViper(s.path)
	if err := v.ReadInConfig(); err != nil {
		return watermark.None(), &ConfigError{Err: fmt.Errorf("failed to read %s: %w", s.path, err)}
	}

	raw := v.GetString(KeyLastBackupTime)
	w, err := watermark.Parse(raw, s.loc)
	if err != nil {
		s.log.Warn("Ignoring malformed last backup time, all files will be copied", "key", KeyLastBackupTime, "value", raw, "error", err)
		return watermark.None(), nil
	}
	return w, nil
}

// Save rewrites the configuration file with the new watermark. The file is
// written to a temp file next to it and renamed into place. Environment
// overrides are not bound here, so they never end up in the file.
func (s *FileStore) Save(ctx context.Context, w watermark.Watermark) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(s.path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	v.Set(KeyLastBackupTime, w.String())

	// viper picks the encoder from the extension, so the temp name keeps it.
	ext := filepath.Ext(s.path)
	base := strings.TrimSuffix(filepath.Base(s.path), ext)
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+base+".*"+ext)
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := v.WriteConfigAs(tmpPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Chmod(tmpPath, info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to set permissions on config file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	s.log.Debug("Saved last backup time", "path", s.path, "value", w.String())
	return nil
}

var _ watermark.Store = (*FileStore)(nil)
