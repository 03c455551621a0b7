package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// FileStore keeps the document as indented JSON in a single file.
type FileStore struct {
	logger *slog.Logger
	path   string
}

func NewFileStore(logger *slog.Logger, path string) *FileStore {
	return &FileStore{
		logger: logger.With("module", "store", "backend", "file"),
		path:   path,
	}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(ctx context.Context) *Document {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("database file not found, starting empty", "path", s.path)
		} else {
			s.logger.Warn("failed to read database file, starting empty", "path", s.path, "err", err)
		}
		loadFallbacks.WithLabelValues("file").Inc()
		return NewDocument()
	}

	doc := &Document{}
	if err := json.Unmarshal(b, doc); err != nil {
		s.logger.Warn("failed to parse database file, starting empty", "path", s.path, "err", err)
		loadFallbacks.WithLabelValues("file").Inc()
		return NewDocument()
	}

	return doc.normalize()
}

// Save writes the document to a temporary file next to the target and
// renames it into place.
func (s *FileStore) Save(ctx context.Context, doc *Document) error {
	start := time.Now()
	defer func() {
		saveDuration.WithLabelValues("file").Observe(time.Since(start).Seconds())
	}()

	data, err := json.MarshalIndent(doc.normalize(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	// Each save gets its own temp file so overlapping saves never share one;
	// the last rename wins.
	f, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary database file: %w", err)
	}
	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temporary database file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temporary database file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary database file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set database file mode: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename database file into place: %w", err)
	}

	if dir, err := os.Open(filepath.Dir(s.path)); err == nil {
		dir.Sync()
		dir.Close()
	}

	return nil
}

func (s *FileStore) Clear(ctx context.Context) error {
	s.logger.Info("clearing database")
	return s.Save(ctx, NewDocument())
}
