// Package store manages the flat on-disk directory of compressed archive
// files backing the cache.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	fileMode = 0o400
	dirMode  = 0o700

	narDir = "nar"

	otelPackageName = "github.com/nicacher/nicacher/pkg/store"
)

var (
	// ErrNotFound is returned if the archive does not exist in the store.
	ErrNotFound = errors.New("store: archive not found")

	// ErrAlreadyExists is returned if the store already has a file with the
	// same name.
	ErrAlreadyExists = errors.New("store: archive already exists")

	// ErrPathMustBeAbsolute is returned if the given root to New was not absolute.
	ErrPathMustBeAbsolute = errors.New("store: path must be absolute")

	// ErrPathMustExist is returned if the given root to New did not exist.
	ErrPathMustExist = errors.New("store: path must exist")

	// ErrPathMustBeADirectory is returned if the given root to New is not a directory.
	ErrPathMustBeADirectory = errors.New("store: path must be a directory")

	//nolint:gochecknoglobals
	tracer = otel.Tracer(otelPackageName)
)

// Store is the flat on-disk directory of archive files under a data root.
// An archive's path is a pure function of (fileHash, compression); two
// descriptors sharing that pair point at the same file.
type Store struct {
	root string
}

// New validates root and ensures its nar/ subdirectory exists.
func New(ctx context.Context, root string) (*Store, error) {
	if !filepath.IsAbs(root) {
		return nil, ErrPathMustBeAbsolute
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPathMustExist, root)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrPathMustBeADirectory, root)
	}

	s := &Store{root: root}

	if err := os.MkdirAll(s.narDir(), dirMode); err != nil {
		return nil, fmt.Errorf("store: error creating nar directory: %w", err)
	}

	_, span := tracer.Start(ctx, "store.New", trace.WithAttributes(attribute.String("root", root)))
	defer span.End()

	return s, nil
}

func (s *Store) narDir() string { return filepath.Join(s.root, narDir) }

// ArchivePath returns the on-disk path for the archive identified by
// (fileHash, compression), whether or not it currently exists.
func (s *Store) ArchivePath(fileHash, compression string) string {
	return filepath.Join(s.narDir(), fmt.Sprintf("%s.nar.%s", fileHash, compression))
}

// HasArchive reports whether the archive identified by (fileHash,
// compression) currently exists on disk.
func (s *Store) HasArchive(fileHash, compression string) bool {
	_, err := os.Stat(s.ArchivePath(fileHash, compression))

	return err == nil
}

// WriteArchive writes body to the archive path for (fileHash, compression).
// Concurrent writers to the same path are the state machine's
// responsibility to exclude, not this method's.
func (s *Store) WriteArchive(ctx context.Context, fileHash, compression string, body io.Reader) error {
	path := s.ArchivePath(fileHash, compression)

	_, span := tracer.Start(ctx, "store.WriteArchive", trace.WithAttributes(attribute.String("path", path)))
	defer span.End()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fileMode)
	if err != nil {
		return fmt.Errorf("store: error creating archive %q: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, body); err != nil {
		return fmt.Errorf("store: error writing archive %q: %w", path, err)
	}

	return nil
}

// OpenArchive opens the archive identified by (fileHash, compression) for
// streaming. Callers must Close the returned ReadCloser.
func (s *Store) OpenArchive(ctx context.Context, fileHash, compression string) (io.ReadCloser, error) {
	path := s.ArchivePath(fileHash, compression)

	_, span := tracer.Start(ctx, "store.OpenArchive", trace.WithAttributes(attribute.String("path", path)))
	defer span.End()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("store: error opening archive %q: %w", path, err)
	}

	return f, nil
}

// RemoveArchive deletes the archive identified by (fileHash, compression).
// Removing an already-absent archive is not an error: purge is tolerant of
// an operator having deleted the file out of band.
func (s *Store) RemoveArchive(ctx context.Context, fileHash, compression string) error {
	path := s.ArchivePath(fileHash, compression)

	_, span := tracer.Start(ctx, "store.RemoveArchive", trace.WithAttributes(attribute.String("path", path)))
	defer span.End()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: error removing archive %q: %w", path, err)
	}

	return nil
}

// TotalSize walks the nar directory and sums the size of every archive
// actually present on disk, independent of what the metadata store
// believes is Available.
func (s *Store) TotalSize(ctx context.Context) (uint64, error) {
	_, span := tracer.Start(ctx, "store.TotalSize")
	defer span.End()

	var total uint64

	err := filepath.WalkDir(s.narDir(), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("store: error statting %q: %w", path, err)
		}

		total += uint64(info.Size())

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: error walking nar directory: %w", err)
	}

	return total, nil
}
