package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const tempPrefix = "gateway-upload-"

// Stager spools inbound attachments to uniquely named temp files.
type Stager struct {
	dir      string
	maxBytes int64
	logger   *slog.Logger
}

// NewStager creates a stager writing under dir. An empty dir uses os.TempDir.
func NewStager(log *slog.Logger, dir string, maxBytes int64) *Stager {
	if log == nil {
		log = slog.Default()
	}
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = os.TempDir()
	}
	return &Stager{
		dir:      dir,
		maxBytes: EffectiveLimit(maxBytes),
		logger:   log.With(slog.String("component", "media_stager")),
	}
}

// Dir returns the directory staged files are written to.
func (s *Stager) Dir() string {
	return s.dir
}

// Stage copies input.Reader into a new temp file. On any error nothing is
// left on disk. The caller owns the returned handle and must Release it.
func (s *Stager) Stage(ctx context.Context, input StageInput) (*Staged, error) {
	if input.Reader == nil {
		return nil, fmt.Errorf("reader is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	maxBytes := s.maxBytes
	if input.MaxBytes > 0 && input.MaxBytes < maxBytes {
		maxBytes = input.MaxBytes
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	path := filepath.Join(s.dir, tempPrefix+uuid.NewString()+extensionFor(input.Mime, input.OriginalName))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	keepFile := false
	defer func() {
		if !keepFile {
			_ = file.Close()
			_ = os.Remove(path)
		}
	}()

	limited := &io.LimitedReader{R: input.Reader, N: maxBytes + 1}
	written, err := io.Copy(file, limited)
	if err != nil {
		return nil, fmt.Errorf("copy to temp file: %w", err)
	}
	if written > maxBytes {
		return nil, fmt.Errorf("%w: max %d bytes", ErrAssetTooLarge, maxBytes)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}
	keepFile = true

	s.logger.Debug("attachment staged",
		slog.String("path", path),
		slog.Int64("size", written),
		slog.String("mime", input.Mime),
	)
	return &Staged{
		path:   path,
		name:   input.OriginalName,
		mime:   input.Mime,
		size:   written,
		logger: s.logger,
	}, nil
}

// Staged is a scoped handle to a spooled attachment. Release deletes the
// backing file and is safe to call more than once.
type Staged struct {
	path   string
	name   string
	mime   string
	size   int64
	logger *slog.Logger

	mu       sync.Mutex
	released bool
	err      error
}

func (s *Staged) Path() string { return s.path }
func (s *Staged) Name() string { return s.name }
func (s *Staged) Mime() string { return s.mime }
func (s *Staged) Size() int64  { return s.size }

// FileName returns the original name, or the staged base name when unknown.
func (s *Staged) FileName() string {
	if name := strings.TrimSpace(s.name); name != "" {
		return filepath.Base(name)
	}
	return filepath.Base(s.path)
}

// Open returns a fresh reader over the staged bytes.
func (s *Staged) Open() (io.ReadCloser, error) {
	s.mu.Lock()
	released := s.released
	s.mu.Unlock()
	if released {
		return nil, ErrAssetReleased
	}
	return os.Open(s.path)
}

// Release removes the backing file. Only the first call does any work; later
// calls return the first call's result.
func (s *Staged) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return s.err
	}
	s.released = true
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		s.err = fmt.Errorf("remove staged file: %w", err)
		s.logger.Warn("release staged attachment failed", slog.String("path", s.path), slog.Any("error", err))
	}
	return s.err
}

// Released reports whether Release has been called.
func (s *Staged) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}
