package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/v0xg/browserpilot/internal/failure"
)

// ErrInvalidJobID is returned for a job ID that would name a file outside
// the output directory.
var ErrInvalidJobID = errors.New("invalid job id")

// PDFFallbackBanner opens every text file written in place of a failed PDF.
var PDFFallbackBanner = "PDF GENERATION FAILED - TEXT FALLBACK\n" + strings.Repeat("=", 50) + "\n\n"

// Saved describes a committed artifact.
type Saved struct {
	Path     string
	Format   Format // format actually on disk
	Fallback bool   // true when a PDF was replaced by text
}

// Store writes artifacts under a directory. A file only appears under its
// final name once it has been fully written.
type Store struct {
	dir    string
	logger *zap.Logger
}

// NewStore creates dir if needed.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, failure.New(failure.Persistence, "artifact.NewStore", err)
	}
	return &Store{dir: dir, logger: logger.With(zap.String("component", "artifact"))}, nil
}

// Dir returns the output directory.
func (s *Store) Dir() string { return s.dir }

// Save commits content as {jobID}.{ext}.
func (s *Store) Save(jobID string, f Format, content []byte) (Saved, error) {
	path, err := s.path(jobID, f)
	if err != nil {
		return Saved{}, failure.New(failure.Persistence, "artifact.Save", err)
	}
	if err := writeAtomic(path, content); err != nil {
		return Saved{}, failure.New(failure.Persistence, "artifact.Save", err)
	}
	s.logger.Info("Artifact saved", zap.String("path", path), zap.Int("bytes", len(content)))
	return Saved{Path: path, Format: f}, nil
}

// SavePDFFallback commits text as {jobID}.txt behind PDFFallbackBanner. It
// reports a successful, degraded save.
func (s *Store) SavePDFFallback(jobID string, text []byte, cause error) (Saved, error) {
	var buf bytes.Buffer
	buf.WriteString(PDFFallbackBanner)
	buf.Write(text)

	saved, err := s.Save(jobID, TXT, buf.Bytes())
	if err != nil {
		return Saved{}, err
	}
	s.logger.Warn("PDF generation failed, saved text fallback",
		zap.String("path", saved.Path), zap.Error(cause))
	saved.Fallback = true
	return saved, nil
}

// Locate finds the artifact of a job, trying the requested format first and
// then the text fallback a PDF job may have produced.
func (s *Store) Locate(jobID string, f Format) (Saved, error) {
	if !ValidJobID(jobID) {
		return Saved{}, fmt.Errorf("artifact for job %q: %w", jobID, ErrInvalidJobID)
	}
	candidates := []Format{f}
	if f == PDF {
		candidates = append(candidates, TXT)
	}
	for _, c := range candidates {
		path := filepath.Join(s.dir, FileName(jobID, c))
		if _, err := os.Stat(path); err == nil {
			return Saved{Path: path, Format: c, Fallback: c != f}, nil
		}
	}
	return Saved{}, fmt.Errorf("artifact for job %s: %w", jobID, os.ErrNotExist)
}

// Discard removes any artifact of a job. Missing files are not an error.
func (s *Store) Discard(jobID string) error {
	if !ValidJobID(jobID) {
		return fmt.Errorf("discard job %q: %w", jobID, ErrInvalidJobID)
	}
	var errs []error
	for _, f := range Formats {
		err := os.Remove(filepath.Join(s.dir, FileName(jobID, f)))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) path(jobID string, f Format) (string, error) {
	if !ValidJobID(jobID) {
		return "", fmt.Errorf("%q: %w", jobID, ErrInvalidJobID)
	}
	return filepath.Join(s.dir, FileName(jobID, f)), nil
}

func writeAtomic(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
