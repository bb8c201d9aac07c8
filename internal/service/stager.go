package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/pranav-buggana-cal/mba-290t/internal/config"
)

// Accepted values for the file_type form field.
const (
	FileTypeCompetitor = "competitor"
	FileTypeBusiness   = "business"
)

var (
	// ErrNoFiles is returned when the multipart stream carried no file parts.
	ErrNoFiles = errors.New("no files provided")
	// ErrInvalidUpload is returned when the multipart stream is malformed or
	// dies mid-transfer.
	ErrInvalidUpload = errors.New("invalid multipart upload")
	// ErrInvalidFileType is returned for a file_type other than
	// "competitor" or "business".
	ErrInvalidFileType = errors.New("invalid file type")
)

// EmptyFileError reports a zero-byte file part by its client-given name.
type EmptyFileError struct {
	Name string
}

func (e *EmptyFileError) Error() string {
	return fmt.Sprintf("empty file %q", e.Name)
}

// FileTooLargeError reports a file part that exceeded the per-file ceiling.
type FileTooLargeError struct {
	Name  string
	Limit int64
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("file %q exceeds %d bytes", e.Name, e.Limit)
}

// StagedFile is one uploaded file written to the staging area.
type StagedFile struct {
	Name        string // client-supplied filename, sanitized
	Path        string // absolute path in the staging directory
	Size        int64
	ContentType string
}

// StagedUpload is a set of files staged on disk for one request. Release
// removes the staging directory; it is idempotent and safe to call both on
// the success and the failure path.
type StagedUpload struct {
	dir     string
	Files   []StagedFile
	logger  *slog.Logger
	release sync.Once
}

// Dir returns the per-request staging directory.
func (u *StagedUpload) Dir() string {
	return u.dir
}

// Release deletes the staging directory and everything in it. Calling it
// more than once is a no-op. A failed removal is logged and otherwise
// ignored; the janitor sweeps leftovers later.
func (u *StagedUpload) Release() {
	u.release.Do(func() {
		if err := os.RemoveAll(u.dir); err != nil {
			u.logger.Warn("staging cleanup failed",
				"dir", u.dir,
				"err", err,
			)
			return
		}
		u.logger.Debug("staging dir released", "dir", u.dir)
	})
}

// Stager writes incoming multipart uploads to a private staging area,
// one UUID-named directory per request. Files are spooled to disk exactly
// once and re-read from there when forwarded, so a request never holds a
// whole document set in memory.
type Stager struct {
	root         string
	maxFileBytes int64
	logger       *slog.Logger
}

// NewStager creates the staging root if needed.
func NewStager(cfg *config.Config, logger *slog.Logger) (*Stager, error) {
	if err := os.MkdirAll(cfg.Staging.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create staging root %s: %w", cfg.Staging.Dir, err)
	}
	return &Stager{
		root:         cfg.Staging.Dir,
		maxFileBytes: cfg.Staging.MaxFileBytes,
		logger:       logger.With("component", "stager"),
	}, nil
}

// Stage consumes the multipart stream and writes every "files" part to a
// fresh staging directory. It returns the staged set and the value of the
// file_type field ("competitor" when absent).
//
// The per-file ceiling is enforced while writing, so an oversized part is
// rejected after at most maxFileBytes+1 bytes, not after the whole body has
// been consumed. On any error the staging directory is removed before
// returning.
func (s *Stager) Stage(mr *multipart.Reader) (*StagedUpload, string, error) {
	dir := filepath.Join(s.root, uuid.NewString())
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create staging dir: %w", err)
	}

	staged := &StagedUpload{dir: dir, logger: s.logger}
	fileType := FileTypeCompetitor

	cleanup := func(err error) (*StagedUpload, string, error) {
		staged.Release()
		return nil, "", err
	}

	for i := 0; ; i++ {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return cleanup(fmt.Errorf("%w: %s", ErrInvalidUpload, err))
		}

		switch part.FormName() {
		case "file_type":
			value, err := readSmallField(part)
			if err != nil {
				return cleanup(fmt.Errorf("%w: %s", ErrInvalidUpload, err))
			}
			if value != FileTypeCompetitor && value != FileTypeBusiness {
				return cleanup(ErrInvalidFileType)
			}
			fileType = value

		case "files":
			f, err := s.stagePart(dir, i, part)
			if err != nil {
				return cleanup(err)
			}
			staged.Files = append(staged.Files, f)

		default:
			// Unknown fields are drained and ignored.
			if _, err := io.Copy(io.Discard, part); err != nil {
				return cleanup(fmt.Errorf("%w: %s", ErrInvalidUpload, err))
			}
		}
	}

	if len(staged.Files) == 0 {
		return cleanup(ErrNoFiles)
	}

	s.logger.Debug("upload staged",
		"dir", dir,
		"files", len(staged.Files),
		"file_type", fileType,
	)

	return staged, fileType, nil
}

// stagePart writes one file part to disk, enforcing the per-file ceiling
// incrementally.
func (s *Stager) stagePart(dir string, index int, part *multipart.Part) (StagedFile, error) {
	name := sanitizeFilename(part.FileName())

	path := filepath.Join(dir, fmt.Sprintf("part-%d-%s", index, name))
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return StagedFile{}, fmt.Errorf("create staging file: %w", err)
	}

	// Only errors reading the part mark the upload invalid; a failed disk
	// write is the proxy's own fault and keeps its plain wrap.
	sink := &stagingSink{dst: dst}
	written, err := io.Copy(sink, io.LimitReader(part, s.maxFileBytes+1))
	if closeErr := dst.Close(); err == nil && closeErr != nil {
		err = closeErr
		sink.failed = true
	}
	if err != nil {
		if sink.failed {
			return StagedFile{}, fmt.Errorf("write staging file: %w", err)
		}
		return StagedFile{}, fmt.Errorf("%w: %s", ErrInvalidUpload, err)
	}
	if written > s.maxFileBytes {
		return StagedFile{}, &FileTooLargeError{Name: name, Limit: s.maxFileBytes}
	}
	if written == 0 {
		return StagedFile{}, &EmptyFileError{Name: name}
	}

	contentType := part.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return StagedFile{
		Name:        name,
		Path:        path,
		Size:        written,
		ContentType: contentType,
	}, nil
}

// stagingSink wraps the staging file so a copy failure can be attributed to
// the disk rather than the client stream.
type stagingSink struct {
	dst    io.Writer
	failed bool
}

func (s *stagingSink) Write(p []byte) (int, error) {
	n, err := s.dst.Write(p)
	if err != nil {
		s.failed = true
	}
	return n, err
}

// readSmallField reads a short text field, capped well below any sane value
// length.
func readSmallField(part *multipart.Part) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, 256))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// sanitizeFilename strips any path components from a client-supplied
// filename. Browsers normally send bare names, but the value is untrusted.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return "upload"
	}
	return name
}
