// Package ingest streams a multipart upload into a temporary file without
// buffering the body in memory.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/metrics"
)

// FileField is the form field whose file part is persisted.
const FileField = "file"

// artifactPrefix names every temp artifact so the janitor can find orphans.
const artifactPrefix = "scribe-upload-"

const (
	maxFieldBytes = 64 << 10
	maxFields     = 32
)

var (
	ErrTooLarge     = errors.New("upload exceeds size limit")
	ErrNotMultipart = errors.New("request is not multipart/form-data")
	ErrMissingFile  = errors.New("upload has no file part")
	ErrMalformed    = errors.New("malformed multipart body")
)

// Artifact is the temporary file holding one request's media. It is owned by
// that request and must be removed on every exit path.
type Artifact struct {
	Path     string
	Filename string
	MIMEType string
	Size     int64

	once sync.Once
	err  error
}

// Remove deletes the backing file. Safe to call more than once.
func (a *Artifact) Remove() error {
	if a == nil {
		return nil
	}
	a.once.Do(func() {
		if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.err = err
		}
	})
	return a.err
}

// Upload is the result of a successful ingest.
type Upload struct {
	Artifact *Artifact
	Fields   map[string]string
}

// Field returns the named text field or def when absent or blank.
func (u *Upload) Field(name, def string) string {
	if v := strings.TrimSpace(u.Fields[name]); v != "" {
		return v
	}
	return def
}

type Ingestor struct {
	maxBytes int64
	tempDir  string
	log      zerolog.Logger
}

// New creates an ingestor that rejects bodies larger than maxBytes and writes
// artifacts under tempDir (os.TempDir when empty).
func New(maxBytes int64, tempDir string, log zerolog.Logger) *Ingestor {
	return &Ingestor{
		maxBytes: maxBytes,
		tempDir:  tempDir,
		log:      log.With().Str("component", "ingest").Logger(),
	}
}

// Ingest consumes the whole multipart body in one forward pass. It returns
// only after every part has been read, so the artifact is complete.
func (in *Ingestor) Ingest(w http.ResponseWriter, r *http.Request) (*Upload, error) {
	if r.ContentLength > in.maxBytes {
		return nil, ErrTooLarge
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		return nil, ErrNotMultipart
	}

	r.Body = http.MaxBytesReader(w, r.Body, in.maxBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, ErrNotMultipart
	}

	var artifact *Artifact
	fields := make(map[string]string)
	fail := func(err error) (*Upload, error) {
		artifact.Remove()
		return nil, err
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fail(classify(err))
		}

		switch {
		case part.FileName() != "":
			if part.FormName() != FileField || artifact != nil {
				// Only one file part is honored; the rest are drained.
				if _, err := io.Copy(io.Discard, part); err != nil {
					part.Close()
					return fail(classify(err))
				}
				part.Close()
				continue
			}
			a, err := in.writeArtifact(part)
			part.Close()
			if err != nil {
				return fail(err)
			}
			artifact = a

		default:
			if len(fields) >= maxFields {
				part.Close()
				return fail(fmt.Errorf("%w: too many fields", ErrMalformed))
			}
			v, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
			part.Close()
			if err != nil {
				return fail(classify(err))
			}
			if len(v) > maxFieldBytes {
				return fail(fmt.Errorf("%w: field %q too long", ErrMalformed, part.FormName()))
			}
			if _, seen := fields[part.FormName()]; !seen {
				fields[part.FormName()] = string(v)
			}
		}
	}

	if artifact == nil {
		return nil, ErrMissingFile
	}

	metrics.UploadBytes.Observe(float64(artifact.Size))
	in.log.Debug().
		Str("filename", artifact.Filename).
		Str("mime", artifact.MIMEType).
		Int64("size", artifact.Size).
		Msg("upload ingested")

	return &Upload{Artifact: artifact, Fields: fields}, nil
}

func (in *Ingestor) writeArtifact(part *multipart.Part) (*Artifact, error) {
	tmp, err := os.CreateTemp(in.tempDir, artifactPrefix+"*"+safeExt(part.FileName()))
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	a := &Artifact{
		Path:     tmp.Name(),
		Filename: filepath.Base(part.FileName()),
		MIMEType: partMIMEType(part),
	}

	n, err := io.Copy(tmp, part)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	a.Size = n
	if err != nil {
		a.Remove()
		return nil, classify(err)
	}
	return a, nil
}

// classify maps reader errors onto the ingest sentinels.
func classify(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large") {
		return ErrTooLarge
	}
	if errors.Is(err, ErrTooLarge) || errors.Is(err, ErrMalformed) {
		return err
	}
	var pe *os.PathError
	if errors.As(err, &pe) {
		return fmt.Errorf("write artifact: %w", err)
	}
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}

// mediaTypes covers extensions the system mime table often lacks.
var mediaTypes = map[string]string{
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".wav":  "audio/wav",
	".weba": "audio/webm",
	".mov":  "video/quicktime",
	".mp4":  "video/mp4",
	".mpeg": "video/mpeg",
	".webm": "video/webm",
}

func partMIMEType(part *multipart.Part) string {
	if ct := part.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	ext := strings.ToLower(filepath.Ext(part.FileName()))
	if mt, ok := mediaTypes[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		mt, _, _ = strings.Cut(mt, ";")
		return mt
	}
	return "application/octet-stream"
}

// safeExt keeps a short alphanumeric extension so probes can sniff by name.
func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) < 2 || len(ext) > 6 {
		return ""
	}
	for _, c := range ext[1:] {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return ""
		}
	}
	return ext
}
