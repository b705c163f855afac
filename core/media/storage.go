package media

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/atelier/core"
)

const (
	uploadsDirName    = "uploads"
	tempDirName       = "temp"
	thumbnailsDirName = "thumbnails"
	sniffLen          = 512
)

// Kind of an uploaded file.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindFile  Kind = "file"
)

var errFileTooLarge = core.NewValidationError(errors.New("file is too large"))

// Media is an uploaded file; URLs are relative to the public dir.
type Media struct {
	Kind         Kind   `json:"kind"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Filename     string `json:"filename"`
	ContentType  string `json:"content_type"`
	Size         int64  `json:"size"`
}

// Thumbnailer extracts a still image out of a video.
type Thumbnailer interface {
	Thumbnail(ctx context.Context, videoPath, outPath string) error
}

// Storage lays files out under the public dir: uploads for persisted media, temp for transient uploads.
type Storage struct {
	publicDir  string
	uploadsDir string
	tempDir    string
	maxSize    int64
	thumb      Thumbnailer
	logger     core.Logger
}

func NewStorage(conf *core.Config, thumb Thumbnailer, logger core.Logger) (*Storage, error) {
	s := &Storage{
		publicDir:  filepath.Clean(conf.Media.PublicDir),
		uploadsDir: filepath.Join(conf.Media.PublicDir, uploadsDirName),
		tempDir:    filepath.Join(conf.Media.PublicDir, tempDirName),
		maxSize:    conf.Media.MaxUploadSize,
		thumb:      thumb,
		logger:     logger,
	}
	for _, dir := range []string{s.uploadsDir, s.tempDir, filepath.Join(s.uploadsDir, thumbnailsDirName)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "creating %s", dir)
		}
	}
	return s, nil
}

func (s *Storage) PublicDir() string  { return s.publicDir }
func (s *Storage) UploadsDir() string { return s.uploadsDir }
func (s *Storage) TempDir() string    { return s.tempDir }

// UploadPath joins elems under the uploads dir.
func (s *Storage) UploadPath(elems ...string) string {
	return filepath.Join(append([]string{s.uploadsDir}, elems...)...)
}

// TempPath joins elems under the temp dir.
func (s *Storage) TempPath(elems ...string) string {
	return filepath.Join(append([]string{s.tempDir}, elems...)...)
}

// RelativeURL strips the public dir prefix off path.
func (s *Storage) RelativeURL(path string) string {
	rel, err := filepath.Rel(s.publicDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	return "/" + filepath.ToSlash(rel)
}

// absPath is the inverse of RelativeURL.
func (s *Storage) absPath(url string) string {
	if url == "" {
		return ""
	}
	return filepath.Join(s.publicDir, filepath.FromSlash(strings.TrimPrefix(url, "/")))
}

// Process saves the upload in the temp dir, checks its kind, then moves it to the uploads dir.
// Videos get a JPEG thumbnail. The temp file never outlives the call.
func (s *Storage) Process(ctx context.Context, fh *multipart.FileHeader, allowed ...Kind) (Media, error) {
	if s.maxSize > 0 && fh.Size > s.maxSize {
		return Media{}, errFileTooLarge
	}

	tmpPath, contentType, err := s.saveTemp(fh)
	if err != nil {
		return Media{}, errors.Wrap(err, "saving temp file")
	}
	defer s.remove(tmpPath)

	kind := kindOf(contentType)
	if !isAllowed(kind, allowed) {
		return Media{}, core.NewValidationError(nil, core.FieldError{
			Field: "file",
			Error: fmt.Sprintf("%s files are not allowed", kind),
		})
	}

	id := core.NewID()
	dest := s.UploadPath(string(kind)+"s", id+strings.ToLower(filepath.Ext(fh.Filename)))
	if err = os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return Media{}, errors.Wrap(err, "creating upload dir")
	}
	if err = moveFile(tmpPath, dest); err != nil {
		return Media{}, errors.Wrap(err, "moving upload")
	}

	m := Media{
		Kind:        kind,
		URL:         s.RelativeURL(dest),
		Filename:    filepath.Base(fh.Filename),
		ContentType: contentType,
		Size:        fh.Size,
	}

	if kind == KindVideo && s.thumb != nil {
		thumbPath := s.UploadPath(thumbnailsDirName, id+".jpg")
		if err = s.thumb.Thumbnail(ctx, dest, thumbPath); err != nil {
			s.remove(dest)
			return Media{}, core.NewServiceError("could not process video: " + err.Error())
		}
		m.ThumbnailURL = s.RelativeURL(thumbPath)
	}
	return m, nil
}

// Delete removes the files of m; failures are only logged.
func (s *Storage) Delete(m Media) {
	s.remove(s.absPath(m.URL))
	s.remove(s.absPath(m.ThumbnailURL))
}

// PurgeTemp deletes temp files older than maxAge and returns how many were removed.
func (s *Storage) PurgeTemp(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		return 0, errors.Wrap(err, "reading temp dir")
	}

	var count int
	limit := time.Now().Add(-maxAge)
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || entry.IsDir() || info.ModTime().After(limit) {
			continue
		}
		if err = os.Remove(filepath.Join(s.tempDir, entry.Name())); err == nil {
			count++
		}
	}
	return count, nil
}

func (s *Storage) saveTemp(fh *multipart.FileHeader) (string, string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", "", err
	}
	defer src.Close()

	dst, err := os.CreateTemp(s.tempDir, "upload-*"+filepath.Ext(fh.Filename))
	if err != nil {
		return "", "", err
	}
	defer dst.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(src, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		s.remove(dst.Name())
		return "", "", err
	}
	head = head[:n]

	if _, err = dst.Write(head); err == nil {
		_, err = io.Copy(dst, src)
	}
	if err != nil {
		s.remove(dst.Name())
		return "", "", err
	}
	return dst.Name(), http.DetectContentType(head), nil
}

func (s *Storage) remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) && s.logger != nil {
		s.logger.Warn(fmt.Sprintf("removing %s: %v", path, err), err)
	}
}

func kindOf(contentType string) Kind {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return KindImage
	case strings.HasPrefix(contentType, "video/"):
		return KindVideo
	default:
		return KindFile
	}
}

func isAllowed(kind Kind, allowed []Kind) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, k := range allowed {
		if k == kind {
			return true
		}
	}
	return false
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// cross-device: copy then remove
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
