package httpserver

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/fairyhunter13/clinical-pilot/internal/domain"
)

// errTooLarge marks an upload above MAX_UPLOAD_MB.
var errTooLarge = errors.New("payload too large")

// errUnsupportedMedia marks an upload that is not an allowed image.
var errUnsupportedMedia = errors.New("only image files are allowed")

var allowedImageExt = map[string]bool{
	".jpeg": true, ".jpg": true, ".png": true, ".gif": true, ".bmp": true, ".tiff": true,
}

func allowedImageMIME(m string) bool {
	switch strings.ToLower(m) {
	case "image/jpeg", "image/png", "image/gif", "image/bmp", "image/x-ms-bmp", "image/tiff":
		return true
	}
	return false
}

// storedUpload describes a saved image.
type storedUpload struct {
	Name string
	Mime string
	Size int64
}

// saveImage validates the extension and sniffed content of an uploaded image and
// writes it under dir with a ulid file name.
func saveImage(dir string, f multipart.File, h *multipart.FileHeader, maxBytes int64) (storedUpload, error) {
	ext := strings.ToLower(filepath.Ext(h.Filename))
	if !allowedImageExt[ext] {
		return storedUpload{}, fmt.Errorf("%w: extension %q", errUnsupportedMedia, ext)
	}
	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return storedUpload{}, fmt.Errorf("%w: read image: %v", domain.ErrInvalidArgument, err)
	}
	if int64(len(data)) > maxBytes {
		return storedUpload{}, errTooLarge
	}
	mt := mimetype.Detect(data)
	if !allowedImageMIME(mt.String()) {
		return storedUpload{}, fmt.Errorf("%w: content %s", errUnsupportedMedia, mt.String())
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return storedUpload{}, fmt.Errorf("op=upload.mkdir: %w", err)
	}
	name := strings.ToLower(newULID()) + ext
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
		return storedUpload{}, fmt.Errorf("op=upload.write: %w", err)
	}
	return storedUpload{Name: name, Mime: mt.String(), Size: int64(len(data))}, nil
}

// publicUploadURL is the absolute URL the stored image is served under.
func publicUploadURL(r *http.Request, name string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	return scheme + "://" + r.Host + "/uploads/" + name
}

// ownUploadName resolves a previously returned /uploads/<name> URL to its stored
// file name. Foreign hosts, other paths and non-image names are rejected.
func ownUploadName(r *http.Request, raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", false
	}
	switch u.Scheme {
	case "":
		if u.Host != "" {
			return "", false
		}
	case "http", "https":
		if !strings.EqualFold(u.Host, r.Host) {
			return "", false
		}
	default:
		return "", false
	}
	dir, name := path.Split(u.Path)
	if dir != "/uploads/" || name == "" || strings.HasPrefix(name, ".") {
		return "", false
	}
	if !allowedImageExt[strings.ToLower(path.Ext(name))] {
		return "", false
	}
	return name, true
}
