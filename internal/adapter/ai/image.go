package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/clinical-pilot/internal/adapter/observability"
	"github.com/fairyhunter13/clinical-pilot/internal/domain"
)

// ImageKind tags the outcome of an encode.
type ImageKind int

const (
	// ImageNone means no image was referenced.
	ImageNone ImageKind = iota
	// ImageAttached means Image holds inline data.
	ImageAttached
	// ImageSkipped means the reference could not be used; Reason says why.
	ImageSkipped
)

func (k ImageKind) String() string {
	switch k {
	case ImageAttached:
		return "attached"
	case ImageSkipped:
		return "skipped"
	default:
		return "none"
	}
}

// ImageResult is the tagged result of ImageEncoder.Encode.
type ImageResult struct {
	Kind   ImageKind
	Image  *domain.InlineImage
	Reason string
}

// maxRemoteImageBytes caps remote downloads.
const maxRemoteImageBytes = 20 << 20

// ImageEncoder turns an image reference into inline base64 data.
type ImageEncoder struct {
	uploadsDir string
	hc         *http.Client
}

// NewImageEncoder creates an encoder resolving local references under uploadsDir.
func NewImageEncoder(uploadsDir string, fetchTimeout time.Duration) *ImageEncoder {
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Second
	}
	return &ImageEncoder{
		uploadsDir: uploadsDir,
		hc: &http.Client{
			Timeout:   fetchTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Encode never fails; unusable references come back as ImageSkipped.
func (e *ImageEncoder) Encode(ctx context.Context, ref string) ImageResult {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ImageResult{Kind: ImageNone}
	}
	lg := observability.LoggerFromContext(ctx)

	var (
		img *domain.InlineImage
		err error
	)
	if isRemoteRef(ref) {
		img, err = e.fetchRemote(ctx, ref)
	} else {
		img, err = e.readLocal(ref)
	}
	if err != nil {
		lg.Warn("image skipped, continuing text-only", slog.String("image_ref", ref), slog.Any("error", err))
		return ImageResult{Kind: ImageSkipped, Reason: err.Error()}
	}
	lg.Debug("image attached", slog.String("image_ref", ref), slog.String("mime_type", img.MimeType))
	return ImageResult{Kind: ImageAttached, Image: img}
}

func isRemoteRef(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func (e *ImageEncoder) readLocal(ref string) (*domain.InlineImage, error) {
	// Only the basename is honored so references cannot escape the uploads dir.
	name := filepath.Base(ref)
	if name == "." || name == string(filepath.Separator) {
		return nil, fmt.Errorf("invalid image reference %q", ref)
	}
	path := filepath.Join(e.uploadsDir, name)
	// #nosec G304 -- path is confined to the uploads directory
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("image file not found: %s", path)
		}
		return nil, fmt.Errorf("read image: %w", err)
	}
	return &domain.InlineImage{
		MimeType:   MimeTypeForExtension(filepath.Ext(name)),
		Base64Data: base64.StdEncoding.EncodeToString(data),
	}, nil
}

func (e *ImageEncoder) fetchRemote(ctx context.Context, ref string) (*domain.InlineImage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("build image request: %w", err)
	}
	resp, err := e.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image body: %w", err)
	}
	if len(data) > maxRemoteImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxRemoteImageBytes)
	}
	return &domain.InlineImage{
		MimeType:   mimeFromContentType(resp.Header.Get("Content-Type")),
		Base64Data: base64.StdEncoding.EncodeToString(data),
	}, nil
}

// MimeTypeForExtension maps a file extension to an image mime type, defaulting to image/jpeg.
func MimeTypeForExtension(ext string) string {
	switch strings.ToLower(ext) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func mimeFromContentType(ct string) string {
	if ct == "" {
		return "image/jpeg"
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil || mt == "" {
		return "image/jpeg"
	}
	return mt
}
