package ai

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMimeTypeForExtension(t *testing.T) {
	t.Parallel()
	tests := []struct {
		ext  string
		want string
	}{
		{".png", "image/png"},
		{".PNG", "image/png"},
		{".gif", "image/gif"},
		{".bmp", "image/bmp"},
		{".webp", "image/webp"},
		{".jpg", "image/jpeg"},
		{".tiff", "image/jpeg"},
		{"", "image/jpeg"},
	}
	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			assert.Equal(t, tt.want, MimeTypeForExtension(tt.ext))
		})
	}
}

func TestImageEncoder_Empty(t *testing.T) {
	t.Parallel()
	res := NewImageEncoder(t.TempDir(), time.Second).Encode(context.Background(), "  ")
	assert.Equal(t, ImageNone, res.Kind)
	assert.Nil(t, res.Image)
}

func TestImageEncoder_Local(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	payload := []byte("\x89PNG fake")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scan.png"), payload, 0o600))
	enc := NewImageEncoder(dir, time.Second)

	res := enc.Encode(context.Background(), "/uploads/scan.png")
	require.Equal(t, ImageAttached, res.Kind)
	assert.Equal(t, "image/png", res.Image.MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(payload), res.Image.Base64Data)

	// Traversal collapses to the basename inside the uploads dir.
	res = enc.Encode(context.Background(), "../../etc/scan.png")
	assert.Equal(t, ImageAttached, res.Kind)
}

func TestImageEncoder_LocalMissing(t *testing.T) {
	t.Parallel()
	res := NewImageEncoder(t.TempDir(), time.Second).Encode(context.Background(), "/uploads/missing.jpg")
	assert.Equal(t, ImageSkipped, res.Kind)
	assert.Nil(t, res.Image)
	assert.Contains(t, res.Reason, "not found")
}

func TestImageEncoder_Remote(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.gif":
			w.Header().Set("Content-Type", "image/gif; charset=binary")
			_, _ = w.Write([]byte("GIF89a"))
		case "/noct":
			w.Header()["Content-Type"] = nil
			_, _ = w.Write([]byte{0xff, 0xd8})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	enc := NewImageEncoder(t.TempDir(), time.Second)

	res := enc.Encode(context.Background(), srv.URL+"/ok.gif")
	require.Equal(t, ImageAttached, res.Kind)
	assert.Equal(t, "image/gif", res.Image.MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("GIF89a")), res.Image.Base64Data)

	res = enc.Encode(context.Background(), srv.URL+"/noct")
	require.Equal(t, ImageAttached, res.Kind)
	assert.Equal(t, "image/jpeg", res.Image.MimeType)

	res = enc.Encode(context.Background(), srv.URL+"/missing")
	assert.Equal(t, ImageSkipped, res.Kind)
	assert.Contains(t, res.Reason, "status 404")
}

func TestImageEncoder_RemoteUnreachable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	res := NewImageEncoder(t.TempDir(), 200*time.Millisecond).Encode(context.Background(), url+"/x.png")
	assert.Equal(t, ImageSkipped, res.Kind)
	assert.Equal(t, "skipped", res.Kind.String())
}
