package media

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/TobiSchelling/kursil/internal/apperr"
	"github.com/TobiSchelling/kursil/internal/logger"
)

// GCSUploader writes objects to a Google Cloud Storage bucket.
type GCSUploader struct {
	client  *storage.Client
	bucket  string
	cdnBase string
	log     *logger.Logger
}

// NewGCSUploader creates a storage client for bucket. Extra client options
// (credentials, endpoint) are passed through.
func NewGCSUploader(ctx context.Context, bucket, cdnBase string, log *logger.Logger, opts ...option.ClientOption) (*GCSUploader, error) {
	if bucket == "" {
		return nil, fmt.Errorf("missing GCS bucket name")
	}
	if log == nil {
		log = logger.Nop()
	}
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSUploader{
		client:  client,
		bucket:  bucket,
		cdnBase: strings.TrimRight(cdnBase, "/"),
		log:     log.With("component", "media.gcs"),
	}, nil
}

// Upload streams r to key and returns its public URL.
func (u *GCSUploader) Upload(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := u.client.Bucket(u.bucket).Object(key).NewWriter(ctx)
	if contentType == "" {
		contentType = ContentTypeForKey(key)
	}
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", apperr.Wrap(apperr.KindUpstreamUnavailable, "failed to write data to GCS", err)
	}
	if err := w.Close(); err != nil {
		return "", apperr.Wrap(apperr.KindUpstreamUnavailable, "failed to close GCS writer", err)
	}
	locator := u.PublicURL(key)
	u.log.Info("uploaded", "key", key, "url", locator)
	return locator, nil
}

// PublicURL returns the CDN or storage.googleapis.com URL for key.
func (u *GCSUploader) PublicURL(key string) string {
	if u.cdnBase != "" {
		return u.cdnBase + "/" + key
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", u.bucket, key)
}

// Close releases the storage client.
func (u *GCSUploader) Close() error {
	return u.client.Close()
}

// LocalUploader copies objects under a directory. When publicBase is set
// the returned locator is a URL under it, else the file path.
type LocalUploader struct {
	root       string
	publicBase string
}

// NewLocalUploader creates an uploader rooted at dir.
func NewLocalUploader(dir, publicBase string) *LocalUploader {
	return &LocalUploader{root: dir, publicBase: strings.TrimRight(publicBase, "/")}
}

// Upload writes r to root/key.
func (u *LocalUploader) Upload(ctx context.Context, key, _ string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean := filepath.Clean("/" + key)[1:]
	if clean == "" {
		return "", apperr.New(apperr.KindInvalidRequest, "empty object key")
	}
	dst := filepath.Join(u.root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("creating upload directory: %w", err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", dst, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", fmt.Errorf("writing %s: %w", dst, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", dst, err)
	}
	if u.publicBase != "" {
		return u.publicBase + "/" + (&url.URL{Path: clean}).EscapedPath(), nil
	}
	return dst, nil
}
