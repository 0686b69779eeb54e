// Package publish uploads final yearly rasters to a blob bucket.
package publish

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // gs:// driver
	_ "gocloud.dev/blob/memblob"  // mem:// driver
	_ "gocloud.dev/blob/s3blob"   // s3:// driver

	"github.com/mohammed-shakir/lakeextract/internal/logger"
)

const contentType = "image/tiff"

// Publisher copies files into <bucket>/<lakeID>/<basename>.
type Publisher struct {
	bucket *blob.Bucket
	url    string
	log    *slog.Logger
}

// Open opens the bucket at url (file://, gs://, s3:// or mem://).
func Open(ctx context.Context, url string, log *slog.Logger) (*Publisher, error) {
	b, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", url, err)
	}
	return New(b, url, log), nil
}

// New wraps an already opened bucket. The Publisher owns it from then on.
func New(b *blob.Bucket, url string, log *slog.Logger) *Publisher {
	return &Publisher{bucket: b, url: url, log: logger.OrDiscard(log)}
}

// Publish uploads every file and returns the object keys written, in order.
// It stops at the first failure; keys uploaded before it are still returned.
func (p *Publisher) Publish(ctx context.Context, lakeID string, files []string) ([]string, error) {
	keys := make([]string, 0, len(files))
	for _, f := range files {
		key := Key(lakeID, f)
		if err := p.upload(ctx, key, f); err != nil {
			return keys, err
		}
		keys = append(keys, key)
		p.log.DebugContext(ctx, "published product", "key", key)
	}
	p.log.InfoContext(ctx, "products published", "bucket", p.url, "objects", len(keys))
	return keys, nil
}

func (p *Publisher) upload(ctx context.Context, key, file string) error {
	src, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open %s: %w", file, err)
	}
	defer func() { _ = src.Close() }()

	w, err := p.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		_ = w.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}
	return nil
}

// Exists reports whether key is already in the bucket.
func (p *Publisher) Exists(ctx context.Context, key string) (bool, error) {
	return p.bucket.Exists(ctx, key)
}

func (p *Publisher) Close() error {
	if p.bucket != nil {
		return p.bucket.Close()
	}
	return nil
}

// Key is the object key of file for lakeID.
func Key(lakeID, file string) string {
	return path.Join(lakeID, filepath.Base(file))
}
