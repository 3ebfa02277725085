package publish

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/datallboy/mediagrab/internal/domain"
	"github.com/datallboy/mediagrab/internal/infra/logger"
	"github.com/dustin/go-humanize"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/memblob"  // mem:// driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
)

const hashKey = "sha256"

// Publisher copies finished deliverables into a blob bucket.
type Publisher struct {
	bucket *blob.Bucket
	prefix string
	log    logger.Reporter
}

// Open connects to any gocloud bucket URL (s3://, file://, mem://).
func Open(ctx context.Context, bucketURL, prefix string, log logger.Reporter) (*Publisher, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return &Publisher{bucket: bucket, prefix: strings.Trim(prefix, "/"), log: log}, nil
}

// Key is the object name for a file below root
func (p *Publisher) Key(root, file string) (string, error) {
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s is outside %s", file, root)
	}
	return path.Join(p.prefix, filepath.ToSlash(rel)), nil
}

// Publish uploads files, skipping objects that already carry the same hash.
// It returns how many objects were written.
func (p *Publisher) Publish(ctx context.Context, root string, files []string) (int, error) {
	uploaded := 0
	for _, f := range files {
		key, err := p.Key(root, f)
		if err != nil {
			return uploaded, err
		}

		sum, err := hashFile(f)
		if err != nil {
			return uploaded, err
		}

		if attrs, err := p.bucket.Attributes(ctx, key); err == nil && attrs.Metadata[hashKey] == sum {
			p.log.Debug("Skipping %s, already published", key)
			continue
		}

		n, err := p.upload(ctx, key, f, sum)
		if err != nil {
			return uploaded, err
		}
		uploaded++
		p.log.Info("Published %s (%s)", key, humanize.Bytes(uint64(n)))
	}
	return uploaded, nil
}

func (p *Publisher) upload(ctx context.Context, key, file, sum string) (int64, error) {
	src, err := os.Open(file)
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %v", domain.ErrFilesystem, file, err)
	}
	defer src.Close()

	opts := &blob.WriterOptions{
		ContentType: mime.TypeByExtension(filepath.Ext(file)),
		Metadata:    map[string]string{hashKey: sum},
	}

	w, err := p.bucket.NewWriter(ctx, key, opts)
	if err != nil {
		return 0, fmt.Errorf("create writer for %s: %w", key, err)
	}

	n, err := io.Copy(w, src)
	if err != nil {
		w.Close()
		return n, fmt.Errorf("write %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return n, fmt.Errorf("close writer for %s: %w", key, err)
	}
	return n, nil
}

func (p *Publisher) Close() error {
	if p.bucket != nil {
		return p.bucket.Close()
	}
	return nil
}

func hashFile(file string) (string, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %v", domain.ErrFilesystem, file, err)
	}
	defer f.Close()
	return domain.CalculateFileHash(f)
}
