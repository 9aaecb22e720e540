// Package export turns a filtered usage window into a downloadable
// artifact. The gateway encodes the data; this package fetches it,
// persists it to the configured archive, and hands back a receipt.
// Nothing is ever written for a failed export.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/usagedeck/usagedeck/internal/config"
)

var ErrNotFound = errors.New("export: artifact not found")

// Artifact describes one stored export.
type Artifact struct {
	Name        string
	Size        int64
	ContentType string
}

// Archive persists finished export artifacts.
type Archive interface {
	Put(ctx context.Context, name string, body io.Reader, contentType string) (Artifact, error)
	Open(ctx context.Context, name string) (io.ReadCloser, Artifact, error)
	Delete(ctx context.Context, name string) error
}

// NewArchive builds the configured archive backend.
func NewArchive(ctx context.Context, cfg config.ExportConfig) (Archive, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Storage)) {
	case "s3":
		awsCfg, err := loadS3Config(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return newS3Archive(cfg.S3, awsCfg)
	case "", "local":
		return newLocalArchive(cfg.Local)
	default:
		return nil, fmt.Errorf("export: unsupported storage %q", cfg.Storage)
	}
}
