package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/usagedeck/usagedeck/internal/config"
	"github.com/usagedeck/usagedeck/internal/filters"
	"github.com/usagedeck/usagedeck/internal/gateway"
	"github.com/usagedeck/usagedeck/internal/observability"
)

// Exporter fetches the encoded payload for a filtered window.
type Exporter interface {
	Export(ctx context.Context, f filters.FilterSet, format gateway.Format) (*gateway.ExportResult, error)
}

// Receipt describes one finished export.
type Receipt struct {
	Filename    string
	Format      gateway.Format
	Size        int64
	ContentType string
	CreatedAt   time.Time
}

// Coordinator runs exports end to end.
type Coordinator struct {
	exporter Exporter
	archive  Archive
	prefix   string
	storage  string
	metrics  *observability.Provider
	now      func() time.Time
}

// NewCoordinator wires an exporter to an archive.
func NewCoordinator(exporter Exporter, archive Archive, cfg config.ExportConfig, metrics *observability.Provider) *Coordinator {
	prefix := strings.TrimSpace(cfg.FilenamePrefix)
	if prefix == "" {
		prefix = "usage"
	}
	storage := strings.ToLower(strings.TrimSpace(cfg.Storage))
	if storage == "" {
		storage = "local"
	}
	return &Coordinator{
		exporter: exporter,
		archive:  archive,
		prefix:   prefix,
		storage:  storage,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Run fetches the export for f and persists it. On failure no artifact
// exists afterwards; on success the staging file is already gone and only
// the named artifact remains.
func (c *Coordinator) Run(ctx context.Context, f filters.FilterSet, format gateway.Format) (Receipt, error) {
	if !format.Valid() {
		return Receipt{}, &gateway.Error{Category: gateway.CategoryValidation, Message: fmt.Sprintf("unsupported export format %q", format)}
	}

	res, err := c.exporter.Export(ctx, f, format)
	if err != nil {
		return Receipt{}, err
	}

	name := res.Filename
	if name == "" {
		name = c.filename(f, format)
	}
	contentType := res.ContentType
	if contentType == "" {
		contentType = format.ContentType()
	}

	artifact, err := c.archive.Put(ctx, name, bytes.NewReader(res.Data), contentType)
	if err != nil {
		return Receipt{}, fmt.Errorf("archive export: %w", err)
	}

	// The s3 backend cannot report a size from PutObject; the payload
	// length is authoritative either way.
	size := int64(len(res.Data))

	c.metrics.RecordExport(string(format), c.storage)
	slog.Info("usage export archived",
		"filename", artifact.Name,
		"format", format,
		"bytes", size,
		"window", f.Range.String(),
	)
	return Receipt{
		Filename:    artifact.Name,
		Format:      format,
		Size:        size,
		ContentType: artifact.ContentType,
		CreatedAt:   c.now(),
	}, nil
}

// filename builds a unique artifact name from the window, a UTC clock
// stamp, and a short nonce so two exports in the same second never
// overwrite each other.
func (c *Coordinator) filename(f filters.FilterSet, format gateway.Format) string {
	base := fmt.Sprintf("%s_%s_%s", c.prefix, f.Range.StartString(), f.Range.EndString())
	timestamp := c.now().UTC().Format("20060102_150405")
	nonce := uuid.NewString()[:8]
	return fmt.Sprintf("%s_%s_%s.%s", base, timestamp, nonce, format.Ext())
}
