package export

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/usagedeck/usagedeck/internal/config"
	"github.com/usagedeck/usagedeck/internal/daterange"
	"github.com/usagedeck/usagedeck/internal/filters"
	"github.com/usagedeck/usagedeck/internal/gateway"
)

type fakeExporter struct {
	result *gateway.ExportResult
	err    error
	calls  int
}

func (f *fakeExporter) Export(context.Context, filters.FilterSet, gateway.Format) (*gateway.ExportResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func exportFilters(t *testing.T) filters.FilterSet {
	t.Helper()
	rng, err := daterange.New(
		time.Date(2025, 1, 4, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		time.UTC,
	)
	if err != nil {
		t.Fatalf("build range: %v", err)
	}
	return filters.FilterSet{Range: rng}
}

func newTestCoordinator(t *testing.T, exporter Exporter) (*Coordinator, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.ExportConfig{Storage: "local", FilenamePrefix: "usage", Local: config.ExportLocalConfig{Directory: dir}}
	archive, err := NewArchive(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new archive: %v", err)
	}
	return NewCoordinator(exporter, archive, cfg, nil), dir
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRunArchivesSuccessfulExport(t *testing.T) {
	payload := "date,requests,cost\n2025-01-04,100,1.25\n"
	exporter := &fakeExporter{result: &gateway.ExportResult{
		Data:        []byte(payload),
		ContentType: "text/csv",
		Filename:    "usage-2025-01-04-2025-01-10.csv",
	}}
	coord, dir := newTestCoordinator(t, exporter)

	receipt, err := coord.Run(context.Background(), exportFilters(t), gateway.FormatCSV)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if receipt.Filename != "usage-2025-01-04-2025-01-10.csv" {
		t.Fatalf("want backend filename kept, got %q", receipt.Filename)
	}
	if receipt.Size != int64(len(payload)) || receipt.ContentType != "text/csv" {
		t.Fatalf("want receipt describing the artifact, got %+v", receipt)
	}

	data, err := os.ReadFile(filepath.Join(dir, receipt.Filename))
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != payload {
		t.Fatalf("artifact bytes differ: %q", data)
	}

	for _, name := range listDir(t, dir) {
		if strings.HasSuffix(name, ".tmp") {
			t.Fatalf("staging file must be released on success, found %q", name)
		}
	}
}

func TestRunFailureCreatesNothing(t *testing.T) {
	exporter := &fakeExporter{err: &gateway.Error{Category: gateway.CategoryNetwork, Message: "connection refused"}}
	coord, dir := newTestCoordinator(t, exporter)

	_, err := coord.Run(context.Background(), exportFilters(t), gateway.FormatJSON)
	if !gateway.IsRetryable(err) {
		t.Fatalf("want gateway error passed through, got %v", err)
	}
	if names := listDir(t, dir); len(names) != 0 {
		t.Fatalf("failed export must leave no files, found %v", names)
	}
}

func TestRunRejectsUnknownFormat(t *testing.T) {
	exporter := &fakeExporter{}
	coord, dir := newTestCoordinator(t, exporter)

	_, err := coord.Run(context.Background(), exportFilters(t), gateway.Format("xlsx"))
	var ge *gateway.Error
	if !errors.As(err, &ge) || ge.Category != gateway.CategoryValidation {
		t.Fatalf("want validation error, got %v", err)
	}
	if exporter.calls != 0 {
		t.Fatalf("invalid format must never reach the exporter")
	}
	if names := listDir(t, dir); len(names) != 0 {
		t.Fatalf("want empty dir, found %v", names)
	}
}

func TestGeneratedFilename(t *testing.T) {
	exporter := &fakeExporter{result: &gateway.ExportResult{Data: []byte("[]")}}
	coord, _ := newTestCoordinator(t, exporter)
	coord.now = func() time.Time { return time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC) }

	receipt, err := coord.Run(context.Background(), exportFilters(t), gateway.FormatJSON)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	prefix := "usage_2025-01-04_2025-01-10_20250110_120000_"
	if !strings.HasPrefix(receipt.Filename, prefix) || !strings.HasSuffix(receipt.Filename, ".json") {
		t.Fatalf("want %q*.json with a nonce, got %q", prefix, receipt.Filename)
	}
	if len(receipt.Filename) != len(prefix)+8+len(".json") {
		t.Fatalf("nonce must be eight characters, got %q", receipt.Filename)
	}
	if receipt.ContentType != "application/json" {
		t.Fatalf("want content type from format, got %q", receipt.ContentType)
	}
}

func TestLocalArchiveOpenAndDelete(t *testing.T) {
	dir := t.TempDir()
	archive, err := NewArchive(context.Background(), config.ExportConfig{Local: config.ExportLocalConfig{Directory: dir}})
	if err != nil {
		t.Fatalf("new archive: %v", err)
	}
	ctx := context.Background()

	if _, err := archive.Put(ctx, "report.csv", strings.NewReader("a,b\n"), "text/csv"); err != nil {
		t.Fatalf("put: %v", err)
	}

	rc, info, err := archive.Open(ctx, "report.csv")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "a,b\n" || info.Size != 4 {
		t.Fatalf("want stored bytes back, got %q size=%d", data, info.Size)
	}

	if err := archive.Delete(ctx, "report.csv"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := archive.Open(ctx, "report.csv"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound after delete, got %v", err)
	}
}

func TestLocalArchiveRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	archive, err := NewArchive(context.Background(), config.ExportConfig{Local: config.ExportLocalConfig{Directory: dir}})
	if err != nil {
		t.Fatalf("new archive: %v", err)
	}
	if _, err := archive.Put(context.Background(), "../evil.csv", strings.NewReader("x"), "text/csv"); err == nil {
		t.Fatalf("want traversal rejected")
	}
}

func TestLocalArchiveFailedCopyLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	archive, err := NewArchive(context.Background(), config.ExportConfig{Local: config.ExportLocalConfig{Directory: dir}})
	if err != nil {
		t.Fatalf("new archive: %v", err)
	}

	broken := io.MultiReader(strings.NewReader("partial"), iotest.ErrReader(errors.New("stream cut")))
	if _, err := archive.Put(context.Background(), "report.csv", broken, "text/csv"); err == nil {
		t.Fatalf("want copy failure surfaced")
	}
	if names := listDir(t, dir); len(names) != 0 {
		t.Fatalf("failed put must clean up, found %v", names)
	}
}

func TestNewArchiveRejectsUnknownStorage(t *testing.T) {
	if _, err := NewArchive(context.Background(), config.ExportConfig{Storage: "ftp"}); err == nil {
		t.Fatalf("want error for unknown storage")
	}
}
