package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/usagedeck/usagedeck/internal/config"
)

type localArchive struct {
	root string
}

func newLocalArchive(cfg config.ExportLocalConfig) (*localArchive, error) {
	dir := strings.TrimSpace(cfg.Directory)
	if dir == "" {
		dir = "./exports"
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	return &localArchive{root: dir}, nil
}

// Put stages the artifact in a temp file and renames it into place, so a
// partially written export is never visible under its final name. The
// temp file is removed before Put returns.
func (a *localArchive) Put(ctx context.Context, name string, body io.Reader, contentType string) (Artifact, error) {
	select {
	case <-ctx.Done():
		return Artifact{}, ctx.Err()
	default:
	}
	path, err := a.pathFor(name)
	if err != nil {
		return Artifact{}, err
	}
	tempFile, err := os.CreateTemp(a.root, "export-*.tmp")
	if err != nil {
		return Artifact{}, err
	}
	defer os.Remove(tempFile.Name())
	written, err := io.Copy(tempFile, body)
	if err != nil {
		tempFile.Close()
		return Artifact{}, err
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return Artifact{}, err
	}
	if err := tempFile.Close(); err != nil {
		return Artifact{}, err
	}
	if err := os.Rename(tempFile.Name(), path); err != nil {
		return Artifact{}, err
	}
	return Artifact{Name: name, Size: written, ContentType: contentType}, nil
}

func (a *localArchive) Open(ctx context.Context, name string) (io.ReadCloser, Artifact, error) {
	path, err := a.pathFor(name)
	if err != nil {
		return nil, Artifact{}, err
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Artifact{}, ErrNotFound
		}
		return nil, Artifact{}, err
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, Artifact{}, err
	}
	info := Artifact{
		Name:        name,
		Size:        stat.Size(),
		ContentType: mime.TypeByExtension(filepath.Ext(name)),
	}
	return file, info, nil
}

func (a *localArchive) Delete(ctx context.Context, name string) error {
	path, err := a.pathFor(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (a *localArchive) pathFor(name string) (string, error) {
	cleaned := filepath.Clean(name)
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("export: invalid artifact name %q", name)
	}
	return filepath.Join(a.root, cleaned), nil
}
