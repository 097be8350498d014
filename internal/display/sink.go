// Package display delivers a finished canvas to an output: the physical
// e-paper panel or a preview PNG on disk. The renderer is agnostic to which.
package display

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
)

// Sink consumes a finished canvas.
type Sink interface {
	Push(ctx context.Context, img image.Image) error
}

// FileSink publishes the canvas as a PNG, replaced atomically (write to a
// temp file, then rename) so a concurrent reader never observes a partially
// written image. It doubles as the shared "last rendered image" slot.
type FileSink struct {
	Path string
}

func NewFileSink(path string) *FileSink {
	return &FileSink{Path: path}
}

func (s *FileSink) Push(_ context.Context, img image.Image) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".inkcal-preview-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, s.Path)
}
