// Package thumbnail derives small preview images from finalized media files.
// The actual imaging work is delegated to external tools (ImageMagick's
// convert for stills, ffmpeg for video frames); this package only shells out
// and reports where the preview landed. Callers treat failures as
// best-effort: an asset without a thumbnail is still a valid asset.
package thumbnail

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"fotobank/media-api/internal/domain"
)

// Generator derives a preview image from a media file on local disk.
type Generator interface {
	// Generate writes a JPEG preview next to srcPath and returns its path.
	// The caller owns both files and removes them when done.
	Generate(ctx context.Context, srcPath string, mediaType domain.MediaType) (string, error)
}

const defaultTimeout = 30 * time.Second

// execGenerator shells out to convert/ffmpeg, the same tools the media
// pipeline has always relied on.
type execGenerator struct {
	timeout time.Duration
}

// NewExecGenerator returns a Generator backed by the convert and ffmpeg
// binaries on PATH.
func NewExecGenerator() Generator {
	return &execGenerator{timeout: defaultTimeout}
}

func (g *execGenerator) Generate(ctx context.Context, srcPath string, mediaType domain.MediaType) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	thumbPath := srcPath + "_thumb.jpg"

	var cmd *exec.Cmd
	switch mediaType {
	case domain.MediaTypeImage:
		cmd = exec.CommandContext(ctx, "convert", srcPath, "-resize", "200x200", thumbPath)
	case domain.MediaTypeVideo:
		// Grab a single frame one second in.
		cmd = exec.CommandContext(ctx, "ffmpeg", "-y", "-i", srcPath, "-ss", "00:00:01.000", "-vframes", "1", thumbPath)
	default:
		return "", fmt.Errorf("thumbnail: unsupported media type %q", mediaType)
	}

	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("thumbnail: %s failed: %v: %s", cmd.Path, err, out)
	}
	return thumbPath, nil
}
