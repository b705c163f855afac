// Package mediasvc generates video thumbnails with ffmpeg.
package mediasvc

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/media"
)

const defaultTimeout = time.Minute

type FFmpeg struct {
	bin     string
	offset  string
	timeout time.Duration
}

var _ media.Thumbnailer = (*FFmpeg)(nil)

func NewFFmpeg(conf *core.Config) *FFmpeg {
	bin := conf.Media.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpeg{bin: bin, offset: "00:00:01", timeout: defaultTimeout}
}

// Thumbnail writes a JPEG frame of videoPath to outPath.
// The frame is taken one second in; videos shorter than that get their first frame.
func (f *FFmpeg) Thumbnail(ctx context.Context, videoPath, outPath string) error {
	err := f.extract(ctx, videoPath, outPath, f.offset)
	if err == nil && !exists(outPath) {
		err = f.extract(ctx, videoPath, outPath, "0")
	}
	if err != nil {
		return err
	}
	if !exists(outPath) {
		return errors.New("ffmpeg produced no thumbnail")
	}
	return nil
}

func (f *FFmpeg) extract(ctx context.Context, videoPath, outPath, offset string) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.bin,
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", offset,
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		outPath,
	)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "ffmpeg: %s", strings.TrimSpace(stderr.String()))
	}
	return nil
}

func exists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Size() > 0
}
