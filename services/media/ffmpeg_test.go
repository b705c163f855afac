package mediasvc

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/atelier/core"
)

func TestNewFFmpeg(t *testing.T) {
	assert.Equal(t, "ffmpeg", NewFFmpeg(&core.Config{}).bin)
	assert.Equal(t, "/opt/ffmpeg", NewFFmpeg(&core.Config{Media: core.MediaConfig{FFmpegPath: "/opt/ffmpeg"}}).bin)
}

func TestFFmpeg_ThumbnailMissingBinary(t *testing.T) {
	f := NewFFmpeg(&core.Config{Media: core.MediaConfig{FFmpegPath: filepath.Join(t.TempDir(), "nope")}})
	err := f.Thumbnail(context.Background(), "in.mp4", filepath.Join(t.TempDir(), "out.jpg"))
	assert.Error(t, err)
}

func TestFFmpeg_ThumbnailInvalidVideo(t *testing.T) {
	bin, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg is not installed")
	}
	dir := t.TempDir()
	video := filepath.Join(dir, "in.mp4")
	require.NoError(t, os.WriteFile(video, []byte("not a video"), 0o644))

	f := NewFFmpeg(&core.Config{Media: core.MediaConfig{FFmpegPath: bin}})
	err = f.Thumbnail(context.Background(), video, filepath.Join(dir, "out.jpg"))
	assert.Error(t, err)
}

func TestFFmpeg_Thumbnail(t *testing.T) {
	bin, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg is not installed")
	}
	dir := t.TempDir()
	video := filepath.Join(dir, "in.mp4")
	gen := exec.Command(bin, "-hide_banner", "-loglevel", "error", "-f", "lavfi", "-i", "testsrc=duration=2:size=160x120:rate=10", video)
	if err = gen.Run(); err != nil {
		t.Skipf("ffmpeg cannot generate a test video: %v", err)
	}

	out := filepath.Join(dir, "out.jpg")
	require.NoError(t, NewFFmpeg(&core.Config{Media: core.MediaConfig{FFmpegPath: bin}}).Thumbnail(context.Background(), video, out))
	assert.FileExists(t, out)
}
