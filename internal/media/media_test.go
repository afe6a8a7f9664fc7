package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWAVRoundTrip(t *testing.T) {
	samples := make([]float32, 1600)
	for i := range samples {
		samples[i] = float32(i%100-50) / 64.0
	}

	path := filepath.Join(t.TempDir(), "test.wav")
	require.NoError(t, WriteWAV(path, samples))

	decoded, err := ReadWAV(path)
	require.NoError(t, err)
	require.Len(t, decoded, len(samples))

	for i := range samples {
		assert.InDelta(t, samples[i], decoded[i], 1.0/32768.0, "sample %d", i)
	}
}

func TestWriteWAVEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.wav")
	require.NoError(t, WriteWAV(path, nil))

	decoded, err := ReadWAV(path)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestWriteWAVClipping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, WriteWAV(path, []float32{2.0, -2.0, 0}))

	decoded, err := ReadWAV(path)
	require.NoError(t, err)
	require.Len(t, decoded, 3)
	assert.InDelta(t, 1.0, decoded[0], 1.0/1024.0)
	assert.InDelta(t, -1.0, decoded[1], 1.0/1024.0)
	assert.InDelta(t, 0.0, decoded[2], 1.0/32768.0)
}

func TestReadWAVNotAWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.wav")
	require.NoError(t, os.WriteFile(path, []byte("definitely not RIFF data"), 0644))

	_, err := ReadWAV(path)
	assert.Error(t, err)
}

func TestExtractAudioUnreadableSource(t *testing.T) {
	e := NewExtractor("ffmpeg", "ffprobe")

	dir := t.TempDir()
	err := e.ExtractAudio(context.Background(), filepath.Join(dir, "missing.mp4"), filepath.Join(dir, "out.wav"))
	require.Error(t, err)

	var extErr *ExtractionError
	assert.True(t, errors.As(err, &extErr))
}
