package dedup

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/repost-agent/internal/storage"
	"github.com/repost-agent/internal/storage/sqlite"
	"github.com/repost-agent/pkg/logger"
)

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: zerolog.Nop()}
}

func newTestAccount(t *testing.T) storage.AccountStore {
	t.Helper()
	repo, err := sqlite.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, repo.Migrate())
	t.Cleanup(func() { _ = repo.Close() })
	return repo.Account("testaccount")
}

// gradientFrame renders a deterministic image whose perception hash is
// nontrivial. The seed shifts the gradient so different seeds produce
// clearly different hashes.
func gradientFrame(seed int) image.Image {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Pix[y*img.Stride+x] = uint8((x*y + seed*37) % 256)
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// stubExtractor serves canned frames instead of shelling out.
type stubExtractor struct {
	duration float64
	frames   int
	render   func(index int) image.Image
	sampled  []int
}

func (s *stubExtractor) Duration(context.Context, string) (float64, error) { return s.duration, nil }
func (s *stubExtractor) FrameCount(context.Context, string) (int, error)   { return s.frames, nil }

func (s *stubExtractor) ExtractFrame(_ context.Context, _ string, index int) ([]byte, error) {
	s.sampled = append(s.sampled, index)
	var buf bytes.Buffer
	if err := png.Encode(&buf, s.render(index)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeFakeVideo creates a file whose magic bytes pass the video sniff.
func writeFakeVideo(t *testing.T) string {
	t.Helper()
	header := []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm'}
	path := filepath.Join(t.TempDir(), "candidate.mp4")
	require.NoError(t, os.WriteFile(path, append(header, make([]byte, 512)...), 0644))
	return path
}

func TestFrameOffsets(t *testing.T) {
	require.Equal(t, [4]int{0, 30, 60, 89}, frameOffsets(90))
	require.Equal(t, [4]int{0, 0, 0, 0}, frameOffsets(1))
	require.Equal(t, [4]int{0, 1, 2, 3}, frameOffsets(4))
}

func TestFingerprintSamplesFourFrames(t *testing.T) {
	extractor := &stubExtractor{
		duration: 12.345,
		frames:   90,
		render:   gradientFrame,
	}
	d := New(testLogger(), extractor, 0)

	fp, err := d.Fingerprint(context.Background(), writeFakeVideo(t))
	require.NoError(t, err)
	require.Equal(t, 12.345, fp.Duration)
	require.Equal(t, []int{0, 30, 60, 89}, extractor.sampled)
	for _, h := range fp.Hashes {
		require.NotNil(t, h)
	}
}

func TestFingerprintRejectsNonVideo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.png")
	require.NoError(t, os.WriteFile(path, pngBytes(t, gradientFrame(0)), 0644))

	d := New(testLogger(), &stubExtractor{duration: 1, frames: 1, render: gradientFrame}, 0)
	_, err := d.Fingerprint(context.Background(), path)
	require.ErrorIs(t, err, ErrNotVideo)
}

func TestIsDuplicateMatchesSameVideo(t *testing.T) {
	account := newTestAccount(t)
	extractor := &stubExtractor{duration: 12.345, frames: 90, render: gradientFrame}
	d := New(testLogger(), extractor, 0)

	path := writeFakeVideo(t)
	fp, err := d.Fingerprint(context.Background(), path)
	require.NoError(t, err)

	err = account.WithTx(context.Background(), func(tx storage.Tx) error {
		dup, err := d.IsDuplicate(tx, "original", fp)
		require.NoError(t, err)
		require.False(t, dup, "first sighting must not be a duplicate")

		// Re-fingerprinting the identical video matches the stored row.
		again, err := d.Fingerprint(context.Background(), path)
		require.NoError(t, err)
		dup, err = d.IsDuplicate(tx, "reupload", again)
		require.NoError(t, err)
		require.True(t, dup)

		// The re-upload's fingerprint was not persisted.
		videos, err := tx.ListHashedVideos()
		require.NoError(t, err)
		require.Len(t, videos, 1)
		require.Equal(t, "original", videos[0].OriginalShortcode)
		return nil
	})
	require.NoError(t, err)
}

func TestIsDuplicateDifferentDurationNeverMatches(t *testing.T) {
	account := newTestAccount(t)
	d := New(testLogger(), nil, 0)

	path := writeFakeVideo(t)
	first := New(testLogger(), &stubExtractor{duration: 12.345, frames: 90, render: gradientFrame}, 0)
	fp1, err := first.Fingerprint(context.Background(), path)
	require.NoError(t, err)

	// Same frames, different duration.
	second := New(testLogger(), &stubExtractor{duration: 12.346, frames: 90, render: gradientFrame}, 0)
	fp2, err := second.Fingerprint(context.Background(), path)
	require.NoError(t, err)

	err = account.WithTx(context.Background(), func(tx storage.Tx) error {
		dup, err := d.IsDuplicate(tx, "a", fp1)
		require.NoError(t, err)
		require.False(t, dup)

		dup, err = d.IsDuplicate(tx, "b", fp2)
		require.NoError(t, err)
		require.False(t, dup)

		videos, err := tx.ListHashedVideos()
		require.NoError(t, err)
		require.Len(t, videos, 2)
		return nil
	})
	require.NoError(t, err)
}

func TestIsDuplicateDistinctContentSameDuration(t *testing.T) {
	account := newTestAccount(t)
	d := New(testLogger(), nil, 0)

	path := writeFakeVideo(t)
	first := New(testLogger(), &stubExtractor{duration: 10.0, frames: 90, render: gradientFrame}, 0)
	fp1, err := first.Fingerprint(context.Background(), path)
	require.NoError(t, err)

	inverted := func(index int) image.Image {
		img := image.NewGray(image.Rect(0, 0, 64, 64))
		for y := 0; y < 64; y++ {
			for x := 0; x < 64; x++ {
				if (x/8+y/8+index)%2 == 0 {
					img.Pix[y*img.Stride+x] = 255
				}
			}
		}
		return img
	}
	second := New(testLogger(), &stubExtractor{duration: 10.0, frames: 90, render: inverted}, 0)
	fp2, err := second.Fingerprint(context.Background(), path)
	require.NoError(t, err)

	err = account.WithTx(context.Background(), func(tx storage.Tx) error {
		dup, err := d.IsDuplicate(tx, "a", fp1)
		require.NoError(t, err)
		require.False(t, dup)

		dup, err = d.IsDuplicate(tx, "b", fp2)
		require.NoError(t, err)
		require.False(t, dup, "unrelated content must not match on duration alone")
		return nil
	})
	require.NoError(t, err)
}
