// Package dedup detects re-uploads of already accepted videos by
// comparing perceptual hashes of four sampled frames. Videos with a
// different duration never match, which keeps the comparison cheap: the
// hash distance is only computed for exact duration collisions.
package dedup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"

	"github.com/corona10/goimagehash"
	"github.com/h2non/filetype"

	"github.com/repost-agent/internal/models"
	"github.com/repost-agent/internal/storage"
	"github.com/repost-agent/pkg/logger"
)

// DefaultDistanceThreshold is the maximum average Hamming distance
// across the four frame hashes for two videos to count as duplicates.
const DefaultDistanceThreshold = 3

// ErrNotVideo is returned when the file's magic bytes are not a known
// video format.
var ErrNotVideo = errors.New("dedup: file is not a video")

// Fingerprint is the comparable identity of one video.
type Fingerprint struct {
	Duration float64
	Hashes   [4]*goimagehash.ImageHash
}

// Deduplicator fingerprints candidate videos and matches them against
// the stored fingerprints of previously accepted ones.
type Deduplicator struct {
	log       *logger.Logger
	extractor FrameExtractor
	threshold int
}

// New builds a deduplicator. A non-positive threshold falls back to
// DefaultDistanceThreshold.
func New(log *logger.Logger, extractor FrameExtractor, threshold int) *Deduplicator {
	if threshold <= 0 {
		threshold = DefaultDistanceThreshold
	}
	return &Deduplicator{
		log:       log.WithComponent("dedup"),
		extractor: extractor,
		threshold: threshold,
	}
}

// Fingerprint samples four frames of the video at path and hashes them.
// Frames are taken at the start, one third, two thirds and the end, so
// trivial edits like trimmed endings still shift only part of the
// fingerprint.
func (d *Deduplicator) Fingerprint(ctx context.Context, path string) (*Fingerprint, error) {
	if err := d.checkIsVideo(path); err != nil {
		return nil, err
	}

	duration, err := d.extractor.Duration(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to probe duration: %w", err)
	}
	frames, err := d.extractor.FrameCount(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to count frames: %w", err)
	}
	if frames < 1 {
		return nil, fmt.Errorf("video %s has no frames", path)
	}

	fp := &Fingerprint{Duration: duration}
	for i, offset := range frameOffsets(frames) {
		data, err := d.extractor.ExtractFrame(ctx, path, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to extract frame %d: %w", offset, err)
		}
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode frame %d: %w", offset, err)
		}
		hash, err := goimagehash.PerceptionHash(img)
		if err != nil {
			return nil, fmt.Errorf("failed to hash frame %d: %w", offset, err)
		}
		fp.Hashes[i] = hash
	}
	return fp, nil
}

// IsDuplicate compares the fingerprint against every stored one with
// the exact same duration. When no match is found the fingerprint is
// persisted under shortcode so future candidates compare against it.
func (d *Deduplicator) IsDuplicate(tx storage.Tx, shortcode string, fp *Fingerprint) (bool, error) {
	known, err := tx.ListHashedVideos()
	if err != nil {
		return false, err
	}

	for _, video := range known {
		if video.Duration != fp.Duration {
			continue
		}
		distance, err := averageDistance(fp, video)
		if err != nil {
			return false, err
		}
		if distance <= float64(d.threshold) {
			d.log.Info().Str("shortcode", shortcode).
				Str("matched", video.OriginalShortcode).
				Float64("distance", distance).
				Msg("Duplicate video detected")
			return true, nil
		}
	}

	return false, tx.SaveHashedVideo(&models.HashedVideo{
		OriginalShortcode: shortcode,
		Duration:          fp.Duration,
		HashFrame1:        fp.Hashes[0].ToString(),
		HashFrame2:        fp.Hashes[1].ToString(),
		HashFrame3:        fp.Hashes[2].ToString(),
		HashFrame4:        fp.Hashes[3].ToString(),
	})
}

func (d *Deduplicator) checkIsVideo(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	head := make([]byte, 261)
	n, err := f.Read(head)
	if err != nil {
		return fmt.Errorf("failed to read file header: %w", err)
	}
	if !filetype.IsVideo(head[:n]) {
		return fmt.Errorf("%w: %s", ErrNotVideo, path)
	}
	return nil
}

// frameOffsets picks the four sampled frame indices for a video with n
// frames.
func frameOffsets(n int) [4]int {
	offsets := [4]int{0, n / 3, 2 * (n / 3), n - 1}
	for i, o := range offsets {
		if o < 0 {
			offsets[i] = 0
		}
		if o > n-1 {
			offsets[i] = n - 1
		}
	}
	return offsets
}

func averageDistance(fp *Fingerprint, video *models.HashedVideo) (float64, error) {
	stored := video.Frames()
	total := 0
	for i := range fp.Hashes {
		hash, err := goimagehash.ImageHashFromString(stored[i])
		if err != nil {
			return 0, fmt.Errorf("stored hash for %s is corrupt: %w", video.OriginalShortcode, err)
		}
		distance, err := fp.Hashes[i].Distance(hash)
		if err != nil {
			return 0, err
		}
		total += distance
	}
	return float64(total) / float64(len(fp.Hashes)), nil
}
