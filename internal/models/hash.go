package models

// HashedVideo is the perceptual fingerprint of one accepted video: its
// duration (seconds, rounded to 3 decimals) and a perception hash of
// four sampled frames. Rows are append-only and never mutated.
type HashedVideo struct {
	Username          string  `gorm:"index" json:"username"`
	OriginalShortcode string  `gorm:"primaryKey" json:"original_shortcode"`
	Duration          float64 `gorm:"index" json:"duration"`
	HashFrame1        string  `json:"hash_frame_1"`
	HashFrame2        string  `json:"hash_frame_2"`
	HashFrame3        string  `json:"hash_frame_3"`
	HashFrame4        string  `json:"hash_frame_4"`
}

// Frames returns the four frame hashes in sampling order.
func (h *HashedVideo) Frames() [4]string {
	return [4]string{h.HashFrame1, h.HashFrame2, h.HashFrame3, h.HashFrame4}
}
