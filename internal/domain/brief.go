package domain

import "time"

// Brief is the single source text a caller wants adapted per channel.
// It is immutable once generation starts.
type Brief struct {
	ID         string    `json:"id"`
	SourceText string    `json:"source_text"`
	CreatedAt  time.Time `json:"created_at"`
}

type VariantStatus string

const (
	VariantOk     VariantStatus = "ok"
	VariantFailed VariantStatus = "failed"
)

// Variant is one channel-adapted rendering of a Brief. Exactly one Variant
// exists per (Brief, channel) pair; regeneration overwrites it whole.
type Variant struct {
	BriefID   string `json:"brief_id"`
	ChannelID string `json:"channel_id"`
	Body      string `json:"body"`
	// Tags are kept in emission order; duplicates are preserved.
	Tags      []string `json:"tags"`
	CharCount int      `json:"char_count"`
	// Remaining is the advisory character budget against the channel limit.
	// Negative means the body currently exceeds the limit.
	Remaining  int           `json:"remaining"`
	Status     VariantStatus `json:"status"`
	FailReason string        `json:"fail_reason,omitempty"`
	// MediaRefs are asset store references attached to the variant; they
	// travel with the variant into every relay payload.
	MediaRefs []string `json:"media_refs,omitempty"`
}

// Key returns the store key for a variant record.
func (v Variant) Key() string {
	return v.BriefID + "/" + v.ChannelID
}
