package domain

import "time"

// RelayPayload is the wire contract of the external dispatch relay. Tags
// travel as a single delimited string; delivery is at-most-once with the
// synchronous publish result as the only acknowledgement.
type RelayPayload struct {
	ChannelID   string     `json:"channel_id"`
	Body        string     `json:"body"`
	Tags        string     `json:"tags"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	MediaRefs   []string   `json:"media_refs,omitempty"`
}

// DispatchResult reports the outcome of sending one variant to the relay.
type DispatchResult struct {
	ChannelID string
	Accepted  bool
	Err       error
}

// BatchResult aggregates per-channel outcomes of a batch publish. A batch is
// not all-or-nothing; partial success is expected and reported here.
type BatchResult struct {
	Succeeded int
	Failed    int
	Results   []DispatchResult
}
