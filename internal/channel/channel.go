package channel

import "fmt"

// Spec holds the static per-channel metadata used to shape generation and
// dispatch payloads.
type Spec struct {
	ChannelID      string `yaml:"channel_id"`
	CharacterLimit int    `yaml:"character_limit"`
	ToneDescriptor string `yaml:"tone_descriptor"`
	// TagSeparator joins extracted tags back into the relay payload.
	TagSeparator string `yaml:"tag_separator"`
	// RelayEligible marks channels the dispatch relay can deliver to.
	RelayEligible bool `yaml:"relay_eligible"`
}

// Registry resolves channel ids to their specs. Reference data only; safe
// for concurrent reads.
type Registry struct {
	specs map[string]Spec
}

// Defaults returns the built-in channel set.
func Defaults() []Spec {
	return []Spec{
		{ChannelID: "ig", CharacterLimit: 2200, ToneDescriptor: "visual, casual, emoji-friendly", TagSeparator: " ", RelayEligible: true},
		{ChannelID: "li", CharacterLimit: 3000, ToneDescriptor: "professional, insight-led", TagSeparator: " ", RelayEligible: true},
		{ChannelID: "fb", CharacterLimit: 5000, ToneDescriptor: "conversational, community-oriented", TagSeparator: " ", RelayEligible: true},
		{ChannelID: "x", CharacterLimit: 280, ToneDescriptor: "punchy, direct", TagSeparator: " ", RelayEligible: true},
	}
}

func NewRegistry(specs []Spec) *Registry {
	m := make(map[string]Spec, len(specs))
	for _, s := range specs {
		m[s.ChannelID] = s
	}
	return &Registry{specs: m}
}

// Get resolves a channel id.
func (r *Registry) Get(channelID string) (Spec, error) {
	s, ok := r.specs[channelID]
	if !ok {
		return Spec{}, fmt.Errorf("unknown channel %q", channelID)
	}
	return s, nil
}

// Resolve maps every id to its spec, failing on the first unknown id.
func (r *Registry) Resolve(channelIDs []string) ([]Spec, error) {
	specs := make([]Spec, 0, len(channelIDs))
	for _, id := range channelIDs {
		s, err := r.Get(id)
		if err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	return specs, nil
}
