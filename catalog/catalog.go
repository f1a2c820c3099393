// Package catalog loads and serves the immutable sequence definitions: for
// every sequence, the ordered day plans that drive the lifecycle scheduler.
// Definitions are deployed as versioned JSON files and validated once at
// load time; a malformed definition is a boot failure, never a dispatch-time
// failure.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-playground/validator/v10"
)

// Channel names understood by the transport layer.
const (
	ChannelDirectMessage = "dm"
	ChannelFeed          = "feed"
)

// SecondaryEvent describes one randomized-timing community-activity post
// that follows a day's primary message.
type SecondaryEvent struct {
	// MinHour and MaxHour bound the inclusive window, in hours after the
	// primary message's delivery, in which the post appears.
	MinHour int `json:"min_hour" validate:"gte=0"`
	MaxHour int `json:"max_hour" validate:"gte=0"`

	// Channel defaults to the feed when omitted.
	Channel string `json:"channel" validate:"omitempty,oneof=dm feed"`

	// Candidates is the pool of content variants, each with {token}
	// placeholders. One is chosen per subscriber without repeats until the
	// pool is exhausted.
	Candidates []string `json:"candidates" validate:"min=1,dive,required"`
}

// DayPlan is one scheduled unit: the primary message for an elapsed day plus
// its secondary events.
type DayPlan struct {
	DayOffset int `json:"day_offset" validate:"gte=0"`

	// GateKey tags the lifecycle theme this day represents. Descriptive
	// metadata only; it is not enforced as a precondition.
	GateKey string `json:"gate_key"`

	PrimaryTemplate string `json:"primary_template" validate:"required"`

	// AudioRef is an opaque resource identifier passed through to the
	// transport untouched.
	AudioRef string `json:"audio_ref"`

	SecondaryEvents []SecondaryEvent `json:"secondary_events" validate:"dive"`
}

// Sequence is an immutable named campaign definition ordered by day offset.
type Sequence struct {
	ID   string    `json:"id" validate:"required"`
	Name string    `json:"name"`
	Days []DayPlan `json:"days" validate:"min=1,dive"`

	byOffset map[int]*DayPlan
}

// Plan returns the day plan for an exact day offset, or nil when the
// sequence schedules nothing for that day.
func (s *Sequence) Plan(dayOffset int) *DayPlan {
	return s.byOffset[dayOffset]
}

// LastOffset returns the highest day offset in the sequence.
func (s *Sequence) LastOffset() int {
	return s.Days[len(s.Days)-1].DayOffset
}

// Catalog is the read-only sequence store. Loaded once at boot and safe for
// concurrent reads.
type Catalog struct {
	sequences map[string]*Sequence
}

var validate = validator.New()

// Load reads every *.json file in dir as one sequence definition.
func Load(dir string) (*Catalog, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no sequence definitions found in %s", dir)
	}
	sort.Strings(paths)

	c := &Catalog{sequences: make(map[string]*Sequence)}
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		seq, err := Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("sequence %s: %w", filepath.Base(path), err)
		}
		if _, dup := c.sequences[seq.ID]; dup {
			return nil, fmt.Errorf("duplicate sequence id %q in %s", seq.ID, path)
		}
		c.sequences[seq.ID] = seq
	}
	return c, nil
}

// Parse decodes and validates a single sequence definition.
func Parse(raw []byte) (*Sequence, error) {
	var seq Sequence
	if err := json.Unmarshal(raw, &seq); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validate.Struct(&seq); err != nil {
		return nil, err
	}

	seq.byOffset = make(map[int]*DayPlan, len(seq.Days))
	prev := -1
	for i := range seq.Days {
		day := &seq.Days[i]
		if day.DayOffset <= prev {
			return nil, fmt.Errorf("day offsets must be strictly increasing, got %d after %d", day.DayOffset, prev)
		}
		prev = day.DayOffset

		for j := range day.SecondaryEvents {
			ev := &day.SecondaryEvents[j]
			if ev.MinHour > ev.MaxHour {
				return nil, fmt.Errorf("day %d event %d: min_hour %d > max_hour %d",
					day.DayOffset, j, ev.MinHour, ev.MaxHour)
			}
			if ev.Channel == "" {
				ev.Channel = ChannelFeed
			}
		}
		seq.byOffset[day.DayOffset] = day
	}
	return &seq, nil
}

// New builds a catalog from already-parsed sequences.
func New(seqs ...*Sequence) (*Catalog, error) {
	c := &Catalog{sequences: make(map[string]*Sequence, len(seqs))}
	for _, seq := range seqs {
		if _, dup := c.sequences[seq.ID]; dup {
			return nil, fmt.Errorf("duplicate sequence id %q", seq.ID)
		}
		c.sequences[seq.ID] = seq
	}
	return c, nil
}

// Get returns the sequence for an id.
func (c *Catalog) Get(id string) (*Sequence, error) {
	seq, ok := c.sequences[id]
	if !ok {
		return nil, fmt.Errorf("unknown sequence %q", id)
	}
	return seq, nil
}

// IDs lists the loaded sequence ids, sorted.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.sequences))
	for id := range c.sequences {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
