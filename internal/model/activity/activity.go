package activity

import (
	"errors"
	"fmt"
)

// Kind names an in-chat activity the client can be routed to.
type Kind string

const (
	None      Kind = ""
	Breathing Kind = "breathing"
	Emotions  Kind = "emotions"
)

// Phase is one step of a breathing cycle.
type Phase struct {
	Name       string `json:"name"`
	Prompt     string `json:"prompt"`
	DurationMS int    `json:"durationMs"`
}

// BreathingPattern is a repeating sequence of phases.
type BreathingPattern struct {
	Name   string  `json:"name"`
	Phases []Phase `json:"phases"`
}

// BoxBreathing returns the 4-4-4-4 pattern.
func BoxBreathing() BreathingPattern {
	return BreathingPattern{
		Name: "box",
		Phases: []Phase{
			{Name: "inhale", Prompt: "Breathe in", DurationMS: 4000},
			{Name: "hold", Prompt: "Hold", DurationMS: 4000},
			{Name: "exhale", Prompt: "Breathe out", DurationMS: 4000},
			{Name: "hold2", Prompt: "Hold", DurationMS: 4000},
		},
	}
}

// CycleMS is the length of one full cycle.
func (p BreathingPattern) CycleMS() int {
	total := 0
	for _, ph := range p.Phases {
		total += ph.DurationMS
	}
	return total
}

// EmotionScale is one slider of the emotion check-in.
type EmotionScale struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	MinLabel string `json:"minLabel"`
	MaxLabel string `json:"maxLabel"`
	Value    int    `json:"value"`
}

// DefaultEmotionScales returns the check-in sliders at their midpoint.
func DefaultEmotionScales() []EmotionScale {
	return []EmotionScale{
		{ID: "anxiety", Label: "Anxiety", MinLabel: "Calm", MaxLabel: "Very Anxious", Value: 50},
		{ID: "mood", Label: "Mood", MinLabel: "Low", MaxLabel: "Great", Value: 50},
		{ID: "stress", Label: "Stress", MinLabel: "Relaxed", MaxLabel: "Very Stressed", Value: 50},
		{ID: "energy", Label: "Energy", MinLabel: "Exhausted", MaxLabel: "Energized", Value: 50},
	}
}

// Trend classifies a slider value.
func Trend(value int) string {
	switch {
	case value < 40:
		return "down"
	case value > 60:
		return "up"
	default:
		return "steady"
	}
}

var ErrInvalidCheckIn = errors.New("invalid emotion check-in")

// CheckIn is one recorded set of slider values.
type CheckIn struct {
	ID        string         `json:"id"`
	Values    map[string]int `json:"values"`
	Timestamp int64          `json:"timestamp"`
}

// Validate requires at least one known scale and values within 0..100.
func (c CheckIn) Validate() error {
	if len(c.Values) == 0 {
		return fmt.Errorf("%w: no values", ErrInvalidCheckIn)
	}
	known := make(map[string]struct{})
	for _, s := range DefaultEmotionScales() {
		known[s.ID] = struct{}{}
	}
	for id, v := range c.Values {
		if _, ok := known[id]; !ok {
			return fmt.Errorf("%w: unknown scale %q", ErrInvalidCheckIn, id)
		}
		if v < 0 || v > 100 {
			return fmt.Errorf("%w: %s=%d out of range", ErrInvalidCheckIn, id, v)
		}
	}
	return nil
}
