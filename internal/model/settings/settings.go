package settings

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultTherapistName is used whenever no name is configured.
const DefaultTherapistName = "Abby"

const maxNameRunes = 50

// Settings is the per-owner configuration record gating first-run behaviour.
type Settings struct {
	TherapistName          string `json:"therapistName"`
	TTSEnabled             bool   `json:"ttsEnabled"`
	HasSeenTTSPrompt       bool   `json:"hasSeenTTSPrompt"`
	HasCompletedOnboarding bool   `json:"hasCompletedOnboarding"`
	VoiceName              string `json:"voiceName,omitempty"`
}

// Default returns the settings of a brand new owner.
func Default() Settings {
	return Settings{TherapistName: DefaultTherapistName}
}

// NormalizeName trims and caps a therapist name, falling back to the default.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultTherapistName
	}
	if utf8.RuneCountInString(name) > maxNameRunes {
		name = strings.TrimSpace(string([]rune(name)[:maxNameRunes]))
	}
	return name
}

// Normalize returns s with a usable therapist name.
func (s Settings) Normalize() Settings {
	s.TherapistName = NormalizeName(s.TherapistName)
	s.VoiceName = strings.TrimSpace(s.VoiceName)
	return s
}

// Decode merges a stored blob over the defaults. A malformed blob yields the
// defaults together with the decode error.
func Decode(data []byte) (Settings, error) {
	out := Default()
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return Default(), fmt.Errorf("decode settings: %w", err)
	}
	return out.Normalize(), nil
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	TherapistName          *string `json:"therapistName,omitempty"`
	TTSEnabled             *bool   `json:"ttsEnabled,omitempty"`
	HasSeenTTSPrompt       *bool   `json:"hasSeenTTSPrompt,omitempty"`
	HasCompletedOnboarding *bool   `json:"hasCompletedOnboarding,omitempty"`
	VoiceName              *string `json:"voiceName,omitempty"`
}

// Apply returns s with the patch applied.
func (p Patch) Apply(s Settings) Settings {
	if p.TherapistName != nil {
		s.TherapistName = *p.TherapistName
	}
	if p.TTSEnabled != nil {
		s.TTSEnabled = *p.TTSEnabled
	}
	if p.HasSeenTTSPrompt != nil {
		s.HasSeenTTSPrompt = *p.HasSeenTTSPrompt
	}
	if p.HasCompletedOnboarding != nil {
		s.HasCompletedOnboarding = *p.HasCompletedOnboarding
	}
	if p.VoiceName != nil {
		s.VoiceName = *p.VoiceName
	}
	return s.Normalize()
}
