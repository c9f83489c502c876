package persona

import (
	"fmt"

	"github.com/zhouzirui/abby/backend/internal/model/settings"
	"github.com/zhouzirui/abby/backend/internal/model/user"
)

// Persona captures the therapist the client is talking to.
type Persona struct {
	Name       string `json:"name"`
	ClientName string `json:"clientName,omitempty"`
	VoiceName  string `json:"voiceName,omitempty"`
}

// FromSettings builds the persona for an owner; u may be nil for anonymous owners.
func FromSettings(s settings.Settings, u *user.User) Persona {
	p := Persona{
		Name:      settings.NormalizeName(s.TherapistName),
		VoiceName: s.VoiceName,
	}
	if u != nil {
		p.ClientName = u.FirstName()
	}
	return p
}

// Greeting is the opening line shown on a fresh chat.
func (p Persona) Greeting() string {
	return Greeting(p.Name)
}

// Greeting formats the opening line for a therapist name.
func Greeting(name string) string {
	return fmt.Sprintf("Hi from your therapist, %s. I'm here to listen and support you. How are you feeling today?", settings.NormalizeName(name))
}
