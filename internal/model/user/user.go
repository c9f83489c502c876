package user

// User is the signed-in identity produced by the identity provider.
type User struct {
	UID         string  `json:"uid"`
	DisplayName *string `json:"displayName"`
	Email       *string `json:"email"`
	PhotoURL    *string `json:"photoURL"`
}

// FirstName returns the first word of the display name, or "".
func (u User) FirstName() string {
	if u.DisplayName == nil {
		return ""
	}
	name := *u.DisplayName
	for i, r := range name {
		if r == ' ' {
			return name[:i]
		}
	}
	return name
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
