package user

import "testing"

func TestFirstName(t *testing.T) {
	if got := (User{DisplayName: StringPtr("Ada Lovelace")}).FirstName(); got != "Ada" {
		t.Fatalf("expected Ada, got %q", got)
	}
	if got := (User{}).FirstName(); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
