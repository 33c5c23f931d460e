package authz

import "testing"

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name      string
		principal string
		owner     string
		want      bool
	}{
		{"owner", "p1", "p1", true},
		{"other principal", "p2", "p1", false},
		{"empty principal", "", "p1", false},
		{"empty owner", "p1", "", false},
		{"both empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Authorize(tt.principal, tt.owner); got != tt.want {
				t.Errorf("Authorize(%q, %q) = %v, want %v", tt.principal, tt.owner, got, tt.want)
			}
		})
	}
}
