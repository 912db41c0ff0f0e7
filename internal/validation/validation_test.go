package validation

import (
	"strings"
	"testing"
)

func TestIsValidSubject(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		want    bool
	}{
		{"plain subject", "Order not delivered", true},
		{"empty", "", false},
		{"only spaces", "   ", false},
		{"single rune", "x", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidSubject(tt.subject); got != tt.want {
				t.Fatalf("IsValidSubject(%q) = %v, want %v", tt.subject, got, tt.want)
			}
		})
	}
}

func TestIsValidBody(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"exactly minimum", strings.Repeat("A", MinBodyLength), true},
		{"below minimum", strings.Repeat("A", MinBodyLength-1), false},
		{"padded with spaces", "  short   ", false},
		{"long body", "my package never arrived, please help", true},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidBody(tt.body); got != tt.want {
				t.Fatalf("IsValidBody(%q) = %v, want %v", tt.body, got, tt.want)
			}
		})
	}
}

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		name  string
		email string
		want  bool
	}{
		{"plain", "a@b.com", true},
		{"no at", "a.b.com", false},
		{"double at", "a@@b.com", false},
		{"empty local part", "@b.com", false},
		{"empty domain", "a@", false},
		{"with space", "a b@c.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidEmail(tt.email); got != tt.want {
				t.Fatalf("IsValidEmail(%q) = %v, want %v", tt.email, got, tt.want)
			}
		})
	}
}
