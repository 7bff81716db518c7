package secret

import (
	"strings"
	"testing"
)

func TestMask(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"abc", "***"},
		{"abcdef", "a****f"},
		{"AIzaSyD-0123456789abcdef", "AIz" + strings.Repeat("*", 20) + "f"},
	}
	for _, tt := range tests {
		if got := Mask(tt.in); got != tt.want {
			t.Errorf("Mask(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestPresent(t *testing.T) {
	if Present("") || Present("   ") {
		t.Fatalf("blank key reported present")
	}
	if Present("your_api_key_here") {
		t.Fatalf("placeholder key reported present")
	}
	if !Present("AIzaSyD") {
		t.Fatalf("real key reported absent")
	}
}
