package assets

import (
	"errors"
	"testing"
)

func TestVersionGate(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		runtime string
		allow   bool
	}{
		{"equal", "5.2.1", "5.2.1", true},
		{"older patch", "5.2.0", "5.2.1", true},
		{"older minor", "5.1.9", "5.2.1", true},
		{"newer patch", "5.2.2", "5.2.1", false},
		{"newer minor", "5.3.0", "5.2.1", false},
		{"newer major", "99.0.0", "5.2.1", false},
		{"older major", "4.9.9", "5.2.1", false},
		{"dev runtime skips", "99.0.0", "5.2.1-alpha", true},
		{"zero runtime skips", "99.0.0", "0.0.0", true},
		{"garbage version", "not.a.version", "5.2.1", false},
	}
	for _, tt := range tests {
		err := validateVersion(tt.file, tt.runtime)
		if tt.allow && err != nil {
			t.Errorf("%s: unexpected rejection: %v", tt.name, err)
		}
		if !tt.allow {
			if err == nil {
				t.Errorf("%s: should have been rejected", tt.name)
			} else if !errors.Is(err, ErrVersionMismatch) {
				t.Errorf("%s: error %v is not a version mismatch", tt.name, err)
			}
		}
	}
}
