package version

import "testing"

func TestCanonical(t *testing.T) {
	tests := []struct {
		tag  string
		want string
	}{
		{"v1.2.3", "1.2.3"},
		{"@scope/pkg@2.0.0-rc.1+b5", "2.0.0-rc.1+b5"},
		{"v2.1", "2.1.0"},
		{"not-a-version", ""},
	}
	for _, tt := range tests {
		if got := Parse(tt.tag).Canonical(); got != tt.want {
			t.Errorf("Parse(%q).Canonical() = %q, want %q", tt.tag, got, tt.want)
		}
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"v1.0.0", "v2.0.0", -1},
		{"v2.0.0", "v1.9.9", 1},
		{"v1.0.0", "1.0.0", 0},
		{"v1.0.0-rc.1", "v1.0.0", -1},
		{"v1.0.0-rc.2", "v1.0.0-rc.1", 1},
		{"pkg@1.2.0", "v1.1.9", 1},
		{"latest", "v0.0.1", -1},
		{"v0.0.1", "latest", 1},
		{"alpha", "beta", -1},
	}
	for _, tt := range tests {
		if got := Compare(tt.a, tt.b); got != tt.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
