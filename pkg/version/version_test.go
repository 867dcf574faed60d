package version

import "testing"

func TestString(t *testing.T) {
	defer func(v, c, d string) { Version, GitCommit, BuildDate = v, c, d }(Version, GitCommit, BuildDate)

	tests := []struct {
		version, commit, date string
		want                  string
	}{
		{"dev", "unknown", "unknown", "dev build"},
		{"v0.3.0", "abc1234", "unknown", "v0.3.0 (abc1234)"},
		{"v0.3.0", "abc1234", "2026-10-01", "v0.3.0 (abc1234, built 2026-10-01)"},
	}
	for _, tt := range tests {
		Version, GitCommit, BuildDate = tt.version, tt.commit, tt.date
		if got := String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestLabels(t *testing.T) {
	l := Labels()
	if l["version"] != Version || l["commit"] != GitCommit {
		t.Errorf("Labels() = %v", l)
	}
}
