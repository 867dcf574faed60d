package util

import "strings"

// SplitCommaSeparated splits a comma-separated string and trims whitespace from each element.
// Empty input returns nil.
func SplitCommaSeparated(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// SplitKey splits a composite store key on its first separator.
// "Ethernet8|fc00::1/126" -> ("Ethernet8", "fc00::1/126", true)
func SplitKey(key, sep string) (string, string, bool) {
	i := strings.Index(key, sep)
	if i < 0 {
		return key, "", false
	}
	return key[:i], key[i+len(sep):], true
}
