package util

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ExpandRange parses a priority or queue list such as "3,4" or "0-2,6"
// into sorted, distinct values. Every value must lie within [lo, hi].
func ExpandRange(spec string, lo, hi int) ([]int, error) {
	seen := make(map[int]bool)
	for _, part := range SplitCommaSeparated(spec) {
		first, last, isRange := strings.Cut(part, "-")
		from, err := strconv.Atoi(strings.TrimSpace(first))
		if err != nil {
			return nil, fmt.Errorf("bad value %q in %q", part, spec)
		}
		to := from
		if isRange {
			if to, err = strconv.Atoi(strings.TrimSpace(last)); err != nil {
				return nil, fmt.Errorf("bad value %q in %q", part, spec)
			}
			if from > to {
				return nil, fmt.Errorf("descending range %q in %q", part, spec)
			}
		}
		if from < lo || to > hi {
			return nil, fmt.Errorf("%q outside %d-%d", part, lo, hi)
		}
		for v := from; v <= to; v++ {
			seen[v] = true
		}
	}
	if len(seen) == 0 {
		return nil, nil
	}
	out := make([]int, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Ints(out)
	return out, nil
}

// CompactRange is the inverse of ExpandRange: [0 1 2 6] -> "0-2,6".
func CompactRange(values []int) string {
	if len(values) == 0 {
		return ""
	}
	vs := append([]int(nil), values...)
	sort.Ints(vs)

	var b strings.Builder
	for i := 0; i < len(vs); {
		j := i
		for j+1 < len(vs) && vs[j+1] <= vs[j]+1 {
			j++
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(vs[i]))
		if vs[j] != vs[i] {
			fmt.Fprintf(&b, "-%d", vs[j])
		}
		i = j + 1
	}
	return b.String()
}

// BitmapFromRange turns a PFC priority list ("3,4") into its bitmap (24).
func BitmapFromRange(spec string) (uint8, error) {
	prios, err := ExpandRange(spec, 0, 7)
	if err != nil {
		return 0, err
	}
	var bits uint8
	for _, p := range prios {
		bits |= 1 << uint(p)
	}
	return bits, nil
}
