package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTableTo(&buf, "DOMAIN", "QUEUED", "DEFERRED")
	tbl.Row("route", "0", "2")
	tbl.Row("neigh", "12", "0")
	tbl.Flush()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	want := []string{
		"DOMAIN  QUEUED  DEFERRED",
		"------  ------  --------",
		"route   0       2",
		"neigh   12      0",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	for i := range want {
		if strings.TrimRight(lines[i], " ") != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestTable_EmptyPrintsNothing(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTableTo(&buf, "TYPE", "OID")
	tbl.Flush()
	if buf.Len() != 0 {
		t.Errorf("empty table wrote %q", buf.String())
	}
}

func TestTable_Prefix(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTableTo(&buf, "ATTR", "VALUE").WithPrefix("  ")
	tbl.Row("SAI_PORT_ATTR_MTU", "9122")
	tbl.Flush()
	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		if !strings.HasPrefix(line, "  ") {
			t.Errorf("line %q lacks prefix", line)
		}
	}
}

func TestTable_MaxCellAndCount(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTableTo(&buf, "KEY", "FIELD", "VALUE").WithMaxCell(12).WithCount("%d entries")
	tbl.Row("Ethernet0", "lanes", "0,1,2,3,4,5,6,7")
	tbl.Row("", "mtu", "9100")
	tbl.Row("Ethernet4", "mtu", "9100")
	if tbl.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", tbl.Len())
	}
	tbl.Flush()

	out := buf.String()
	if !strings.Contains(out, "0,1,2,3,4...") {
		t.Errorf("long cell not truncated:\n%s", out)
	}
	if !strings.HasSuffix(strings.TrimRight(out, "\n"), "2 entries") {
		t.Errorf("count line missing:\n%s", out)
	}
	if tbl.Len() != 0 {
		t.Error("Flush should reset the buffered rows")
	}
}
