package store

import "testing"

func TestSeparator(t *testing.T) {
	tests := []struct {
		db   DB
		want string
	}{
		{ApplDB, ":"},
		{AsicDB, ":"},
		{CountersDB, ":"},
		{ConfigDB, "|"},
		{FlexCounterDB, ":"},
		{StateDB, "|"},
	}
	for _, tt := range tests {
		if got := tt.db.Separator(); got != tt.want {
			t.Errorf("%s.Separator() = %q, want %q", tt.db, got, tt.want)
		}
	}
}

func TestRedisKey(t *testing.T) {
	tests := []struct {
		db         DB
		table, key string
		want       string
	}{
		{ConfigDB, "INTERFACE", "Ethernet8|fc00::1/126", "INTERFACE|Ethernet8|fc00::1/126"},
		{ApplDB, "INTF_TABLE", "Ethernet8:fc00::1/126", "INTF_TABLE:Ethernet8:fc00::1/126"},
		{CountersDB, "COUNTERS_QUEUE_NAME_MAP", "", "COUNTERS_QUEUE_NAME_MAP"},
	}
	for _, tt := range tests {
		got := RedisKey(tt.db, tt.table, tt.key)
		if got != tt.want {
			t.Errorf("RedisKey() = %q, want %q", got, tt.want)
		}
		table, key := SplitRedisKey(tt.db, got)
		if table != tt.table || key != tt.key {
			t.Errorf("SplitRedisKey(%q) = %q, %q", got, table, key)
		}
	}
}

func TestParseDB(t *testing.T) {
	tests := []struct {
		in      string
		want    DB
		wantErr bool
	}{
		{in: "CONFIG_DB", want: ConfigDB},
		{in: "config", want: ConfigDB},
		{in: "appl", want: ApplDB},
		{in: "APP_DB", want: ApplDB},
		{in: "6", want: StateDB},
		{in: "flex_counter", want: FlexCounterDB},
		{in: "nope", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDB(tt.in)
		if (err != nil) != tt.wantErr || (!tt.wantErr && got != tt.want) {
			t.Errorf("ParseDB(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestFieldsStripsNull(t *testing.T) {
	if !IsNullEntry(map[string]string{"NULL": "NULL"}) {
		t.Error("IsNullEntry should match the sentinel")
	}
	got := Fields(map[string]string{"NULL": "NULL", "mtu": "9100"})
	if len(got) != 1 || got["mtu"] != "9100" {
		t.Errorf("Fields() = %v", got)
	}
	if Fields(nil) != nil {
		t.Error("Fields(nil) should stay nil")
	}
}
