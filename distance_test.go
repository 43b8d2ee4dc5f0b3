package physicalweb

import "testing"

func f(v float64) *float64 { return &v }

func TestDistance(t *testing.T) {
	table := []struct {
		name           string
		rssi, txpower  *float64
		wantOK         bool
	}{
		{"nil rssi", nil, f(-20), false},
		{"nil txpower", f(-60), nil, false},
		{"sentinel 127", f(127), f(-20), false},
		{"sentinel 128", f(128), f(-20), false},
		{"equal rssi and txpower means zero path loss", f(-20), f(-20), true},
		{"typical reading", f(-70), f(-20), true},
	}
	for _, tt := range table {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := Distance(tt.rssi, tt.txpower)
			if ok != tt.wantOK {
				t.Errorf("Distance(%v, %v) ok = %v, want %v", tt.rssi, tt.txpower, ok, tt.wantOK)
			}
		})
	}
}

func TestDistanceFormula(t *testing.T) {
	// path_loss = txpower - rssi = -20 - (-61) = 41, so distance = 10^(0/20) = 1.
	d, ok := Distance(f(-61), f(-20))
	if !ok {
		t.Fatal("expected ok=true")
	}
	if d < 0.99 || d > 1.01 {
		t.Errorf("distance = %v, want ~1.0", d)
	}
}

func TestRankEntries(t *testing.T) {
	entries := []DeviceData{
		{ID: "invalid-1", hasDist: false},
		{ID: "far", distance: 5.0, hasDist: true},
		{ID: "near", distance: 1.0, hasDist: true},
		{ID: "invalid-2", hasDist: false},
		{ID: "mid", distance: 2.5, hasDist: true},
	}
	RankEntries(entries)

	wantOrder := []string{"near", "mid", "far", "invalid-1", "invalid-2"}
	for i, id := range wantOrder {
		if entries[i].ID != id {
			t.Fatalf("position %d: got %q, want %q (order: %v)", i, entries[i].ID, id, ids(entries))
		}
	}
	if entries[0].Rank != 1.0 {
		t.Errorf("near.Rank = %v, want 1.0", entries[0].Rank)
	}
	if entries[3].Rank != RankInvalid || entries[4].Rank != RankInvalid {
		t.Errorf("invalid entries should report rank %d", RankInvalid)
	}
}

func ids(entries []DeviceData) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
