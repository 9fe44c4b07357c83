package reportapi

import (
	"testing"
	"time"
)

func TestRowAccessors(t *testing.T) {
	row := Row{
		"_marker_key": int64(10),
		"symbol":      []byte("Kit"),
		"cmoffset":    "36.7",
		"startcoord":  float64(75436485),
		"missing":     nil,
		"created":     "2023-04-05 06:07:08",
	}
	if row.Int("_Marker_key") != 10 {
		t.Fatalf("expected case-insensitive int lookup")
	}
	if row.String("symbol") != "Kit" {
		t.Fatalf("expected bytes rendered as string")
	}
	if f, ok := row.Float("cmOffset"); !ok || f != 36.7 {
		t.Fatalf("expected numeric string parsed, got %v %v", f, ok)
	}
	if row.String("startcoord") != "75436485" {
		t.Fatalf("expected integral float rendered without decimals, got %q", row.String("startcoord"))
	}
	if !row.IsNull("missing") || !row.IsNull("absent") || row.String("missing") != "" {
		t.Fatalf("expected NULL handling")
	}
	ts, ok := row.Time("created")
	if !ok || !ts.Equal(time.Date(2023, 4, 5, 6, 7, 8, 0, time.UTC)) {
		t.Fatalf("unexpected time %v %v", ts, ok)
	}
	if row.Int("symbol") != 0 {
		t.Fatalf("non-numeric int must be zero")
	}
}
