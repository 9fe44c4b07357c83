package reportlib

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"reportsdb/pkg/reportapi"
)

var generated = time.Date(2024, 3, 7, 14, 5, 9, 0, time.UTC)

func inZone(t *testing.T, zone *time.Location) {
	t.Helper()
	prev := Zone
	Zone = zone
	t.Cleanup(func() { Zone = prev })
}

func TestMGIHeaderAndFooter(t *testing.T) {
	inZone(t, time.UTC)
	var buf bytes.Buffer
	if err := Header(&buf, reportapi.HeaderMGI, "Mouse Markers", generated); err != nil {
		t.Fatalf("header: %v", err)
	}
	if err := Footer(&buf, reportapi.HeaderMGI, 3); err != nil {
		t.Fatalf("footer: %v", err)
	}
	want := strings.Join([]string{
		"The Jackson Laboratory - Mouse Genome Informatics - Mouse Genome Database (MGD)",
		"Copyright 1996, 1999, 2002, 2005, 2008 The Jackson Laboratory",
		"All Rights Reserved",
		"Date Generated:  03/07/2024 14:05:09",
		"(http://www.informatics.jax.org)",
		"",
		"Mouse Markers",
		"",
		"",
		"(3 rows affected)",
		"",
	}, "\n")
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Fatalf("mgi boilerplate mismatch (-want +got):\n%s", diff)
	}
}

func TestOtherHeaderStyles(t *testing.T) {
	inZone(t, time.UTC)
	var buf bytes.Buffer
	_ = Header(&buf, reportapi.HeaderGAF, "ignored", generated)
	if buf.String() != "!gaf-version: 2.2\n!generated-by: MGI\n!date-generated: 2024-03-07\n" {
		t.Fatalf("unexpected gaf header %q", buf.String())
	}
	buf.Reset()
	_ = Header(&buf, reportapi.HeaderGFF, "", generated)
	_ = Footer(&buf, reportapi.HeaderGFF, 10)
	if buf.String() != "##gff-version 3\n" {
		t.Fatalf("unexpected gff output %q", buf.String())
	}
	buf.Reset()
	_ = Header(&buf, reportapi.HeaderNone, "x", generated)
	if buf.Len() != 0 {
		t.Fatalf("none style must write nothing")
	}
	if err := Header(&buf, "fancy", "", generated); err == nil {
		t.Fatalf("expected unknown style error")
	}
}

func TestFieldFormatting(t *testing.T) {
	row := reportapi.Row{"cm": -1.0, "na": -999.0, "pos": 18.61, "start": 105499235.0, "text": "3.5", "none": nil}
	checks := []struct{ got, want string }{
		{CM(row, "cm"), "syntenic"},
		{CM(row, "na"), "N/A"},
		{CM(row, "pos"), "18.61"},
		{CM(row, "none"), ""},
		{CM(row, "text"), "3.50"},
		{Coordinate(row, "start"), "105499235"},
		{Coordinate(row, "none"), ""},
		{PrValue(nil), ""},
		{PrValue(int64(7)), "7"},
		{Date(generated, "2006"), "2024"},
	}
	for i, c := range checks {
		if c.got != c.want {
			t.Fatalf("check %d: got %q want %q", i, c.got, c.want)
		}
	}
}

func TestWriterSanitizesFields(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, TAB)
	if err := w.WriteRow("MGI:1", "paired\tbox", "line\r\nbreak"); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = w.WriteLine("# comment")
	_ = w.Flush()
	if buf.String() != "MGI:1\tpaired box\tline break\n# comment\n" {
		t.Fatalf("unexpected output %q", buf.String())
	}
	if w.Rows() != 1 {
		t.Fatalf("expected one counted row, got %d", w.Rows())
	}
}

func TestOutputName(t *testing.T) {
	cases := []struct {
		file     string
		format   reportapi.Format
		primary  reportapi.Format
		compress bool
		want     string
	}{
		{"MRK_List1.rpt", reportapi.FormatTab, reportapi.FormatTab, false, "MRK_List1.rpt"},
		{"MRK_List1.rpt", reportapi.FormatJSON, reportapi.FormatTab, false, "MRK_List1.json"},
		{"gene_association.mgi", reportapi.FormatTab, reportapi.FormatTab, true, "gene_association.mgi.gz"},
		{"MGI.gff3", reportapi.FormatTab, reportapi.FormatGFF, false, "MGI.rpt"},
		{"MGI.gff3", reportapi.FormatParquet, reportapi.FormatGFF, true, "MGI.parquet.gz"},
	}
	for _, tc := range cases {
		if got := OutputName(tc.file, tc.format, tc.primary, tc.compress); got != tc.want {
			t.Fatalf("OutputName(%q, %s) = %q want %q", tc.file, tc.format, got, tc.want)
		}
	}
}

func TestHeaderStampsLocalWallClock(t *testing.T) {
	inZone(t, time.FixedZone("EST", -5*60*60))
	var buf bytes.Buffer
	if err := Header(&buf, reportapi.HeaderMGI, "", generated); err != nil {
		t.Fatalf("header: %v", err)
	}
	if !strings.Contains(buf.String(), "Date Generated:  03/07/2024 09:05:09\n") {
		t.Fatalf("expected local wall clock stamp, got %q", buf.String())
	}

	buf.Reset()
	late := time.Date(2024, 3, 8, 2, 0, 0, 0, time.UTC)
	if err := Header(&buf, reportapi.HeaderGAF, "", late); err != nil {
		t.Fatalf("gaf header: %v", err)
	}
	if !strings.Contains(buf.String(), "!date-generated: 2024-03-07\n") {
		t.Fatalf("expected local calendar date, got %q", buf.String())
	}
}
