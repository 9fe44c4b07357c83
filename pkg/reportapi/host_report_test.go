package reportapi

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func sampleReport() Report {
	return Report{
		Key:          "mrk_sample",
		Version:      "1.0.0",
		Title:        "Sample markers",
		Filename:     "MRK_Sample.rpt",
		ColumnHeader: true,
		Parameters: []Parameter{
			{Name: "status", Type: "string", Enum: []string{"official", "withdrawn"}, Default: json.RawMessage(`"official"`)},
			{Name: "limit", Type: "integer"},
		},
		Columns:       []Column{{Name: "MGI Accession ID", Type: "string"}, {Name: "Marker Symbol", Type: "string"}},
		OutputFormats: []Format{FormatTab, FormatJSON},
		Binder: func(Environment) (Runner, error) {
			return func(_ context.Context, req RunRequest) (RunResult, error) {
				return RunResult{
					Rows:        []map[string]any{{"MGI Accession ID": "MGI:1", "Marker Symbol": req.Parameters["status"]}},
					GeneratedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("EST", -5*3600)),
				}, nil
			}, nil
		},
	}
}

func TestNewHostReportValidatesStructure(t *testing.T) {
	cases := map[string]func(*Report){
		"key":       func(r *Report) { r.Key = " " },
		"version":   func(r *Report) { r.Version = "" },
		"title":     func(r *Report) { r.Title = "" },
		"filename":  func(r *Report) { r.Filename = "" },
		"separator": func(r *Report) { r.Filename = "../MRK.rpt" },
		"columns":   func(r *Report) { r.Columns = nil },
		"dupcol":    func(r *Report) { r.Columns = append(r.Columns, Column{Name: "Marker Symbol"}) },
		"formats":   func(r *Report) { r.OutputFormats = nil },
		"badformat": func(r *Report) { r.OutputFormats = []Format{"pdf"} },
		"header":    func(r *Report) { r.Header = "fancy" },
		"binder":    func(r *Report) { r.Binder = nil },
	}
	for name, mutate := range cases {
		rpt := sampleReport()
		mutate(&rpt)
		if _, err := NewHostReport(rpt); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestHostReportDescriptorDefaults(t *testing.T) {
	host, err := NewHostReport(sampleReport())
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	desc := host.Descriptor()
	if desc.Slug != "mrk_sample@1.0.0" {
		t.Fatalf("unexpected slug %q", desc.Slug)
	}
	if desc.Header != HeaderMGI {
		t.Fatalf("expected default mgi header, got %q", desc.Header)
	}
	if desc.PrimaryFormat() != FormatTab {
		t.Fatalf("expected tab primary format, got %q", desc.PrimaryFormat())
	}
	desc.Columns[0].Name = "mutated"
	if host.Descriptor().Columns[0].Name != "MGI Accession ID" {
		t.Fatalf("descriptor must not alias host columns")
	}
}

func TestHostReportRunRequiresBinding(t *testing.T) {
	host, err := NewHostReport(sampleReport())
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	if _, _, err := host.Run(context.Background(), nil, nil, FormatTab); err == nil {
		t.Fatalf("expected unbound error")
	}
	if err := host.Bind(Environment{}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	result, perrs, err := host.Run(context.Background(), nil, nil, FormatTab)
	if err != nil || len(perrs) > 0 {
		t.Fatalf("run: %v %v", err, perrs)
	}
	if result.Rows[0]["Marker Symbol"] != "official" {
		t.Fatalf("expected default parameter applied, got %v", result.Rows[0])
	}
	if len(result.Schema) != 2 {
		t.Fatalf("expected schema filled from columns")
	}
	if result.GeneratedAt.Location() != time.UTC || result.Format != FormatTab {
		t.Fatalf("expected UTC timestamp and tab format, got %v %v", result.GeneratedAt, result.Format)
	}
}

func TestHostReportBindErrors(t *testing.T) {
	rpt := sampleReport()
	rpt.Binder = func(Environment) (Runner, error) { return nil, errors.New("boom") }
	host, err := NewHostReport(rpt)
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	if err := host.Bind(Environment{}); err == nil {
		t.Fatalf("expected binder error")
	}
	rpt.Binder = func(Environment) (Runner, error) { return nil, nil }
	host, _ = NewHostReport(rpt)
	if err := host.Bind(Environment{}); err == nil {
		t.Fatalf("expected nil runner error")
	}
}

func TestValidateParameters(t *testing.T) {
	host, _ := NewHostReport(sampleReport())
	cleaned, errs := host.ValidateParameters(map[string]any{"STATUS": "withdrawn", "limit": "10"})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors %v", errs)
	}
	if cleaned["status"] != "withdrawn" || cleaned["limit"] != 10 {
		t.Fatalf("unexpected cleaned %v", cleaned)
	}

	_, errs = host.ValidateParameters(map[string]any{"status": "reserved", "limit": 1.5, "extra": true})
	if len(errs) != 3 {
		t.Fatalf("expected three errors, got %v", errs)
	}
	if errs[0].Name != "extra" || errs[1].Name != "limit" || errs[2].Name != "status" {
		t.Fatalf("expected errors sorted by name, got %v", errs)
	}
}

func TestCoerceParameterTypes(t *testing.T) {
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		param Parameter
		in    any
		want  any
		fail  bool
	}{
		{Parameter{Name: "n", Type: "number"}, "2.5", 2.5, false},
		{Parameter{Name: "n", Type: "number"}, 3, 3.0, false},
		{Parameter{Name: "b", Type: "boolean"}, "true", true, false},
		{Parameter{Name: "b", Type: "boolean"}, 1, nil, true},
		{Parameter{Name: "t", Type: "timestamp"}, "2024-05-01T00:00:00Z", ts, false},
		{Parameter{Name: "t", Type: "timestamp"}, "yesterday", nil, true},
		{Parameter{Name: "x", Type: "blob"}, "x", nil, true},
		{Parameter{Name: "s", Type: "string"}, nil, nil, true},
	}
	for _, tc := range cases {
		got, err := coerceParameter(tc.param, tc.in)
		if tc.fail {
			if err == nil {
				t.Fatalf("%s(%v): expected error", tc.param.Type, tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s(%v): %v", tc.param.Type, tc.in, err)
		}
		if want, isTime := tc.want.(time.Time); isTime {
			if gotTime, ok := got.(time.Time); !ok || !gotTime.Equal(want) {
				t.Fatalf("%s(%v): got %v want %v", tc.param.Type, tc.in, got, want)
			}
			continue
		}
		if got != tc.want {
			t.Fatalf("%s(%v): got %v want %v", tc.param.Type, tc.in, got, tc.want)
		}
	}
}

func TestParseFormatAliases(t *testing.T) {
	for in, want := range map[string]Format{"rpt": FormatTab, "tsv": FormatTab, "md": FormatMarkdown, "xlsx": FormatXLSX} {
		got, ok := ParseFormat(in)
		if !ok || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := ParseFormat("pdf"); ok {
		t.Fatalf("pdf must not parse")
	}
}
