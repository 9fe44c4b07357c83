package reportapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// HostReport pairs a Report definition with its bound runner.
type HostReport struct {
	rpt     Report
	runtime Runner
}

// NewHostReport validates the report structure and returns an unbound host.
// Callers must Bind before Run.
func NewHostReport(rpt Report) (HostReport, error) {
	if err := validateReport(rpt); err != nil {
		return HostReport{}, err
	}
	return HostReport{rpt: cloneReport(rpt)}, nil
}

// Report returns a copy of the underlying definition.
func (h HostReport) Report() Report { return cloneReport(h.rpt) }

// Descriptor snapshots the report metadata together with its slug.
func (h HostReport) Descriptor() Descriptor {
	header := h.rpt.Header
	if header == "" {
		header = HeaderMGI
	}
	return Descriptor{
		Key:           h.rpt.Key,
		Version:       h.rpt.Version,
		Title:         h.rpt.Title,
		Description:   h.rpt.Description,
		Filename:      h.rpt.Filename,
		Header:        header,
		ColumnHeader:  h.rpt.ColumnHeader,
		Parameters:    cloneParameters(h.rpt.Parameters),
		Columns:       cloneColumns(h.rpt.Columns),
		Metadata:      cloneMetadata(h.rpt.Metadata),
		OutputFormats: cloneFormats(h.rpt.OutputFormats),
		Slug:          SlugFor(h.rpt.Key, h.rpt.Version),
	}
}

// Slug returns key@version.
func (h HostReport) Slug() string { return SlugFor(h.rpt.Key, h.rpt.Version) }

// Bound reports whether a runner is attached.
func (h HostReport) Bound() bool { return h.runtime != nil }

// SupportsFormat reports whether the report declares the format.
func (h HostReport) SupportsFormat(format Format) bool {
	for _, candidate := range h.rpt.OutputFormats {
		if candidate == format {
			return true
		}
	}
	return false
}

// ValidateParameters returns normalized values plus any validation errors.
func (h HostReport) ValidateParameters(params map[string]any) (map[string]any, []ParameterError) {
	return validateParameters(h.rpt.Parameters, params)
}

// Bind attaches a runner produced by the report's binder.
func (h *HostReport) Bind(env Environment) error {
	if h == nil {
		return errors.New("reportapi: host report nil")
	}
	if h.rpt.Binder == nil {
		return errors.New("reportapi: report binder missing")
	}
	runner, err := h.rpt.Binder(env)
	if err != nil {
		return fmt.Errorf("reportapi: bind %s: %w", h.Slug(), err)
	}
	if runner == nil {
		return errors.New("reportapi: report binder returned nil runner")
	}
	h.runtime = runner
	return nil
}

// Run validates parameters and executes the bound runner on the session.
func (h HostReport) Run(ctx context.Context, session Session, params map[string]any, format Format) (RunResult, []ParameterError, error) {
	if h.runtime == nil {
		return RunResult{}, nil, errors.New("reportapi: report not bound")
	}
	cleaned, errs := validateParameters(h.rpt.Parameters, params)
	if len(errs) > 0 {
		return RunResult{}, errs, nil
	}
	result, err := h.runtime(ctx, RunRequest{
		Report:     h.Descriptor(),
		Parameters: cleaned,
		Session:    session,
	})
	if err != nil {
		return RunResult{}, nil, err
	}
	if len(result.Schema) == 0 {
		result.Schema = cloneColumns(h.rpt.Columns)
	}
	result.GeneratedAt = result.GeneratedAt.UTC()
	result.Format = format
	return result, nil, nil
}

// SortDescriptors orders descriptors by key then version.
func SortDescriptors(descriptors []Descriptor) {
	sort.Slice(descriptors, func(i, j int) bool {
		if descriptors[i].Key == descriptors[j].Key {
			return descriptors[i].Version < descriptors[j].Version
		}
		return descriptors[i].Key < descriptors[j].Key
	})
}

// SlugFor builds the canonical report identifier.
func SlugFor(key, version string) string {
	return fmt.Sprintf("%s@%s", strings.TrimSpace(key), strings.TrimSpace(version))
}

func validateReport(rpt Report) error {
	if strings.TrimSpace(rpt.Key) == "" {
		return errors.New("reportapi: report key required")
	}
	if strings.TrimSpace(rpt.Version) == "" {
		return errors.New("reportapi: report version required")
	}
	if strings.TrimSpace(rpt.Title) == "" {
		return errors.New("reportapi: report title required")
	}
	if strings.TrimSpace(rpt.Filename) == "" {
		return errors.New("reportapi: report filename required")
	}
	if strings.ContainsAny(rpt.Filename, "/\\") {
		return fmt.Errorf("reportapi: report filename %q must not contain path separators", rpt.Filename)
	}
	if len(rpt.Columns) == 0 {
		return errors.New("reportapi: report requires at least one column")
	}
	seen := make(map[string]struct{}, len(rpt.Columns))
	for _, col := range rpt.Columns {
		if strings.TrimSpace(col.Name) == "" {
			return errors.New("reportapi: column name required")
		}
		if _, dup := seen[col.Name]; dup {
			return fmt.Errorf("reportapi: duplicate column %q", col.Name)
		}
		seen[col.Name] = struct{}{}
	}
	if len(rpt.OutputFormats) == 0 {
		return errors.New("reportapi: report must declare output formats")
	}
	for _, f := range rpt.OutputFormats {
		if parsed, ok := ParseFormat(string(f)); !ok || parsed != f {
			return fmt.Errorf("reportapi: unsupported output format %q", f)
		}
	}
	switch rpt.Header {
	case "", HeaderNone, HeaderMGI, HeaderGAF, HeaderGFF:
	default:
		return fmt.Errorf("reportapi: unsupported header style %q", rpt.Header)
	}
	if rpt.Binder == nil {
		return errors.New("reportapi: report binder required")
	}
	return nil
}

func validateParameters(definitions []Parameter, supplied map[string]any) (map[string]any, []ParameterError) {
	cleaned := make(map[string]any)
	var errs []ParameterError
	provided := make(map[string]struct{}, len(supplied))
	for k := range supplied {
		provided[strings.ToLower(k)] = struct{}{}
	}
	for _, param := range definitions {
		key := strings.ToLower(param.Name)
		val, ok := findParamValue(param.Name, supplied)
		if !ok {
			if param.Required {
				errs = append(errs, ParameterError{Name: param.Name, Message: "required parameter missing"})
				continue
			}
			if len(param.Default) > 0 {
				coerced, err := coerceDefaultParameter(param)
				if err != nil {
					errs = append(errs, ParameterError{Name: param.Name, Message: err.Error()})
					continue
				}
				cleaned[param.Name] = coerced
			}
			continue
		}
		delete(provided, key)
		coerced, err := coerceParameter(param, val)
		if err != nil {
			errs = append(errs, ParameterError{Name: param.Name, Message: err.Error()})
			continue
		}
		cleaned[param.Name] = coerced
	}
	for leftover := range provided {
		errs = append(errs, ParameterError{Name: leftover, Message: "parameter not declared"})
	}
	if len(errs) > 0 {
		sort.Slice(errs, func(i, j int) bool { return errs[i].Name < errs[j].Name })
	}
	return cleaned, errs
}

func coerceDefaultParameter(param Parameter) (any, error) {
	var raw any
	if err := json.Unmarshal(param.Default, &raw); err != nil {
		return nil, fmt.Errorf("parameter %s default is invalid JSON: %w", param.Name, err)
	}
	return coerceParameter(param, raw)
}

func findParamValue(name string, supplied map[string]any) (any, bool) {
	if supplied == nil {
		return nil, false
	}
	if val, ok := supplied[name]; ok {
		return val, true
	}
	lower := strings.ToLower(name)
	for k, v := range supplied {
		if strings.ToLower(k) == lower {
			return v, true
		}
	}
	return nil, false
}

func coerceParameter(param Parameter, raw any) (any, error) {
	if raw == nil {
		return nil, fmt.Errorf("parameter %s cannot be null", param.Name)
	}
	switch param.Type {
	case "string":
		var val string
		switch v := raw.(type) {
		case string:
			val = v
		case fmt.Stringer:
			val = v.String()
		default:
			return nil, fmt.Errorf("parameter %s expects string", param.Name)
		}
		if len(param.Enum) > 0 && !containsString(param.Enum, val) {
			return nil, enumError(param.Enum)
		}
		return val, nil
	case "integer":
		switch v := raw.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v != float64(int(v)) {
				return nil, fmt.Errorf("parameter %s expects integer", param.Name)
			}
			return int(v), nil
		case string:
			parsed, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("parameter %s expects integer", param.Name)
			}
			return parsed, nil
		default:
			return nil, fmt.Errorf("parameter %s expects integer", param.Name)
		}
	case "number":
		switch v := raw.(type) {
		case float32:
			return float64(v), nil
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("parameter %s expects number", param.Name)
			}
			return parsed, nil
		default:
			return nil, fmt.Errorf("parameter %s expects number", param.Name)
		}
	case "boolean":
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("parameter %s expects boolean", param.Name)
			}
			return parsed, nil
		default:
			return nil, fmt.Errorf("parameter %s expects boolean", param.Name)
		}
	case "timestamp":
		switch v := raw.(type) {
		case time.Time:
			return v.UTC(), nil
		case string:
			parsed, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return nil, fmt.Errorf("parameter %s expects RFC3339 timestamp", param.Name)
			}
			return parsed.UTC(), nil
		default:
			return nil, fmt.Errorf("parameter %s expects timestamp", param.Name)
		}
	default:
		return nil, fmt.Errorf("unsupported parameter type %q", param.Type)
	}
}

func containsString(list []string, target string) bool {
	for _, candidate := range list {
		if candidate == target {
			return true
		}
	}
	return false
}

func enumError(options []string) error {
	return fmt.Errorf("value must be one of: %s", strings.Join(options, ", "))
}

func cloneReport(r Report) Report {
	cloned := r
	cloned.Parameters = cloneParameters(r.Parameters)
	cloned.Columns = cloneColumns(r.Columns)
	cloned.Metadata = cloneMetadata(r.Metadata)
	cloned.OutputFormats = cloneFormats(r.OutputFormats)
	return cloned
}

func cloneParameters(params []Parameter) []Parameter {
	if len(params) == 0 {
		return nil
	}
	cloned := make([]Parameter, len(params))
	copy(cloned, params)
	for i := range cloned {
		if len(cloned[i].Example) > 0 {
			cloned[i].Example = append(json.RawMessage(nil), cloned[i].Example...)
		}
		if len(cloned[i].Default) > 0 {
			cloned[i].Default = append(json.RawMessage(nil), cloned[i].Default...)
		}
		if len(cloned[i].Enum) > 0 {
			cloned[i].Enum = append([]string(nil), cloned[i].Enum...)
		}
	}
	return cloned
}

func cloneColumns(columns []Column) []Column {
	if len(columns) == 0 {
		return nil
	}
	cloned := make([]Column, len(columns))
	copy(cloned, columns)
	return cloned
}

func cloneFormats(formats []Format) []Format {
	if len(formats) == 0 {
		return nil
	}
	cloned := make([]Format, len(formats))
	copy(cloned, formats)
	return cloned
}

func cloneMetadata(metadata Metadata) Metadata {
	cloned := metadata
	if len(metadata.Tags) > 0 {
		cloned.Tags = append([]string(nil), metadata.Tags...)
	}
	if len(metadata.Annotations) > 0 {
		cloned.Annotations = make(map[string]string, len(metadata.Annotations))
		for k, v := range metadata.Annotations {
			cloned.Annotations[k] = v
		}
	}
	return cloned
}
