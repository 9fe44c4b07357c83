package exports

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"reportsdb/internal/logging"
	"reportsdb/pkg/reportapi"
)

const (
	reportsPath = "/api/v1/reports"
	exportsPath = "/api/v1/exports"
)

// Handler provides HTTP access to reports and exports.
type Handler struct {
	Catalog Catalog
	DB      reportapi.Database
	Exports Scheduler
	Logger  *zap.Logger
}

// NewHandler constructs a report HTTP handler.
func NewHandler(c Catalog, db reportapi.Database, exports Scheduler, logger *zap.Logger) *Handler {
	return &Handler{Catalog: c, DB: db, Exports: exports, Logger: logging.OrNop(logger)}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Catalog == nil {
		writeError(w, http.StatusInternalServerError, "report catalog not configured")
		return
	}
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == reportsPath:
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reports": h.Catalog.Descriptors()})
	case strings.HasPrefix(path, reportsPath+"/"):
		h.handleReport(w, r, strings.TrimPrefix(path, reportsPath+"/"))
	case path == exportsPath || strings.HasPrefix(path, exportsPath+"/"):
		if h.Exports == nil {
			http.NotFound(w, r)
			return
		}
		h.handleExports(w, r, path)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request, remainder string) {
	segments := strings.Split(remainder, "/")
	if len(segments) > 2 || segments[0] == "" {
		writeError(w, http.StatusNotFound, "report endpoint not found")
		return
	}
	host, err := h.Catalog.Lookup(segments[0])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if len(segments) == 1 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"report": host.Descriptor()})
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	switch segments[1] {
	case "validate":
		h.handleValidate(w, r, host)
	case "run":
		h.handleRun(w, r, host)
	default:
		writeError(w, http.StatusNotFound, "report endpoint not found")
	}
}

type parametersRequest struct {
	Parameters map[string]any `json:"parameters"`
}

type validationResponse struct {
	Report     reportapi.Descriptor       `json:"report"`
	Valid      bool                       `json:"valid"`
	Parameters map[string]any             `json:"parameters"`
	Errors     []reportapi.ParameterError `json:"errors,omitempty"`
}

type runResponse struct {
	Report     reportapi.Descriptor `json:"report"`
	Parameters map[string]any       `json:"parameters"`
	Result     reportapi.RunResult  `json:"result"`
}

type exportRequest struct {
	Report      string         `json:"report"`
	Parameters  map[string]any `json:"parameters"`
	Formats     []string       `json:"formats"`
	Compress    bool           `json:"compress"`
	RequestedBy string         `json:"requested_by"`
	Reason      string         `json:"reason"`
}

// decode accepts an empty body as an empty request.
func decode(r *http.Request, into any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(into)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request, host reportapi.HostReport) {
	var req parametersRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid validation request payload")
		return
	}
	cleaned, errs := host.ValidateParameters(req.Parameters)
	writeJSON(w, http.StatusOK, validationResponse{
		Report:     host.Descriptor(),
		Valid:      len(errs) == 0,
		Parameters: cleaned,
		Errors:     errs,
	})
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request, host reportapi.HostReport) {
	var req parametersRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid run request payload")
		return
	}
	cleaned, errs := host.ValidateParameters(req.Parameters)
	if len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, validationResponse{
			Report:     host.Descriptor(),
			Parameters: cleaned,
			Errors:     errs,
		})
		return
	}
	format := negotiateFormat(r, host)
	if format == "" {
		writeError(w, http.StatusNotAcceptable, "requested format not supported")
		return
	}
	if h.DB == nil {
		writeError(w, http.StatusInternalServerError, "report database not configured")
		return
	}
	session, err := h.DB.Session(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	result, paramErrs, err := host.Run(r.Context(), session, cleaned, format)
	if cerr := session.Close(); cerr != nil {
		logging.OrNop(h.Logger).Warn("close session", zap.String("report", host.Slug()), zap.Error(cerr))
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(paramErrs) > 0 {
		writeJSON(w, http.StatusBadRequest, validationResponse{Report: host.Descriptor(), Parameters: cleaned, Errors: paramErrs})
		return
	}
	if format == reportapi.FormatCSV {
		streamCSV(w, host.Descriptor(), result)
		return
	}
	writeJSON(w, http.StatusOK, runResponse{Report: host.Descriptor(), Parameters: cleaned, Result: result})
}

func (h *Handler) handleExports(w http.ResponseWriter, r *http.Request, path string) {
	if path == exportsPath {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleExportCreate(w, r)
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(path, exportsPath+"/")
	record, ok := h.Exports.GetExport(id)
	if !ok {
		writeError(w, http.StatusNotFound, "export not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"export": record})
}

func (h *Handler) handleExportCreate(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid export request payload")
		return
	}
	formats := make([]reportapi.Format, 0, len(req.Formats))
	for _, name := range req.Formats {
		format, ok := reportapi.ParseFormat(strings.ToLower(strings.TrimSpace(name)))
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported export format %q", name))
			return
		}
		formats = append(formats, format)
	}
	record, err := h.Exports.EnqueueExport(r.Context(), ExportInput{
		Report:      req.Report,
		Parameters:  req.Parameters,
		Formats:     formats,
		Compress:    req.Compress,
		RequestedBy: req.RequestedBy,
		Reason:      req.Reason,
	})
	switch {
	case errors.Is(err, ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"export": record})
}

// negotiateFormat picks json or csv from ?format= or the Accept header.
func negotiateFormat(r *http.Request, host reportapi.HostReport) reportapi.Format {
	wanted := strings.ToLower(r.URL.Query().Get("format"))
	if wanted == "" {
		if strings.Contains(r.Header.Get("Accept"), "text/csv") {
			wanted = string(reportapi.FormatCSV)
		} else {
			wanted = string(reportapi.FormatJSON)
		}
	}
	switch format := reportapi.Format(wanted); format {
	case reportapi.FormatCSV, reportapi.FormatJSON:
		if host.SupportsFormat(format) {
			return format
		}
	}
	return ""
}

func streamCSV(w http.ResponseWriter, desc reportapi.Descriptor, result reportapi.RunResult) {
	filename := fmt.Sprintf("%s-%s.csv", desc.Key, result.GeneratedAt.UTC().Format("20060102T150405Z"))
	if result.GeneratedAt.IsZero() {
		filename = fmt.Sprintf("%s-%s.csv", desc.Key, time.Now().UTC().Format("20060102T150405Z"))
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	columns := result.Schema
	if len(columns) == 0 {
		columns = desc.Columns
	}
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write(columnNames(columns)); err != nil {
		return
	}
	for _, row := range result.Rows {
		if err := writer.Write(cells(columns, row)); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
