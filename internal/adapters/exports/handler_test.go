package exports

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHandlerListAndDescribe(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.catalog, f.db, nil, nil)

	rec := serve(h, http.MethodGet, "/api/v1/reports/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	reportsList := decodeBody(t, rec)["reports"].([]any)
	assert.Len(t, reportsList, 14)

	rec = serve(h, http.MethodGet, "/api/v1/reports/mrk_list1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeBody(t, rec)["report"].(map[string]any)
	assert.Equal(t, "mrk_list1@1.0.0", report["slug"])
	assert.Equal(t, "MRK_List1.rpt", report["filename"])

	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/api/v1/reports/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/api/v1/reports/mrk_list1/a/b", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(h, http.MethodPost, "/api/v1/reports", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(h, http.MethodDelete, "/api/v1/reports/mrk_list1", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/api/v1/exports/x", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/elsewhere", "").Code)
}

func TestHandlerValidate(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.catalog, f.db, nil, nil)

	rec := serve(h, http.MethodPost, "/api/v1/reports/gene_association/validate", `{"parameters":{"exclude_iea":"true"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, map[string]any{"exclude_iea": true}, body["parameters"])

	rec = serve(h, http.MethodPost, "/api/v1/reports/go_terms/validate", `{"parameters":{"bogus":1}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["valid"])

	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodPost, "/api/v1/reports/go_terms/validate", `{`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(h, http.MethodGet, "/api/v1/reports/go_terms/validate", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodPost, "/api/v1/reports/go_terms/explode", "").Code)
}

func TestHandlerRun(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.catalog, f.db, nil, nil)

	rec := serve(h, http.MethodPost, "/api/v1/reports/go_terms/run", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeBody(t, rec)["result"].(map[string]any)
	rows := result["rows"].([]any)
	require.Len(t, rows, 3)
	assert.Equal(t, "Biological Process", rows[0].(map[string]any)["Aspect"])
	assert.Equal(t, "json", result["format"])

	rec = serve(h, http.MethodPost, "/api/v1/reports/go_terms/run?format=csv", `{"parameters":{"include_obsolete":true}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "go_terms-20260302T083000Z.csv")
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	assert.Equal(t, "Aspect,GO ID,Term", lines[0])
	assert.Len(t, lines, 5)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports/go_terms/run", nil)
	req.Header.Set("Accept", "text/csv")
	csvRec := httptest.NewRecorder()
	h.ServeHTTP(csvRec, req)
	assert.Equal(t, "text/csv", csvRec.Header().Get("Content-Type"))

	assert.Equal(t, http.StatusNotAcceptable, serve(h, http.MethodPost, "/api/v1/reports/mgi_gff3/run?format=csv", "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodPost, "/api/v1/reports/go_terms/run", `{"parameters":{"bogus":1}}`).Code)

	h.DB = brokenDB{}
	assert.Equal(t, http.StatusServiceUnavailable, serve(h, http.MethodPost, "/api/v1/reports/go_terms/run", "").Code)
}

func TestHandlerExports(t *testing.T) {
	f := newFixture(t)
	w := NewWorker(f.exporter, 1, 2)
	w.Start()
	defer func() { require.NoError(t, w.Stop(context.Background())) }()
	h := NewHandler(f.catalog, f.db, w, nil)

	rec := serve(h, http.MethodPost, "/api/v1/exports", `{"report":"mrk_list1","formats":["rpt","xlsx"],"requested_by":"curator"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	export := decodeBody(t, rec)["export"].(map[string]any)
	id := export["id"].(string)
	assert.Equal(t, "queued", export["status"])

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := w.Wait(ctx, id)
	require.NoError(t, err)

	rec = serve(h, http.MethodGet, "/api/v1/exports/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	export = decodeBody(t, rec)["export"].(map[string]any)
	assert.Equal(t, "succeeded", export["status"])
	assert.Equal(t, "curator", export["requested_by"])
	assert.Len(t, export["artifacts"].([]any), 2)

	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodPost, "/api/v1/exports", `{"report":"mrk_list1","formats":["png"]}`).Code)
	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodPost, "/api/v1/exports", `{"report":"nope"}`).Code)
	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodPost, "/api/v1/exports", `[`).Code)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/api/v1/exports/missing", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(h, http.MethodGet, "/api/v1/exports", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(h, http.MethodPost, "/api/v1/exports/"+id, "").Code)
}

func TestHandlerWithoutCatalog(t *testing.T) {
	rec := serve(&Handler{}, http.MethodGet, "/api/v1/reports", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
