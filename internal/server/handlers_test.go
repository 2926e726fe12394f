package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/hako/internal/config"
	"github.com/hyperjump/hako/internal/definitions"
	"github.com/hyperjump/hako/internal/embedding"
	"github.com/hyperjump/hako/internal/metrics"
	"github.com/hyperjump/hako/internal/models"
	"github.com/hyperjump/hako/internal/search"
	"github.com/hyperjump/hako/internal/storage"
	"github.com/hyperjump/hako/internal/vector"
	"github.com/hyperjump/hako/internal/vectorstore"
)

const testDims = 16

type mockWatchService struct {
	dirs []string
}

func (m *mockWatchService) Directories() []string {
	return append([]string(nil), m.dirs...)
}

func (m *mockWatchService) AddDirectory(path string, _ bool) error {
	for _, d := range m.dirs {
		if d == path {
			return nil
		}
	}
	m.dirs = append(m.dirs, path)
	return nil
}

func (m *mockWatchService) RemoveDirectory(path string) error {
	for i, d := range m.dirs {
		if d == path {
			m.dirs = append(m.dirs[:i], m.dirs[i+1:]...)
			return nil
		}
	}
	return nil
}

// newTestServer wires a flat cosine store, the hash embedder and an ingester under a temp dir.
func newTestServer(t *testing.T, opts ...Option) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default(dir)
	records, err := storage.NewSQLite(cfg.Store.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	s, err := vectorstore.New(vectorstore.Config{
		PersistDir:      cfg.Store.PersistDir,
		Dimensions:      testDims,
		IndexType:       vector.IndexTypeFlat,
		Metric:          vector.MetricCosine,
		BaseFetchCount:  20,
		FetchMultiplier: 4,
	}, records)
	if err != nil {
		records.Close()
		t.Fatal(err)
	}
	t.Cleanup(func() {
		s.Close()
		records.Close()
	})
	embedder := embedding.NewHashEmbedder(testDims)
	engine := search.NewEngine(s, embedder, 3, 10)
	ingester := definitions.NewIngester(s, embedder, definitions.NewChunker(50, 5))
	return NewServer(engine, ingester, cfg, zap.NewNop(), opts...), dir
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, target, &buf)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

const statusValues = `[
	{"table": "orders", "column": "status", "value": "A", "description": "Active order", "tags": ["open"]},
	{"table": "orders", "column": "status", "value": "C", "description": "Cancelled order", "tags": ["closed"]},
	{"table": "orders", "column": "status", "value": "S", "description": "Shipped order", "tags": ["closed", "delivered"]}
]`

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	w := do(t, srv.Router(), http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("health: %d %s", w.Code, w.Body.String())
	}
}

func TestRecordsLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Router()
	base := "/api/v1/collections/" + models.ValueCollectionName("orders", "status")

	w := do(t, h, http.MethodPost, base+"/records", statusValues)
	if w.Code != http.StatusCreated {
		t.Fatalf("upsert: %d %s", w.Code, w.Body.String())
	}
	var upserted struct {
		Keys []uint64 `json:"keys"`
	}
	if err := json.NewDecoder(w.Body).Decode(&upserted); err != nil {
		t.Fatal(err)
	}
	if len(upserted.Keys) != 3 {
		t.Fatalf("keys: %v", upserted.Keys)
	}

	w = do(t, h, http.MethodPost, base+"/search", map[string]any{"query": "C: Cancelled order", "top": 2})
	if w.Code != http.StatusOK {
		t.Fatalf("search: %d %s", w.Code, w.Body.String())
	}
	var resp models.SearchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Hits) != 2 {
		t.Fatalf("hits: %d", len(resp.Hits))
	}
	if !strings.Contains(resp.Hits[0].Summary, "Cancelled") {
		t.Errorf("best hit = %q", resp.Hits[0].Summary)
	}

	w = do(t, h, http.MethodPost, base+"/search", map[string]any{"query": "order", "keywords": []string{"closed"}, "top": 10})
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Hits) != 2 {
		t.Errorf("keyword filtered hits: %d", len(resp.Hits))
	}

	key := strconv.FormatUint(upserted.Keys[0], 10)
	w = do(t, h, http.MethodGet, base+"/records/"+key, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"value":"A"`) {
		t.Errorf("get: %d %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodDelete, base+"/records/"+key, nil)
	if w.Code != http.StatusOK {
		t.Errorf("delete: %d %s", w.Code, w.Body.String())
	}
	w = do(t, h, http.MethodGet, base+"/records/"+key, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete: %d", w.Code)
	}

	w = do(t, h, http.MethodGet, "/api/v1/collections", nil)
	if !strings.Contains(w.Body.String(), "orders_status_ValueDefinitions") {
		t.Errorf("list collections: %s", w.Body.String())
	}
	w = do(t, h, http.MethodDelete, base, nil)
	if w.Code != http.StatusOK {
		t.Errorf("drop: %d %s", w.Code, w.Body.String())
	}
	w = do(t, h, http.MethodGet, "/api/v1/collections", nil)
	if strings.Contains(w.Body.String(), "orders_status_ValueDefinitions") {
		t.Errorf("collection still listed after drop: %s", w.Body.String())
	}
}

func TestHandlerErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Router()
	values := "/api/v1/collections/" + models.ValueCollectionName("orders", "status")
	if w := do(t, h, http.MethodPost, values+"/records", statusValues); w.Code != http.StatusCreated {
		t.Fatalf("upsert: %d %s", w.Code, w.Body.String())
	}

	tests := []struct {
		name   string
		method string
		target string
		body   any
		want   int
	}{
		{"unsupported collection", http.MethodPost, "/api/v1/collections/people/search", map[string]string{"query": "x"}, http.StatusBadRequest},
		{"missing collection", http.MethodPost, "/api/v1/collections/Notes/search", map[string]string{"query": "x"}, http.StatusNotFound},
		{"empty query", http.MethodPost, values + "/search", map[string]string{}, http.StatusBadRequest},
		{"malformed body", http.MethodPost, values + "/search", "{", http.StatusBadRequest},
		{"wrong dimensions", http.MethodPost, values + "/search", map[string]any{"vector": []float32{1, 2}}, http.StatusBadRequest},
		{"bad key", http.MethodGet, values + "/records/abc", nil, http.StatusBadRequest},
		{"missing record", http.MethodGet, values + "/records/1", nil, http.StatusNotFound},
		{"upsert not an array", http.MethodPost, values + "/records", `{"value": "A"}`, http.StatusBadRequest},
		{"drop reserved", http.MethodDelete, "/api/v1/collections/__sources", nil, http.StatusBadRequest},
		{"ingest missing path", http.MethodPost, "/api/v1/sources", map[string]string{}, http.StatusBadRequest},
		{"ingest unknown path", http.MethodPost, "/api/v1/sources", map[string]string{"path": "/does/not/exist"}, http.StatusNotFound},
		{"remove without path", http.MethodDelete, "/api/v1/sources", nil, http.StatusBadRequest},
		{"watch disabled", http.MethodGet, "/api/v1/watch/directories", nil, http.StatusNotImplemented},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.target, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), `"error"`) {
				t.Errorf("missing error body: %s", w.Body.String())
			}
		})
	}
}

func TestSources(t *testing.T) {
	srv, dir := newTestServer(t)
	h := srv.Router()
	defs := filepath.Join(dir, "defs")
	if err := os.MkdirAll(defs, 0755); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(defs, "orders.yaml")
	content := "values:\n  - {table: orders, column: status, value: A, description: Active}\nschema:\n  - {table: orders, column: status, type: char(1)}\n"
	if err := os.WriteFile(file, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	w := do(t, h, http.MethodPost, "/api/v1/sources", map[string]string{"path": defs})
	if w.Code != http.StatusCreated {
		t.Fatalf("ingest: %d %s", w.Code, w.Body.String())
	}
	var ingested struct {
		Results []definitions.Result `json:"results"`
	}
	if err := json.NewDecoder(w.Body).Decode(&ingested); err != nil {
		t.Fatal(err)
	}
	if len(ingested.Results) != 1 || ingested.Results[0].Values != 1 || ingested.Results[0].Schema != 1 {
		t.Fatalf("results: %+v", ingested.Results)
	}

	w = do(t, h, http.MethodGet, "/api/v1/sources", nil)
	if !strings.Contains(w.Body.String(), "orders.yaml") {
		t.Errorf("sources: %s", w.Body.String())
	}

	w = do(t, h, http.MethodGet, "/api/v1/status", nil)
	var status struct {
		Records int64 `json:"records"`
		Sources int   `json:"sources"`
	}
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.Records != 2 || status.Sources != 1 {
		t.Errorf("status: %+v", status)
	}

	w = do(t, h, http.MethodDelete, "/api/v1/sources?path="+url.QueryEscape(file), nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"removed":2`) {
		t.Errorf("remove: %d %s", w.Code, w.Body.String())
	}
}

func TestHandleStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Router()
	do(t, h, http.MethodPost, "/api/v1/collections/"+models.ValueCollectionName("orders", "status")+"/records", statusValues)

	w := do(t, h, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out struct {
		Collections    []vectorstore.CollectionStats `json:"collections"`
		Records        int64                         `json:"records"`
		DiskUsageBytes int64                         `json:"disk_usage_bytes"`
		Config         map[string]any                `json:"config"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Collections) != 1 || out.Records != 3 {
		t.Errorf("collections=%+v records=%d", out.Collections, out.Records)
	}
	if out.Collections[0].Vectors != 3 || !out.Collections[0].Loaded {
		t.Errorf("collection stats: %+v", out.Collections[0])
	}
	if out.DiskUsageBytes <= 0 {
		t.Errorf("disk_usage_bytes: got %d", out.DiskUsageBytes)
	}
	if out.Config["backend"] != "sqlite" || out.Config["index_type"] != "flat" {
		t.Errorf("config: %v", out.Config)
	}
}

func TestWatchDirectories(t *testing.T) {
	mock := &mockWatchService{}
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	srv, dir := newTestServer(t, WithWatch(mock, cfgPath))
	h := srv.Router()

	w := do(t, h, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": dir})
	if w.Code != http.StatusCreated {
		t.Fatalf("add: %d %s", w.Code, w.Body.String())
	}
	if len(mock.Directories()) != 1 {
		t.Fatalf("expected 1 directory, got %v", mock.Directories())
	}
	saved, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(saved.Ingest.Directories) != 1 || saved.Ingest.Directories[0] != dir {
		t.Errorf("persisted directories: %v", saved.Ingest.Directories)
	}

	w = do(t, h, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": filepath.Join(dir, "nonexistent")})
	if w.Code != http.StatusNotFound {
		t.Errorf("add missing: %d", w.Code)
	}
	file := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	w = do(t, h, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": file})
	if w.Code != http.StatusBadRequest {
		t.Errorf("add file: %d", w.Code)
	}

	w = do(t, h, http.MethodGet, "/api/v1/watch/directories", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), dir) {
		t.Errorf("list: %d %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodDelete, "/api/v1/watch/directories?path="+url.QueryEscape(dir), nil)
	if w.Code != http.StatusOK {
		t.Errorf("remove: %d", w.Code)
	}
	if len(mock.Directories()) != 0 {
		t.Errorf("expected 0 directories, got %v", mock.Directories())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, WithMetrics(metrics.New("test")))
	h := srv.Router()
	do(t, h, http.MethodGet, "/health", nil)

	w := do(t, h, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `test_http_requests_total{method="GET",route="/health",status="200"} 1`) {
		t.Errorf("request counter missing:\n%s", w.Body.String())
	}

	plain, _ := newTestServer(t)
	if w := do(t, plain.Router(), http.MethodGet, "/metrics", nil); w.Code != http.StatusNotFound {
		t.Errorf("metrics without collector: %d", w.Code)
	}
}
